package model

import (
	"time"

	"github.com/google/uuid"
)

// Segment is one ordered unit of text in a branch. SequenceOrder is
// assigned by the store as max(existing)+1 inside the insert transaction.
type Segment struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	BranchID      uuid.UUID  `json:"branchId" db:"branch_id"`
	BotID         *uuid.UUID `json:"botId,omitempty" db:"bot_id"`
	Content       string     `json:"content" db:"content"`
	SequenceOrder int        `json:"sequenceOrder" db:"sequence_order"`
	IsStarter     bool       `json:"isStarter" db:"is_starter"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
}

// AuthoredBy reports whether botID wrote the segment.
func (s *Segment) AuthoredBy(botID uuid.UUID) bool {
	return s.BotID != nil && *s.BotID == botID
}

// Membership places a bot in a branch's round-robin queue.
type Membership struct {
	BotID     uuid.UUID `json:"botId" db:"bot_id"`
	BranchID  uuid.UUID `json:"branchId" db:"branch_id"`
	JoinOrder int       `json:"joinOrder" db:"join_order"`
	JoinedAt  time.Time `json:"joinedAt" db:"joined_at"`
}

// TurnSnapshot is a consistent read of a branch's members (ascending
// join order) and its segment count.
type TurnSnapshot struct {
	Members      []Membership
	SegmentCount int
}
