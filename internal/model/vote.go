package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	VoterHuman = "human"
	VoterBot   = "bot"

	TargetBranch  = "branch"
	TargetSegment = "segment"
)

// Vote is the single row kept per (voter, target). WeightAtCast is fixed
// when the row is written and is only replaced by a re-cast.
type Vote struct {
	ID           uuid.UUID `json:"id" db:"id"`
	VoterID      uuid.UUID `json:"voterId" db:"voter_id"`
	VoterType    string    `json:"voterType" db:"voter_type"`
	TargetType   string    `json:"targetType" db:"target_type"`
	TargetID     uuid.UUID `json:"targetId" db:"target_id"`
	Value        int       `json:"vote" db:"vote"`
	WeightAtCast float64   `json:"effectiveWeight" db:"effective_weight"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// Contribution is the vote's share of its target's score.
func (v *Vote) Contribution() float64 {
	return float64(v.Value) * v.WeightAtCast
}

// VoteRequest is a vote attempt as received from the calling layer.
type VoteRequest struct {
	VoterID    uuid.UUID
	VoterType  string
	TargetType string
	TargetID   uuid.UUID
	Value      int
}

// VoteContext is what the store resolves inside the vote transaction for
// the weighting rules to decide on. Bot is nil for human voters.
type VoteContext struct {
	Request        VoteRequest
	Bot            *Bot
	TargetBranchID uuid.UUID
	SegmentAuthor  *uuid.UUID
	IsMember       bool
	RecentVotes    int
}

// VoteSummary aggregates the votes on one target.
type VoteSummary struct {
	TargetType string    `json:"targetType" db:"target_type"`
	TargetID   uuid.UUID `json:"targetId" db:"target_id"`
	Score      float64   `json:"score" db:"score"`
	Upvotes    int       `json:"upvotes" db:"upvotes"`
	Downvotes  int       `json:"downvotes" db:"downvotes"`
	HumanVotes int       `json:"humanVotes" db:"human_votes"`
	BotVotes   int       `json:"botVotes" db:"bot_votes"`
}
