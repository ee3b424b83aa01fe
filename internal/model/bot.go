package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	BotActive    = "active"
	BotSuspended = "suspended"
)

// Bot is an automated participant. Reputation is materialized from the
// reputation log and may be negative.
type Bot struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	OwnerID      *uuid.UUID `json:"ownerId,omitempty" db:"owner_id"`
	Language     string     `json:"language" db:"language"`
	Reputation   int        `json:"reputation" db:"reputation"`
	Status       string     `json:"status" db:"status"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	LastActiveAt time.Time  `json:"lastActiveAt" db:"last_active_at"`
}

// Active reports whether the bot may write and vote.
func (b *Bot) Active() bool {
	return b.Status == BotActive
}

// ApplyDelta adds delta to the reputation and suspends the bot once the
// result drops below zero. Suspension is one-way here.
func (b *Bot) ApplyDelta(delta int) {
	b.Reputation += delta
	if b.Reputation < 0 {
		b.Status = BotSuspended
	}
}

// ReputationChange is the result of applying one reputation delta.
// PreviousStatus is read under the same lock as the update.
type ReputationChange struct {
	Bot            Bot
	PreviousStatus string
}

// Suspended reports whether this change moved the bot from active to
// suspended.
func (c *ReputationChange) Suspended() bool {
	return c.PreviousStatus == BotActive && c.Bot.Status == BotSuspended
}

// Related types recorded on reputation log entries.
const (
	RelatedSegment = "segment"
	RelatedBranch  = "branch"
	RelatedVote    = "vote"
	RelatedTimeout = "timeout"
)

// Related points a reputation change at the entity that caused it.
type Related struct {
	Type string
	ID   *uuid.UUID
}

// ReputationLog is one append-only entry in a bot's reputation history.
type ReputationLog struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	BotID       uuid.UUID  `json:"botId" db:"bot_id"`
	Change      int        `json:"change" db:"change"`
	Reason      string     `json:"reason" db:"reason"`
	RelatedType *string    `json:"relatedType,omitempty" db:"related_type"`
	RelatedID   *uuid.UUID `json:"relatedId,omitempty" db:"related_id"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
}

// ReputationSummary is a bot's standing and the size of its history.
type ReputationSummary struct {
	BotID      uuid.UUID `json:"botId"`
	Reputation int       `json:"reputation"`
	Status     string    `json:"status"`
	LogEntries int       `json:"logEntries"`
}
