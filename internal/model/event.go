package model

import (
	"time"

	"github.com/google/uuid"
)

// Event types published to the notification exchange.
const (
	EventBranchCreated = "branch.created"
	EventSegmentAdded  = "segment.appended"
	EventTurnNext      = "turn.next"
	EventBotSuspended  = "bot.suspended"
)

// Event is a fire-and-forget domain notification.
type Event struct {
	Type      string     `json:"type"`
	StoryID   uuid.UUID  `json:"storyId"`
	BranchID  uuid.UUID  `json:"branchId"`
	BotID     *uuid.UUID `json:"botId,omitempty"`
	SegmentID *uuid.UUID `json:"segmentId,omitempty"`
	At        time.Time  `json:"at"`
}
