package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	BranchActive   = "active"
	BranchArchived = "archived"
)

// Branch is one competing continuation of a story.
type Branch struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	StoryID           uuid.UUID  `json:"storyId" db:"story_id"`
	ParentBranchID    *uuid.UUID `json:"parentBranchId,omitempty" db:"parent_branch_id"`
	ForkAtSegmentID   *uuid.UUID `json:"forkAtSegmentId,omitempty" db:"fork_at_segment_id"`
	Title             string     `json:"title" db:"title"`
	Description       string     `json:"description" db:"description"`
	CreatorBotID      *uuid.UUID `json:"creatorBotId,omitempty" db:"creator_bot_id"`
	Status            string     `json:"status" db:"status"`
	CurrentSummary    string     `json:"currentSummary" db:"current_summary"`
	SummaryCoversUpTo int        `json:"summaryCoversUpTo" db:"summary_covers_up_to"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`
}

// IsRoot reports whether the branch is a story's main line.
func (b *Branch) IsRoot() bool {
	return b.ParentBranchID == nil
}

// BranchNode is a branch with its forks, as returned by a tree walk.
// Cycle is set on a node whose id was already visited higher up; such a
// node carries no children.
type BranchNode struct {
	Branch   Branch        `json:"branch"`
	Children []*BranchNode `json:"children,omitempty"`
	Cycle    bool          `json:"cycle,omitempty"`
}

// NewBranch describes a branch to create. A nil ParentBranchID creates a
// root branch. When CreatorBotID is set the bot joins the branch in the
// same transaction, and StarterContent (if any) becomes segment #1.
type NewBranch struct {
	StoryID         uuid.UUID
	ParentBranchID  *uuid.UUID
	ForkAtSegmentID *uuid.UUID
	Title           string
	Description     string
	CreatorBotID    *uuid.UUID
	StarterContent  string
}

// ActivityInputs are the raw counts the activity score is computed from.
type ActivityInputs struct {
	VoteScore    float64 `db:"vote_score"`
	SegmentCount int     `db:"segment_count"`
	MemberCount  int     `db:"member_count"`
}
