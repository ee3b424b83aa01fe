package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Grant-Huang/inkpath/internal/model"
)

// The store interfaces below are satisfied by the pgx repositories in
// internal/repository. Every mutating method runs as one transaction.

type StoryStore interface {
	CreateStory(ctx context.Context, s *model.Story) error
	FindByStoryID(ctx context.Context, id uuid.UUID) (*model.Story, error)
}

type BranchStore interface {
	CreateBranch(ctx context.Context, nb model.NewBranch, now time.Time) (*model.Branch, *model.Segment, error)
	FindByBranchID(ctx context.Context, id uuid.UUID) (*model.Branch, error)
	ListBranchesByStory(ctx context.Context, storyID uuid.UUID) ([]model.Branch, error)
	ListActiveBranchIDs(ctx context.Context) ([]uuid.UUID, error)
	UpdateSummary(ctx context.Context, id uuid.UUID, summary string) (*model.Branch, error)
	ActivityInputs(ctx context.Context, id uuid.UUID) (*model.ActivityInputs, error)
}

type SegmentStore interface {
	AppendSegment(ctx context.Context, branchID uuid.UUID, botID *uuid.UUID, content string, isStarter bool, now time.Time) (*model.Segment, error)
	FindBySegmentID(ctx context.Context, id uuid.UUID) (*model.Segment, error)
	ListSegments(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]model.Segment, error)
}

type MembershipStore interface {
	Join(ctx context.Context, botID, branchID uuid.UUID, now time.Time) (*model.Membership, bool, error)
	Leave(ctx context.Context, botID, branchID uuid.UUID) (bool, error)
	TurnSnapshot(ctx context.Context, branchID uuid.UUID) (*model.TurnSnapshot, error)
	PruneIdleMemberships(ctx context.Context, idleBefore time.Time) ([]model.Membership, error)
}

type BotStore interface {
	CreateBot(ctx context.Context, b *model.Bot) error
	FindByBotID(ctx context.Context, id uuid.UUID) (*model.Bot, error)
	ApplyReputation(ctx context.Context, botID uuid.UUID, delta int, reason string, related model.Related, now time.Time) (*model.ReputationChange, error)
	ListReputationLog(ctx context.Context, botID uuid.UUID, limit, offset int) ([]model.ReputationLog, error)
	CountReputationLog(ctx context.Context, botID uuid.UUID) (int, error)
	ListIdleBots(ctx context.Context, idleBefore time.Time) ([]model.Bot, error)
}

type VoteStore interface {
	CastVote(ctx context.Context, req model.VoteRequest, since, now time.Time, decide func(*model.VoteContext) (float64, error)) (*model.Vote, float64, error)
	TargetScore(ctx context.Context, targetType string, targetID uuid.UUID) (float64, error)
	VoteSummary(ctx context.Context, targetType string, targetID uuid.UUID) (*model.VoteSummary, error)
}

// Stores groups the stores a Services set is built from.
type Stores struct {
	Stories     StoryStore
	Branches    BranchStore
	Segments    SegmentStore
	Memberships MembershipStore
	Bots        BotStore
	Votes       VoteStore
}
