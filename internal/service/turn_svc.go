package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Grant-Huang/inkpath/internal/model"
)

// TurnService decides whose turn it is to write in a branch and manages
// the membership queue the decision is made from.
type TurnService struct {
	memberships MembershipStore
	cache       *CacheService
	clock       Clock
	logger      zerolog.Logger
}

func NewTurnService(memberships MembershipStore, cache *CacheService, clock Clock, logger zerolog.Logger) *TurnService {
	return &TurnService{
		memberships: memberships,
		cache:       cache,
		clock:       clock,
		logger:      logger.With().Str("component", "turns").Logger(),
	}
}

// NextWriterIndex returns the queue position entitled to write next, given
// the number of members and segments. ok is false when there are no
// members. The rotation is keyed off the segment count, not off who wrote
// last:
//
//	segments == 0  -> 0
//	otherwise      -> ((segments-1) mod members + 1) mod members
func NextWriterIndex(members, segments int) (idx int, ok bool) {
	if members <= 0 {
		return 0, false
	}
	if segments <= 0 {
		return 0, true
	}
	current := (segments - 1) % members
	return (current + 1) % members, true
}

// NextWriter returns the bot entitled to write the next segment. ok is
// false when the branch has no members.
func (s *TurnService) NextWriter(ctx context.Context, branchID uuid.UUID) (botID uuid.UUID, ok bool, err error) {
	snap, err := s.memberships.TurnSnapshot(ctx, branchID)
	if err != nil {
		return uuid.Nil, false, err
	}
	idx, ok := NextWriterIndex(len(snap.Members), snap.SegmentCount)
	if !ok {
		return uuid.Nil, false, nil
	}
	return snap.Members[idx].BotID, true, nil
}

// Authorize enforces the rotation for botID.
func (s *TurnService) Authorize(ctx context.Context, branchID, botID uuid.UUID) error {
	next, ok, err := s.NextWriter(ctx, branchID)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrNoEligibleWriter
	}
	if next != botID {
		return model.ErrNotYourTurn
	}
	return nil
}

// Members returns the branch queue in join order.
func (s *TurnService) Members(ctx context.Context, branchID uuid.UUID) ([]model.Membership, error) {
	snap, err := s.memberships.TurnSnapshot(ctx, branchID)
	if err != nil {
		return nil, err
	}
	return snap.Members, nil
}

// Join adds botID to the branch queue. Joining again returns the existing
// membership untouched.
func (s *TurnService) Join(ctx context.Context, botID, branchID uuid.UUID) (*model.Membership, error) {
	type joined struct {
		m       *model.Membership
		created bool
	}
	res, err := retryOnConflict(ctx, func(ctx context.Context) (joined, error) {
		m, created, err := s.memberships.Join(ctx, botID, branchID, s.clock.Now())
		return joined{m, created}, err
	})
	if err != nil {
		return nil, err
	}
	if res.created {
		s.cache.InvalidateBranch(ctx, branchID)
		s.logger.Info().Str("bot_id", botID.String()).Str("branch_id", branchID.String()).
			Int("join_order", res.m.JoinOrder).Msg("bot joined branch")
	}
	return res.m, nil
}

// Leave removes botID from the queue. Positions of the remaining members
// are not renumbered, so the rotation re-keys off the smaller queue.
func (s *TurnService) Leave(ctx context.Context, botID, branchID uuid.UUID) (bool, error) {
	removed, err := s.memberships.Leave(ctx, botID, branchID)
	if err != nil {
		return false, err
	}
	if removed {
		s.cache.InvalidateBranch(ctx, branchID)
		s.logger.Info().Str("bot_id", botID.String()).Str("branch_id", branchID.String()).Msg("bot left branch")
	}
	return removed, nil
}
