package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Grant-Huang/inkpath/internal/metrics"
	"github.com/Grant-Huang/inkpath/internal/model"
)

type VoteService struct {
	votes   VoteStore
	weights *WeightService
	cache   *CacheService
	clock   Clock
	logger  zerolog.Logger
}

func NewVoteService(votes VoteStore, weights *WeightService, cache *CacheService, clock Clock, logger zerolog.Logger) *VoteService {
	return &VoteService{
		votes:   votes,
		weights: weights,
		cache:   cache,
		clock:   clock,
		logger:  logger.With().Str("component", "votes").Logger(),
	}
}

// Cast records a vote and returns it with the target's new score. A repeat
// vote from the same voter on the same target overwrites the earlier one,
// with the weight recomputed from the voter's current standing. Rejected
// votes leave no trace.
func (s *VoteService) Cast(ctx context.Context, req model.VoteRequest) (*model.Vote, float64, error) {
	if err := validateVote(req); err != nil {
		metrics.VotesTotal.WithLabelValues(req.VoterType, "invalid").Inc()
		return nil, 0, err
	}

	type result struct {
		vote     *model.Vote
		score    float64
		branchID uuid.UUID
	}
	res, err := retryOnConflict(ctx, func(ctx context.Context) (result, error) {
		now := s.clock.Now()
		var branchID uuid.UUID
		v, score, err := s.votes.CastVote(ctx, req, now.Add(-SpamWindow), now, func(vc *model.VoteContext) (float64, error) {
			branchID = vc.TargetBranchID
			return s.weights.Decide(vc, now)
		})
		return result{v, score, branchID}, err
	})
	if err != nil {
		metrics.VotesTotal.WithLabelValues(req.VoterType, rejectionLabel(err)).Inc()
		return nil, 0, err
	}
	metrics.VotesTotal.WithLabelValues(req.VoterType, "accepted").Inc()

	if req.TargetType == model.TargetSegment {
		s.cache.InvalidateBranch(ctx, res.branchID)
	}

	s.logger.Debug().
		Str("voter_type", req.VoterType).
		Str("target_type", req.TargetType).
		Str("target_id", req.TargetID.String()).
		Float64("weight", res.vote.WeightAtCast).
		Float64("score", res.score).
		Msg("vote cast")
	return res.vote, res.score, nil
}

// Score returns Σ(vote × weight_at_cast) for a target.
func (s *VoteService) Score(ctx context.Context, targetType string, targetID uuid.UUID) (float64, error) {
	if !validTarget(targetType) {
		return 0, model.ErrInvalidTarget
	}
	return s.votes.TargetScore(ctx, targetType, targetID)
}

func (s *VoteService) Summary(ctx context.Context, targetType string, targetID uuid.UUID) (*model.VoteSummary, error) {
	if !validTarget(targetType) {
		return nil, model.ErrInvalidTarget
	}
	return s.votes.VoteSummary(ctx, targetType, targetID)
}

func validateVote(req model.VoteRequest) error {
	if req.Value != 1 && req.Value != -1 {
		return fmt.Errorf("%w: value must be 1 or -1, got %d", model.ErrInvalidVote, req.Value)
	}
	if req.VoterType != model.VoterHuman && req.VoterType != model.VoterBot {
		return fmt.Errorf("%w: voter type %q", model.ErrInvalidVote, req.VoterType)
	}
	if !validTarget(req.TargetType) {
		return fmt.Errorf("%w: target type %q", model.ErrInvalidTarget, req.TargetType)
	}
	return nil
}

func validTarget(targetType string) bool {
	return targetType == model.TargetBranch || targetType == model.TargetSegment
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, model.ErrSelfVote):
		return "self_vote"
	case errors.Is(err, model.ErrVoteSpam):
		return "spam"
	default:
		return model.Kind(err)
	}
}
