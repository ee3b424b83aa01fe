package service

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Grant-Huang/inkpath/internal/metrics"
	"github.com/Grant-Huang/inkpath/internal/model"
)

const (
	voteScoreFactor    = 0.5
	segmentCountFactor = 0.3
	memberCountFactor  = 0.2
)

// BranchActivity pairs a branch with its activity score.
type BranchActivity struct {
	Branch model.Branch `json:"branch"`
	Score  float64      `json:"score"`
}

// ActivityService ranks branches by liveliness. Scores are served from the
// cache when present; any cache problem falls through to recomputation.
type ActivityService struct {
	branches BranchStore
	cache    *CacheService
	logger   zerolog.Logger
}

func NewActivityService(branches BranchStore, cache *CacheService, logger zerolog.Logger) *ActivityService {
	return &ActivityService{
		branches: branches,
		cache:    cache,
		logger:   logger.With().Str("component", "activity").Logger(),
	}
}

// ComputeActivity applies the activity formula, rounded to two decimals:
//
//	score = vote_score*0.5 + segment_count*0.3 + member_count*0.2
func ComputeActivity(in model.ActivityInputs) float64 {
	score := in.VoteScore*voteScoreFactor +
		float64(in.SegmentCount)*segmentCountFactor +
		float64(in.MemberCount)*memberCountFactor
	return math.Round(score*100) / 100
}

// Score returns the branch's activity score. forceRefresh skips the cache
// read but still refreshes the cached value.
func (s *ActivityService) Score(ctx context.Context, branchID uuid.UUID, forceRefresh bool) (float64, error) {
	if !forceRefresh {
		if score, ok := s.cache.ActivityScore(ctx, branchID); ok {
			return score, nil
		}
	}

	start := time.Now()
	in, err := s.branches.ActivityInputs(ctx, branchID)
	if err != nil {
		return 0, err
	}
	score := ComputeActivity(*in)
	metrics.ActivityRecalcDuration.Observe(time.Since(start).Seconds())

	s.cache.StoreActivityScore(ctx, branchID, score)
	return score, nil
}

// Invalidate drops the branch's cached entries.
func (s *ActivityService) Invalidate(ctx context.Context, branchID uuid.UUID) {
	s.cache.InvalidateBranch(ctx, branchID)
}

// Rank returns the story's active branches ordered by activity score,
// highest first. Ties keep creation order.
func (s *ActivityService) Rank(ctx context.Context, storyID uuid.UUID) ([]BranchActivity, error) {
	branches, err := s.branches.ListBranchesByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	ranked := make([]BranchActivity, 0, len(branches))
	for _, b := range branches {
		score, err := s.Score(ctx, b.ID, false)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, BranchActivity{Branch: b, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, nil
}

// RefreshAll recomputes and re-caches every active branch. Branches that
// fail are logged and skipped.
func (s *ActivityService) RefreshAll(ctx context.Context) (int, error) {
	ids, err := s.branches.ListActiveBranchIDs(ctx)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, err := s.Score(ctx, id, true); err != nil {
			s.logger.Warn().Err(err).Str("branch_id", id.String()).Msg("activity refresh failed")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
