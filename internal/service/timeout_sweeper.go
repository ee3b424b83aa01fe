package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Grant-Huang/inkpath/internal/model"
)

const (
	DefaultBotIdleTimeout        = time.Hour
	DefaultMembershipIdleTimeout = 2 * time.Hour
	DefaultTimeoutPenalty        = 5
	TimeoutReason                = "timeout"
)

// SweepResult reports what one sweep did.
type SweepResult struct {
	Penalized          int
	Suspended          int
	MembershipsRemoved int
	Errors             int
}

// SweepConfig holds the sweep thresholds. Zero values take the defaults.
type SweepConfig struct {
	Interval              time.Duration
	BotIdleTimeout        time.Duration
	MembershipIdleTimeout time.Duration
	Penalty               int
}

// TimeoutSweeper penalizes idle bots through the reputation service and
// removes stale memberships from writing queues.
type TimeoutSweeper struct {
	bots        BotStore
	memberships MembershipStore
	reputation  *ReputationService
	cache       *CacheService
	clock       Clock
	cfg         SweepConfig
	logger      zerolog.Logger
	stopCh      chan struct{}
}

func NewTimeoutSweeper(bots BotStore, memberships MembershipStore, reputation *ReputationService, cache *CacheService, clock Clock, cfg SweepConfig, logger zerolog.Logger) *TimeoutSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BotIdleTimeout <= 0 {
		cfg.BotIdleTimeout = DefaultBotIdleTimeout
	}
	if cfg.MembershipIdleTimeout <= 0 {
		cfg.MembershipIdleTimeout = DefaultMembershipIdleTimeout
	}
	if cfg.Penalty <= 0 {
		cfg.Penalty = DefaultTimeoutPenalty
	}
	return &TimeoutSweeper{
		bots:        bots,
		memberships: memberships,
		reputation:  reputation,
		cache:       cache,
		clock:       clock,
		cfg:         cfg,
		logger:      logger.With().Str("component", "timeout-sweeper").Logger(),
		stopCh:      make(chan struct{}),
	}
}

// Start runs one sweep immediately, then every interval.
func (w *TimeoutSweeper) Start(ctx context.Context) {
	w.logger.Info().Dur("interval", w.cfg.Interval).Msg("starting")

	w.tick(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			w.logger.Info().Msg("stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info().Msg("stopping (stop signal)")
			return
		}
	}
}

// Stop signals the sweeper to stop.
func (w *TimeoutSweeper) Stop() {
	close(w.stopCh)
}

func (w *TimeoutSweeper) tick(ctx context.Context) {
	start := time.Now()
	res, err := w.Sweep(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("sweep failed")
		return
	}
	w.logger.Info().
		Int("penalized", res.Penalized).
		Int("suspended", res.Suspended).
		Int("memberships_removed", res.MembershipsRemoved).
		Int("errors", res.Errors).
		Dur("elapsed", time.Since(start)).
		Msg("sweep complete")
}

// Sweep removes memberships of long-idle bots, then applies the timeout
// penalty to every active bot idle past BotIdleTimeout. A bot is penalized
// at most once per idle window. Per-bot failures are counted, not returned.
func (w *TimeoutSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := w.clock.Now()

	removed, err := w.memberships.PruneIdleMemberships(ctx, now.Add(-w.cfg.MembershipIdleTimeout))
	if err != nil {
		return res, err
	}
	res.MembershipsRemoved = len(removed)
	touched := make(map[uuid.UUID]struct{})
	for _, m := range removed {
		if _, ok := touched[m.BranchID]; ok {
			continue
		}
		touched[m.BranchID] = struct{}{}
		w.cache.InvalidateBranch(ctx, m.BranchID)
	}

	idle, err := w.bots.ListIdleBots(ctx, now.Add(-w.cfg.BotIdleTimeout))
	if err != nil {
		return res, err
	}
	for _, b := range idle {
		bot, err := w.reputation.Apply(ctx, b.ID, -w.cfg.Penalty, TimeoutReason, model.Related{Type: model.RelatedTimeout})
		if err != nil {
			res.Errors++
			w.logger.Warn().Err(err).Str("bot_id", b.ID.String()).Msg("timeout penalty failed")
			continue
		}
		res.Penalized++
		if !bot.Active() {
			res.Suspended++
		}
	}
	return res, nil
}
