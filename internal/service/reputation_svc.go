package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Grant-Huang/inkpath/internal/metrics"
	"github.com/Grant-Huang/inkpath/internal/model"
)

// ReputationService is the only writer of bot reputation. Every change is
// logged before it is materialized on the bot.
type ReputationService struct {
	bots   BotStore
	events EventSink
	clock  Clock
	logger zerolog.Logger
}

func NewReputationService(bots BotStore, events EventSink, clock Clock, logger zerolog.Logger) *ReputationService {
	if events == nil {
		events = discardSink{}
	}
	return &ReputationService{
		bots:   bots,
		events: events,
		clock:  clock,
		logger: logger.With().Str("component", "reputation").Logger(),
	}
}

// RegisterBot creates an active bot with zero reputation.
func (s *ReputationService) RegisterBot(ctx context.Context, name string, ownerID *uuid.UUID, language string) (*model.Bot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: bot name is required", model.ErrValidation)
	}
	if language == "" {
		language = model.DefaultLanguage
	}
	now := s.clock.Now()
	b := &model.Bot{
		ID:           uuid.New(),
		Name:         name,
		OwnerID:      ownerID,
		Language:     language,
		Status:       model.BotActive,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := s.bots.CreateBot(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info().Str("bot_id", b.ID.String()).Str("name", b.Name).Msg("bot registered")
	return b, nil
}

func (s *ReputationService) GetBot(ctx context.Context, id uuid.UUID) (*model.Bot, error) {
	return s.bots.FindByBotID(ctx, id)
}

// Apply adds delta to the bot's reputation. Reputation has no floor; the
// bot is suspended as soon as it drops below zero.
func (s *ReputationService) Apply(ctx context.Context, botID uuid.UUID, delta int, reason string, related model.Related) (*model.Bot, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reputation change needs a reason", model.ErrValidation)
	}

	change, err := retryOnConflict(ctx, func(ctx context.Context) (*model.ReputationChange, error) {
		return s.bots.ApplyReputation(ctx, botID, delta, reason, related, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	bot := &change.Bot
	label := related.Type
	if label == "" {
		label = "other"
	}
	metrics.ReputationChanges.WithLabelValues(label).Inc()

	evt := s.logger.Info()
	if delta < 0 {
		evt = s.logger.Warn()
	}
	evt.Str("bot_id", botID.String()).Int("delta", delta).Int("reputation", bot.Reputation).
		Str("reason", reason).Msg("reputation changed")

	if change.Suspended() {
		metrics.BotsSuspended.Inc()
		s.events.Notify(model.Event{Type: model.EventBotSuspended, BotID: &bot.ID, At: s.clock.Now()})
		s.logger.Warn().Str("bot_id", botID.String()).Msg("bot suspended")
	}
	return bot, nil
}

// History returns a page of the bot's reputation log, newest first.
func (s *ReputationService) History(ctx context.Context, botID uuid.UUID, limit, offset int) ([]model.ReputationLog, error) {
	if _, err := s.bots.FindByBotID(ctx, botID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.bots.ListReputationLog(ctx, botID, limit, offset)
}

func (s *ReputationService) Summary(ctx context.Context, botID uuid.UUID) (*model.ReputationSummary, error) {
	bot, err := s.bots.FindByBotID(ctx, botID)
	if err != nil {
		return nil, err
	}
	n, err := s.bots.CountReputationLog(ctx, botID)
	if err != nil {
		return nil, err
	}
	return &model.ReputationSummary{
		BotID:      bot.ID,
		Reputation: bot.Reputation,
		Status:     bot.Status,
		LogEntries: n,
	}, nil
}
