package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Grant-Huang/inkpath/internal/model"
)

func TestReputation_SuspendsBelowZero(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()
	bot := h.newBot(t, 0)
	segID := uuid.New()

	got, err := h.svc.Reputation.Apply(ctx, bot.ID, 3, "liked", model.Related{Type: model.RelatedSegment, ID: &segID})
	require.NoError(t, err)
	assert.Equal(t, 3, got.Reputation)
	assert.True(t, got.Active())

	got, err = h.svc.Reputation.Apply(ctx, bot.ID, -3, "retracted", model.Related{})
	require.NoError(t, err)
	assert.Equal(t, 0, got.Reputation)
	assert.True(t, got.Active(), "zero is not below zero")

	got, err = h.svc.Reputation.Apply(ctx, bot.ID, -2, "off topic", model.Related{})
	require.NoError(t, err)
	assert.Equal(t, -2, got.Reputation)
	assert.Equal(t, model.BotSuspended, got.Status)
	require.Len(t, h.events.ofType(model.EventBotSuspended), 1)

	// no floor, and no second suspension event
	got, err = h.svc.Reputation.Apply(ctx, bot.ID, -10, "spam", model.Related{})
	require.NoError(t, err)
	assert.Equal(t, -12, got.Reputation)
	assert.Len(t, h.events.ofType(model.EventBotSuspended), 1)

	// suspension is not lifted by a positive change
	got, err = h.svc.Reputation.Apply(ctx, bot.ID, 50, "appeal", model.Related{})
	require.NoError(t, err)
	assert.Equal(t, 38, got.Reputation)
	assert.Equal(t, model.BotSuspended, got.Status)

	// dropping again while still suspended is not a new suspension
	got, err = h.svc.Reputation.Apply(ctx, bot.ID, -3, "off topic", model.Related{})
	require.NoError(t, err)
	assert.Equal(t, 35, got.Reputation)
	assert.Equal(t, model.BotSuspended, got.Status)
	assert.Len(t, h.events.ofType(model.EventBotSuspended), 1)
}

func TestReputation_RecoveredSuspendedBotNotSuspendedTwice(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()
	bot := h.newBot(t, 0)

	for _, delta := range []int{-2, 50, -3} {
		_, err := h.svc.Reputation.Apply(ctx, bot.ID, delta, "review", model.Related{})
		require.NoError(t, err)
	}

	got, err := h.svc.Reputation.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, got.Reputation)
	assert.Equal(t, model.BotSuspended, got.Status)
	assert.Len(t, h.events.ofType(model.EventBotSuspended), 1)
}

func TestReputation_History(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()
	bot := h.newBot(t, 0)
	segID := uuid.New()

	_, err := h.svc.Reputation.Apply(ctx, bot.ID, 3, "first", model.Related{Type: model.RelatedSegment, ID: &segID})
	require.NoError(t, err)
	_, err = h.svc.Reputation.Apply(ctx, bot.ID, -1, "second", model.Related{})
	require.NoError(t, err)

	log, err := h.svc.Reputation.History(ctx, bot.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "second", log[0].Reason)
	assert.Nil(t, log[0].RelatedType)
	assert.Equal(t, "first", log[1].Reason)
	require.NotNil(t, log[1].RelatedType)
	assert.Equal(t, model.RelatedSegment, *log[1].RelatedType)
	assert.Equal(t, segID, *log[1].RelatedID)

	sum, err := h.svc.Reputation.Summary(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Reputation)
	assert.Equal(t, 2, sum.LogEntries)
	assert.Equal(t, model.BotActive, sum.Status)
}

func TestReputation_Errors(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()
	bot := h.newBot(t, 0)

	_, err := h.svc.Reputation.Apply(ctx, bot.ID, 1, "  ", model.Related{})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = h.svc.Reputation.Apply(ctx, uuid.New(), 1, "ghost", model.Related{})
	assert.ErrorIs(t, err, model.ErrBotNotFound)

	_, err = h.svc.Reputation.History(ctx, uuid.New(), 10, 0)
	assert.ErrorIs(t, err, model.ErrBotNotFound)

	_, err = h.svc.Reputation.RegisterBot(ctx, "", nil, "")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestRegisterBot(t *testing.T) {
	h := newHarness(Options{})
	owner := uuid.New()

	b, err := h.svc.Reputation.RegisterBot(context.Background(), " quill ", &owner, "")
	require.NoError(t, err)
	assert.Equal(t, "quill", b.Name)
	assert.Equal(t, model.DefaultLanguage, b.Language)
	assert.Equal(t, 0, b.Reputation)
	assert.True(t, b.Active())
	assert.Equal(t, testNow, b.CreatedAt)
}
