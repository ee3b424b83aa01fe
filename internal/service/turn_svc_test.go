package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Grant-Huang/inkpath/internal/model"
)

func TestNextWriterIndex(t *testing.T) {
	tests := []struct {
		members, segments int
		want              int
		ok                bool
	}{
		{0, 0, 0, false},
		{0, 7, 0, false},
		{3, 0, 0, true},
		{3, 1, 1, true},
		{3, 2, 2, true},
		{3, 3, 0, true},
		{3, 4, 1, true},
		{1, 9, 0, true},
		{2, 5, 1, true},
	}
	for _, tt := range tests {
		idx, ok := NextWriterIndex(tt.members, tt.segments)
		if ok != tt.ok || (ok && idx != tt.want) {
			t.Errorf("NextWriterIndex(%d, %d) = (%d, %v), want (%d, %v)",
				tt.members, tt.segments, idx, ok, tt.want, tt.ok)
		}
	}
}

func TestTurns_RoundRobin(t *testing.T) {
	h := newHarness(Options{EnforceTurnOrder: true})
	ctx := context.Background()
	st := h.newStory(t)
	a, b, c := h.newBot(t, 0), h.newBot(t, 0), h.newBot(t, 0)

	br, _ := h.rootBranch(t, st.ID, &a.ID, "Dawn.")
	for _, bot := range []*model.Bot{b, c} {
		_, err := h.svc.Turns.Join(ctx, bot.ID, br.ID)
		require.NoError(t, err)
	}

	// the starter counts as a's turn
	order := []*model.Bot{b, c, a, b, c}
	for i, want := range order {
		next, ok, err := h.svc.Turns.NextWriter(ctx, br.ID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want.ID, next, "turn %d", i)

		_, err = h.svc.Tree.AppendSegment(ctx, br.ID, &want.ID, words(4), false)
		require.NoError(t, err, "turn %d", i)
	}

	_, err := h.svc.Tree.AppendSegment(ctx, br.ID, &c.ID, words(4), false)
	assert.ErrorIs(t, err, model.ErrNotYourTurn)
}

func TestTurns_AdvisoryByDefault(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()
	st := h.newStory(t)
	a, b := h.newBot(t, 0), h.newBot(t, 0)
	br, _ := h.rootBranch(t, st.ID, &a.ID, "")
	_, err := h.svc.Turns.Join(ctx, b.ID, br.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := h.svc.Tree.AppendSegment(ctx, br.ID, &a.ID, words(4), false)
		require.NoError(t, err)
	}
}

func TestTurns_NoEligibleWriter(t *testing.T) {
	h := newHarness(Options{EnforceTurnOrder: true})
	ctx := context.Background()
	st := h.newStory(t)
	bot := h.newBot(t, 0)
	br, _ := h.rootBranch(t, st.ID, nil, "")

	_, ok, err := h.svc.Turns.NextWriter(ctx, br.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.svc.Tree.AppendSegment(ctx, br.ID, &bot.ID, words(4), false)
	assert.ErrorIs(t, err, model.ErrNoEligibleWriter)

	// human writes are not part of the rotation
	_, err = h.svc.Tree.AppendSegment(ctx, br.ID, nil, words(4), false)
	assert.NoError(t, err)
}

func TestTurns_LeaveRekeys(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()
	st := h.newStory(t)
	a, b, c := h.newBot(t, 0), h.newBot(t, 0), h.newBot(t, 0)
	br, _ := h.rootBranch(t, st.ID, &a.ID, "")
	for _, bot := range []*model.Bot{b, c} {
		_, err := h.svc.Turns.Join(ctx, bot.ID, br.ID)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := h.svc.Tree.AppendSegment(ctx, br.ID, nil, words(4), false)
		require.NoError(t, err)
	}

	next, _, err := h.svc.Turns.NextWriter(ctx, br.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, next)

	removed, err := h.svc.Turns.Leave(ctx, b.ID, br.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	// two members, two segments: index ((2-1) mod 2 + 1) mod 2 = 0
	next, _, err = h.svc.Turns.NextWriter(ctx, br.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, next)

	members, err := h.svc.Turns.Members(ctx, br.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, 1, members[0].JoinOrder)
	assert.Equal(t, 3, members[1].JoinOrder)

	removed, err = h.svc.Turns.Leave(ctx, b.ID, br.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestTurns_JoinIdempotent(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()
	st := h.newStory(t)
	bot := h.newBot(t, 0)
	br, _ := h.rootBranch(t, st.ID, nil, "")

	first, err := h.svc.Turns.Join(ctx, bot.ID, br.ID)
	require.NoError(t, err)
	h.clock.Advance(5 * time.Minute)
	again, err := h.svc.Turns.Join(ctx, bot.ID, br.ID)
	require.NoError(t, err)

	assert.Equal(t, first.JoinOrder, again.JoinOrder)
	assert.Equal(t, first.JoinedAt, again.JoinedAt)

	members, err := h.svc.Turns.Members(ctx, br.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestTurns_JoinErrors(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()
	st := h.newStory(t)
	br, _ := h.rootBranch(t, st.ID, nil, "")

	_, err := h.svc.Turns.Join(ctx, uuid.New(), br.ID)
	assert.ErrorIs(t, err, model.ErrBotNotFound)

	bot := h.newBot(t, 0)
	_, err = h.svc.Turns.Join(ctx, bot.ID, uuid.New())
	assert.ErrorIs(t, err, model.ErrBranchNotFound)
}
