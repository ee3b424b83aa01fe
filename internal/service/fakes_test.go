package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Grant-Huang/inkpath/internal/model"
)

// memStore is an in-memory implementation of every store interface. Each
// method holds the lock for its whole body, which gives the same
// atomicity the pgx repositories get from a transaction.
type memStore struct {
	mu          sync.Mutex
	stories     map[uuid.UUID]model.Story
	branches    map[uuid.UUID]model.Branch
	segments    map[uuid.UUID]model.Segment
	memberships map[uuid.UUID][]model.Membership // by branch
	bots        map[uuid.UUID]model.Bot
	repLog      []model.ReputationLog
	votes       []model.Vote

	// errors returned (and consumed) by the next AppendSegment calls
	appendErrs  []error
	appendCalls int
}

func newMemStore() *memStore {
	return &memStore{
		stories:     make(map[uuid.UUID]model.Story),
		branches:    make(map[uuid.UUID]model.Branch),
		segments:    make(map[uuid.UUID]model.Segment),
		memberships: make(map[uuid.UUID][]model.Membership),
		bots:        make(map[uuid.UUID]model.Bot),
	}
}

func (m *memStore) stores() Stores {
	return Stores{Stories: m, Branches: m, Segments: m, Memberships: m, Bots: m, Votes: m}
}

func (m *memStore) CreateStory(_ context.Context, s *model.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stories[s.ID] = *s
	return nil
}

func (m *memStore) FindByStoryID(_ context.Context, id uuid.UUID) (*model.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stories[id]
	if !ok {
		return nil, model.ErrStoryNotFound
	}
	return &s, nil
}

func (m *memStore) CreateBranch(_ context.Context, nb model.NewBranch, now time.Time) (*model.Branch, *model.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := model.Branch{
		ID:              uuid.New(),
		StoryID:         nb.StoryID,
		ParentBranchID:  nb.ParentBranchID,
		ForkAtSegmentID: nb.ForkAtSegmentID,
		Title:           nb.Title,
		Description:     nb.Description,
		CreatorBotID:    nb.CreatorBotID,
		Status:          model.BranchActive,
		CreatedAt:       now,
	}
	m.branches[b.ID] = b
	if nb.CreatorBotID != nil {
		m.joinLocked(*nb.CreatorBotID, b.ID, now)
	}
	var starter *model.Segment
	if nb.StarterContent != "" {
		starter = m.appendLocked(b.ID, nb.CreatorBotID, nb.StarterContent, true, now)
	}
	return &b, starter, nil
}

func (m *memStore) FindByBranchID(_ context.Context, id uuid.UUID) (*model.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.branches[id]
	if !ok {
		return nil, model.ErrBranchNotFound
	}
	return &b, nil
}

func (m *memStore) ListBranchesByStory(_ context.Context, storyID uuid.UUID) ([]model.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Branch
	for _, b := range m.branches {
		if b.StoryID == storyID && b.Status == model.BranchActive {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memStore) ListActiveBranchIDs(_ context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, b := range m.branches {
		if b.Status == model.BranchActive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) UpdateSummary(_ context.Context, id uuid.UUID, summary string) (*model.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.branches[id]
	if !ok {
		return nil, model.ErrBranchNotFound
	}
	b.CurrentSummary = summary
	if n := m.segmentCountLocked(id); n > b.SummaryCoversUpTo {
		b.SummaryCoversUpTo = n
	}
	m.branches[id] = b
	return &b, nil
}

func (m *memStore) ActivityInputs(_ context.Context, id uuid.UUID) (*model.ActivityInputs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.branches[id]; !ok {
		return nil, model.ErrBranchNotFound
	}
	in := model.ActivityInputs{
		SegmentCount: m.segmentCountLocked(id),
		MemberCount:  len(m.memberships[id]),
	}
	for _, v := range m.votes {
		if v.TargetType != model.TargetSegment {
			continue
		}
		if seg, ok := m.segments[v.TargetID]; ok && seg.BranchID == id {
			in.VoteScore += v.Contribution()
		}
	}
	return &in, nil
}

func (m *memStore) AppendSegment(_ context.Context, branchID uuid.UUID, botID *uuid.UUID, content string, isStarter bool, now time.Time) (*model.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++
	if len(m.appendErrs) > 0 {
		err := m.appendErrs[0]
		m.appendErrs = m.appendErrs[1:]
		return nil, err
	}
	if _, ok := m.branches[branchID]; !ok {
		return nil, model.ErrBranchNotFound
	}
	return m.appendLocked(branchID, botID, content, isStarter, now), nil
}

func (m *memStore) appendLocked(branchID uuid.UUID, botID *uuid.UUID, content string, isStarter bool, now time.Time) *model.Segment {
	next := 0
	for _, s := range m.segments {
		if s.BranchID == branchID && s.SequenceOrder > next {
			next = s.SequenceOrder
		}
	}
	seg := model.Segment{
		ID:            uuid.New(),
		BranchID:      branchID,
		BotID:         botID,
		Content:       content,
		SequenceOrder: next + 1,
		IsStarter:     isStarter,
		CreatedAt:     now,
	}
	m.segments[seg.ID] = seg
	if botID != nil {
		if b, ok := m.bots[*botID]; ok {
			b.LastActiveAt = now
			m.bots[*botID] = b
		}
	}
	return &seg
}

func (m *memStore) segmentCountLocked(branchID uuid.UUID) int {
	n := 0
	for _, s := range m.segments {
		if s.BranchID == branchID {
			n++
		}
	}
	return n
}

func (m *memStore) FindBySegmentID(_ context.Context, id uuid.UUID) (*model.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[id]
	if !ok {
		return nil, model.ErrSegmentNotFound
	}
	return &s, nil
}

func (m *memStore) ListSegments(_ context.Context, branchID uuid.UUID, limit, offset int) ([]model.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Segment
	for _, s := range m.segments {
		if s.BranchID == branchID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Join(_ context.Context, botID, branchID uuid.UUID, now time.Time) (*model.Membership, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.branches[branchID]; !ok {
		return nil, false, model.ErrBranchNotFound
	}
	if _, ok := m.bots[botID]; !ok {
		return nil, false, model.ErrBotNotFound
	}
	mem, created := m.joinLocked(botID, branchID, now)
	return &mem, created, nil
}

func (m *memStore) joinLocked(botID, branchID uuid.UUID, now time.Time) (model.Membership, bool) {
	max := 0
	for _, mem := range m.memberships[branchID] {
		if mem.BotID == botID {
			return mem, false
		}
		if mem.JoinOrder > max {
			max = mem.JoinOrder
		}
	}
	mem := model.Membership{BotID: botID, BranchID: branchID, JoinOrder: max + 1, JoinedAt: now}
	m.memberships[branchID] = append(m.memberships[branchID], mem)
	return mem, true
}

func (m *memStore) Leave(_ context.Context, botID, branchID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.branches[branchID]; !ok {
		return false, model.ErrBranchNotFound
	}
	list := m.memberships[branchID]
	for i, mem := range list {
		if mem.BotID == botID {
			m.memberships[branchID] = append(list[:i:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) TurnSnapshot(_ context.Context, branchID uuid.UUID) (*model.TurnSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.branches[branchID]; !ok {
		return nil, model.ErrBranchNotFound
	}
	members := append([]model.Membership(nil), m.memberships[branchID]...)
	sort.Slice(members, func(i, j int) bool { return members[i].JoinOrder < members[j].JoinOrder })
	return &model.TurnSnapshot{Members: members, SegmentCount: m.segmentCountLocked(branchID)}, nil
}

func (m *memStore) PruneIdleMemberships(_ context.Context, idleBefore time.Time) ([]model.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []model.Membership
	for branchID, list := range m.memberships {
		var keep []model.Membership
		for _, mem := range list {
			if b, ok := m.bots[mem.BotID]; ok && b.LastActiveAt.Before(idleBefore) {
				removed = append(removed, mem)
				continue
			}
			keep = append(keep, mem)
		}
		m.memberships[branchID] = keep
	}
	return removed, nil
}

func (m *memStore) CreateBot(_ context.Context, b *model.Bot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[b.ID] = *b
	return nil
}

func (m *memStore) FindByBotID(_ context.Context, id uuid.UUID) (*model.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, model.ErrBotNotFound
	}
	return &b, nil
}

func (m *memStore) ApplyReputation(_ context.Context, botID uuid.UUID, delta int, reason string, related model.Related, now time.Time) (*model.ReputationChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[botID]
	if !ok {
		return nil, model.ErrBotNotFound
	}
	previous := b.Status
	b.ApplyDelta(delta)
	entry := model.ReputationLog{
		ID:        uuid.New(),
		BotID:     botID,
		Change:    delta,
		Reason:    reason,
		RelatedID: related.ID,
		CreatedAt: now,
	}
	if related.Type != "" {
		rt := related.Type
		entry.RelatedType = &rt
	}
	m.repLog = append(m.repLog, entry)
	m.bots[botID] = b
	return &model.ReputationChange{Bot: b, PreviousStatus: previous}, nil
}

func (m *memStore) ListReputationLog(_ context.Context, botID uuid.UUID, limit, offset int) ([]model.ReputationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReputationLog
	for i := len(m.repLog) - 1; i >= 0; i-- {
		if m.repLog[i].BotID == botID {
			out = append(out, m.repLog[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CountReputationLog(_ context.Context, botID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.repLog {
		if e.BotID == botID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListIdleBots(_ context.Context, idleBefore time.Time) ([]model.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Bot
	for _, b := range m.bots {
		if !b.Active() || !b.LastActiveAt.Before(idleBefore) {
			continue
		}
		penalized := false
		for _, e := range m.repLog {
			if e.BotID == b.ID && e.RelatedType != nil && *e.RelatedType == model.RelatedTimeout && !e.CreatedAt.Before(idleBefore) {
				penalized = true
				break
			}
		}
		if !penalized {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) CastVote(_ context.Context, req model.VoteRequest, since, now time.Time, decide func(*model.VoteContext) (float64, error)) (*model.Vote, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vc := &model.VoteContext{Request: req}
	if req.VoterType == model.VoterBot {
		b, ok := m.bots[req.VoterID]
		if !ok {
			return nil, 0, model.ErrBotNotFound
		}
		vc.Bot = &b
	}

	switch req.TargetType {
	case model.TargetSegment:
		seg, ok := m.segments[req.TargetID]
		if !ok {
			return nil, 0, fmt.Errorf("%w: %w", model.ErrInvalidTarget, model.ErrSegmentNotFound)
		}
		vc.TargetBranchID = seg.BranchID
		vc.SegmentAuthor = seg.BotID
	case model.TargetBranch:
		if _, ok := m.branches[req.TargetID]; !ok {
			return nil, 0, fmt.Errorf("%w: %w", model.ErrInvalidTarget, model.ErrBranchNotFound)
		}
		vc.TargetBranchID = req.TargetID
	default:
		return nil, 0, model.ErrInvalidTarget
	}

	if vc.Bot != nil {
		for _, mem := range m.memberships[vc.TargetBranchID] {
			if mem.BotID == req.VoterID {
				vc.IsMember = true
			}
		}
		for _, v := range m.votes {
			if v.VoterID == req.VoterID && v.VoterType == model.VoterBot && !v.CreatedAt.Before(since) {
				vc.RecentVotes++
			}
		}
	}

	weight, err := decide(vc)
	if err != nil {
		return nil, 0, err
	}

	var stored model.Vote
	found := false
	for i, v := range m.votes {
		if v.VoterID == req.VoterID && v.VoterType == req.VoterType && v.TargetType == req.TargetType && v.TargetID == req.TargetID {
			m.votes[i].Value = req.Value
			m.votes[i].WeightAtCast = weight
			m.votes[i].UpdatedAt = now
			stored = m.votes[i]
			found = true
			break
		}
	}
	if !found {
		stored = model.Vote{
			ID:           uuid.New(),
			VoterID:      req.VoterID,
			VoterType:    req.VoterType,
			TargetType:   req.TargetType,
			TargetID:     req.TargetID,
			Value:        req.Value,
			WeightAtCast: weight,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		m.votes = append(m.votes, stored)
	}
	if vc.Bot != nil {
		b := m.bots[req.VoterID]
		b.LastActiveAt = now
		m.bots[req.VoterID] = b
	}
	return &stored, m.scoreLocked(req.TargetType, req.TargetID), nil
}

func (m *memStore) scoreLocked(targetType string, targetID uuid.UUID) float64 {
	var score float64
	for _, v := range m.votes {
		if v.TargetType == targetType && v.TargetID == targetID {
			score += v.Contribution()
		}
	}
	return score
}

func (m *memStore) TargetScore(_ context.Context, targetType string, targetID uuid.UUID) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scoreLocked(targetType, targetID), nil
}

func (m *memStore) VoteSummary(_ context.Context, targetType string, targetID uuid.UUID) (*model.VoteSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := &model.VoteSummary{TargetType: targetType, TargetID: targetID}
	for _, v := range m.votes {
		if v.TargetType != targetType || v.TargetID != targetID {
			continue
		}
		sum.Score += v.Contribution()
		if v.Value > 0 {
			sum.Upvotes++
		} else {
			sum.Downvotes++
		}
		if v.VoterType == model.VoterHuman {
			sum.HumanVotes++
		} else {
			sum.BotVotes++
		}
	}
	return sum, nil
}

func (m *memStore) voteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.votes)
}

// setBot overwrites a bot record directly, for arranging test fixtures.
func (m *memStore) setBot(b model.Bot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[b.ID] = b
}

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink keeps every event it is given.
type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingSink) Notify(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) ofType(typ string) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// harness wires a full Services over a memStore and MemoryCache.
type harness struct {
	store  *memStore
	clock  *fakeClock
	cache  *MemoryCache
	events *recordingSink
	svc    *Services
}

func newHarness(opts Options) *harness {
	h := &harness{
		store:  newMemStore(),
		clock:  newFakeClock(testNow),
		events: &recordingSink{},
	}
	h.cache = NewMemoryCache(h.clock)
	cache := NewCacheService(h.cache, time.Hour, zerolog.Nop())
	h.svc = New(h.store.stores(), cache, h.events, h.clock, opts, zerolog.Nop())
	return h
}
