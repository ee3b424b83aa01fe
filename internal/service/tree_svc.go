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

// NewStory is the input to CreateStory. Zero values take the defaults.
type NewStory struct {
	Title      string
	Background string
	Language   string
	MinLength  int
	MaxLength  int
	OwnerID    uuid.UUID
	OwnerType  string
}

// TreeService owns the story/branch tree and the append-only segment
// ledger of each branch.
type TreeService struct {
	stories  StoryStore
	branches BranchStore
	segments SegmentStore
	bots     BotStore
	turns    *TurnService
	cache    *CacheService
	events   EventSink
	clock    Clock
	logger   zerolog.Logger

	enforceTurns bool
}

func NewTreeService(stores Stores, turns *TurnService, cache *CacheService, events EventSink, clock Clock, logger zerolog.Logger) *TreeService {
	if events == nil {
		events = discardSink{}
	}
	return &TreeService{
		stories:  stores.Stories,
		branches: stores.Branches,
		segments: stores.Segments,
		bots:     stores.Bots,
		turns:    turns,
		cache:    cache,
		events:   events,
		clock:    clock,
		logger:   logger.With().Str("component", "tree").Logger(),
	}
}

// EnforceTurnOrder makes AppendSegment reject bots that are not the next
// writer. Off by default: the rotation then only decides who is notified.
func (s *TreeService) EnforceTurnOrder(on bool) {
	s.enforceTurns = on
}

func (s *TreeService) CreateStory(ctx context.Context, ns NewStory) (*model.Story, error) {
	st := &model.Story{
		ID:         uuid.New(),
		Title:      strings.TrimSpace(ns.Title),
		Background: ns.Background,
		Language:   ns.Language,
		MinLength:  ns.MinLength,
		MaxLength:  ns.MaxLength,
		OwnerID:    ns.OwnerID,
		OwnerType:  ns.OwnerType,
		CreatedAt:  s.clock.Now(),
	}
	if st.Language == "" {
		st.Language = model.DefaultLanguage
	}
	if st.MinLength == 0 {
		st.MinLength = model.DefaultMinLength
	}
	if st.MaxLength == 0 {
		st.MaxLength = model.DefaultMaxLength
	}
	if st.OwnerType == "" {
		st.OwnerType = model.VoterHuman
	}

	switch {
	case st.Title == "":
		return nil, fmt.Errorf("%w: title is required", model.ErrInvalidStory)
	case st.MinLength < 1 || st.MinLength > st.MaxLength:
		return nil, fmt.Errorf("%w: length bounds [%d, %d]", model.ErrInvalidStory, st.MinLength, st.MaxLength)
	case st.OwnerType != model.VoterHuman && st.OwnerType != model.VoterBot:
		return nil, fmt.Errorf("%w: owner type %q", model.ErrInvalidStory, st.OwnerType)
	}

	if err := s.stories.CreateStory(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Info().Str("story_id", st.ID.String()).Str("language", st.Language).Msg("story created")
	return st, nil
}

func (s *TreeService) GetStory(ctx context.Context, id uuid.UUID) (*model.Story, error) {
	return s.stories.FindByStoryID(ctx, id)
}

func (s *TreeService) GetBranch(ctx context.Context, id uuid.UUID) (*model.Branch, error) {
	return s.branches.FindByBranchID(ctx, id)
}

// Fork creates a branch of parentBranchID that diverges after
// forkAtSegmentID. The fork point must belong to the parent.
func (s *TreeService) Fork(ctx context.Context, storyID, parentBranchID, forkAtSegmentID uuid.UUID, title string) (*model.Branch, error) {
	b, _, err := s.CreateBranch(ctx, model.NewBranch{
		StoryID:         storyID,
		ParentBranchID:  &parentBranchID,
		ForkAtSegmentID: &forkAtSegmentID,
		Title:           title,
	})
	return b, err
}

// CreateBranch validates nb and creates the branch. A creator bot joins it
// and, when StarterContent is set, writes segment #1 without the length
// check, all in the same transaction.
func (s *TreeService) CreateBranch(ctx context.Context, nb model.NewBranch) (*model.Branch, *model.Segment, error) {
	nb.Title = strings.TrimSpace(nb.Title)
	if nb.Title == "" {
		return nil, nil, fmt.Errorf("%w: branch title is required", model.ErrValidation)
	}
	if _, err := s.stories.FindByStoryID(ctx, nb.StoryID); err != nil {
		return nil, nil, err
	}
	if err := s.checkForkPoint(ctx, nb); err != nil {
		return nil, nil, err
	}
	if nb.CreatorBotID != nil {
		if _, err := s.activeBot(ctx, *nb.CreatorBotID); err != nil {
			return nil, nil, err
		}
	}

	type created struct {
		b   *model.Branch
		seg *model.Segment
	}
	res, err := retryOnConflict(ctx, func(ctx context.Context) (created, error) {
		b, seg, err := s.branches.CreateBranch(ctx, nb, s.clock.Now())
		return created{b, seg}, err
	})
	if err != nil {
		return nil, nil, err
	}

	if res.seg != nil {
		metrics.SegmentsAppended.WithLabelValues("starter").Inc()
	}
	s.events.Notify(model.Event{
		Type:     model.EventBranchCreated,
		StoryID:  res.b.StoryID,
		BranchID: res.b.ID,
		BotID:    nb.CreatorBotID,
		At:       res.b.CreatedAt,
	})
	s.logger.Info().Str("branch_id", res.b.ID.String()).Str("story_id", res.b.StoryID.String()).
		Bool("root", res.b.IsRoot()).Msg("branch created")
	return res.b, res.seg, nil
}

func (s *TreeService) checkForkPoint(ctx context.Context, nb model.NewBranch) error {
	if nb.ParentBranchID == nil {
		if nb.ForkAtSegmentID != nil {
			return fmt.Errorf("%w: fork point given without a parent branch", model.ErrInvalidForkPoint)
		}
		return nil
	}

	parent, err := s.branches.FindByBranchID(ctx, *nb.ParentBranchID)
	if err != nil {
		return err
	}
	if parent.StoryID != nb.StoryID {
		return fmt.Errorf("%w: parent branch belongs to another story", model.ErrInvalidForkPoint)
	}
	if nb.ForkAtSegmentID == nil {
		return nil
	}

	seg, err := s.segments.FindBySegmentID(ctx, *nb.ForkAtSegmentID)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidForkPoint, err)
	}
	if seg.BranchID != parent.ID {
		return model.ErrInvalidForkPoint
	}
	return nil
}

func (s *TreeService) activeBot(ctx context.Context, id uuid.UUID) (*model.Bot, error) {
	bot, err := s.bots.FindByBotID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !bot.Active() {
		return nil, model.ErrBotSuspended
	}
	return bot, nil
}

// AppendSegment adds content to the end of a branch. Content length must
// fall within the story's bounds unless isStarter is set. author is nil
// for human or anonymous writes.
func (s *TreeService) AppendSegment(ctx context.Context, branchID uuid.UUID, author *uuid.UUID, content string, isStarter bool) (*model.Segment, error) {
	branch, err := s.branches.FindByBranchID(ctx, branchID)
	if err != nil {
		return nil, err
	}
	story, err := s.stories.FindByStoryID(ctx, branch.StoryID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty content", model.ErrLengthViolation)
	}
	if !isStarter {
		n := CountLength(content, story.Language)
		if n < story.MinLength || n > story.MaxLength {
			return nil, fmt.Errorf("%w: %d not in [%d, %d]", model.ErrLengthViolation, n, story.MinLength, story.MaxLength)
		}
	}

	if author != nil {
		if _, err := s.activeBot(ctx, *author); err != nil {
			return nil, err
		}
		if s.enforceTurns {
			if err := s.turns.Authorize(ctx, branchID, *author); err != nil {
				return nil, err
			}
		}
	}

	seg, err := retryOnConflict(ctx, func(ctx context.Context) (*model.Segment, error) {
		return s.segments.AppendSegment(ctx, branchID, author, content, isStarter, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}

	kind := "regular"
	if isStarter {
		kind = "starter"
	}
	metrics.SegmentsAppended.WithLabelValues(kind).Inc()
	s.cache.InvalidateBranch(ctx, branchID)

	s.events.Notify(model.Event{
		Type:      model.EventSegmentAdded,
		StoryID:   story.ID,
		BranchID:  branchID,
		BotID:     author,
		SegmentID: &seg.ID,
		At:        seg.CreatedAt,
	})
	s.notifyNextWriter(ctx, story.ID, branchID)

	return seg, nil
}

// notifyNextWriter tells the next bot in the rotation that it may write.
// Failures only cost the notification.
func (s *TreeService) notifyNextWriter(ctx context.Context, storyID, branchID uuid.UUID) {
	next, ok, err := s.turns.NextWriter(ctx, branchID)
	if err != nil {
		s.logger.Warn().Err(err).Str("branch_id", branchID.String()).Msg("next writer lookup failed")
		return
	}
	if !ok {
		return
	}
	s.events.Notify(model.Event{
		Type:     model.EventTurnNext,
		StoryID:  storyID,
		BranchID: branchID,
		BotID:    &next,
		At:       s.clock.Now(),
	})
}

// Segments lists a page of the branch in sequence order.
func (s *TreeService) Segments(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]model.Segment, error) {
	if _, err := s.branches.FindByBranchID(ctx, branchID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.segments.ListSegments(ctx, branchID, limit, offset)
}

// UpdateSummary stores the summarizer's text for a branch.
func (s *TreeService) UpdateSummary(ctx context.Context, branchID uuid.UUID, summary string) (*model.Branch, error) {
	b, err := s.branches.UpdateSummary(ctx, branchID, summary)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateBranch(ctx, branchID)
	return b, nil
}

// Tree returns the story's fork tree, one root per main-line branch.
func (s *TreeService) Tree(ctx context.Context, storyID uuid.UUID) ([]*model.BranchNode, error) {
	if _, err := s.stories.FindByStoryID(ctx, storyID); err != nil {
		return nil, err
	}
	branches, err := s.branches.ListBranchesByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	return BuildTree(branches), nil
}

// BuildTree assembles branches into a forest. A branch whose parent is not
// in the list is treated as a root. A branch reached a second time is
// emitted as a terminal node with Cycle set, and branches only reachable
// through a cycle are still emitted.
func BuildTree(branches []model.Branch) []*model.BranchNode {
	byID := make(map[uuid.UUID]model.Branch, len(branches))
	for _, b := range branches {
		byID[b.ID] = b
	}

	children := make(map[uuid.UUID][]uuid.UUID)
	var roots []uuid.UUID
	for _, b := range branches {
		if b.ParentBranchID != nil {
			if _, ok := byID[*b.ParentBranchID]; ok {
				children[*b.ParentBranchID] = append(children[*b.ParentBranchID], b.ID)
				continue
			}
		}
		roots = append(roots, b.ID)
	}

	visited := make(map[uuid.UUID]bool, len(branches))
	var walk func(id uuid.UUID) *model.BranchNode
	walk = func(id uuid.UUID) *model.BranchNode {
		node := &model.BranchNode{Branch: byID[id]}
		if visited[id] {
			node.Cycle = true
			return node
		}
		visited[id] = true
		for _, child := range children[id] {
			node.Children = append(node.Children, walk(child))
		}
		return node
	}

	forest := make([]*model.BranchNode, 0, len(roots))
	for _, id := range roots {
		forest = append(forest, walk(id))
	}
	for _, b := range branches {
		if !visited[b.ID] {
			forest = append(forest, walk(b.ID))
		}
	}
	return forest
}
