package service

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Grant-Huang/inkpath/internal/repository"
)

// Services is the core API handed to the calling layer.
type Services struct {
	Tree       *TreeService
	Turns      *TurnService
	Votes      *VoteService
	Reputation *ReputationService
	Activity   *ActivityService
	Sweeper    *TimeoutSweeper
	Cache      *CacheService
}

// Options tune the assembled core.
type Options struct {
	EnforceTurnOrder bool
	Sweep            SweepConfig
}

// New wires the services over stores. events may be nil.
func New(stores Stores, cache *CacheService, events EventSink, clock Clock, opts Options, logger zerolog.Logger) *Services {
	if clock == nil {
		clock = SystemClock{}
	}
	if cache == nil {
		cache = NewCacheService(nil, 0, logger)
	}
	if events == nil {
		events = discardSink{}
	}

	turns := NewTurnService(stores.Memberships, cache, clock, logger)
	tree := NewTreeService(stores, turns, cache, events, clock, logger)
	tree.EnforceTurnOrder(opts.EnforceTurnOrder)
	reputation := NewReputationService(stores.Bots, events, clock, logger)

	return &Services{
		Tree:       tree,
		Turns:      turns,
		Votes:      NewVoteService(stores.Votes, NewWeightService(), cache, clock, logger),
		Reputation: reputation,
		Activity:   NewActivityService(stores.Branches, cache, logger),
		Sweeper:    NewTimeoutSweeper(stores.Bots, stores.Memberships, reputation, cache, clock, opts.Sweep, logger),
		Cache:      cache,
	}
}

// PostgresStores returns the pgx-backed stores over pool.
func PostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Stories:     repository.NewStoryRepo(pool),
		Branches:    repository.NewBranchRepo(pool),
		Segments:    repository.NewSegmentRepo(pool),
		Memberships: repository.NewMembershipRepo(pool),
		Bots:        repository.NewBotRepo(pool),
		Votes:       repository.NewVoteRepo(pool),
	}
}
