package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Grant-Huang/inkpath/internal/repository"
)

// ActivityWorker listens for branch_activity notifications and re-warms
// the activity cache in batches. If 50 votes hit one branch within a
// window, the score is recomputed once.
type ActivityWorker struct {
	pool     *pgxpool.Pool
	activity *ActivityService
	window   time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]struct{} // branch IDs waiting for a refresh
}

func NewActivityWorker(pool *pgxpool.Pool, activity *ActivityService, window time.Duration, logger zerolog.Logger) *ActivityWorker {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &ActivityWorker{
		pool:     pool,
		activity: activity,
		window:   window,
		logger:   logger.With().Str("component", "activity-worker").Logger(),
		pending:  make(map[uuid.UUID]struct{}),
	}
}

// Start listens until ctx is cancelled, reconnecting after errors.
func (w *ActivityWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("window", w.window).Msg("starting")

	for {
		if err := w.listenLoop(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info().Msg("stopping (context cancelled)")
				return
			}
			w.logger.Warn().Err(err).Msg("listen error, reconnecting in 5s")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				w.logger.Info().Msg("stopping (context cancelled)")
				return
			}
		}
	}
}

// listenLoop holds a dedicated connection for LISTEN and feeds the pending
// set until the connection fails.
func (w *ActivityWorker) listenLoop(ctx context.Context) error {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+repository.ActivityChannel); err != nil {
		return err
	}
	w.logger.Info().Str("channel", repository.ActivityChannel).Msg("listening")

	flushCtx, flushCancel := context.WithCancel(ctx)
	defer flushCancel()
	go w.flushLoop(flushCtx)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		id, err := uuid.Parse(n.Payload)
		if err != nil {
			w.logger.Warn().Str("payload", n.Payload).Msg("ignoring malformed notification")
			continue
		}
		w.enqueue(id)
	}
}

func (w *ActivityWorker) enqueue(branchID uuid.UUID) {
	w.mu.Lock()
	w.pending[branchID] = struct{}{}
	w.mu.Unlock()
}

func (w *ActivityWorker) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(w.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush(ctx)
		case <-ctx.Done():
			// final flush with a fresh context, bounded
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flush(fctx)
			cancel()
			return
		}
	}
}

// flush drains the pending set and refreshes each branch's cached score.
func (w *ActivityWorker) flush(ctx context.Context) int {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return 0
	}
	batch := w.pending
	w.pending = make(map[uuid.UUID]struct{})
	w.mu.Unlock()

	refreshed := 0
	for id := range batch {
		if _, err := w.activity.Score(ctx, id, true); err != nil {
			w.logger.Warn().Err(err).Str("branch_id", id.String()).Msg("refresh failed")
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		w.logger.Debug().Int("refreshed", refreshed).Int("batch", len(batch)).Msg("batch complete")
	}
	return refreshed
}
