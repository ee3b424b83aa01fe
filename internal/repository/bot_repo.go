package repository

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Grant-Huang/inkpath/internal/model"
)

const botColumns = `id, name, owner_id, language, reputation, status, created_at, last_active_at`

type BotRepo struct {
	pool *pgxpool.Pool
}

func NewBotRepo(pool *pgxpool.Pool) *BotRepo {
	return &BotRepo{pool: pool}
}

func (r *BotRepo) CreateBot(ctx context.Context, b *model.Bot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bots (id, name, owner_id, language, reputation, status, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.Name, b.OwnerID, b.Language, b.Reputation, b.Status, b.CreatedAt, b.LastActiveAt)
	return mapError("create bot", err, nil)
}

func (r *BotRepo) FindByBotID(ctx context.Context, id uuid.UUID) (*model.Bot, error) {
	var b model.Bot
	err := pgxscan.Get(ctx, r.pool, &b, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	if err != nil {
		return nil, mapError("find bot", err, model.ErrBotNotFound)
	}
	return &b, nil
}

// ApplyReputation appends a log entry and updates the materialized
// reputation and status in one transaction.
func (r *BotRepo) ApplyReputation(ctx context.Context, botID uuid.UUID, delta int, reason string, related model.Related, now time.Time) (*model.ReputationChange, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	bot, err := lockBot(ctx, tx, botID)
	if err != nil {
		return nil, err
	}
	previous := bot.Status
	bot.ApplyDelta(delta)

	var relatedType *string
	if related.Type != "" {
		relatedType = &related.Type
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO bot_reputation_log (id, bot_id, change, reason, related_type, related_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), botID, delta, reason, relatedType, related.ID, now)
	if err != nil {
		return nil, mapError("append reputation log", err, nil)
	}

	_, err = tx.Exec(ctx, `UPDATE bots SET reputation = $2, status = $3 WHERE id = $1`,
		botID, bot.Reputation, bot.Status)
	if err != nil {
		return nil, mapError("update reputation", err, nil)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapError("apply reputation", err, nil)
	}
	return &model.ReputationChange{Bot: *bot, PreviousStatus: previous}, nil
}

// ListReputationLog returns the bot's history, newest first.
func (r *BotRepo) ListReputationLog(ctx context.Context, botID uuid.UUID, limit, offset int) ([]model.ReputationLog, error) {
	var logs []model.ReputationLog
	err := pgxscan.Select(ctx, r.pool, &logs, `
		SELECT id, bot_id, change, reason, related_type, related_id, created_at
		FROM bot_reputation_log
		WHERE bot_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, botID, limit, offset)
	if err != nil {
		return nil, mapError("list reputation log", err, nil)
	}
	return logs, nil
}

func (r *BotRepo) CountReputationLog(ctx context.Context, botID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bot_reputation_log WHERE bot_id = $1`, botID).Scan(&n)
	return n, mapError("count reputation log", err, nil)
}

// ListIdleBots returns active bots that have not acted since idleBefore and
// have not already been penalized for timeout since then.
func (r *BotRepo) ListIdleBots(ctx context.Context, idleBefore time.Time) ([]model.Bot, error) {
	var bots []model.Bot
	err := pgxscan.Select(ctx, r.pool, &bots, `
		SELECT `+botColumns+`
		FROM bots b
		WHERE b.status = 'active' AND b.last_active_at < $1
		  AND NOT EXISTS (
		      SELECT 1 FROM bot_reputation_log l
		      WHERE l.bot_id = b.id AND l.related_type = 'timeout' AND l.created_at >= $1)
		ORDER BY b.last_active_at`, idleBefore)
	if err != nil {
		return nil, mapError("list idle bots", err, nil)
	}
	return bots, nil
}

func lockBot(ctx context.Context, tx pgx.Tx, botID uuid.UUID) (*model.Bot, error) {
	var b model.Bot
	err := pgxscan.Get(ctx, tx, &b, `SELECT `+botColumns+` FROM bots WHERE id = $1 FOR UPDATE`, botID)
	if err != nil {
		return nil, mapError("lock bot", err, model.ErrBotNotFound)
	}
	return &b, nil
}
