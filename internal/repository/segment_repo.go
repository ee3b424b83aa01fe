package repository

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Grant-Huang/inkpath/internal/model"
)

type SegmentRepo struct {
	pool *pgxpool.Pool
}

func NewSegmentRepo(pool *pgxpool.Pool) *SegmentRepo {
	return &SegmentRepo{pool: pool}
}

// AppendSegment writes content at the end of the branch. The branch row is
// locked for the duration so concurrent appends get distinct, consecutive
// sequence numbers.
func (r *SegmentRepo) AppendSegment(ctx context.Context, branchID uuid.UUID, botID *uuid.UUID, content string, isStarter bool, now time.Time) (*model.Segment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockBranch(ctx, tx, branchID); err != nil {
		return nil, err
	}

	seg, err := insertSegment(ctx, tx, branchID, botID, content, isStarter, now)
	if err != nil {
		return nil, err
	}

	if err := notifyActivity(ctx, tx, branchID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapError("append segment", err, nil)
	}
	return seg, nil
}

func (r *SegmentRepo) FindBySegmentID(ctx context.Context, id uuid.UUID) (*model.Segment, error) {
	var seg model.Segment
	err := pgxscan.Get(ctx, r.pool, &seg, `
		SELECT id, branch_id, bot_id, content, sequence_order, is_starter, created_at
		FROM segments WHERE id = $1`, id)
	if err != nil {
		return nil, mapError("find segment", err, model.ErrSegmentNotFound)
	}
	return &seg, nil
}

// ListSegments returns a page of the branch in sequence order.
func (r *SegmentRepo) ListSegments(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]model.Segment, error) {
	var segs []model.Segment
	err := pgxscan.Select(ctx, r.pool, &segs, `
		SELECT id, branch_id, bot_id, content, sequence_order, is_starter, created_at
		FROM segments
		WHERE branch_id = $1
		ORDER BY sequence_order
		LIMIT $2 OFFSET $3`, branchID, limit, offset)
	if err != nil {
		return nil, mapError("list segments", err, nil)
	}
	return segs, nil
}
