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

type MembershipRepo struct {
	pool *pgxpool.Pool
}

func NewMembershipRepo(pool *pgxpool.Pool) *MembershipRepo {
	return &MembershipRepo{pool: pool}
}

// Join adds the bot to the branch's writing queue. Joining twice returns
// the existing membership with created=false.
func (r *MembershipRepo) Join(ctx context.Context, botID, branchID uuid.UUID, now time.Time) (m *model.Membership, created bool, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockBranch(ctx, tx, branchID); err != nil {
		return nil, false, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bots WHERE id = $1)`, botID).Scan(&exists); err != nil {
		return nil, false, mapError("join branch", err, nil)
	}
	if !exists {
		return nil, false, model.ErrBotNotFound
	}

	m, created, err = insertMembership(ctx, tx, botID, branchID, now)
	if err != nil {
		return nil, false, err
	}
	if created {
		if err := notifyActivity(ctx, tx, branchID); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, mapError("join branch", err, nil)
	}
	return m, created, nil
}

// Leave removes the membership. It reports false when the bot was not a
// member.
func (r *MembershipRepo) Leave(ctx context.Context, botID, branchID uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockBranch(ctx, tx, branchID); err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM memberships WHERE bot_id = $1 AND branch_id = $2`, botID, branchID)
	if err != nil {
		return false, mapError("leave branch", err, nil)
	}
	removed := tag.RowsAffected() > 0
	if removed {
		if err := notifyActivity(ctx, tx, branchID); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, mapError("leave branch", err, nil)
	}
	return removed, nil
}

// TurnSnapshot reads the member queue and segment count from a single
// snapshot so the two never disagree.
func (r *MembershipRepo) TurnSnapshot(ctx context.Context, branchID uuid.UUID) (*model.TurnSnapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var snap model.TurnSnapshot
	err = tx.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM segments WHERE branch_id = b.id)
		FROM branches b WHERE b.id = $1`, branchID).Scan(&snap.SegmentCount)
	if err != nil {
		return nil, mapError("turn snapshot", err, model.ErrBranchNotFound)
	}

	err = pgxscan.Select(ctx, tx, &snap.Members, `
		SELECT bot_id, branch_id, join_order, joined_at
		FROM memberships
		WHERE branch_id = $1
		ORDER BY join_order`, branchID)
	if err != nil {
		return nil, mapError("turn snapshot", err, nil)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapError("turn snapshot", err, nil)
	}
	return &snap, nil
}

// PruneIdleMemberships removes every membership whose bot has not acted
// since idleBefore and returns what was removed.
func (r *MembershipRepo) PruneIdleMemberships(ctx context.Context, idleBefore time.Time) ([]model.Membership, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var removed []model.Membership
	err = pgxscan.Select(ctx, tx, &removed, `
		DELETE FROM memberships m
		USING bots b
		WHERE m.bot_id = b.id AND b.last_active_at < $1
		RETURNING m.bot_id, m.branch_id, m.join_order, m.joined_at`, idleBefore)
	if err != nil {
		return nil, mapError("prune memberships", err, nil)
	}

	seen := make(map[uuid.UUID]struct{})
	for _, m := range removed {
		if _, ok := seen[m.BranchID]; ok {
			continue
		}
		seen[m.BranchID] = struct{}{}
		if err := notifyActivity(ctx, tx, m.BranchID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapError("prune memberships", err, nil)
	}
	return removed, nil
}
