package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Grant-Huang/inkpath/internal/model"
)

// ActivityChannel is the NOTIFY channel carrying ids of branches whose
// activity inputs changed.
const ActivityChannel = "branch_activity"

// Postgres error codes the core distinguishes.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// mapError converts driver errors into the model error taxonomy. notFound
// is returned for a missing row or a dangling foreign key.
func mapError(op string, err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) || pgxscan.NotFound(err) {
		if notFound != nil {
			return notFound
		}
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%s: %w: %s", op, model.ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			if notFound != nil {
				return notFound
			}
			return fmt.Errorf("%s: %w: %s", op, model.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// lockBranch takes the row lock that serializes sequence and join order
// assignment for one branch.
func lockBranch(ctx context.Context, tx pgx.Tx, branchID uuid.UUID) (storyID uuid.UUID, err error) {
	err = tx.QueryRow(ctx, `SELECT story_id FROM branches WHERE id = $1 FOR UPDATE`, branchID).Scan(&storyID)
	if err != nil {
		return uuid.Nil, mapError("lock branch", err, model.ErrBranchNotFound)
	}
	return storyID, nil
}

// insertSegment appends content at max(sequence_order)+1. The caller must
// hold the branch lock.
func insertSegment(ctx context.Context, tx pgx.Tx, branchID uuid.UUID, botID *uuid.UUID, content string, isStarter bool, now time.Time) (*model.Segment, error) {
	var seg model.Segment
	err := pgxscan.Get(ctx, tx, &seg, `
		INSERT INTO segments (id, branch_id, bot_id, content, sequence_order, is_starter, created_at)
		SELECT $1, $2, $3, $4, COALESCE(MAX(sequence_order), 0) + 1, $5, $6
		FROM segments WHERE branch_id = $2
		RETURNING id, branch_id, bot_id, content, sequence_order, is_starter, created_at`,
		uuid.New(), branchID, botID, content, isStarter, now)
	if err != nil {
		return nil, mapError("insert segment", err, model.ErrBotNotFound)
	}
	if botID != nil {
		if err := touchBot(ctx, tx, *botID, now); err != nil {
			return nil, err
		}
	}
	return &seg, nil
}

// insertMembership joins botID to the branch at max(join_order)+1, or
// returns the existing membership unchanged. The caller must hold the
// branch lock.
func insertMembership(ctx context.Context, tx pgx.Tx, botID, branchID uuid.UUID, now time.Time) (*model.Membership, bool, error) {
	var m model.Membership
	err := pgxscan.Get(ctx, tx, &m, `
		SELECT bot_id, branch_id, join_order, joined_at
		FROM memberships WHERE bot_id = $1 AND branch_id = $2`, botID, branchID)
	if err == nil {
		return &m, false, nil
	}
	if !pgxscan.NotFound(err) {
		return nil, false, mapError("find membership", err, nil)
	}

	err = pgxscan.Get(ctx, tx, &m, `
		INSERT INTO memberships (bot_id, branch_id, join_order, joined_at)
		SELECT $1, $2, COALESCE(MAX(join_order), 0) + 1, $3
		FROM memberships WHERE branch_id = $2
		RETURNING bot_id, branch_id, join_order, joined_at`,
		botID, branchID, now)
	if err != nil {
		return nil, false, mapError("insert membership", err, model.ErrBotNotFound)
	}
	return &m, true, nil
}

// touchBot records activity for the idle sweep.
func touchBot(ctx context.Context, tx pgx.Tx, botID uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE bots SET last_active_at = $2 WHERE id = $1`, botID, now)
	if err != nil {
		return mapError("touch bot", err, nil)
	}
	return nil
}

// notifyActivity queues a NOTIFY that is delivered when tx commits.
func notifyActivity(ctx context.Context, tx pgx.Tx, branchID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, ActivityChannel, branchID.String())
	if err != nil {
		return mapError("notify activity", err, nil)
	}
	return nil
}
