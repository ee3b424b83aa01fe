package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Grant-Huang/inkpath/internal/model"
)

type VoteRepo struct {
	pool *pgxpool.Pool
}

func NewVoteRepo(pool *pgxpool.Pool) *VoteRepo {
	return &VoteRepo{pool: pool}
}

// CastVote resolves everything the weighting rules need inside one
// transaction, asks decide for the weight, then upserts the vote and
// returns it with the target's new score. A decide error rolls back
// without writing anything.
//
// A bot voter's row is locked first so its trailing vote count cannot
// change between the spam check and the insert.
func (r *VoteRepo) CastVote(ctx context.Context, req model.VoteRequest, since, now time.Time, decide func(*model.VoteContext) (float64, error)) (*model.Vote, float64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	vc := &model.VoteContext{Request: req}

	if req.VoterType == model.VoterBot {
		vc.Bot, err = lockBot(ctx, tx, req.VoterID)
		if err != nil {
			return nil, 0, err
		}
	}

	switch req.TargetType {
	case model.TargetSegment:
		err = tx.QueryRow(ctx, `SELECT branch_id, bot_id FROM segments WHERE id = $1`, req.TargetID).
			Scan(&vc.TargetBranchID, &vc.SegmentAuthor)
		if err != nil {
			return nil, 0, mapError("resolve vote target", err,
				fmt.Errorf("%w: %w", model.ErrInvalidTarget, model.ErrSegmentNotFound))
		}
	case model.TargetBranch:
		err = tx.QueryRow(ctx, `SELECT id FROM branches WHERE id = $1`, req.TargetID).Scan(&vc.TargetBranchID)
		if err != nil {
			return nil, 0, mapError("resolve vote target", err,
				fmt.Errorf("%w: %w", model.ErrInvalidTarget, model.ErrBranchNotFound))
		}
	default:
		return nil, 0, model.ErrInvalidTarget
	}

	if vc.Bot != nil {
		err = tx.QueryRow(ctx, `
			SELECT
				EXISTS (SELECT 1 FROM memberships WHERE bot_id = $1 AND branch_id = $2),
				(SELECT COUNT(*) FROM votes WHERE voter_id = $1 AND voter_type = 'bot' AND created_at >= $3)`,
			req.VoterID, vc.TargetBranchID, since).Scan(&vc.IsMember, &vc.RecentVotes)
		if err != nil {
			return nil, 0, mapError("vote context", err, nil)
		}
	}

	weight, err := decide(vc)
	if err != nil {
		return nil, 0, err
	}

	var v model.Vote
	err = pgxscan.Get(ctx, tx, &v, `
		INSERT INTO votes (id, voter_id, voter_type, target_type, target_id, vote, effective_weight, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (voter_id, voter_type, target_type, target_id) DO UPDATE
		SET vote = EXCLUDED.vote, effective_weight = EXCLUDED.effective_weight, updated_at = EXCLUDED.updated_at
		RETURNING id, voter_id, voter_type, target_type, target_id, vote, effective_weight, created_at, updated_at`,
		uuid.New(), req.VoterID, req.VoterType, req.TargetType, req.TargetID, req.Value, weight, now)
	if err != nil {
		return nil, 0, mapError("upsert vote", err, nil)
	}

	score, err := targetScore(ctx, tx, req.TargetType, req.TargetID)
	if err != nil {
		return nil, 0, err
	}

	if vc.Bot != nil {
		if err := touchBot(ctx, tx, vc.Bot.ID, now); err != nil {
			return nil, 0, err
		}
	}
	if req.TargetType == model.TargetSegment {
		if err := notifyActivity(ctx, tx, vc.TargetBranchID); err != nil {
			return nil, 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, mapError("cast vote", err, nil)
	}
	return &v, score, nil
}

// TargetScore returns Σ(vote × effective_weight) over the target's votes.
func (r *VoteRepo) TargetScore(ctx context.Context, targetType string, targetID uuid.UUID) (float64, error) {
	return targetScore(ctx, r.pool, targetType, targetID)
}

func (r *VoteRepo) VoteSummary(ctx context.Context, targetType string, targetID uuid.UUID) (*model.VoteSummary, error) {
	sum := model.VoteSummary{TargetType: targetType, TargetID: targetID}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(vote * effective_weight), 0),
			COUNT(*) FILTER (WHERE vote > 0),
			COUNT(*) FILTER (WHERE vote < 0),
			COUNT(*) FILTER (WHERE voter_type = 'human'),
			COUNT(*) FILTER (WHERE voter_type = 'bot')
		FROM votes
		WHERE target_type = $1 AND target_id = $2`, targetType, targetID).
		Scan(&sum.Score, &sum.Upvotes, &sum.Downvotes, &sum.HumanVotes, &sum.BotVotes)
	if err != nil {
		return nil, mapError("vote summary", err, nil)
	}
	return &sum, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func targetScore(ctx context.Context, q queryRower, targetType string, targetID uuid.UUID) (float64, error) {
	var score float64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(vote * effective_weight), 0)
		FROM votes WHERE target_type = $1 AND target_id = $2`, targetType, targetID).Scan(&score)
	if err != nil {
		return 0, mapError("target score", err, nil)
	}
	return score, nil
}
