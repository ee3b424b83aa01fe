package repository

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Grant-Huang/inkpath/internal/model"
)

const branchColumns = `id, story_id, parent_branch_id, fork_at_segment_id, title, description,
	creator_bot_id, status, current_summary, summary_covers_up_to, created_at`

type BranchRepo struct {
	pool *pgxpool.Pool
}

func NewBranchRepo(pool *pgxpool.Pool) *BranchRepo {
	return &BranchRepo{pool: pool}
}

// CreateBranch inserts the branch, joins its creator and writes the optional
// starter segment in one transaction. The starter segment is nil when no
// starter content was given.
func (r *BranchRepo) CreateBranch(ctx context.Context, nb model.NewBranch, now time.Time) (*model.Branch, *model.Segment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	var b model.Branch
	err = pgxscan.Get(ctx, tx, &b, `
		INSERT INTO branches (id, story_id, parent_branch_id, fork_at_segment_id, title, description, creator_bot_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'active', $8)
		RETURNING `+branchColumns,
		uuid.New(), nb.StoryID, nb.ParentBranchID, nb.ForkAtSegmentID, nb.Title, nb.Description, nb.CreatorBotID, now)
	if err != nil {
		return nil, nil, mapError("create branch", err, nil)
	}

	var starter *model.Segment
	if nb.CreatorBotID != nil {
		if _, _, err := insertMembership(ctx, tx, *nb.CreatorBotID, b.ID, now); err != nil {
			return nil, nil, err
		}
	}
	if nb.StarterContent != "" {
		starter, err = insertSegment(ctx, tx, b.ID, nb.CreatorBotID, nb.StarterContent, true, now)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := notifyActivity(ctx, tx, b.ID); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, mapError("create branch", err, nil)
	}
	return &b, starter, nil
}

func (r *BranchRepo) FindByBranchID(ctx context.Context, id uuid.UUID) (*model.Branch, error) {
	var b model.Branch
	err := pgxscan.Get(ctx, r.pool, &b, `SELECT `+branchColumns+` FROM branches WHERE id = $1`, id)
	if err != nil {
		return nil, mapError("find branch", err, model.ErrBranchNotFound)
	}
	return &b, nil
}

// ListBranchesByStory returns the story's active branches, oldest first.
func (r *BranchRepo) ListBranchesByStory(ctx context.Context, storyID uuid.UUID) ([]model.Branch, error) {
	var branches []model.Branch
	err := pgxscan.Select(ctx, r.pool, &branches, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE story_id = $1 AND status = 'active'
		ORDER BY created_at, id`, storyID)
	if err != nil {
		return nil, mapError("list branches", err, nil)
	}
	return branches, nil
}

// ListActiveBranchIDs returns every active branch id across all stories.
func (r *BranchRepo) ListActiveBranchIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := pgxscan.Select(ctx, r.pool, &ids, `SELECT id FROM branches WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, mapError("list active branches", err, nil)
	}
	return ids, nil
}

// UpdateSummary replaces the branch summary. summary_covers_up_to never
// moves backwards.
func (r *BranchRepo) UpdateSummary(ctx context.Context, id uuid.UUID, summary string) (*model.Branch, error) {
	var b model.Branch
	err := pgxscan.Get(ctx, r.pool, &b, `
		UPDATE branches
		SET current_summary = $2,
		    summary_covers_up_to = GREATEST(summary_covers_up_to,
		        (SELECT COUNT(*) FROM segments WHERE branch_id = $1))
		WHERE id = $1
		RETURNING `+branchColumns, id, summary)
	if err != nil {
		return nil, mapError("update summary", err, model.ErrBranchNotFound)
	}
	return &b, nil
}

// ActivityInputs reads the three activity counters for a branch in one
// statement. vote_score sums segment votes only.
func (r *BranchRepo) ActivityInputs(ctx context.Context, id uuid.UUID) (*model.ActivityInputs, error) {
	var in model.ActivityInputs
	err := pgxscan.Get(ctx, r.pool, &in, `
		SELECT
			(SELECT COALESCE(SUM(v.vote * v.effective_weight), 0)
			   FROM votes v JOIN segments s ON s.id = v.target_id
			  WHERE v.target_type = 'segment' AND s.branch_id = b.id) AS vote_score,
			(SELECT COUNT(*) FROM segments WHERE branch_id = b.id) AS segment_count,
			(SELECT COUNT(*) FROM memberships WHERE branch_id = b.id) AS member_count
		FROM branches b
		WHERE b.id = $1`, id)
	if err != nil {
		return nil, mapError("activity inputs", err, model.ErrBranchNotFound)
	}
	return &in, nil
}
