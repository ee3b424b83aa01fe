package repository

import (
	"context"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Grant-Huang/inkpath/internal/model"
)

type StoryRepo struct {
	pool *pgxpool.Pool
}

func NewStoryRepo(pool *pgxpool.Pool) *StoryRepo {
	return &StoryRepo{pool: pool}
}

// CreateStory inserts s. The caller assigns the id and defaults.
func (r *StoryRepo) CreateStory(ctx context.Context, s *model.Story) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stories (id, title, background, language, min_length, max_length, owner_id, owner_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.Title, s.Background, s.Language, s.MinLength, s.MaxLength, s.OwnerID, s.OwnerType, s.CreatedAt)
	return mapError("create story", err, nil)
}

func (r *StoryRepo) FindByStoryID(ctx context.Context, id uuid.UUID) (*model.Story, error) {
	var s model.Story
	err := pgxscan.Get(ctx, r.pool, &s, `
		SELECT id, title, background, language, min_length, max_length, owner_id, owner_type, created_at
		FROM stories WHERE id = $1`, id)
	if err != nil {
		return nil, mapError("find story", err, model.ErrStoryNotFound)
	}
	return &s, nil
}
