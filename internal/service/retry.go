package service

import (
	"context"
	"errors"

	"github.com/Grant-Huang/inkpath/internal/model"
)

// retryOnConflict runs fn again once if it failed with a conflict. The
// second failure is returned as is.
func retryOnConflict[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || !errors.Is(err, model.ErrConflict) {
		return v, err
	}
	if ctx.Err() != nil {
		return v, err
	}
	return fn(ctx)
}
