package domain

import "context"

// OrderReader is the read capability needed to place a new task within its
// category.
type OrderReader interface {
	MaxOrder(ctx context.Context, category string) (int, error)
}

// NextOrder computes the rank for a task being created: one past the highest
// order currently in the category, or 1 when the category is empty. It only
// reads; callers that need the returned rank to stay unique until the insert
// lands must serialize the read and the insert themselves.
func NextOrder(ctx context.Context, r OrderReader, category string) (int, error) {
	max, err := r.MaxOrder(ctx, category)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}
