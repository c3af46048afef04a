package api

import (
	"context"

	"task-pilot-server/domain"
)

// TaskService abstracts the orchestration layer for handlers.
type TaskService interface {
	List(ctx context.Context, email string) ([]domain.Task, error)
	Create(ctx context.Context, t domain.Task) (domain.Task, error)
	Update(ctx context.Context, id string, upd domain.TaskUpdate) error
	Delete(ctx context.Context, id string) (bool, error)
}

type insertResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	InsertedID   string `json:"insertedId"`
}

type deleteResponse struct {
	Acknowledged bool `json:"acknowledged"`
	DeletedCount int  `json:"deletedCount"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}
