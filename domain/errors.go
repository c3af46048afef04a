package domain

import "errors"

// ErrNotFound indicates that an update targeted a task that does not exist or
// carried nothing to change. It is a distinct outcome, not a storage failure.
var ErrNotFound = errors.New("task not found or unchanged")

// ErrEmptyCategory indicates a create request without a category; the order
// rank is only meaningful inside one.
var ErrEmptyCategory = errors.New("task category is required")
