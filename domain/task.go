package domain

// Task represents a single board item.
type Task struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Category    string `json:"category"`
	Order       int    `json:"order"`
}

// TaskUpdate carries partial updates for a task. Nil fields are left untouched
// by the merge.
type TaskUpdate struct {
	Email       *string `json:"email"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Category    *string `json:"category"`
	Order       *int    `json:"order"`
}

// HasFields reports whether the update carries at least one field to merge.
func (u TaskUpdate) HasFields() bool {
	return u.Email != nil || u.Title != nil || u.Description != nil ||
		u.Status != nil || u.Category != nil || u.Order != nil
}
