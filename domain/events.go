package domain

const (
	TaskCreated = "TASK_CREATED"
	TaskDeleted = "TASK_DELETED"
)

// Event is a transient notification about an observable mutation. It is pushed
// to connected clients and never persisted; a client that is offline when an
// event fires has to reconcile through the list endpoints.
type Event struct {
	Type   string `json:"type"`
	Task   *Task  `json:"task,omitempty"`
	TaskID string `json:"taskId,omitempty"`
}
