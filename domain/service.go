package domain

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// TaskStorage defines the persistence operations required by the service.
type TaskStorage interface {
	// ListTasks returns tasks sorted ascending by order; an empty email means
	// no owner filter.
	ListTasks(ctx context.Context, email string) ([]Task, error)
	// InsertTask persists the task and returns it with the store-assigned id.
	InsertTask(ctx context.Context, t Task) (Task, error)
	// MergeTask applies the non-nil fields of upd to the task with the given
	// id. It returns ErrNotFound when no such task exists.
	MergeTask(ctx context.Context, id string, upd TaskUpdate) error
	// DeleteTask removes the task and reports whether a row was removed.
	DeleteTask(ctx context.Context, id string) (bool, error)
	MaxOrder(ctx context.Context, category string) (int, error)
}

// Broadcaster fans out mutation events to currently connected clients.
type Broadcaster interface {
	Broadcast(ev Event)
}

// TaskService orchestrates task mutations against storage and announces the
// observable ones (create, delete) to the broadcaster.
type TaskService struct {
	st TaskStorage
	bc Broadcaster

	mu         sync.Mutex
	categories map[string]*sync.Mutex
}

func NewTaskService(st TaskStorage, bc Broadcaster) *TaskService {
	return &TaskService{st: st, bc: bc, categories: make(map[string]*sync.Mutex)}
}

// categoryLock returns the mutex serializing creations within one category.
func (s *TaskService) categoryLock(category string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.categories[category]
	if !ok {
		m = &sync.Mutex{}
		s.categories[category] = m
	}
	return m
}

// List returns tasks sorted ascending by order, filtered by owner email when
// one is given.
func (s *TaskService) List(ctx context.Context, email string) ([]Task, error) {
	return s.st.ListTasks(ctx, email)
}

// Create places the task at the end of its category and persists it. The order
// read and the insert hold the category lock together so two concurrent
// creations cannot claim the same rank; creations in different categories do
// not contend.
func (s *TaskService) Create(ctx context.Context, t Task) (Task, error) {
	if t.Category == "" {
		return Task{}, ErrEmptyCategory
	}
	lock := s.categoryLock(t.Category)
	lock.Lock()
	order, err := NextOrder(ctx, s.st, t.Category)
	if err != nil {
		lock.Unlock()
		return Task{}, err
	}
	t.Order = order
	stored, err := s.st.InsertTask(ctx, t)
	lock.Unlock()
	if err != nil {
		return Task{}, err
	}
	log.WithFields(log.Fields{"task": stored.ID, "category": stored.Category, "order": stored.Order}).Debug("task created")
	s.bc.Broadcast(Event{Type: TaskCreated, Task: &stored})
	return stored, nil
}

// Update merges the supplied fields into the task. An unknown id or an update
// carrying no fields yields ErrNotFound. Updates are not broadcast; clients
// pick them up on their next list. An update may overwrite order directly,
// siblings are not renumbered.
func (s *TaskService) Update(ctx context.Context, id string, upd TaskUpdate) error {
	if !upd.HasFields() {
		return ErrNotFound
	}
	return s.st.MergeTask(ctx, id, upd)
}

// Delete removes the task. A deletion event is emitted only when a task was
// actually removed; deleting an unknown id reports removed=false without
// error.
func (s *TaskService) Delete(ctx context.Context, id string) (bool, error) {
	removed, err := s.st.DeleteTask(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		log.WithField("task", id).Debug("task deleted")
		s.bc.Broadcast(Event{Type: TaskDeleted, TaskID: id})
	}
	return removed, nil
}
