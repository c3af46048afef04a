package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"task-pilot-server/domain"
)

// tasksPartition keys every task row. The table is scanned with property
// filters, so a single partition keeps point operations addressable by id
// alone.
const tasksPartition = "tasks"

// Storage provides access to the task table.
type Storage struct {
	taskTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: svc.NewClient(tasksTable)}, nil
}

type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entity
	Email       string `json:"Email"`
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Category    string `json:"Category"`
	Order       int    `json:"Order"`
}

// taskMerge carries a partial update; nil fields stay untouched by the merge.
type taskMerge struct {
	entity
	Email       *string `json:"Email,omitempty"`
	Title       *string `json:"Title,omitempty"`
	Description *string `json:"Description,omitempty"`
	Status      *string `json:"Status,omitempty"`
	Category    *string `json:"Category,omitempty"`
	Order       *int    `json:"Order,omitempty"`
}

func (e taskEntity) toDomain() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		Email:       e.Email,
		Title:       e.Title,
		Description: e.Description,
		Status:      e.Status,
		Category:    e.Category,
		Order:       e.Order,
	}
}

// escapeFilterValue doubles single quotes so an opaque value cannot terminate
// the OData string literal it is embedded in.
func escapeFilterValue(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func ownerFilter(email string) string {
	return "Email eq '" + escapeFilterValue(email) + "'"
}

func categoryFilter(category string) string {
	return "Category eq '" + escapeFilterValue(category) + "'"
}

// sortByOrder orders tasks ascending by rank. Table storage has no
// server-side sort, so listings are ordered here.
func sortByOrder(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
}

func (s *Storage) scan(ctx context.Context, filter string) ([]domain.Task, error) {
	opts := &aztables.ListEntitiesOptions{}
	if filter != "" {
		opts.Filter = &filter
	}
	pager := s.taskTable.NewListEntitiesPager(opts)
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, ent.toDomain())
		}
	}
	return tasks, nil
}

// ListTasks retrieves tasks sorted ascending by order, filtered by owner email
// when one is given.
func (s *Storage) ListTasks(ctx context.Context, email string) ([]domain.Task, error) {
	filter := ""
	if email != "" {
		filter = ownerFilter(email)
	}
	tasks, err := s.scan(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortByOrder(tasks)
	return tasks, nil
}

// MaxOrder returns the highest order currently held in the category, or 0 when
// the category is empty.
func (s *Storage) MaxOrder(ctx context.Context, category string) (int, error) {
	tasks, err := s.scan(ctx, categoryFilter(category))
	if err != nil {
		return 0, err
	}
	max := 0
	for _, t := range tasks {
		if t.Order > max {
			max = t.Order
		}
	}
	return max, nil
}

// InsertTask persists the task under a fresh id and returns it.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t.ID = uuid.NewString()
	ent := taskEntity{
		entity:      entity{PartitionKey: tasksPartition, RowKey: t.ID},
		Email:       t.Email,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Category:    t.Category,
		Order:       t.Order,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// MergeTask applies the non-nil fields of upd to the task with the given id.
func (s *Storage) MergeTask(ctx context.Context, id string, upd domain.TaskUpdate) error {
	ent := taskMerge{
		entity:      entity{PartitionKey: tasksPartition, RowKey: id},
		Email:       upd.Email,
		Title:       upd.Title,
		Description: upd.Description,
		Status:      upd.Status,
		Category:    upd.Category,
		Order:       upd.Order,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

// DeleteTask removes the task and reports whether a row was removed. Deleting
// an unknown id is not an error.
func (s *Storage) DeleteTask(ctx context.Context, id string) (bool, error) {
	_, err := s.taskTable.DeleteEntity(ctx, tasksPartition, id, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
