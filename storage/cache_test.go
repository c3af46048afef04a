package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"task-pilot-server/domain"
)

type stubBackend struct {
	listFn   func(ctx context.Context, email string) ([]domain.Task, error)
	insertFn func(ctx context.Context, t domain.Task) (domain.Task, error)
	mergeFn  func(ctx context.Context, id string, upd domain.TaskUpdate) error
	deleteFn func(ctx context.Context, id string) (bool, error)
	maxFn    func(ctx context.Context, category string) (int, error)
}

func (s *stubBackend) ListTasks(ctx context.Context, email string) ([]domain.Task, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listFn(ctx, email)
}

func (s *stubBackend) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if s.insertFn == nil {
		return domain.Task{}, errors.New("unexpected InsertTask call")
	}
	return s.insertFn(ctx, t)
}

func (s *stubBackend) MergeTask(ctx context.Context, id string, upd domain.TaskUpdate) error {
	if s.mergeFn == nil {
		return errors.New("unexpected MergeTask call")
	}
	return s.mergeFn(ctx, id, upd)
}

func (s *stubBackend) DeleteTask(ctx context.Context, id string) (bool, error) {
	if s.deleteFn == nil {
		return false, errors.New("unexpected DeleteTask call")
	}
	return s.deleteFn(ctx, id)
}

func (s *stubBackend) MaxOrder(ctx context.Context, category string) (int, error) {
	if s.maxFn == nil {
		return 0, errors.New("unexpected MaxOrder call")
	}
	return s.maxFn(ctx, category)
}

func setupRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCacheListMissThenHit(t *testing.T) {
	ctx := context.Background()
	expected := []domain.Task{{ID: "t1", Category: "todo", Order: 1}}

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, email string) ([]domain.Task, error) {
			calls++
			return expected, nil
		},
	}, setupRedis(t), time.Minute)

	for i := 0; i < 2; i++ {
		tasks, err := cache.ListTasks(ctx, "")
		if err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
		if !reflect.DeepEqual(tasks, expected) {
			t.Fatalf("list %d: unexpected tasks %+v", i, tasks)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one backend call, got %d", calls)
	}
}

func TestCacheKeysSeparatePerOwner(t *testing.T) {
	ctx := context.Background()
	var emails []string
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, email string) ([]domain.Task, error) {
			emails = append(emails, email)
			return []domain.Task{{ID: email}}, nil
		},
	}, setupRedis(t), time.Minute)

	if _, err := cache.ListTasks(ctx, "a@x.io"); err != nil {
		t.Fatalf("list: %v", err)
	}
	tasks, err := cache.ListTasks(ctx, "b@x.io")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(emails) != 2 {
		t.Fatalf("distinct owners must not share entries, backend calls %v", emails)
	}
	if tasks[0].ID != "b@x.io" {
		t.Fatalf("wrong entry served: %+v", tasks)
	}
}

func TestCacheMutationsInvalidateLists(t *testing.T) {
	ctx := context.Background()
	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, email string) ([]domain.Task, error) {
			calls++
			return []domain.Task{}, nil
		},
		insertFn: func(ctx context.Context, task domain.Task) (domain.Task, error) {
			task.ID = "t1"
			return task, nil
		},
		mergeFn:  func(ctx context.Context, id string, upd domain.TaskUpdate) error { return nil },
		deleteFn: func(ctx context.Context, id string) (bool, error) { return true, nil },
	}, setupRedis(t), time.Minute)

	mutations := []func() error{
		func() error { _, err := cache.InsertTask(ctx, domain.Task{Category: "todo"}); return err },
		func() error {
			title := "x"
			return cache.MergeTask(ctx, "t1", domain.TaskUpdate{Title: &title})
		},
		func() error { _, err := cache.DeleteTask(ctx, "t1"); return err },
	}
	for i, mutate := range mutations {
		if _, err := cache.ListTasks(ctx, ""); err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
		if err := mutate(); err != nil {
			t.Fatalf("mutation %d: %v", i, err)
		}
	}
	if _, err := cache.ListTasks(ctx, ""); err != nil {
		t.Fatalf("final list: %v", err)
	}
	if calls != 4 {
		t.Fatalf("every mutation must invalidate the cache, backend calls %d", calls)
	}
}

func TestCacheWriteDuringListNotServedStale(t *testing.T) {
	ctx := context.Background()
	var cache *Cache
	var calls int
	stub := &stubBackend{
		insertFn: func(ctx context.Context, task domain.Task) (domain.Task, error) {
			task.ID = "t2"
			return task, nil
		},
	}
	stub.listFn = func(ctx context.Context, email string) ([]domain.Task, error) {
		calls++
		if calls == 1 {
			// A writer lands while this read is in flight; the snapshot about
			// to be returned no longer reflects the table.
			if _, err := cache.InsertTask(ctx, domain.Task{Category: "todo"}); err != nil {
				t.Fatalf("insert: %v", err)
			}
			return []domain.Task{{ID: "t1", Order: 1}}, nil
		}
		return []domain.Task{{ID: "t1", Order: 1}, {ID: "t2", Order: 2}}, nil
	}
	cache = NewCache(stub, setupRedis(t), time.Minute)

	if _, err := cache.ListTasks(ctx, ""); err != nil {
		t.Fatalf("first list: %v", err)
	}
	tasks, err := cache.ListTasks(ctx, "")
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if calls != 2 {
		t.Fatalf("snapshot predating the write must not be served, backend calls %d", calls)
	}
	if len(tasks) != 2 || tasks[1].ID != "t2" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestCacheDeleteMissKeepsEntries(t *testing.T) {
	ctx := context.Background()
	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, email string) ([]domain.Task, error) {
			calls++
			return []domain.Task{}, nil
		},
		deleteFn: func(ctx context.Context, id string) (bool, error) { return false, nil },
	}, setupRedis(t), time.Minute)

	if _, err := cache.ListTasks(ctx, ""); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := cache.DeleteTask(ctx, "missing"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := cache.ListTasks(ctx, ""); err != nil {
		t.Fatalf("list: %v", err)
	}
	if calls != 1 {
		t.Fatalf("a no-op delete must not invalidate, backend calls %d", calls)
	}
}

func TestCacheMaxOrderBypassesCache(t *testing.T) {
	ctx := context.Background()
	var calls int
	cache := NewCache(&stubBackend{
		maxFn: func(ctx context.Context, category string) (int, error) {
			calls++
			return 5, nil
		},
	}, setupRedis(t), time.Minute)

	for i := 0; i < 2; i++ {
		max, err := cache.MaxOrder(ctx, "todo")
		if err != nil {
			t.Fatalf("max order: %v", err)
		}
		if max != 5 {
			t.Fatalf("unexpected max %d", max)
		}
	}
	if calls != 2 {
		t.Fatalf("order reads must always hit the table, got %d calls", calls)
	}
}

func TestCacheBackendErrorPassesThrough(t *testing.T) {
	want := errors.New("table unavailable")
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, email string) ([]domain.Task, error) { return nil, want },
	}, setupRedis(t), time.Minute)

	if _, err := cache.ListTasks(context.Background(), ""); !errors.Is(err, want) {
		t.Fatalf("expected backend error, got %v", err)
	}
}
