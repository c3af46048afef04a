package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"task-pilot-server/domain"
)

type backend interface {
	ListTasks(ctx context.Context, email string) ([]domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) (domain.Task, error)
	MergeTask(ctx context.Context, id string, upd domain.TaskUpdate) error
	DeleteTask(ctx context.Context, id string) (bool, error)
	MaxOrder(ctx context.Context, category string) (int, error)
}

// Cache wraps a Storage instance with Redis-backed caching for list reads.
// List entries are keyed under a generation counter that every mutation bumps,
// so a single write invalidates all cached listings at once; entries of stale
// generations age out via TTL. Order assignment always reads the table
// directly.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

const listGenKey = "tasks:gen"

func (c *Cache) listKey(ctx context.Context, email string) string {
	gen, err := c.redis.Get(ctx, listGenKey).Result()
	if err != nil {
		gen = "0"
	}
	if email == "" {
		email = "all"
	}
	return "tasks:" + gen + ":" + email
}

func (c *Cache) ListTasks(ctx context.Context, email string) ([]domain.Task, error) {
	// The key is fixed before the table read: a mutation landing during the
	// read bumps the generation, which leaves this snapshot stored under a key
	// no later read will consult.
	var key string
	if c.redis != nil {
		key = c.listKey(ctx, email)
		if tasks, ok := c.loadList(ctx, key); ok {
			return tasks, nil
		}
	}
	tasks, err := c.base.ListTasks(ctx, email)
	if err != nil {
		return nil, err
	}
	c.storeList(ctx, key, tasks)
	return tasks, nil
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	stored, err := c.base.InsertTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx)
	return stored, nil
}

func (c *Cache) MergeTask(ctx context.Context, id string, upd domain.TaskUpdate) error {
	if err := c.base.MergeTask(ctx, id, upd); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) (bool, error) {
	removed, err := c.base.DeleteTask(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		c.evict(ctx)
	}
	return removed, nil
}

// MaxOrder is never served from cache; rank assignment must see committed
// truth.
func (c *Cache) MaxOrder(ctx context.Context, category string) (int, error) {
	return c.base.MaxOrder(ctx, category)
}

func (c *Cache) loadList(ctx context.Context, key string) ([]domain.Task, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeList(ctx context.Context, key string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 || key == "" {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Incr(ctx, listGenKey).Result()
}
