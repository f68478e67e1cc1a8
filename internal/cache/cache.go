package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/jobledger/pkg/models"
	"github.com/redis/go-redis/v9"
)

// StatusEntry is the cached view of a job's status. The database stays the
// source of truth. UpdatedAt is the job's update time and orders entries: a
// write never replaces an entry with a later UpdatedAt. Deleted marks a
// tombstone left by retention.
type StatusEntry struct {
	Status    models.JobStatus `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
	Deleted   bool             `json:"deleted,omitempty"`
}

// Version is the ordering key of the entry in microseconds.
func (e StatusEntry) Version() int64 {
	return e.UpdatedAt.UnixMicro()
}

// statusRecord is the stored form; version is read by setNewerScript.
type statusRecord struct {
	StatusEntry
	Version int64 `json:"version"`
}

// setNewerScript stores ARGV[1] unless the current value carries a version
// at or above ARGV[2]. Undecodable values are overwritten. ARGV[3] is the
// ttl in milliseconds, 0 for none. Returns 1 when written.
var setNewerScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, old = pcall(cjson.decode, cur)
  if ok and type(old) == 'table' and tonumber(old.version) and tonumber(old.version) >= tonumber(ARGV[2]) then
    return 0
  end
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	// SetJobStatus stores entry unless the cached entry for jobID is at
	// least as new. It is atomic with respect to other writers.
	SetJobStatus(ctx context.Context, jobID string, entry StatusEntry, ttl time.Duration) error
	// GetJobStatus returns the cached entry, tombstones included.
	GetJobStatus(ctx context.Context, jobID string) (StatusEntry, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) SetJobStatus(ctx context.Context, jobID string, entry StatusEntry, ttl time.Duration) error {
	b, err := json.Marshal(statusRecord{StatusEntry: entry, Version: entry.Version()})
	if err != nil {
		return fmt.Errorf("encode status entry: %w", err)
	}
	keys := []string{JobStatusKey(jobID)}
	if err := setNewerScript.Run(ctx, c.client, keys, b, entry.Version(), ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return nil
}

func (c *RedisCache) GetJobStatus(ctx context.Context, jobID string) (StatusEntry, bool, error) {
	b, found, err := c.Get(ctx, JobStatusKey(jobID))
	if err != nil || !found {
		return StatusEntry{}, false, err
	}
	var rec statusRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		// Treat an undecodable entry as a miss; the caller falls back to the database.
		return StatusEntry{}, false, nil
	}
	return rec.StatusEntry, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
