package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JobTTL is how long a job mirror survives after its last write.
const JobTTL = 30 * time.Minute

// JobSnapshot is the cached view of a job's status and progress.
type JobSnapshot struct {
	Owner    string
	Status   string
	Progress int
}

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SetJobStatus(ctx context.Context, jobID uuid.UUID, snap JobSnapshot, ttl time.Duration) error
	SetJobProgress(ctx context.Context, jobID uuid.UUID, progress int, ttl time.Duration) error
	GetJobSnapshot(ctx context.Context, jobID uuid.UUID) (JobSnapshot, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// raiseProgress writes the progress field only when it grows.
var raiseProgress = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '-1')
if tonumber(ARGV[1]) > cur then
  redis.call('HSET', KEYS[1], 'progress', ARGV[1])
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return cur
`)

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

func (c *RedisCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, snap JobSnapshot, ttl time.Duration) error {
	key := JobKey(jobID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"owner":    snap.Owner,
		"status":   snap.Status,
		"progress": snap.Progress,
	})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) SetJobProgress(ctx context.Context, jobID uuid.UUID, progress int, ttl time.Duration) error {
	return raiseProgress.Run(ctx, c.client, []string{JobKey(jobID)}, progress, ttl.Milliseconds()).Err()
}

func (c *RedisCache) GetJobSnapshot(ctx context.Context, jobID uuid.UUID) (JobSnapshot, bool, error) {
	vals, err := c.client.HGetAll(ctx, JobKey(jobID)).Result()
	if err != nil {
		return JobSnapshot{}, false, err
	}
	status, ok := vals["status"]
	if !ok {
		return JobSnapshot{}, false, nil
	}
	progress, _ := strconv.Atoi(vals["progress"])
	return JobSnapshot{Owner: vals["owner"], Status: status, Progress: progress}, true, nil
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
