package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryQueue is a bounded in-process TitleQueue.
type MemoryQueue struct {
	jobs      chan TitleJob
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size < 1 {
		size = 1
	}
	return &MemoryQueue{
		jobs: make(chan TitleJob, size),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job TitleJob) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue hands out pending jobs before reporting ErrQueueClosed, so a
// closed queue drains in order.
func (q *MemoryQueue) Dequeue(ctx context.Context) (TitleJob, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	default:
	}

	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.done:
		select {
		case job := <-q.jobs:
			return job, nil
		default:
			return TitleJob{}, ErrQueueClosed
		}
	case <-ctx.Done():
		return TitleJob{}, ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

const (
	DefaultRedisQueueKey = "queue:chat-titles"
	redisPollInterval    = 5 * time.Second
	// redisEnqueueTimeout bounds the time a send spends handing off its
	// title job.
	redisEnqueueTimeout = 200 * time.Millisecond
)

// RedisQueue is a TitleQueue backed by a Redis list, so queued titles
// survive a server restart. Jobs are pushed on the left and popped on the
// right, giving FIFO order.
type RedisQueue struct {
	client   *redis.Client
	key      string
	maxLen   int64
	done     chan struct{}
	doneOnce sync.Once
}

func NewRedisQueue(client *redis.Client, key string, maxLen int) *RedisQueue {
	if key == "" {
		key = DefaultRedisQueueKey
	}
	return &RedisQueue{
		client: client,
		key:    key,
		maxLen: int64(maxLen),
		done:   make(chan struct{}),
	}
}

// RedisOptions parses url. Context deadlines are applied to socket reads
// and writes, so a stalled server cannot hold a caller past its deadline.
func RedisOptions(url string) (*redis.Options, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opt.ContextTimeoutEnabled = true
	return opt, nil
}

// NewRedisClient parses url and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := RedisOptions(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// Enqueue runs under its own short deadline, detached from ctx's
// cancellation, so a slow Redis costs the caller at most
// redisEnqueueTimeout.
func (q *RedisQueue) Enqueue(ctx context.Context, job TitleJob) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisEnqueueTimeout)
	defer cancel()

	if q.maxLen > 0 {
		n, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return fmt.Errorf("failed to read queue length: %w", err)
		}
		if n >= q.maxLen {
			return ErrQueueFull
		}
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode title job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push title job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (TitleJob, error) {
	for {
		select {
		case <-q.done:
			return TitleJob{}, ErrQueueClosed
		case <-ctx.Done():
			return TitleJob{}, ctx.Err()
		default:
		}

		result, err := q.client.BRPop(ctx, redisPollInterval, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return TitleJob{}, ctx.Err()
			}
			return TitleJob{}, fmt.Errorf("failed to pop title job: %w", err)
		}
		if len(result) < 2 {
			continue
		}

		var job TitleJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			return TitleJob{}, fmt.Errorf("failed to decode title job: %w", err)
		}
		return job, nil
	}
}

// Close stops consumers. The Redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.doneOnce.Do(func() { close(q.done) })
	return nil
}
