package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/frisk-from-paris/Chanina/pkg/logging"
)

const (
	// DefaultQueue is the queue name used when none is configured.
	DefaultQueue = "default"

	// defaultResultTTL bounds how long results live in the backend.
	defaultResultTTL = time.Hour

	// popTimeout is the blocking window of a single BRPOP, and therefore
	// how quickly the worker loop notices cancellation.
	popTimeout = time.Second

	// resultPollInterval is how often Result.Get polls the backend.
	resultPollInterval = 100 * time.Millisecond
)

// RedisClient is the minimal Redis surface the broker needs. *redis.Client
// satisfies it.
type RedisClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

func queueKey(queue string) string { return "chanina:queue:" + queue }
func resultKey(id string) string   { return "chanina:result:" + id }

// RedisBroker transports work items over a Redis list and stores their
// results in Redis keys with a TTL.
type RedisBroker struct {
	client    RedisClient
	results   RedisClient
	queue     string
	resultTTL time.Duration
	logger    *logging.Logger

	mu         sync.RWMutex
	tasks      map[string]Task
	startHooks []Hook
	stopHooks  []Hook
}

// RedisOption configures a RedisBroker.
type RedisOption func(*RedisBroker)

// WithQueue sets the queue name the broker produces to and consumes from.
func WithQueue(name string) RedisOption {
	return func(b *RedisBroker) { b.queue = name }
}

// WithResultTTL sets how long results are retained in the backend.
func WithResultTTL(ttl time.Duration) RedisOption {
	return func(b *RedisBroker) { b.resultTTL = ttl }
}

// WithResultClient stores results on a separate Redis instance. Defaults to
// the queue client.
func WithResultClient(client RedisClient) RedisOption {
	return func(b *RedisBroker) { b.results = client }
}

// WithLogger sets the broker's logger.
func WithLogger(logger *logging.Logger) RedisOption {
	return func(b *RedisBroker) { b.logger = logger }
}

// NewRedisBroker creates a broker on the given Redis client. The caller owns
// the client lifecycle.
func NewRedisBroker(client RedisClient, opts ...RedisOption) *RedisBroker {
	b := &RedisBroker{
		client:    client,
		queue:     DefaultQueue,
		resultTTL: defaultResultTTL,
		tasks:     make(map[string]Task),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.results == nil {
		b.results = b.client
	}
	return b
}

// RegisterTask records a task under its title, replacing any earlier one.
func (b *RedisBroker) RegisterTask(task Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[task.Title()] = task
}

// OnWorkerStart registers a worker start hook.
func (b *RedisBroker) OnWorkerStart(hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startHooks = append(b.startHooks, hook)
}

// OnWorkerStop registers a worker stop hook.
func (b *RedisBroker) OnWorkerStop(hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopHooks = append(b.stopHooks, hook)
}

// Enqueue pushes a work item onto the queue and returns a handle on its
// eventual result.
func (b *RedisBroker) Enqueue(ctx context.Context, title string, args []string, config map[string]string) (Result, error) {
	env := &Envelope{
		ID:         uuid.New().String(),
		Title:      title,
		Args:       args,
		Config:     config,
		EnqueuedAt: time.Now().UTC(),
	}

	payload, err := EncodeEnvelope(env)
	if err != nil {
		return nil, fmt.Errorf("queue: encode envelope: %w", err)
	}
	if err := b.client.LPush(ctx, queueKey(b.queue), payload).Err(); err != nil {
		return nil, fmt.Errorf("queue: enqueue %s: %w", title, err)
	}

	return &redisResult{id: env.ID, broker: b}, nil
}

// Run executes the worker loop: start hooks, then sequential dequeue and
// dispatch until ctx is cancelled. Stop hooks run on the way out regardless
// of how the loop ended.
func (b *RedisBroker) Run(ctx context.Context) error {
	defer b.runStopHooks()

	if err := b.runStartHooks(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		values, err := b.client.BRPop(ctx, popTimeout, queueKey(b.queue)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.errorf("dequeue error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(popTimeout):
			}
			continue
		}
		if len(values) < 2 {
			continue
		}

		env, err := DecodeEnvelope([]byte(values[1]))
		if err != nil {
			b.errorf("dropping undecodable envelope: %v", err)
			continue
		}

		b.process(ctx, env)
	}
}

// process dispatches one envelope and stores its outcome.
func (b *RedisBroker) process(ctx context.Context, env *Envelope) {
	b.mu.RLock()
	task, ok := b.tasks[env.Title]
	b.mu.RUnlock()

	var value interface{}
	var err error
	if !ok {
		err = fmt.Errorf("%w: %s", ErrUnknownTask, env.Title)
		b.errorf("envelope %s: %v", env.ID, err)
	} else {
		value, err = task.Invoke(ctx, env.Args, env.Config)
		if err != nil {
			b.errorf("task %s (%s) failed: %v", env.Title, env.ID, err)
		}
	}

	payload, encErr := encodeOutcome(value, err)
	if encErr != nil {
		b.errorf("encode outcome for %s: %v", env.ID, encErr)
		return
	}
	if setErr := b.results.Set(ctx, resultKey(env.ID), payload, b.resultTTL).Err(); setErr != nil {
		b.errorf("store outcome for %s: %v", env.ID, setErr)
	}
}

func (b *RedisBroker) runStartHooks(ctx context.Context) error {
	b.mu.RLock()
	hooks := make([]Hook, len(b.startHooks))
	copy(hooks, b.startHooks)
	b.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			return fmt.Errorf("queue: worker start hook: %w", err)
		}
	}
	return nil
}

func (b *RedisBroker) runStopHooks() {
	b.mu.RLock()
	hooks := make([]Hook, len(b.stopHooks))
	copy(hooks, b.stopHooks)
	b.mu.RUnlock()

	// Teardown must always complete; hooks run in reverse registration order
	// and their errors are logged, never propagated.
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](context.Background()); err != nil {
			b.errorf("worker stop hook: %v", err)
		}
	}
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (b *RedisBroker) Close() error { return nil }

func (b *RedisBroker) errorf(format string, v ...interface{}) {
	if b.logger != nil {
		b.logger.Errorf(format, v...)
	}
}

// redisResult is a handle on a result stored in the Redis backend.
type redisResult struct {
	id     string
	broker *RedisBroker
}

// ID returns the enqueued item's identifier.
func (r *redisResult) ID() string { return r.id }

// Get polls the backend until the outcome arrives or ctx expires.
func (r *redisResult) Get(ctx context.Context) (interface{}, error) {
	for {
		data, err := r.broker.results.Get(ctx, resultKey(r.id)).Bytes()
		if err == nil {
			return decodeOutcome(data)
		}
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("queue: fetch result %s: %w", r.id, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("queue: result %s: %w", r.id, ctx.Err())
		case <-time.After(resultPollInterval):
		}
	}
}
