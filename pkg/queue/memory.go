package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frisk-from-paris/Chanina/pkg/logging"
)

// memoryQueueSize bounds how many items may wait in an in-process queue.
const memoryQueueSize = 1024

// MemoryBroker is an in-process Broker used by tests and by single-shot
// local runs. It honors the same hook ordering and sequential dispatch
// contract as the Redis broker.
type MemoryBroker struct {
	logger *logging.Logger
	items  chan *Envelope

	mu         sync.RWMutex
	tasks      map[string]Task
	startHooks []Hook
	stopHooks  []Hook
	results    map[string]*memoryResult
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker(logger *logging.Logger) *MemoryBroker {
	return &MemoryBroker{
		logger:  logger,
		items:   make(chan *Envelope, memoryQueueSize),
		tasks:   make(map[string]Task),
		results: make(map[string]*memoryResult),
	}
}

// RegisterTask records a task under its title, replacing any earlier one.
func (b *MemoryBroker) RegisterTask(task Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[task.Title()] = task
}

// OnWorkerStart registers a worker start hook.
func (b *MemoryBroker) OnWorkerStart(hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startHooks = append(b.startHooks, hook)
}

// OnWorkerStop registers a worker stop hook.
func (b *MemoryBroker) OnWorkerStop(hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopHooks = append(b.stopHooks, hook)
}

// Enqueue queues a work item for the in-process worker loop.
func (b *MemoryBroker) Enqueue(_ context.Context, title string, args []string, config map[string]string) (Result, error) {
	env := &Envelope{
		ID:         uuid.New().String(),
		Title:      title,
		Args:       args,
		Config:     config,
		EnqueuedAt: time.Now().UTC(),
	}

	result := &memoryResult{id: env.ID, done: make(chan struct{})}
	b.mu.Lock()
	b.results[env.ID] = result
	b.mu.Unlock()

	select {
	case b.items <- env:
		return result, nil
	default:
		b.mu.Lock()
		delete(b.results, env.ID)
		b.mu.Unlock()
		return nil, fmt.Errorf("queue: enqueue %s: queue full", title)
	}
}

// Run executes the worker loop until ctx is cancelled.
func (b *MemoryBroker) Run(ctx context.Context) error {
	defer b.runStopHooks()

	if err := b.runStartHooks(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-b.items:
			b.process(ctx, env)
		}
	}
}

func (b *MemoryBroker) process(ctx context.Context, env *Envelope) {
	b.mu.RLock()
	task, ok := b.tasks[env.Title]
	result := b.results[env.ID]
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

	if result != nil {
		result.complete(value, err)
	}
}

func (b *MemoryBroker) runStartHooks(ctx context.Context) error {
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

func (b *MemoryBroker) runStopHooks() {
	b.mu.RLock()
	hooks := make([]Hook, len(b.stopHooks))
	copy(hooks, b.stopHooks)
	b.mu.RUnlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](context.Background()); err != nil {
			b.errorf("worker stop hook: %v", err)
		}
	}
}

// Close releases nothing — the broker holds only process-local state.
func (b *MemoryBroker) Close() error { return nil }

func (b *MemoryBroker) errorf(format string, v ...interface{}) {
	if b.logger != nil {
		b.logger.Errorf(format, v...)
	}
}

// memoryResult completes in-process once its item has run.
type memoryResult struct {
	id   string
	done chan struct{}

	mu    sync.Mutex
	value interface{}
	err   error
}

func (r *memoryResult) complete(value interface{}, err error) {
	r.mu.Lock()
	r.value = value
	if err != nil {
		r.err = errorsJoin(ErrTaskFailed, err.Error())
	}
	r.mu.Unlock()
	close(r.done)
}

// ID returns the enqueued item's identifier.
func (r *memoryResult) ID() string { return r.id }

// Get blocks until the item has run or ctx expires.
func (r *memoryResult) Get(ctx context.Context) (interface{}, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.value, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("queue: result %s: %w", r.id, ctx.Err())
	}
}
