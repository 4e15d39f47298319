// Package queue is the task-broker boundary of Chanina.
//
// A Broker transports enqueued work items to worker processes and reports
// their results back. The broker's own retry and failure semantics are its
// business: handler errors pass through it unchanged. Two implementations
// ship with the framework — a Redis-backed broker for distributed workers
// and an in-process broker for tests and single-shot local runs.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrUnknownTask is returned when a dequeued envelope names an
	// identifier no task was registered under.
	ErrUnknownTask = errors.New("queue: unknown task")

	// ErrTaskFailed wraps a failure reported by a remote worker.
	ErrTaskFailed = errors.New("queue: task failed")
)

// Task is a dispatchable work item registered under an identifier.
type Task interface {
	// Title returns the identifier the task is enqueued by.
	Title() string

	// Invoke executes the task with the broker-level argument list and
	// configuration mapping.
	Invoke(ctx context.Context, args []string, config map[string]string) (interface{}, error)
}

// Hook runs at a worker lifecycle moment. Start hooks run before the first
// dequeue, in registration order; a failing start hook aborts the worker.
// Stop hooks run on worker exit, in reverse registration order; their errors
// are logged and suppressed.
type Hook func(ctx context.Context) error

// Result is a handle on an enqueued task's eventual outcome.
type Result interface {
	// ID returns the unique identifier of the enqueued item.
	ID() string

	// Get blocks until the outcome is available or ctx expires. A handler
	// failure surfaces as an error wrapping ErrTaskFailed.
	Get(ctx context.Context) (interface{}, error)
}

// Broker is the queue-client collaborator consumed by the application
// context and the runner.
type Broker interface {
	// RegisterTask records a task under its title. Registering the same
	// title twice replaces the earlier task.
	RegisterTask(task Task)

	// Enqueue submits a work item by identifier.
	Enqueue(ctx context.Context, title string, args []string, config map[string]string) (Result, error)

	// OnWorkerStart registers a hook run when a worker process starts.
	OnWorkerStart(hook Hook)

	// OnWorkerStop registers a hook run when a worker process stops.
	OnWorkerStop(hook Hook)

	// Run executes the worker loop until ctx is cancelled. Tasks execute
	// sequentially: one in-flight item per worker process.
	Run(ctx context.Context) error

	// Close releases broker-owned resources.
	Close() error
}

// Envelope is the wire form of one enqueued work item.
type Envelope struct {
	ID         string            `msgpack:"id"`
	Title      string            `msgpack:"title"`
	Args       []string          `msgpack:"args"`
	Config     map[string]string `msgpack:"config"`
	EnqueuedAt time.Time         `msgpack:"enqueued_at"`
}

// EncodeEnvelope serializes an envelope for transport.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	return msgpack.Marshal(env)
}

// DecodeEnvelope deserializes an envelope from transport.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// outcome is the wire form of a finished item's result.
type outcome struct {
	OK    bool        `msgpack:"ok"`
	Value interface{} `msgpack:"value"`
	Error string      `msgpack:"error"`
}

func encodeOutcome(value interface{}, err error) ([]byte, error) {
	o := outcome{OK: err == nil, Value: value}
	if err != nil {
		o.Error = err.Error()
	}
	return msgpack.Marshal(&o)
}

func decodeOutcome(data []byte) (interface{}, error) {
	var o outcome
	if err := msgpack.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	if !o.OK {
		return nil, errorsJoin(ErrTaskFailed, o.Error)
	}
	return o.Value, nil
}

func errorsJoin(sentinel error, message string) error {
	if message == "" {
		return sentinel
	}
	return &wrappedFailure{sentinel: sentinel, message: message}
}

type wrappedFailure struct {
	sentinel error
	message  string
}

func (w *wrappedFailure) Error() string { return w.sentinel.Error() + ": " + w.message }
func (w *wrappedFailure) Unwrap() error { return w.sentinel }
