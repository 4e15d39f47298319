package chanina

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frisk-from-paris/Chanina/pkg/libretto"
	"github.com/frisk-from-paris/Chanina/pkg/queue"
	"github.com/frisk-from-paris/Chanina/pkg/session"
)

// stubBroker records registrations and hooks without any transport.
type stubBroker struct {
	mu         sync.Mutex
	tasks      map[string]queue.Task
	startHooks []queue.Hook
	stopHooks  []queue.Hook
	enqueued   []string
}

func newStubBroker() *stubBroker {
	return &stubBroker{tasks: make(map[string]queue.Task)}
}

func (s *stubBroker) RegisterTask(task queue.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.Title()] = task
}

func (s *stubBroker) Enqueue(_ context.Context, title string, _ []string, _ map[string]string) (queue.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, title)
	return nil, nil
}

func (s *stubBroker) OnWorkerStart(hook queue.Hook) { s.startHooks = append(s.startHooks, hook) }
func (s *stubBroker) OnWorkerStop(hook queue.Hook)  { s.stopHooks = append(s.stopHooks, hook) }
func (s *stubBroker) Run(context.Context) error     { return nil }
func (s *stubBroker) Close() error                  { return nil }

// stubLockStore satisfies lock.Client for construction-only tests.
type stubLockStore struct{}

func (stubLockStore) SetNX(context.Context, string, interface{}, time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func (stubLockStore) Eval(context.Context, string, []string, ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(int64(1), nil)
}

func noopHandler(_ context.Context, _ *libretto.Call) (interface{}, error) {
	return nil, nil
}

func newTestApp(t *testing.T, sessionEnabled bool) (*App, *stubBroker) {
	t.Helper()
	broker := newStubBroker()
	opts := Options{
		Broker:         broker,
		SessionEnabled: sessionEnabled,
		CallerPath:     t.TempDir(),
	}
	if sessionEnabled {
		opts.LockStore = stubLockStore{}
		opts.Browser = session.BrowserFirefox
	}
	app, err := New(opts)
	require.NoError(t, err)
	return app, broker
}

func TestNewRequiresBroker(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestNewRequiresLockStoreWithSession(t *testing.T) {
	_, err := New(Options{
		Broker:         newStubBroker(),
		SessionEnabled: true,
		Browser:        session.BrowserFirefox,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock store")
}

func TestNewRejectsUnsupportedBrowser(t *testing.T) {
	_, err := New(Options{
		Broker:         newStubBroker(),
		SessionEnabled: true,
		LockStore:      stubLockStore{},
		Browser:        "safari",
	})
	require.ErrorIs(t, err, session.ErrUnsupportedBrowser)
}

func TestNewRegistersBuiltins(t *testing.T) {
	app, broker := newTestApp(t, false)

	_, ok := app.Lookup(LibrettoListLibretti)
	assert.True(t, ok)
	_, ok = app.Lookup(LibrettoNewPage)
	assert.True(t, ok)

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Contains(t, broker.tasks, LibrettoListLibretti)
	assert.Contains(t, broker.tasks, LibrettoNewPage)
}

func TestLifecycleHooksOnlyWhenSessionEnabled(t *testing.T) {
	_, broker := newTestApp(t, false)
	assert.Empty(t, broker.startHooks)
	assert.Empty(t, broker.stopHooks)

	_, broker = newTestApp(t, true)
	assert.Len(t, broker.startHooks, 1)
	assert.Len(t, broker.stopHooks, 1)
}

func TestRegisterRejectsReservedPrefix(t *testing.T) {
	app, _ := newTestApp(t, false)

	_, err := app.Register("chanina.sneaky", noopHandler, nil)
	require.ErrorIs(t, err, ErrReservedIdentifier)
}

func TestRegisterLastWriteWins(t *testing.T) {
	app, broker := newTestApp(t, false)

	first, err := app.Register("fetch", noopHandler, nil)
	require.NoError(t, err)
	second, err := app.Register("fetch", noopHandler, map[string]interface{}{"max_retries": 3})
	require.NoError(t, err)

	got, ok := app.Lookup("fetch")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.NotSame(t, first, got)

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, queue.Task(second), broker.tasks["fetch"])
}

func TestRegisteredShapeFollowsSessionFlag(t *testing.T) {
	app, _ := newTestApp(t, false)
	lib, err := app.Register("fetch", noopHandler, nil)
	require.NoError(t, err)
	assert.Equal(t, libretto.ShapeBare, lib.Shape())

	app, _ = newTestApp(t, true)
	lib, err = app.Register("fetch", noopHandler, nil)
	require.NoError(t, err)
	assert.Equal(t, libretto.ShapeSession, lib.Shape())
}

func TestDispatchWithoutSessionFails(t *testing.T) {
	app, _ := newTestApp(t, true)

	lib, err := app.Register("fetch", noopHandler, nil)
	require.NoError(t, err)

	// No worker start hook has run, so no session exists.
	_, err = lib.Invoke(context.Background(), nil, nil)
	require.ErrorIs(t, err, libretto.ErrSessionRequired)
}

func TestDispatchBareShapeRuns(t *testing.T) {
	app, _ := newTestApp(t, false)

	var got *libretto.Call
	lib, err := app.Register("fetch", func(_ context.Context, call *libretto.Call) (interface{}, error) {
		got = call
		return nil, nil
	}, nil)
	require.NoError(t, err)

	_, err = lib.Invoke(context.Background(), []string{"", "a"}, nil)
	require.NoError(t, err)
	assert.Nil(t, got.Session)
	assert.Equal(t, []string{"a"}, got.Args)
}

func TestEnqueueUnknownLibretto(t *testing.T) {
	app, _ := newTestApp(t, false)

	_, err := app.Enqueue(context.Background(), "missing", nil, nil)
	require.ErrorIs(t, err, ErrUnknownLibretto)
}

func TestEnqueueKnownLibretto(t *testing.T) {
	app, broker := newTestApp(t, false)

	_, err := app.Register("fetch", noopHandler, nil)
	require.NoError(t, err)

	_, err = app.Enqueue(context.Background(), "fetch", []string{"a"}, nil)
	require.NoError(t, err)

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, []string{"fetch"}, broker.enqueued)
}

func TestListLibrettiBuiltin(t *testing.T) {
	app, _ := newTestApp(t, false)
	_, err := app.Register("fetch", noopHandler, nil)
	require.NoError(t, err)

	lib, ok := app.Lookup(LibrettoListLibretti)
	require.True(t, ok)

	value, err := lib.Invoke(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{LibrettoListLibretti, LibrettoNewPage, "fetch"}, value)
}

func TestNewPageBuiltinWithoutSession(t *testing.T) {
	app, _ := newTestApp(t, false)

	lib, ok := app.Lookup(LibrettoNewPage)
	require.True(t, ok)

	// Bare shape: no session injected, the built-in is a silent no-op.
	_, err := lib.Invoke(context.Background(), nil, nil)
	require.NoError(t, err)
}

func TestLockKeyDerivesFromCallerPath(t *testing.T) {
	broker := newStubBroker()
	dir := t.TempDir()
	app, err := New(Options{Broker: broker, CallerPath: dir})
	require.NoError(t, err)
	assert.Equal(t, "lock:chanina:"+dir, app.LockKey())
}

func TestShutdownWithoutInitIsSafe(t *testing.T) {
	app, broker := newTestApp(t, true)
	require.Len(t, broker.stopHooks, 1)

	require.NoError(t, broker.stopHooks[0](context.Background()))
	assert.Nil(t, app.Session())
}
