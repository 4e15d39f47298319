// Package chanina is the composition root of the framework.
//
// An App owns the task broker, the libretto registry, and — when session
// support is enabled — the worker lifecycle hooks that bring a browser
// session up behind the profile checkout lock and tear it down on shutdown.
// Operations that require a specific state of the file system are resolved at
// App construction time: it is the only moment we know for sure the program
// is running on the host and not inside a worker.
package chanina

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/frisk-from-paris/Chanina/pkg/libretto"
	"github.com/frisk-from-paris/Chanina/pkg/lock"
	"github.com/frisk-from-paris/Chanina/pkg/logging"
	"github.com/frisk-from-paris/Chanina/pkg/profile"
	"github.com/frisk-from-paris/Chanina/pkg/queue"
	"github.com/frisk-from-paris/Chanina/pkg/session"
)

// ReservedPrefix marks identifiers of built-in libretti supplied by the
// framework itself. User registrations must not use it.
const ReservedPrefix = "chanina."

var (
	// ErrReservedIdentifier is returned when a user registration carries the
	// reserved prefix.
	ErrReservedIdentifier = errors.New("chanina: identifier prefix \"chanina.\" is reserved")

	// ErrUnknownLibretto is returned when enqueueing an identifier nothing
	// was registered under.
	ErrUnknownLibretto = errors.New("chanina: unknown libretto")
)

// Options configures an App.
type Options struct {
	// Broker is the task-queue client. Required.
	Broker queue.Broker

	// LockStore is the shared store the profile checkout lock lives on.
	// Required when SessionEnabled.
	LockStore lock.Client

	// SessionEnabled controls whether workers bring up a browser session and
	// whether dispatched libretti receive one.
	SessionEnabled bool

	// Browser is the browser kind: "firefox" or "chrome".
	Browser string

	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// ProfilePath is the shared profile directory to lease from at worker
	// start. Empty means an ephemeral browser context with no profile.
	ProfilePath string

	// CallerPath identifies this deployment; the checkout lock key derives
	// from it. Defaults to the current working directory.
	CallerPath string

	// LockAcquireTimeout bounds how long a worker waits for the checkout
	// lock. Defaults to 45s.
	LockAcquireTimeout time.Duration

	// LockHoldTimeout bounds how long the checkout lock may be held before
	// it expires on its own. Defaults to 30s.
	LockHoldTimeout time.Duration

	// Logger may be nil.
	Logger *logging.Logger
}

// App is the Chanina application object: one per process image, created once
// at load time and alive for the process's entire lifetime.
type App struct {
	opts     Options
	broker   queue.Broker
	locks    *lock.Lock
	profiles *profile.Manager
	logger   *logging.Logger
	lockKey  string

	mu       sync.RWMutex
	libretti map[string]*libretto.Libretto

	sessionMu sync.Mutex
	session   *session.Session
	lease     *profile.Lease
}

// New creates an App and registers its worker lifecycle hooks and built-in
// libretti with the broker.
func New(opts Options) (*App, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("chanina: a broker is required")
	}
	if opts.SessionEnabled {
		if opts.LockStore == nil {
			return nil, fmt.Errorf("chanina: a lock store is required when the session is enabled")
		}
		if opts.Browser != session.BrowserFirefox && opts.Browser != session.BrowserChrome {
			return nil, fmt.Errorf("%w: got %q", session.ErrUnsupportedBrowser, opts.Browser)
		}
	}

	// Paths are pinned down now, while we still know what the current
	// directory means. A worker fork may have a different one.
	if opts.CallerPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("chanina: resolve caller path: %w", err)
		}
		opts.CallerPath = wd
	}
	callerPath, err := filepath.Abs(opts.CallerPath)
	if err != nil {
		return nil, fmt.Errorf("chanina: resolve caller path: %w", err)
	}
	opts.CallerPath = callerPath

	if opts.ProfilePath != "" {
		profilePath, absErr := filepath.Abs(opts.ProfilePath)
		if absErr != nil {
			return nil, fmt.Errorf("chanina: resolve profile path: %w", absErr)
		}
		opts.ProfilePath = profilePath
	}

	if opts.LockAcquireTimeout <= 0 {
		opts.LockAcquireTimeout = 45 * time.Second
	}
	if opts.LockHoldTimeout <= 0 {
		opts.LockHoldTimeout = 30 * time.Second
	}

	app := &App{
		opts:     opts,
		broker:   opts.Broker,
		profiles: profile.NewManager(opts.Logger),
		logger:   opts.Logger,
		lockKey:  lock.KeyFor(opts.CallerPath),
		libretti: make(map[string]*libretto.Libretto),
	}
	if opts.LockStore != nil {
		app.locks = lock.New(opts.LockStore)
	}

	if opts.SessionEnabled {
		app.broker.OnWorkerStart(app.initWorker)
		app.broker.OnWorkerStop(app.shutdownWorker)
	}

	app.registerDefaults()
	return app, nil
}

// SessionEnabled reports whether dispatched libretti receive a session.
func (a *App) SessionEnabled() bool { return a.opts.SessionEnabled }

// LockKey returns the checkout lock key of this deployment.
func (a *App) LockKey() string { return a.lockKey }

// Register wraps handler as a libretto under the given identifier and records
// it with the broker. Options are broker scheduling hints, forwarded
// verbatim. Registering an identifier twice replaces the earlier libretto
// (last write wins); the reserved prefix is refused.
func (a *App) Register(title string, handler libretto.Handler, options map[string]interface{}) (*libretto.Libretto, error) {
	if strings.HasPrefix(title, ReservedPrefix) {
		return nil, fmt.Errorf("%w: %s", ErrReservedIdentifier, title)
	}
	return a.register(title, handler, options), nil
}

// register is the unchecked registration path shared with built-ins.
func (a *App) register(title string, handler libretto.Handler, options map[string]interface{}) *libretto.Libretto {
	shape := libretto.ShapeBare
	if a.opts.SessionEnabled {
		shape = libretto.ShapeSession
	}
	lib := libretto.New(title, handler, shape, a.currentSession, options)

	a.mu.Lock()
	if _, exists := a.libretti[title]; exists {
		a.warnf("libretto %q registered twice, replacing the earlier one", title)
	}
	a.libretti[title] = lib
	a.mu.Unlock()

	a.broker.RegisterTask(lib)
	return lib
}

// Lookup returns the libretto registered under title.
func (a *App) Lookup(title string) (*libretto.Libretto, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	lib, ok := a.libretti[title]
	return lib, ok
}

// Libretti returns a snapshot of the registry.
func (a *App) Libretti() map[string]*libretto.Libretto {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]*libretto.Libretto, len(a.libretti))
	for title, lib := range a.libretti {
		out[title] = lib
	}
	return out
}

// Enqueue submits a registered libretto by identifier.
func (a *App) Enqueue(ctx context.Context, title string, args []string, config map[string]string) (queue.Result, error) {
	if _, ok := a.Lookup(title); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLibretto, title)
	}
	return a.broker.Enqueue(ctx, title, args, config)
}

// Run executes the broker's worker loop until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.broker.Run(ctx)
}

// Session returns the live worker session, or nil outside a worker's
// Ready window.
func (a *App) Session() *session.Session {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	return a.session
}

// currentSession adapts the live session for libretto dispatch. It returns a
// nil interface when no session exists so dispatch can fail cleanly.
func (a *App) currentSession() libretto.Session {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	if a.session == nil {
		return nil
	}
	return a.session
}

// initWorker is the worker start hook: it checks the profile out under the
// distributed lock and brings the browser session up. Any failure is fatal
// to the worker — it must not come up half-initialized.
func (a *App) initWorker(ctx context.Context) error {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	if a.session != nil {
		return fmt.Errorf("chanina: worker session already initialized")
	}

	a.infof("locking to start the session ...")
	guard, err := a.locks.Acquire(ctx, a.lockKey, a.opts.LockAcquireTimeout, a.opts.LockHoldTimeout)
	if err != nil {
		return err
	}
	// The lock guards only the checkout and launch window, not the
	// session's runtime lifetime.
	defer func() {
		if releaseErr := guard.Release(ctx); releaseErr != nil {
			a.errorf("failed to release checkout lock: %v", releaseErr)
		}
	}()

	var lease *profile.Lease
	if a.opts.ProfilePath != "" {
		lease, err = a.profiles.Checkout(a.opts.ProfilePath)
		if err != nil {
			return err
		}
	}

	sess := session.New(session.Options{
		Browser:     a.opts.Browser,
		Headless:    a.opts.Headless,
		ProfilePath: leasePath(lease),
	}, a.logger)

	if err := sess.Start(); err != nil {
		a.profiles.Release(lease)
		return err
	}

	a.session = sess
	a.lease = lease
	a.infof("worker session initialized (profile: %q)", leasePath(lease))
	return nil
}

// shutdownWorker is the worker stop hook: it closes the session, then
// releases the profile lease. It always completes.
func (a *App) shutdownWorker(_ context.Context) error {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
	if a.lease != nil {
		a.profiles.Release(a.lease)
		a.lease = nil
	}
	a.infof("worker session closed")
	return nil
}

func leasePath(lease *profile.Lease) string {
	if lease == nil {
		return ""
	}
	return lease.Path
}

func (a *App) infof(format string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Infof(format, v...)
	}
}

func (a *App) warnf(format string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Warnf(format, v...)
	}
}

func (a *App) errorf(format string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Errorf(format, v...)
	}
}
