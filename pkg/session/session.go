// Package session owns the single long-lived browser context of a worker
// process.
//
// A Session is shared in memory between every task executed inside the same
// worker: it is created once by the worker start hook, drives one Playwright
// browser for the whole process lifetime, and is torn down once by the worker
// stop hook.
package session

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/frisk-from-paris/Chanina/pkg/logging"
)

// Supported browser kinds.
const (
	BrowserFirefox = "firefox"
	BrowserChrome  = "chrome"
)

var (
	// ErrUnsupportedBrowser is returned for a browser kind other than
	// "firefox" or "chrome". This is a fatal configuration error.
	ErrUnsupportedBrowser = errors.New(`session: browser must be "firefox" or "chrome"`)

	// ErrNotReady is returned when an operation requires a Ready session.
	ErrNotReady = errors.New("session: not ready")
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting-down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a Session.
type Options struct {
	// Browser selects the browser kind: "firefox" or "chrome".
	Browser string

	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// ProfilePath is the leased profile directory the browser should use.
	// Empty means an ephemeral context with no on-disk profile. Only firefox
	// launches persistently; chrome always gets an ephemeral context.
	ProfilePath string
}

// Session is the per-process browser session. It moves through
// Uninitialized → Initializing → Ready → ShuttingDown → Closed and is only
// usable by dispatched work while Ready.
type Session struct {
	mu    sync.Mutex
	state State
	opts  Options

	pw      *playwright.Playwright
	browser playwright.Browser // set only for ephemeral launches
	context playwright.BrowserContext
	current playwright.Page

	values map[string]interface{}
	logger *logging.Logger
}

// New creates an uninitialized Session. Call Start to bring the browser up.
// The logger may be nil.
func New(opts Options, logger *logging.Logger) *Session {
	return &Session{
		state:  StateUninitialized,
		opts:   opts,
		values: make(map[string]interface{}),
		logger: logger,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether dispatched work may use the session.
func (s *Session) Ready() bool {
	return s.State() == StateReady
}

// Values is a free-form scratch space shared by every task dispatched to
// this worker process. It is never serialized and dies with the process.
func (s *Session) Values() map[string]interface{} {
	return s.values
}

// ProfilePath returns the profile directory in use, or "" if none.
func (s *Session) ProfilePath() string {
	return s.opts.ProfilePath
}

// Start launches the browser driver and opens the process's browser context.
// It is only valid from the Uninitialized state. An unsupported browser kind
// fails before any driver process is started.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return fmt.Errorf("session: start from %s state", s.state)
	}
	if s.opts.Browser != BrowserFirefox && s.opts.Browser != BrowserChrome {
		return fmt.Errorf("%w: got %q", ErrUnsupportedBrowser, s.opts.Browser)
	}

	s.state = StateInitializing

	if err := s.launch(); err != nil {
		// Bring-up failed: the session is unusable and the worker should not
		// accept work.
		s.state = StateClosed
		return err
	}

	s.state = StateReady
	s.infof("session ready (browser: %s, profile: %q)", s.opts.Browser, s.opts.ProfilePath)
	return nil
}

// launch starts the Playwright driver and builds the browser context.
// Callers hold the mutex.
func (s *Session) launch() error {
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("session: install playwright: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("session: start playwright: %w", err)
	}
	s.pw = pw

	switch s.opts.Browser {
	case BrowserFirefox:
		if s.opts.ProfilePath != "" {
			s.infof("launching firefox with persistent context (profile: %q)", s.opts.ProfilePath)
			context, launchErr := pw.Firefox.LaunchPersistentContext(
				s.opts.ProfilePath,
				playwright.BrowserTypeLaunchPersistentContextOptions{
					Headless: playwright.Bool(s.opts.Headless),
				},
			)
			if launchErr != nil {
				s.stopDriver()
				return fmt.Errorf("session: launch persistent firefox: %w", launchErr)
			}
			s.context = context
			return nil
		}

		s.infof("launching firefox")
		return s.launchEphemeral(pw.Firefox)

	case BrowserChrome:
		s.infof("launching chrome")
		return s.launchEphemeral(pw.Chromium)
	}

	// Unreachable: the kind is validated in Start.
	return fmt.Errorf("%w: got %q", ErrUnsupportedBrowser, s.opts.Browser)
}

// launchEphemeral launches a browser with no persistent profile and opens a
// fresh context. Callers hold the mutex.
func (s *Session) launchEphemeral(browserType playwright.BrowserType) error {
	browser, err := browserType.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.opts.Headless),
	})
	if err != nil {
		s.stopDriver()
		return fmt.Errorf("session: launch %s: %w", browserType.Name(), err)
	}

	context, err := browser.NewContext()
	if err != nil {
		if closeErr := browser.Close(); closeErr != nil {
			s.errorf("failed to close browser after context error: %v", closeErr)
		}
		s.stopDriver()
		return fmt.Errorf("session: new context: %w", err)
	}

	s.browser = browser
	s.context = context
	return nil
}

// NewPage opens a new page in the session's browser context. The page becomes
// the session's current interaction surface for subsequent work. Only valid
// while Ready.
func (s *Session) NewPage() (playwright.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil, fmt.Errorf("%w: new page in %s state", ErrNotReady, s.state)
	}

	page, err := s.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("session: new page: %w", err)
	}
	s.current = page
	return page, nil
}

// CurrentPage returns the most recently opened page, or nil if none.
func (s *Session) CurrentPage() playwright.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close tears the session down: the browser context is closed, then the
// driver process is stopped. Close-time errors are logged and suppressed so
// teardown always completes. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.state = StateShuttingDown

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			s.errorf("browser context closed with an error: %v", err)
		}
		s.context = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.errorf("browser closed with an error: %v", err)
		}
		s.browser = nil
	}
	s.stopDriver()

	s.current = nil
	s.state = StateClosed
	s.infof("session closed")
}

// stopDriver stops the Playwright driver process. Callers hold the mutex.
func (s *Session) stopDriver() {
	if s.pw == nil {
		return
	}
	if err := s.pw.Stop(); err != nil {
		s.errorf("playwright driver stopped with an error: %v", err)
	}
	s.pw = nil
}

func (s *Session) infof(format string, v ...interface{}) {
	if s.logger != nil {
		s.logger.Infof(format, v...)
	}
}

func (s *Session) errorf(format string, v ...interface{}) {
	if s.logger != nil {
		s.logger.Errorf(format, v...)
	}
}
