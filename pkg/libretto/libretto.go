// Package libretto turns plain functions into dispatchable work items.
//
// A Libretto wraps a user handler so it can be registered with the task
// broker under an identifier. Whatever calling convention the broker uses on
// the wire, the handler only ever observes a stable Call shape: the filtered
// positional arguments, the live worker session when session support is
// enabled, and an always-present configuration map.
package libretto

import (
	"context"
	"errors"
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// ErrSessionRequired is returned when a session-injecting libretto is
// dispatched but no usable session exists in the worker process. It fails
// the dispatched item, never the process.
var ErrSessionRequired = errors.New("libretto: session required but not available")

// Session is the capability surface a dispatched handler sees. The worker's
// session satisfies it; tests may substitute their own.
type Session interface {
	// NewPage opens a new page, which becomes the session's current
	// interaction surface.
	NewPage() (playwright.Page, error)

	// CurrentPage returns the most recently opened page, or nil.
	CurrentPage() playwright.Page

	// Values is the worker-lifetime scratch space shared across tasks.
	Values() map[string]interface{}

	// Ready reports whether the session can be used.
	Ready() bool
}

// Call is the stable argument shape every handler receives.
type Call struct {
	// Args are the effective positional arguments: empty placeholder
	// arguments from the enqueue convention are dropped.
	Args []string

	// Session is the live worker session. It is nil if and only if the
	// libretto was built without session injection.
	Session Session

	// Config is the trailing configuration mapping. Always non-nil.
	Config map[string]string
}

// Handler is a user function wrapped by a Libretto. Errors it returns
// propagate unchanged to the broker's failure policy.
type Handler func(ctx context.Context, call *Call) (interface{}, error)

// Shape selects the dispatch shape of a libretto. It is fixed once at
// construction from the application's session configuration, never
// re-derived per call.
type Shape int

const (
	// ShapeBare dispatches without a session.
	ShapeBare Shape = iota

	// ShapeSession injects the live worker session into every call.
	ShapeSession
)

// SessionSource yields the current process's session at dispatch time. It
// returns nil when no session exists.
type SessionSource func() Session

// Libretto is a registered work item: an identifier, the wrapped handler,
// and the dispatch shape resolved at construction.
type Libretto struct {
	title   string
	handler Handler
	shape   Shape
	source  SessionSource
	options map[string]interface{}
}

// New creates a Libretto. For ShapeSession, source must be non-nil; it is
// consulted on every dispatch so the handler never sees a stale session.
func New(title string, handler Handler, shape Shape, source SessionSource, options map[string]interface{}) *Libretto {
	return &Libretto{
		title:   title,
		handler: handler,
		shape:   shape,
		source:  source,
		options: options,
	}
}

// Title returns the libretto's identifier.
func (l *Libretto) Title() string { return l.title }

// Shape returns the dispatch shape fixed at construction.
func (l *Libretto) Shape() Shape { return l.shape }

// Options returns the broker scheduling hints recorded at registration.
// Their meaning belongs to the broker; they are forwarded verbatim.
func (l *Libretto) Options() map[string]interface{} { return l.options }

// Invoke executes the wrapped handler with the stable Call shape.
//
// Empty positional arguments are dropped before the handler sees them. With
// ShapeSession, the current session is injected; if none exists or it is not
// Ready, Invoke fails with ErrSessionRequired rather than passing an invalid
// session. Handler errors are returned as-is.
func (l *Libretto) Invoke(ctx context.Context, args []string, config map[string]string) (interface{}, error) {
	call := &Call{
		Args:   filterArgs(args),
		Config: config,
	}
	if call.Config == nil {
		call.Config = make(map[string]string)
	}

	if l.shape == ShapeSession {
		var sess Session
		if l.source != nil {
			sess = l.source()
		}
		if sess == nil || !sess.Ready() {
			return nil, fmt.Errorf("%w: %s", ErrSessionRequired, l.title)
		}
		call.Session = sess
	}

	return l.handler(ctx, call)
}

// filterArgs drops empty placeholder arguments, an artifact of how enqueue
// calls construct their argument list.
func filterArgs(args []string) []string {
	filtered := make([]string, 0, len(args))
	for _, arg := range args {
		if arg != "" {
			filtered = append(filtered, arg)
		}
	}
	return filtered
}
