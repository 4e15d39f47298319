package chanina

import (
	"context"
	"sort"

	"github.com/frisk-from-paris/Chanina/pkg/libretto"
)

// Built-in libretto identifiers.
const (
	// LibrettoListLibretti logs and returns the registered identifiers.
	LibrettoListLibretti = ReservedPrefix + "list_libretti"

	// LibrettoNewPage opens a new page on the current session, which becomes
	// the current interaction surface for tasks run after it.
	LibrettoNewPage = ReservedPrefix + "new_page"
)

// registerDefaults installs the framework's built-in libretti. They live
// under the reserved prefix so user registrations can never shadow them.
func (a *App) registerDefaults() {
	a.register(LibrettoListLibretti, a.listLibretti, nil)
	a.register(LibrettoNewPage, a.newPage, nil)
}

// listLibretti reports the registry contents. Useful as a smoke test that a
// worker is consuming the queue.
func (a *App) listLibretti(_ context.Context, _ *libretto.Call) (interface{}, error) {
	registry := a.Libretti()
	titles := make([]string, 0, len(registry))
	for title := range registry {
		titles = append(titles, title)
	}
	sort.Strings(titles)

	a.infof("registered libretti: %v", titles)
	return titles, nil
}

// newPage opens a fresh page on the injected session. Failures are logged,
// not propagated: the built-in is a convenience step inside larger runs and
// must not fail them.
func (a *App) newPage(_ context.Context, call *libretto.Call) (interface{}, error) {
	if call.Session == nil {
		return nil, nil
	}
	if _, err := call.Session.NewPage(); err != nil {
		a.errorf("failed to open a new page: %v", err)
	}
	return nil, nil
}
