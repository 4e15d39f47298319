// Package profile implements checkout and release of browser user profiles.
//
// A browser profile directory can only be driven by one live browser process.
// Checkout grants a worker process an exclusive, process-local copy of a
// shared profile directory so that any number of workers can run against the
// same configured profile without coordinating among themselves.
package profile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/frisk-from-paris/Chanina/pkg/logging"
)

var (
	// ErrInvalidProfile is returned when the source path exists but is not a
	// directory. This is a configuration error and is never retried.
	ErrInvalidProfile = errors.New("profile: source path is not a directory")

	// ErrProfileCopy is returned when the profile tree could not be copied.
	// Any partial destination is removed before the error surfaces.
	ErrProfileCopy = errors.New("profile: copy failed")
)

// TempPrefix marks a leased copy as temporary. Release only ever deletes
// paths carrying this marker, so a persistent profile can never be removed
// by accident.
const TempPrefix = "tmp-"

// lockMarkerPatterns match the browser's own process-lock files inside a
// profile. They must never be cloned into a copy.
var lockMarkerPatterns = []glob.Glob{
	glob.MustCompile("lock"),
	glob.MustCompile("*.lock"),
}

// Lease is the exclusive right to use a profile directory.
//
// A persistent lease references a freshly created directory directly (it did
// not exist before checkout, so it is already exclusively owned). A temporary
// lease references a private copy of an existing shared profile.
type Lease struct {
	// Source is the resolved path of the configured profile directory.
	Source string

	// Path is the directory the browser should actually use.
	Path string

	// Temporary reports whether Path is a private copy that must be deleted
	// on release.
	Temporary bool
}

// Manager checks profiles out and reclaims them.
type Manager struct {
	logger *logging.Logger
}

// NewManager creates a profile manager. The logger may be nil.
func NewManager(logger *logging.Logger) *Manager {
	return &Manager{logger: logger}
}

// Checkout produces an exclusive lease on the profile at sourcePath.
//
// If sourcePath does not exist it is created and leased directly as a
// persistent profile — the path a brand-new deployment takes the first time
// it runs. If it exists as a directory, a private copy is made (excluding
// the browser's lock-marker files) and leased as temporary.
func (m *Manager) Checkout(sourcePath string) (*Lease, error) {
	src, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("profile: resolve %s: %w", sourcePath, err)
	}

	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		m.warnf("%s doesn't exist, defaulting to creating a persistent one", src)
		if mkErr := os.MkdirAll(src, 0755); mkErr != nil {
			return nil, fmt.Errorf("profile: create %s: %w", src, mkErr)
		}
		return &Lease{Source: src, Path: src, Temporary: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProfile, src)
	}

	dest := filepath.Join(filepath.Dir(src), TempPrefix+filepath.Base(src)+"-"+uuid.New().String())
	if err := copyTree(src, dest); err != nil {
		m.errorf("%s could not be copied to be used as a browser profile: %v", src, err)
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			m.errorf("failed to clean up partial copy %s: %v", dest, rmErr)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProfileCopy, src, err)
	}

	return &Lease{Source: src, Path: dest, Temporary: true}, nil
}

// Release reclaims a lease. Temporary leases are deleted from disk
// best-effort; deletion errors are logged, never propagated. Persistent
// leases are retained for future reuse.
func (m *Manager) Release(lease *Lease) {
	if lease == nil || lease.Path == "" {
		return
	}
	if !lease.Temporary || !strings.HasPrefix(filepath.Base(lease.Path), TempPrefix) {
		m.infof("%s is a persistent profile, bypassing the deletion", lease.Path)
		return
	}

	m.infof("deleting temporary profile %s", lease.Path)
	if err := os.RemoveAll(lease.Path); err != nil {
		m.errorf("failed to delete temporary profile %s: %v", lease.Path, err)
	}
}

// isLockMarker reports whether a file or directory name is one of the
// browser's own lock markers.
func isLockMarker(name string) bool {
	for _, pattern := range lockMarkerPatterns {
		if pattern.Match(name) {
			return true
		}
	}
	return false
}

// copyTree recursively copies the directory tree at src to dest, skipping
// lock-marker files and directories.
func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if isLockMarker(info.Name()) && path != src {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			// Sockets, pipes and other irregular files have no meaning in a
			// copied profile.
			return nil
		}
	})
}

func copyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (m *Manager) infof(format string, v ...interface{}) {
	if m.logger != nil {
		m.logger.Infof(format, v...)
	}
}

func (m *Manager) warnf(format string, v ...interface{}) {
	if m.logger != nil {
		m.logger.Warnf(format, v...)
	}
}

func (m *Manager) errorf(format string, v ...interface{}) {
	if m.logger != nil {
		m.logger.Errorf(format, v...)
	}
}
