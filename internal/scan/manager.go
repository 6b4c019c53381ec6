package scan

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/metromap/api"
)

// ErrUnknownScan is returned for scan ids the manager has never seen or
// has already disposed.
var ErrUnknownScan = errors.New("unknown scan id")

// Manager is the registry of scan sessions. Each StartScan creates an
// independent session handle with its own event stream and cooperative
// cancel flag; sessions stay readable after their terminal event until
// explicitly disposed.
type Manager struct {
	log *slog.Logger

	// OpenFS maps a root path to the filesystem to walk. Overridable so
	// tests can scan an in-memory filesystem.
	OpenFS func(root string) billy.Filesystem

	mu       sync.Mutex
	sessions map[string]*session
	group    errgroup.Group
}

func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		log:      log,
		OpenFS:   func(root string) billy.Filesystem { return osfs.New(root) },
		sessions: make(map[string]*session),
	}
}

// StartScan begins walking root and returns the new scan id. The walk
// itself is cooperative; a root that cannot be opened still produces a
// started event, one root-level error node and a terminal event.
func (m *Manager) StartScan(root string, opts api.ScanOptions) string {
	return m.start(root, m.OpenFS(root), opts)
}

// StartScanFS is StartScan over an explicit filesystem.
func (m *Manager) StartScanFS(root string, fsys billy.Filesystem, opts api.ScanOptions) string {
	return m.start(root, fsys, opts)
}

func (m *Manager) start(root string, fsys billy.Filesystem, opts api.ScanOptions) string {
	id := uuid.NewString()
	s := newSession(id, root, fsys, opts, m.log)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.log.Debug("scan started", "scanId", id, "root", root)
	m.group.Go(func() error {
		s.run()
		return nil
	})
	return id
}

// Events returns the session's ordered event stream. The channel is
// closed after the terminal event.
func (m *Manager) Events(id string) (<-chan api.Event, error) {
	s, ok := m.lookup(id)
	if !ok {
		return nil, ErrUnknownScan
	}
	return s.events, nil
}

// CancelScan requests cooperative cancellation. Idempotent in effect:
// repeated calls after the first, or calls on unknown or already
// terminal scans, return false.
func (m *Manager) CancelScan(id string) bool {
	s, ok := m.lookup(id)
	if !ok {
		return false
	}
	return s.Cancel()
}

// State returns a snapshot of the scan's progress.
func (m *Manager) State(id string) (api.ScanState, error) {
	s, ok := m.lookup(id)
	if !ok {
		return api.ScanState{}, ErrUnknownScan
	}
	return s.State(), nil
}

// Dispose removes a session from the registry and unblocks its walker
// if it is still emitting. After Dispose the id is unknown.
func (m *Manager) Dispose(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.cancelled.Store(true)
		s.dispose()
	}
}

// Close cancels every live session and waits for their walkers.
func (m *Manager) Close() error {
	m.mu.Lock()
	for _, s := range m.sessions {
		s.cancelled.Store(true)
		s.dispose()
	}
	m.mu.Unlock()
	return m.group.Wait()
}

func (m *Manager) lookup(id string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}
