package scan

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/agentic-research/metromap/api"
)

// session owns one scan: a cooperatively time-sliced walk of a single
// filesystem root, streaming bounded batches over its event channel.
// Each session is fully independent; there is no shared mutable state
// between scan ids.
type session struct {
	id   string
	root string
	fs   billy.Filesystem
	opts api.ScanOptions
	log  *slog.Logger

	cancelled atomic.Bool
	events    chan api.Event
	quit      chan struct{}
	quitOnce  sync.Once

	mu    sync.RWMutex
	state api.ScanState

	// Walker-local state. Only the walk goroutine touches these.
	batch      []api.ScanNode
	files      int
	dirs       int
	truncated  bool
	sliceStart time.Time
	visited    map[string]struct{}
}

// pending is a directory waiting to be listed. Its node is emitted at
// listing time so a listing failure can still be attached to it.
type pending struct {
	fsPath  string
	display string
	depth   int
	info    os.FileInfo
	limited bool
}

func newSession(id, root string, fsys billy.Filesystem, opts api.ScanOptions, log *slog.Logger) *session {
	s := &session{
		id:      id,
		root:    root,
		fs:      fsys,
		opts:    opts.Normalize(),
		log:     log.With("scanId", id),
		events:  make(chan api.Event, 64),
		quit:    make(chan struct{}),
		visited: make(map[string]struct{}),
	}
	s.state = api.ScanState{ScanID: id, Root: root}
	return s
}

// Cancel sets the cooperative flag. The walk observes it at the next
// slice or batch boundary, at most one time-slice away.
func (s *session) Cancel() bool {
	if s.terminal() {
		return false
	}
	s.cancelled.Store(true)
	return true
}

func (s *session) terminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Done
}

// State returns a read-only snapshot of the scan's progress.
func (s *session) State() api.ScanState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if s.state.ApproxCompletion != nil {
		v := *s.state.ApproxCompletion
		st.ApproxCompletion = &v
	}
	return st
}

// dispose unblocks a walker stuck on an abandoned event channel.
func (s *session) dispose() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *session) send(ev api.Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

// run drives the walk to its single terminal event and closes the
// event stream. Exactly one done event is emitted per scan.
func (s *session) run() {
	defer close(s.events)

	s.send(api.Event{Type: api.EventStarted, ScanID: s.id, State: s.State()})
	s.sliceStart = time.Now()
	s.walk()

	s.mu.Lock()
	s.state.Done = true
	s.state.Cancelled = s.cancelled.Load()
	s.state.Truncated = s.truncated
	if !s.state.Cancelled {
		one := 1.0
		s.state.ApproxCompletion = &one
	}
	s.mu.Unlock()

	st := s.State()
	s.log.Debug("scan finished",
		"files", st.FilesProcessed, "dirs", st.DirsProcessed,
		"cancelled", st.Cancelled, "truncated", st.Truncated)
	s.send(api.Event{Type: api.EventDone, ScanID: s.id, State: st})
}

func (s *session) walk() {
	rootInfo, err := s.fs.Lstat("/")
	if err != nil {
		// In-memory filesystems may have no explicit root entry; a
		// listable root is still a scannable directory.
		if _, rdErr := s.fs.ReadDir("/"); rdErr != nil {
			// A root that cannot be opened at all is a single
			// root-level error node, not a scan failure.
			node := api.ScanNode{Path: s.root, Depth: 0, Kind: api.KindDirectory}
			s.attachError(&node, err)
			s.append(node)
			s.flush(false)
			return
		}
		rootInfo = nil
	}
	if rootInfo != nil && !rootInfo.IsDir() {
		s.append(s.fileNode(s.root, 0, rootInfo, false))
		s.flush(false)
		return
	}

	queue := []pending{{fsPath: "/", display: s.root, depth: 0, info: rootInfo}}
	for len(queue) > 0 {
		if s.cancelled.Load() {
			s.batch = nil
			return
		}
		d := queue[0]
		queue = queue[1:]

		var children []pending
		more := func(i, n int) bool { return i < n || len(queue) > 0 || len(children) > 0 }

		entries, listErr := s.listDir(d)
		node := s.dirNode(d)
		if listErr != nil {
			s.attachError(&node, listErr)
		}
		if halt := s.emit(node, more(0, len(entries))); halt {
			return
		}

		for i, entry := range entries {
			childPath := path.Join(d.display, entry.Name())
			childFS := path.Join(d.fsPath, entry.Name())
			depth := d.depth + 1
			limited := s.opts.MaxDepth > 0 && depth > s.opts.MaxDepth

			child, dir := s.classifyEntry(childFS, childPath, depth, entry, limited)
			if dir != nil {
				// Directories are emitted when listed, keeping parents
				// strictly ahead of their children in the stream.
				children = append(children, *dir)
				continue
			}
			if halt := s.emit(child, more(i+1, len(entries))); halt {
				return
			}
		}
		queue = append(queue, children...)
	}
	s.flush(false)
}

// listDir reads one directory with a per-entry panic guard: an
// unexpected failure becomes an error on the directory's node rather
// than aborting the walk.
func (s *session) listDir(d pending) (entries []os.FileInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			entries, err = nil, fmt.Errorf("reading %s: %v", d.display, r)
		}
	}()
	entries, err = s.fs.ReadDir(d.fsPath)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// classifyEntry turns a directory listing entry into either an
// immediately emitted node or a pending directory. Depth-limited
// directories are emitted one level past the limit and never expanded.
func (s *session) classifyEntry(fsPath, display string, depth int, info os.FileInfo, limited bool) (api.ScanNode, *pending) {
	if info.Mode()&os.ModeSymlink != 0 {
		return s.symlinkNode(fsPath, display, depth, info, limited)
	}
	if info.IsDir() {
		if limited {
			node := s.dirNode(pending{display: display, depth: depth, info: info, limited: true})
			return node, nil
		}
		return api.ScanNode{}, &pending{fsPath: fsPath, display: display, depth: depth, info: info}
	}
	return s.fileNode(display, depth, info, limited), nil
}

func (s *session) symlinkNode(fsPath, display string, depth int, info os.FileInfo, limited bool) (api.ScanNode, *pending) {
	node := s.fileNode(display, depth, info, limited)
	target, err := s.fs.Readlink(fsPath)
	if err != nil {
		s.attachError(&node, err)
		return node, nil
	}
	if s.opts.IncludeMetadata {
		node.SymlinkTarget = target
	}
	if !s.opts.FollowSymlinks || limited {
		return node, nil
	}

	resolved := target
	if !path.IsAbs(resolved) {
		resolved = path.Join(path.Dir(fsPath), target)
	}
	if _, seen := s.visited[resolved]; seen {
		return node, nil
	}
	ti, err := s.fs.Stat(fsPath)
	if err != nil {
		s.attachError(&node, err)
		return node, nil
	}
	if !ti.IsDir() {
		return node, nil
	}
	s.visited[resolved] = struct{}{}
	return api.ScanNode{}, &pending{fsPath: resolved, display: display, depth: depth, info: ti}
}

func (s *session) dirNode(d pending) api.ScanNode {
	node := api.ScanNode{
		Path:         d.display,
		Depth:        d.depth,
		Kind:         api.KindDirectory,
		DepthLimited: d.limited,
	}
	if s.opts.IncludeMetadata && d.info != nil {
		mt := d.info.ModTime()
		node.ModTime = &mt
	}
	return node
}

func (s *session) fileNode(display string, depth int, info os.FileInfo, limited bool) api.ScanNode {
	node := api.ScanNode{
		Path:         display,
		Depth:        depth,
		Kind:         api.KindFile,
		DepthLimited: limited,
	}
	if s.opts.IncludeMetadata {
		node.Size = info.Size()
		mt := info.ModTime()
		node.ModTime = &mt
	}
	return node
}

// attachError records a classified per-node error. Never fatal.
func (s *session) attachError(node *api.ScanNode, err error) {
	node.Error = err.Error()
	node.ErrorKind = Classify(err)
}

func (s *session) append(node api.ScanNode) {
	s.batch = append(s.batch, node)
	if node.Kind == api.KindDirectory {
		s.dirs++
	} else {
		s.files++
	}
}

// emit appends one node and enforces the entry bound and slice budget.
// Returns true when the walk must halt (bound reached or cancelled).
func (s *session) emit(node api.ScanNode, moreRemaining bool) bool {
	s.append(node)

	if s.opts.MaxEntries > 0 && s.files+s.dirs >= s.opts.MaxEntries {
		s.truncated = moreRemaining
		if s.truncated {
			for i := range s.batch {
				s.batch[i].Truncated = true
			}
			s.mu.Lock()
			s.state.Truncated = true
			s.mu.Unlock()
		}
		s.flush(s.truncated)
		return true
	}

	if len(s.batch) >= s.opts.BatchSize || time.Since(s.sliceStart) >= s.opts.TimeSlice {
		s.flush(false)
		if s.cancelled.Load() {
			return true
		}
	}
	return false
}

// flush publishes the pending partial batch plus a progress snapshot,
// then yields so the walk never monopolizes a slice.
func (s *session) flush(truncated bool) {
	if len(s.batch) == 0 && !truncated {
		s.sliceStart = time.Now()
		return
	}
	nodes := s.batch
	s.batch = nil

	s.mu.Lock()
	s.state.FilesProcessed = s.files
	s.state.DirsProcessed = s.dirs
	if s.opts.MaxEntries > 0 {
		frac := float64(s.files+s.dirs) / float64(s.opts.MaxEntries)
		if frac > 1 {
			frac = 1
		}
		s.state.ApproxCompletion = &frac
	}
	s.mu.Unlock()

	s.send(api.Event{Type: api.EventPartial, ScanID: s.id, Nodes: nodes, Truncated: truncated, State: s.State()})
	s.send(api.Event{Type: api.EventProgress, ScanID: s.id, State: s.State()})

	runtime.Gosched()
	s.sliceStart = time.Now()
}
