// Package station maintains the live metro-map tree: scan batches fold
// into path-indexed stations, and dense sibling sets collapse into
// synthetic aggregated stations without losing membership information.
package station

import (
	"path"

	"github.com/agentic-research/metromap/api"
)

// AggregateName is the path component of synthetic overflow stations.
const AggregateName = "…"

// Config tunes the adapter. The threshold is configuration, not an
// invariant.
type Config struct {
	// AggregationThreshold is the maximum number of direct children a
	// directory shows before the overflow collapses into one aggregated
	// station.
	AggregationThreshold int
}

func DefaultConfig() Config {
	return Config{AggregationThreshold: 28}
}

// Station is one positioned node of the map. Aggregated stations are
// synthetic: they summarize overflow siblings and hold every hidden
// child path in Members.
type Station struct {
	Path         string
	ParentPath   string
	Depth        int
	Kind         api.NodeKind
	X, Y         float64
	Aggregated   bool
	Members      []string
	DepthLimited bool
	ErrorKind    api.ErrorKind
}

// Tree is the live station tree for one scan root. All mutation happens
// on the single consumer goroutine; the tree itself does no locking.
type Tree struct {
	cfg      Config
	root     string
	stations map[string]*Station
	children map[string][]string // direct real children, traversal order
	expanded map[string]bool     // aggregated station path -> expanded
	selected string
}

func NewTree(cfg Config) *Tree {
	if cfg.AggregationThreshold <= 0 {
		cfg.AggregationThreshold = DefaultConfig().AggregationThreshold
	}
	return &Tree{
		cfg:      cfg,
		stations: make(map[string]*Station),
		children: make(map[string][]string),
		expanded: make(map[string]bool),
	}
}

// Reset replaces the tree wholesale for a new scan root. Stations never
// survive a root change.
func (t *Tree) Reset(root string) {
	t.root = root
	t.stations = make(map[string]*Station)
	t.children = make(map[string][]string)
	t.expanded = make(map[string]bool)
	t.selected = ""
}

func (t *Tree) Root() string       { return t.root }
func (t *Tree) Len() int           { return len(t.stations) }
func (t *Tree) Selection() string  { return t.selected }
func (t *Tree) Select(path string) { t.selected = path }

// Ingest merges one scan batch into the tree by path-prefix linking.
// Parents arrive before children in scan order, but missing ancestors
// are still materialized so a batch can never orphan a node.
func (t *Tree) Ingest(nodes []api.ScanNode) {
	for _, n := range nodes {
		if n.Depth == 0 && t.root == "" {
			t.root = n.Path
		}
		t.add(n)
	}
}

func (t *Tree) add(n api.ScanNode) {
	if _, ok := t.stations[n.Path]; ok {
		return
	}
	parent := ""
	if n.Path != t.root {
		parent = path.Dir(n.Path)
		t.ensure(parent, n.Depth-1)
		t.children[parent] = append(t.children[parent], n.Path)
	}
	t.stations[n.Path] = &Station{
		Path:         n.Path,
		ParentPath:   parent,
		Depth:        n.Depth,
		Kind:         n.Kind,
		DepthLimited: n.DepthLimited,
		ErrorKind:    n.ErrorKind,
	}
	if parent != "" {
		t.refreshAggregate(parent)
	}
}

// ensure materializes a missing ancestor chain up to the root.
func (t *Tree) ensure(p string, depth int) {
	if p == "" || p == "." {
		return
	}
	if _, ok := t.stations[p]; ok {
		return
	}
	parent := ""
	if p != t.root {
		parent = path.Dir(p)
		t.ensure(parent, depth-1)
		t.children[parent] = append(t.children[parent], p)
	}
	if depth < 0 {
		depth = 0
	}
	t.stations[p] = &Station{Path: p, ParentPath: parent, Depth: depth, Kind: api.KindDirectory}
	if parent != "" {
		t.refreshAggregate(parent)
	}
}

// AggregatePath returns the synthetic overflow station path for a
// parent directory.
func AggregatePath(parent string) string {
	return path.Join(parent, AggregateName)
}

// refreshAggregate creates or updates the overflow station once a
// parent's direct children exceed the threshold. Membership is kept in
// full: collapse and expansion are lossless.
func (t *Tree) refreshAggregate(parent string) {
	kids := t.children[parent]
	if len(kids) <= t.cfg.AggregationThreshold {
		return
	}
	ap := AggregatePath(parent)
	keep := t.cfg.AggregationThreshold - 1
	agg, ok := t.stations[ap]
	if !ok {
		ps := t.stations[parent]
		agg = &Station{
			Path:       ap,
			ParentPath: parent,
			Depth:      ps.Depth + 1,
			Kind:       api.KindDirectory,
			Aggregated: true,
		}
		t.stations[ap] = agg
	}
	agg.Members = append(agg.Members[:0], kids[keep:]...)
}

// Aggregated reports whether the parent currently overflows.
func (t *Tree) Aggregated(parent string) bool {
	_, ok := t.stations[AggregatePath(parent)]
	return ok
}

// Expanded reports whether an overflow station is currently expanded.
func (t *Tree) Expanded(aggPath string) bool { return t.expanded[aggPath] }

// ToggleAggregation expands or collapses one overflow station.
// Expanding with no prior selection selects the aggregated station
// itself. Collapsing clears the selection only when the selection is one
// of the now-hidden members.
func (t *Tree) ToggleAggregation(aggPath string) bool {
	agg, ok := t.stations[aggPath]
	if !ok || !agg.Aggregated {
		return false
	}
	if !t.expanded[aggPath] {
		t.expanded[aggPath] = true
		if t.selected == "" {
			t.selected = aggPath
		}
		return true
	}
	delete(t.expanded, aggPath)
	for _, m := range agg.Members {
		if t.selected == m {
			t.selected = ""
			break
		}
	}
	return true
}

// VisibleChildren returns the parent's children as currently shown:
// full order while expanded, truncated order plus the aggregate while
// collapsed.
func (t *Tree) VisibleChildren(parent string) []string {
	kids := t.children[parent]
	ap := AggregatePath(parent)
	agg, overflow := t.stations[ap]
	if !overflow {
		return kids
	}
	if t.expanded[ap] {
		out := make([]string, 0, len(kids)+1)
		out = append(out, kids...)
		return append(out, ap)
	}
	keep := len(kids) - len(agg.Members)
	out := make([]string, 0, keep+1)
	out = append(out, kids[:keep]...)
	return append(out, ap)
}

// Children returns the parent's full real child order, hidden or not.
func (t *Tree) Children(parent string) []string {
	return t.children[parent]
}

// Station returns the station at path, or nil.
func (t *Tree) Station(p string) *Station { return t.stations[p] }

// Walk visits every visible station in depth-first traversal order,
// starting at the root.
func (t *Tree) Walk(visit func(*Station)) {
	if t.root == "" {
		return
	}
	var rec func(p string)
	rec = func(p string) {
		st, ok := t.stations[p]
		if !ok {
			return
		}
		visit(st)
		for _, c := range t.VisibleChildren(p) {
			rec(c)
		}
	}
	rec(t.root)
}

// Paths returns every station path, visible or hidden.
func (t *Tree) Paths() []string {
	out := make([]string, 0, len(t.stations))
	for p := range t.stations {
		out = append(out, p)
	}
	return out
}
