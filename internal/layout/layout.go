// Package layout assigns metro-map coordinates: stations sit on
// parallel per-depth lines, ordered by a deterministic traversal, with
// an incremental fast path for pure tail appends.
package layout

import (
	"sort"

	"github.com/agentic-research/metromap/internal/station"
)

// Position is a station coordinate in map units.
type Position struct {
	X, Y float64
}

// Config tunes the grid geometry.
type Config struct {
	// ColumnGap is the horizontal distance between depth lines.
	ColumnGap float64
	// RowGap is the vertical distance between traversal rows.
	RowGap float64
}

func DefaultConfig() Config {
	return Config{ColumnGap: 120, RowGap: 40}
}

// Metrics counts layout invocations. It exists both for behavior (the
// fast path must not touch FullLayouts) and for test observability.
type Metrics struct {
	FullLayouts  int
	FastPathUses int
}

// Fast-path outcome reasons reported by IncrementalAppend.
const (
	ReasonTail          = "tail"
	ReasonNoLayout      = "no-layout"
	ReasonUnknownParent = "unknown-parent"
	ReasonMidInsert     = "mid-insert"
	ReasonAggregation   = "aggregation-threshold"
)

// Engine computes and caches station positions. Single-consumer: the
// redraw loop is the only mutator.
type Engine struct {
	cfg     Config
	metrics Metrics

	positions map[string]Position
	rows      map[string]int
	// subtreeLast tracks the highest traversal row inside each
	// station's subtree. A parent whose subtree does not end at the
	// global maximum row cannot take the tail-append fast path.
	subtreeLast map[string]int
	maxRow      int
}

func NewEngine(cfg Config) *Engine {
	if cfg.ColumnGap <= 0 || cfg.RowGap <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Metrics() Metrics { return e.metrics }

// Positions returns the last computed coordinate set. Callers must not
// mutate it.
func (e *Engine) Positions() map[string]Position { return e.positions }

// FullLayout recomputes every visible station's coordinates. The
// traversal is pre-order with name-sorted siblings, so the same tree
// always yields identical coordinates.
func (e *Engine) FullLayout(t *station.Tree) map[string]Position {
	e.positions = make(map[string]Position, t.Len())
	e.rows = make(map[string]int, t.Len())
	e.subtreeLast = make(map[string]int, t.Len())
	e.maxRow = -1
	e.metrics.FullLayouts++

	root := t.Root()
	if root == "" {
		return e.positions
	}
	e.place(t, root)
	return e.positions
}

func (e *Engine) place(t *station.Tree, p string) {
	st := t.Station(p)
	if st == nil {
		return
	}
	e.maxRow++
	e.assign(t, p, st.Depth, e.maxRow)

	kids := append([]string(nil), t.VisibleChildren(p)...)
	sort.Strings(kids)
	for _, c := range kids {
		e.place(t, c)
	}
}

// assign records one station's row and propagates the subtree extent up
// the ancestor chain.
func (e *Engine) assign(t *station.Tree, p string, depth, row int) {
	e.rows[p] = row
	e.positions[p] = Position{X: float64(depth) * e.cfg.ColumnGap, Y: float64(row) * e.cfg.RowGap}
	for cur := p; cur != ""; {
		e.subtreeLast[cur] = row
		st := t.Station(cur)
		if st == nil {
			break
		}
		cur = st.ParentPath
	}
}

// AppendResult reports whether the fast path ran and, if not, why the
// call fell back to a full layout.
type AppendResult struct {
	UsedFastPath bool
	Reason       string
}

// IncrementalAppend places newly appended children of parentPath
// without recomputing existing coordinates. It is valid only for a
// structurally tail insertion: the parent's subtree must currently end
// the traversal, and the append must not trigger new aggregation. Any
// other insertion falls back to FullLayout and reports the reason.
func (e *Engine) IncrementalAppend(t *station.Tree, parentPath string, newChildren []string) AppendResult {
	res := e.tryAppend(t, parentPath, newChildren)
	if !res.UsedFastPath {
		e.FullLayout(t)
	}
	return res
}

func (e *Engine) tryAppend(t *station.Tree, parentPath string, newChildren []string) AppendResult {
	if e.positions == nil {
		return AppendResult{Reason: ReasonNoLayout}
	}
	parent := t.Station(parentPath)
	if parent == nil {
		return AppendResult{Reason: ReasonUnknownParent}
	}
	if _, laid := e.rows[parentPath]; !laid {
		return AppendResult{Reason: ReasonUnknownParent}
	}
	if t.Aggregated(parentPath) {
		if _, laid := e.positions[station.AggregatePath(parentPath)]; !laid {
			return AppendResult{Reason: ReasonAggregation}
		}
	}
	// Structural tail check: insertion position is tracked explicitly,
	// not inferred from sibling sort order.
	if e.subtreeLast[parentPath] != e.maxRow {
		return AppendResult{Reason: ReasonMidInsert}
	}
	for _, c := range newChildren {
		if _, exists := e.rows[c]; exists {
			return AppendResult{Reason: ReasonMidInsert}
		}
	}

	for _, c := range newChildren {
		st := t.Station(c)
		if st == nil {
			continue
		}
		e.maxRow++
		e.assign(t, c, st.Depth, e.maxRow)
	}
	e.metrics.FastPathUses++
	return AppendResult{UsedFastPath: true, Reason: ReasonTail}
}
