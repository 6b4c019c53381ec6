// Package engine wires the pipeline: scan events fold into the station
// tree, layout runs incrementally where a pure tail append allows it,
// routes follow the affected edges, and redraws reconcile the visible
// set against the sprite pool. All state is mutated by one consumer
// goroutine processing events serially; nothing here locks.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/agentic-research/metromap/api"
	"github.com/agentic-research/metromap/internal/layout"
	"github.com/agentic-research/metromap/internal/render"
	"github.com/agentic-research/metromap/internal/route"
	"github.com/agentic-research/metromap/internal/scan"
	"github.com/agentic-research/metromap/internal/station"
)

// Config aggregates the tunables of every stage.
type Config struct {
	Station station.Config
	Layout  layout.Config
	Route   route.Config
}

func DefaultConfig() Config {
	return Config{
		Station: station.DefaultConfig(),
		Layout:  layout.DefaultConfig(),
		Route:   route.DefaultConfig(),
	}
}

// Engine owns the full scan → adapt → layout → route → render pipeline
// for one station tree.
type Engine struct {
	Scans    *scan.Manager
	Renderer *render.Renderer

	log    *slog.Logger
	cfg    Config
	tree   *station.Tree
	layout *layout.Engine
	router *route.Router
	routes map[string]route.Route

	pending [][]api.ScanNode
}

func New(cfg Config, log *slog.Logger) *Engine {
	return &Engine{
		Scans:    scan.NewManager(log),
		Renderer: render.NewRenderer(),
		log:      log,
		cfg:      cfg,
		tree:     station.NewTree(cfg.Station),
		layout:   layout.NewEngine(cfg.Layout),
		router:   route.NewRouter(cfg.Route),
		routes:   map[string]route.Route{},
	}
}

func (e *Engine) Tree() *station.Tree                { return e.tree }
func (e *Engine) LayoutMetrics() layout.Metrics      { return e.layout.Metrics() }
func (e *Engine) LastRoutes() map[string]route.Route { return e.routes }

// Reset replaces the tree wholesale for a new scan root and discards
// routes and pooled sprites.
func (e *Engine) Reset(root string) {
	e.tree.Reset(root)
	e.layout = layout.NewEngine(e.cfg.Layout)
	e.routes = map[string]route.Route{}
	e.pending = nil
	e.Renderer.Pool.Reset()
}

// ScanAndWait runs a scan to its terminal event, folding every batch as
// it streams in. Returns the terminal state.
func (e *Engine) ScanAndWait(ctx context.Context, id string) (api.ScanState, error) {
	events, err := e.Scans.Events(id)
	if err != nil {
		return api.ScanState{}, err
	}
	var terminal api.ScanState
	for {
		select {
		case <-ctx.Done():
			e.Scans.CancelScan(id)
			return terminal, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return terminal, nil
			}
			switch ev.Type {
			case api.EventPartial:
				e.Ingest(ev.Nodes)
			case api.EventDone:
				terminal = ev.State
			}
		}
	}
}

// Enqueue buffers a batch for the next Redraw(applyPending=true). The
// interactive path uses this so folding happens inside the frame budget
// accounting of a redraw.
func (e *Engine) Enqueue(nodes []api.ScanNode) {
	e.pending = append(e.pending, nodes)
}

// Redraw applies pending batches when asked, then reconciles the
// visible set.
func (e *Engine) Redraw(applyPending bool, opts render.Options) render.FrameStats {
	if applyPending {
		for _, batch := range e.pending {
			e.Ingest(batch)
		}
		e.pending = nil
	}
	return e.Renderer.Redraw(e.tree, e.layout.Positions(), e.routes, opts)
}

// Ingest folds one scan batch: adapt, then lay out via the tail-append
// fast path when the batch permits it, then re-route affected edges.
func (e *Engine) Ingest(nodes []api.ScanNode) {
	if len(nodes) == 0 {
		return
	}
	if nodes[0].Depth == 0 && nodes[0].Path != e.tree.Root() {
		// A scan of a different root replaces the session tree
		// wholesale; stations never migrate between roots.
		e.Reset(nodes[0].Path)
	}

	fresh := make([]api.ScanNode, 0, len(nodes))
	for _, n := range nodes {
		if e.tree.Station(n.Path) == nil {
			fresh = append(fresh, n)
		}
	}
	e.tree.Ingest(nodes)
	if len(fresh) == 0 {
		return
	}

	// Group new arrivals by parent, preserving arrival order.
	parents := make([]string, 0, 4)
	byParent := make(map[string][]string, 4)
	full := false
	for _, n := range fresh {
		if n.Path == e.tree.Root() {
			// A new root can never append onto an existing layout.
			full = true
			continue
		}
		p := path.Dir(n.Path)
		if _, ok := byParent[p]; !ok {
			parents = append(parents, p)
		}
		byParent[p] = append(byParent[p], n.Path)
	}

	if full {
		e.layout.FullLayout(e.tree)
		e.rerouteAll()
		return
	}

	appended := make([]string, 0, len(fresh))
	for _, p := range parents {
		visible := e.visibleNew(p, byParent[p])
		res := e.layout.IncrementalAppend(e.tree, p, visible)
		if !res.UsedFastPath {
			// IncrementalAppend already fell back to a full layout.
			e.log.Debug("layout fast path rejected", "parent", p, "reason", res.Reason)
			e.rerouteAll()
			return
		}
		appended = append(appended, visible...)
	}
	e.rerouteEdges(appended)
}

// visibleNew filters a parent's new children down to those actually
// shown: members hidden inside a collapsed aggregate need no position.
func (e *Engine) visibleNew(parent string, newChildren []string) []string {
	shown := e.tree.VisibleChildren(parent)
	set := make(map[string]struct{}, len(shown))
	for _, c := range shown {
		set[c] = struct{}{}
	}
	out := newChildren[:0]
	for _, c := range newChildren {
		if _, ok := set[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) rerouteAll() {
	e.routes = e.router.Routes(e.tree, e.layout.Positions())
}

func (e *Engine) rerouteEdges(children []string) {
	positions := e.layout.Positions()
	for _, c := range children {
		st := e.tree.Station(c)
		if st == nil || st.ParentPath == "" {
			continue
		}
		from, fok := positions[st.ParentPath]
		to, tok := positions[c]
		if fok && tok {
			e.routes[c] = e.router.Edge(c, from, to)
		}
	}
}

// ToggleAggregation expands or collapses an overflow station and
// recomputes layout and routes, since the visible set changed.
func (e *Engine) ToggleAggregation(aggPath string) bool {
	if !e.tree.ToggleAggregation(aggPath) {
		return false
	}
	e.layout.FullLayout(e.tree)
	e.rerouteAll()
	return true
}

// TriggerFastAppend is the introspection hook: it appends synthetic
// file stations under parent and reports which layout path ran and why.
func (e *Engine) TriggerFastAppend(parent string, names []string) (layout.AppendResult, error) {
	st := e.tree.Station(parent)
	if st == nil {
		return layout.AppendResult{}, fmt.Errorf("append under %q: unknown parent station", parent)
	}
	nodes := make([]api.ScanNode, 0, len(names))
	for _, name := range names {
		nodes = append(nodes, api.ScanNode{
			Path:  path.Join(parent, name),
			Depth: st.Depth + 1,
			Kind:  api.KindFile,
		})
	}
	e.tree.Ingest(nodes)
	appended := make([]string, 0, len(nodes))
	for _, n := range nodes {
		appended = append(appended, n.Path)
	}
	res := e.layout.IncrementalAppend(e.tree, parent, e.visibleNew(parent, appended))
	if res.UsedFastPath {
		e.rerouteEdges(appended)
	} else {
		e.rerouteAll()
	}
	return res, nil
}

// Stations lists every station sorted by path, with coordinates
// stamped from the last layout.
func (e *Engine) Stations() []*station.Station {
	positions := e.layout.Positions()
	paths := e.tree.Paths()
	sort.Strings(paths)
	out := make([]*station.Station, 0, len(paths))
	for _, p := range paths {
		st := e.tree.Station(p)
		if pos, ok := positions[p]; ok {
			st.X, st.Y = pos.X, pos.Y
		}
		out = append(out, st)
	}
	return out
}

// ExportImage renders the current map to PNG bytes.
func (e *Engine) ExportImage(width, height int, transparent bool) ([]byte, api.ExportInfo, error) {
	return e.Renderer.Export(e.tree, e.layout.Positions(), e.routes, width, height, transparent)
}
