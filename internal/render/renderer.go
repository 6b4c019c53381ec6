package render

import (
	"time"

	"github.com/agentic-research/metromap/internal/layout"
	"github.com/agentic-research/metromap/internal/route"
	"github.com/agentic-research/metromap/internal/station"
)

// Viewport is the current pan/zoom state in map units.
type Viewport struct {
	Scale      float64
	PanX, PanY float64
	// Width and Height are the drawing surface size in screen units.
	Width, Height float64
}

// Rect is an axis-aligned region in map units.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

func (r Rect) Contains(x, y float64) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// VisibleRect is the map-space region the viewport shows, expanded by
// margin so stations straddling the edge still draw.
func (v Viewport) VisibleRect(margin float64) Rect {
	scale := v.Scale
	if scale <= 0 {
		scale = 1
	}
	return Rect{
		MinX: v.PanX - margin,
		MinY: v.PanY - margin,
		MaxX: v.PanX + v.Width/scale + margin,
		MaxY: v.PanY + v.Height/scale + margin,
	}
}

// FrameStats describes one redraw.
type FrameStats struct {
	VisibleStations int
	VisibleEdges    int
	Created         int
	Reused          int
	DrawOps         int
	Duration        time.Duration
}

// Options control a single redraw.
type Options struct {
	// DisableCulling draws every station and edge regardless of the
	// viewport. Baseline mode for measuring what culling saves.
	DisableCulling bool
	// CullMargin expands the visible rectangle in map units.
	CullMargin float64
}

// Renderer reconciles the visible set against the sprite pool and
// draws. All calls happen on the single consumer goroutine.
type Renderer struct {
	Pool     *SpritePool
	Viewport Viewport

	contextLost bool
	last        FrameStats
}

func NewRenderer() *Renderer {
	return &Renderer{
		Pool:     NewSpritePool(),
		Viewport: Viewport{Scale: 1, Width: 1280, Height: 800},
	}
}

func (r *Renderer) LastFrame() FrameStats { return r.last }

// MarkContextLost simulates losing the drawing surface; export falls
// back to the software path until restored.
func (r *Renderer) MarkContextLost()  { r.contextLost = true }
func (r *Renderer) RestoreContext()   { r.contextLost = false }
func (r *Renderer) ContextLost() bool { return r.contextLost }

// Redraw recomputes the visible station/edge set for the current
// viewport, reconciles it against the pool, and reports frame stats.
// Draw cost is proportional to the visible set, not the tree size.
func (r *Renderer) Redraw(t *station.Tree, positions map[string]layout.Position, routes map[string]route.Route, opts Options) FrameStats {
	start := time.Now()
	rect := r.Viewport.VisibleRect(opts.CullMargin)

	var want []placement
	t.Walk(func(st *station.Station) {
		pos, ok := positions[st.Path]
		if !ok {
			return
		}
		if !opts.DisableCulling && !rect.Contains(pos.X, pos.Y) {
			return
		}
		want = append(want, placement{Path: st.Path, X: pos.X, Y: pos.Y})
	})

	created, reused := r.Pool.Reconcile(want)

	// An edge draws when either endpoint is in view.
	edges := 0
	for child, rt := range routes {
		if opts.DisableCulling {
			edges++
			continue
		}
		st := t.Station(child)
		if st == nil {
			continue
		}
		childPos, cok := positions[child]
		parentPos, pok := positions[st.ParentPath]
		if (cok && rect.Contains(childPos.X, childPos.Y)) || (pok && rect.Contains(parentPos.X, parentPos.Y)) {
			edges++
		}
		_ = rt
	}

	r.last = FrameStats{
		VisibleStations: len(want),
		VisibleEdges:    edges,
		Created:         created,
		Reused:          reused,
		DrawOps:         len(want) + edges,
		Duration:        time.Since(start),
	}
	return r.last
}
