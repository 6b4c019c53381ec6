// Package route turns parent-child station pairs into orthogonal,
// corner-smoothed draw paths. A route is axis-aligned segments joined by
// smoothed corners; a raw segment spanning both axes is a routing
// defect.
package route

import (
	"math"

	"github.com/agentic-research/metromap/internal/layout"
	"github.com/agentic-research/metromap/internal/station"
)

// Op is one draw command kind.
type Op string

const (
	OpMove   Op = "move"
	OpLine   Op = "line"
	OpCorner Op = "corner"
)

// Command is one ordered draw command. Corner commands are quadratic:
// they curve through the control point (CX, CY) to (X, Y).
type Command struct {
	Op     Op
	X, Y   float64
	CX, CY float64
}

// Route is the drawable path of one parent-child edge, keyed by the
// child path.
type Route struct {
	Child    string
	Commands []Command
}

// Config tunes corner smoothing. The radius is configuration, not an
// invariant.
type Config struct {
	// CornerRadius is how far before a direction change the line bends.
	CornerRadius float64
}

func DefaultConfig() Config {
	return Config{CornerRadius: 6}
}

// Router computes edge paths from station coordinates.
type Router struct {
	cfg Config
}

func NewRouter(cfg Config) *Router {
	if cfg.CornerRadius <= 0 {
		cfg = DefaultConfig()
	}
	return &Router{cfg: cfg}
}

// Edge routes a single edge from parent coordinates to child
// coordinates. Collinear edges are a single segment; anything else is
// horizontal-then-vertical with a smoothed corner at the bend.
func (r *Router) Edge(child string, from, to layout.Position) Route {
	cmds := []Command{{Op: OpMove, X: from.X, Y: from.Y}}

	dx := to.X - from.X
	dy := to.Y - from.Y
	if dx == 0 || dy == 0 {
		cmds = append(cmds, Command{Op: OpLine, X: to.X, Y: to.Y})
		return Route{Child: child, Commands: cmds}
	}

	radius := math.Min(r.cfg.CornerRadius, math.Min(math.Abs(dx), math.Abs(dy)))
	sx := math.Copysign(1, dx)
	sy := math.Copysign(1, dy)

	// Horizontal run stops short of the bend, the corner curves through
	// it, then the vertical run finishes the edge.
	cmds = append(cmds,
		Command{Op: OpLine, X: to.X - sx*radius, Y: from.Y},
		Command{Op: OpCorner, CX: to.X, CY: from.Y, X: to.X, Y: from.Y + sy*radius},
		Command{Op: OpLine, X: to.X, Y: to.Y},
	)
	return Route{Child: child, Commands: cmds}
}

// Routes computes the path of every visible parent-child edge, keyed by
// child path.
func (r *Router) Routes(t *station.Tree, positions map[string]layout.Position) map[string]Route {
	out := make(map[string]Route, len(positions))
	t.Walk(func(st *station.Station) {
		if st.ParentPath == "" {
			return
		}
		from, ok := positions[st.ParentPath]
		if !ok {
			return
		}
		to, ok := positions[st.Path]
		if !ok {
			return
		}
		out[st.Path] = r.Edge(st.Path, from, to)
	})
	return out
}
