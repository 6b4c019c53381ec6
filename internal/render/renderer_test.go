package render

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/metromap/api"
	"github.com/agentic-research/metromap/internal/layout"
	"github.com/agentic-research/metromap/internal/route"
	"github.com/agentic-research/metromap/internal/station"
)

// wideTree builds a tree tall enough that a default viewport can only
// see a fraction of it: 4 branches, 4 sub-branches each, 3 files per
// sub-branch.
func wideTree(t *testing.T) (*station.Tree, map[string]layout.Position, map[string]route.Route) {
	t.Helper()
	nodes := []api.ScanNode{{Path: "root", Depth: 0, Kind: api.KindDirectory}}
	for b := 0; b < 4; b++ {
		branch := fmt.Sprintf("root/branch%d", b)
		nodes = append(nodes, api.ScanNode{Path: branch, Depth: 1, Kind: api.KindDirectory})
		for s := 0; s < 4; s++ {
			sub := fmt.Sprintf("%s/sub%d", branch, s)
			nodes = append(nodes, api.ScanNode{Path: sub, Depth: 2, Kind: api.KindDirectory})
			for f := 0; f < 3; f++ {
				nodes = append(nodes, api.ScanNode{
					Path: fmt.Sprintf("%s/f%d.txt", sub, f), Depth: 3, Kind: api.KindFile,
				})
			}
		}
	}
	tr := station.NewTree(station.DefaultConfig())
	tr.Ingest(nodes)
	positions := layout.NewEngine(layout.DefaultConfig()).FullLayout(tr)
	routes := route.NewRouter(route.DefaultConfig()).Routes(tr, positions)
	return tr, positions, routes
}

func TestRedraw_CullingReducesDrawOps(t *testing.T) {
	tr, positions, routes := wideTree(t)
	r := NewRenderer()
	r.Viewport = Viewport{Scale: 1, Width: 600, Height: 400}

	baseline := r.Redraw(tr, positions, routes, Options{DisableCulling: true})
	r.Pool.Reset()
	culled := r.Redraw(tr, positions, routes, Options{CullMargin: 20})

	require.Greater(t, baseline.DrawOps, 0)
	require.Greater(t, culled.VisibleStations, 0, "the viewport origin must see something")
	assert.Less(t, float64(culled.DrawOps), 0.8*float64(baseline.DrawOps),
		"culling must save at least 20%% of draw operations (baseline %d, culled %d)",
		baseline.DrawOps, culled.DrawOps)
}

func TestRedraw_OffscreenStationsAreSkipped(t *testing.T) {
	tr, positions, routes := wideTree(t)
	r := NewRenderer()
	r.Viewport = Viewport{Scale: 1, PanX: 1e6, PanY: 1e6, Width: 100, Height: 100}

	stats := r.Redraw(tr, positions, routes, Options{})
	assert.Zero(t, stats.VisibleStations)
	assert.Zero(t, stats.VisibleEdges)
	assert.Zero(t, stats.DrawOps)
}

func TestRedraw_UnchangedFrameReusesSprites(t *testing.T) {
	tr, positions, routes := wideTree(t)
	r := NewRenderer()

	first := r.Redraw(tr, positions, routes, Options{})
	require.Greater(t, first.VisibleStations, 0)
	assert.Equal(t, first.VisibleStations, first.Created)

	second := r.Redraw(tr, positions, routes, Options{})
	assert.Zero(t, second.Created, "an unchanged frame allocates nothing")
	assert.Equal(t, second.VisibleStations, second.Reused)
	assert.Equal(t, first.VisibleStations, second.VisibleStations)
}

func TestRedraw_PanHidesWithoutDestroying(t *testing.T) {
	tr, positions, routes := wideTree(t)
	r := NewRenderer()

	first := r.Redraw(tr, positions, routes, Options{})
	poolSize := r.Pool.Len()
	require.Equal(t, first.VisibleStations, poolSize)

	// Pan to an empty region: everything leaves view but stays pooled.
	r.Viewport.PanX, r.Viewport.PanY = 1e6, 1e6
	r.Redraw(tr, positions, routes, Options{})
	assert.Equal(t, poolSize, r.Pool.Len(), "off-view sprites are hidden, not destroyed")

	// Pan back: the frame is served from the pool.
	r.Viewport.PanX, r.Viewport.PanY = 0, 0
	back := r.Redraw(tr, positions, routes, Options{})
	assert.Zero(t, back.Created)
	assert.Equal(t, first.VisibleStations, back.Reused)
}

func TestPool_EvictHiddenSparesVisible(t *testing.T) {
	tr, positions, routes := wideTree(t)
	r := NewRenderer()
	r.Viewport = Viewport{Scale: 1, Width: 600, Height: 400}

	stats := r.Redraw(tr, positions, routes, Options{DisableCulling: true})
	require.Equal(t, len(positions), stats.VisibleStations)

	// Shrink the view, then evict what fell out of it.
	culled := r.Redraw(tr, positions, routes, Options{})
	hidden := r.Pool.Len() - culled.VisibleStations
	require.Greater(t, hidden, 0)

	evicted := r.Pool.EvictHidden()
	assert.Equal(t, hidden, evicted)
	assert.Equal(t, culled.VisibleStations, r.Pool.Len())
	for _, p := range tr.Paths() {
		if sp := r.Pool.Sprite(p); sp != nil {
			assert.True(t, sp.Visible, "surviving sprite %s must be visible", p)
		}
	}
}

func TestPool_StatsAccumulate(t *testing.T) {
	p := NewSpritePool()
	want := []placement{{Path: "a", X: 1, Y: 2}, {Path: "b", X: 3, Y: 4}}

	created, reused := p.Reconcile(want)
	assert.Equal(t, 2, created)
	assert.Zero(t, reused)

	created, reused = p.Reconcile(want[:1])
	assert.Zero(t, created)
	assert.Equal(t, 1, reused)
	assert.False(t, p.Sprite("b").Visible)

	st := p.Stats()
	assert.Equal(t, 2, st.Created)
	assert.Equal(t, 1, st.Reused)
	assert.Equal(t, 1, st.Pooled)
}

func TestPool_ResetDiscardsEverything(t *testing.T) {
	p := NewSpritePool()
	p.Reconcile([]placement{{Path: "a"}, {Path: "b"}})
	p.Reset()
	assert.Zero(t, p.Len())
	assert.Nil(t, p.Sprite("a"))
}
