package engine

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/metromap/api"
	"github.com/agentic-research/metromap/internal/layout"
	"github.com/agentic-research/metromap/internal/render"
	"github.com/agentic-research/metromap/internal/station"
)

func testEngine() *Engine {
	return New(DefaultConfig(), slog.New(slog.DiscardHandler))
}

func dir(path string, depth int) api.ScanNode {
	return api.ScanNode{Path: path, Depth: depth, Kind: api.KindDirectory}
}

func file(path string, depth int) api.ScanNode {
	return api.ScanNode{Path: path, Depth: depth, Kind: api.KindFile}
}

func TestEngine_ScanAndWaitFoldsWholeTree(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/docs/readme.md", []byte("x"), 0o644))
	require.NoError(t, util.WriteFile(fs, "/src/main.c", []byte("y"), 0o644))

	e := testEngine()
	defer func() { _ = e.Scans.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id := e.Scans.StartScanFS("root", fs, api.ScanOptions{IncludeMetadata: true})
	state, err := e.ScanAndWait(ctx, id)
	require.NoError(t, err)
	assert.False(t, state.Cancelled)

	tr := e.Tree()
	assert.Equal(t, "root", tr.Root())
	require.NotNil(t, tr.Station("root/docs/readme.md"))
	require.NotNil(t, tr.Station("root/src/main.c"))

	// Every station got a coordinate and every non-root station a route.
	stations := e.Stations()
	assert.Equal(t, tr.Len(), len(stations))
	assert.Len(t, e.LastRoutes(), tr.Len()-1)
}

func TestEngine_StreamedBatchesUseFastPath(t *testing.T) {
	e := testEngine()
	defer func() { _ = e.Scans.Close() }()

	e.Ingest([]api.ScanNode{dir("root", 0), dir("root/a", 1)})
	base := e.LayoutMetrics().FullLayouts
	require.Greater(t, base, 0)

	// A streaming scan appends to the newest directory: the canonical
	// tail-append shape.
	for i := 0; i < 4; i++ {
		e.Ingest([]api.ScanNode{file(fmt.Sprintf("root/a/f%d.txt", i), 2)})
	}

	m := e.LayoutMetrics()
	assert.Equal(t, base, m.FullLayouts, "tail batches must not trigger full layouts")
	assert.Equal(t, 4, m.FastPathUses)
	assert.Len(t, e.LastRoutes(), 5)
}

func TestEngine_NewRootResetsWholesale(t *testing.T) {
	e := testEngine()
	defer func() { _ = e.Scans.Close() }()

	e.Ingest([]api.ScanNode{dir("alpha", 0), file("alpha/x.txt", 1)})
	e.Redraw(false, render.Options{DisableCulling: true})
	require.Greater(t, e.Renderer.Pool.Len(), 0)

	e.Ingest([]api.ScanNode{dir("beta", 0), file("beta/y.txt", 1)})

	tr := e.Tree()
	assert.Equal(t, "beta", tr.Root())
	assert.Nil(t, tr.Station("alpha/x.txt"), "stations never migrate between roots")
	assert.NotNil(t, tr.Station("beta/y.txt"))
}

func TestEngine_EnqueueAppliesOnRedraw(t *testing.T) {
	e := testEngine()
	defer func() { _ = e.Scans.Close() }()

	e.Enqueue([]api.ScanNode{dir("root", 0), file("root/x.txt", 1)})
	assert.Zero(t, e.Tree().Len(), "enqueued batches wait for the next redraw")

	stats := e.Redraw(true, render.Options{DisableCulling: true})
	assert.Equal(t, 2, e.Tree().Len())
	assert.Equal(t, 2, stats.VisibleStations)

	// The queue drains exactly once.
	again := e.Redraw(true, render.Options{DisableCulling: true})
	assert.Zero(t, again.Created)
}

func TestEngine_TriggerFastAppendReportsReason(t *testing.T) {
	e := testEngine()
	defer func() { _ = e.Scans.Close() }()

	e.Ingest([]api.ScanNode{
		dir("root", 0),
		dir("root/a", 1),
		dir("root/b", 1),
	})

	// root/b ends the traversal, so appending under it is a tail insert.
	res, err := e.TriggerFastAppend("root/b", []string{"tail.txt"})
	require.NoError(t, err)
	assert.True(t, res.UsedFastPath)
	assert.Equal(t, layout.ReasonTail, res.Reason)

	// root/a does not, so the same append there must fall back.
	res, err = e.TriggerFastAppend("root/a", []string{"mid.txt"})
	require.NoError(t, err)
	assert.False(t, res.UsedFastPath)
	assert.Equal(t, layout.ReasonMidInsert, res.Reason)

	_, err = e.TriggerFastAppend("root/ghost", []string{"x"})
	assert.Error(t, err)
}

func TestEngine_ToggleAggregationRelaysOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Station.AggregationThreshold = 4
	e := New(cfg, slog.New(slog.DiscardHandler))
	defer func() { _ = e.Scans.Close() }()

	batch := []api.ScanNode{dir("root", 0)}
	for i := 0; i < 8; i++ {
		batch = append(batch, file(fmt.Sprintf("root/f%d.txt", i), 1))
	}
	e.Ingest(batch)

	ap := station.AggregatePath("root")
	collapsed := e.Redraw(false, render.Options{DisableCulling: true})
	assert.Equal(t, 5, collapsed.VisibleStations, "threshold-1 children, the aggregate, and the root")

	require.True(t, e.ToggleAggregation(ap))
	expanded := e.Redraw(false, render.Options{DisableCulling: true})
	assert.Equal(t, 10, expanded.VisibleStations, "all children, the aggregate, and the root")
	assert.Len(t, e.LastRoutes(), 9)

	require.True(t, e.ToggleAggregation(ap))
	back := e.Redraw(false, render.Options{DisableCulling: true})
	assert.Equal(t, 5, back.VisibleStations)

	assert.False(t, e.ToggleAggregation("root/f0.txt"))
}

func TestEngine_HiddenAggregateMembersGetNoCoordinates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Station.AggregationThreshold = 4
	e := New(cfg, slog.New(slog.DiscardHandler))
	defer func() { _ = e.Scans.Close() }()

	batch := []api.ScanNode{dir("root", 0)}
	for i := 0; i < 8; i++ {
		batch = append(batch, file(fmt.Sprintf("root/f%d.txt", i), 1))
	}
	e.Ingest(batch)

	stations := e.Stations()
	byPath := map[string]*station.Station{}
	for _, st := range stations {
		byPath[st.Path] = st
	}
	require.Contains(t, byPath, station.AggregatePath("root"))
	// Hidden members keep their identity and membership but are not laid
	// out while collapsed.
	hidden := byPath["root/f7.txt"]
	require.NotNil(t, hidden)
	assert.Zero(t, hidden.X)
	assert.Zero(t, hidden.Y)
}

func TestEngine_ExportAfterScan(t *testing.T) {
	fs := memfs.New()
	for i := 0; i < 6; i++ {
		require.NoError(t, util.WriteFile(fs, fmt.Sprintf("/d%d/f.txt", i), nil, 0o644))
	}

	e := testEngine()
	defer func() { _ = e.Scans.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id := e.Scans.StartScanFS("root", fs, api.ScanOptions{})
	_, err := e.ScanAndWait(ctx, id)
	require.NoError(t, err)

	e.Redraw(false, render.Options{DisableCulling: true})
	data, info, err := e.ExportImage(400, 300, false)
	require.NoError(t, err)
	assert.Equal(t, 400, info.Width)
	assert.Equal(t, 300, info.Height)
	assert.Equal(t, len(data), info.ByteSize)
	assert.Greater(t, info.ByteSize, 0)
}
