package station

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/metromap/api"
)

func dir(path string, depth int) api.ScanNode {
	return api.ScanNode{Path: path, Depth: depth, Kind: api.KindDirectory}
}

func file(path string, depth int) api.ScanNode {
	return api.ScanNode{Path: path, Depth: depth, Kind: api.KindFile}
}

func TestTree_IngestLinksByPathPrefix(t *testing.T) {
	tr := NewTree(DefaultConfig())
	tr.Ingest([]api.ScanNode{
		dir("root", 0),
		dir("root/a", 1),
		file("root/a/x.txt", 2),
		file("root/a/y.txt", 2),
	})

	assert.Equal(t, "root", tr.Root())
	assert.Equal(t, 4, tr.Len())
	assert.Equal(t, []string{"root/a/x.txt", "root/a/y.txt"}, tr.Children("root/a"))
	st := tr.Station("root/a/x.txt")
	require.NotNil(t, st)
	assert.Equal(t, "root/a", st.ParentPath)
}

func TestTree_MissingAncestorsAreMaterialized(t *testing.T) {
	tr := NewTree(DefaultConfig())
	tr.Ingest([]api.ScanNode{
		dir("root", 0),
		file("root/a/b/orphan.txt", 3),
	})

	require.NotNil(t, tr.Station("root/a"))
	require.NotNil(t, tr.Station("root/a/b"))
	assert.Equal(t, []string{"root/a/b/orphan.txt"}, tr.Children("root/a/b"))
}

func overflowTree(t *testing.T, threshold, children int) *Tree {
	t.Helper()
	tr := NewTree(Config{AggregationThreshold: threshold})
	nodes := []api.ScanNode{dir("root", 0)}
	for i := 0; i < children; i++ {
		nodes = append(nodes, file(fmt.Sprintf("root/f%02d.txt", i), 1))
	}
	tr.Ingest(nodes)
	return tr
}

func TestTree_AggregationOverThreshold(t *testing.T) {
	tr := overflowTree(t, 5, 8)

	ap := AggregatePath("root")
	agg := tr.Station(ap)
	require.NotNil(t, agg, "overflow must create an aggregated station")
	assert.True(t, agg.Aggregated)
	assert.Len(t, agg.Members, 4, "children beyond threshold-1 are hidden")

	visible := tr.VisibleChildren("root")
	assert.Len(t, visible, 5, "threshold-1 real children plus the aggregate")
	assert.Equal(t, ap, visible[len(visible)-1])

	// Membership survives: nothing was dropped.
	assert.Len(t, tr.Children("root"), 8)
}

func TestTree_NoAggregationAtThreshold(t *testing.T) {
	tr := overflowTree(t, 5, 5)
	assert.False(t, tr.Aggregated("root"))
	assert.Len(t, tr.VisibleChildren("root"), 5)
}

func TestTree_ToggleExpandSelectsAggregateWhenNothingSelected(t *testing.T) {
	tr := overflowTree(t, 5, 8)
	ap := AggregatePath("root")

	require.True(t, tr.ToggleAggregation(ap))
	assert.True(t, tr.Expanded(ap))
	assert.Equal(t, ap, tr.Selection(), "expansion with no prior selection selects the aggregate")

	visible := tr.VisibleChildren("root")
	assert.Len(t, visible, 9, "expansion shows every real child plus the aggregate")
}

func TestTree_ToggleCollapseClearsSelectionOnlyForHiddenMembers(t *testing.T) {
	ap := AggregatePath("root")

	// Selection on a now-hidden member is cleared.
	tr := overflowTree(t, 5, 8)
	require.True(t, tr.ToggleAggregation(ap))
	tr.Select("root/f07.txt")
	require.True(t, tr.ToggleAggregation(ap))
	assert.Empty(t, tr.Selection())

	// Selection on the aggregate itself is preserved.
	tr = overflowTree(t, 5, 8)
	require.True(t, tr.ToggleAggregation(ap))
	tr.Select(ap)
	require.True(t, tr.ToggleAggregation(ap))
	assert.Equal(t, ap, tr.Selection())

	// Selection outside the collapsed set is preserved.
	tr = overflowTree(t, 5, 8)
	require.True(t, tr.ToggleAggregation(ap))
	tr.Select("root/f00.txt")
	require.True(t, tr.ToggleAggregation(ap))
	assert.Equal(t, "root/f00.txt", tr.Selection())
}

func TestTree_ToggleIsReversibleWithoutDataLoss(t *testing.T) {
	tr := overflowTree(t, 5, 8)
	ap := AggregatePath("root")

	before := tr.VisibleChildren("root")
	require.True(t, tr.ToggleAggregation(ap))
	require.True(t, tr.ToggleAggregation(ap))
	assert.Equal(t, before, tr.VisibleChildren("root"))
	assert.Len(t, tr.Station(ap).Members, 4)
}

func TestTree_ToggleNonAggregateIsRejected(t *testing.T) {
	tr := overflowTree(t, 5, 8)
	assert.False(t, tr.ToggleAggregation("root/f00.txt"))
	assert.False(t, tr.ToggleAggregation("root/absent"))
}

func TestTree_ResetReplacesWholesale(t *testing.T) {
	tr := overflowTree(t, 5, 8)
	tr.Select("root/f00.txt")
	tr.Reset("other")

	assert.Equal(t, "other", tr.Root())
	assert.Zero(t, tr.Len())
	assert.Empty(t, tr.Selection())
}

func TestTree_WalkVisitsParentsFirst(t *testing.T) {
	tr := NewTree(DefaultConfig())
	tr.Ingest([]api.ScanNode{
		dir("root", 0),
		dir("root/a", 1),
		dir("root/b", 1),
		file("root/a/x.txt", 2),
	})

	var order []string
	tr.Walk(func(st *Station) { order = append(order, st.Path) })
	require.Equal(t, 4, len(order))
	assert.Equal(t, "root", order[0])
	idx := map[string]int{}
	for i, p := range order {
		idx[p] = i
	}
	assert.Less(t, idx["root/a"], idx["root/a/x.txt"])
}
