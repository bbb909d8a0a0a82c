package mdbox

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/forestrie/go-mdevents/mdevent"
	"github.com/forestrie/go-mdevents/mdtesting"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorTreeMetrics(t *testing.T) {
	tc := newTestContext(t, "TestCollectorTreeMetrics")
	reg := prometheus.NewRegistry()
	ws := newTestWorkspace(t, tc, testConfig(2, 2, 4, 1), WithMetricsRegistry(reg))

	insertAll(t, ws, tc.Events(mdevent.Lean, 30, mdtesting.UnitBounds(2)))
	require.NoError(t, ws.SplitAllIfNeeded(context.Background()))

	// A memory only workspace exports no buffer metrics.
	assert.Equal(t, 5, testutil.CollectAndCount(ws.collector))

	expected := fmt.Sprintf(`
# HELP mdevents_tree_boxes Number of boxes, leaf and grid.
# TYPE mdevents_tree_boxes gauge
mdevents_tree_boxes{workspace="%[1]s"} 5
# HELP mdevents_tree_events Number of events stored in the tree.
# TYPE mdevents_tree_events gauge
mdevents_tree_events{workspace="%[1]s"} 30
# HELP mdevents_tree_max_depth Deepest box in the tree.
# TYPE mdevents_tree_max_depth gauge
mdevents_tree_max_depth{workspace="%[1]s"} 1
`, ws.ID())
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"mdevents_tree_boxes", "mdevents_tree_events", "mdevents_tree_max_depth"))
}

func TestCollectorBufferMetrics(t *testing.T) {
	tc := newTestContext(t, "TestCollectorBufferMetrics")
	reg := prometheus.NewRegistry()
	cfg := testConfig(2, 2, 4, 3)
	cfg.MaxResidentBoxes = 2
	ws := newTestWorkspace(t, tc, cfg, WithBackingFile(tc.TempFile()), WithMetricsRegistry(reg))

	insertAll(t, ws, tc.Events(mdevent.Lean, 200, mdtesting.UnitBounds(2)))
	require.NoError(t, ws.SplitAllIfNeeded(context.Background()))

	assert.Equal(t, 14, testutil.CollectAndCount(ws.collector))
	assert.Equal(t, 1, testutil.CollectAndCount(ws.collector, "mdevents_buffer_evictions_total"))

	st := ws.Stats()
	assert.NotZero(t, st.Buffer.Evictions)

	problems, err := testutil.GatherAndLint(reg)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestCloseUnregistersCollector(t *testing.T) {
	tc := newTestContext(t, "TestCloseUnregistersCollector")
	reg := prometheus.NewRegistry()

	ws, err := NewWorkspace(tc.Log, testConfig(2, 2, 4, 1), WithMetricsRegistry(reg))
	require.NoError(t, err)
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, ws.Close())
	n, err = testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Two workspaces share a registry, told apart by their labels.
	a := newTestWorkspace(t, tc, testConfig(2, 2, 4, 1), WithMetricsRegistry(reg))
	b := newTestWorkspace(t, tc, testConfig(2, 2, 4, 1), WithMetricsRegistry(reg))
	require.NotEqual(t, a.ID(), b.ID())
	n, err = testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}
