package mdbox

import (
	"fmt"
	"slices"
	"testing"

	"github.com/forestrie/go-mdevents/mdevent"
	"github.com/forestrie/go-mdevents/mdtesting"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T, label string) mdtesting.TestContext {
	return mdtesting.NewTestContext(t, mdtesting.TestConfig{
		Seed:            1698342521,
		TestLabelPrefix: label,
	})
}

func unitExtents(nd int) []Extent {
	ext := make([]Extent, nd)
	for d := range ext {
		ext[d] = Extent{Min: 0, Max: 1}
	}
	return ext
}

func testConfig(nd int, splitInto uint32, threshold uint64, maxDepth uint32) Config {
	return Config{
		Dimensions:     nd,
		Extents:        unitExtents(nd),
		SplitInto:      splitInto,
		SplitThreshold: threshold,
		MaxDepth:       maxDepth,
	}
}

func newTestWorkspace(t *testing.T, tc mdtesting.TestContext, cfg Config, opts ...Option) *Workspace {
	ws, err := NewWorkspace(tc.Log, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func insertAll(t *testing.T, ws *Workspace, events []mdevent.Event) {
	for _, ev := range events {
		require.NoError(t, ws.Insert(ev))
	}
}

// leaves returns every leaf in pre-order.
func leaves(t *testing.T, ws *Workspace) []*Node {
	it, err := ws.Iterate(^uint32(0), true)
	require.NoError(t, err)
	defer it.Close()
	var out []*Node
	for it.Next() {
		out = append(out, it.Box())
	}
	return out
}

// treeEvents returns every event stored in the tree, paging leaves in as
// needed.
func treeEvents(t *testing.T, ws *Workspace) []mdevent.Event {
	var all []mdevent.Event
	for _, n := range leaves(t, ws) {
		events, err := ws.Events(n)
		require.NoError(t, err)
		all = append(all, events...)
	}
	return all
}

func eventKey(ev mdevent.Event) string {
	return fmt.Sprintf("%v/%v/%v/%d/%d/%d",
		ev.Coords, ev.Signal, ev.ErrorSquared, ev.RunIndex, ev.GoniometerIndex, ev.DetectorID)
}

// requireSameEvents compares two event collections as multisets.
func requireSameEvents(t *testing.T, want, got []mdevent.Event) {
	t.Helper()
	keys := func(events []mdevent.Event) []string {
		k := make([]string, len(events))
		for i, ev := range events {
			k[i] = eventKey(ev)
		}
		slices.Sort(k)
		return k
	}
	require.Equal(t, keys(want), keys(got))
}
