package mdbox

import (
	"context"
	"testing"

	"github.com/forestrie/go-mdevents/mdevent"
	"github.com/forestrie/go-mdevents/mdtesting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// newQuadTree returns a 2-D workspace split once, with child i holding i+1
// events, and child 3 split once more.
func newQuadTree(t *testing.T, label string, opts ...Option) *Workspace {
	tc := newTestContext(t, label)
	ws := newTestWorkspace(t, tc, testConfig(2, 2, 3, 2), opts...)

	centres := [][]float32{{0.25, 0.25}, {0.75, 0.25}, {0.25, 0.75}, {0.75, 0.75}}
	for i, c := range centres {
		for k := 0; k <= i; k++ {
			require.NoError(t, ws.Insert(mdevent.NewLeanEvent(1, 1, c...)))
		}
	}
	// Spread child 3 so its split is not degenerate.
	for _, c := range [][]float32{{0.6, 0.6}, {0.9, 0.6}, {0.6, 0.9}} {
		require.NoError(t, ws.Insert(mdevent.NewLeanEvent(1, 1, c...)))
	}
	require.NoError(t, ws.SplitAllIfNeeded(context.Background()))
	return ws
}

func refs(t *testing.T, it *BoxIterator) []NodeRef {
	t.Helper()
	defer it.Close()
	var out []NodeRef
	for it.Next() {
		out = append(out, it.Box().Ref())
	}
	return out
}

func TestIteratorPreOrder(t *testing.T) {
	ws := newQuadTree(t, "TestIteratorPreOrder")
	root := ws.Root()
	kids := root.Children()
	require.Len(t, kids, 4)
	grandKids := ws.node(kids[3]).Children()
	require.Len(t, grandKids, 4)

	it, err := ws.Iterate(2, false)
	require.NoError(t, err)
	want := append([]NodeRef{root.Ref()}, kids...)
	want = append(want, grandKids...)
	assert.Equal(t, want, refs(t, it))

	it, err = ws.Iterate(1, false)
	require.NoError(t, err)
	assert.Equal(t, append([]NodeRef{root.Ref()}, kids...), refs(t, it))

	it, err = ws.Iterate(0, false)
	require.NoError(t, err)
	assert.Equal(t, []NodeRef{root.Ref()}, refs(t, it))
}

func TestIteratorLeafOnly(t *testing.T) {
	ws := newQuadTree(t, "TestIteratorLeafOnly")
	kids := ws.Root().Children()
	grandKids := ws.node(kids[3]).Children()

	it, err := ws.Iterate(2, true)
	require.NoError(t, err)
	want := append(append([]NodeRef{}, kids[:3]...), grandKids...)
	assert.Equal(t, want, refs(t, it))

	// At depth 1 the split child is neither a leaf nor descended into.
	it, err = ws.Iterate(1, true)
	require.NoError(t, err)
	assert.Equal(t, kids[:3], refs(t, it))
}

func TestIteratorRegionVisitsOnlyMatchingChild(t *testing.T) {
	tc := newTestContext(t, "TestIteratorRegionVisitsOnlyMatchingChild")
	ws := newTestWorkspace(t, tc, testConfig(2, 2, 1, 1))
	for _, c := range [][]float32{{0.25, 0.25}, {0.75, 0.25}, {0.25, 0.75}, {0.75, 0.75}} {
		require.NoError(t, ws.Insert(mdevent.NewLeanEvent(1, 1, c...)))
	}
	require.NoError(t, ws.SplitAllIfNeeded(context.Background()))
	kids := ws.Root().Children()
	require.Len(t, kids, 4)

	for _, target := range kids {
		region := NewBoxRegion(ws.node(target).Extents())
		it, err := ws.Iterate(1, false, WithRegion(region))
		require.NoError(t, err)
		assert.Equal(t, []NodeRef{ws.Root().Ref(), target}, refs(t, it))
	}
}

func TestIteratorRegionDimensionMismatch(t *testing.T) {
	ws := newQuadTree(t, "TestIteratorRegionDimensionMismatch")
	_, err := ws.Iterate(2, false, WithRegion(NewBoxRegion(unitExtents(3))))
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestIteratorSkipPolicies(t *testing.T) {
	ws := newQuadTree(t, "TestIteratorSkipPolicies")
	root := ws.Root()
	kids := root.Children()
	grandKids := ws.node(kids[3]).Children()

	t.Run("subtree", func(t *testing.T) {
		skip := SkipFunc(func(n *Node) SkipAction {
			if n.Ref() == kids[3] {
				return SkipSubtree
			}
			return Descend
		})
		it, err := ws.Iterate(2, false, WithSkipPolicy(skip))
		require.NoError(t, err)
		assert.Equal(t, append([]NodeRef{root.Ref()}, kids...), refs(t, it))
	})

	t.Run("siblings", func(t *testing.T) {
		skip := SkipFunc(func(n *Node) SkipAction {
			if n.Ref() == kids[0] {
				return SkipSiblings
			}
			return Descend
		})
		it, err := ws.Iterate(2, false, WithSkipPolicy(skip))
		require.NoError(t, err)
		assert.Equal(t, []NodeRef{root.Ref(), kids[0]}, refs(t, it))
	})

	t.Run("siblings below a grid", func(t *testing.T) {
		skip := SkipFunc(func(n *Node) SkipAction {
			if n.Ref() == grandKids[1] {
				return SkipSiblings
			}
			return Descend
		})
		it, err := ws.Iterate(2, false, WithSkipPolicy(skip))
		require.NoError(t, err)
		want := append([]NodeRef{root.Ref()}, kids...)
		want = append(want, grandKids[:2]...)
		assert.Equal(t, want, refs(t, it))
	})

	t.Run("siblings still descends", func(t *testing.T) {
		skip := SkipFunc(func(n *Node) SkipAction {
			if n.Ref() == kids[3] {
				return SkipSiblings
			}
			return Descend
		})
		it, err := ws.Iterate(2, false, WithSkipPolicy(skip))
		require.NoError(t, err)
		want := append([]NodeRef{root.Ref()}, kids...)
		want = append(want, grandKids...)
		assert.Equal(t, want, refs(t, it))
	})

	t.Run("leaf only grids are consulted", func(t *testing.T) {
		skip := SkipFunc(func(n *Node) SkipAction {
			if n.Ref() == kids[3] {
				return SkipSubtree
			}
			return Descend
		})
		it, err := ws.Iterate(2, true, WithSkipPolicy(skip))
		require.NoError(t, err)
		assert.Equal(t, kids[:3], refs(t, it))
	})

	t.Run("masked", func(t *testing.T) {
		ws.Mask(ws.node(kids[3]))
		defer ws.Unmask(ws.node(kids[3]))
		it, err := ws.Iterate(2, false, WithSkipPolicy(SkipMasked))
		require.NoError(t, err)
		assert.Equal(t, append([]NodeRef{root.Ref()}, kids...), refs(t, it))
	})
}

func TestIteratorPinsCurrentBox(t *testing.T) {
	tc := newTestContext(t, "TestIteratorPinsCurrentBox")
	ws := newQuadTree(t, "TestIteratorPinsCurrentBox", WithBuffer(tc.NewBuffer()))

	it, err := ws.Iterate(2, true)
	require.NoError(t, err)
	require.True(t, it.Next())
	cur := it.Box()

	ok, err := ws.Evict(cur)
	require.NoError(t, err)
	assert.False(t, ok, "the current box must stay resident")
	assert.True(t, cur.IsResident())

	require.True(t, it.Next())
	ok, err = ws.Evict(cur)
	require.NoError(t, err)
	assert.True(t, ok)

	// Events on a paged out current box page it back in.
	next := it.Box()
	it.Close()
	ok, err = ws.Evict(next)
	require.NoError(t, err)
	require.True(t, ok)

	it, err = ws.Iterate(2, true)
	require.NoError(t, err)
	defer it.Close()
	for it.Next() {
		if it.Box() != next {
			continue
		}
		events, err := it.Events()
		require.NoError(t, err)
		assert.Len(t, events, int(next.NumEvents()))
		assert.True(t, next.IsResident())
	}
	require.NoError(t, it.Err())
}

func TestIteratorEventsWithoutBox(t *testing.T) {
	ws := newQuadTree(t, "TestIteratorEventsWithoutBox")
	it, err := ws.Iterate(2, true)
	require.NoError(t, err)
	_, err = it.Events()
	require.ErrorIs(t, err, ErrNoCurrentBox)

	it.Close()
	assert.False(t, it.Next())
	it.Close()
}

func TestSplitLeavesIteratorBoxAlone(t *testing.T) {
	tc := newTestContext(t, "TestSplitLeavesIteratorBoxAlone")
	ws := newTestWorkspace(t, tc, testConfig(2, 2, 3, 2))
	insertAll(t, ws, tc.Events(mdevent.Lean, 10, mdtesting.UnitBounds(2)))

	it, err := ws.Iterate(2, true)
	require.NoError(t, err)
	require.True(t, it.Next())
	cur := it.Box()
	require.Equal(t, ws.Root(), cur)

	split, err := ws.MaybeSplit(cur)
	require.NoError(t, err)
	assert.False(t, split)
	require.NoError(t, ws.SplitAllIfNeeded(context.Background()))
	assert.Equal(t, KindBox, cur.Kind())

	events, err := it.Events()
	require.NoError(t, err)
	assert.Len(t, events, 10)
	assert.False(t, it.Next())
	it.Close()

	// Once released the deferred split goes ahead.
	require.NoError(t, ws.SplitAllIfNeeded(context.Background()))
	assert.Equal(t, KindGridBox, cur.Kind())
}

func TestIteratorConcurrentWithSplits(t *testing.T) {
	tc := newTestContext(t, "TestIteratorConcurrentWithSplits")
	ws := newTestWorkspace(t, tc, testConfig(2, 2, 8, 6))
	ei := NewEventInserter(ws, WithCheckpoint(32))
	ctx := context.Background()

	tuples := tc.Tuples(4000, mdtesting.UnitBounds(2))
	g, gctx := errgroup.WithContext(ctx)
	for _, bank := range mdtesting.Banks(tuples, 4) {
		g.Go(func() error { return ei.InsertBatch(gctx, bank) })
	}
	g.Go(func() error {
		for i := 0; i < 20; i++ {
			it, err := ws.Iterate(^uint32(0), true)
			if err != nil {
				return err
			}
			for it.Next() {
				if _, err := it.Events(); err != nil {
					it.Close()
					return err
				}
			}
			it.Close()
		}
		return nil
	})
	require.NoError(t, g.Wait())
	require.NoError(t, ei.Close(ctx))
	requireSameEvents(t, tupleEvents(mdevent.Lean, tuples), treeEvents(t, ws))
}

func TestRegionIterationReachesFaceEvents(t *testing.T) {
	tc := newTestContext(t, "TestRegionIterationReachesFaceEvents")
	ws := newTestWorkspace(t, tc, testConfig(2, 2, 1, 1))
	events := []mdevent.Event{
		mdevent.NewLeanEvent(1, 1, 0.5, 0.2),
		mdevent.NewLeanEvent(1, 1, 0.1, 0.2),
		mdevent.NewLeanEvent(1, 1, 0.9, 0.7),
		mdevent.NewLeanEvent(1, 1, -3, 0.7),
		mdevent.NewLeanEvent(1, 1, 1, 1),
	}
	insertAll(t, ws, events)
	require.NoError(t, ws.SplitAllIfNeeded(context.Background()))
	require.Len(t, ws.Root().Children(), 4)

	// x <= 0.5, closed on its upper face.
	closed, err := NewPlaneRegion(2, Plane{Normal: []float64{-1, 0}, Offset: -0.5})
	require.NoError(t, err)
	// x >= 1, only reached through the closed edge of the workspace.
	edge, err := NewPlaneRegion(2, Plane{Normal: []float64{1, 0}, Offset: 1})
	require.NoError(t, err)
	// x <= -1, entirely outside the workspace extents.
	outside, err := NewPlaneRegion(2, Plane{Normal: []float64{-1, 0}, Offset: 1})
	require.NoError(t, err)

	regions := map[string]Region{
		"closed face": closed,
		"box":         NewBoxRegion([]Extent{{0, 0.5}, {0, 1}}),
		"edge":        edge,
		"outside":     outside,
	}
	for name, r := range regions {
		t.Run(name, func(t *testing.T) {
			var want []mdevent.Event
			for _, ev := range events {
				if r.Contains(ev.Coords) {
					want = append(want, ev)
				}
			}
			require.NotEmpty(t, want)

			it, err := ws.Iterate(1, true, WithRegion(r))
			require.NoError(t, err)
			defer it.Close()
			var got []mdevent.Event
			for it.Next() {
				boxEvents, err := it.Events()
				require.NoError(t, err)
				for _, ev := range boxEvents {
					if r.Contains(ev.Coords) {
						got = append(got, ev)
					}
				}
			}
			requireSameEvents(t, want, got)
		})
	}
}
