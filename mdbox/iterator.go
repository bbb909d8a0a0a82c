package mdbox

import (
	"fmt"
	"math"

	"github.com/forestrie/go-mdevents/mdevent"
)

type IteratorOption func(*BoxIterator)

// WithRegion only visits nodes whose extents intersect r.
func WithRegion(r Region) IteratorOption {
	return func(it *BoxIterator) {
		it.region = r
	}
}

// WithSkipPolicy consults p to prune the traversal.
func WithSkipPolicy(p SkipPolicy) IteratorOption {
	return func(it *BoxIterator) {
		it.skip = p
	}
}

type iterFrame struct {
	refs []NodeRef
	next int
}

// BoxIterator walks a subtree depth first, pre-order, children in index
// order. A node is yielded when its depth is at most maxDepth, it is a leaf or
// leafOnly is false, and it intersects the region, if one is set.
//
// The yielded node is pinned until the iterator moves on or is closed: the
// backing store will not page it out and a split pass leaves it a leaf. Nothing else is held between
// calls; parts of the tree not yet reached may be modified concurrently.
//
// Thread Safety: a BoxIterator must only be used by one go routine.
type BoxIterator struct {
	ws       *Workspace
	maxDepth uint32
	leafOnly bool
	region   Region
	skip     SkipPolicy

	stack []iterFrame
	cur   *Node
	err   error
	done  bool
}

// NewBoxIterator returns an iterator over the subtree at root, nil meaning
// the workspace root.
func NewBoxIterator(
	ws *Workspace, root *Node, maxDepth uint32, leafOnly bool, opts ...IteratorOption,
) (*BoxIterator, error) {
	if root == nil {
		root = ws.Root()
	}
	it := &BoxIterator{
		ws:       ws,
		maxDepth: maxDepth,
		leafOnly: leafOnly,
		skip:     SkipNothing,
		stack:    []iterFrame{{refs: []NodeRef{root.ref}}},
	}
	for _, o := range opts {
		o(it)
	}
	if it.region != nil && it.region.NumDims() != ws.ctl.nd {
		return nil, fmt.Errorf("%w: region has %d dimensions, workspace has %d",
			ErrDimensionMismatch, it.region.NumDims(), ws.ctl.nd)
	}
	if it.skip == nil {
		it.skip = SkipNothing
	}
	return it, nil
}

// Iterate returns an iterator over the whole tree.
func (ws *Workspace) Iterate(maxDepth uint32, leafOnly bool, opts ...IteratorOption) (*BoxIterator, error) {
	return NewBoxIterator(ws, nil, maxDepth, leafOnly, opts...)
}

// Next advances to the next visited node, reporting false when there are no
// more.
func (it *BoxIterator) Next() bool {
	if it.done {
		return false
	}
	if n := it.cur; n != nil {
		it.release()
		it.after(n)
	}

	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		if top.next >= len(top.refs) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		n := it.ws.node(top.refs[top.next])
		top.next++

		if n.depth > it.maxDepth {
			continue
		}
		if it.region != nil && !it.region.Intersects(it.ws.ownedExtents(n)) {
			continue
		}
		if it.leafOnly && !n.IsLeaf() {
			it.after(n)
			continue
		}
		n.pin()
		if it.leafOnly && !n.IsLeaf() {
			// split before the pin was taken
			n.unpin()
			it.after(n)
			continue
		}
		it.cur = n
		return true
	}
	it.done = true
	return false
}

// after applies the skip policy to n and pushes its children.
func (it *BoxIterator) after(n *Node) {
	switch it.skip.Skip(n) {
	case SkipSubtree:
		return
	case SkipSiblings:
		top := &it.stack[len(it.stack)-1]
		top.next = len(top.refs)
	}
	if n.depth >= it.maxDepth {
		return
	}
	if children := n.children(); children != nil {
		it.stack = append(it.stack, iterFrame{refs: children})
	}
}

// ownedExtents returns the space n's box is responsible for. Events outside
// the workspace extents are kept in the edge boxes, so a bound on the edge of
// the workspace is unbounded.
func (ws *Workspace) ownedExtents(n *Node) []Extent {
	owned := n.Extents()
	for d, e := range ws.cfg.Extents {
		if owned[d].Min <= e.Min {
			owned[d].Min = float32(math.Inf(-1))
		}
		if owned[d].Max >= e.Max {
			owned[d].Max = float32(math.Inf(1))
		}
	}
	return owned
}

// Box returns the current node.
func (it *BoxIterator) Box() *Node { return it.cur }

// Events returns the current leaf's events, paging them in if necessary.
func (it *BoxIterator) Events() ([]mdevent.Event, error) {
	if it.cur == nil {
		return nil, ErrNoCurrentBox
	}
	events, err := it.ws.Events(it.cur)
	if err != nil && it.err == nil {
		it.err = err
	}
	return events, err
}

// Err returns the first error returned by Events.
func (it *BoxIterator) Err() error { return it.err }

// Close releases the current node. It is safe to call more than once.
func (it *BoxIterator) Close() {
	it.release()
	it.stack = nil
	it.done = true
}

func (it *BoxIterator) release() {
	if it.cur != nil {
		it.cur.unpin()
		it.cur = nil
	}
}
