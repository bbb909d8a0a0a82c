package mdbox

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// MaybeSplit splits leaf n if it is above the split threshold and below the
// maximum depth, then splits any new child that is itself over threshold. It
// reports whether n was split. A leaf at the maximum depth is never split,
// however many events it holds. A leaf an iterator is holding is left alone
// until a later call.
//
// n is converted into a grid in place, so every existing reference to it
// stays valid. The grid is only linked once all of its children are complete.
func (ws *Workspace) MaybeSplit(n *Node) (bool, error) {
	children, err := ws.split(n)
	if err != nil || children == nil {
		return false, err
	}
	for _, c := range children {
		split, err := ws.MaybeSplit(c)
		if err != nil {
			return true, err
		}
		if split {
			continue
		}
		if err := ws.touch(c); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (ws *Workspace) split(n *Node) ([]*Node, error) {
	ctl := ws.ctl

	n.mu.Lock()
	if n.kind != KindBox || n.depth >= ctl.maxDepth || n.box.numEvents <= ctl.splitThreshold {
		n.mu.Unlock()
		return nil, nil
	}
	if n.pins.Load() > 0 {
		// held by an iterator, a later pass splits it
		ws.log.Debugf("split box %d deferred: in use", n.id)
		n.mu.Unlock()
		return nil, nil
	}
	if err := n.materializeLocked(); err != nil {
		n.mu.Unlock()
		return nil, err
	}

	grid := newGridBox(n.extents, ctl.splitInto)
	children := make([]*Node, ctl.numChildren)
	for i := range children {
		c := ws.newLeaf(n.ref, n.depth+1, grid.childExtents(i))
		c.box.resident = true
		c.box.dirty = true
		c.masked.Store(n.masked.Load())
		children[i] = c
	}
	for _, ev := range n.box.events {
		c := children[grid.childIndex(ev.Coords)]
		c.box.events = append(c.box.events, ev)
	}
	for _, c := range children {
		c.box.numEvents = uint64(len(c.box.events))
	}

	ws.addNodes(children)
	grid.children = make([]NodeRef, len(children))
	for i, c := range children {
		grid.children[i] = c.ref
	}

	old := n.box
	n.kind, n.grid, n.box = KindGridBox, grid, nil
	n.mu.Unlock()

	ctl.trackSplit()
	if ws.buf != nil {
		ws.buf.Forget(n.id)
		if old.onDisk {
			ws.buf.Release(old.loc)
		}
	}
	ws.log.Debugf("split box %d at depth %d: %d events into %d children",
		n.id, n.depth, old.numEvents, len(children))
	return children, nil
}

// SplitAllIfNeeded splits every leaf that is over threshold. Subtrees below
// the root are split in parallel. Only one pass runs at a time.
func (ws *Workspace) SplitAllIfNeeded(ctx context.Context) error {
	ws.splitMu.Lock()
	defer ws.splitMu.Unlock()

	pending := ws.ctl.AddedSinceSplit()
	before := ws.ctl.GridBoxes()

	root := ws.Root()
	if _, err := ws.MaybeSplit(root); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, ref := range root.children() {
		n := ws.node(ref)
		g.Go(func() error {
			return ws.splitSubtree(gctx, n)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ws.ctl.consumeAdded(pending)
	ws.log.Infof("workspace %s: split pass over %d new events split %d boxes, %d boxes total",
		ws.id, pending, ws.ctl.GridBoxes()-before, ws.ctl.TotalBoxes())
	return nil
}

func (ws *Workspace) splitSubtree(ctx context.Context, n *Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	children := n.children()
	if children == nil {
		_, err := ws.MaybeSplit(n)
		return err
	}
	for _, c := range children {
		if err := ws.splitSubtree(ctx, ws.node(c)); err != nil {
			return err
		}
	}
	return nil
}
