package mdbox

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-mdevents/diskbuffer"
	"github.com/forestrie/go-mdevents/mdevent"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Workspace is an adaptive box tree over events of a fixed dimensionality.
//
// Nodes live in an arena and refer to each other by NodeRef, so parents are
// found in O(1) without owning pointers. The arena only grows: splitting
// converts a leaf into a grid in place and appends its children.
//
// Insert, GetEvent, Events, RefreshCache and iteration may be called from
// many goroutines. Aggregates are only authoritative once a RefreshCache has
// completed with no insert in flight.
type Workspace struct {
	log logger.Logger
	cfg Config
	ctl *Controller
	id  uuid.UUID

	buf     *diskbuffer.Buffer
	ownsBuf bool

	arenaMu sync.RWMutex
	nodes   []*Node

	// serialises split passes
	splitMu sync.Mutex

	reg       prometheus.Registerer
	collector *Collector
}

// NewWorkspace creates a workspace whose root is a single empty leaf covering
// cfg.Extents.
func NewWorkspace(log logger.Logger, cfg Config, opts ...Option) (*Workspace, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	ws, err := newWorkspace(log, cfg, uuid.New(), o, 0)
	if err != nil {
		return nil, err
	}

	root := ws.newLeaf(NoRef, 0, slices.Clone(cfg.Extents))
	root.box.resident = true
	ws.addNodes([]*Node{root})
	if err := ws.touch(root); err != nil {
		_ = ws.Close()
		return nil, err
	}

	if err := ws.register(o.Registerer); err != nil {
		_ = ws.Close()
		return nil, err
	}
	ws.log.Infof("workspace %s: %d dimensions, %d children per split, threshold %d, max depth %d",
		ws.id, ws.ctl.nd, ws.ctl.numChildren, ws.ctl.splitThreshold, ws.ctl.maxDepth)
	return ws, nil
}

// newWorkspace wires the backing store and controller. fileEnd is the extent
// of the backing file already in use.
func newWorkspace(log logger.Logger, cfg Config, id uuid.UUID, o Options, fileEnd uint64) (*Workspace, error) {
	ws := &Workspace{log: log, cfg: cfg, id: id}

	limits := []diskbuffer.Option{
		diskbuffer.WithMaxResidentEvents(cfg.MaxResidentEvents),
		diskbuffer.WithMaxResidentBoxes(cfg.MaxResidentBoxes),
	}
	var err error
	switch {
	case o.Buffer != nil:
		ws.buf = o.Buffer
	case o.BackingFile != nil:
		ws.buf, err = diskbuffer.NewBufferAt(log, o.BackingFile, fileEnd, limits...)
		ws.ownsBuf = true
	case cfg.BackingFile != "":
		var f diskbuffer.File
		if f, err = diskbuffer.OpenFile(cfg.BackingFile); err != nil {
			return nil, err
		}
		if ws.buf, err = diskbuffer.NewBufferAt(log, f, fileEnd, limits...); err != nil {
			_ = f.Close()
		}
		ws.ownsBuf = true
	}
	if err != nil {
		return nil, err
	}

	if ws.ctl, err = NewController(cfg, ws.buf); err != nil {
		if ws.ownsBuf {
			_ = ws.buf.Close()
		}
		return nil, err
	}
	return ws, nil
}

func (ws *Workspace) register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	c := NewCollector(ws)
	if err := reg.Register(c); err != nil {
		return fmt.Errorf("mdbox: registering metrics: %w", err)
	}
	ws.reg, ws.collector = reg, c
	return nil
}

func (ws *Workspace) ID() uuid.UUID              { return ws.id }
func (ws *Workspace) Config() Config             { return ws.cfg }
func (ws *Workspace) Controller() *Controller    { return ws.ctl }
func (ws *Workspace) Buffer() *diskbuffer.Buffer { return ws.buf }
func (ws *Workspace) Root() *Node                { return ws.node(0) }

// Node returns the node at ref.
func (ws *Workspace) Node(ref NodeRef) (*Node, error) {
	ws.arenaMu.RLock()
	defer ws.arenaMu.RUnlock()
	if int64(ref) >= int64(len(ws.nodes)) {
		return nil, fmt.Errorf("%w: node %d", ErrIndexOutOfRange, ref)
	}
	return ws.nodes[ref], nil
}

func (ws *Workspace) node(ref NodeRef) *Node {
	ws.arenaMu.RLock()
	defer ws.arenaMu.RUnlock()
	return ws.nodes[ref]
}

// NumNodes returns the size of the arena.
func (ws *Workspace) NumNodes() int {
	ws.arenaMu.RLock()
	defer ws.arenaMu.RUnlock()
	return len(ws.nodes)
}

// newLeaf returns an empty leaf that is not yet in the arena.
func (ws *Workspace) newLeaf(parent NodeRef, depth uint32, extents []Extent) *Node {
	return &Node{
		ws:      ws,
		id:      ws.ctl.AllocateID(),
		depth:   depth,
		parent:  parent,
		extents: extents,
		kind:    KindBox,
		box:     &Box{},
	}
}

// addNodes links nodes into the arena, assigning their refs.
func (ws *Workspace) addNodes(nodes []*Node) {
	ws.arenaMu.Lock()
	for _, n := range nodes {
		n.ref = NodeRef(len(ws.nodes))
		ws.nodes = append(ws.nodes, n)
	}
	ws.arenaMu.Unlock()

	for _, n := range nodes {
		ws.ctl.trackBox(n.depth)
	}
}

func (ws *Workspace) touch(n *Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.touchLocked()
}

// Insert adds ev to the leaf whose extents hold its coordinates. Events
// outside the root extents are kept in the nearest edge leaf. Aggregates are
// not updated and no split is attempted. The coordinates are copied, so the
// caller may reuse ev.Coords.
//
// If paging another box out fails the event is still stored and the error is
// returned.
func (ws *Workspace) Insert(ev mdevent.Event) error {
	_, err := ws.insert(ev)
	return err
}

// insert reports whether ev was stored alongside any error, which may come
// from paging after the event is already in place.
func (ws *Workspace) insert(ev mdevent.Event) (bool, error) {
	if ev.NumDims() != ws.ctl.nd {
		return false, fmt.Errorf("%w: event has %d coordinates, workspace has %d dimensions",
			ErrDimensionMismatch, ev.NumDims(), ws.ctl.nd)
	}
	if ws.ctl.kind == mdevent.Lean {
		ev = ev.Lean()
	}
	ev.Coords = slices.Clone(ev.Coords)

	n := ws.Root()
	for {
		n.mu.RLock()
		if n.kind == KindGridBox {
			child := n.grid.children[n.grid.childIndex(ev.Coords)]
			n.mu.RUnlock()
			n = ws.node(child)
			continue
		}
		n.mu.RUnlock()

		n.mu.Lock()
		if n.kind != KindBox {
			// split since the read lock was dropped
			n.mu.Unlock()
			continue
		}
		before := n.box.numEvents
		err := n.appendLocked(ev)
		stored := n.box.numEvents != before
		n.mu.Unlock()
		if stored {
			ws.ctl.addEvents(1)
		}
		return stored, err
	}
}

// FindLeaf returns the leaf an event at coords would be inserted into.
func (ws *Workspace) FindLeaf(coords []float32) (*Node, error) {
	if len(coords) != ws.ctl.nd {
		return nil, fmt.Errorf("%w: %d coordinates, workspace has %d dimensions",
			ErrDimensionMismatch, len(coords), ws.ctl.nd)
	}
	n := ws.Root()
	for {
		n.mu.RLock()
		if n.kind == KindBox {
			n.mu.RUnlock()
			return n, nil
		}
		child := n.grid.children[n.grid.childIndex(coords)]
		n.mu.RUnlock()
		n = ws.node(child)
	}
}

// GetEvent returns a copy of event i of leaf n.
func (ws *Workspace) GetEvent(n *Node, i uint64) (mdevent.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != KindBox {
		return mdevent.Event{}, ErrNotLeaf
	}
	if i >= n.box.numEvents {
		return mdevent.Event{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, n.box.numEvents)
	}
	if err := n.materializeLocked(); err != nil {
		return mdevent.Event{}, err
	}
	ev := n.box.events[i].Clone()
	return ev, n.touchLocked()
}

// Events returns the events of leaf n, paging them in if necessary. The
// returned slice is the caller's, the events themselves must not be
// modified.
func (ws *Workspace) Events(n *Node) ([]mdevent.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != KindBox {
		return nil, ErrNotLeaf
	}
	if err := n.materializeLocked(); err != nil {
		return nil, err
	}
	events := slices.Clone(n.box.events)
	return events, n.touchLocked()
}

// Evict pages leaf n out now. It reports false if n is not resident or is in
// use.
func (ws *Workspace) Evict(n *Node) (bool, error) {
	if ws.buf == nil {
		return false, ErrNoBackingStore
	}
	return ws.buf.Evict(n)
}

// Mask marks n and its whole subtree as masked.
func (ws *Workspace) Mask(n *Node) { ws.setMasked(n, true) }

// Unmask clears the mask on n and its whole subtree.
func (ws *Workspace) Unmask(n *Node) { ws.setMasked(n, false) }

func (ws *Workspace) setMasked(n *Node, masked bool) {
	n.masked.Store(masked)
	for _, c := range n.children() {
		ws.setMasked(ws.node(c), masked)
	}
}

// Flush writes every dirty resident leaf to the backing store.
func (ws *Workspace) Flush() error {
	if ws.buf == nil {
		return ErrNoBackingStore
	}
	return ws.buf.Flush()
}

// Close unregisters the workspace's metrics and closes the backing store if
// the workspace opened it.
func (ws *Workspace) Close() error {
	var errs []error
	if ws.reg != nil {
		ws.reg.Unregister(ws.collector)
		ws.reg = nil
	}
	if ws.ownsBuf && ws.buf != nil {
		errs = append(errs, ws.buf.Close())
	}
	return errors.Join(errs...)
}
