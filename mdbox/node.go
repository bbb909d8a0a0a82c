package mdbox

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/forestrie/go-mdevents/diskbuffer"
	"github.com/forestrie/go-mdevents/mdevent"
)

// NodeRef is the arena index of a node. The root is always 0.
type NodeRef uint32

// NoRef is the parent of the root.
const NoRef = ^NodeRef(0)

type NodeKind uint8

const (
	KindBox NodeKind = iota + 1
	KindGridBox
)

func (k NodeKind) String() string {
	switch k {
	case KindBox:
		return "box"
	case KindGridBox:
		return "gridbox"
	default:
		return fmt.Sprintf("NodeKind(%d)", uint8(k))
	}
}

// Box is the leaf payload of a node.
//
// numEvents is exact whether or not the events are resident. When the box is
// not resident its record at loc is authoritative.
type Box struct {
	events    []mdevent.Event
	numEvents uint64
	resident  bool
	dirty     bool
	onDisk    bool
	loc       diskbuffer.Extent
}

// GridBox is the payload of a split node. Children are laid out with
// dimension 0 varying fastest. Both slices are immutable once the grid is
// linked into the tree.
type GridBox struct {
	children []NodeRef
	bounds   [][]float32
}

func newGridBox(extents []Extent, factors []uint32) *GridBox {
	g := &GridBox{bounds: make([][]float32, len(extents))}
	for d, e := range extents {
		g.bounds[d] = splitBounds(e, factors[d])
	}
	return g
}

// childIndex returns the linear index of the child that owns coords.
func (g *GridBox) childIndex(coords []float32) int {
	idx, stride := 0, 1
	for d, b := range g.bounds {
		idx += int(boundsSlot(b, coords[d])) * stride
		stride *= len(b) - 1
	}
	return idx
}

// childExtents returns the extents of child i.
func (g *GridBox) childExtents(i int) []Extent {
	ext := make([]Extent, len(g.bounds))
	for d, b := range g.bounds {
		n := len(b) - 1
		k := i % n
		i /= n
		ext[d] = Extent{Min: b[k], Max: b[k+1]}
	}
	return ext
}

// Node is one box of the tree, either a leaf Box or a GridBox.
//
// The header (id, depth, parent, extents) never changes. kind and the payload
// change exactly once, when a leaf is split, and are guarded by mu together
// with the cached aggregates. A leaf's events are only touched with mu held
// exclusively.
type Node struct {
	ws      *Workspace
	ref     NodeRef
	id      uint64
	depth   uint32
	parent  NodeRef
	extents []Extent

	mu           sync.RWMutex
	kind         NodeKind
	box          *Box
	grid         *GridBox
	signal       float64
	errorSquared float64

	masked atomic.Bool
	pins   atomic.Int32
}

func (n *Node) Ref() NodeRef      { return n.ref }
func (n *Node) ID() uint64        { return n.id }
func (n *Node) Depth() uint32     { return n.depth }
func (n *Node) Parent() NodeRef   { return n.parent }
func (n *Node) Extents() []Extent { return slices.Clone(n.extents) }
func (n *Node) IsMasked() bool    { return n.masked.Load() }
func (n *Node) IsRoot() bool      { return n.parent == NoRef }

func (n *Node) Kind() NodeKind {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.kind
}

func (n *Node) IsLeaf() bool { return n.Kind() == KindBox }

// Signal is the cached signal sum. It is only meaningful once RefreshCache
// has completed after the last mutation.
func (n *Node) Signal() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.signal
}

// ErrorSquared is the cached squared error sum, see Signal.
func (n *Node) ErrorSquared() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.errorSquared
}

// Children returns the child refs of a grid box, nil for a leaf.
func (n *Node) Children() []NodeRef {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.kind != KindGridBox {
		return nil
	}
	return slices.Clone(n.grid.children)
}

// children returns the grid's immutable child slice without copying.
func (n *Node) children() []NodeRef {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.kind != KindGridBox {
		return nil
	}
	return n.grid.children
}

// Ancestors returns the refs from the parent up to the root.
func (n *Node) Ancestors() []NodeRef {
	var refs []NodeRef
	for p := n.parent; p != NoRef; p = n.ws.node(p).parent {
		refs = append(refs, p)
	}
	return refs
}

// Contains reports whether coords lie in the node's closed extents.
func (n *Node) Contains(coords []float32) bool {
	if len(coords) != len(n.extents) {
		return false
	}
	for d, e := range n.extents {
		if !e.Contains(coords[d]) {
			return false
		}
	}
	return true
}

// NumEvents returns the exact number of events below the node. For a grid it
// is computed from the children on every call.
func (n *Node) NumEvents() uint64 {
	n.mu.RLock()
	if n.kind == KindBox {
		defer n.mu.RUnlock()
		return n.box.numEvents
	}
	children := n.grid.children
	n.mu.RUnlock()

	var total uint64
	for _, c := range children {
		total += n.ws.node(c).NumEvents()
	}
	return total
}

// IsResident reports whether a leaf's events are in memory. Grids are always
// resident.
func (n *Node) IsResident() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.kind != KindBox || n.box.resident
}

// IsDirty reports whether a leaf has changes not yet written to the backing
// store.
func (n *Node) IsDirty() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.kind == KindBox && n.box.dirty
}

// OnDisk returns the leaf's record location, if it has one.
func (n *Node) OnDisk() (diskbuffer.Extent, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.kind != KindBox || !n.box.onDisk {
		return diskbuffer.Extent{}, false
	}
	return n.box.loc, true
}

// pin keeps a leaf resident until the matching unpin. Taking the read lock
// orders the pin against an eviction already holding the write lock.
func (n *Node) pin() {
	n.mu.RLock()
	n.pins.Add(1)
	n.mu.RUnlock()
}

func (n *Node) unpin() { n.pins.Add(-1) }

// TryEvict implements diskbuffer.Saveable.
func (n *Node) TryEvict(write diskbuffer.WriteFunc) (bool, error) {
	if n.pins.Load() > 0 || !n.mu.TryLock() {
		return false, nil
	}
	defer n.mu.Unlock()
	if n.kind != KindBox || !n.box.resident || n.pins.Load() > 0 {
		return false, nil
	}
	if err := n.saveLocked(write); err != nil {
		return false, err
	}
	n.box.events = nil
	n.box.resident = false
	return true, nil
}

// Sync implements diskbuffer.Saveable.
func (n *Node) Sync(write diskbuffer.WriteFunc) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != KindBox || !n.box.resident {
		return nil
	}
	return n.saveLocked(write)
}

// saveLocked writes the leaf's events if the disk copy is missing or stale.
// On failure the box is left exactly as it was.
func (n *Node) saveLocked(write diskbuffer.WriteFunc) error {
	b := n.box
	if b.onDisk && !b.dirty {
		return nil
	}
	ctl := n.ws.ctl
	data, err := mdevent.AppendRecord(ctl.kind, ctl.nd, b.events)
	if err != nil {
		return err
	}
	loc, err := write(data, b.loc, b.onDisk)
	if err != nil {
		return err
	}
	b.loc, b.onDisk, b.dirty = loc, true, false
	return nil
}

// materializeLocked makes a leaf's events resident. It is a no-op for a
// resident leaf.
func (n *Node) materializeLocked() error {
	b := n.box
	if b.resident {
		return nil
	}
	events, err := n.readLocked()
	if err != nil {
		return err
	}
	b.events = events
	b.resident = true
	b.dirty = false
	return nil
}

// readLocked decodes the leaf's record without installing it.
func (n *Node) readLocked() ([]mdevent.Event, error) {
	b := n.box
	buf := n.ws.ctl.buf
	if buf == nil {
		return nil, ErrNoBackingStore
	}
	if !b.onDisk {
		return nil, fmt.Errorf("%w: box %d", ErrNotPersisted, n.id)
	}
	data, err := buf.Read(b.loc)
	if err != nil {
		return nil, err
	}
	h, events, err := mdevent.DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("mdbox: box %d: %w", n.id, err)
	}
	ctl := n.ws.ctl
	switch {
	case h.Kind != ctl.kind:
		return nil, fmt.Errorf("%w: box %d is %s, record is %s",
			ErrRecordMismatch, n.id, ctl.kind, h.Kind)
	case int(h.NumDims) != ctl.nd:
		return nil, fmt.Errorf("%w: box %d has %d dimensions, record has %d",
			ErrRecordMismatch, n.id, ctl.nd, h.NumDims)
	case h.Count != b.numEvents:
		return nil, fmt.Errorf("%w: box %d holds %d events, record has %d",
			ErrRecordMismatch, n.id, b.numEvents, h.Count)
	}
	return events, nil
}

// touchLocked reports the leaf's footprint to the backing store. The buffer
// only try-locks other boxes, so holding n.mu here is safe.
func (n *Node) touchLocked() error {
	buf := n.ws.ctl.buf
	if buf == nil || n.kind != KindBox || !n.box.resident {
		return nil
	}
	return buf.Touch(n, uint64(len(n.box.events)))
}

// appendLocked adds ev to a leaf, paging it in first if necessary.
func (n *Node) appendLocked(ev mdevent.Event) error {
	if err := n.materializeLocked(); err != nil {
		return err
	}
	b := n.box
	b.events = append(b.events, ev)
	b.numEvents++
	b.dirty = true
	return n.touchLocked()
}
