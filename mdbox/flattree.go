package mdbox

import (
	"fmt"
	"io"
	"math"
	"slices"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-mdevents/diskbuffer"
	"github.com/google/uuid"
)

// IndexVersion is the version of the flat tree index written by SaveIndex.
const IndexVersion = 1

// indexNode is one arena slot. A child's extents are not stored, they are
// recomputed from its parent and its position among the parent's children.
type indexNode struct {
	ID           uint64   `cbor:"1,keyasint"`
	Kind         NodeKind `cbor:"2,keyasint"`
	Depth        uint32   `cbor:"3,keyasint"`
	Parent       NodeRef  `cbor:"4,keyasint"`
	FirstChild   NodeRef  `cbor:"5,keyasint,omitempty"`
	NumEvents    uint64   `cbor:"6,keyasint,omitempty"`
	Offset       uint64   `cbor:"7,keyasint,omitempty"`
	Length       uint64   `cbor:"8,keyasint,omitempty"`
	Masked       bool     `cbor:"9,keyasint,omitempty"`
	Signal       float64  `cbor:"10,keyasint,omitempty"`
	ErrorSquared float64  `cbor:"11,keyasint,omitempty"`
}

// flatIndex is the tree structure plus the (box id -> offset, length) table
// for every leaf. Together with the backing file it is enough to reopen the
// workspace.
type flatIndex struct {
	Version   uint32      `cbor:"1,keyasint"`
	Workspace uuid.UUID   `cbor:"2,keyasint"`
	Config    Config      `cbor:"3,keyasint"`
	NextID    uint64      `cbor:"4,keyasint"`
	FileEnd   uint64      `cbor:"5,keyasint"`
	Nodes     []indexNode `cbor:"6,keyasint"`
}

// NewIndexCodec returns the deterministic codec the tree index is written
// with. The decoder accepts indexes of any size the format allows.
func NewIndexCodec() (dtcbor.CBORCodec, error) {
	decOpts := dtcbor.NewDeterministicDecOpts()
	decOpts.MaxArrayElements = math.MaxInt32
	decOpts.MaxMapPairs = math.MaxInt32
	return dtcbor.NewCBORCodec(dtcbor.NewDeterministicEncOpts(), decOpts)
}

// SaveIndex flushes every dirty leaf to the backing store and writes the
// flat tree index to w. It must not run concurrently with inserts or splits.
//
// The index is not crash durable, rebuilding the workspace from its events
// remains the recovery path.
func (ws *Workspace) SaveIndex(w io.Writer) error {
	if ws.buf == nil {
		return ErrNoBackingStore
	}
	if err := ws.buf.Flush(); err != nil {
		return err
	}

	ws.arenaMu.RLock()
	nodes := slices.Clone(ws.nodes)
	ws.arenaMu.RUnlock()

	idx := flatIndex{
		Version:   IndexVersion,
		Workspace: ws.id,
		Config:    ws.cfg,
		NextID:    ws.ctl.peekNextID(),
		FileEnd:   ws.buf.Stats().FileEnd,
		Nodes:     make([]indexNode, len(nodes)),
	}
	for i, n := range nodes {
		in := indexNode{
			ID:     n.id,
			Depth:  n.depth,
			Parent: n.parent,
			Masked: n.IsMasked(),
		}
		n.mu.RLock()
		in.Kind = n.kind
		in.Signal, in.ErrorSquared = n.signal, n.errorSquared
		switch n.kind {
		case KindGridBox:
			in.FirstChild = n.grid.children[0]
		case KindBox:
			if !n.box.onDisk || n.box.dirty {
				n.mu.RUnlock()
				return fmt.Errorf("%w: box %d", ErrNotPersisted, n.id)
			}
			in.NumEvents = n.box.numEvents
			in.Offset, in.Length = n.box.loc.Offset, n.box.loc.Length
		}
		n.mu.RUnlock()
		idx.Nodes[i] = in
	}

	codec, err := NewIndexCodec()
	if err != nil {
		return err
	}
	data, err := codec.MarshalCBOR(&idx)
	if err != nil {
		return fmt.Errorf("mdbox: encoding tree index: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("mdbox: writing tree index: %w", err)
	}
	ws.log.Infof("workspace %s: saved index of %d boxes", ws.id, len(nodes))
	return nil
}

// LoadWorkspace reopens a workspace from an index written by SaveIndex and
// the backing file it refers to. Every leaf starts paged out. The workspace
// owns file, and file is closed if loading fails. WithBuffer and
// WithBackingFile options are ignored.
func LoadWorkspace(log logger.Logger, r io.Reader, file diskbuffer.File, opts ...Option) (*Workspace, error) {
	idx, err := readIndex(r)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	o.Buffer, o.BackingFile = nil, file

	ws, err := newWorkspace(log, idx.Config, idx.Workspace, o, idx.FileEnd)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := ws.loadNodes(idx); err != nil {
		_ = ws.Close()
		return nil, err
	}
	if err := ws.register(o.Registerer); err != nil {
		_ = ws.Close()
		return nil, err
	}
	ws.log.Infof("workspace %s: loaded index of %d boxes", ws.id, len(idx.Nodes))
	return ws, nil
}

func readIndex(r io.Reader) (*flatIndex, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("mdbox: reading tree index: %w", err)
	}
	codec, err := NewIndexCodec()
	if err != nil {
		return nil, err
	}
	var idx flatIndex
	if err := codec.UnmarshalInto(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if idx.Version != IndexVersion {
		return nil, fmt.Errorf("%w: %d", ErrIndexVersion, idx.Version)
	}
	if err := idx.Config.Validate(); err != nil {
		return nil, err
	}
	if len(idx.Nodes) == 0 || len(idx.Nodes) >= int(NoRef) {
		return nil, fmt.Errorf("%w: %d nodes", ErrCorruptIndex, len(idx.Nodes))
	}
	return &idx, nil
}

func (ws *Workspace) loadNodes(idx *flatIndex) error {
	ctl := ws.ctl
	corrupt := func(ref int, format string, args ...any) error {
		return fmt.Errorf("%w: node %d: %s", ErrCorruptIndex, ref, fmt.Sprintf(format, args...))
	}

	nodes := make([]*Node, len(idx.Nodes))
	var used []diskbuffer.Extent
	for i, in := range idx.Nodes {
		n := &Node{
			ws:           ws,
			id:           in.ID,
			depth:        in.Depth,
			parent:       in.Parent,
			kind:         in.Kind,
			signal:       in.Signal,
			errorSquared: in.ErrorSquared,
		}
		n.masked.Store(in.Masked)

		if i == 0 {
			if in.Parent != NoRef || in.Depth != 0 {
				return corrupt(i, "root has a parent")
			}
			n.extents = slices.Clone(idx.Config.Extents)
		} else {
			if int(in.Parent) >= i {
				return corrupt(i, "parent %d does not precede it", in.Parent)
			}
			p := nodes[in.Parent]
			if p.kind != KindGridBox {
				return corrupt(i, "parent %d is not a grid", in.Parent)
			}
			k := i - int(p.grid.children[0])
			if k < 0 || k >= len(p.grid.children) || in.Depth != p.depth+1 {
				return corrupt(i, "not a child of %d", in.Parent)
			}
			n.extents = p.grid.childExtents(k)
		}

		switch in.Kind {
		case KindGridBox:
			first := int(in.FirstChild)
			if first <= i || first+ctl.numChildren > len(idx.Nodes) {
				return corrupt(i, "children at %d out of range", first)
			}
			n.grid = newGridBox(n.extents, ctl.splitInto)
			n.grid.children = make([]NodeRef, ctl.numChildren)
			for c := range n.grid.children {
				n.grid.children[c] = NodeRef(first + c)
			}
		case KindBox:
			loc := diskbuffer.Extent{Offset: in.Offset, Length: in.Length}
			if loc.End() > idx.FileEnd {
				return corrupt(i, "record beyond the end of the file")
			}
			n.box = &Box{numEvents: in.NumEvents, onDisk: true, loc: loc}
			used = append(used, loc)
		default:
			return corrupt(i, "%v", ErrInvalidNodeKind)
		}
		nodes[i] = n
	}

	for i, n := range nodes {
		if n.kind != KindGridBox {
			continue
		}
		for _, c := range n.grid.children {
			if nodes[c].parent != NodeRef(i) {
				return corrupt(int(c), "claimed by more than one grid")
			}
		}
	}

	if err := ws.releaseGaps(used, idx.FileEnd); err != nil {
		return err
	}

	ws.addNodes(nodes)
	for _, n := range nodes {
		if n.kind == KindGridBox {
			ctl.trackSplit()
		}
	}
	ctl.setNextID(idx.NextID)
	return nil
}

// releaseGaps returns the parts of the file no leaf record occupies to the
// free space.
func (ws *Workspace) releaseGaps(used []diskbuffer.Extent, fileEnd uint64) error {
	slices.SortFunc(used, func(a, b diskbuffer.Extent) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})
	var at uint64
	for _, ext := range used {
		if ext.Offset < at {
			return fmt.Errorf("%w: records overlap at %d", ErrCorruptIndex, ext.Offset)
		}
		if ext.Offset > at {
			ws.buf.Release(diskbuffer.Extent{Offset: at, Length: ext.Offset - at})
		}
		at = ext.End()
	}
	if at < fileEnd {
		ws.buf.Release(diskbuffer.Extent{Offset: at, Length: fileEnd - at})
	}
	return nil
}
