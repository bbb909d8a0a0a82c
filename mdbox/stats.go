package mdbox

import "github.com/forestrie/go-mdevents/diskbuffer"

// Stats is a point in time summary of a workspace. It is not atomic with
// respect to concurrent inserts or splits.
type Stats struct {
	Boxes     uint64
	GridBoxes uint64
	Leaves    uint64
	Events    uint64
	Masked    uint64
	MaxDepth  uint32

	// SaturatedBoxes counts leaves at the maximum depth holding more than
	// the split threshold. They keep growing, which is not an error.
	SaturatedBoxes uint64

	BoxesByDepth []uint64
	AverageDepth float64

	// Buffer is the zero value for a memory only workspace.
	Buffer diskbuffer.Stats
}

func (ws *Workspace) Stats() Stats {
	ws.arenaMu.RLock()
	nodes := ws.nodes[:len(ws.nodes):len(ws.nodes)]
	ws.arenaMu.RUnlock()

	ctl := ws.ctl
	st := Stats{
		Boxes:        uint64(len(nodes)),
		BoxesByDepth: ctl.BoxesByDepth(),
		AverageDepth: ctl.AverageDepth(),
	}
	for _, n := range nodes {
		if n.depth > st.MaxDepth {
			st.MaxDepth = n.depth
		}
		if n.IsMasked() {
			st.Masked++
		}
		n.mu.RLock()
		switch n.kind {
		case KindGridBox:
			st.GridBoxes++
		case KindBox:
			st.Leaves++
			st.Events += n.box.numEvents
			if n.depth >= ctl.maxDepth && n.box.numEvents > ctl.splitThreshold {
				st.SaturatedBoxes++
			}
		}
		n.mu.RUnlock()
	}
	if ws.buf != nil {
		st.Buffer = ws.buf.Stats()
	}
	return st
}
