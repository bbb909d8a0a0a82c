package mdbox

// SkipAction tells the iterator how to continue after a node.
type SkipAction uint8

const (
	// Descend continues into the node's children.
	Descend SkipAction = iota
	// SkipSubtree abandons the node's children.
	SkipSubtree
	// SkipSiblings drops the node's remaining siblings. Its own children are
	// still visited.
	SkipSiblings
)

// SkipPolicy is consulted once for every node the iterator reaches that
// passes the depth and region filters: after the node has been yielded, or
// straight away for a grid that a leaf only iteration does not yield.
type SkipPolicy interface {
	Skip(n *Node) SkipAction
}

// SkipFunc adapts a function to SkipPolicy.
type SkipFunc func(n *Node) SkipAction

func (f SkipFunc) Skip(n *Node) SkipAction { return f(n) }

type skipNothing struct{}

func (skipNothing) Skip(*Node) SkipAction { return Descend }

type skipMasked struct{}

func (skipMasked) Skip(n *Node) SkipAction {
	if n.IsMasked() {
		return SkipSubtree
	}
	return Descend
}

var (
	SkipNothing SkipPolicy = skipNothing{}
	// SkipMasked does not descend below masked nodes.
	SkipMasked SkipPolicy = skipMasked{}
)
