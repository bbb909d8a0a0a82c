package mdbox

/*

# Adaptive box tree for multidimensional events

A Workspace stores weighted point events in an nd dimensional box tree. The
root starts as a single leaf (a Box) covering the declared extents. A leaf
holding more than the split threshold is replaced, in place, by a grid (a
GridBox) whose children divide each dimension into SplitInto equal intervals.

## Arena

Nodes live in a slice and refer to each other by NodeRef. A node records its
parent's ref, so climbing to an ancestor is O(1) and there are no owning
cycles. The arena only grows; a grid is never merged back into a leaf.

Children of a grid are numbered with dimension 0 varying fastest:

	index = k0 + n0*(k1 + n1*(k2 + ...))

where kd is the interval of dimension d and nd its split factor.

## Boundaries

Along each dimension the intervals are [b0, b1), [b1, b2), ... [bn-1, bn],
so a point exactly on a dividing plane belongs to the upper child and the
last interval is closed. Points outside the root extents are not rejected,
they are stored in the nearest edge leaf.

## Deferred work

Insert only appends. Splitting happens in MaybeSplit / SplitAllIfNeeded,
which an EventInserter calls every SplitCheckpoint events. The signal and
squared error of a node are only computed by RefreshCache, and are stale
after any later insert.

## Locking

- the arena has its own RWMutex, held only to look up or append nodes
- each node has an RWMutex; descent takes grids shared and the target leaf
  exclusive, splitting takes the leaf exclusive
- a node's lock may be held while calling into the backing store, which
  only ever try-locks the boxes it evicts
- an iterator pins the box it is positioned on so it is neither paged out
  nor split until the iterator moves on

*/
