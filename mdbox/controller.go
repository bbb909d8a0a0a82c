package mdbox

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/forestrie/go-mdevents/diskbuffer"
	"github.com/forestrie/go-mdevents/mdevent"
)

// Controller holds the configuration and the shared mutable state of one
// workspace's tree. Every node of the tree refers to the same controller.
//
// The configuration fields are immutable after construction. The id counter
// and the statistics are safe for concurrent use.
type Controller struct {
	nd             int
	splitInto      []uint32
	numChildren    int
	splitThreshold uint64
	maxDepth       uint32
	kind           mdevent.Kind
	checkpoint     uint64

	buf *diskbuffer.Buffer

	nextID          atomic.Uint64
	addedSinceSplit atomic.Uint64

	mu           sync.Mutex
	boxesByDepth []uint64
	gridBoxes    uint64
}

// NewController validates cfg and returns a controller for it. buf may be
// nil for a memory only workspace.
func NewController(cfg Config, buf *diskbuffer.Buffer) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	factors, err := cfg.splitFactors()
	if err != nil {
		return nil, err
	}
	kind, err := mdevent.ParseKind(cfg.EventKind)
	if err != nil {
		return nil, ErrInvalidEventKind
	}

	c := &Controller{
		nd:             cfg.Dimensions,
		splitInto:      factors,
		numChildren:    1,
		splitThreshold: cfg.SplitThreshold,
		maxDepth:       cfg.MaxDepth,
		kind:           kind,
		checkpoint:     cfg.SplitCheckpoint,
		buf:            buf,
	}
	for _, f := range factors {
		c.numChildren *= int(f)
	}
	if c.checkpoint == 0 {
		c.checkpoint = DefaultSplitCheckpoint
	}
	return c, nil
}

func (c *Controller) NumDims() int               { return c.nd }
func (c *Controller) SplitInto(dim int) uint32   { return c.splitInto[dim] }
func (c *Controller) NumChildren() int           { return c.numChildren }
func (c *Controller) SplitThreshold() uint64     { return c.splitThreshold }
func (c *Controller) MaxDepth() uint32           { return c.maxDepth }
func (c *Controller) EventKind() mdevent.Kind    { return c.kind }
func (c *Controller) SplitCheckpoint() uint64    { return c.checkpoint }
func (c *Controller) Buffer() *diskbuffer.Buffer { return c.buf }
func (c *Controller) AddedSinceSplit() uint64    { return c.addedSinceSplit.Load() }
func (c *Controller) ShouldSplit() bool          { return c.AddedSinceSplit() >= c.checkpoint }
func (c *Controller) addEvents(n uint64)         { c.addedSinceSplit.Add(n) }
func (c *Controller) setNextID(next uint64)      { c.nextID.Store(next) }
func (c *Controller) peekNextID() uint64         { return c.nextID.Load() }

// consumeAdded subtracts the n events a split pass has accounted for, keeping
// any inserted while it ran.
func (c *Controller) consumeAdded(n uint64) {
	c.addedSinceSplit.Add(^(n - 1))
}

// AllocateID returns the next box id. Ids are never reused.
func (c *Controller) AllocateID() uint64 {
	return c.nextID.Add(1) - 1
}

func (c *Controller) trackBox(depth uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for uint32(len(c.boxesByDepth)) <= depth {
		c.boxesByDepth = append(c.boxesByDepth, 0)
	}
	c.boxesByDepth[depth]++
}

func (c *Controller) trackSplit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gridBoxes++
}

// BoxesByDepth returns the number of boxes, leaf or grid, at each depth.
func (c *Controller) BoxesByDepth() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.boxesByDepth)
}

// TotalBoxes returns the number of boxes of either kind.
func (c *Controller) TotalBoxes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n uint64
	for _, v := range c.boxesByDepth {
		n += v
	}
	return n
}

// GridBoxes returns the number of boxes that have been split.
func (c *Controller) GridBoxes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gridBoxes
}

// AverageDepth is the mean depth over all boxes.
func (c *Controller) AverageDepth() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n, sum uint64
	for d, v := range c.boxesByDepth {
		n += v
		sum += uint64(d) * v
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}
