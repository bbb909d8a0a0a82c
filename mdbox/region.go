package mdbox

import "fmt"

// Region restricts iteration to the boxes that overlap it.
type Region interface {
	NumDims() int
	// Intersects reports whether a box may hold points of the region. The
	// box owns [Min, Max) in each dimension, and an infinite bound leaves it
	// unbounded on that side. It may over report, never under report.
	Intersects(extents []Extent) bool
	// Contains reports whether a point lies in the region.
	Contains(coords []float32) bool
}

// Plane is the half-space Normal·x >= Offset, or Normal·x > Offset when
// Exclusive is set.
type Plane struct {
	Normal    []float64
	Offset    float64
	Exclusive bool
}

// PlaneRegion is the intersection of a set of half-spaces, a convex polytope
// when bounded.
type PlaneRegion struct {
	nd     int
	planes []Plane
}

// NewPlaneRegion returns the region inside every plane. Each normal must have
// nd components.
func NewPlaneRegion(nd int, planes ...Plane) (*PlaneRegion, error) {
	if nd < 1 {
		return nil, ErrInvalidDimensions
	}
	for i, p := range planes {
		if len(p.Normal) != nd {
			return nil, fmt.Errorf("%w: plane %d has %d components, region has %d dimensions",
				ErrDimensionMismatch, i, len(p.Normal), nd)
		}
	}
	return &PlaneRegion{nd: nd, planes: planes}, nil
}

// NewBoxRegion returns the axis aligned box given by extents as two planes
// per dimension. Like a box in the tree it holds its lower faces but not its
// upper ones, so a region built from a box's extents contains exactly the
// points that box owns.
func NewBoxRegion(extents []Extent) *PlaneRegion {
	nd := len(extents)
	r := &PlaneRegion{nd: nd, planes: make([]Plane, 0, 2*nd)}
	for d, e := range extents {
		lo := Plane{Normal: make([]float64, nd), Offset: float64(e.Min)}
		lo.Normal[d] = 1
		hi := Plane{Normal: make([]float64, nd), Offset: -float64(e.Max), Exclusive: true}
		hi.Normal[d] = -1
		r.planes = append(r.planes, lo, hi)
	}
	return r
}

func (r *PlaneRegion) NumDims() int    { return r.nd }
func (r *PlaneRegion) Planes() []Plane { return r.planes }

// Intersects tests the box against each plane separately, using the supremum
// of Normal·x over the box. The supremum is only reached when no positive
// normal component runs into an open upper face, so a box that only touches
// an inclusive plane from below is rejected while one touching it from above
// is kept.
func (r *PlaneRegion) Intersects(extents []Extent) bool {
	if len(extents) != r.nd {
		return false
	}
	for _, p := range r.planes {
		var sup float64
		reached := true
		for d, e := range extents {
			switch n := p.Normal[d]; {
			case n > 0:
				sup += n * float64(e.Max)
				reached = false
			case n < 0:
				sup += n * float64(e.Min)
			}
		}
		if sup > p.Offset {
			continue
		}
		if sup == p.Offset && reached && !p.Exclusive {
			continue
		}
		return false
	}
	return true
}

func (r *PlaneRegion) Contains(coords []float32) bool {
	if len(coords) != r.nd {
		return false
	}
	for _, p := range r.planes {
		var v float64
		for d, x := range coords {
			v += p.Normal[d] * float64(x)
		}
		if p.Exclusive && !(v > p.Offset) || !p.Exclusive && !(v >= p.Offset) {
			return false
		}
	}
	return true
}
