package mdbox

import "sort"

// Extent is the closed interval a box covers along one dimension.
type Extent struct {
	Min float32 `yaml:"min" cbor:"1,keyasint"`
	Max float32 `yaml:"max" cbor:"2,keyasint"`
}

// Width returns Max - Min in float64.
func (e Extent) Width() float64 { return float64(e.Max) - float64(e.Min) }

// Contains reports whether x lies in the closed interval.
func (e Extent) Contains(x float32) bool { return x >= e.Min && x <= e.Max }

// Volume returns the product of the widths.
func Volume(extents []Extent) float64 {
	v := 1.0
	for _, e := range extents {
		v *= e.Width()
	}
	return v
}

// splitBounds divides e into n equal intervals, returning the n+1 boundaries.
// The first and last boundaries are exactly e.Min and e.Max so that children
// tile their parent without gaps.
func splitBounds(e Extent, n uint32) []float32 {
	b := make([]float32, n+1)
	b[0] = e.Min
	w := e.Width()
	for k := uint32(1); k < n; k++ {
		b[k] = float32(float64(e.Min) + w*float64(k)/float64(n))
	}
	b[n] = e.Max
	return b
}

// boundsSlot returns the interval of bounds holding x. Intervals are half
// open, [b[k], b[k+1]), except the last which also holds its upper bound.
// Values below the first bound go to the first interval, values above the
// last (and NaN) go to the last.
func boundsSlot(bounds []float32, x float32) uint32 {
	n := len(bounds) - 1
	k := sort.Search(n, func(k int) bool { return x < bounds[k+1] })
	if k == n {
		k = n - 1
	}
	return uint32(k)
}
