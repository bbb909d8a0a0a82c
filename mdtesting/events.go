package mdtesting

import (
	"github.com/forestrie/go-mdevents/mdevent"
)

// Bounds is an inclusive coordinate range used by the generators.
type Bounds struct {
	Min, Max float32
}

// UnitBounds returns nd copies of [0, 1].
func UnitBounds(nd int) []Bounds {
	b := make([]Bounds, nd)
	for d := range b {
		b[d] = Bounds{Min: 0, Max: 1}
	}
	return b
}

// Coords returns a point drawn uniformly from bounds.
func (c *TestContext) Coords(bounds []Bounds) []float32 {
	coords := make([]float32, len(bounds))
	for d, b := range bounds {
		coords[d] = b.Min + c.Rand.Float32()*(b.Max-b.Min)
	}
	return coords
}

// Tuple returns a tuple at a random point in bounds with random weights and
// provenance.
func (c *TestContext) Tuple(bounds []Bounds) mdevent.Tuple {
	return mdevent.Tuple{
		Coords:          c.Coords(bounds),
		Signal:          float32(c.Rand.Intn(16) + 1),
		ErrorSquared:    float32(c.Rand.Intn(8) + 1),
		RunIndex:        uint16(c.Rand.Intn(4)),
		GoniometerIndex: uint16(c.Rand.Intn(360)),
		DetectorID:      int32(c.Rand.Intn(1 << 16)),
	}
}

// Tuples returns n random tuples.
func (c *TestContext) Tuples(n int, bounds []Bounds) []mdevent.Tuple {
	tuples := make([]mdevent.Tuple, n)
	for i := range tuples {
		tuples[i] = c.Tuple(bounds)
	}
	return tuples
}

// Events returns n random events of the given kind. Signals and errors are
// small integers so that their float sums are exact.
func (c *TestContext) Events(kind mdevent.Kind, n int, bounds []Bounds) []mdevent.Event {
	events := make([]mdevent.Event, n)
	for i := range events {
		events[i] = c.Tuple(bounds).Event(kind)
	}
	return events
}

// Banks splits tuples into n roughly equal banks, as if each came from its
// own detector bank.
func Banks(tuples []mdevent.Tuple, n int) [][]mdevent.Tuple {
	banks := make([][]mdevent.Tuple, n)
	for i, t := range tuples {
		banks[i%n] = append(banks[i%n], t)
	}
	return banks
}

// SumWeights returns the exact signal and squared error totals of events.
func SumWeights(events []mdevent.Event) (signal, errorSquared float64) {
	for _, ev := range events {
		signal += float64(ev.Signal)
		errorSquared += float64(ev.ErrorSquared)
	}
	return signal, errorSquared
}
