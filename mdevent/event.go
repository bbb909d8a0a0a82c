package mdevent

import "slices"

// Kind selects which event fields a workspace retains and persists.
type Kind uint8

const (
	// Lean events carry coordinates, signal and squared error only.
	Lean Kind = 1
	// Full events additionally carry run, goniometer and detector provenance.
	Full Kind = 2
)

func (k Kind) String() string {
	switch k {
	case Lean:
		return "lean"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// ParseKind maps the configuration spelling of a kind to its value.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "lean", "":
		return Lean, nil
	case "full":
		return Full, nil
	default:
		return 0, ErrBadKind
	}
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k == Lean || k == Full
}

// Event is a single weighted point in an N dimensional space.
//
// One struct serves both the lean and the full variant. For lean workspaces
// the provenance fields are always zero. Events are treated as immutable once
// they have been handed to a workspace. The workspace copies the coordinates
// on insert and shares that copy when an event moves between boxes.
type Event struct {
	Coords       []float32
	Signal       float32
	ErrorSquared float32

	RunIndex        uint16
	GoniometerIndex uint16
	DetectorID      int32
}

// NewLeanEvent creates an event without provenance metadata.
func NewLeanEvent(signal, errorSquared float32, coords ...float32) Event {
	return Event{
		Coords:       coords,
		Signal:       signal,
		ErrorSquared: errorSquared,
	}
}

// NewEvent creates a full event.
func NewEvent(
	signal, errorSquared float32,
	runIndex, goniometerIndex uint16, detectorID int32,
	coords ...float32,
) Event {
	return Event{
		Coords:          coords,
		Signal:          signal,
		ErrorSquared:    errorSquared,
		RunIndex:        runIndex,
		GoniometerIndex: goniometerIndex,
		DetectorID:      detectorID,
	}
}

// NumDims returns the dimensionality of the event coordinates.
func (e Event) NumDims() int { return len(e.Coords) }

// Lean returns a copy of e with the provenance fields cleared.
func (e Event) Lean() Event {
	return Event{Coords: e.Coords, Signal: e.Signal, ErrorSquared: e.ErrorSquared}
}

// Clone returns a deep copy, the coordinates are not shared.
func (e Event) Clone() Event {
	c := e
	c.Coords = slices.Clone(e.Coords)
	return c
}

// Equal compares every field, coordinates element wise.
func (e Event) Equal(o Event) bool {
	return e.Signal == o.Signal &&
		e.ErrorSquared == o.ErrorSquared &&
		e.RunIndex == o.RunIndex &&
		e.GoniometerIndex == o.GoniometerIndex &&
		e.DetectorID == o.DetectorID &&
		slices.Equal(e.Coords, o.Coords)
}

// Tuple is the shape events arrive in from the event-generation side.
type Tuple struct {
	Coords          []float32
	Signal          float32
	ErrorSquared    float32
	RunIndex        uint16
	GoniometerIndex uint16
	DetectorID      int32
}

// Event converts the tuple for a workspace of the given kind. Lean conversion
// drops the provenance fields.
func (t Tuple) Event(kind Kind) Event {
	if kind == Lean {
		return NewLeanEvent(t.Signal, t.ErrorSquared, t.Coords...)
	}
	return NewEvent(t.Signal, t.ErrorSquared, t.RunIndex, t.GoniometerIndex, t.DetectorID, t.Coords...)
}
