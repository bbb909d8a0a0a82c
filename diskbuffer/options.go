package diskbuffer

// Options bound the resident working set. A zero limit is unlimited. When
// both are set a buffer evicts until both are satisfied.
type Options struct {
	MaxResidentEvents uint64
	MaxResidentBoxes  uint64
}

type Option func(*Options)

// WithMaxResidentEvents limits the total footprint of resident saveables.
func WithMaxResidentEvents(n uint64) Option {
	return func(o *Options) {
		o.MaxResidentEvents = n
	}
}

// WithMaxResidentBoxes limits the number of resident saveables.
func WithMaxResidentBoxes(n uint64) Option {
	return func(o *Options) {
		o.MaxResidentBoxes = n
	}
}
