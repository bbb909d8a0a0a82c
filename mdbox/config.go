package mdbox

import (
	"fmt"
	"math"
	"os"

	"github.com/forestrie/go-mdevents/mdevent"
	"gopkg.in/yaml.v3"
)

const (
	// MaxChildren bounds the fan out of a single split.
	MaxChildren = 1 << 20

	// DefaultSplitCheckpoint is the number of inserted events between split
	// passes when the configuration does not say otherwise.
	DefaultSplitCheckpoint = 1 << 16
)

// Config describes a workspace. It is fixed once the workspace exists.
//
// Thread Safety: not safe to modify after it has been passed to NewWorkspace.
type Config struct {
	// Dimensions is the number of coordinates per event.
	Dimensions int `yaml:"dimensions" cbor:"1,keyasint"`

	// Extents is the declared region of the root box, one entry per
	// dimension. Events outside it are accepted but stored in the edge
	// boxes; the root is never grown.
	Extents []Extent `yaml:"extents" cbor:"2,keyasint"`

	// SplitInto is the number of children per dimension when a box splits.
	// SplitIntoPerDim, when set, overrides it dimension by dimension.
	SplitInto       uint32   `yaml:"split_into" cbor:"3,keyasint"`
	SplitIntoPerDim []uint32 `yaml:"split_into_per_dim" cbor:"4,keyasint,omitempty"`

	// SplitThreshold is the event count a box must exceed to be split.
	SplitThreshold uint64 `yaml:"split_threshold" cbor:"5,keyasint"`

	// MaxDepth is the depth at which boxes stop splitting. The root is at
	// depth 0.
	MaxDepth uint32 `yaml:"max_depth" cbor:"6,keyasint"`

	// EventKind is "lean" (default) or "full".
	EventKind string `yaml:"event_kind" cbor:"7,keyasint"`

	// SplitCheckpoint is the number of inserted events between split passes
	// run by an EventInserter. Zero selects DefaultSplitCheckpoint.
	SplitCheckpoint uint64 `yaml:"split_checkpoint" cbor:"8,keyasint,omitempty"`

	// Residency limits for the backing store, zero is unlimited.
	MaxResidentEvents uint64 `yaml:"max_resident_events" cbor:"9,keyasint,omitempty"`
	MaxResidentBoxes  uint64 `yaml:"max_resident_boxes" cbor:"10,keyasint,omitempty"`

	// BackingFile, when set and no backing store is supplied as an option,
	// is opened (and treated as empty) to page boxes into.
	BackingFile string `yaml:"backing_file" cbor:"11,keyasint,omitempty"`
}

// LoadConfig reads a yaml configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("mdbox: reading config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a yaml configuration.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("mdbox: parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects any configuration the tree can not honour. Nothing is
// clamped or defaulted here.
func (c Config) Validate() error {
	if c.Dimensions < 1 || c.Dimensions > mdevent.MaxDims {
		return ErrInvalidDimensions
	}
	if len(c.Extents) != c.Dimensions {
		return fmt.Errorf("%w: got %d extents for %d dimensions", ErrInvalidExtents, len(c.Extents), c.Dimensions)
	}
	for d, e := range c.Extents {
		if !isFinite(e.Min) || !isFinite(e.Max) || !(e.Min < e.Max) {
			return fmt.Errorf("%w: dimension %d is [%v, %v]", ErrInvalidExtents, d, e.Min, e.Max)
		}
	}
	if c.SplitThreshold < 1 {
		return ErrInvalidSplitThreshold
	}
	if _, err := mdevent.ParseKind(c.EventKind); err != nil {
		return ErrInvalidEventKind
	}

	factors, err := c.splitFactors()
	if err != nil {
		return err
	}
	children := uint64(1)
	for _, f := range factors {
		children *= uint64(f)
		if children > MaxChildren {
			return ErrTooManyChildren
		}
	}
	return nil
}

func (c Config) splitFactors() ([]uint32, error) {
	factors := make([]uint32, c.Dimensions)
	if len(c.SplitIntoPerDim) > 0 {
		if len(c.SplitIntoPerDim) != c.Dimensions {
			return nil, fmt.Errorf("%w: got %d factors for %d dimensions",
				ErrInvalidSplitInto, len(c.SplitIntoPerDim), c.Dimensions)
		}
		copy(factors, c.SplitIntoPerDim)
	} else {
		for d := range factors {
			factors[d] = c.SplitInto
		}
	}
	for d, f := range factors {
		if f < 2 {
			return nil, fmt.Errorf("%w: dimension %d splits into %d", ErrInvalidSplitInto, d, f)
		}
	}
	return factors, nil
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
