package mdbox

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/forestrie/go-mdevents/mdevent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
dimensions: 3
extents:
  - {min: -10, max: 10}
  - {min: -10, max: 10}
  - {min: 0, max: 50}
split_into: 2
split_into_per_dim: [2, 2, 4]
split_threshold: 1000
max_depth: 12
event_kind: full
split_checkpoint: 500000
max_resident_events: 10000000
max_resident_boxes: 4096
backing_file: /tmp/events.buf
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Dimensions)
	assert.Equal(t, []Extent{{-10, 10}, {-10, 10}, {0, 50}}, cfg.Extents)
	assert.Equal(t, []uint32{2, 2, 4}, cfg.SplitIntoPerDim)
	assert.Equal(t, uint64(1000), cfg.SplitThreshold)
	assert.Equal(t, uint32(12), cfg.MaxDepth)
	assert.Equal(t, "full", cfg.EventKind)
	assert.Equal(t, uint64(500000), cfg.SplitCheckpoint)
	assert.Equal(t, uint64(10000000), cfg.MaxResidentEvents)
	assert.Equal(t, uint64(4096), cfg.MaxResidentBoxes)
	assert.Equal(t, "/tmp/events.buf", cfg.BackingFile)

	ctl, err := NewController(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, ctl.NumChildren())
	assert.Equal(t, uint32(4), ctl.SplitInto(2))
	assert.Equal(t, mdevent.Full, ctl.EventKind())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Dimensions)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = ParseConfig([]byte("dimensions: [oops"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		name   string
		modify func(c *Config)
		want   error
	}{
		{"valid", func(c *Config) {}, nil},
		{"zero dimensions", func(c *Config) { c.Dimensions = 0; c.Extents = nil }, ErrInvalidDimensions},
		{"too many dimensions", func(c *Config) { c.Dimensions = 256 }, ErrInvalidDimensions},
		{"missing extent", func(c *Config) { c.Extents = c.Extents[:1] }, ErrInvalidExtents},
		{"empty extent", func(c *Config) { c.Extents[1] = Extent{1, 1} }, ErrInvalidExtents},
		{"inverted extent", func(c *Config) { c.Extents[0] = Extent{2, 1} }, ErrInvalidExtents},
		{"nan extent", func(c *Config) { c.Extents[0] = Extent{nan, 1} }, ErrInvalidExtents},
		{"split into one", func(c *Config) { c.SplitInto = 1 }, ErrInvalidSplitInto},
		{"per dim count", func(c *Config) { c.SplitIntoPerDim = []uint32{2} }, ErrInvalidSplitInto},
		{"per dim one", func(c *Config) { c.SplitIntoPerDim = []uint32{2, 1} }, ErrInvalidSplitInto},
		{"zero threshold", func(c *Config) { c.SplitThreshold = 0 }, ErrInvalidSplitThreshold},
		{"bad kind", func(c *Config) { c.EventKind = "medium" }, ErrInvalidEventKind},
		{"too many children", func(c *Config) { c.SplitInto = 2000 }, ErrTooManyChildren},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(2, 2, 4, 3)
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)

			tc := newTestContext(t, "TestConfigValidate")
			_, err = NewWorkspace(tc.Log, cfg)
			require.ErrorIs(t, err, tt.want)
		})
	}
}
