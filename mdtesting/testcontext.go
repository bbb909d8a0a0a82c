package mdtesting

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-mdevents/diskbuffer"
	"github.com/stretchr/testify/require"
)

type TestContext struct {
	Log  logger.Logger
	T    *testing.T
	Rand *rand.Rand
	Dir  string
}

type TestConfig struct {
	// The generator is seeded with Seed. It is normal to force it to some
	// fixed value so that the generated events are the same from run to run.
	Seed            int64
	TestLabelPrefix string
	LogLevel        string // defaults to NOOP
}

func NewTestContext(t *testing.T, cfg TestConfig) TestContext {
	c := TestContext{
		T:    t,
		Rand: rand.New(rand.NewSource(cfg.Seed)),
		Dir:  t.TempDir(),
	}
	level := cfg.LogLevel
	if level == "" {
		level = "NOOP"
	}
	logger.New(level)
	t.Cleanup(logger.OnExit)
	c.Log = logger.Sugar.WithServiceName(cfg.TestLabelPrefix)
	return c
}

func (c *TestContext) GetLog() logger.Logger { return c.Log }

// TempFile opens a fresh backing file in the test's directory. It is closed
// by whoever ends up owning it.
func (c *TestContext) TempFile() diskbuffer.File {
	f, err := diskbuffer.OpenTemp(c.Dir)
	require.NoError(c.T, err)
	return f
}

// NamedFile opens (or reopens) a backing file called name in the test's
// directory.
func (c *TestContext) NamedFile(name string) diskbuffer.File {
	f, err := diskbuffer.OpenFile(filepath.Join(c.Dir, name))
	require.NoError(c.T, err)
	return f
}

// NewBuffer returns a buffer over a fresh backing file, closed when the test
// ends.
func (c *TestContext) NewBuffer(opts ...diskbuffer.Option) *diskbuffer.Buffer {
	b, err := diskbuffer.NewBuffer(c.Log, c.TempFile(), opts...)
	require.NoError(c.T, err)
	c.T.Cleanup(func() { _ = b.Close() })
	return b
}
