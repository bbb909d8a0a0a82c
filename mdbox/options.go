package mdbox

import (
	"github.com/forestrie/go-mdevents/diskbuffer"
	"github.com/prometheus/client_golang/prometheus"
)

type Options struct {
	Buffer      *diskbuffer.Buffer
	BackingFile diskbuffer.File
	Registerer  prometheus.Registerer
}

type Option func(*Options)

// WithBuffer pages the workspace's boxes through buf. The caller keeps
// ownership of buf and closes it after the workspace.
func WithBuffer(buf *diskbuffer.Buffer) Option {
	return func(o *Options) {
		o.Buffer = buf
	}
}

// WithBackingFile pages boxes into f, using the residency limits of the
// workspace config. The workspace closes f.
func WithBackingFile(f diskbuffer.File) Option {
	return func(o *Options) {
		o.BackingFile = f
	}
}

// WithMetricsRegistry registers a Collector for the workspace with reg.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = reg
	}
}
