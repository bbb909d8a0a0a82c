package mdbox

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mdevents"

// Collector exports a workspace's Stats as prometheus metrics. Every metric
// carries the workspace id as a constant label.
type Collector struct {
	ws *Workspace

	boxes          *prometheus.Desc
	gridBoxes      *prometheus.Desc
	events         *prometheus.Desc
	saturatedBoxes *prometheus.Desc
	maxDepth       *prometheus.Desc
	residentBoxes  *prometheus.Desc
	residentEvents *prometheus.Desc
	evictions      *prometheus.Desc
	loads          *prometheus.Desc
	bytesWritten   *prometheus.Desc
	bytesRead      *prometheus.Desc
	writeErrors    *prometheus.Desc
	fileBytes      *prometheus.Desc
	freeBytes      *prometheus.Desc
}

func NewCollector(ws *Workspace) *Collector {
	labels := prometheus.Labels{"workspace": ws.id.String()}
	desc := func(subsystem, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, subsystem, name), help, nil, labels)
	}
	return &Collector{
		ws:             ws,
		boxes:          desc("tree", "boxes", "Number of boxes, leaf and grid."),
		gridBoxes:      desc("tree", "grid_boxes", "Number of boxes that have been split."),
		events:         desc("tree", "events", "Number of events stored in the tree."),
		saturatedBoxes: desc("tree", "saturated_boxes", "Leaves at the maximum depth above the split threshold."),
		maxDepth:       desc("tree", "max_depth", "Deepest box in the tree."),
		residentBoxes:  desc("buffer", "resident_boxes", "Leaves whose events are in memory."),
		residentEvents: desc("buffer", "resident_events", "Events held in memory by resident leaves."),
		evictions:      desc("buffer", "evictions_total", "Leaves paged out to the backing file."),
		loads:          desc("buffer", "loads_total", "Records read back from the backing file."),
		bytesWritten:   desc("buffer", "written_bytes_total", "Bytes written to the backing file."),
		bytesRead:      desc("buffer", "read_bytes_total", "Bytes read from the backing file."),
		writeErrors:    desc("buffer", "write_errors_total", "Failed writes to the backing file."),
		fileBytes:      desc("buffer", "file_bytes", "Extent of the backing file in use, free blocks included."),
		freeBytes:      desc("buffer", "free_bytes", "Released blocks available for reuse."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs() {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.ws.Stats()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	gauge(c.boxes, float64(st.Boxes))
	gauge(c.gridBoxes, float64(st.GridBoxes))
	gauge(c.events, float64(st.Events))
	gauge(c.saturatedBoxes, float64(st.SaturatedBoxes))
	gauge(c.maxDepth, float64(st.MaxDepth))
	if c.ws.buf == nil {
		return
	}
	b := st.Buffer
	gauge(c.residentBoxes, float64(b.ResidentBoxes))
	gauge(c.residentEvents, float64(b.ResidentEvents))
	counter(c.evictions, b.Evictions)
	counter(c.loads, b.Loads)
	counter(c.bytesWritten, b.BytesWritten)
	counter(c.bytesRead, b.BytesRead)
	counter(c.writeErrors, b.WriteErrors)
	gauge(c.fileBytes, float64(b.FileEnd))
	gauge(c.freeBytes, float64(b.FreeBytes))
}

func (c *Collector) descs() []*prometheus.Desc {
	return []*prometheus.Desc{
		c.boxes, c.gridBoxes, c.events, c.saturatedBoxes, c.maxDepth,
		c.residentBoxes, c.residentEvents, c.evictions, c.loads,
		c.bytesWritten, c.bytesRead, c.writeErrors, c.fileBytes, c.freeBytes,
	}
}
