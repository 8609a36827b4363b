// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for ragbot. It outputs text/plain in Prometheus exposition format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// series is one labelled time series of a family.
type series interface {
	write(sb *strings.Builder, name, labels string)
}

// family groups the series sharing a metric name, help text and type.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]series // labels -> series
}

// MetricsCollector is a registry of metric families.
type MetricsCollector struct {
	mu        sync.Mutex
	families  map[string]*family
	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{families: make(map[string]*family), startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// lookup returns the series for name and labels, creating it with create
// on first use. Registering a name under two kinds is a programming error.
func (c *MetricsCollector) lookup(name, help string, k kind, labels string, create func() series) series {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]series)}
		c.families[name] = f
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
	}
	s, ok := f.series[labels]
	if !ok {
		s = create()
		f.series[labels] = s
	}
	return s
}

// Counter is a monotonically increasing counter.
type Counter struct{ value atomic.Int64 }

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

func (c *Counter) write(sb *strings.Builder, name, labels string) {
	fmt.Fprintf(sb, "%s %d\n", seriesName(name, labels), c.Value())
}

// Gauge is a value that can go up and down.
type Gauge struct{ value atomic.Int64 }

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) write(sb *strings.Builder, name, labels string) {
	fmt.Fprintf(sb, "%s %d\n", seriesName(name, labels), g.Value())
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64 // ascending upper bounds
	counts []int64   // observations <= bounds[i]
	count  int64
	sum    float64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

func (h *Histogram) write(sb *strings.Builder, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket := func(le string, n int64) {
		l := `le="` + le + `"`
		if labels != "" {
			l = labels + "," + l
		}
		fmt.Fprintf(sb, "%s_bucket{%s} %d\n", name, l, n)
	}
	for i, le := range h.bounds {
		if !math.IsInf(le, 1) {
			bucket(fmt.Sprintf("%g", le), h.counts[i])
		}
	}
	bucket("+Inf", h.count)
	fmt.Fprintf(sb, "%s %d\n", seriesName(name+"_count", labels), h.count)
	fmt.Fprintf(sb, "%s %f\n", seriesName(name+"_sum", labels), h.sum)
}

func seriesName(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// Counter returns the counter series name{labels}, creating it on first use.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	return c.lookup(name, help, kindCounter, labels, func() series { return &Counter{} }).(*Counter)
}

// Gauge returns the gauge series name{labels}, creating it on first use.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	return c.lookup(name, help, kindGauge, labels, func() series { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram series name{labels}. buckets only apply
// when the series is created.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return c.lookup(name, help, kindHistogram, labels, func() series {
		bounds := append([]float64(nil), buckets...)
		sort.Float64s(bounds)
		return &Histogram{bounds: bounds, counts: make([]int64, len(bounds))}
	}).(*Histogram)
}

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render returns every family in Prometheus text format, families ordered
// by name and series by label set.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder
	sb.WriteString("# HELP ragbot_uptime_seconds Time since start in seconds\n")
	sb.WriteString("# TYPE ragbot_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "ragbot_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.families))
	for name := range c.families {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := c.families[name]
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
		labels := make([]string, 0, len(f.series))
		for l := range f.series {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			f.series[l].write(&sb, f.name, l)
		}
	}
	return sb.String()
}

// --- Pre-defined metrics used across the application ---

var (
	DocumentsProcessed = Collector.Counter("ragbot_documents_ingested_total", "Documents handled by ingestion", `status="processed"`)
	DocumentsFailed    = Collector.Counter("ragbot_documents_ingested_total", "Documents handled by ingestion", `status="error"`)
	ChunksWritten      = Collector.Counter("ragbot_chunks_written_total", "Chunks written to the vector index", "")
	ChunksSkipped      = Collector.Counter("ragbot_chunks_skipped_total", "Chunks dropped before or during upsert", "")
	RetrievalFailures  = Collector.Counter("ragbot_retrieval_failures_total", "Retrievals degraded to an empty result", "")
	FallbackAnswers    = Collector.Counter("ragbot_fallback_answers_total", "Answers served from the no-context fallback", "")
	DeliveryFailures   = Collector.Counter("ragbot_delivery_failures_total", "Outbound messages that could not be delivered", "")
	LLMRequestsTotal   = Collector.Counter("ragbot_llm_requests_total", "Total completion API requests", "")
	InflightQuestions  = Collector.Gauge("ragbot_inflight_questions", "Questions currently being answered", "")

	AnswerLatency = Collector.Histogram("ragbot_answer_latency_seconds", "Time from inbound question to composed answer", "",
		[]float64{0.25, 0.5, 1, 2, 5, 10, 30, 60})
	LLMLatency = Collector.Histogram("ragbot_llm_latency_seconds", "Completion request latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
)

// Questions returns the inbound question counter for an answer status (ok, ignored, error).
func Questions(status string) *Counter {
	return Collector.Counter("ragbot_questions_total", "Inbound questions by outcome", `status="`+status+`"`)
}
