// Package telemetry gives the portal request tracing, counters, gauges and
// histograms with a /metrics endpoint in Prometheus text format. Everything
// is held in process memory; there is no exporter pipeline and no external
// agent to run next to the server.
package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// Config selects what the provider records and how the service identifies
// itself in resource attributes.
type Config struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	Environment    string `json:"environment"`
	MetricsEnabled *bool  `json:"metrics_enabled"` // nil means enabled
	TracingEnabled *bool  `json:"tracing_enabled"` // nil means enabled
}

func (c *Config) metricsOn() bool {
	return c.MetricsEnabled == nil || *c.MetricsEnabled
}

func (c *Config) tracingOn() bool {
	return c.TracingEnabled == nil || *c.TracingEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "telemed-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr makes a *bool literal for Config fields.
func BoolPtr(b bool) *bool { return &b }

// SpanStatus is the outcome class of a recorded span.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// Span is one recorded request trace.
type Span struct {
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	Name       string            `json:"name"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	Duration   time.Duration     `json:"duration_ns"`
	StatusCode SpanStatus        `json:"status_code"`
	Attributes map[string]string `json:"attributes"`
}

// defaultDurationBuckets are the request-duration boundaries in seconds.
var defaultDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// histogram counts observations into fixed buckets. Values above the last
// boundary only appear in the +Inf bucket of the exposition.
type histogram struct {
	mu         sync.Mutex
	boundaries []float64
	perBucket  []int64
	count      int64
	sum        float64
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries: boundaries,
		perBucket:  make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.boundaries {
		if v <= b {
			h.perBucket[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// cumulativeBuckets converts per-bucket counts to the running totals the
// Prometheus histogram format wants.
func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.perBucket))
	var running int64
	for i, n := range h.perBucket {
		running += n
		cum[i] = running
	}
	return cum
}

// LabelsKey is the map key for one labeled request-duration series.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

// Provider is the process-wide telemetry sink. It satisfies the queue
// service's Metrics interface directly.
type Provider struct {
	cfg Config

	spanMu sync.Mutex
	spans  []*Span

	histMu  sync.Mutex
	hists   map[string]*histogram
	labeled map[string]map[string]*histogram

	scalarMu sync.Mutex
	counters map[string]int64
	gauges   map[string]int64

	closeOnce sync.Once
	done      chan struct{}
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:      cfg,
		hists:    make(map[string]*histogram),
		labeled:  make(map[string]map[string]*histogram),
		counters: make(map[string]int64),
		gauges:   make(map[string]int64),
		done:     make(chan struct{}),
	}
}

func (tp *Provider) Shutdown(_ context.Context) error {
	tp.closeOnce.Do(func() { close(tp.done) })
	return nil
}

// Resource reports the service identity attributes.
func (tp *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           tp.cfg.ServiceName,
		"service.version":        tp.cfg.ServiceVersion,
		"deployment.environment": tp.cfg.Environment,
	}
}

func (tp *Provider) addCounter(name string, delta int64) {
	tp.scalarMu.Lock()
	tp.counters[name] += delta
	tp.scalarMu.Unlock()
}

func (tp *Provider) counter(name string) int64 {
	tp.scalarMu.Lock()
	defer tp.scalarMu.Unlock()
	return tp.counters[name]
}

func (tp *Provider) setGauge(name string, v int64) {
	tp.scalarMu.Lock()
	tp.gauges[name] = v
	tp.scalarMu.Unlock()
}

func (tp *Provider) addGauge(name string, delta int64) {
	tp.scalarMu.Lock()
	tp.gauges[name] += delta
	tp.scalarMu.Unlock()
}

// GetGauge returns the current value of a gauge.
func (tp *Provider) GetGauge(name string) int64 {
	tp.scalarMu.Lock()
	defer tp.scalarMu.Unlock()
	return tp.gauges[name]
}

func (tp *Provider) histogramFor(name string) *histogram {
	tp.histMu.Lock()
	defer tp.histMu.Unlock()
	h, ok := tp.hists[name]
	if !ok {
		h = newHistogram(defaultDurationBuckets)
		tp.hists[name] = h
	}
	return h
}

func (tp *Provider) labeledHistogramFor(name, key string) *histogram {
	tp.histMu.Lock()
	defer tp.histMu.Unlock()
	series, ok := tp.labeled[name]
	if !ok {
		series = make(map[string]*histogram)
		tp.labeled[name] = series
	}
	h, ok := series[key]
	if !ok {
		h = newHistogram(defaultDurationBuckets)
		series[key] = h
	}
	return h
}

// GetHistogram returns the named global histogram, or nil.
func (tp *Provider) GetHistogram(name string) *histogram {
	tp.histMu.Lock()
	defer tp.histMu.Unlock()
	return tp.hists[name]
}

// GetLabeledHistogram returns one labeled series of a histogram, or nil.
func (tp *Provider) GetLabeledHistogram(name, key string) *histogram {
	tp.histMu.Lock()
	defer tp.histMu.Unlock()
	return tp.labeled[name][key]
}

// GetRecordedSpans returns a copy of every span recorded so far.
func (tp *Provider) GetRecordedSpans() []*Span {
	tp.spanMu.Lock()
	defer tp.spanMu.Unlock()
	cp := make([]*Span, len(tp.spans))
	copy(cp, tp.spans)
	return cp
}

// ScoreComputed counts one priority score by its source ("local" or
// "engine").
func (tp *Provider) ScoreComputed(source string) {
	tp.addCounter("queue.score.count|"+source, 1)
}

// EngineFallback counts one scoring-engine failure that fell back to the
// local calculator.
func (tp *Provider) EngineFallback() {
	tp.addCounter("queue.engine.fallback.count", 1)
}

func (tp *Provider) GetScoreCount(source string) int64 {
	return tp.counter("queue.score.count|" + source)
}

func (tp *Provider) GetEngineFallbackCount() int64 {
	return tp.counter("queue.engine.fallback.count")
}

// HealthMetricsRecorder updates the health gauges surfaced at /metrics.
type HealthMetricsRecorder struct {
	tp *Provider
}

func (tp *Provider) HealthMetrics() *HealthMetricsRecorder {
	return &HealthMetricsRecorder{tp: tp}
}

func (h *HealthMetricsRecorder) SetDBPoolActive(n int64) {
	h.tp.setGauge("db.pool.active_connections", n)
}

func (h *HealthMetricsRecorder) SetDBPoolIdle(n int64) {
	h.tp.setGauge("db.pool.idle_connections", n)
}

func (h *HealthMetricsRecorder) SetQueueWaiting(n int64) {
	h.tp.setGauge("queue.entries.waiting", n)
}

func routePattern(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return c.Request().URL.Path
}

// TracingMiddleware records one span per request with OTel-style attribute
// names.
func (tp *Provider) TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.tracingOn() {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			end := time.Now()

			req := c.Request()
			route := routePattern(c)
			status := c.Response().Status

			attrs := map[string]string{
				"http.method":      req.Method,
				"http.route":       route,
				"http.status_code": strconv.Itoa(status),
				"http.url":         req.URL.String(),
			}
			if tid, ok := c.Get("tenant_id").(string); ok && tid != "" {
				attrs["tenant.id"] = tid
			}
			if rid, ok := c.Get("request_id").(string); ok && rid != "" {
				attrs["request.id"] = rid
			}

			outcome := SpanStatusOK
			if status >= 500 {
				outcome = SpanStatusError
			}

			span := &Span{
				TraceID:    newID(16),
				SpanID:     newID(8),
				Name:       "HTTP " + req.Method + " " + route,
				StartTime:  start,
				EndTime:    end,
				Duration:   end.Sub(start),
				StatusCode: outcome,
				Attributes: attrs,
			}
			tp.spanMu.Lock()
			tp.spans = append(tp.spans, span)
			tp.spanMu.Unlock()

			return err
		}
	}
}

// MetricsMiddleware tracks in-flight requests and request duration, both
// globally and per method/route/status series.
func (tp *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.addGauge("http.server.active_requests", 1)
			start := time.Now()

			err := next(c)

			elapsed := time.Since(start).Seconds()
			tp.addGauge("http.server.active_requests", -1)

			tp.histogramFor("http.server.request.duration").Observe(elapsed)

			key := LabelsKey(c.Request().Method, routePattern(c), strconv.Itoa(c.Response().Status))
			tp.labeledHistogramFor("http.server.request.duration", key).Observe(elapsed)

			return err
		}
	}
}

// PrometheusHandler renders every metric in Prometheus text exposition
// format. Series are sorted so scrapes are diffable.
func (tp *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		tp.writeDurationHistogram(&b)

		writeGauge(&b, "http_server_active_requests",
			"Number of in-flight HTTP requests.",
			tp.GetGauge("http.server.active_requests"))

		tp.writeScoreCounters(&b)

		writeGauge(&b, "db_pool_active_connections",
			"Acquired database pool connections.",
			tp.GetGauge("db.pool.active_connections"))
		writeGauge(&b, "db_pool_idle_connections",
			"Idle database pool connections.",
			tp.GetGauge("db.pool.idle_connections"))
		writeGauge(&b, "queue_entries_waiting",
			"Queue entries currently waiting.",
			tp.GetGauge("queue.entries.waiting"))

		return c.String(http.StatusOK, b.String())
	}
}

func (tp *Provider) writeDurationHistogram(b *strings.Builder) {
	const name = "http_server_request_duration_seconds"
	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	tp.histMu.Lock()
	series := make(map[string]*histogram, len(tp.labeled["http.server.request.duration"]))
	for k, h := range tp.labeled["http.server.request.duration"] {
		series[k] = h
	}
	global := tp.hists["http.server.request.duration"]
	tp.histMu.Unlock()

	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		parts := strings.SplitN(k, "|", 3)
		if len(parts) != 3 {
			continue
		}
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogramSeries(b, name, labels, series[k])
	}
	if len(keys) == 0 && global != nil {
		writeHistogramSeries(b, name, "", global)
	}
	b.WriteByte('\n')
}

func writeHistogramSeries(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()

	for i, boundary := range h.boundaries {
		le := strconv.FormatFloat(boundary, 'g', -1, 64)
		if labels == "" {
			fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", name, le, cum[i])
		} else {
			fmt.Fprintf(b, "%s_bucket{%s,le=%q} %d\n", name, labels, le, cum[i])
		}
	}
	if labels == "" {
		fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, total)
		fmt.Fprintf(b, "%s_sum %g\n", name, h.Sum())
		fmt.Fprintf(b, "%s_count %d\n", name, total)
		return
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func (tp *Provider) writeScoreCounters(b *strings.Builder) {
	tp.scalarMu.Lock()
	var sources []string
	for name := range tp.counters {
		if src, ok := strings.CutPrefix(name, "queue.score.count|"); ok {
			sources = append(sources, src)
		}
	}
	fallbacks := tp.counters["queue.engine.fallback.count"]
	counts := make(map[string]int64, len(sources))
	for _, src := range sources {
		counts[src] = tp.counters["queue.score.count|"+src]
	}
	tp.scalarMu.Unlock()

	sort.Strings(sources)
	b.WriteString("# HELP queue_score_count Total priority scores computed by source.\n")
	b.WriteString("# TYPE queue_score_count counter\n")
	for _, src := range sources {
		fmt.Fprintf(b, "queue_score_count{source=%q} %d\n", src, counts[src])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP queue_engine_fallback_count Scoring engine failures that fell back to local scoring.\n")
	b.WriteString("# TYPE queue_engine_fallback_count counter\n")
	fmt.Fprintf(b, "queue_engine_fallback_count %d\n", fallbacks)
	b.WriteByte('\n')
}

func writeGauge(b *strings.Builder, name, help string, v int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %d\n\n", name, v)
}

// newID returns 2n hex characters of randomness for trace and span IDs.
func newID(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
