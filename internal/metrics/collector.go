// Package metrics is a small Prometheus-exposition collector for the relay.
// It renders text/plain without pulling in prometheus/client_golang.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector.
var Collector = NewCollector()

type MetricsCollector struct {
	mu        sync.Mutex
	counters  map[string]*Counter
	gauges    map[string]*Gauge
	startTime time.Time
}

func NewCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:  make(map[string]*Counter),
		gauges:    make(map[string]*Gauge),
		startTime: time.Now(),
	}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[name]; ok {
		return ctr
	}
	ctr := &Counter{help: help}
	c.counters[name] = ctr
	return ctr
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help string) *Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[name]; ok {
		return g
	}
	g := &Gauge{help: help}
	c.gauges[name] = g
	return g
}

// Handler renders the registry in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP porter_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE porter_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "porter_uptime_seconds %d\n", int64(time.Since(c.startTime).Seconds()))

		// The maps stay locked for the whole render; registration may
		// happen concurrently.
		c.mu.Lock()
		for _, name := range sortedKeys(c.counters) {
			ctr := c.counters[name]
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, ctr.help, name, name, ctr.Value())
		}
		for _, name := range sortedKeys(c.gauges) {
			g := c.gauges[name]
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, g.help, name, name, g.Value())
		}
		c.mu.Unlock()

		fmt.Fprint(w, sb.String())
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Metrics used across the relay.
var (
	PostsPorted       = Collector.Counter("porter_posts_ported_total", "Wall posts delivered to the sink channel")
	RepliesPorted     = Collector.Counter("porter_replies_ported_total", "Comments delivered to the discussion group")
	DuplicateSkips    = Collector.Counter("porter_duplicate_skips_total", "Events skipped because a mapping already existed")
	NotFoundSkips     = Collector.Counter("porter_notfound_skips_total", "Edit/delete events referencing unknown ids")
	TransportFailures = Collector.Counter("porter_transport_failures_total", "Deliveries abandoned on a sink transport error")
	DiscussionsLinked = Collector.Counter("porter_discussions_linked_total", "Automatic-forward echoes resolved to a tracked post")
	EventsInFlight    = Collector.Gauge("porter_events_in_flight", "Source events currently being handled")
)
