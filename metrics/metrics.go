package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	HTTPRequests    = "http_requests_total"
	HTTPErrors      = "http_requests_errors_total"
	Analyses        = "outfit_analyses_total"
	Renders         = "outfit_renders_total"
	QuotaDenied     = "quota_denied_total"
	UpstreamErrors  = "upstream_errors_total"
	Payments        = "payment_events_total"
	HandlesRejected = "analysis_handles_rejected_total"
)

// Registry keeps process-local counters for /metrics and mirrors every
// increment to an OTel counter of the same name.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	meter    metric.Meter
	otelCtrs map[string]metric.Int64Counter
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*atomic.Int64),
		meter:    otel.GetMeterProvider().Meter("styleaiapi"),
		otelCtrs: make(map[string]metric.Int64Counter),
	}
}

func fullKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Inc adds n to the counter identified by name and labels. A nil registry is a no-op.
func (r *Registry) Inc(ctx context.Context, name string, labels map[string]string, n int64) {
	if r == nil {
		return
	}
	key := fullKey(name, labels)

	r.mu.RLock()
	c := r.counters[key]
	inst := r.otelCtrs[name]
	r.mu.RUnlock()

	if c == nil || inst == nil {
		r.mu.Lock()
		if c = r.counters[key]; c == nil {
			c = new(atomic.Int64)
			r.counters[key] = c
		}
		if inst = r.otelCtrs[name]; inst == nil {
			ctr, err := r.meter.Int64Counter(name)
			if err == nil {
				r.otelCtrs[name] = ctr
				inst = ctr
			}
		}
		r.mu.Unlock()
	}
	c.Add(n)

	if inst != nil {
		attrs := make([]attribute.KeyValue, 0, len(labels))
		for k, v := range labels {
			attrs = append(attrs, attribute.String(k, v))
		}
		inst.Add(ctx, n, metric.WithAttributes(attrs...))
	}
}

// Value returns the current value of a single labelled counter.
func (r *Registry) Value(name string, labels map[string]string) int64 {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.counters[fullKey(name, labels)]; c != nil {
		return c.Load()
	}
	return 0
}

func (r *Registry) SnapshotJSON() map[string]int64 {
	out := make(map[string]int64)
	if r == nil {
		return out
	}
	r.mu.RLock()
	for k, v := range r.counters {
		out[k] = v.Load()
	}
	r.mu.RUnlock()
	return out
}

func (r *Registry) EchoHandlerJSON(c echo.Context) error {
	return c.JSON(200, r.SnapshotJSON())
}
