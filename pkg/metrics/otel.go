package metrics

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

type otelHandler struct {
	meter otelmetric.Meter
	tags  map[string]string
	inst  *instruments
}

// instruments are registered once per meter and shared by handlers derived with WithTags.
type instruments struct {
	int64CountersMtx sync.Mutex
	int64Counters    map[string]otelmetric.Int64Counter
	int64HistosMtx   sync.Mutex
	int64Histos      map[string]otelmetric.Int64Histogram
	int64GaugesMtx   sync.Mutex
	int64Gauges      map[string]*syncInt64Gauge
}

func mergeTags(defaults map[string]string, tags map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(defaults)+len(tags))
	for k, v := range defaults {
		if _, ok := tags[k]; ok {
			continue
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

type otelInt64Histogram struct {
	histo otelmetric.Int64Histogram
	tags  map[string]string
}

func (h *otelInt64Histogram) Record(ctx context.Context, value int64, tags map[string]string) {
	h.histo.Record(ctx, value, otelmetric.WithAttributes(mergeTags(h.tags, tags)...))
}

var _ Int64Histogram = (*otelInt64Histogram)(nil)

type otelInt64Counter struct {
	counter otelmetric.Int64Counter
	tags    map[string]string
}

func (c *otelInt64Counter) Add(ctx context.Context, value int64, tags map[string]string) {
	c.counter.Add(ctx, value, otelmetric.WithAttributes(mergeTags(c.tags, tags)...))
}

var _ Int64Counter = (*otelInt64Counter)(nil)

type syncInt64Gauge struct {
	mtx   sync.Mutex
	value int64
	attrs []attribute.KeyValue
	gauge otelmetric.Int64ObservableGauge
}

func newSyncInt64Gauge(meter otelmetric.Meter, name string, description string, unit Unit) *syncInt64Gauge {
	g, err := meter.Int64ObservableGauge(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
	if err != nil {
		panic(err)
	}

	return &syncInt64Gauge{gauge: g}
}

func (s *syncInt64Gauge) observe(_ context.Context, value int64, attrs []attribute.KeyValue) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.value = value
	s.attrs = attrs
}

func (s *syncInt64Gauge) snapshot() (int64, []attribute.KeyValue) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.value, s.attrs
}

type taggedGauge struct {
	gauge *syncInt64Gauge
	tags  map[string]string
}

func (g *taggedGauge) Observe(ctx context.Context, value int64, tags map[string]string) {
	g.gauge.observe(ctx, value, mergeTags(g.tags, tags))
}

var _ Int64Gauge = (*taggedGauge)(nil)

func (h *otelHandler) Int64Histogram(name string, description string, unit Unit) Int64Histogram {
	h.inst.int64HistosMtx.Lock()
	defer h.inst.int64HistosMtx.Unlock()

	name = strings.ToLower(name)

	c, ok := h.inst.int64Histos[name]
	var err error
	if !ok {
		c, err = h.meter.Int64Histogram(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
		if err != nil {
			panic(err)
		}
		h.inst.int64Histos[name] = c
	}

	return &otelInt64Histogram{histo: c, tags: h.tags}
}

func (h *otelHandler) Int64Counter(name string, description string, unit Unit) Int64Counter {
	h.inst.int64CountersMtx.Lock()
	defer h.inst.int64CountersMtx.Unlock()

	name = strings.ToLower(name)

	c, ok := h.inst.int64Counters[name]
	var err error
	if !ok {
		c, err = h.meter.Int64Counter(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
		if err != nil {
			panic(err)
		}
		h.inst.int64Counters[name] = c
	}

	return &otelInt64Counter{counter: c, tags: h.tags}
}

func (h *otelHandler) Int64Gauge(name string, description string, unit Unit) Int64Gauge {
	h.inst.int64GaugesMtx.Lock()
	defer h.inst.int64GaugesMtx.Unlock()

	name = strings.ToLower(name)

	if g, ok := h.inst.int64Gauges[name]; ok {
		return &taggedGauge{gauge: g, tags: h.tags}
	}

	newGauge := newSyncInt64Gauge(h.meter, name, description, unit)

	_, err := h.meter.RegisterCallback(func(ctx context.Context, observer otelmetric.Observer) error {
		value, attrs := newGauge.snapshot()
		observer.ObserveInt64(newGauge.gauge, value, otelmetric.WithAttributes(attrs...))
		return nil
	}, newGauge.gauge)
	if err != nil {
		panic(err)
	}

	h.inst.int64Gauges[name] = newGauge
	return &taggedGauge{gauge: newGauge, tags: h.tags}
}

// WithTags returns a handler that adds tags to every measurement. Instruments are shared with the parent.
func (h *otelHandler) WithTags(tags map[string]string) Handler {
	merged := make(map[string]string, len(h.tags)+len(tags))
	for k, v := range h.tags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}

	return &otelHandler{
		meter: h.meter,
		tags:  merged,
		inst:  h.inst,
	}
}

func NewOtelHandler(_ context.Context, provider otelmetric.MeterProvider, name string) Handler {
	return &otelHandler{
		meter: provider.Meter(name),
		inst: &instruments{
			int64Counters: make(map[string]otelmetric.Int64Counter),
			int64Histos:   make(map[string]otelmetric.Int64Histogram),
			int64Gauges:   make(map[string]*syncInt64Gauge),
		},
	}
}

var _ Handler = (*otelHandler)(nil)
