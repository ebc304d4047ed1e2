package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorded struct {
	name  string
	value int64
	tags  map[string]string
}

type recordingHandler struct {
	records *[]recorded
}

func (h *recordingHandler) record(name string) *recordingInstrument {
	return &recordingInstrument{name: name, records: h.records}
}

func (h *recordingHandler) Int64Counter(name string, _ string, _ Unit) Int64Counter {
	return h.record(name)
}

func (h *recordingHandler) Int64Gauge(name string, _ string, _ Unit) Int64Gauge {
	return h.record(name)
}

func (h *recordingHandler) Int64Histogram(name string, _ string, _ Unit) Int64Histogram {
	return h.record(name)
}

func (h *recordingHandler) WithTags(_ map[string]string) Handler {
	return h
}

type recordingInstrument struct {
	name    string
	records *[]recorded
}

func (r *recordingInstrument) add(value int64, tags map[string]string) {
	*r.records = append(*r.records, recorded{name: r.name, value: value, tags: tags})
}

func (r *recordingInstrument) Add(_ context.Context, value int64, tags map[string]string) {
	r.add(value, tags)
}

func (r *recordingInstrument) Record(_ context.Context, value int64, tags map[string]string) {
	r.add(value, tags)
}

func (r *recordingInstrument) Observe(_ context.Context, value int64, tags map[string]string) {
	r.add(value, tags)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		record   func(m *M)
		expected []recorded
	}{
		{
			name:   "fetch",
			record: func(m *M) { m.RecordFetch(ctx, "incr", 12) },
			expected: []recorded{
				{name: rowsFetchedCounterName, value: 12, tags: map[string]string{"mode": "incr"}},
			},
		},
		{
			name:   "delivery",
			record: func(m *M) { m.RecordDelivery(ctx, "rejected", 250*time.Millisecond) },
			expected: []recorded{
				{name: rowsDeliveredCounterName, value: 1, tags: map[string]string{"status": "rejected"}},
				{name: deliveryLatencyHistoName, value: 250, tags: map[string]string{"status": "rejected"}},
			},
		},
		{
			name:   "pending",
			record: func(m *M) { m.RecordPending(ctx, 3) },
			expected: []recorded{
				{name: rowsPendingGaugeName, value: 3},
			},
		},
		{
			name:   "successful sync",
			record: func(m *M) { m.RecordSync(ctx, "full", 2*time.Second, nil) },
			expected: []recorded{
				{name: syncRunCounterName, value: 1, tags: map[string]string{"mode": "full", "outcome": "success"}},
				{name: syncDurationHistoName, value: 2000, tags: map[string]string{"mode": "full", "outcome": "success"}},
			},
		},
		{
			name:   "failed sync",
			record: func(m *M) { m.RecordSync(ctx, "incr", time.Millisecond, errors.New("boom")) },
			expected: []recorded{
				{name: syncRunCounterName, value: 1, tags: map[string]string{"mode": "incr", "outcome": "failure"}},
				{name: syncDurationHistoName, value: 1, tags: map[string]string{"mode": "incr", "outcome": "failure"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []recorded
			m := New(&recordingHandler{records: &records})
			tt.record(m)
			assert.Equal(t, tt.expected, records)
		})
	}
}

func TestRecorder_NilHandler(t *testing.T) {
	m := New(nil)
	assert.NotPanics(t, func() {
		m.RecordSync(context.Background(), "full", time.Second, nil)
		m.RecordPending(context.Background(), 1)
	})
}
