package metrics

import (
	"context"
	"time"
)

const (
	rowsFetchedCounterName   = "rowsync.rows_fetched"
	rowsDeliveredCounterName = "rowsync.rows_delivered"
	deliveryLatencyHistoName = "rowsync.delivery_latency"
	syncRunCounterName       = "rowsync.sync_runs"
	syncDurationHistoName    = "rowsync.sync_latency"
	rowsPendingGaugeName     = "rowsync.rows_pending"
	rowsFetchedCounterDesc   = "number of rows read from the source by sync mode"
	rowsDeliveredCounterDesc = "number of rows sent to the remote by delivery status"
	deliveryLatencyHistoDesc = "duration of single row upserts by delivery status"
	syncRunCounterDesc       = "number of sync invocations by mode and outcome"
	syncDurationHistoDesc    = "duration of sync invocations by mode and outcome"
	rowsPendingGaugeDesc     = "rows fetched but not yet attempted in the current sync"
	syncOutcomeSuccess       = "success"
	syncOutcomeFailure       = "failure"
)

// M records sync measurements through a Handler.
type M struct {
	underlying Handler
}

func (m *M) RecordFetch(ctx context.Context, mode string, rows int) {
	c := m.underlying.Int64Counter(rowsFetchedCounterName, rowsFetchedCounterDesc, Dimensionless)
	c.Add(ctx, int64(rows), map[string]string{"mode": mode})
}

func (m *M) RecordDelivery(ctx context.Context, status string, dur time.Duration) {
	c := m.underlying.Int64Counter(rowsDeliveredCounterName, rowsDeliveredCounterDesc, Dimensionless)
	h := m.underlying.Int64Histogram(deliveryLatencyHistoName, deliveryLatencyHistoDesc, Milliseconds)
	c.Add(ctx, 1, map[string]string{"status": status})
	h.Record(ctx, dur.Milliseconds(), map[string]string{"status": status})
}

func (m *M) RecordPending(ctx context.Context, pending int) {
	g := m.underlying.Int64Gauge(rowsPendingGaugeName, rowsPendingGaugeDesc, Dimensionless)
	g.Observe(ctx, int64(pending), nil)
}

func (m *M) RecordSync(ctx context.Context, mode string, dur time.Duration, err error) {
	outcome := syncOutcomeSuccess
	if err != nil {
		outcome = syncOutcomeFailure
	}

	c := m.underlying.Int64Counter(syncRunCounterName, syncRunCounterDesc, Dimensionless)
	h := m.underlying.Int64Histogram(syncDurationHistoName, syncDurationHistoDesc, Milliseconds)

	attrs := map[string]string{
		"mode":    mode,
		"outcome": outcome,
	}
	c.Add(ctx, 1, attrs)
	h.Record(ctx, dur.Milliseconds(), attrs)
}

func New(handler Handler) *M {
	if handler == nil {
		handler = &noopHandler{}
	}
	return &M{underlying: handler}
}
