package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const defaultExportInterval = time.Minute

// NewStdoutProvider returns a meter provider that periodically writes JSON metrics to w.
// Shutting the provider down flushes whatever was collected since the last export.
func NewStdoutProvider(_ context.Context, w io.Writer) (*sdkmetric.MeterProvider, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithEncoder(json.NewEncoder(w)), stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("metrics: creating stdout exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(defaultExportInterval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), nil
}
