// Package telemetry wires the otel metric instruments for sync task
// outcomes and RPC dispatch latency (§11). Grounded on the teacher's
// package-level metrics struct + init() pattern in
// internal/storage/dolt/store.go and internal/compact/haiku.go
// (otel.Meter(name), Int64Counter/Float64Histogram with
// WithDescription/WithUnit), generalized into an installable provider
// since, unlike the teacher, Max has no ambient MeterProvider wired by
// its host process.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func attrStatus(status string) attribute.KeyValue { return attribute.String("status", status) }
func attrMethod(method string) attribute.KeyValue { return attribute.String("method", method) }

var meter = otel.Meter("github.com/maxdata-sh/max")

var metrics struct {
	syncTasksTotal   metric.Int64Counter
	dispatchDuration metric.Float64Histogram
}

func init() {
	var err error
	metrics.syncTasksTotal, err = meter.Int64Counter("max.sync.tasks_total",
		metric.WithDescription("Sync tasks completed or failed, by status"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		slog.Error("telemetry: register sync.tasks_total counter", "error", err)
	}
	metrics.dispatchDuration, err = meter.Float64Histogram("max.rpc.dispatch_duration",
		metric.WithDescription("Time spent inside Dispatcher.Call, including child forwarding"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		slog.Error("telemetry: register rpc.dispatch_duration histogram", "error", err)
	}
}

// NewMeterProvider builds an SDK meter provider with a ManualReader, the
// minimal setup that makes the counters above real (rather than the
// global API's default no-op) without committing to a specific export
// destination — a caller scraping the reader, or a future OTLP exporter
// swapped in for WithReader, both work against the same instruments.
func NewMeterProvider() *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
}

// Install installs mp as the global MeterProvider, so every package's
// otel.Meter(...) call (taken at package-init time, before Install can
// run) starts recording into it. Called once from cmd/max's daemon
// startup.
func Install(mp *sdkmetric.MeterProvider) {
	otel.SetMeterProvider(mp)
}

// RecordSyncTask records one completed or failed sync task.
func RecordSyncTask(ctx context.Context, status string) {
	metrics.syncTasksTotal.Add(ctx, 1, metric.WithAttributes(
		attrStatus(status),
	))
}

// RecordDispatchDuration records how long one RPC dispatch took, in
// milliseconds, tagged by method.
func RecordDispatchDuration(ctx context.Context, method string, ms float64) {
	metrics.dispatchDuration.Record(ctx, ms, metric.WithAttributes(
		attrMethod(method),
	))
}
