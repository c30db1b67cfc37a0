package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the meter, tracer and every instrument the daemon records.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED metrics for the HTTP control surface
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Firmware update pipeline
	updateAttemptsTotal metric.Int64Counter
	updateBytesTotal    metric.Int64Counter
	updateDuration      metric.Float64Histogram
	restartArmsTotal    metric.Int64Counter

	// Collaborators
	panelCommandsTotal metric.Int64Counter
	dbOperationsTotal  metric.Int64Counter

	// Runtime health
	memoryUsage    metric.Int64Gauge
	goroutineCount metric.Int64Gauge
	systemUptime   metric.Float64Gauge
}

// Config holds telemetry configuration. OTLPEndpoint enables a second,
// push-based metric pipeline next to the Prometheus scrape endpoint.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
}

// New creates a telemetry instance backed by a Prometheus exporter. When
// disabled, the zero instance is returned and every method is a no-op.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	go t.collectRuntimeMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Handler returns the Prometheus exposition handler for the /metrics route.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.httpRequestsTotal, err = t.meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total HTTP requests by method, path and status class")); err != nil {
		return err
	}

	if t.httpRequestDuration, err = t.meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration")); err != nil {
		return err
	}

	if t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter("http_requests_in_flight",
		metric.WithDescription("HTTP requests currently being served")); err != nil {
		return err
	}

	if t.updateAttemptsTotal, err = t.meter.Int64Counter("firmware_update_attempts_total",
		metric.WithDescription("Firmware update attempts by outcome")); err != nil {
		return err
	}

	if t.updateBytesTotal, err = t.meter.Int64Counter("firmware_update_bytes_total",
		metric.WithDescription("Firmware bytes accepted into the update slot")); err != nil {
		return err
	}

	if t.updateDuration, err = t.meter.Float64Histogram("firmware_update_duration_seconds",
		metric.WithDescription("Duration of firmware update requests")); err != nil {
		return err
	}

	if t.restartArmsTotal, err = t.meter.Int64Counter("restart_arms_total",
		metric.WithDescription("Deferred device restarts armed")); err != nil {
		return err
	}

	if t.panelCommandsTotal, err = t.meter.Int64Counter("panel_commands_total",
		metric.WithDescription("Serial commands sent to the panel by command and status")); err != nil {
		return err
	}

	if t.dbOperationsTotal, err = t.meter.Int64Counter("db_operations_total",
		metric.WithDescription("Boot record database operations by status")); err != nil {
		return err
	}

	if t.memoryUsage, err = t.meter.Int64Gauge("memory_usage_bytes",
		metric.WithDescription("Heap bytes in use")); err != nil {
		return err
	}

	if t.goroutineCount, err = t.meter.Int64Gauge("goroutine_count",
		metric.WithDescription("Number of goroutines")); err != nil {
		return err
	}

	if t.systemUptime, err = t.meter.Float64Gauge("system_uptime_seconds",
		metric.WithDescription("Seconds since the daemon started")); err != nil {
		return err
	}

	return nil
}

// RecordHTTPRequest records RED metrics for one request.
func (t *Telemetry) RecordHTTPRequest(method, path, statusClass string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", statusClass),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// IncrementHTTPInFlight increments the in-flight request gauge.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t == nil || t.httpRequestsInFlight == nil {
		return
	}

	t.httpRequestsInFlight.Add(context.Background(), 1)
}

// DecrementHTTPInFlight decrements the in-flight request gauge.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t == nil || t.httpRequestsInFlight == nil {
		return
	}

	t.httpRequestsInFlight.Add(context.Background(), -1)
}

// RecordUpdateAttempt records a finished update attempt. Outcome is one of
// the bounded set: committed, unsupported_media_type, length_required,
// payload_too_large, transfer_failed, commit_failed, slot_busy, storage_unavailable.
func (t *Telemetry) RecordUpdateAttempt(ctx context.Context, outcome string, bytesReceived int64, duration time.Duration) {
	if t == nil || t.updateAttemptsTotal == nil {
		return
	}

	t.updateAttemptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	t.updateDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))

	if bytesReceived > 0 {
		t.updateBytesTotal.Add(ctx, bytesReceived)
	}
}

// RecordRestartArm counts a scheduled restart.
func (t *Telemetry) RecordRestartArm(ctx context.Context) {
	if t == nil || t.restartArmsTotal == nil {
		return
	}

	t.restartArmsTotal.Add(ctx, 1)
}

// RecordPanelCommand counts one serial command exchange with the panel.
func (t *Telemetry) RecordPanelCommand(ctx context.Context, command, status string) {
	if t == nil || t.panelCommandsTotal == nil {
		return
	}

	t.panelCommandsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("status", status),
	))
}

// RecordDBOperation counts one boot record database operation.
func (t *Telemetry) RecordDBOperation(ctx context.Context, operation, status string) {
	if t == nil || t.dbOperationsTotal == nil {
		return
	}

	t.dbOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

func (t *Telemetry) collectRuntimeMetrics(ctx context.Context) {
	start := time.Now()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var mem runtime.MemStats

			runtime.ReadMemStats(&mem)

			t.memoryUsage.Record(ctx, int64(mem.HeapInuse))
			t.goroutineCount.Record(ctx, int64(runtime.NumGoroutine()))
			t.systemUptime.Record(ctx, time.Since(start).Seconds())
		}
	}
}
