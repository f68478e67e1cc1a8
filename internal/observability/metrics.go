package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"github.com/kiranshivaraju/jobledger/pkg/models"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics.
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Lifecycle operation metrics
	OperationDuration metric.Float64Histogram
	OperationErrors   metric.Int64Counter
	StatusTransitions metric.Int64Counter

	// Retention
	RecordsReaped metric.Int64Counter
}

// NewMetrics creates all metrics on a dedicated Prometheus registry and
// returns the handler that serves it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("jobledger")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.OperationDuration, err = meter.Float64Histogram(
		"jobledger_operation_duration_seconds",
		metric.WithDescription("Lifecycle operation latency in seconds, retries included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, nil, err
	}

	m.OperationErrors, err = meter.Int64Counter(
		"jobledger_operation_errors_total",
		metric.WithDescription("Total number of failed lifecycle operations by error kind"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StatusTransitions, err = meter.Int64Counter(
		"jobledger_status_transitions_total",
		metric.WithDescription("Total number of committed job status transitions"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RecordsReaped, err = meter.Int64Counter(
		"jobledger_records_reaped_total",
		metric.WithDescription("Total number of jobs and orphaned requests removed by retention"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordOperation records the latency and outcome of one lifecycle operation.
func (m *Metrics) RecordOperation(ctx context.Context, op string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.OperationErrors.Add(ctx, 1, metric.WithAttributes(operationAttr(op), kindAttr(apperrors.Kind(err))))
	}
	m.OperationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(operationAttr(op), outcomeAttr(outcome)))
}

// RecordTransition records a committed status change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to models.JobStatus) {
	m.StatusTransitions.Add(ctx, 1, metric.WithAttributes(fromAttr(from.String()), toAttr(to.String())))
}

// RecordReaped records records removed by one retention sweep.
func (m *Metrics) RecordReaped(ctx context.Context, jobs, requests int64) {
	if jobs > 0 {
		m.RecordsReaped.Add(ctx, jobs, metric.WithAttributes(recordAttr("job")))
	}
	if requests > 0 {
		m.RecordsReaped.Add(ctx, requests, metric.WithAttributes(recordAttr("job_request")))
	}
}
