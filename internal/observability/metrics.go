package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the service instruments. It implements the metrics
// recorders of the manager, status reporter, matcher, dispatcher and
// orchestrator.
type Metrics struct {
	meter metric.Meter

	// HTTP
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Regeneration
	RegenerationDuration metric.Float64Histogram
	RegenerationsAborted metric.Int64Counter
	ExpectationsTotal    metric.Int64Gauge

	// Reconciliation
	EvaluationDuration     metric.Float64Histogram
	ExpectationTransitions metric.Int64Counter
	ExpectationStates      metric.Int64Gauge
	JobDuration            metric.Float64Histogram
	JobsTotal              metric.Int64Counter
	JobErrorsTotal         metric.Int64Counter
	JobsActive             metric.Int64UpDownCounter

	// Status reporting
	StatusChanges    metric.Int64Counter
	StatusPushErrors metric.Int64Counter

	// Workforce
	SpinUpsTotal   metric.Int64Counter
	PlannedWorkers metric.Int64Gauge
	UnmetNeeds     metric.Int64Gauge

	// Dispatcher
	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge
}

// NewMetrics creates the instruments on a Prometheus exporter and returns
// the scrape handler.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter("packagemanager"))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	b := builder{meter: meter}

	m.HTTPRequestDuration = b.histogram("http_request_duration_seconds", "HTTP request latency in seconds",
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	m.HTTPRequestsTotal = b.counter("http_requests_total", "Total number of HTTP requests")
	m.HTTPErrorsTotal = b.counter("http_errors_total", "Total number of HTTP errors (4xx and 5xx)")

	m.RegenerationDuration = b.histogram("regeneration_duration_seconds", "Expectation regeneration latency in seconds",
		0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5)
	m.RegenerationsAborted = b.counter("regenerations_aborted_total", "Regenerations aborted on incomplete or invalid input")
	m.ExpectationsTotal = b.gauge("expectations", "Expectations in the last generation")

	m.EvaluationDuration = b.histogram("evaluation_duration_seconds", "Evaluation pass latency in seconds",
		0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10)
	m.ExpectationTransitions = b.counter("expectation_transitions_total", "Expectation state transitions")
	m.ExpectationStates = b.gauge("expectation_states", "Tracked expectations per state")
	m.JobDuration = b.histogram("job_duration_seconds", "Worker job duration in seconds",
		0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800)
	m.JobsTotal = b.counter("jobs_total", "Worker jobs started")
	m.JobErrorsTotal = b.counter("job_errors_total", "Worker jobs that ended without fulfillment")
	m.JobsActive = b.upDownCounter("jobs_active", "Worker jobs in flight (saturation)")

	m.StatusChanges = b.counter("status_changes_total", "Status change entries pushed upstream")
	m.StatusPushErrors = b.counter("status_push_errors_total", "Failed status pushes")

	m.SpinUpsTotal = b.counter("workforce_spin_ups_total", "Worker app spin-up attempts")
	m.PlannedWorkers = b.gauge("workforce_planned_workers", "Planned worker apps")
	m.UnmetNeeds = b.gauge("workforce_unmet_needs", "Worker needs without an app")

	m.DispatcherDuration = b.histogram("dispatcher_duration_seconds", "Status delivery latency in seconds",
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	m.DispatcherDelivered = b.counter("dispatcher_delivered_total", "Total events successfully delivered")
	m.DispatcherFailed = b.counter("dispatcher_failed_total", "Total events failed after retries")
	m.DispatcherDropped = b.counter("dispatcher_dropped_total", "Total events dropped (buffer full)")
	m.DispatcherQueueSize = b.gauge("dispatcher_queue_size", "Current number of events in dispatcher queue (saturation)")

	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// builder creates instruments, keeping the first error.
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) histogram(name, desc string, bounds ...float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(bounds...),
	)
	b.keep(err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.keep(err)
	return c
}

func (b *builder) upDownCounter(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64Gauge {
	g, err := b.meter.Int64Gauge(name, metric.WithDescription(desc))
	b.keep(err)
	return g
}

func (b *builder) keep(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
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

// RecordRegeneration records a completed regeneration.
func (m *Metrics) RecordRegeneration(ctx context.Context, durationSeconds float64, expectations int) {
	m.RegenerationDuration.Record(ctx, durationSeconds)
	m.ExpectationsTotal.Record(ctx, int64(expectations))
}

// RecordRegenerationAborted records an aborted regeneration.
func (m *Metrics) RecordRegenerationAborted(ctx context.Context, reason string) {
	m.RegenerationsAborted.Add(ctx, 1, metric.WithAttributes(reasonAttr(reason)))
}

// RecordEvaluation records the duration of an evaluation pass.
func (m *Metrics) RecordEvaluation(ctx context.Context, durationSeconds float64) {
	m.EvaluationDuration.Record(ctx, durationSeconds)
}

// RecordExpectationTransition records a state transition.
func (m *Metrics) RecordExpectationTransition(ctx context.Context, from, to string) {
	m.ExpectationTransitions.Add(ctx, 1, metric.WithAttributes(fromAttr(from), toAttr(to)))
}

// RecordExpectationStates records the tracked count per state.
func (m *Metrics) RecordExpectationStates(ctx context.Context, counts map[string]int64) {
	for state, n := range counts {
		m.ExpectationStates.Record(ctx, n, metric.WithAttributes(stateAttr(state)))
	}
}

// RecordJobStarted records a job handed to a worker.
func (m *Metrics) RecordJobStarted(ctx context.Context, expType string) {
	attrs := metric.WithAttributes(typeAttr(expType))
	m.JobsTotal.Add(ctx, 1, attrs)
	m.JobsActive.Add(ctx, 1, attrs)
}

// RecordJobFinished records a job ending, fulfilled or not.
func (m *Metrics) RecordJobFinished(ctx context.Context, expType string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(typeAttr(expType), successAttr(success))
	m.JobDuration.Record(ctx, durationSeconds, attrs)
	m.JobsActive.Add(ctx, -1, metric.WithAttributes(typeAttr(expType)))

	if !success {
		m.JobErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordStatusChanges records change entries pushed on a channel.
func (m *Metrics) RecordStatusChanges(ctx context.Context, channel string, count int) {
	m.StatusChanges.Add(ctx, int64(count), metric.WithAttributes(channelAttr(channel)))
}

// RecordStatusPushError records a failed push on a channel.
func (m *Metrics) RecordStatusPushError(ctx context.Context, channel string) {
	m.StatusPushErrors.Add(ctx, 1, metric.WithAttributes(channelAttr(channel)))
}

// RecordSpinUp records a spin-up attempt.
func (m *Metrics) RecordSpinUp(ctx context.Context, appType string, success bool) {
	m.SpinUpsTotal.Add(ctx, 1, metric.WithAttributes(appTypeAttr(appType), successAttr(success)))
}

// RecordWorkforce records the outcome of a matcher pass.
func (m *Metrics) RecordWorkforce(ctx context.Context, planned, unmet int) {
	m.PlannedWorkers.Record(ctx, int64(planned))
	m.UnmetNeeds.Record(ctx, int64(unmet))
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
