package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrBackend   = "backend"
	attrTool      = "tool"
	attrProvider  = "provider"
	attrPhase     = "phase"
	attrUser      = "user"
	attrDispatch  = "dispatched"
)

// Latency buckets shared by collaborator, model and tool histograms.
var slowBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0}

// Metrics records ASH metrics. All methods are safe on a nil receiver and on
// a zero Metrics, which is what a disabled Provider hands out.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	activeWebsockets    metric.Int64UpDownCounter

	turnsTotal   metric.Int64Counter
	turnDuration metric.Float64Histogram

	llmCallsTotal   metric.Int64Counter
	llmCallDuration metric.Float64Histogram

	toolCallsTotal metric.Int64Counter
	toolDuration   metric.Float64Histogram

	calendarOperationsTotal   metric.Int64Counter
	calendarOperationDuration metric.Float64Histogram

	remindersSentTotal metric.Int64Counter

	detailedLabels bool
}

// NewMetrics creates all instruments on the given meter.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}

	var err error
	counter := func(name, desc, unit string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			err = fmt.Errorf("failed to create %s counter: %w", name, err)
		}
		return c
	}
	histogram := func(name, desc string, buckets []float64) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...))
		if err != nil {
			err = fmt.Errorf("failed to create %s histogram: %w", name, err)
		}
		return h
	}

	m.httpRequestsTotal = counter("http_requests_total", "Total number of HTTP requests", "{request}")
	m.httpRequestDuration = histogram("http_request_duration_seconds", "HTTP request duration in seconds",
		[]float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0})

	m.turnsTotal = counter("agent_turns_total", "Total number of conversational turns", "{turn}")
	m.turnDuration = histogram("agent_turn_duration_seconds", "End to end turn duration in seconds", slowBuckets)

	m.llmCallsTotal = counter("llm_calls_total", "Total number of language model calls", "{call}")
	m.llmCallDuration = histogram("llm_call_duration_seconds", "Language model call duration in seconds", slowBuckets)

	m.toolCallsTotal = counter("agent_tool_calls_total", "Total number of dispatched tool calls", "{call}")
	m.toolDuration = histogram("agent_tool_duration_seconds", "Tool dispatch duration in seconds", slowBuckets)

	m.calendarOperationsTotal = counter("calendar_operations_total", "Total number of calendar and mail collaborator operations", "{operation}")
	m.calendarOperationDuration = histogram("calendar_operation_duration_seconds", "Collaborator operation duration in seconds", slowBuckets)

	m.remindersSentTotal = counter("reminders_sent_total", "Total number of reminder emails attempted", "{reminder}")
	if err != nil {
		return nil, err
	}

	m.activeWebsockets, err = meter.Int64UpDownCounter("active_websockets",
		metric.WithDescription("Number of open chat WebSocket connections"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create active_websockets gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, route pattern, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTurn records one completed conversational turn.
// status is StatusSuccess, StatusFallback or StatusError.
func (m *Metrics) RecordTurn(ctx context.Context, status string, dispatched bool, duration time.Duration) {
	if m == nil || m.turnsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrStatus, status),
		attribute.Bool(attrDispatch, dispatched),
	)
	m.turnsTotal.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordModelCall records a language model call. phase is PhaseInitial or PhaseFinalize.
func (m *Metrics) RecordModelCall(ctx context.Context, provider, phase, status string, duration time.Duration) {
	if m == nil || m.llmCallsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrPhase, phase),
		attribute.String(attrStatus, status),
	)
	m.llmCallsTotal.Add(ctx, 1, attrs)
	m.llmCallDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordToolInvocation records a dispatched tool call.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	m.RecordToolInvocationWithUser(ctx, toolName, status, "", duration)
}

// RecordToolInvocationWithUser is RecordToolInvocation plus a hashed user
// label when detailed labels are enabled.
func (m *Metrics) RecordToolInvocationWithUser(ctx context.Context, toolName, status, userID string, duration time.Duration) {
	if m == nil || m.toolCallsTotal == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels && userID != "" {
		attrs = append(attrs, attribute.String(attrUser, HashUser(userID)))
	}
	m.toolCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCalendarOperation records a call to a calendar or mail collaborator.
//
// Parameters:
//   - backend: BackendGoogleCalendar, BackendCalDAV or BackendGmail
//   - operation: OperationListBusy, OperationCreate, ...
//   - status: StatusSuccess or StatusError
func (m *Metrics) RecordCalendarOperation(ctx context.Context, backend, operation, status string, duration time.Duration) {
	if m == nil || m.calendarOperationsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrBackend, backend),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.calendarOperationsTotal.Add(ctx, 1, attrs)
	m.calendarOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordReminderSent records a reminder delivery attempt.
func (m *Metrics) RecordReminderSent(ctx context.Context, status string) {
	if m == nil || m.remindersSentTotal == nil {
		return
	}
	m.remindersSentTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}

// IncrementActiveWebsockets increments the open WebSocket gauge.
func (m *Metrics) IncrementActiveWebsockets(ctx context.Context) {
	if m == nil || m.activeWebsockets == nil {
		return
	}
	m.activeWebsockets.Add(ctx, 1)
}

// DecrementActiveWebsockets decrements the open WebSocket gauge.
func (m *Metrics) DecrementActiveWebsockets(ctx context.Context) {
	if m == nil || m.activeWebsockets == nil {
		return
	}
	m.activeWebsockets.Add(ctx, -1)
}

// StatusFor maps an error to StatusSuccess or StatusError.
func StatusFor(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
