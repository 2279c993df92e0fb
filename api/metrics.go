package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "retro-sync/api"

	eventDomain      = "retro.sync"
	commandEventName = "board.command"
	createEventName  = "board.create"
	commandSpanName  = "retro.board.command"
	createSpanName   = "retro.board.create"

	observabilityEvent = "observability.event"

	severityInfo  = 9
	severityWarn  = 13
	severityError = 17
)

// commandMetrics records one traced unit of gateway work: a websocket
// command or a board creation. Finish ends the span and writes a single
// observability.event log line.
type commandMetrics struct {
	logger *log.Logger
	span   trace.Span
	event  string
	start  time.Time
	attrs  []attribute.KeyValue
}

func newCommandMetrics(ctx context.Context, logger *log.Logger, spanName, event string, attrs ...attribute.KeyValue) (*commandMetrics, context.Context) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	return &commandMetrics{
		logger: logger,
		span:   span,
		event:  event,
		start:  time.Now(),
		attrs:  append([]attribute.KeyValue(nil), attrs...),
	}, ctx
}

// Set adds attributes reported when the metrics are finished.
func (m *commandMetrics) Set(attrs ...attribute.KeyValue) {
	m.attrs = append(m.attrs, attrs...)
}

func (m *commandMetrics) Finish(status int, err error) {
	if m == nil {
		return
	}
	severityText, severityNumber := severityForStatus(status, err)

	attrs := append([]attribute.KeyValue(nil), m.attrs...)
	attrs = append(attrs, attribute.Float64("retro.total_ms", durationToMillis(time.Since(m.start))))
	if status > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", status))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", m.event),
		attribute.String("event.domain", eventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)

	m.span.SetAttributes(attrs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
	if severityNumber >= severityError {
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Error, http.StatusText(status))
		}
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	sc := m.span.SpanContext()
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      m.event,
		"event.domain":    eventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesToFields(attrs),
	}
	if sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	switch severityNumber {
	case severityError:
		entry.Error(observabilityEvent)
	case severityWarn:
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// severityForStatus maps an outcome onto OpenTelemetry log severities.
// Client errors stay WARN even when err is set.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", severityError
	case status >= http.StatusBadRequest:
		return "WARN", severityWarn
	case err != nil:
		return "ERROR", severityError
	default:
		return "INFO", severityInfo
	}
}

func attributesToFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
