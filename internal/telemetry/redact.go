package telemetry

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Webhook URLs carry the single-use interaction token as the segment after
// the application id.
var webhookToken = regexp.MustCompile(`(/webhooks/[^/?#\s]+/)[^/?#\s"]+`)

// RedactWebhookToken replaces the interaction token in any webhook URL or
// path found in s.
func RedactWebhookToken(s string) string {
	return webhookToken.ReplaceAllString(s, "${1}<token>")
}

// redactingExporter scrubs interaction tokens from span names, attributes,
// events and status before handing spans to the wrapped exporter. Outbound
// HTTP instrumentation records the full request URL, which for follow-up
// edits contains the token.
type redactingExporter struct {
	sdktrace.SpanExporter
}

func (e redactingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	out := make([]sdktrace.ReadOnlySpan, len(spans))
	for i, s := range spans {
		out[i] = redactSpan(s)
	}
	return e.SpanExporter.ExportSpans(ctx, out)
}

type redactedSpan struct {
	sdktrace.ReadOnlySpan
	name   string
	attrs  []attribute.KeyValue
	events []sdktrace.Event
	status sdktrace.Status
}

func (s redactedSpan) Name() string                     { return s.name }
func (s redactedSpan) Attributes() []attribute.KeyValue { return s.attrs }
func (s redactedSpan) Events() []sdktrace.Event         { return s.events }
func (s redactedSpan) Status() sdktrace.Status          { return s.status }

func redactSpan(s sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	changed := false

	name := RedactWebhookToken(s.Name())
	changed = changed || name != s.Name()

	attrs, c := redactAttrs(s.Attributes())
	changed = changed || c

	events := make([]sdktrace.Event, len(s.Events()))
	for i, ev := range s.Events() {
		ev.Attributes, c = redactAttrs(ev.Attributes)
		changed = changed || c
		events[i] = ev
	}

	status := s.Status()
	if d := RedactWebhookToken(status.Description); d != status.Description {
		status.Description = d
		changed = true
	}

	if !changed {
		return s
	}
	return redactedSpan{ReadOnlySpan: s, name: name, attrs: attrs, events: events, status: status}
}

func redactAttrs(attrs []attribute.KeyValue) ([]attribute.KeyValue, bool) {
	changed := false
	out := make([]attribute.KeyValue, len(attrs))
	for i, kv := range attrs {
		out[i] = kv
		if kv.Value.Type() != attribute.STRING {
			continue
		}
		if v := RedactWebhookToken(kv.Value.AsString()); v != kv.Value.AsString() {
			out[i] = attribute.String(string(kv.Key), v)
			changed = true
		}
	}
	return out, changed
}
