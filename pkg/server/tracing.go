package server

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/tengi/pkg/identifier"
	"github.com/vango-dev/tengi/pkg/transport"
)

// tracerName is the instrumentation name of server spans.
const tracerName = "github.com/vango-dev/tengi/pkg/server"

// Span names.
const (
	spanHandshake = "tengi.handshake"
	spanDispatch  = "tengi.dispatch"
)

// Span attribute keys.
const (
	attrTransport  = attribute.Key("tengi.transport")
	attrConnection = attribute.Key("tengi.connection")
	attrBodyType   = attribute.Key("tengi.body_type")
	attrListeners  = attribute.Key("tengi.listeners")
)

func newTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

func sessionAttributes(tr transport.Transport, id identifier.Identifier) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attrTransport.String(tr.Name())}
	if !id.IsZero() {
		attrs = append(attrs, attrConnection.String(id.String()))
	}
	return attrs
}

// endSpan records err, if any, and ends span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
