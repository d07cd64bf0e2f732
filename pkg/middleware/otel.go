package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/protocol"
)

// Default tracer name for listener spans.
const defaultTracerName = "github.com/vango-dev/tengi/pkg/middleware"

// SpanName is the name of the span started for each message.
const SpanName = "tengi.message"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the instrumentation name of the tracer.
	TracerName string

	// TracerProvider creates the tracer.
	// Default: the global otel provider.
	TracerProvider trace.TracerProvider

	// Filter determines which messages to trace.
	// If nil, all messages are traced.
	Filter func(c *connection.Connection, msg *protocol.Message) bool

	// AttributeExtractor adds custom attributes to each span.
	AttributeExtractor func(c *connection.Connection, msg *protocol.Message) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithMessageFilter sets a filter function for messages.
func WithMessageFilter(filter func(c *connection.Connection, msg *protocol.Message) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(c *connection.Connection, msg *protocol.Message) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// OpenTelemetry creates middleware that starts a span for every message.
// Spans carry the connection id, transport, message id and body type.
//
// The tracer comes from the global provider unless WithTracerProvider is
// given. Configure it in main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(config.TracerName)

	return func(next connection.MessageListener) connection.MessageListener {
		return connection.MessageListenerFunc(func(c *connection.Connection, msg *protocol.Message) {
			if config.Filter != nil && !config.Filter(c, msg) {
				next.OnMessage(c, msg)
				return
			}

			attrs := []attribute.KeyValue{
				attribute.String("tengi.connection", c.ID().String()),
				attribute.String("tengi.transport", c.Transport().Name()),
				attribute.String("tengi.message", msg.ID.String()),
				attribute.String("tengi.body_type", BodyType(msg)),
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(c, msg)...)
			}

			_, span := tracer.Start(context.Background(), SpanName,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(attrs...),
			)
			defer func() {
				if r := recover(); r != nil {
					span.RecordError(fmt.Errorf("listener panicked: %v", r))
					span.SetStatus(codes.Error, fmt.Sprint(r))
					span.End()
					panic(r)
				}
				span.SetStatus(codes.Ok, "")
				span.End()
			}()
			next.OnMessage(c, msg)
		})
	}
}
