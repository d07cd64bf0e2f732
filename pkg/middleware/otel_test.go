package middleware

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/transport"
)

type recordingSpan struct {
	noop.Span
	name   string
	attrs  []attribute.KeyValue
	status codes.Code
	errs   []error
	ended  bool
}

func (s *recordingSpan) End(...trace.SpanEndOption)                    { s.ended = true }
func (s *recordingSpan) RecordError(err error, _ ...trace.EventOption) { s.errs = append(s.errs, err) }
func (s *recordingSpan) SetStatus(code codes.Code, _ string)           { s.status = code }

func (s *recordingSpan) attr(key string) string {
	for _, kv := range s.attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

type recordingTracer struct {
	noop.Tracer
	mu    sync.Mutex
	spans []*recordingSpan
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &recordingSpan{name: name, attrs: cfg.Attributes()}
	t.mu.Lock()
	t.spans = append(t.spans, s)
	t.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

type recordingProvider struct {
	noop.TracerProvider
	tracer *recordingTracer
}

func (p *recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer { return p.tracer }

func newRecordingProvider() *recordingProvider {
	return &recordingProvider{tracer: &recordingTracer{}}
}

func TestOpenTelemetryConfig(t *testing.T) {
	config := defaultOTelConfig()
	assert.Equal(t, defaultTracerName, config.TracerName)
	assert.Nil(t, config.Filter)

	WithTracerName("custom")(&config)
	assert.Equal(t, "custom", config.TracerName)
}

func TestOpenTelemetrySpan(t *testing.T) {
	tp := newRecordingProvider()
	conn := newConn(t, transport.HTTPLongPolling)
	msg := protocol.NewMessage(protocol.NewPacket("chat"))

	l := Chain(connection.MessageListenerFunc(func(*connection.Connection, *protocol.Message) {}),
		OpenTelemetry(
			WithTracerProvider(tp),
			WithAttributeExtractor(func(*connection.Connection, *protocol.Message) []attribute.KeyValue {
				return []attribute.KeyValue{attribute.String("test.attr", "ok")}
			}),
		))
	l.OnMessage(conn, msg)

	require.Len(t, tp.tracer.spans, 1)
	span := tp.tracer.spans[0]
	assert.Equal(t, SpanName, span.name)
	assert.True(t, span.ended)
	assert.Equal(t, codes.Ok, span.status)
	assert.Equal(t, conn.ID().String(), span.attr("tengi.connection"))
	assert.Equal(t, "http-long", span.attr("tengi.transport"))
	assert.Equal(t, msg.ID.String(), span.attr("tengi.message"))
	assert.Equal(t, "packet:chat", span.attr("tengi.body_type"))
	assert.Equal(t, "ok", span.attr("test.attr"))
}

func TestOpenTelemetryPanic(t *testing.T) {
	tp := newRecordingProvider()
	l := Chain(connection.MessageListenerFunc(func(*connection.Connection, *protocol.Message) {
		panic("boom")
	}), OpenTelemetry(WithTracerProvider(tp)))

	assert.PanicsWithValue(t, "boom", func() {
		l.OnMessage(newConn(t, transport.TCP), protocol.NewMessage("x"))
	})
	require.Len(t, tp.tracer.spans, 1)
	span := tp.tracer.spans[0]
	assert.True(t, span.ended)
	assert.Equal(t, codes.Error, span.status)
	require.Len(t, span.errs, 1)
	assert.Contains(t, span.errs[0].Error(), "boom")
}

func TestOpenTelemetryFilter(t *testing.T) {
	tp := newRecordingProvider()
	called := false
	l := Chain(connection.MessageListenerFunc(func(*connection.Connection, *protocol.Message) { called = true }),
		OpenTelemetry(
			WithTracerProvider(tp),
			WithMessageFilter(func(_ *connection.Connection, msg *protocol.Message) bool { return msg.Body != nil }),
		))

	l.OnMessage(newConn(t, transport.TCP), protocol.NewMessage(nil))
	assert.True(t, called)
	assert.Empty(t, tp.tracer.spans)
}
