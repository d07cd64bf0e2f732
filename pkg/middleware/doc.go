// Package middleware decorates connection.MessageListener with
// observability.
//
// A Middleware wraps one listener and returns another. Chain composes them
// so the first middleware is the outermost:
//
//	echo := connection.MessageListenerFunc(func(c *connection.Connection, msg *protocol.Message) {
//	    _, _ = c.WriteObject(context.Background(), msg.Body)
//	})
//
//	metrics := middleware.NewMetrics(middleware.WithRegistry(reg))
//	listener := middleware.Chain(echo,
//	    middleware.Logging(logger),
//	    metrics.Middleware(),
//	    middleware.OpenTelemetry(),
//	)
//
// # Prometheus Metrics
//
// Metrics collects, under the "tengi_listener" prefix by default:
//   - messages_total: messages handled, by transport, body type and status
//   - message_duration_seconds: listener latency, by transport
//   - connections: open connections, by transport
//   - exceptions_total: reported exceptions, by transport and kind
//
// The last two need Metrics registered as a connection and exception
// listener, which server.WithConnectionListener does for every connection.
//
// # OpenTelemetry
//
// OpenTelemetry starts one span per message. Listener panics are recorded
// on the span and re-raised, so the connection still reports them as a
// *connection.ListenerPanicError.
package middleware
