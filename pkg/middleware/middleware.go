package middleware

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/protocol"
)

// Middleware wraps a message listener.
type Middleware func(next connection.MessageListener) connection.MessageListener

// Chain wraps l with mws. The first middleware runs first.
func Chain(l connection.MessageListener, mws ...Middleware) connection.MessageListener {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			l = mws[i](l)
		}
	}
	return l
}

// Logging logs every handled message at debug level and listener panics at
// error level. Panics are re-raised.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next connection.MessageListener) connection.MessageListener {
		return connection.MessageListenerFunc(func(c *connection.Connection, msg *protocol.Message) {
			start := time.Now()
			defer func() {
				fields := []zap.Field{
					zap.Stringer("connection", c.ID()),
					zap.Stringer("transport", c.Transport()),
					zap.Stringer("message", msg.ID),
					zap.String("type", BodyType(msg)),
					zap.Duration("duration", time.Since(start)),
				}
				if r := recover(); r != nil {
					logger.Error("listener panicked", append(fields, zap.Any("panic", r))...)
					panic(r)
				}
				logger.Debug("message handled", fields...)
			}()
			next.OnMessage(c, msg)
		})
	}
}

// BodyType returns a low-cardinality label for the body of msg: "nil",
// "packet:<name>" for packets, otherwise the Go type.
func BodyType(msg *protocol.Message) string {
	if msg == nil || msg.Body == nil {
		return "nil"
	}
	if p, ok := msg.Body.(*protocol.Packet); ok {
		return "packet:" + p.PacketName()
	}
	return fmt.Sprintf("%T", msg.Body)
}
