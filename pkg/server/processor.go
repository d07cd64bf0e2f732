package server

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/identifier"
	"github.com/vango-dev/tengi/pkg/protocol"
)

// replySizeHint is the initial size of pooled reply buffers.
const replySizeHint = 512

// processor runs the handshake state machine for every transport. A
// session's frames are handed to handle one at a time.
type processor struct {
	cfg      *Config
	protocol *protocol.Protocol
	manager  *ConnectionManager
	metrics  *Metrics
	tracer   trace.Tracer
	limiter  *rate.Limiter
	pool     *buffer.Pool
	logger   *zap.Logger
}

func newProcessor(cfg *Config, manager *ConnectionManager, metrics *Metrics, pool *buffer.Pool) *processor {
	return &processor{
		cfg:      cfg,
		protocol: cfg.Protocol,
		manager:  manager,
		metrics:  metrics,
		tracer:   newTracer(cfg.TracerProvider),
		limiter:  rate.NewLimiter(cfg.HandshakeRate, cfg.HandshakeBurst),
		pool:     pool,
		logger:   cfg.Logger,
	}
}

// handle processes one inbound envelope. A non-nil error means the session
// must end: streaming sockets are closed, HTTP requests get an error
// status.
func (p *processor) handle(ctx context.Context, s *session, data []byte) error {
	buf := buffer.Wrap(data)
	defer buf.Release()

	loggedIn, id, err := protocol.ReadFrameHeader(buf)
	if err != nil {
		return p.fail(s, identifier.Nil, "read header", err)
	}
	if !loggedIn {
		return p.handshake(ctx, s, buf)
	}
	return p.dispatch(ctx, s, id, buf)
}

func (p *processor) handshake(ctx context.Context, s *session, buf *buffer.MemoryBuffer) (err error) {
	ctx, span := p.tracer.Start(ctx, spanHandshake,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(sessionAttributes(s.transport, identifier.Nil)...))
	defer func() { endSpan(span, err) }()

	if s.conn != nil {
		return p.fail(s, s.conn.ID(), "handshake", fmt.Errorf("%w: handshake on established session", ErrUnexpectedFrame))
	}
	if !p.limiter.Allow() {
		p.metrics.handshake(handshakeRateLimited)
		return p.fail(s, identifier.Nil, "handshake", ErrRateLimited)
	}

	payload, err := p.protocol.Decode(buf)
	if err == nil {
		if _, ok := payload.(*protocol.Handshake); !ok {
			err = fmt.Errorf("%w: want *protocol.Handshake, got %T", protocol.ErrUnexpectedPayload, payload)
		}
	}
	if err != nil {
		p.metrics.handshake(handshakeFailed)
		return p.fail(s, identifier.Nil, "decode handshake", err)
	}
	hs := payload.(*protocol.Handshake)

	id := identifier.NewRandom()
	span.SetAttributes(attrConnection.String(id.String()))

	resp, err := p.callHandler(id, hs)
	switch {
	case err != nil:
		p.metrics.handshake(handshakeFailed)
		return p.fail(s, id, "handshake", err)
	case isNilResponse(resp):
		p.metrics.handshake(handshakeRejected)
		return p.fail(s, id, "handshake", ErrHandshakeRejected)
	case any(resp) == any(hs):
		p.metrics.handshake(handshakeIllegal)
		return p.fail(s, id, "handshake", ErrIllegalHandshakeResponse)
	}

	conn := connection.New(id, s.transport, p.protocol, s.capability(p.cfg, p.pool, p.metrics),
		connection.WithLogger(p.logger))
	for _, l := range p.cfg.ConnectionListeners {
		if _, err := conn.AddConnectionListener(l); err != nil {
			_ = conn.Close()
			p.metrics.handshake(handshakeFailed)
			return p.fail(s, id, "attach listener", err)
		}
	}
	if err := p.manager.Register(conn); err != nil {
		_ = conn.Close()
		p.metrics.handshake(handshakeFailed)
		return p.fail(s, id, "register", err)
	}

	// The response goes out before Establish so that anything OnConnect
	// writes reaches the peer after it.
	if err := p.respond(ctx, s, id, resp); err != nil {
		_ = conn.Close()
		p.metrics.handshake(handshakeFailed)
		return p.fail(s, id, "handshake response", err)
	}
	if s.transport.Streaming() {
		s.conn = conn
	}
	if err := conn.Establish(); err != nil {
		return p.fail(s, id, "establish", err)
	}
	p.metrics.handshake(handshakeAccepted)
	p.logger.Sugar().Debugw("handshake accepted", "connection", id, "transport", s.transport, "remote", s.remote)
	return nil
}

// callHandler runs the HandshakeHandler, turning a panic into an error.
func (p *processor) callHandler(id identifier.Identifier, hs *protocol.Handshake) (resp protocol.HandshakeMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handshake handler panic: %v", r)
		}
	}()
	return p.cfg.HandshakeHandler.HandleHandshake(id, hs), nil
}

func (p *processor) dispatch(ctx context.Context, s *session, id identifier.Identifier, buf *buffer.MemoryBuffer) (err error) {
	ctx, span := p.tracer.Start(ctx, spanDispatch,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(sessionAttributes(s.transport, id)...))
	defer func() { endSpan(span, err) }()

	conn, ok := p.manager.Get(id)
	if !ok {
		return p.fail(s, id, "dispatch", ErrUnknownConnection)
	}
	if s.transport.Streaming() != conn.Transport().Streaming() || (s.transport.Streaming() && s.conn != conn) {
		return p.fail(s, id, "dispatch", ErrConnectionMismatch)
	}
	p.manager.Touch(id)
	conn.PublishFrame(buf)

	payload, err := p.protocol.Decode(buf)
	if err == nil {
		if _, ok := payload.(*protocol.Message); !ok {
			err = fmt.Errorf("%w: want *protocol.Message, got %T", protocol.ErrUnexpectedPayload, payload)
		}
	}
	if err != nil {
		conn.ReportException(err)
		_ = conn.Close()
		return p.fail(s, id, "decode", err)
	}
	msg := payload.(*protocol.Message)
	p.metrics.messageIn(s.transport)
	span.SetAttributes(attrBodyType.String(fmt.Sprintf("%T", msg.Body)))

	if !s.transport.Streaming() {
		switch req := msg.Body.(type) {
		case *protocol.LongPollingRequest:
			return p.poll(ctx, s, conn, req.LastUpdateID, true)
		case *protocol.PollingRequest:
			return p.poll(ctx, s, conn, req.LastUpdateID, false)
		}
	}
	span.SetAttributes(attrListeners.Int(conn.Publish(msg)))
	return nil
}

// poll answers a polling request with the queued messages newer than
// last. A long poll first waits up to LongPollTimeout for one to arrive.
func (p *processor) poll(ctx context.Context, s *session, conn *connection.Connection, last int64, long bool) error {
	pc, ok := conn.Context().(*connection.PollingContext)
	if !ok {
		return p.fail(s, conn.ID(), "poll", ErrConnectionMismatch)
	}
	q := pc.Queue()

	var snap *protocol.Message
	if long {
		wctx, cancel := context.WithTimeout(ctx, p.cfg.LongPollTimeout)
		q.Wait(wctx, last)
		cancel()
		if snap = q.LongSnapshot(last); snap == nil {
			snap = protocol.NewMessage(protocol.NewLongPollingResponse(q.LatestUpdateID(), nil))
		}
	} else if snap = q.Snapshot(last); snap == nil {
		snap = protocol.NewMessage(protocol.NewPollingResponse(q.LatestUpdateID(), nil))
	}
	defer releaseResponse(snap)

	if err := p.respond(ctx, s, conn.ID(), snap); err != nil {
		conn.ReportException(err)
		return p.fail(s, conn.ID(), "poll response", err)
	}
	p.manager.Touch(conn.ID())
	return nil
}

func releaseResponse(msg *protocol.Message) {
	switch r := msg.Body.(type) {
	case *protocol.PollingResponse:
		r.Release()
	case *protocol.LongPollingResponse:
		r.Release()
	}
}

// respond writes a logged-in envelope carrying payload back on s.
func (p *processor) respond(ctx context.Context, s *session, id identifier.Identifier, payload any) error {
	buf := p.pool.Acquire(replySizeHint)
	defer buf.Release()

	frame := &protocol.Frame{LoggedIn: true, ConnectionID: id, Payload: payload}
	if err := p.protocol.WriteFrame(buf, frame); err != nil {
		return err
	}
	if s.socket == nil {
		p.metrics.frame(s.transport, true, buf.ReadableBytes())
	}
	return s.reply(ctx, buf)
}

// fail records err against the session and returns it wrapped.
func (p *processor) fail(s *session, id identifier.Identifier, op string, err error) error {
	p.metrics.error(err)
	serr := NewSessionError(id, op, err)
	p.logger.Sugar().Debugw("session error",
		"transport", s.transport,
		"remote", s.remote,
		"op", op,
		"error", err)
	return serr
}
