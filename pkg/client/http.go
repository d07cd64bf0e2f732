package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/transport"
)

const (
	// ChannelPath is the server's HTTP polling endpoint.
	ChannelPath = "/channel"

	// TransportHeader tells the server which polling transport a handshake
	// opens.
	TransportHeader = "Tengi-Transport"

	// maxPollFailures is the number of consecutive failed polls after which
	// the connection is closed.
	maxPollFailures = 3
)

// errGone is returned by post when the server no longer knows the
// connection.
var errGone = errors.New("client: connection gone")

// httpChannel posts envelopes to one server's /channel endpoint.
type httpChannel struct {
	client    *http.Client
	url       string
	transport transport.Transport
	mimeType  string
}

func (c *Client) newHTTPChannel(tr transport.Transport, addr string) *httpChannel {
	hc := c.cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
		if c.cfg.TLS != nil {
			hc.Transport = &http.Transport{TLSClientConfig: c.cfg.TLS}
		}
	}
	u := url.URL{Scheme: "http", Host: addr, Path: ChannelPath}
	if c.cfg.TLS != nil {
		u.Scheme = "https"
	}
	return &httpChannel{client: hc, url: u.String(), transport: tr, mimeType: c.cfg.Protocol.MimeType()}
}

// post sends one envelope and returns the reply body, nil for 204.
func (h *httpChannel) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", h.mimeType)
	req.Header.Set(TransportHeader, h.transport.Name())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNoContent:
		return nil, nil
	case http.StatusForbidden:
		return nil, ErrHandshakeRejected
	case http.StatusGone:
		return nil, errGone
	}
	return nil, fmt.Errorf("client: %s %s: %s", req.Method, h.url, resp.Status)
}

// connectHTTP runs the handshake over POST /channel and starts the poller.
func (c *Client) connectHTTP(ctx context.Context, tr transport.Transport, addr string) (*connection.Connection, error) {
	ch := c.newHTTPChannel(tr, addr)

	buf, err := c.handshakeFrame()
	if err != nil {
		return nil, err
	}
	data, err := ch.post(ctx, append([]byte(nil), buf.Bytes()...))
	buf.Release()
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: empty body", ErrUnexpectedResponse)
	}
	id, err := c.readResponse(data)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithCancel(context.Background())
	hc := &httpContext{channel: ch, pool: c.pool, cancel: cancel}
	conn, err := c.newConnection(id, tr, hc)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := conn.Establish(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.pollLoop(pctx, conn, hc)
	return conn, nil
}

// httpContext is the client-side polling capability: every outbound message
// is its own POST.
type httpContext struct {
	channel *httpChannel
	pool    *buffer.Pool
	cancel  context.CancelFunc
}

func (h *httpContext) Streaming() bool { return false }

func (h *httpContext) Write(ctx context.Context, c *connection.Connection, msg *protocol.Message) error {
	buf := h.pool.Acquire(256)
	defer buf.Release()

	frame := &protocol.Frame{LoggedIn: true, ConnectionID: c.ID(), Payload: msg}
	if err := c.Protocol().WriteFrame(buf, frame); err != nil {
		return err
	}
	_, err := h.channel.post(ctx, append([]byte(nil), buf.Bytes()...))
	return err
}

// Close stops the poller.
func (h *httpContext) Close(*connection.Connection) error {
	h.cancel()
	return nil
}

// pollLoop polls for queued messages until the connection closes. Long
// polls are issued back to back; short polls are spaced by PollInterval.
func (c *Client) pollLoop(ctx context.Context, conn *connection.Connection, hc *httpContext) {
	defer conn.Close()

	long := conn.Transport() == transport.HTTPLongPolling
	var (
		last     int64
		failures int
	)
	for {
		latest, err := c.poll(ctx, conn, hc.channel, last, long)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, errGone):
			c.logger.Infow("connection gone", "connection", conn.ID())
			return
		case err != nil:
			failures++
			conn.ReportException(err)
			c.logger.Debugw("poll failed", "connection", conn.ID(), "error", err, "failures", failures)
			if failures >= maxPollFailures {
				return
			}
		default:
			failures = 0
			if latest > last {
				last = latest
			}
		}

		if long && err == nil {
			continue
		}
		timer := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// poll sends one polling request and publishes the messages of the reply.
func (c *Client) poll(ctx context.Context, conn *connection.Connection, ch *httpChannel, last int64, long bool) (int64, error) {
	var body any = &protocol.PollingRequest{LastUpdateID: last}
	if long {
		body = &protocol.LongPollingRequest{PollingRequest: protocol.PollingRequest{LastUpdateID: last}}
	}

	buf := c.pool.Acquire(64)
	frame := &protocol.Frame{LoggedIn: true, ConnectionID: conn.ID(), Payload: protocol.NewMessage(body)}
	if err := c.cfg.Protocol.WriteFrame(buf, frame); err != nil {
		buf.Release()
		return last, err
	}
	data, err := ch.post(ctx, append([]byte(nil), buf.Bytes()...))
	buf.Release()
	if err != nil {
		return last, err
	}
	if data == nil {
		return last, fmt.Errorf("%w: empty polling response", protocol.ErrUnexpectedPayload)
	}

	rb := buffer.Wrap(data)
	defer rb.Release()
	reply, err := c.cfg.Protocol.ReadFrame(rb)
	if err != nil {
		return last, err
	}
	msg, ok := reply.Payload.(*protocol.Message)
	if !ok {
		return last, fmt.Errorf("%w: want *protocol.Message, got %T", protocol.ErrUnexpectedPayload, reply.Payload)
	}

	var resp *protocol.PollingResponse
	switch r := msg.Body.(type) {
	case *protocol.PollingResponse:
		resp = r
	case *protocol.LongPollingResponse:
		resp = &r.PollingResponse
	default:
		return last, fmt.Errorf("%w: want a polling response, got %T", protocol.ErrUnexpectedPayload, msg.Body)
	}
	for _, m := range resp.Messages {
		conn.Publish(m)
	}
	return resp.LatestUpdateID, nil
}
