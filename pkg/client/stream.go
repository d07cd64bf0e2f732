package client

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/tengi/internal/netio"
	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/transport"
)

// WebSocketPath is the server's WebSocket endpoint.
const WebSocketPath = "/websocket"

// dial opens the streaming socket for tr.
func (c *Client) dial(ctx context.Context, tr transport.Transport, addr string) (netio.Socket, error) {
	if tr == transport.WebSocket {
		u := url.URL{Scheme: "ws", Host: addr, Path: WebSocketPath}
		dialer := &websocket.Dialer{
			HandshakeTimeout: c.cfg.ConnectTimeout,
			TLSClientConfig:  c.cfg.TLS,
		}
		if c.cfg.TLS != nil {
			u.Scheme = "wss"
		}
		ws, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, err
		}
		return netio.NewWebSocket(ws, c.cfg.MaxFrameSize, c.cfg.WriteTimeout), nil
	}

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if c.cfg.TLS == nil {
		return netio.NewStreamSocket(raw, c.cfg.MaxFrameSize, c.cfg.WriteTimeout), nil
	}

	cfg := c.cfg.TLS.Clone()
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			cfg.ServerName = host
		}
	}
	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return netio.NewStreamSocket(conn, c.cfg.MaxFrameSize, c.cfg.WriteTimeout), nil
}

// connectStream dials a TCP or WebSocket session, runs the handshake and
// starts the read loop.
func (c *Client) connectStream(ctx context.Context, tr transport.Transport, addr string) (*connection.Connection, error) {
	sock, err := c.dial(ctx, tr, addr)
	if err != nil {
		return nil, err
	}

	conn, err := c.handshakeStream(ctx, tr, sock)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}
	go c.readLoop(conn, sock)
	return conn, nil
}

func (c *Client) handshakeStream(ctx context.Context, tr transport.Transport, sock netio.Socket) (*connection.Connection, error) {
	buf, err := c.handshakeFrame()
	if err != nil {
		return nil, err
	}
	err = sock.WriteFrame(ctx, buf)
	buf.Release()
	if err != nil {
		return nil, err
	}

	deadline, _ := ctx.Deadline()
	if err := sock.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	data, err := sock.ReadFrame()
	if err != nil {
		if netio.IsClosed(err) {
			return nil, ErrHandshakeRejected
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Join(ctxErr, err)
		}
		return nil, err
	}
	id, err := c.readResponse(data)
	if err != nil {
		return nil, err
	}
	if err := sock.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	conn, err := c.newConnection(id, tr, connection.NewStreamingContext(sock, c.pool))
	if err != nil {
		return nil, err
	}
	if err := conn.Establish(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// readLoop delivers inbound envelopes until the socket fails, then closes
// the connection.
func (c *Client) readLoop(conn *connection.Connection, sock netio.Socket) {
	defer conn.Close()
	for {
		data, err := sock.ReadFrame()
		if err != nil {
			if !netio.IsClosed(err) && conn.State() != connection.Closed {
				c.logger.Debugw("read failed", "connection", conn.ID(), "error", err)
				conn.ReportException(err)
			}
			return
		}
		if err := c.deliver(conn, data); err != nil {
			c.logger.Debugw("bad frame", "connection", conn.ID(), "error", err)
			conn.ReportException(err)
			return
		}
	}
}
