package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/vango-dev/tengi/internal/netio"
	"github.com/vango-dev/tengi/pkg/transport"
)

const maxAcceptDelay = time.Second

// listen opens a TCP listener on the configured host, wrapped in TLS when
// configured.
func (s *Server) listen(ctx context.Context, port int) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlListener}
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}
	return ln, nil
}

// acceptTCP serves raw TCP sessions until ln is closed.
func (s *Server) acceptTCP(ln net.Listener) {
	defer s.wg.Done()

	var delay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.logger.Sugar().Warnw("accept failed", "error", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		if sc, ok := c.(syscall.Conn); ok {
			tuneConn(sc)
		}
		sock := netio.NewStreamSocket(c, s.cfg.MaxFrameSize, s.cfg.WriteTimeout)
		sock.Observe(s.observer(transport.TCP))

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveStream(sock, transport.TCP)
		}()
	}
}

// serveStream reads frames off a streaming socket until it fails or the
// session ends. The connection established on it closes with it.
func (s *Server) serveStream(sock netio.Socket, tr transport.Transport) {
	if !s.track(sock) {
		_ = sock.Close()
		return
	}
	defer s.untrack(sock)

	sess := newStreamSession(tr, sock)
	defer func() {
		if sess.conn != nil {
			_ = sess.conn.Close()
		}
		_ = sock.Close()
	}()

	_ = sock.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	established := false
	for {
		data, err := sock.ReadFrame()
		if err != nil {
			if !netio.IsClosed(err) {
				s.logger.Sugar().Debugw("read failed", "transport", tr, "remote", sock.RemoteAddr(), "error", err)
			}
			return
		}
		if err := s.proc.handle(s.baseCtx, sess, data); err != nil {
			return
		}
		if !established && sess.conn != nil {
			established = true
			_ = sock.SetReadDeadline(time.Time{})
		}
	}
}

// observer feeds socket frame sizes into the metrics.
func (s *Server) observer(tr transport.Transport) netio.Observer {
	return func(written bool, n int) {
		s.metrics.frame(tr, written, n)
	}
}
