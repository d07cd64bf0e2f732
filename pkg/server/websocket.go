package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/tengi/internal/netio"
	"github.com/vango-dev/tengi/pkg/transport"
)

func (s *Server) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.cfg.checkOrigin,
	}
}

// handleWebSocket upgrades the request and serves the socket on the
// handler goroutine until it closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Sugar().Debugw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sock := netio.NewWebSocket(conn, s.cfg.MaxFrameSize, s.cfg.WriteTimeout)
	sock.Observe(s.observer(transport.WebSocket))

	s.wg.Add(1)
	defer s.wg.Done()
	s.serveStream(sock, transport.WebSocket)
}
