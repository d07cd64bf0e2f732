package server

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/transport"
)

// TransportHeader selects the polling transport of a handshake sent over
// POST /channel: "http" (default) or "http-long".
const TransportHeader = "Tengi-Transport"

// routes builds the HTTP front door.
//
//	POST /channel    one envelope per request (HTTP polling transports)
//	GET  /websocket  WebSocket upgrade
//	GET  /metrics    Prometheus exposition, when the registerer can gather
//	GET  /healthz    liveness
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if s.cfg.hasPolling() {
		origins := s.cfg.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", TransportHeader},
			MaxAge:         300,
		}))
		r.Post("/channel", s.handleChannel)
	}
	if s.cfg.has(transport.WebSocket) {
		r.Get("/websocket", s.handleWebSocket)
	}
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	return r
}

// handleChannel runs one envelope through the processor and writes the
// reply envelope, or 204 when there is none.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != s.cfg.Protocol.MimeType() {
		http.Error(w, http.StatusText(http.StatusUnsupportedMediaType), http.StatusUnsupportedMediaType)
		return
	}

	tr := transport.HTTPPolling
	if name := r.Header.Get(TransportHeader); name != "" {
		t, ok := transport.Lookup(name)
		if !ok || !t.HTTP() || t.Streaming() || !s.cfg.has(t) {
			http.Error(w, "unsupported transport", http.StatusBadRequest)
			return
		}
		tr = t
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxFrameSize)))
	if err != nil {
		status := http.StatusBadRequest
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	s.metrics.frame(tr, false, len(data))

	sess := newHTTPSession(tr, r.RemoteAddr)
	if err := s.proc.handle(r.Context(), &sess.session, data); err != nil {
		status := statusFor(err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	if sess.body == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", s.cfg.Protocol.MimeType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(sess.body)
}

// statusFor maps a processor error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrHandshakeRejected), errors.Is(err, ErrIllegalHandshakeResponse):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnknownConnection), errors.Is(err, connection.ErrConnectionDestroyed):
		return http.StatusGone
	case errors.Is(err, ErrConnectionMismatch):
		return http.StatusConflict
	case IsDecodeError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
