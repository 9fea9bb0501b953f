// Package httpapi exposes the process's HTTP surface: the websocket upgrade
// endpoint the dispatch engine is reached over, plus health and metrics.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/ws"
)

type Server struct {
	hub      *ws.Hub
	coord    *dispatch.Coordinator
	verifier auth.Verifier
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(hub *ws.Hub, coord *dispatch.Coordinator, verifier auth.Verifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{hub: hub, coord: coord, verifier: verifier, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients come from the separate web frontend.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS authenticates the bearer credential, upgrades, and runs the
// session's read loop on this goroutine until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	subject, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		s.logger.Warn("connection refused", "error", err, "remote_addr", remoteIP(r))
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	sess := ws.NewSession(s.hub, conn, subject)
	sess.Run(s.coord)
}

// bearerToken pulls the credential from the Authorization header or, for
// browser websocket clients that cannot set headers, the token query param.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
		return strings.TrimSpace(h)
	}
	return r.URL.Query().Get("token")
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
