package api

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/zde37/chordfs/internal/chord"
	"github.com/zde37/chordfs/pkg"
)

// Server is the node's optional HTTP status surface.
type Server struct {
	node       *chord.ChordNode
	httpServer *http.Server
	wsHub      *WebSocketHub
	handler    http.Handler
	marshaler  runtime.Marshaler
	logger     *pkg.Logger
	port       int

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates the HTTP API for node and subscribes its WebSocket hub to
// the node's ring events.
func NewServer(node *chord.ChordNode, port int, logger *pkg.Logger) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("node cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	logger = logger.WithFields(pkg.Fields{"component": "http_api"})
	s := &Server{
		node:      node,
		wsHub:     NewWebSocketHub(logger),
		marshaler: &runtime.JSONBuiltin{},
		logger:    logger,
		port:      port,
	}

	handler, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.handler = handler

	node.SetBroadcaster(s.wsHub)
	return s, nil
}

// Hub returns the WebSocket hub that receives ring events.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// routes mounts the node API on a gateway mux under /api/, next to the
// WebSocket feed and the health probe.
func (s *Server) routes() (http.Handler, error) {
	gw := runtime.NewServeMux(
		runtime.WithMarshalerOption(runtime.MIMEWildcard, s.marshaler),
		runtime.WithRoutingErrorHandler(s.routingErrorHandler),
	)
	if err := gw.HandlePath(http.MethodGet, "/api/node", s.nodeHandler); err != nil {
		return nil, fmt.Errorf("failed to register node route: %w", err)
	}
	if err := gw.HandlePath(http.MethodGet, "/api/lookup", s.lookupHandler); err != nil {
		return nil, fmt.Errorf("failed to register lookup route: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", gw)
	mux.HandleFunc("/api/ws", s.wsHub.HandleWebSocket)
	mux.HandleFunc("/health", s.healthHandler)
	return corsMiddleware(mux), nil
}

// routingErrorHandler answers unknown paths and wrong methods with the same
// JSON error body as the handlers.
func (s *Server) routingErrorHandler(_ context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, r *http.Request, code int) {
	s.writeError(w, code, fmt.Errorf("%s %s: %s", r.Method, r.URL.Path, http.StatusText(code)))
}

// Start starts the HTTP server and the WebSocket hub.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP port %d: %w", s.port, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	go s.wsHub.Run()

	s.logger.Info().
		Str("address", listener.Addr().String()).
		Msg("Starting HTTP API server")

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping HTTP API server")

	s.node.SetBroadcaster(nil)
	s.wsHub.Stop()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}

	s.logger.Info().Msg("HTTP API server stopped")
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := s.marshaler.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", s.marshaler.ContentType(v))
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

// healthHandler handles health check requests.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsAlive() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// nodeHandler returns the node's routing state.
func (s *Server) nodeHandler(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.writeJSON(w, http.StatusOK, s.node.State(r.Context()))
}

type lookupResponse struct {
	Name  string             `json:"name,omitempty"`
	Key   string             `json:"key"`
	Owner *chord.NodeAddress `json:"owner"`
}

// lookupHandler resolves the owner of ?key=<decimal id> or ?name=<object name>.
func (s *Server) lookupHandler(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	resp := lookupResponse{Name: q.Get("name")}
	var key *big.Int
	switch {
	case resp.Name != "":
		key = s.node.Space().Hash(resp.Name)
	case q.Get("key") != "":
		parsed, err := s.node.Space().Parse(q.Get("key"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		key = parsed
	default:
		s.writeError(w, http.StatusBadRequest, errors.New("key or name is required"))
		return
	}
	resp.Key = key.String()

	owner, err := s.node.Lookup(r.Context(), key)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, chord.ErrInvalidArgument) {
			code = http.StatusBadRequest
		}
		s.writeError(w, code, err)
		return
	}
	resp.Owner = owner
	s.writeJSON(w, http.StatusOK, resp)
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}
