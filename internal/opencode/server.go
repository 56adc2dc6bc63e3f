package opencode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/schmitthub/ralph/internal/hostloop"
	"github.com/schmitthub/ralph/internal/state"
)

// DefaultListenAddr is the default control endpoint address.
const DefaultListenAddr = "127.0.0.1:4097"

// maxRequestBodySize limits request body size.
const maxRequestBodySize = 1 << 20 // 1MB

// Server is the local control endpoint: it lets tools and scripts invoke the
// registered operations and send user messages through the transforms.
type Server struct {
	host     *Host
	addr     string
	listener net.Listener
	server   *http.Server
	mu       sync.Mutex
	running  bool
}

// NewServer creates a control server for host on addr.
func NewServer(host *Host, addr string) *Server {
	if addr == "" {
		addr = DefaultListenAddr
	}
	return &Server{host: host, addr: addr}
}

// Handler returns the control endpoint's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ops", s.handleListOps)
	mux.HandleFunc("POST /ops/{name}", s.handleInvoke)
	mux.HandleFunc("POST /message", s.handleMessage)
	return mux
}

// Start starts serving in a goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	s.running = true

	log := s.host.Logger()
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			log.Error().Err(err).Msg("control server error")
		}
	}()

	log.Info().Str("addr", listener.Addr().String()).Msg("control server started")
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running || s.server == nil {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	server := s.server
	s.mu.Unlock()

	return server.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Upstream string `json:"upstream"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Upstream: s.host.BaseURL()})
}

func (s *Server) handleListOps(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.host.Operations())
}

// invokeRequest is the JSON request body for POST /ops/{name}.
type invokeRequest struct {
	SessionID string         `json:"sessionID"`
	Args      map[string]any `json:"args"`
}

type invokeResponse struct {
	Output string `json:"output"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req invokeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
			return
		}
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	name := r.PathValue("name")
	out, err := s.host.Invoke(r.Context(), name, hostloop.OperationCall{SessionID: req.SessionID, Args: req.Args})
	if err != nil {
		s.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, invokeResponse{Output: out})
}

// messageRequest is the JSON request body for POST /message.
type messageRequest struct {
	SessionID string `json:"sessionID"`
	Text      string `json:"text"`
	Model     string `json:"model"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.Text) == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sessionID and text are required"})
		return
	}

	if err := s.host.Prompt(r.Context(), req.SessionID, req.Text, req.Model); err != nil {
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownOperation):
		return http.StatusNotFound
	case errors.Is(err, hostloop.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrAlreadyActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.host.Logger().Error().Err(err).Msg("failed to encode JSON response")
	}
}
