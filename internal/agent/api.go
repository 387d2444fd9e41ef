package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// StatusFunc reports the attached manager's current status for the
// /status endpoint.
type StatusFunc func() any

// Server exposes the agent over a local HTTP endpoint and runs the
// agent's own periodic check loop, so evaluation continues even when
// no interactive process is around.
type Server struct {
	relay  *Relay
	status StatusFunc
	logger *slog.Logger
	server *http.Server

	checkInterval time.Duration

	mu       sync.Mutex
	listener net.Listener
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCheckInterval sets the cadence of the agent's own check loop.
// Zero disables it.
func WithCheckInterval(d time.Duration) ServerOption {
	return func(s *Server) { s.checkInterval = d }
}

const defaultAgentCheckInterval = time.Minute

// NewServer builds an agent server bound to addr.
func NewServer(addr string, relay *Relay, status StatusFunc, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		relay:         relay,
		status:        status,
		logger:        logger,
		checkInterval: defaultAgentCheckInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /message", s.handleMessage)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withLogging(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listener and begins serving and checking. It returns
// once the listener is bound; serving continues in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.started = time.Now()
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	s.logger.Info("agent endpoint listening", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("agent endpoint failed", "error", err)
		}
	}()

	if s.checkInterval > 0 {
		go s.checkLoop(ctx, stopCh, doneCh)
	} else {
		close(doneCh)
	}
	return nil
}

// Addr returns the bound address, useful when Addr was ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the check loop and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		doneCh := s.doneCh
		s.stopCh = nil
		s.mu.Unlock()
		<-doneCh
	} else {
		s.mu.Unlock()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) checkLoop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.relay.Deliver(ctx, NewMessage(MsgCheckRequest))
		}
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime,omitempty"`
	Pending   int       `json:"pending_messages"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Pending:   s.relay.Pending(),
	}
	if !started.IsZero() {
		resp.Uptime = time.Since(started).Round(time.Second).String()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status())
}

// MessageRequest is the /message request body.
type MessageRequest struct {
	Type string `json:"type"`
}

// MessageResponse is the /message response body.
type MessageResponse struct {
	Status    string `json:"status"`
	ID        string `json:"id"`
	Delivered bool   `json:"delivered"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	mt, err := ParseMsgType(req.Type)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg := NewMessage(mt)
	delivered := s.relay.Deliver(r.Context(), msg)

	s.logger.Info("agent message received",
		"type", req.Type,
		"msg_id", msg.ID,
		"delivered", delivered)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(MessageResponse{
		Status:    "ok",
		ID:        msg.ID,
		Delivered: delivered,
	})
}
