// Package dashboard serves a small status page for the front desk: backend
// health over HTTP and a WebSocket stream of connection state changes.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/frontdesk-ops/frontdesk/internal/clock"
	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSnapshot carries the state of every backend. It is sent
	// to each client on connect.
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeStateChange indicates one backend changed status
	MessageTypeStateChange MessageType = "state_change"

	// MessageTypeSyncSweep indicates a cloud sync sweep finished
	MessageTypeSyncSweep MessageType = "sync_sweep"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SnapshotData is the payload of a snapshot message and of GET /health.
type SnapshotData struct {
	Backends    []types.ConnectionState `json:"backends"`
	LastChecked *time.Time              `json:"last_checked,omitempty"`
	Sync        map[string]int          `json:"sync,omitempty"`
	Clients     int                     `json:"clients"`
}

// StatusSource reports backend health. *health.Monitor implements it.
type StatusSource interface {
	Snapshot() []types.ConnectionState
	LastChecked() time.Time
}

// MemberSearcher answers member searches. *identity.Resolver implements it.
type MemberSearcher interface {
	Search(ctx context.Context, term string, localOnly bool) ([]*types.Member, error)
}

// SyncCounter reports ledger totals. cloudsync.Tracker implements it.
type SyncCounter interface {
	Counts(ctx context.Context) (map[types.SyncStatus]int, error)
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: all interfaces)
	Host string

	// Port to listen on (0 picks a free port)
	Port int

	Status  StatusSource
	Members MemberSearcher
	Sync    SyncCounter

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	router   chi.Router

	status  StatusSource
	members MemberSearcher
	sync    SyncCounter
	clock   clock.Clock

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger *slog.Logger
}

// NewServer creates a dashboard server. Status is required.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Status == nil {
		return nil, fmt.Errorf("dashboard requires a status source")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:      net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		status:    cfg.Status,
		members:   cfg.Members,
		sync:      cfg.Sync,
		clock:     cfg.Clock,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logging.Component(cfg.Logger, "dashboard"),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/members/search", s.handleMemberSearch)
	return r
}

// Handler returns the HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins the HTTP server and the broadcast loop
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dashboard server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server. It is safe to call more than once.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()

		s.clientsMu.Lock()
		for conn := range s.clients {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			delete(s.clients, conn)
		}
		s.clientsMu.Unlock()

		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
				err = fmt.Errorf("server shutdown error: %w", shutdownErr)
			}
		}
		s.wg.Wait()
		s.logger.Info("dashboard stopped")
	})
	return err
}

// Broadcast queues msg for every connected client. It never blocks; when
// the queue is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast channel full, dropping message", "type", msg.Type)
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = s.clock.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("failed to marshal message", "error", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Debug("failed to send to client", "error", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info("client connected", "clients", clientCount)

	welcome, err := s.snapshotMessage(r.Context())
	if err == nil {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, welcome)
		cancel()
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection open until the client goes away. Client
// messages are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("client disconnected", "clients", clientCount)
}

func (s *Server) snapshot(ctx context.Context) SnapshotData {
	data := SnapshotData{
		Backends: s.status.Snapshot(),
		Clients:  s.ClientCount(),
	}
	if last := s.status.LastChecked(); !last.IsZero() {
		data.LastChecked = &last
	}
	if s.sync != nil {
		counts, err := s.sync.Counts(ctx)
		if err != nil {
			s.logger.Warn("failed to read sync counts", "error", err)
		} else {
			data.Sync = make(map[string]int, len(counts))
			for status, n := range counts {
				data.Sync[string(status)] = n
			}
		}
	}
	return data
}

func (s *Server) snapshotMessage(ctx context.Context) ([]byte, error) {
	payload, err := json.Marshal(s.snapshot(ctx))
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: MessageTypeSnapshot, Timestamp: s.clock.Now(), Data: payload})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot(r.Context()))
}

func (s *Server) handleMemberSearch(w http.ResponseWriter, r *http.Request) {
	if s.members == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "member search is not configured"})
		return
	}
	term := r.URL.Query().Get("q")
	if term == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing query parameter q"})
		return
	}
	localOnly := r.URL.Query().Get("local") == "true"

	found, err := s.members.Search(r.Context(), term, localOnly)
	if err != nil {
		status := http.StatusInternalServerError
		if types.IsRetryable(err) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	if found == nil {
		found = []*types.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": found})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Front Desk Status</title>
</head>
<body>
    <h1>Front Desk Status</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Backend health: <a href="/health">/health</a></p>
    <p>Member search: <code>/members/search?q=hopper</code></p>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
