// Package dashboard serves a local status endpoint plus a WebSocket stream
// of sync activity.
//
// Connected clients receive every event published on the bus (online/offline
// transitions, cycle lifecycle, conflicts, queue activity) as JSON frames.
// The /status endpoint reports the same snapshot the CLI status command
// renders.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tanghoong/browser-extension-inkshelf/internal/engine"
	"github.com/tanghoong/browser-extension-inkshelf/internal/events"
)

// StatusSource provides the point-in-time sync snapshot.
// *engine.Engine satisfies this.
type StatusSource interface {
	CurrentStatus(ctx context.Context) (*engine.Status, error)
}

// Frame is one WebSocket message sent to clients.
type Frame struct {
	Type      events.Type `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	DocID     string      `json:"docId,omitempty"`
	Error     string      `json:"error,omitempty"`
	Applied   int         `json:"applied,omitempty"`
	Received  int         `json:"received,omitempty"`
	Conflicts int         `json:"conflicts,omitempty"`
	LoggedIn  bool        `json:"loggedIn,omitempty"`
}

// Config holds dashboard configuration.
type Config struct {
	// Port to listen on (default: 7788). Zero picks a random free port.
	Port int

	// Logger for server activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   7788,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// Server fans bus events out to WebSocket clients and answers status
// queries.
type Server struct {
	addr     string
	status   StatusSource
	bus      *events.Bus
	logger   *log.Logger
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a dashboard server over the given status source and bus.
func NewServer(status StatusSource, bus *events.Bus, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    fmt.Sprintf("127.0.0.1:%d", config.Port),
		status:  status,
		bus:     bus,
		logger:  config.Logger,
		clients: make(map[*websocket.Conn]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins listening and subscribes to the event bus.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if s.bus != nil {
		sub := s.bus.Subscribe()
		s.wg.Add(1)
		go s.relayLoop(sub)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("dashboard listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("server error: %v", err)
		}
	}()

	return nil
}

// Stop closes client connections and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down dashboard: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// relayLoop converts bus events into frames and fans them out.
func (s *Server) relayLoop(sub *events.Subscription) {
	defer s.wg.Done()
	defer sub.Cancel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.fanOut(frameFrom(ev))
		}
	}
}

func frameFrom(ev events.Event) Frame {
	f := Frame{
		Type:      ev.Type,
		Timestamp: time.Now(),
		DocID:     ev.DocID,
		Applied:   ev.Applied,
		Received:  ev.Received,
		Conflicts: ev.Conflicts,
		LoggedIn:  ev.LoggedIn,
	}
	if ev.Err != nil {
		f.Error = ev.Err.Error()
	}
	return f
}

func (s *Server) fanOut(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		s.logger.Printf("failed to marshal frame: %v", err)
		return
	}

	s.clientsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.clientsMu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.removeClient(conn)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	total := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("client connected (total: %d)", total)

	go s.readLoop(conn)
}

// readLoop discards client frames; its only job is detecting disconnects.
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
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	total := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("client disconnected (total: %d)", total)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.status.CurrentStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>InkShelf</title>
</head>
<body>
    <h1>InkShelf Sync Dashboard</h1>
    <p>WebSocket event stream: <code>ws://%s/ws</code></p>
    <p>Status snapshot: <a href="/status">/status</a></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}
