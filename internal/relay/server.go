// Package relay is a reference sync server.
//
// It holds each user's authoritative records in memory, assigns the order of
// versions by accepting only pushes above the stored version, and fans out
// accepted records and device-list changes over WebSocket channels to the
// user's other devices.
//
// Routes:
//
//	POST /sync          batch push
//	GET  /sync/initial  full state and device list
//	GET  /ws            push channel
//	GET  /health        liveness and connection count
//	GET  /metrics       prometheus metrics
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lifesync/lifesync/internal/metrics"
	"github.com/lifesync/lifesync/internal/record"
	"github.com/lifesync/lifesync/internal/transport"
)

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: ":8080")
	Addr string

	// WriteTimeout bounds each channel write (default: 5s)
	WriteTimeout time.Duration

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		WriteTimeout: 5 * time.Second,
		Logger:       log.New(os.Stderr, "[relay] ", log.LstdFlags),
	}
}

// client is one open device channel.
type client struct {
	conn     *websocket.Conn
	userID   string
	deviceID string
	platform record.Platform
}

// envelope is a message addressed to one user's devices.
type envelope struct {
	userID string
	except string
	msg    transport.Message
}

// Server is the relay. Create it with NewServer, then Listen and Run.
type Server struct {
	config *Config
	store  *Store
	logger *log.Logger

	listener net.Listener
	server   *http.Server

	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	broadcast chan envelope

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a relay backed by an empty store.
func NewServer(config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    config,
		store:     NewStore(),
		logger:    config.Logger,
		clients:   make(map[*client]struct{}),
		broadcast: make(chan envelope, 256),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Store returns the server's record store.
func (s *Server) Store() *Store {
	return s.store
}

// Handler returns the relay's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.instrument("push", s.handlePush))
	mux.HandleFunc("/sync/initial", s.instrument("initial", s.handleInitial))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Listen binds the listening socket. Run calls it if needed.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.broadcastLoop(gctx)
		return nil
	})

	g.Go(func() error {
		s.logger.Printf("Relay listening on %s", s.Addr())
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	s.logger.Println("Stopping relay")
	s.cancel()

	s.clientsMu.Lock()
	for c := range s.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, c)
		metrics.Relay.Disconnected()
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Println("Relay stopped")
	return nil
}

// ClientCount returns the number of open channels.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast queues msg for every channel of userID except device except.
func (s *Server) Broadcast(userID, except string, msg transport.Message) {
	select {
	case s.broadcast <- envelope{userID: userID, except: except, msg: msg}:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.broadcast:
			data, err := json.Marshal(env.msg)
			if err != nil {
				s.logger.Printf("Failed to marshal %s message: %v", env.msg.Type, err)
				continue
			}

			s.clientsMu.RLock()
			targets := make([]*client, 0, len(s.clients))
			for c := range s.clients {
				if c.userID == env.userID && c.deviceID != env.except {
					targets = append(targets, c)
				}
			}
			s.clientsMu.RUnlock()

			for _, c := range targets {
				wctx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
				err := c.conn.Write(wctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Printf("Failed to send to %s: %v", c.deviceID, err)
					s.removeClient(c)
				}
			}
		}
	}
}

// identity reads the caller from headers, falling back to query parameters
// for browser channels.
func identity(r *http.Request) transport.Identity {
	q := r.URL.Query()
	pick := func(header, param string) string {
		if v := r.Header.Get(header); v != "" {
			return v
		}
		return q.Get(param)
	}
	return transport.Identity{
		UserID:   pick(transport.HeaderUserID, "userId"),
		DeviceID: pick(transport.HeaderDeviceID, "deviceId"),
		Platform: record.Platform(pick(transport.HeaderPlatform, "platform")),
	}
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := identity(r)
	if id.UserID == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}

	var req transport.PushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Items) > transport.MaxBatch {
		http.Error(w, "batch too large", http.StatusRequestEntityTooLarge)
		return
	}
	for _, it := range req.Items {
		if err := it.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	res := s.store.Push(id.UserID, req.Items)
	for outcome, n := range res.Outcomes(len(req.Items)) {
		for i := 0; i < n; i++ {
			metrics.Relay.Record(outcome)
		}
	}
	s.store.Touch(id.UserID, id.DeviceID, id.Platform, record.DeviceSynced)

	if len(res.Accepted) > 0 {
		s.Broadcast(id.UserID, id.DeviceID, transport.Message{Type: transport.MessageSync, Items: res.Accepted})
	}
	writeJSON(w, transport.PushResponse{Items: res.Newer})
}

func (s *Server) handleInitial(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := identity(r)
	if id.UserID == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}
	s.store.Touch(id.UserID, id.DeviceID, id.Platform, record.DeviceSynced)
	writeJSON(w, transport.InitialResponse{
		Items:   s.store.Records(id.UserID),
		Devices: s.store.Devices(id.UserID),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if id.UserID == "" || id.DeviceID == "" {
		http.Error(w, "missing user or device id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, userID: id.UserID, deviceID: id.DeviceID, platform: id.Platform}
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.clientsMu.Unlock()
	metrics.Relay.Connected()

	s.logger.Printf("Device %s/%s connected (total: %d)", id.UserID, id.DeviceID, count)
	s.store.Touch(id.UserID, id.DeviceID, id.Platform, record.DeviceSynced)
	s.announceDevices(id.UserID)

	// Devices only listen; reading keeps the connection alive and notices
	// when it drops.
	defer s.removeClient(c)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, c)
	count := len(s.clients)
	s.clientsMu.Unlock()
	metrics.Relay.Disconnected()

	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Device %s/%s disconnected (total: %d)", c.userID, c.deviceID, count)
	s.store.Touch(c.userID, c.deviceID, c.platform, record.DevicePending)
	s.announceDevices(c.userID)
}

// announceDevices sends the full device list to all of a user's channels.
func (s *Server) announceDevices(userID string) {
	s.Broadcast(userID, "", transport.Message{
		Type:    transport.MessageDeviceUpdate,
		Devices: s.store.Devices(userID),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		metrics.Relay.Request(route, rec.code)
	}
}
