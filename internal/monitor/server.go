// Package monitor serves live engine frames and bus events over a websocket
// and accepts training commands from connected clients.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexviseme/internal/bus"
	"github.com/normanking/cortexviseme/internal/lipsync"
	"github.com/normanking/cortexviseme/internal/logging"
	"github.com/normanking/cortexviseme/internal/viseme"
)

const (
	// WebSocketEndpoint is the path for websocket connections.
	WebSocketEndpoint = "/ws"

	// FrameEndpoint returns one frame as JSON.
	FrameEndpoint = "/frame"

	// LogsEndpoint returns recent log entries as JSON.
	LogsEndpoint = "/logs"

	// HealthEndpoint is the path for health checks.
	HealthEndpoint = "/healthz"

	// WriteWait is the timeout for writing to a websocket.
	WriteWait = 10 * time.Second

	// PongWait is the timeout for pong responses.
	PongWait = 60 * time.Second

	// PingPeriod is how often to send ping frames.
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is the largest command accepted from a client.
	MaxMessageSize = 512

	sendBuffer = 64

	defaultLogLimit = 100
)

// Message types sent to clients.
const (
	TypeFrame  = "frame"
	TypeEvent  = "event"
	TypeResult = "result"
	TypeLog    = "log"
)

// Engine is the part of lipsync.Engine the monitor drives.
type Engine interface {
	Poll() lipsync.Frame
	Snapshot() lipsync.Frame
	SetTrainingSlot(slot int) error
	ClearSlot(slot int) error
	Save(path string) error
	Load(path string) error
}

// Config configures the monitor.
type Config struct {
	Addr     string
	Interval time.Duration
}

// Command is a client request. Save and load always use the engine's
// configured model path.
type Command struct {
	Cmd  string `json:"cmd"`
	Slot *int   `json:"slot,omitempty"`
	Name string `json:"name,omitempty"` // Slot by name, e.g. "OU"
}

// Result answers a Command.
type Result struct {
	Cmd   string `json:"cmd"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Message is the envelope of everything sent to clients.
type Message struct {
	Type   string            `json:"type"`
	Frame  *lipsync.Frame    `json:"frame,omitempty"`
	Event  *bus.Event        `json:"event,omitempty"`
	Result *Result           `json:"result,omitempty"`
	Log    *logging.LogEntry `json:"log,omitempty"`
}

// LogSource is the part of logging.Logger the monitor serves.
type LogSource interface {
	GetHistory(limit int) []logging.LogEntry
	SetOnLog(fn func(logging.LogEntry))
}

var (
	errUnknownCommand = errors.New("unknown command")
	errMissingSlot    = errors.New("missing slot")
)

// Server is the websocket monitor.
type Server struct {
	cfg      Config
	engine   Engine
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	logsMu sync.RWMutex
	logs   LogSource

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
	closed    bool

	wg sync.WaitGroup
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// New creates a monitor for engine. When eventBus is non-nil every event is
// forwarded to clients.
func New(cfg Config, engine Engine, eventBus *bus.EventBus, logger zerolog.Logger) *Server {
	if cfg.Interval <= 0 {
		cfg.Interval = 16 * time.Millisecond
	}

	s := &Server{
		cfg:    cfg,
		engine: engine,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The monitor binds to loopback by default
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}

	if eventBus != nil {
		eventBus.SubscribeAll(s.handleBusEvent)
	}
	return s
}

// Handler returns the HTTP routes of the monitor.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketEndpoint, s.handleWebSocket)
	mux.HandleFunc(FrameEndpoint, s.handleFrame)
	mux.HandleFunc(LogsEndpoint, s.handleLogs)
	mux.HandleFunc(HealthEndpoint, s.handleHealth)
	return mux
}

// ServeLogs exposes the history of src on LogsEndpoint and streams new
// entries to clients as log messages.
func (s *Server) ServeLogs(src LogSource) {
	s.logsMu.Lock()
	s.logs = src
	s.logsMu.Unlock()
	src.SetOnLog(s.handleLogEntry)
}

// ListenAndServe serves the monitor and broadcasts frames until ctx is done.
// ready, when non-nil, receives the bound address once listening.
func (s *Server) ListenAndServe(ctx context.Context, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{Handler: s.Handler()}
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Monitor listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if ready != nil {
		ready <- ln.Addr()
	}

	broadcastDone := make(chan struct{})
	bctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(broadcastDone)
		s.RunBroadcast(bctx)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	cancel()
	<-broadcastDone

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = fmt.Errorf("server shutdown error: %w", shutdownErr)
	}

	s.closeClients()
	s.wg.Wait()
	s.logger.Info().Msg("Monitor stopped")
	return err
}

// RunBroadcast polls the engine every interval and sends the frame to all
// clients until ctx is done. It is the engine's UI goroutine.
func (s *Server) RunBroadcast(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := s.engine.Poll()
			s.broadcast(Message{Type: TypeFrame, Frame: &frame})
		}
	}
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal message")
		return
	}
	s.send(data)
}

func (s *Server) send(data []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// slow client: frames are periodic, drop this one
		}
	}
}

func (s *Server) handleBusEvent(event bus.Event) {
	s.broadcast(Message{Type: TypeEvent, Event: &event})
}

// handleLogEntry runs inside the logger and must not log.
func (s *Server) handleLogEntry(entry logging.LogEntry) {
	data, err := json.Marshal(Message{Type: TypeLog, Log: &entry})
	if err != nil {
		return
	}
	s.send(data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	s.clientsMu.Lock()
	if s.closed {
		s.clientsMu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.wg.Add(2)
	s.clientsMu.Unlock()
	s.logger.Debug().Int("clients", n).Msg("Client connected")

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) unregister(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.clientsMu.Unlock()
	c.close()
	s.logger.Debug().Int("clients", n).Msg("Client disconnected")
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[*client]struct{})
	s.closed = true
	s.clientsMu.Unlock()

	// Shutdown does not track hijacked connections
	for c := range clients {
		c.close()
	}
}

func (s *Server) writePump(c *client) {
	defer s.wg.Done()

	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.unregister(c)
				return
			}
		}
	}
}

func (s *Server) readPump(c *client) {
	defer s.wg.Done()
	defer s.unregister(c)

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}

		var cmd Command
		result := Result{}
		if err := json.Unmarshal(data, &cmd); err != nil {
			result.Error = fmt.Sprintf("invalid command: %v", err)
		} else {
			result.Cmd = cmd.Cmd
			if err := s.execute(cmd); err != nil {
				result.Error = err.Error()
			} else {
				result.OK = true
			}
		}

		reply, err := json.Marshal(Message{Type: TypeResult, Result: &result})
		if err != nil {
			continue
		}
		select {
		case c.send <- reply:
		case <-c.done:
			return
		}
	}
}

func (cmd Command) slot() (int, error) {
	if cmd.Name != "" {
		slot, ok := viseme.ParseSlot(cmd.Name)
		if !ok {
			return viseme.NoSlot, fmt.Errorf("unknown slot name %q", cmd.Name)
		}
		return slot, nil
	}
	if cmd.Slot == nil {
		return viseme.NoSlot, errMissingSlot
	}
	return *cmd.Slot, nil
}

func (s *Server) execute(cmd Command) error {
	s.logger.Debug().Str("cmd", cmd.Cmd).Msg("Command received")

	switch cmd.Cmd {
	case "train":
		slot, err := cmd.slot()
		if err != nil {
			return err
		}
		return s.engine.SetTrainingSlot(slot)
	case "stop":
		return s.engine.SetTrainingSlot(viseme.NoSlot)
	case "clear":
		slot, err := cmd.slot()
		if err != nil {
			return err
		}
		return s.engine.ClearSlot(slot)
	case "save":
		return s.engine.Save("")
	case "load":
		return s.engine.Load("")
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, cmd.Cmd)
	}
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame := s.engine.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(frame)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries := []logging.LogEntry{}
	s.logsMu.RLock()
	if s.logs != nil {
		entries = s.logs.GetHistory(limit)
	}
	s.logsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := struct {
		Status  string `json:"status"`
		Service string `json:"service"`
		Clients int    `json:"clients"`
	}{
		Status:  "ok",
		Service: "cortexviseme-monitor",
		Clients: s.ClientCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
