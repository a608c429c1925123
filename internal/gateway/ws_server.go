package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/eleven-am/see-server/internal/roles"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandlerFunc handles one client event. It runs on the connection's read
// goroutine and must not block for long.
type HandlerFunc func(conn *Conn, msg *Message)

// Resolver completes outstanding server requests when a client acknowledges
// them.
type Resolver interface {
	Resolve(fromID, callID string, result json.RawMessage) bool
}

type Config struct {
	UseTURN bool
}

type Server struct {
	registry *roles.Registry
	resolver Resolver
	cfg      Config
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	conns    map[string]*Conn
}

func NewServer(registry *roles.Registry, resolver Resolver, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: registry,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With("component", "ws_server"),
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[string]*Conn),
	}
}

// Handle registers fn for event. Registering an event twice replaces the
// earlier handler.
func (s *Server) Handle(event string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = fn
}

func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.HandleConnection)
}

func (s *Server) HandleConnection(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	conn := NewConn(ws, s.logger)
	s.track(conn)
	s.logger.Info("client connected", "conn_id", conn.ID(), "remote", c.RealIP())

	_ = conn.Emit(EventConnected, ConnectedPayload{ID: conn.ID()})
	_ = conn.Emit(EventUseTurnServers, s.cfg.UseTURN)

	ctx := c.Request().Context()
	go conn.writePump(ctx)
	conn.readPump(ctx, func(msg *Message) {
		s.dispatch(conn, msg)
	})

	s.untrack(conn)
	released := s.registry.Disconnect(conn)
	s.logger.Info("client disconnected", "conn_id", conn.ID(), "released", released)
	return nil
}

func (s *Server) dispatch(conn *Conn, msg *Message) {
	if role, ok := roleEvents[msg.Event]; ok {
		s.assignRole(conn, msg, role)
		return
	}

	if msg.Event == EventAck {
		if s.resolver != nil && msg.ID != "" {
			s.resolver.Resolve(conn.ID(), msg.ID, msg.Data)
		}
		return
	}

	s.mu.RLock()
	fn, ok := s.handlers[msg.Event]
	s.mu.RUnlock()

	if !ok {
		s.logger.Debug("no handler for event", "event", msg.Event, "conn_id", conn.ID())
		_ = conn.Emit(EventError, ErrorPayload{Event: msg.Event, Message: "unknown event"})
		return
	}
	fn(conn, msg)
}

func (s *Server) assignRole(conn *Conn, msg *Message, role roles.Role) {
	if _, err := s.registry.Assign(conn, role); err != nil {
		s.logger.Error("role assignment failed", "role", role, "error", err)
		return
	}
	_ = conn.Ack(msg.ID, map[string]string{"role": role.String(), "id": conn.ID()})
}

func (s *Server) track(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn.ID()] = conn
}

func (s *Server) untrack(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn.ID())
}

func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Shutdown closes every open connection.
func (s *Server) Shutdown() {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
