package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"
	"talkmix/internal/infrastructure/middleware"
	apperrors "talkmix/pkg/errors"
	"talkmix/pkg/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type ServerConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	CommandTimeout time.Duration
	MaxMessageSize int64
	// MaxConnections caps concurrent clients; 0 means unlimited.
	MaxConnections int
	// MessagesPerSecond throttles commands per client; 0 disables throttling.
	MessagesPerSecond float64
	Burst             int
	SendBuffer        int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		CommandTimeout: 15 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     64,
	}
}

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// CommandServer is the asynchronous control channel: clients send JSON
// commands over a websocket and receive results plus live session events.
type CommandServer struct {
	control ports.ControlService
	cfg     ServerConfig
	limiter *middleware.KeyedLimiter
	logger  *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

func NewCommandServer(control ports.ControlService, cfg ServerConfig, logger *zap.SugaredLogger) *CommandServer {
	defaults := DefaultServerConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaults.CommandTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}

	s := &CommandServer{
		control: control,
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*client),
	}
	if cfg.MessagesPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = middleware.NewKeyedLimiter(cfg.MessagesPerSecond, burst)
	}
	return s
}

func (s *CommandServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("client_id")
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.RLock()
	closed, count := s.closed, len(s.clients)
	_, taken := s.clients[id]
	s.mu.RUnlock()
	if closed {
		http.Error(w, "command server closed", http.StatusServiceUnavailable)
		return
	}
	if taken {
		http.Error(w, "client_id already connected", http.StatusConflict)
		return
	}
	if s.cfg.MaxConnections > 0 && count >= s.cfg.MaxConnections {
		http.Error(w, "too many control connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   id,
		conn: conn,
		send: make(chan Message, s.cfg.SendBuffer),
		done: make(chan struct{}),
	}

	// A concurrent dial may have registered the id during the upgrade.
	s.mu.Lock()
	if _, ok := s.clients[id]; ok {
		s.mu.Unlock()
		s.logger.Warnw("rejecting duplicate control connection", "client_id", id)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "client_id already connected"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	s.clients[id] = c
	s.mu.Unlock()

	s.logger.Infow("control client connected", "client_id", id, "remote", r.RemoteAddr)

	go s.writePump(c)
	s.readPump(c)

	s.mu.Lock()
	if s.clients[id] == c {
		delete(s.clients, id)
		if s.limiter != nil {
			s.limiter.Forget(id)
		}
	}
	s.mu.Unlock()
	c.close()
	s.logger.Infow("control client disconnected", "client_id", id)
}

func (s *CommandServer) readPump(c *client) {
	if s.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("control connection read failed", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
			s.deliver(c, errorMessage(cmd, apperrors.NewInvalidInputError("malformed command")))
			continue
		}
		if s.limiter != nil && !s.limiter.Allow(c.id) {
			s.deliver(c, errorMessage(cmd, apperrors.NewRateLimitError()))
			continue
		}
		s.deliver(c, s.execute(c.id, cmd))
	}
}

func (s *CommandServer) execute(clientID string, cmd Command) Message {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CommandTimeout)
	defer cancel()
	ctx, span := tracing.TraceCommand(ctx, cmd.Type, clientID)
	defer span.End()

	start := time.Now()
	reply := Execute(ctx, s.control, cmd)
	tracing.MeasureDuration(ctx, start)

	if reply.Error != nil {
		s.logger.Debugw("command rejected", "client_id", clientID, "command", cmd.Type, "code", reply.Error.Code, "message", reply.Error.Message)
	} else {
		s.logger.Debugw("command applied", "client_id", clientID, "command", cmd.Type, "took", time.Since(start))
	}
	return reply
}

// deliver queues a reply, waiting for room unless the client is gone.
func (s *CommandServer) deliver(c *client, msg Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (s *CommandServer) writePump(c *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				s.logger.Infow("control write failed", "client_id", c.id, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close()
				return
			}
		case <-c.done:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

// Publish pushes a session event to every connected client. Clients whose
// buffer is full miss the event.
func (s *CommandServer) Publish(_ context.Context, event *domain.Event) error {
	msg := Message{Type: MessageEvent, Event: event}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.logger.Warnw("control client too slow, dropping event", "client_id", id, "type", event.Type)
		}
	}
	return nil
}

// Clients lists connected client ids.
func (s *CommandServer) Clients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

// Close disconnects every client and refuses new ones.
func (s *CommandServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, c := range s.clients {
		c.close()
	}
	return nil
}

var _ ports.EventPublisher = (*CommandServer)(nil)
