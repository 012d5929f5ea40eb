package display

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/sketchround/internal/errors"
	"github.com/Iron-Ham/sketchround/internal/event"
	"github.com/Iron-Ham/sketchround/internal/logging"
)

// Controls are the round actions a browser may trigger.
type Controls interface {
	Reset() error
	NotifyInputStarted() error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// pongWait is how long a browser may stay silent before it is dropped. The
// hub pings every client well inside it.
var pongWait = 60 * time.Second

// Server is the browser display.
type Server struct {
	addr     string
	controls Controls
	hub      *Hub
	engine   *gin.Engine
	logger   *logging.Logger
	pongWait time.Duration

	mu       sync.RWMutex
	snapshot Snapshot
	subID    string
	bus      *event.Bus

	// ctx bounds hub registration; set by Start or by tests via Run.
	ctx context.Context
}

// NewServer creates a display server. controls may be nil, in which case the
// control endpoints answer 503.
func NewServer(addr string, controls Controls, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.With("component", "display")

	s := &Server{
		addr:     addr,
		controls: controls,
		hub:      NewHub(logger),
		logger:   logger,
		pongWait: pongWait,
		ctx:      context.Background(),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery())

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.ClientCount()})
	})
	e.GET("/ws", s.handleWebsocket)

	api := e.Group("/api")
	api.GET("/state", s.handleState)
	api.POST("/reset", s.handleReset)
	api.POST("/input", s.handleInput)
	return e
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Attach subscribes the server to every event on bus.
func (s *Server) Attach(bus *event.Bus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bus = bus
	s.subID = bus.SubscribeAll(s.onEvent)
}

// Detach removes the bus subscription.
func (s *Server) Detach() {
	s.mu.Lock()
	bus, id := s.bus, s.subID
	s.bus, s.subID = nil, ""
	s.mu.Unlock()
	if bus != nil {
		bus.Unsubscribe(id)
	}
}

func (s *Server) onEvent(e event.Event) {
	frame, ok := FrameFromEvent(e)
	if !ok {
		return
	}
	s.mu.Lock()
	s.snapshot.Apply(frame)
	s.mu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Warn("failed to encode frame", "type", frame.Type, "error", err.Error())
		return
	}
	if !s.hub.Broadcast(data) {
		s.logger.Debug("display queue full, frame dropped", "type", frame.Type)
	}
}

// Snapshot returns the accumulated round view.
func (s *Server) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Run starts the hub and blocks until ctx is done. Start calls it; tests
// that serve Handler themselves call it directly.
func (s *Server) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.hub.Run(ctx)
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("display server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "display server failed")
	}
	return nil
}

func (s *Server) hubContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.Snapshot())
}

func (s *Server) handleReset(c *gin.Context) {
	if s.controls == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "controls unavailable"})
		return
	}
	if err := s.controls.Reset(); err != nil {
		s.logger.Warn("reset failed", "error", err.Error())
		c.JSON(http.StatusConflict, gin.H{"error": "Failed to reset round", "message": errors.UserMessage(err, "reset failed")})
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (s *Server) handleInput(c *gin.Context) {
	if s.controls == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "controls unavailable"})
		return
	}
	if err := s.controls.NotifyInputStarted(); err != nil {
		s.logger.Debug("input signal rejected", "error", err.Error())
		c.JSON(http.StatusConflict, gin.H{"error": "Failed to record input", "message": errors.UserMessage(err, "input not recorded")})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	// The current view goes out before the connection joins the hub, so no
	// other writer can race with it.
	snap := s.Snapshot()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(gin.H{"type": "snapshot", "snapshot": snap}); err != nil {
		_ = conn.Close()
		return
	}

	ctx := s.hubContext()
	if !s.hub.Register(ctx, conn) {
		_ = conn.Close()
		return
	}
	defer s.hub.Unregister(ctx, conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
