package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"nhooyr.io/websocket"

	"mcbridge/internal/domain"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1 << 20
)

// FrameHandler receives the lifecycle and inbound frames of game
// connections. Frames of one connection are delivered sequentially.
type FrameHandler interface {
	Connected(ctx context.Context, connID string)
	HandleFrame(ctx context.Context, connID string, data []byte)
	// Disconnected is called once per connection; current is false when the
	// connection had already been displaced by a newer one.
	Disconnected(ctx context.Context, connID string, current bool)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithEventBus publishes connection events on bus.
func WithEventBus(bus domain.EventBus) ServerOption {
	return func(s *Server) { s.bus = bus }
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithReadLimit caps the size of an inbound message in bytes.
func WithReadLimit(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// WithOriginPatterns allows browser origins matching patterns. Clients that
// send no Origin header are always accepted.
func WithOriginPatterns(patterns []string) ServerOption {
	return func(s *Server) { s.originPatterns = patterns }
}

// WithHTTPMiddleware wraps the plain HTTP routes (not the upgrade path).
func WithHTTPMiddleware(mw func(http.Handler) http.Handler) ServerOption {
	return func(s *Server) { s.httpMiddleware = append(s.httpMiddleware, mw) }
}

// Server accepts the game-process WebSocket and serves the health, status
// and metrics routes on the same port.
type Server struct {
	registry *Registry
	handler  FrameHandler
	bus      domain.EventBus // can be nil
	logger   *slog.Logger
	addr     string

	writeTimeout   time.Duration
	readLimit      int64
	originPatterns []string
	httpMiddleware []func(http.Handler) http.Handler

	httpSrv    *http.Server
	boundAddr  atomic.Value // string
	conns      sync.Map     // connID -> *wsConn
	httpRoutes []httpRoute
	stopOnce   sync.Once
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// NewServer creates a socket server that registers accepted connections in
// registry and feeds their frames to handler.
func NewServer(registry *Registry, handler FrameHandler, addr string, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		registry:     registry,
		handler:      handler,
		logger:       logger,
		addr:         addr,
		writeTimeout: defaultWriteTimeout,
		readLimit:    defaultReadLimit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterHTTPRoute adds an HTTP handler to the server's mux.
// Must be called before Start().
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Start begins accepting connections. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/healthz", healthHandler)
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}
	var routes http.Handler = mux
	for i := len(s.httpMiddleware) - 1; i >= 0; i-- {
		routes = s.httpMiddleware[i](routes)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())

	s.httpSrv = &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Every path without an HTTP route is a socket endpoint.
			if _, pattern := mux.Handler(r); pattern != "" {
				routes.ServeHTTP(w, r)
				return
			}
			s.handleUpgrade(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("gateway started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes every game connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.conns.Range(func(key, value any) bool {
			value.(*wsConn).closeWith(websocket.StatusGoingAway, "server shutting down")
			s.conns.Delete(key)
			return true
		})

		if s.httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err = s.httpSrv.Shutdown(shutdownCtx)
		}
	})
	return err
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(s.readLimit)

	conn := newWSConn(ulid.Make().String(), r.RemoteAddr, ws, s.writeTimeout)
	s.conns.Store(conn.id, conn)

	if prev := s.registry.Set(conn); prev != nil {
		s.logger.Warn("game connection replaced", "old_conn_id", prev.ID(), "conn_id", conn.id)
		s.publish(r.Context(), domain.EventGameReplaced, prev.ID())
		s.drop(prev)
	}
	s.logger.Info("game process connected", "conn_id", conn.id, "remote", conn.remote)

	ctx := r.Context()
	s.handler.Connected(ctx, conn.id)

	s.readLoop(ctx, conn)

	// Cleanup.
	current := s.registry.Clear(conn)
	s.conns.Delete(conn.id)
	conn.closeNow()
	s.logger.Info("game process disconnected", "conn_id", conn.id, "current", current)
	s.handler.Disconnected(context.WithoutCancel(ctx), conn.id, current)
}

func (s *Server) readLoop(ctx context.Context, conn *wsConn) {
	for {
		data, err := conn.readText(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				s.logger.Debug("game connection closed", "conn_id", conn.id)
			default:
				s.logger.Debug("game connection read ended", "conn_id", conn.id, "error", err)
			}
			return
		}
		s.handler.HandleFrame(ctx, conn.id, data)
	}
}

// drop closes a displaced connection. Its read loop then runs the usual
// cleanup.
func (s *Server) drop(conn domain.GameConn) {
	if c, ok := conn.(*wsConn); ok {
		c.closeNow()
		return
	}
	go conn.Close("replaced by a new connection")
}

func (s *Server) publish(ctx context.Context, t domain.EventType, connID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, domain.NewEvent(t, connID))
}
