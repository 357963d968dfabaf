// Package display streams pitch estimates to websocket clients.
//
// A [Server] drains the estimate queue on a fixed tick without blocking, the
// way a GUI timer would poll it, and fans each estimate out to every connected
// client as a JSON object:
//
//	{"hz":110.02,"rms":0.031,"at":"2026-01-02T15:04:05.123Z"}
//
// Each client has its own small send queue. A client that cannot keep up
// loses estimates; it never slows the drain or the other clients.
package display

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/tunetrack/internal/observe"
	"github.com/MrWong99/tunetrack/pkg/pitch"
)

const (
	// DefaultPushInterval is how often the source is drained.
	DefaultPushInterval = 50 * time.Millisecond

	// DefaultClientBuffer is the per-client send queue length.
	DefaultClientBuffer = 16

	writeTimeout = 5 * time.Second
)

// Source yields queued estimates without blocking. [queue.Bounded] is the
// production implementation.
//
// [queue.Bounded]: github.com/MrWong99/tunetrack/pkg/queue.Bounded
type Source interface {
	Drain(dst []pitch.Estimate) []pitch.Estimate
}

// Option configures a [Server].
type Option func(*Server)

// WithPushInterval overrides [DefaultPushInterval].
func WithPushInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClientBuffer overrides [DefaultClientBuffer].
func WithClientBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.clientBuffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin browser clients whose Origin host
// matches one of patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithMetrics records client and drop metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

type client struct {
	id   string
	send chan pitch.Estimate
}

// Server is an [http.Handler] that upgrades requests to websocket streams of
// estimates. Call [Server.Run] to start draining the source.
type Server struct {
	src          Source
	interval     time.Duration
	clientBuffer int
	origins      []string
	metrics      *observe.Metrics

	mu      sync.Mutex
	clients map[string]*client
	closed  bool

	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a Server reading from src.
func New(src Source, opts ...Option) *Server {
	s := &Server{
		src:          src,
		interval:     DefaultPushInterval,
		clientBuffer: DefaultClientBuffer,
		metrics:      observe.DefaultMetrics(),
		clients:      make(map[string]*client),
		closing:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run drains the source every push interval and broadcasts what it finds
// until ctx is cancelled. On return every client connection is closed with
// StatusGoingAway and new connections are refused.
func (s *Server) Run(ctx context.Context) error {
	defer s.shutdown()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var batch []pitch.Estimate
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		batch = s.src.Drain(batch[:0])
		for _, est := range batch {
			s.broadcast(ctx, est)
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		observe.Logger(r.Context()).Warn("display: websocket accept failed", "err", err)
		return
	}

	c := &client{id: uuid.NewString(), send: make(chan pitch.Estimate, s.clientBuffer)}
	ctx, span := observe.StartSpan(r.Context(), "display.client",
		trace.WithAttributes(attribute.String("display.client_id", c.id)))
	defer span.End()

	if !s.add(ctx, c) {
		span.SetAttributes(attribute.Bool("display.refused", true))
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.remove(ctx, c)

	log := observe.Logger(ctx).With("client_id", c.id)
	log.Info("display client connected", "remote_addr", r.RemoteAddr)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx = conn.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("display client disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-s.closing:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case est := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, est)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Warn("display: write failed", "err", err)
				}
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// broadcast offers est to every client without blocking.
func (s *Server) broadcast(ctx context.Context, est pitch.Estimate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.send <- est:
		default:
			s.metrics.DisplayMessagesDropped.Add(ctx, 1)
		}
	}
}

func (s *Server) add(ctx context.Context, c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	s.metrics.DisplayClients.Add(ctx, 1)
	return true
}

func (s *Server) remove(ctx context.Context, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		s.metrics.DisplayClients.Add(ctx, -1)
	}
}

func (s *Server) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closing)
		slog.Debug("display server stopped")
	})
}
