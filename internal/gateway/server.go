// Package gateway wires the channel adapters, the health endpoint, and
// a websocket event fanout into one HTTP server. Grounded on the
// teacher's internal/gateway/server.go (Server struct, checkOrigin,
// BuildMux, handleWebSocket/handleHealth split), trimmed to this
// module's scope: no managed-mode CRUD handlers, no OpenAI-compatible
// chat completions surface — just the orchestration core's own health
// check and an event-only websocket stream.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentcore/internal/bus"
	"github.com/nextlevelbuilder/agentcore/internal/health"
	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

// Config controls the HTTP listener and CORS allowlist.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// Server hosts GET /healthz and the GET /ws event fanout.
type Server struct {
	cfg      Config
	eventPub bus.EventPublisher
	health   *health.Reporter

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer constructs a Server. eventPub is the event bus whose agent,
// chat, health and session events are relayed to connected websocket
// clients; reporter backs the /healthz response.
func NewServer(cfg Config, eventPub bus.EventPublisher, reporter *health.Reporter) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		health:   reporter,
		clients:  make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates a websocket upgrade's Origin header against the
// configured allowlist. No configured origins, or no Origin header at
// all (non-browser clients), both pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed || allowed == "*" {
			return true
		}
	}
	slog.Warn("gateway.cors_rejected", "origin", origin)
	return false
}

// BuildMux builds (and caches) the HTTP mux with every route registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.health != nil {
		mux.Handle("/healthz", s.health.Handler())
	}
	s.mux = mux
	return mux
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully with a 5s deadline.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: serve: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway.ws_upgrade_failed", "error", err)
		return
	}

	client := newClient(conn)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.run(r.Context())
}

// BroadcastEvent pushes e to every connected websocket client
// regardless of which event name it was published under.
func (s *Server) BroadcastEvent(e protocol.AgentEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.sendEvent(protocol.EventAgent, e)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	for _, name := range []string{protocol.EventAgent, protocol.EventChat, protocol.EventHealth, protocol.EventSession} {
		name := name
		unsub := s.eventPub.Subscribe(name, func(e bus.Event) {
			if strings.HasPrefix(e.Name, "cache.") {
				return
			}
			c.sendEvent(name, e.Payload)
		})
		c.addUnsubscribe(unsub)
	}

	slog.Info("gateway.client_connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.unsubscribeAll()
	slog.Info("gateway.client_disconnected", "id", c.id)
}
