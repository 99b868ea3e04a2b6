// Package api is the HTTP and WebSocket surface: REST routes for sessions
// and raids, webhook ingress, health, metrics, and the event stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rallyhouse/rally/pkg/bus"
	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/datastore"
	"github.com/rallyhouse/rally/pkg/ingress"
	"github.com/rallyhouse/rally/pkg/models"
	"github.com/rallyhouse/rally/pkg/raid"
	"github.com/rallyhouse/rally/pkg/session"
)

// HealthReporter exposes the datastore router's health snapshot.
type HealthReporter interface {
	Health() datastore.Health
}

// MessageLister pages a room's persisted turns, newest first.
type MessageLister interface {
	List(ctx context.Context, roomID string, before time.Time, limit int) ([]models.MemoryItem, error)
}

// Server owns the echo engine and the underlying http.Server.
type Server struct {
	cfg  config.ServerConfig
	auth config.AuthConfig

	sessions *session.Manager
	raids    *raid.Coordinator
	pipeline *ingress.Pipeline
	messages MessageLister
	db       HealthReporter
	bus      *bus.Bus

	e    *echo.Echo
	http *http.Server
	log  *slog.Logger

	loopMu sync.RWMutex
	loops  map[string]string
}

// NewServer wires routes and middleware. db and messages may be nil in
// reduced deployments; the affected endpoints degrade.
func NewServer(cfg config.ServerConfig, auth config.AuthConfig, sessions *session.Manager,
	raids *raid.Coordinator, pipeline *ingress.Pipeline, messages MessageLister,
	db HealthReporter, b *bus.Bus) *Server {
	s := &Server{
		cfg:      cfg,
		auth:     auth,
		sessions: sessions,
		raids:    raids,
		pipeline: pipeline,
		messages: messages,
		db:       db,
		bus:      b,
		e:        echo.New(),
		log:      slog.With("component", "api"),
		loops:    make(map[string]string),
	}

	s.e.Use(requestID())
	s.e.Use(requestLog(s.log))
	s.e.Use(securityHeaders())
	s.e.Use(recoverAndRethrow(s.log))
	s.e.HTTPErrorHandler = errorHandler(s.log)

	v1 := s.e.Group("/api/v1")
	v1.POST("/sessions", s.createSessionHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.DELETE("/sessions/:id", s.endSessionHandler)
	v1.POST("/sessions/:id/renew", s.renewSessionHandler)
	v1.POST("/sessions/:id/heartbeat", s.heartbeatHandler)
	v1.POST("/sessions/:id/messages", s.postMessageHandler)
	v1.GET("/sessions/:id/messages", s.listMessagesHandler)

	v1.POST("/raids", s.createRaidHandler)
	v1.POST("/raids/:id/join", s.joinRaidHandler)
	v1.POST("/raids/:id/actions", s.recordActionHandler)
	v1.GET("/raids/:id", s.getRaidHandler)
	v1.GET("/raids/:id/leaderboard", s.leaderboardHandler)
	v1.GET("/raids/:id/metrics", s.raidMetricsHandler)
	v1.POST("/raids/:id/complete", s.completeRaidHandler)

	s.e.POST("/webhooks/:platform", s.webhookHandler)
	s.e.GET("/health", s.healthHandler)
	s.e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.e.GET("/ws/events", s.wsHandler)

	return s
}

// MarkLoopDegraded records a background loop's degraded state for /health.
func (s *Server) MarkLoopDegraded(loop string, err error) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	s.loops[loop] = err.Error()
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
