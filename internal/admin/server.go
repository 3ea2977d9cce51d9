// Package admin exposes a read-only HTTP status API for the relay.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/omochice/relay-chat/internal/chat"
)

// SessionInfo describes one registered session.
type SessionInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Remote string `json:"remote"`
}

// SessionsResponse is the body of GET /sessions.
type SessionsResponse struct {
	Registered int           `json:"registered"`
	Active     int           `json:"active"`
	Sessions   []SessionInfo `json:"sessions"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// Server serves the status API.
type Server struct {
	registry *chat.Registry
	router   *gin.Engine
	log      *slog.Logger
	started  time.Time
}

// New creates a status API over registry.
func New(registry *chat.Registry, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		registry: registry,
		router:   gin.New(),
		log:      log,
		started:  time.Now(),
	}
	s.router.Use(gin.Recovery(), s.loggingMiddleware())
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/sessions", s.handleSessions)
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve answers requests on listener until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("Admin API listening", "address", listener.Addr().String())
		errc <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

// handleSessions handles GET /sessions
func (s *Server) handleSessions(c *gin.Context) {
	sessions := s.registry.All()
	c.JSON(http.StatusOK, SessionsResponse{
		Registered: len(sessions),
		Active:     lo.CountBy(sessions, (*chat.Session).Active),
		Sessions: lo.Map(sessions, func(sess *chat.Session, _ int) SessionInfo {
			return SessionInfo{
				ID:     sess.ID(),
				Name:   sess.Name(),
				State:  sess.State().String(),
				Remote: sess.RemoteAddr(),
			}
		}),
	})
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("Admin request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}
