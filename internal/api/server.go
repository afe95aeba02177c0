// Package api exposes the scrub pipeline over HTTP: sanitize, tool-call
// normalization, hazard analysis, replay, and a websocket event feed.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/chatscrub/internal/archive"
	"github.com/router-for-me/chatscrub/internal/audit"
	"github.com/router-for-me/chatscrub/internal/config"
	"github.com/router-for-me/chatscrub/internal/replay"
)

// Deps carries the service collaborators. Config must return the current
// snapshot; it is consulted on every request so hot reloads take effect
// without a restart. The optional sinks may be nil.
type Deps struct {
	Config  func() *config.Config
	Replay  *replay.Client
	Audit   *audit.Recorder
	Archive *archive.Store
}

// Server is the HTTP front of the scrub pipeline.
type Server struct {
	deps Deps
	hub  *Hub

	engine *gin.Engine
}

// New wires the routes and middleware.
func New(deps Deps) *Server {
	if deps.Config == nil {
		deps.Config = func() *config.Config { return &config.Config{} }
	}
	s := &Server{deps: deps, hub: NewHub()}

	engine := gin.New()
	engine.Use(requestLogger(), gin.Recovery())

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/v1/events", s.handleEvents)

	v1 := engine.Group("/v1", s.requireManagementKey())
	{
		v1.POST("/sanitize", s.handleSanitize)
		v1.POST("/toolcalls/normalize", s.handleNormalizeToolCalls)
		v1.POST("/toolcalls/validate", s.handleValidateToolCalls)
		v1.POST("/analyze", s.handleAnalyze)
		v1.POST("/replay", s.handleReplay)
		v1.GET("/captures", s.handleListCaptures)
		v1.GET("/audit/recent", s.handleAuditRecent)
	}

	s.engine = engine
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("request")
	}
}

// writeError renders the service error envelope.
func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
