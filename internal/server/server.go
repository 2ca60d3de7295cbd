// Package server exposes pool status, provider health, metrics and a
// generation endpoint over HTTP.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ineyio/keyrotor"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	pool     *keyrotor.Pool
	router   *keyrotor.Router
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// New creates a Server. pool may be nil when nothing is rotated.
func New(pool *keyrotor.Pool, router *keyrotor.Router, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{pool: pool, router: router, gatherer: gatherer, logger: logger}
}

// Handler builds the gin engine.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.healthz)
	r.GET("/v1/keys", s.keys)
	r.GET("/v1/providers", s.providers)
	r.POST("/v1/generate", s.generate)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type keysResponse struct {
	Pool       string              `json:"pool"`
	Day        string              `json:"day"`
	DailyLimit int                 `json:"daily_limit"`
	Available  int                 `json:"available"`
	Keys       []keyrotor.KeyStats `json:"keys"`
}

func (s *Server) keys(c *gin.Context) {
	if s.pool == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no rotated pool configured"})
		return
	}
	c.JSON(http.StatusOK, keysResponse{
		Pool:       s.pool.Name(),
		Day:        s.pool.Day(),
		DailyLimit: s.pool.DailyLimit(),
		Available:  s.pool.Available(),
		Keys:       s.pool.Stats(),
	})
}

type providerStatus struct {
	Name   string `json:"name"`
	Health string `json:"health"`
}

func (s *Server) providers(c *gin.Context) {
	names := s.router.Providers()
	out := make([]providerStatus, len(names))
	for i, n := range names {
		out[i] = providerStatus{Name: n, Health: s.router.Health().GetHealth(n).String()}
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

func (s *Server) generate(c *gin.Context) {
	var req keyrotor.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.router.Generate(c.Request.Context(), req)
	if err != nil {
		s.logger.Warn("generate_failed", "error", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, keyrotor.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, keyrotor.ErrAllFailed), keyrotor.IsExhausted(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, keyrotor.ErrRateLimited), errors.Is(err, keyrotor.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
