// Package server exposes health, metrics and manual trigger endpoints over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rewired-gh/marketalert/internal/logger"
	"github.com/rewired-gh/marketalert/internal/models"
	"github.com/rewired-gh/marketalert/internal/monitor"
	"github.com/rewired-gh/marketalert/internal/scheduler"
)

// HealthReporter is implemented by notifiers.
type HealthReporter interface {
	Health() models.HealthStatus
}

// Runner runs ticks on demand and reports job status.
type Runner interface {
	RunNow(ctx context.Context, symbol string) (*monitor.Report, error)
	Status() []scheduler.JobStatus
}

// NotificationLister reads the delivered notification audit log.
type NotificationLister interface {
	RecentNotifications(ctx context.Context, k int) ([]models.NotificationRecord, error)
}

const (
	defaultNotificationLimit = 20
	maxNotificationLimit     = 200
)

// Options configures the server.
type Options struct {
	Addr          string
	Version       string
	TriggerToken  string // empty disables the trigger endpoint
	Notifier      HealthReporter
	Runner        Runner
	Metrics       http.Handler
	States        func() map[string]models.DedupeState
	Notifications NotificationLister // nil disables /notifications
}

// Server wraps a gin engine and its http.Server.
type Server struct {
	opts   Options
	engine *gin.Engine
	srv    *http.Server
}

func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	_ = r.SetTrustedProxies(nil)

	s := &Server{opts: opts, engine: r}
	s.registerRoutes()
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}
	if s.opts.Notifications != nil {
		s.engine.GET("/notifications", s.handleNotifications)
	}
	if s.opts.TriggerToken != "" && s.opts.Runner != nil {
		trigger := s.engine.Group("/trigger", requireToken(s.opts.TriggerToken))
		trigger.POST("/:symbol", s.handleTrigger)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe blocks until the server stops. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	logger.Info("HTTP server listening on %s", s.opts.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.String(http.StatusOK, "Market alert bot %s", s.opts.Version)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok", "version": s.opts.Version}
	code := http.StatusOK

	if s.opts.Notifier != nil {
		h := s.opts.Notifier.Health()
		body["notifier"] = h
		if !h.Healthy {
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if s.opts.Runner != nil {
		jobs := s.opts.Runner.Status()
		out := make([]gin.H, 0, len(jobs))
		for _, j := range jobs {
			job := gin.H{
				"symbol":               j.Symbol,
				"schedule":             j.Schedule,
				"consecutive_failures": j.ConsecutiveFailures,
			}
			if !j.Next.IsZero() {
				job["next_run"] = j.Next
			}
			if !j.LastRun.IsZero() {
				job["last_run"] = j.LastRun
			}
			if j.LastError != "" {
				job["last_error"] = j.LastError
			}
			out = append(out, job)
		}
		body["jobs"] = out
	}
	if s.opts.States != nil {
		body["states"] = s.opts.States()
	}
	c.JSON(code, body)
}

func (s *Server) handleNotifications(c *gin.Context) {
	limit := defaultNotificationLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxNotificationLimit)
	}
	recs, err := s.opts.Notifications.RecentNotifications(c.Request.Context(), limit)
	if err != nil {
		logger.Error("Failed to read notifications: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to read notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": recs})
}

func (s *Server) handleTrigger(c *gin.Context) {
	symbol := c.Param("symbol")
	report, err := s.opts.Runner.RunNow(c.Request.Context(), symbol)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
		return
	}

	body := gin.H{
		"symbol":     report.Symbol,
		"kind":       report.Kind,
		"notified":   report.Notified,
		"suppressed": report.Suppressed,
	}
	if report.Result != nil {
		body["result"] = report.Result
	}
	if report.Crosses != nil {
		body["crosses"] = report.Crosses
	}
	c.JSON(http.StatusOK, body)
}

func requireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "trigger token not found"})
			return
		}
		got := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "trigger token incorrect"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s -> %d (%v)", c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
