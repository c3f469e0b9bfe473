// Package api serves the operator endpoints: Telegram login codes, run
// history, metrics and the explainability plots.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/explain"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/state"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/telegram"
)

// CodeSubmitter forwards a login code to a waiting Telegram session.
type CodeSubmitter interface {
	Submit(ctx context.Context, code string) error
}

// RunLister reads run history.
type RunLister interface {
	LastRuns(ctx context.Context, n int) ([]state.Run, error)
}

// Options configures the server. Zero-valued collaborators disable their
// routes.
type Options struct {
	JWTSecret  string
	Codes      CodeSubmitter
	Runs       RunLister
	Gatherer   prometheus.Gatherer
	ResultsDir string
}

// resultFiles are the only files served from ResultsDir.
var resultFiles = map[string]bool{
	explain.SummaryPlotFile: true,
	explain.LocalPlotFile:   true,
}

type Server struct {
	router *gin.Engine
	http   *http.Server
	opts   Options
	logger *zap.Logger
}

func NewServer(opts Options, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{router: router, opts: opts, logger: logger}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if s.opts.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	protected := s.router.Group("/")
	if s.opts.JWTSecret != "" {
		protected.Use(AuthMiddleware([]byte(s.opts.JWTSecret), s.logger))
	}
	protected.POST("/telegram/auth/code", s.handleAuthCode)
	protected.GET("/runs", s.handleRuns)
	protected.GET("/results/:name", s.handleResult)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on port until Shutdown is called.
func (s *Server) Start(port string) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", zap.String("address", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("API server stopping")
	return s.http.Shutdown(ctx)
}

type authCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (s *Server) handleAuthCode(c *gin.Context) {
	if s.opts.Codes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Telegram login is not enabled"})
		return
	}

	var req authCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("Failed to bind JSON for auth code", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.opts.Codes.Submit(c.Request.Context(), req.Code)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Authentication code received."})
	case errors.Is(err, telegram.ErrNoCodeWaiter):
		s.logger.Error("Telegram client not ready to receive code")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Telegram client not ready to receive code."})
	default:
		s.logger.Warn("Auth code request timed out or cancelled", zap.Error(err))
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "Request timed out or cancelled."})
	}
}

type runView struct {
	ID         string          `json:"id"`
	Trigger    string          `json:"trigger"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Summary    json.RawMessage `json:"summary,omitempty"`
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.opts.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Run history is not enabled"})
		return
	}

	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	runs, err := s.opts.Runs.LastRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}

	out := make([]runView, 0, len(runs))
	for _, r := range runs {
		v := runView{ID: r.ID, Trigger: r.Trigger, Status: r.Status, StartedAt: r.StartedAt}
		if !r.FinishedAt.IsZero() {
			v.FinishedAt = &r.FinishedAt
		}
		if r.Summary != "" && json.Valid([]byte(r.Summary)) {
			v.Summary = json.RawMessage(r.Summary)
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) handleResult(c *gin.Context) {
	name := c.Param("name")
	if !resultFiles[name] || s.opts.ResultsDir == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown result"})
		return
	}
	path := filepath.Join(s.opts.ResultsDir, name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Result not generated yet"})
		return
	}
	c.File(path)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
