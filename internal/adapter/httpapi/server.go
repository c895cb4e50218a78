// Package httpapi serves the operator endpoints /healthz and /status.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"jobsyncbot/internal/adapter/journal"
)

// Health is the connection view reported by /healthz.
type Health struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Attempt   int    `json:"attempt"`
	LastError string `json:"last_error,omitempty"`
	Journal   string `json:"journal,omitempty"`
}

// Status is the pipeline view reported by /status.
type Status struct {
	Health
	Timezone string          `json:"timezone"`
	RunTimes []string        `json:"run_times"`
	NextRun  *time.Time      `json:"next_run,omitempty"`
	Known    int             `json:"known_listings"`
	Cycles   []journal.Entry `json:"cycles"`
}

// Source supplies the views.
type Source interface {
	Health(ctx context.Context) Health
	Status(ctx context.Context, limit int) (Status, error)
}

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Server is the ops HTTP server.
type Server struct {
	addr string
	src  Source
	log  *slog.Logger
	r    *gin.Engine
}

// New builds the server. Call Run to listen on addr.
func New(addr string, src Source, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{addr: addr, src: src, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog)
	r.GET("/healthz", s.healthz)
	r.GET("/status", s.status)
	s.r = r
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.r }

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("ops server listening", slog.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) healthz(c *gin.Context) {
	h := s.src.Health(c.Request.Context())
	code := http.StatusOK
	if !h.Connected {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, h)
}

func (s *Server) status(c *gin.Context) {
	limit := defaultLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLimit)
	}

	st, err := s.src.Status(c.Request.Context(), limit)
	if err != nil {
		s.log.Warn("status failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
		return
	}
	if st.Cycles == nil {
		st.Cycles = []journal.Entry{}
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("http",
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("dur", time.Since(start)),
	)
}
