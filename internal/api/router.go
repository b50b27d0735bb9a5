// Package api exposes a peakdata session over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jgoulah/securepeak/internal/peakdata"
)

// Options configures the router
type Options struct {
	// RequestTimeout bounds each flow started by a request
	RequestTimeout time.Duration
	// Hub, when set, serves session events on /api/stream
	Hub    *Hub
	Logger zerolog.Logger
}

// Server serves the API until its context is cancelled
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// NewRouter builds the gin engine for session
func NewRouter(session *peakdata.Session, opts Options) *gin.Engine {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Minute
	}
	log := opts.Logger.With().Str("component", "api").Logger()

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	// ============ Health Check ============
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "securepeak",
		})
	})

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ API Routes ============
	h := &handler{session: session, timeout: opts.RequestTimeout, log: log}
	api := r.Group("/api")
	{
		api.GET("/status", h.status)
		api.GET("/records", h.listRecords)
		api.GET("/graph", h.graph)
		api.POST("/records/refresh", h.refresh)
		api.POST("/records", h.createRecord)
		api.POST("/records/:id/decrypt", h.decryptRecord)
		api.POST("/records/:id/consumption", h.updateConsumption)
		api.POST("/records/:id/peak", h.updatePeak)
		api.POST("/records/:id/grant", h.grantAccess)
		if opts.Hub != nil {
			api.GET("/stream", opts.Hub.serve)
		}
	}
	return r
}

// NewServer wraps the router in an http.Server listening on addr
func NewServer(addr string, session *peakdata.Session, opts Options) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(session, opts),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: opts.Logger.With().Str("component", "api").Logger(),
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("API listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
