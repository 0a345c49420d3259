package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"netaccess/internal/monitor"
	"netaccess/internal/portal"
	"netaccess/internal/storage"
)

// Options wires the server to a running monitor.
type Options struct {
	Listen string
	// Status is the latest system status published by the monitor.
	Status *monitor.Latest[portal.SystemStatus]
	// States holds the lifecycle state most recently seen by the consumer.
	States *monitor.Latest[monitor.State]
	// Store is optional; without it /api/history is not served.
	Store  storage.Storage
	Logger logrus.FieldLogger
	Now    func() time.Time
}

// Server exposes monitor state over HTTP.
type Server struct {
	opts    Options
	handler *Handler
	streams *streamHub
	engine  *gin.Engine
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := gin.New()
	r.Use(requestLogger(opts.Logger))
	r.Use(gin.Recovery())

	handler := NewHandler(opts)
	streams := newStreamHub(handler, opts.Logger)

	r.GET("/healthz", handler.Health)

	api := r.Group("/api")
	{
		api.GET("/status", handler.GetStatus)
		api.GET("/state", handler.GetState)
		api.POST("/wake", handler.Wake)
		api.POST("/retry", handler.Retry)
		api.GET("/events", streams.Events)
		if opts.Store != nil {
			api.GET("/history", handler.GetHistory)
		}
	}

	return &Server{
		opts:    opts,
		handler: handler,
		streams: streams,
		engine:  r,
	}
}

// Handler returns the router for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.WithField("listen", s.opts.Listen).Info("status api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.streams.close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/healthz" {
			return
		}
		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusBadRequest {
			entry.Warn("api request")
			return
		}
		entry.Debug("api request")
	}
}
