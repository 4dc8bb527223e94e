// Package httpapi is the HTTP ingress: the dispatch platform pushes messages
// to POST /dispatch/:queueName and receives a DispatcherResponse.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hatsunemiku3939/nexusconsumer"
	"github.com/hatsunemiku3939/nexusconsumer/config"
	"github.com/hatsunemiku3939/nexusconsumer/internal/jsoncodec"
)

// Server serves the dispatch endpoint, a health check and optionally metrics.
type Server struct {
	cfg      config.ServerConfig
	endpoint nexusconsumer.Endpoint
	logger   *slog.Logger
	engine   *gin.Engine
	srv      *http.Server
}

// New builds the gin engine. A nil gatherer disables the metrics route.
func New(cfg config.ServerConfig, metricsCfg config.MetricsConfig, endpoint nexusconsumer.Endpoint, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		endpoint: endpoint,
		logger:   logger,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.POST("/dispatch/:queueName", s.dispatch)
	s.engine.GET("/health", s.health)
	if metricsCfg.Enabled && gatherer != nil {
		path := metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		s.engine.GET(path, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http ingress listening", slog.String("addr", s.cfg.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) dispatch(c *gin.Context) {
	queueName := c.Param("queueName")
	headers := nexusconsumer.HeadersFromHTTP(c.Request.Header)

	if s.cfg.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		headers.Add(nexusconsumer.HeaderCause, err.Error())
		s.write(c, nexusconsumer.DispatcherResponse{Status: status, Info: headers.Flatten()})
		return
	}

	resp := s.endpoint.OnPayload(c.Request.Context(), queueName, headers, c.ContentType(), raw)
	s.write(c, resp)
}

func (s *Server) write(c *gin.Context, resp nexusconsumer.DispatcherResponse) {
	body, err := jsoncodec.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode dispatcher response", slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(resp.Status, "application/json; charset=utf-8", body)
}

func (s *Server) health(c *gin.Context) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(`{"status":"ok"}`))
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}
