// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBatchFiles   int
	MaxFileBytes    int64
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            "0.0.0.0:8080",
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MaxBatchFiles:   20,
		MaxFileBytes:    10 << 20,
	}
}

// Services are the application operations exposed over HTTP. Blobs and
// Metrics are optional.
type Services struct {
	Ingest   Ingester
	Invoices InvoiceOperations
	Budget   BudgetOperations
	Reports  UsageReporter
	Blobs    BlobServer
	Metrics  http.Handler
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	// Set gin mode based on environment
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	server := &Server{
		config:   config,
		router:   router,
		services: services,
		logger:   logger,
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// Logging middleware
	s.router.Use(s.loggingMiddleware())

	s.router.Use(corsMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		// Process request
		c.Next()

		// Log request details
		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
			"user_id", c.GetString(userIDKey),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.services, s.config, s.logger)

	// Health check
	s.router.GET("/health", handlers.HealthCheck)
	if s.services.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.services.Metrics))
	}
	if s.services.Blobs != nil {
		s.router.GET("/blobs/*key", handlers.ServeBlob)
	}

	// API routes
	api := s.router.Group("/api")
	{
		// Invoices
		api.POST("/invoices/bulk", requireUser(), handlers.BulkUpload)
		api.GET("/invoices/:id", handlers.GetInvoice)
		api.GET("/invoices/:id/matches", handlers.GetMatches)
		api.GET("/invoices/:id/download", handlers.GetDownloadURL)
		api.PUT("/invoices/:id/extraction", requireUser(), handlers.CorrectExtraction)
		api.POST("/invoices/:id/link", requireUser(), handlers.LinkInvoice)
		api.DELETE("/invoices/:id", requireUser(), handlers.DeleteInvoice)

		// Budget
		api.GET("/budget", handlers.GetBudget)
		api.GET("/settings/extraction", handlers.GetSettings)
		api.PUT("/settings/extraction", requireUser(), handlers.UpdateSettings)
		api.GET("/usage/report", handlers.UsageReport)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", s.config.Addr)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return s.config.Addr
}
