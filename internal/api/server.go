package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
}

// NewServer creates a new API server
func NewServer(port int, handler *Handler) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		port: port,
	}

	// Setup routes
	server.setupRoutes(handler)

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(h *Handler) {
	s.echo.GET("/health", h.Health)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	v1.POST("/completions", h.Completions)
	v1.POST("/generations/playbook", h.GeneratePlaybook)
	v1.POST("/generations/role", h.GenerateRole)
	v1.POST("/explanations/playbook", h.ExplainPlaybook)
	v1.POST("/contentmatches", h.ContentMatches)
}

// Start begins the API server
func (s *Server) Start() error {
	// Start server in a goroutine
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
