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
	"github.com/rs/zerolog/log"

	"github.com/leanscribe/internal/accounting"
	"github.com/leanscribe/internal/app"
	"github.com/leanscribe/internal/config"
	"github.com/leanscribe/internal/history"
	"github.com/leanscribe/internal/orchestrator"
	"github.com/leanscribe/internal/prompts"
	"github.com/leanscribe/internal/sysinfo"
)

// Service is the application surface the API exposes. *app.App implements it.
type Service interface {
	Search(query string, limit int) []*prompts.Template
	Render(ctx context.Context, req app.RenderRequest) (*app.Rendered, error)
	Estimate(p accounting.Prompt, full bool) accounting.PromptReport
	Run(ctx context.Context, req app.RunRequest, sink orchestrator.Sink) (orchestrator.Result, error)
	Template(id string) (*prompts.Template, error)
	Reload(ctx context.Context) error
	Models(full bool) []config.ModelDescriptor
	History() []history.Item
	SystemReport(ctx context.Context) (sysinfo.Report, error)
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
	svc  Service
}

// NewServer creates a new API server
func NewServer(port int, svc Service) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		port: port,
		svc:  svc,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	v1.GET("/prompts", s.searchPrompts)
	v1.POST("/render", s.renderPrompt)
	v1.POST("/report", s.reportPrompt)
	v1.POST("/run", s.runPrompt)
	v1.POST("/refresh", s.refresh)
	v1.GET("/history", s.getHistory)
	v1.GET("/models", s.getModels)
	v1.GET("/system", s.getSystem)
}

// Start serves until ctx is cancelled or an interrupt arrives, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.port).Msg("Starting API server")
		if err := s.echo.Start(fmt.Sprintf("127.0.0.1:%d", s.port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-quit:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("Shutting down API server")
	return s.echo.Shutdown(shutdownCtx)
}
