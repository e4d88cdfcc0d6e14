package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/agentflow/cmd/agentflow/container"
	"github.com/lyzr/agentflow/cmd/agentflow/handlers"
	"github.com/lyzr/agentflow/cmd/agentflow/middleware"
	"github.com/lyzr/agentflow/cmd/agentflow/routes"
	"github.com/lyzr/agentflow/common/bootstrap"
	"github.com/lyzr/agentflow/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (config, logger, databases, redis)
	components, err := bootstrap.Setup(ctx, "agentflow")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap agentflow: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	// The hub fans execution events out to websocket subscribers until shutdown
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go serviceContainer.Hub.Run(hubCtx)

	// Initialize Echo server
	e := setupEcho(serviceContainer)

	// Setup middleware
	setupMiddleware(e, serviceContainer)

	// Setup health check
	setupHealthCheck(e, serviceContainer)

	// Register all routes
	registerRoutes(e, serviceContainer)

	// Start server
	startServer(e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho(serviceContainer *container.Container) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewValidator()
	e.HTTPErrorHandler = handlers.ErrorHandler(serviceContainer.Components.Logger)
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, serviceContainer *container.Container) {
	cfg := serviceContainer.Components.Config
	log := serviceContainer.Components.Logger

	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(echomw.RequestID())
	e.Use(middleware.APIKey(cfg.Service.APIKey))
	e.Use(middleware.GlobalRateLimit(serviceContainer.Limiter, cfg.RateLimit.GlobalLimit, log))
}

// setupHealthCheck registers the root and health check endpoints
func setupHealthCheck(e *echo.Echo, serviceContainer *container.Container) {
	h := handlers.NewHealthHandler(
		serviceContainer.Components.DB,
		serviceContainer.Components.CheckpointDB,
	)
	e.GET("/", h.Root)
	e.GET("/health", h.Health)
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterAgentRoutes(e, serviceContainer)
	routes.RegisterToolRoutes(e, serviceContainer)
	routes.RegisterWorkflowRoutes(e, serviceContainer)
	routes.RegisterExecutionRoutes(e, serviceContainer)
	routes.RegisterWSRoutes(e, serviceContainer)
}

// startServer starts the HTTP server with graceful shutdown
func startServer(e *echo.Echo, components *bootstrap.Components) {
	cfg := components.Config
	srv := server.New("agentflow", cfg.Service.Host, cfg.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
