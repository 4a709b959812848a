package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lyzr/signer/cmd/sign-node/container"
	nodemw "github.com/lyzr/signer/cmd/sign-node/middleware"
	"github.com/lyzr/signer/cmd/sign-node/routes"
	"github.com/lyzr/signer/common/bootstrap"
	"github.com/lyzr/signer/common/db"
	"github.com/lyzr/signer/common/server"
	"golang.org/x/sync/errgroup"
)

const serviceName = "sign-node"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sign-node: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bootstrap common components (DB, redis, logger, telemetry)
	components, err := bootstrap.Setup(ctx, serviceName,
		bootstrap.WithDBInitHook(func(d *db.DB) error {
			return d.Migrate(ctx, container.Schema()...)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to bootstrap: %w", err)
	}
	defer components.Shutdown(context.Background())

	c, err := container.NewContainer(ctx, components)
	if err != nil {
		return fmt.Errorf("failed to initialize service container: %w", err)
	}

	e := setupEcho()
	setupMiddleware(e)
	registerRoutes(e, c)

	srv := server.New(serviceName, components.Config.Service.Port, e, components.Logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Consumer.Start(ctx)
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})

	return g.Wait()
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// X-Forwarded-For is honoured only from private-range proxies
	e.IPExtractor = echo.ExtractIPFromXFFHeader()
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	var metrics http.Handler
	if c.Components.Telemetry != nil {
		metrics = c.Components.Telemetry.Handler()
	}
	routes.RegisterSystemRoutes(e, c.SystemHandler, metrics)

	cfg := c.Components.Config
	opts := routes.TaskRouteOpts{}
	if cfg.Service.APIToken != "" {
		opts.Auth = nodemw.RequireToken(cfg.Service.APIToken)
	}
	if cfg.Service.SubmitRateLimit > 0 {
		opts.SubmitLimit = nodemw.SubmitRateLimit(c.RateLimiter, cfg.Service.SubmitRateLimit)
	}
	routes.RegisterTaskRoutes(e, c.TaskHandler, opts)
}
