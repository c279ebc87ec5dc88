// Package api builds the Fiber application serving the REST, GraphQL and metrics endpoints.
package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/ortelius/community-site/graphql"
	"github.com/ortelius/community-site/internal/metrics"
	"github.com/ortelius/community-site/restapi"
	"github.com/ortelius/community-site/restapi/modules/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures the HTTP application
type Options struct {
	Service      *auth.Service
	Providers    *auth.OAuthProviders
	Limiter      *auth.RateLimiter
	AllowOrigins string
	// Registry collects the auth metrics. Nil uses the default registry.
	Registry *prometheus.Registry
}

// NewFiberApp creates and configures a Fiber app with REST and GraphQL routes
func NewFiberApp(opts Options) (*fiber.App, error) {
	// Initialize GraphQL schema
	schema, err := graphql.CreateSchema(opts.Service)
	if err != nil {
		return nil, fmt.Errorf("failed to create GraphQL schema: %w", err)
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if opts.Registry != nil {
		registerer, gatherer = opts.Registry, opts.Registry
	}
	if err := metrics.Register(registerer); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:     "community-site API v1.0",
		BodyLimit:   1 * 1024 * 1024, // 1MB
		ReadTimeout: 30 * time.Second,
		// every handler writes its own {success:false} body, this only sees routing errors
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code, message = e.Code, e.Message
			}
			return c.Status(code).JSON(fiber.Map{"success": false, "message": message})
		},
	})

	// Middleware
	app.Use(fiberrecover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	allowOrigins := opts.AllowOrigins
	if allowOrigins == "" {
		allowOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With",
		AllowCredentials: allowOrigins != "*",
		AllowMethods:     "GET, POST, HEAD, PUT, DELETE, PATCH, OPTIONS",
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("graphql_op", "-")
		return c.Next()
	})
	app.Use(logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${method} ${path} | op=${locals:graphql_op}\n",
	}))
	app.Use(metrics.Middleware())

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Setup REST and GraphQL routes
	restapi.SetupRoutes(app, restapi.Dependencies{
		Service:   opts.Service,
		Providers: opts.Providers,
		Limiter:   opts.Limiter,
		Schema:    schema,
	})

	return app, nil
}
