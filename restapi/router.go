// Package restapi provides the main router and initialization for REST API endpoints.
package restapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"github.com/ortelius/community-site/model"
	"github.com/ortelius/community-site/restapi/modules/auth"
)

// Dependencies are the collaborators the routes are built from. Providers and
// Limiter may be nil.
type Dependencies struct {
	Service   *auth.Service
	Providers *auth.OAuthProviders
	Limiter   *auth.RateLimiter
	Schema    graphql.Schema
}

// SetupRoutes configures all REST API routes and the GraphQL endpoint.
// CORS is handled globally in internal/api/fiber.go.
func SetupRoutes(app *fiber.App, deps Dependencies) {
	svc := deps.Service
	tokens := svc.Tokens()
	logger := svc.Logger()

	requireAuth := auth.Authenticate(tokens)
	requireAdmin := auth.RequireRole(model.RoleAdmin)

	// API Group /api/v1
	api := app.Group("/api/v1")

	// GraphQL Route - guests may query, resolvers enforce their own roles
	api.Post("/graphql", auth.OptionalAuth(tokens), GraphQLHandler(deps.Schema))

	// Public Auth Routes
	authGroup := api.Group("/auth")
	authGroup.Post("/signup", auth.Signup(svc))
	authGroup.Post("/login", auth.RateLimit(deps.Limiter, "login", logger), auth.Login(svc))
	authGroup.Post("/forgot-password", auth.RateLimit(deps.Limiter, "forgot", logger), auth.ForgotPassword(svc))
	authGroup.Get("/reset-password/:token/verify", auth.VerifyResetToken(svc))
	authGroup.Post("/reset-password/:token", auth.RateLimit(deps.Limiter, "reset", logger), auth.ResetPassword(svc))

	// OAuth Routes
	if deps.Providers != nil {
		authGroup.Get("/oauth/:provider/login", auth.OAuthLogin(deps.Providers))
		authGroup.Get("/oauth/:provider/callback", auth.OAuthCallback(svc, deps.Providers))
	}

	// Signed-in Routes
	authGroup.Get("/me", requireAuth, auth.Me(svc))
	authGroup.Put("/profile", requireAuth, auth.UpdateProfile(svc))

	// User Management (Admin)
	authGroup.Get("/users", requireAuth, requireAdmin, auth.ListUsers(svc))
	authGroup.Put("/users/:id/role", requireAuth, requireAdmin, auth.ChangeRole(svc))

	logger.Info("API routes initialized successfully")
}
