package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/community-site/internal/metrics"
	"github.com/ortelius/community-site/model"
)

const identityLocal = "identity"

// Authenticate verifies the bearer token and attaches the identity to the
// request. Any failure ends the request with 401.
func Authenticate(tokens *TokenIssuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, err := bearerIdentity(c, tokens)
		if err != nil {
			metrics.RecordRejection(string(KindOf(err)))
			return writeError(c, nil, err)
		}

		setIdentity(c, identity)
		return c.Next()
	}
}

// OptionalAuth identifies the user if a valid token is present but does not block guests.
func OptionalAuth(tokens *TokenIssuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if identity, err := bearerIdentity(c, tokens); err == nil {
			setIdentity(c, identity)
		}
		return c.Next()
	}
}

// RequireRole checks the identity attached by Authenticate against allowedRoles
func RequireRole(allowedRoles ...model.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := CurrentIdentity(c)
		if !ok {
			metrics.RecordRejection(string(KindNotAuthenticated))
			return writeError(c, nil, ErrNotAuthenticated)
		}

		if !identity.Role.In(allowedRoles...) {
			metrics.RecordRejection(string(KindForbidden))
			return writeError(c, nil, ErrForbidden)
		}

		return c.Next()
	}
}

// CurrentIdentity returns the identity attached to the request
func CurrentIdentity(c *fiber.Ctx) (Identity, bool) {
	identity, ok := c.Locals(identityLocal).(Identity)
	return identity, ok
}

func setIdentity(c *fiber.Ctx, identity Identity) {
	c.Locals(identityLocal, identity)
	c.SetUserContext(WithIdentity(c.UserContext(), identity))
}

func bearerIdentity(c *fiber.Ctx, tokens *TokenIssuer) (Identity, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if strings.TrimSpace(authHeader) == "" {
		return Identity{}, ErrMissingToken
	}

	parts := strings.SplitN(strings.TrimSpace(authHeader), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return Identity{}, ErrMalformedToken
	}

	return tokens.Verify(strings.TrimSpace(parts[1]))
}
