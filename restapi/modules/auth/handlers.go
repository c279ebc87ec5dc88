// Package auth provides authentication handlers for Fiber.
package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ============================================================================
// AUTH HANDLERS
// ============================================================================

// Signup handles public account registration
func Signup(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req SignupRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, svc.Logger(), invalidInput("Invalid request body"))
		}

		result, err := svc.Signup(c.UserContext(), req)
		if err != nil {
			return writeError(c, svc.Logger(), err)
		}

		return authResponse(c, fiber.StatusCreated, "Account created", result)
	}
}

// Login handles email/password login
func Login(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, svc.Logger(), invalidInput("Invalid request body"))
		}

		if strings.TrimSpace(req.Email) == "" || req.Password == "" {
			return writeError(c, svc.Logger(), invalidInput("Email and password are required"))
		}

		result, err := svc.Login(c.UserContext(), req.Email, req.Password)
		if err != nil {
			return writeError(c, svc.Logger(), err)
		}

		return authResponse(c, fiber.StatusOK, "Login successful", result)
	}
}

// ForgotPassword always answers with the same generic message
func ForgotPassword(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ForgotPasswordRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, svc.Logger(), invalidInput("Invalid request body"))
		}

		if strings.TrimSpace(req.Email) == "" {
			return writeError(c, svc.Logger(), invalidInput("Email is required"))
		}

		message := svc.ForgotPassword(c.UserContext(), req.Email)

		return c.JSON(fiber.Map{
			"success": true,
			"message": message,
		})
	}
}

// VerifyResetToken reports whether the path token can still be used
func VerifyResetToken(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		valid, err := svc.VerifyResetToken(c.UserContext(), c.Params("token"))
		if err != nil {
			return writeError(c, svc.Logger(), err)
		}

		return c.JSON(fiber.Map{
			"success": true,
			"valid":   valid,
		})
	}
}

// ResetPassword consumes the path token and logs the user in
func ResetPassword(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ResetPasswordRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, svc.Logger(), invalidInput("Invalid request body"))
		}

		result, err := svc.ResetPassword(c.UserContext(), c.Params("token"), req.Password)
		if err != nil {
			return writeError(c, svc.Logger(), err)
		}

		return authResponse(c, fiber.StatusOK, "Password has been reset", result)
	}
}

// UpdateProfile changes the caller's display fields
func UpdateProfile(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req UpdateProfileRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, svc.Logger(), invalidInput("Invalid request body"))
		}

		if req.Email != nil {
			return writeError(c, svc.Logger(), invalidInput("Email cannot be changed"))
		}

		profile, err := svc.UpdateProfile(c.UserContext(), req.ProfileUpdate)
		if err != nil {
			return writeError(c, svc.Logger(), err)
		}

		return c.JSON(fiber.Map{
			"success": true,
			"message": "Profile updated",
			"user":    profile,
		})
	}
}

// Me returns the current user's profile
func Me(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		profile, err := svc.Me(c.UserContext())
		if err != nil {
			return writeError(c, svc.Logger(), err)
		}

		return c.JSON(fiber.Map{
			"success": true,
			"user":    profile,
		})
	}
}

// ============================================================================
// USER MANAGEMENT HANDLERS (Admin)
// ============================================================================

// ListUsers returns all users
func ListUsers(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		users, err := svc.ListUsers(c.UserContext())
		if err != nil {
			return writeError(c, svc.Logger(), err)
		}

		return c.JSON(fiber.Map{
			"success": true,
			"users":   users,
			"count":   len(users),
		})
	}
}

// ChangeRole sets the role of the user in the path
func ChangeRole(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ChangeRoleRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, svc.Logger(), invalidInput("Invalid request body"))
		}

		profile, err := svc.ChangeRole(c.UserContext(), c.Params("id"), req.Role)
		if err != nil {
			return writeError(c, svc.Logger(), err)
		}

		return c.JSON(fiber.Map{
			"success": true,
			"message": "Role updated. The user must log in again for it to take effect.",
			"user":    profile,
		})
	}
}

func authResponse(c *fiber.Ctx, status int, message string, result *AuthResult) error {
	return c.Status(status).JSON(fiber.Map{
		"success":    true,
		"message":    message,
		"token":      result.Token,
		"expires_at": result.ExpiresAt,
		"user":       result.User,
	})
}
