// Package auth provides authentication and authorization types for the REST API.
package auth

import "github.com/ortelius/community-site/model"

// LoginRequest defines the body for email/password login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ForgotPasswordRequest starts the reset flow
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest carries the new password; the token is in the path
type ResetPasswordRequest struct {
	Password string `json:"password"`
}

// UpdateProfileRequest is the profile body. Email is decoded only to refuse it.
type UpdateProfileRequest struct {
	model.ProfileUpdate
	Email *string `json:"email,omitempty"`
}

// ChangeRoleRequest sets a user's role
type ChangeRoleRequest struct {
	Role string `json:"role"`
}
