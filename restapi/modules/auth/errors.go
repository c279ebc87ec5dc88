package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrorKind classifies an auth failure
type ErrorKind string

// Error kinds
const (
	KindInvalidInput          ErrorKind = "InvalidInput"
	KindDuplicateEmail        ErrorKind = "DuplicateEmail"
	KindInvalidCredentials    ErrorKind = "InvalidCredentials"
	KindInvalidOrExpiredToken ErrorKind = "InvalidOrExpiredToken"
	KindMissingToken          ErrorKind = "MissingToken"
	KindMalformedToken        ErrorKind = "MalformedToken"
	KindBadSignature          ErrorKind = "BadSignature"
	KindExpired               ErrorKind = "Expired"
	KindForbidden             ErrorKind = "Forbidden"
	KindNotAuthenticated      ErrorKind = "NotAuthenticated"
	KindUserNotFound          ErrorKind = "UserNotFound"
	KindRateLimited           ErrorKind = "RateLimited"
	KindInternal              ErrorKind = "Internal"
)

// Error is a typed auth failure carrying the message shown to clients
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Status maps the kind to an HTTP status code
func (e *Error) Status() int {
	switch e.Kind {
	case KindInvalidInput, KindInvalidOrExpiredToken:
		return fiber.StatusBadRequest
	case KindDuplicateEmail:
		return fiber.StatusConflict
	case KindInvalidCredentials, KindMissingToken, KindMalformedToken, KindBadSignature, KindExpired, KindNotAuthenticated:
		return fiber.StatusUnauthorized
	case KindForbidden:
		return fiber.StatusForbidden
	case KindUserNotFound:
		return fiber.StatusNotFound
	case KindRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// Sentinel errors. The four bearer-token kinds share one client-facing message.
var (
	ErrDuplicateEmail        = &Error{Kind: KindDuplicateEmail, Message: "Email is already registered"}
	ErrInvalidCredentials    = &Error{Kind: KindInvalidCredentials, Message: "Invalid email or password"}
	ErrInvalidOrExpiredToken = &Error{Kind: KindInvalidOrExpiredToken, Message: "Reset token is invalid or has expired"}
	ErrMissingToken          = &Error{Kind: KindMissingToken, Message: "Authentication required"}
	ErrMalformedToken        = &Error{Kind: KindMalformedToken, Message: "Authentication required"}
	ErrBadSignature          = &Error{Kind: KindBadSignature, Message: "Authentication required"}
	ErrExpired               = &Error{Kind: KindExpired, Message: "Authentication required"}
	ErrForbidden             = &Error{Kind: KindForbidden, Message: "Insufficient permissions"}
	ErrNotAuthenticated      = &Error{Kind: KindNotAuthenticated, Message: "Authentication required"}
	ErrUserNotFound          = &Error{Kind: KindUserNotFound, Message: "User not found"}
	ErrRateLimited           = &Error{Kind: KindRateLimited, Message: "Too many requests, please try again later"}
)

func invalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: "Internal server error", Err: err}
}

// KindOf returns the kind of err, or KindInternal for untyped errors
func KindOf(err error) ErrorKind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindInternal
}

// writeError converts err into the {success:false, message} response
func writeError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	var authErr *Error
	if !errors.As(err, &authErr) {
		authErr = internalError(err)
	}

	if authErr.Kind == KindInternal && logger != nil {
		logger.Sugar().Errorf("%s %s failed: %v", c.Method(), c.Path(), err)
	}

	return c.Status(authErr.Status()).JSON(fiber.Map{
		"success": false,
		"message": authErr.Message,
	})
}
