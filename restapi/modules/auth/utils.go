// Package auth provides authentication and authorization for the community site.
//
//revive:disable-next-line:var-naming
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/ortelius/community-site/model"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password, counted in characters
const MinPasswordLength = 6

// MaxNameLength caps first and last names, counted in characters
const MaxNameLength = 100

// bcrypt ignores input past 72 bytes
const maxPasswordBytes = 72

// ============================================================================
// PASSWORD HASHING
// ============================================================================

// HashPassword generates a bcrypt hash of the password
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

// CheckPasswordHash compares a password with a hash in constant time
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// ============================================================================
// TOKEN GENERATION
// ============================================================================

// GenerateSecureToken generates a cryptographically secure random token
// Used for password reset tokens and OAuth state
func GenerateSecureToken(length int) (string, error) {
	if length <= 0 {
		length = 32 // Default to 32 bytes
	}

	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// ============================================================================
// VALIDATION HELPERS
// ============================================================================

// ValidatePassword checks the password length rules
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return invalidInput("Password must be at least 6 characters long")
	}
	if len(password) > maxPasswordBytes {
		return invalidInput("Password must be at most 72 bytes long")
	}
	return nil
}

// ValidateEmail checks that email is a bare address and returns its normalized form
func ValidateEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", invalidInput("Email is required")
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
		return "", invalidInput("Email address is invalid")
	}

	return model.NormalizeEmail(trimmed), nil
}

// validateNames trims each name in place and enforces MaxNameLength. Names
// are optional; nil pointers are skipped.
func validateNames(names ...*string) error {
	for _, name := range names {
		if name == nil {
			continue
		}
		*name = strings.TrimSpace(*name)
		if utf8.RuneCountInString(*name) > MaxNameLength {
			return invalidInput("Name fields must be at most 100 characters")
		}
	}
	return nil
}
