// Package model provides data models for the community site.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the coarse privilege tier of a user
type Role string

// Roles known to the system, ordered from least to most privileged
const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// ParseRole converts a string into a Role and rejects anything unknown
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleViewer, RoleEditor, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Valid reports whether r is one of the enumerated roles
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleEditor, RoleAdmin:
		return true
	}
	return false
}

// In reports whether r is one of roles
func (r Role) In(roles ...Role) bool {
	for _, allowed := range roles {
		if r == allowed {
			return true
		}
	}
	return false
}

// Provider tags the origin of a credential
type Provider string

// Auth providers
const (
	ProviderLocal  Provider = "local"
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// ParseProvider converts a string into a Provider
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(s)); p {
	case ProviderLocal, ProviderGoogle, ProviderGitHub:
		return p, nil
	default:
		return "", fmt.Errorf("unknown auth provider %q", s)
	}
}

// User represents a user in the system
type User struct {
	Key          string            `json:"_key,omitempty"`
	Email        string            `json:"email"` // normalized, immutable
	PasswordHash string            `json:"password_hash,omitempty"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Bio          string            `json:"bio,omitempty"`
	SocialLinks  map[string]string `json:"social_links,omitempty"`
	Role         Role              `json:"role"`
	AuthProvider Provider          `json:"auth_provider"`
	ExternalID   string            `json:"external_id,omitempty"` // OAuth subject
	ResetToken   *string           `json:"reset_token"`
	ResetExpires *time.Time        `json:"reset_expires"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewUser creates a new local user with default values
func NewUser(email, firstName, lastName string) *User {
	now := time.Now().UTC()
	return &User{
		Email:        NormalizeEmail(email),
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Role:         RoleViewer,
		AuthProvider: ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NormalizeEmail returns the canonical form used for storage and lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsLocal reports whether the account authenticates with a password
func (u *User) IsLocal() bool {
	return u.AuthProvider == ProviderLocal
}

// HasResetToken reports whether token matches the stored reset token and
// the expiry has not passed at now
func (u *User) HasResetToken(token string, now time.Time) bool {
	if token == "" || u.ResetToken == nil || u.ResetExpires == nil {
		return false
	}
	return *u.ResetToken == token && now.Before(*u.ResetExpires)
}

// Profile is the public projection of a user returned to clients
type Profile struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Bio          string            `json:"bio,omitempty"`
	SocialLinks  map[string]string `json:"social_links,omitempty"`
	Role         Role              `json:"role"`
	AuthProvider Provider          `json:"auth_provider"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Profile returns the public projection of u
func (u *User) Profile() Profile {
	var links map[string]string
	if len(u.SocialLinks) > 0 {
		links = make(map[string]string, len(u.SocialLinks))
		for k, v := range u.SocialLinks {
			links[k] = v
		}
	}
	return Profile{
		ID:           u.Key,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Bio:          u.Bio,
		SocialLinks:  links,
		Role:         u.Role,
		AuthProvider: u.AuthProvider,
		CreatedAt:    u.CreatedAt,
	}
}

// DisplayName joins the name fields, falling back to the email
func (p Profile) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Email
	}
	return name
}

// ProfileUpdate carries the mutable display fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	FirstName   *string           `json:"first_name,omitempty"`
	LastName    *string           `json:"last_name,omitempty"`
	Bio         *string           `json:"bio,omitempty"`
	SocialLinks map[string]string `json:"social_links,omitempty"`
}

// Empty reports whether the update changes nothing
func (p ProfileUpdate) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Bio == nil && p.SocialLinks == nil
}

// Apply copies the set fields onto u
func (p ProfileUpdate) Apply(u *User) {
	if p.FirstName != nil {
		u.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		u.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.SocialLinks != nil {
		u.SocialLinks = make(map[string]string, len(p.SocialLinks))
		for k, v := range p.SocialLinks {
			u.SocialLinks[k] = v
		}
	}
}
