package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/community-site/model"
)

var _ UserStore = (*MemoryUserStore)(nil)

// MemoryUserStore is a UserStore held in process memory. It backs tests and
// local development without ArangoDB.
type MemoryUserStore struct {
	mu      sync.RWMutex
	users   map[string]*model.User
	byEmail map[string]string
}

// NewMemoryUserStore returns an empty store
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users:   make(map[string]*model.User),
		byEmail: make(map[string]string),
	}
}

// CreateUser inserts a user, enforcing email uniqueness
func (s *MemoryUserStore) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = model.NormalizeEmail(user.Email)
	if _, exists := s.byEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}
	if user.Key == "" {
		user.Key = uuid.NewString()
	}

	s.users[user.Key] = cloneUser(user)
	s.byEmail[user.Email] = user.Key
	return nil
}

// GetUserByKey returns a copy of the user with key
func (s *MemoryUserStore) GetUserByKey(_ context.Context, key string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[key]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(u), nil
}

// GetUserByEmail returns a copy of the user with email
func (s *MemoryUserStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byEmail[model.NormalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(s.users[key]), nil
}

// ListUsers returns all users ordered by creation time
func (s *MemoryUserStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *cloneUser(u))
	}
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Email < users[j].Email
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

// UpdateProfile applies upd to the stored user
func (s *MemoryUserStore) UpdateProfile(_ context.Context, key string, upd model.ProfileUpdate, now time.Time) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[key]
	if !ok {
		return nil, ErrUserNotFound
	}
	upd.Apply(u)
	u.UpdatedAt = now
	return cloneUser(u), nil
}

// UpdateRole sets the role of a user
func (s *MemoryUserStore) UpdateRole(_ context.Context, key string, role model.Role, now time.Time) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[key]
	if !ok {
		return nil, ErrUserNotFound
	}
	u.Role = role
	u.UpdatedAt = now
	return cloneUser(u), nil
}

// SetResetToken stores a reset token with its expiry
func (s *MemoryUserStore) SetResetToken(_ context.Context, key, token string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[key]
	if !ok {
		return ErrUserNotFound
	}
	u.ResetToken = &token
	u.ResetExpires = &expires
	return nil
}

// FindByResetToken returns the user holding an unexpired token
func (s *MemoryUserStore) FindByResetToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.HasResetToken(token, now) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

// ConsumeResetToken checks and clears the token under the write lock
func (s *MemoryUserStore) ConsumeResetToken(_ context.Context, token string, now time.Time, passwordHash string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.HasResetToken(token, now) {
			u.PasswordHash = passwordHash
			u.ResetToken = nil
			u.ResetExpires = nil
			u.UpdatedAt = now
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

// ClearResetToken removes token wherever it is stored
func (s *MemoryUserStore) ClearResetToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ResetToken != nil && *u.ResetToken == token {
			u.ResetToken = nil
			u.ResetExpires = nil
		}
	}
	return nil
}

func cloneUser(u *model.User) *model.User {
	c := *u
	if u.ResetToken != nil {
		token := *u.ResetToken
		c.ResetToken = &token
	}
	if u.ResetExpires != nil {
		expires := *u.ResetExpires
		c.ResetExpires = &expires
	}
	if u.SocialLinks != nil {
		c.SocialLinks = make(map[string]string, len(u.SocialLinks))
		for k, v := range u.SocialLinks {
			c.SocialLinks[k] = v
		}
	}
	return &c
}
