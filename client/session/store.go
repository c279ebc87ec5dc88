// Package session keeps the signed-in state of an API client: the bearer
// token, a cached profile, and the route guard built on them.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ortelius/community-site/model"
)

// Session is the client-held login state. The cached profile is advisory;
// the server re-verifies the token on every protected request.
type Session struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
	Profile   *model.Profile `json:"profile,omitempty"`
}

// LoggedIn reports whether both the token and the profile are present
func (s Session) LoggedIn() bool {
	return s.Token != "" && s.Profile != nil
}

// Store persists a Session between runs
type Store interface {
	Load() (Session, error)
	Save(Session) error
	Clear() error
}

// MemoryStore keeps the session in process
type MemoryStore struct {
	mu      sync.Mutex
	session Session
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the current session
func (m *MemoryStore) Load() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, nil
}

// Save replaces the session
func (m *MemoryStore) Save(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
	return nil
}

// Clear forgets the session
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = Session{}
	return nil
}

// FileStore keeps the session in a JSON file readable only by the owner
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore stores the session at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath is ~/.config/community-site/session.json or the platform equivalent
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "community-site", "session.json"), nil
}

// Load reads the session. A missing file is an empty session.
func (f *FileStore) Load() (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", f.path, err)
	}
	return s, nil
}

// Save writes the session atomically through a temp file and rename
func (f *FileStore) Save(s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("create temp session: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// Clear removes the session file
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
