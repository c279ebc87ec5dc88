package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ortelius/community-site/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-key-at-least-32-chars-long"

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *recordingMailer) messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// countingStore wraps a store and counts reset-token writes
type countingStore struct {
	database.UserStore
	mu          sync.Mutex
	resetWrites int
}

func (s *countingStore) SetResetToken(ctx context.Context, key, token string, expires time.Time) error {
	s.mu.Lock()
	s.resetWrites++
	s.mu.Unlock()
	return s.UserStore.SetResetToken(ctx, key, token, expires)
}

func (s *countingStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetWrites
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc    *Service
	store  *countingStore
	mailer *recordingMailer
	tokens *TokenIssuer
	clock  *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	tokens, err := NewTokenIssuer([]byte(testSecret), DefaultTokenValidity, "community-site")
	require.NoError(t, err)
	tokens = tokens.WithClock(clock.Now)

	store := &countingStore{UserStore: database.NewMemoryUserStore()}
	mailer := &recordingMailer{}

	svc := NewService(store, tokens, mailer, ServiceConfig{
		PasswordCost: bcrypt.MinCost,
		BaseURL:      "https://community.example.org",
		SiteName:     "Community",
	}, zap.NewNop()).WithClock(clock.Now)

	return &testEnv{svc: svc, store: store, mailer: mailer, tokens: tokens, clock: clock}
}

func (e *testEnv) signup(t *testing.T, email, password string) *AuthResult {
	t.Helper()
	res, err := e.svc.Signup(context.Background(), SignupRequest{Email: email, Password: password, FirstName: "Test", LastName: "User"})
	require.NoError(t, err)
	return res
}

// resetTokenFor requests a reset and returns the token from the stored record
func (e *testEnv) resetTokenFor(t *testing.T, email string) string {
	t.Helper()
	e.svc.ForgotPassword(context.Background(), email)
	e.svc.Wait()

	user, err := e.store.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, user.ResetToken)
	return *user.ResetToken
}

func adminContext(userID string) context.Context {
	return WithIdentity(context.Background(), Identity{UserID: userID, Role: "admin"})
}
