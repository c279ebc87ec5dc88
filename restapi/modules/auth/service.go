package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ortelius/community-site/database"
	"github.com/ortelius/community-site/internal/metrics"
	"github.com/ortelius/community-site/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// DefaultResetTTL is how long a password reset token stays usable
const DefaultResetTTL = time.Hour

// ForgotPasswordMessage is returned for every forgot-password request
const ForgotPasswordMessage = "If an account exists for that email, a password reset link has been sent."

// mailTimeout bounds a single reset email dispatch
const mailTimeout = 30 * time.Second

// ServiceConfig tunes the auth service
type ServiceConfig struct {
	ResetTTL     time.Duration
	PasswordCost int    // bcrypt cost, 0 for bcrypt.DefaultCost
	BaseURL      string // frontend origin used in reset links
	SiteName     string
}

// SignupRequest is the input to Signup
type SignupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// AuthResult is returned by every operation that logs the user in
type AuthResult struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      model.Profile `json:"user"`
}

// OAuthIdentity is what an external provider tells us about a user
type OAuthIdentity struct {
	Provider   model.Provider
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
}

// Service is the only writer of credential state
type Service struct {
	store  database.UserStore
	tokens *TokenIssuer
	mailer Mailer
	cfg    ServiceConfig
	logger *zap.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string

	mailWG sync.WaitGroup
}

// NewService wires the auth service
func NewService(store database.UserStore, tokens *TokenIssuer, mailer Mailer, cfg ServiceConfig, logger *zap.Logger) *Service {
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultResetTTL
	}
	if cfg.PasswordCost == 0 {
		cfg.PasswordCost = bcrypt.DefaultCost
	}
	if cfg.SiteName == "" {
		cfg.SiteName = "Community Site"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if mailer == nil {
		mailer = NewLogMailer(logger)
	}
	return &Service{
		store:  store,
		tokens: tokens,
		mailer: mailer,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the service clock
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Tokens returns the issuer used by the service
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// Logger returns the service logger
func (s *Service) Logger() *zap.Logger {
	return s.logger
}

// Wait blocks until queued reset emails have been handed to the mailer
func (s *Service) Wait() {
	s.mailWG.Wait()
}

// Signup creates a local viewer account and logs it in
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResult, error) {
	email, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}
	if err := validateNames(&req.FirstName, &req.LastName); err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password, s.cfg.PasswordCost)
	if err != nil {
		return nil, internalError(err)
	}

	user := model.NewUser(email, req.FirstName, req.LastName)
	user.CreatedAt = s.now().UTC()
	user.UpdatedAt = user.CreatedAt
	user.PasswordHash = hash

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicateEmail) {
			metrics.RecordAuth("signup", "duplicate")
			return nil, ErrDuplicateEmail
		}
		return nil, internalError(err)
	}

	s.logger.Sugar().Infof("User %s signed up", user.Key)
	metrics.RecordAuth("signup", "success")
	return s.result(user)
}

// Login checks a local password. Unknown email, OAuth-only account and wrong
// password all return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.store.GetUserByEmail(ctx, model.NormalizeEmail(email))
	if err != nil && !errors.Is(err, database.ErrUserNotFound) {
		return nil, internalError(err)
	}

	if user == nil || !user.IsLocal() || user.PasswordHash == "" {
		// burn the same bcrypt time as a real comparison
		CheckPasswordHash(password, s.dummyPasswordHash())
		metrics.RecordAuth("login", "failure")
		return nil, ErrInvalidCredentials
	}

	if !CheckPasswordHash(password, user.PasswordHash) {
		metrics.RecordAuth("login", "failure")
		return nil, ErrInvalidCredentials
	}

	metrics.RecordAuth("login", "success")
	return s.result(user)
}

// ForgotPassword stores a reset token for a local account and mails it. The
// caller always gets the same answer.
func (s *Service) ForgotPassword(ctx context.Context, email string) string {
	user, err := s.store.GetUserByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, database.ErrUserNotFound) {
			s.logger.Sugar().Errorf("Forgot password lookup failed: %v", err)
		}
		metrics.RecordAuth("forgot_password", "unknown")
		return ForgotPasswordMessage
	}
	if !user.IsLocal() {
		metrics.RecordAuth("forgot_password", "oauth")
		return ForgotPasswordMessage
	}

	token, err := GenerateSecureToken(32)
	if err != nil {
		s.logger.Sugar().Errorf("Failed to generate reset token: %v", err)
		return ForgotPasswordMessage
	}

	expires := s.now().UTC().Add(s.cfg.ResetTTL)
	if err := s.store.SetResetToken(ctx, user.Key, token, expires); err != nil {
		s.logger.Sugar().Errorf("Failed to store reset token for user %s: %v", user.Key, err)
		return ForgotPasswordMessage
	}

	msg, err := PasswordResetMessage(s.cfg.SiteName, s.cfg.BaseURL, user.Email, token, s.cfg.ResetTTL)
	if err != nil {
		s.logger.Sugar().Errorf("Failed to build reset email for user %s: %v", user.Key, err)
		return ForgotPasswordMessage
	}

	// delivery happens off the request path so response time does not depend
	// on whether the account exists
	s.mailWG.Add(1)
	go func() {
		defer s.mailWG.Done()
		mailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mailTimeout)
		defer cancel()
		if err := s.mailer.Send(mailCtx, msg); err != nil {
			s.logger.Sugar().Warnf("Password reset email to user %s failed: %v", user.Key, err)
		}
	}()

	metrics.RecordAuth("forgot_password", "issued")
	return ForgotPasswordMessage
}

// VerifyResetToken reports whether token is held by a user and unexpired
func (s *Service) VerifyResetToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	_, err := s.store.FindByResetToken(ctx, token, s.now().UTC())
	if errors.Is(err, database.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, internalError(err)
	}
	return true, nil
}

// ResetPassword consumes token and sets a new password in one conditional update
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (*AuthResult, error) {
	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	if err := ValidatePassword(newPassword); err != nil {
		return nil, err
	}

	hash, err := HashPassword(newPassword, s.cfg.PasswordCost)
	if err != nil {
		return nil, internalError(err)
	}

	user, err := s.store.ConsumeResetToken(ctx, token, s.now().UTC(), hash)
	if errors.Is(err, database.ErrUserNotFound) {
		// an expired token is still stored, drop it
		if clearErr := s.store.ClearResetToken(ctx, token); clearErr != nil {
			s.logger.Sugar().Warnf("Failed to clear rejected reset token: %v", clearErr)
		}
		metrics.RecordAuth("reset_password", "rejected")
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, internalError(err)
	}

	s.logger.Sugar().Infof("User %s reset their password", user.Key)
	metrics.RecordAuth("reset_password", "success")
	return s.result(user)
}

// UpdateProfile changes the caller's display fields
func (s *Service) UpdateProfile(ctx context.Context, upd model.ProfileUpdate) (*model.Profile, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if upd.Empty() {
		return nil, invalidInput("No profile fields to update")
	}
	if err := validateNames(upd.FirstName, upd.LastName); err != nil {
		return nil, err
	}

	user, err := s.store.UpdateProfile(ctx, id.UserID, upd, s.now().UTC())
	if errors.Is(err, database.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, internalError(err)
	}

	profile := user.Profile()
	return &profile, nil
}

// Me returns the caller's stored profile
func (s *Service) Me(ctx context.Context) (*model.Profile, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}

	user, err := s.store.GetUserByKey(ctx, id.UserID)
	if errors.Is(err, database.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, internalError(err)
	}

	profile := user.Profile()
	return &profile, nil
}

// ListUsers returns all profiles. The caller must be an admin.
func (s *Service) ListUsers(ctx context.Context) ([]model.Profile, error) {
	if err := requireRole(ctx, model.RoleAdmin); err != nil {
		return nil, err
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, internalError(err)
	}

	profiles := make([]model.Profile, 0, len(users))
	for i := range users {
		profiles = append(profiles, users[i].Profile())
	}
	return profiles, nil
}

// ChangeRole sets the role of userID. The caller must be an admin. Tokens
// already issued to userID keep their old role until they expire.
func (s *Service) ChangeRole(ctx context.Context, userID, role string) (*model.Profile, error) {
	if err := requireRole(ctx, model.RoleAdmin); err != nil {
		return nil, err
	}

	newRole, err := model.ParseRole(role)
	if err != nil {
		return nil, invalidInput("Role must be one of viewer, editor, admin")
	}

	user, err := s.store.UpdateRole(ctx, userID, newRole, s.now().UTC())
	if errors.Is(err, database.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, internalError(err)
	}

	caller, _ := IdentityFromContext(ctx)
	s.logger.Sugar().Infof("User %s changed role of %s to %s", caller.UserID, user.Key, newRole)
	metrics.RecordAuth("change_role", "success")

	profile := user.Profile()
	return &profile, nil
}

// OAuthLogin logs in the account with the provider's email, creating a viewer
// account without a password the first time
func (s *Service) OAuthLogin(ctx context.Context, ident OAuthIdentity) (*AuthResult, error) {
	if ident.Provider == model.ProviderLocal || ident.Provider == "" {
		return nil, invalidInput("Unsupported auth provider")
	}
	email, err := ValidateEmail(ident.Email)
	if err != nil {
		return nil, invalidInput("Provider did not return a usable email address")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		metrics.RecordAuth("oauth_login", "success")
		return s.result(user)
	}
	if !errors.Is(err, database.ErrUserNotFound) {
		return nil, internalError(err)
	}

	user = model.NewUser(email, ident.FirstName, ident.LastName)
	user.CreatedAt = s.now().UTC()
	user.UpdatedAt = user.CreatedAt
	user.AuthProvider = ident.Provider
	user.ExternalID = ident.ExternalID

	if err := s.store.CreateUser(ctx, user); err != nil {
		if !errors.Is(err, database.ErrDuplicateEmail) {
			return nil, internalError(err)
		}
		// lost a race with a concurrent first login
		if user, err = s.store.GetUserByEmail(ctx, email); err != nil {
			return nil, internalError(err)
		}
	} else {
		s.logger.Sugar().Infof("Created %s account %s", ident.Provider, user.Key)
	}

	metrics.RecordAuth("oauth_login", "success")
	return s.result(user)
}

// BootstrapAdmin creates a local admin account when none exists for email
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) (bool, error) {
	normalized, err := ValidateEmail(email)
	if err != nil {
		return false, err
	}
	if err := ValidatePassword(password); err != nil {
		return false, err
	}

	if _, err := s.store.GetUserByEmail(ctx, normalized); err == nil {
		return false, nil
	} else if !errors.Is(err, database.ErrUserNotFound) {
		return false, err
	}

	hash, err := HashPassword(password, s.cfg.PasswordCost)
	if err != nil {
		return false, err
	}

	user := model.NewUser(normalized, "Site", "Admin")
	user.Role = model.RoleAdmin
	user.PasswordHash = hash
	user.CreatedAt = s.now().UTC()
	user.UpdatedAt = user.CreatedAt

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicateEmail) {
			return false, nil
		}
		return false, err
	}

	s.logger.Sugar().Infof("Bootstrapped admin account %s", user.Key)
	return true, nil
}

func (s *Service) result(user *model.User) (*AuthResult, error) {
	token, expires, err := s.tokens.Issue(user.Key, user.Role)
	if err != nil {
		return nil, internalError(err)
	}
	return &AuthResult{Token: token, ExpiresAt: expires, User: user.Profile()}, nil
}

func (s *Service) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		hash, err := HashPassword(strings.Repeat("x", MinPasswordLength), s.cfg.PasswordCost)
		if err != nil {
			s.logger.Sugar().Errorf("Failed to prepare dummy hash: %v", err)
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func requireRole(ctx context.Context, roles ...model.Role) error {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return ErrNotAuthenticated
	}
	if !id.Role.In(roles...) {
		return ErrForbidden
	}
	return nil
}
