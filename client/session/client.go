package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ortelius/community-site/model"
)

// Client errors
var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrSessionExpired = errors.New("session expired, please log in again")
	ErrForbidden      = errors.New("insufficient permissions")
)

// APIError is a non-auth failure reported by the server
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// envelope is the union of the API's JSON response bodies
type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	User      *model.Profile  `json:"user"`
	Users     []model.Profile `json:"users"`
	Valid     bool            `json:"valid"`
}

// Client calls the REST API and keeps the session in Store
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Store   Store
	// PublicPath is where Logout sends the user
	PublicPath string
}

// NewClient returns a client for the API mounted at baseURL, e.g. http://localhost:3000/api/v1
func NewClient(baseURL string, store Store) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTP:       &http.Client{Timeout: 15 * time.Second},
		Store:      store,
		PublicPath: "/login",
	}
}

// SignupInput is the signup form
type SignupInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Signup creates an account and stores the new session
func (c *Client) Signup(ctx context.Context, in SignupInput) (Session, error) {
	var out envelope
	if err := c.do(ctx, http.MethodPost, "/auth/signup", false, in, &out); err != nil {
		return Session{}, err
	}
	return c.persist(out)
}

// Login authenticates and stores the session
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var out envelope
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", false, body, &out); err != nil {
		return Session{}, err
	}
	return c.persist(out)
}

// ForgotPassword requests a reset email and returns the server's generic message
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	var out envelope
	if err := c.do(ctx, http.MethodPost, "/auth/forgot-password", false, map[string]string{"email": email}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// VerifyResetToken reports whether token can still be used
func (c *Client) VerifyResetToken(ctx context.Context, token string) (bool, error) {
	var out envelope
	if err := c.do(ctx, http.MethodGet, "/auth/reset-password/"+url.PathEscape(token)+"/verify", false, nil, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// ResetPassword sets a new password with token and stores the new session
func (c *Client) ResetPassword(ctx context.Context, token, password string) (Session, error) {
	var out envelope
	if err := c.do(ctx, http.MethodPost, "/auth/reset-password/"+url.PathEscape(token), false, map[string]string{"password": password}, &out); err != nil {
		return Session{}, err
	}
	return c.persist(out)
}

// Me fetches the current profile and refreshes the cached copy
func (c *Client) Me(ctx context.Context) (*model.Profile, error) {
	var out envelope
	if err := c.do(ctx, http.MethodGet, "/auth/me", true, nil, &out); err != nil {
		return nil, err
	}
	return out.User, c.refreshProfile(out.User)
}

// UpdateProfile changes display fields and refreshes the cached copy
func (c *Client) UpdateProfile(ctx context.Context, upd model.ProfileUpdate) (*model.Profile, error) {
	var out envelope
	if err := c.do(ctx, http.MethodPut, "/auth/profile", true, upd, &out); err != nil {
		return nil, err
	}
	return out.User, c.refreshProfile(out.User)
}

// ListUsers returns every member. Admin only.
func (c *Client) ListUsers(ctx context.Context) ([]model.Profile, error) {
	var out envelope
	if err := c.do(ctx, http.MethodGet, "/auth/users", true, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// ChangeRole sets the role of userID. Admin only.
func (c *Client) ChangeRole(ctx context.Context, userID string, role model.Role) (*model.Profile, error) {
	var out envelope
	path := "/auth/users/" + url.PathEscape(userID) + "/role"
	if err := c.do(ctx, http.MethodPut, path, true, map[string]string{"role": string(role)}, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Logout clears the stored session and returns the route to show next
func (c *Client) Logout() (string, error) {
	if err := c.Store.Clear(); err != nil {
		return "", err
	}
	return c.PublicPath, nil
}

func (c *Client) persist(out envelope) (Session, error) {
	if out.Token == "" || out.User == nil {
		return Session{}, errors.New("server response is missing the token or profile")
	}
	s := Session{Token: out.Token, ExpiresAt: out.ExpiresAt, Profile: out.User}
	if err := c.Store.Save(s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (c *Client) refreshProfile(p *model.Profile) error {
	if p == nil {
		return nil
	}
	s, err := c.Store.Load()
	if err != nil || !s.LoggedIn() {
		return err
	}
	s.Profile = p
	return c.Store.Save(s)
}

func (c *Client) do(ctx context.Context, method, path string, protected bool, in interface{}, out *envelope) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if protected {
		s, err := c.Store.Load()
		if err != nil {
			return err
		}
		if s.Token == "" {
			return ErrNotLoggedIn
		}
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return &APIError{Status: resp.StatusCode, Message: "unexpected response from server"}
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized && protected:
		// the token expired or was rejected, drop it
		if err := c.Store.Clear(); err != nil {
			return err
		}
		return ErrSessionExpired
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode >= 400:
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}

	if out != nil {
		*out = env
	}
	return nil
}
