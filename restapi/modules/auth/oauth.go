package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/community-site/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const oauthStateCookie = "oauth_state"

// OAuthCredentials are the client credentials for one provider
type OAuthCredentials struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// OAuthConfig configures external login providers
type OAuthConfig struct {
	Google OAuthCredentials `yaml:"google"`
	GitHub OAuthCredentials `yaml:"github"`
	// CallbackBase is the public API origin, e.g. https://api.example.org/api/v1
	CallbackBase string `yaml:"callback_base"`
	// FrontendURL receives the issued token after a successful login
	FrontendURL string `yaml:"frontend_url"`
}

type oauthProvider struct {
	config      *oauth2.Config
	userInfoURL string
	emailsURL   string
}

// OAuthProviders holds the configured providers
type OAuthProviders struct {
	providers   map[model.Provider]*oauthProvider
	frontendURL string
}

// NewOAuthProviders registers every provider with a client ID and secret
func NewOAuthProviders(cfg OAuthConfig) *OAuthProviders {
	p := &OAuthProviders{
		providers:   make(map[model.Provider]*oauthProvider),
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
	}
	base := strings.TrimRight(cfg.CallbackBase, "/")

	if cfg.Google.ClientID != "" && cfg.Google.ClientSecret != "" {
		p.providers[model.ProviderGoogle] = &oauthProvider{
			config: &oauth2.Config{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				RedirectURL:  base + "/auth/oauth/google/callback",
				Scopes:       []string{"openid", "email", "profile"},
				Endpoint:     endpoints.Google,
			},
			userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		}
	}

	if cfg.GitHub.ClientID != "" && cfg.GitHub.ClientSecret != "" {
		p.providers[model.ProviderGitHub] = &oauthProvider{
			config: &oauth2.Config{
				ClientID:     cfg.GitHub.ClientID,
				ClientSecret: cfg.GitHub.ClientSecret,
				RedirectURL:  base + "/auth/oauth/github/callback",
				Scopes:       []string{"read:user", "user:email"},
				Endpoint:     endpoints.GitHub,
			},
			userInfoURL: "https://api.github.com/user",
			emailsURL:   "https://api.github.com/user/emails",
		}
	}

	return p
}

// Enabled lists the configured providers
func (p *OAuthProviders) Enabled() []model.Provider {
	var enabled []model.Provider
	for _, name := range []model.Provider{model.ProviderGoogle, model.ProviderGitHub} {
		if _, ok := p.providers[name]; ok {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

func (p *OAuthProviders) lookup(name string) (model.Provider, *oauthProvider, bool) {
	provider, err := model.ParseProvider(name)
	if err != nil {
		return "", nil, false
	}
	cfg, ok := p.providers[provider]
	return provider, cfg, ok
}

// OAuthLogin redirects the browser to the provider consent screen
func OAuthLogin(providers *OAuthProviders) fiber.Handler {
	return func(c *fiber.Ctx) error {
		_, provider, ok := providers.lookup(c.Params("provider"))
		if !ok {
			return writeError(c, nil, &Error{Kind: KindUserNotFound, Message: "Unknown login provider"})
		}

		state, err := GenerateSecureToken(16)
		if err != nil {
			return writeError(c, nil, internalError(err))
		}

		c.Cookie(&fiber.Cookie{
			Name:     oauthStateCookie,
			Value:    state,
			Path:     "/",
			Expires:  time.Now().Add(10 * time.Minute),
			HTTPOnly: true,
			Secure:   c.Protocol() == "https",
			SameSite: "Lax",
		})

		return c.Redirect(provider.config.AuthCodeURL(state), fiber.StatusTemporaryRedirect)
	}
}

// OAuthCallback exchanges the code, finds or creates the account and hands
// the token to the frontend in the URL fragment
func OAuthCallback(svc *Service, providers *OAuthProviders) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name, provider, ok := providers.lookup(c.Params("provider"))
		if !ok {
			return writeError(c, svc.Logger(), &Error{Kind: KindUserNotFound, Message: "Unknown login provider"})
		}

		state := c.Query("state")
		expected := c.Cookies(oauthStateCookie)
		c.ClearCookie(oauthStateCookie)
		if state == "" || expected == "" || state != expected {
			return writeError(c, svc.Logger(), invalidInput("Invalid OAuth state"))
		}

		code := c.Query("code")
		if code == "" {
			return writeError(c, svc.Logger(), invalidInput("Missing authorization code"))
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), 15*time.Second)
		defer cancel()

		token, err := provider.config.Exchange(ctx, code)
		if err != nil {
			svc.Logger().Sugar().Warnf("OAuth code exchange with %s failed: %v", name, err)
			return writeError(c, svc.Logger(), ErrInvalidCredentials)
		}

		ident, err := provider.fetchIdentity(ctx, name, token)
		if err != nil {
			svc.Logger().Sugar().Warnf("Fetching %s profile failed: %v", name, err)
			return writeError(c, svc.Logger(), ErrInvalidCredentials)
		}

		result, err := svc.OAuthLogin(ctx, ident)
		if err != nil {
			return writeError(c, svc.Logger(), err)
		}

		if providers.frontendURL == "" {
			return authResponse(c, fiber.StatusOK, "Login successful", result)
		}

		fragment := url.Values{"token": {result.Token}}
		return c.Redirect(providers.frontendURL+"/auth/callback#"+fragment.Encode(), fiber.StatusFound)
	}
}

func (p *oauthProvider) fetchIdentity(ctx context.Context, name model.Provider, token *oauth2.Token) (OAuthIdentity, error) {
	client := p.config.Client(ctx, token)

	switch name {
	case model.ProviderGoogle:
		var info struct {
			Sub           string `json:"sub"`
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
			GivenName     string `json:"given_name"`
			FamilyName    string `json:"family_name"`
		}
		if err := getJSON(ctx, client, p.userInfoURL, &info); err != nil {
			return OAuthIdentity{}, err
		}
		if !info.EmailVerified {
			return OAuthIdentity{}, fmt.Errorf("google email %q is not verified", info.Email)
		}
		return OAuthIdentity{
			Provider:   name,
			ExternalID: info.Sub,
			Email:      info.Email,
			FirstName:  info.GivenName,
			LastName:   info.FamilyName,
		}, nil

	case model.ProviderGitHub:
		var info struct {
			ID    int64  `json:"id"`
			Login string `json:"login"`
			Name  string `json:"name"`
		}
		if err := getJSON(ctx, client, p.userInfoURL, &info); err != nil {
			return OAuthIdentity{}, err
		}

		// the profile email may be private, so use the verified primary address
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(ctx, client, p.emailsURL, &emails); err != nil {
			return OAuthIdentity{}, err
		}
		email := ""
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
		if email == "" {
			return OAuthIdentity{}, fmt.Errorf("github account %s has no verified primary email", info.Login)
		}

		first, last := splitName(info.Name)
		if first == "" {
			first = info.Login
		}
		return OAuthIdentity{
			Provider:   name,
			ExternalID: strconv.FormatInt(info.ID, 10),
			Email:      email,
			FirstName:  first,
			LastName:   last,
		}, nil
	}

	return OAuthIdentity{}, fmt.Errorf("unsupported provider %s", name)
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned %s", endpoint, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func splitName(full string) (string, string) {
	fields := strings.Fields(full)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
