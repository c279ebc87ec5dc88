package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/community-site/database"
	"github.com/ortelius/community-site/model"
	"github.com/ortelius/community-site/restapi/modules/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "api-test-secret-api-test-secret-1234"

type capturingMailer struct {
	mu   sync.Mutex
	sent []auth.Message
}

func (m *capturingMailer) Send(_ context.Context, msg auth.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

type harness struct {
	app    *fiber.App
	svc    *auth.Service
	store  *database.MemoryUserStore
	mailer *capturingMailer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	tokens, err := auth.NewTokenIssuer([]byte(testSecret), auth.DefaultTokenValidity, "community-site")
	require.NoError(t, err)

	store := database.NewMemoryUserStore()
	mailer := &capturingMailer{}
	svc := auth.NewService(store, tokens, mailer, auth.ServiceConfig{
		PasswordCost: bcrypt.MinCost,
		BaseURL:      "https://community.example.org",
		SiteName:     "Community",
	}, zap.NewNop())

	app, err := NewFiberApp(Options{Service: svc, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)

	return &harness{app: app, svc: svc, store: store, mailer: mailer}
}

func (h *harness) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (h *harness) signup(t *testing.T, email string) (string, string) {
	t.Helper()
	status, body := h.do(t, http.MethodPost, "/api/v1/auth/signup", "", fiber.Map{"email": email, "password": "secret1"})
	require.Equal(t, http.StatusCreated, status, body)
	return body["token"].(string), body["user"].(map[string]interface{})["id"].(string)
}

func (h *harness) adminToken(t *testing.T) string {
	t.Helper()
	created, err := h.svc.BootstrapAdmin(context.Background(), "root@x.com", "rootpass")
	require.NoError(t, err)
	require.True(t, created)

	status, body := h.do(t, http.MethodPost, "/api/v1/auth/login", "", fiber.Map{"email": "root@x.com", "password": "rootpass"})
	require.Equal(t, http.StatusOK, status)
	return body["token"].(string)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	h.do(t, http.MethodPost, "/api/v1/auth/login", "", fiber.Map{"email": "nobody@x.com", "password": "wrongpw"})

	resp, err := h.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "community_auth_events_total")
	assert.Contains(t, string(raw), "community_http_requests_total")
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["success"])
}

// Property 7
func TestRequireRoleAdminOnUsersRoute(t *testing.T) {
	h := newHarness(t)
	viewerToken, viewerID := h.signup(t, "viewer@x.com")
	adminToken := h.adminToken(t)

	status, body := h.do(t, http.MethodGet, "/api/v1/auth/users", viewerToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, false, body["success"])

	status, body = h.do(t, http.MethodGet, "/api/v1/auth/users", adminToken, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["count"])

	status, _ = h.do(t, http.MethodPut, "/api/v1/auth/users/"+viewerID+"/role", viewerToken, fiber.Map{"role": "editor"})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = h.do(t, http.MethodPut, "/api/v1/auth/users/"+viewerID+"/role", adminToken, fiber.Map{"role": "editor"})
	assert.Equal(t, http.StatusOK, status)
}

// Property 8
func TestForeignSecretIsRejectedLikeMissingToken(t *testing.T) {
	h := newHarness(t)
	_, userID := h.signup(t, "a@x.com")

	forger, err := auth.NewTokenIssuer([]byte("not-the-server-secret-not-the-server"), auth.DefaultTokenValidity, "community-site")
	require.NoError(t, err)
	forged, _, err := forger.Issue(userID, model.RoleAdmin)
	require.NoError(t, err)

	routes := []struct {
		method, path string
		body         interface{}
	}{
		{http.MethodGet, "/api/v1/auth/me", nil},
		{http.MethodPut, "/api/v1/auth/profile", fiber.Map{"bio": "x"}},
		{http.MethodGet, "/api/v1/auth/users", nil},
		{http.MethodPut, "/api/v1/auth/users/" + userID + "/role", fiber.Map{"role": "admin"}},
	}

	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			missingStatus, missingBody := h.do(t, r.method, r.path, "", r.body)
			forgedStatus, forgedBody := h.do(t, r.method, r.path, forged, r.body)

			assert.Equal(t, http.StatusUnauthorized, missingStatus)
			assert.Equal(t, missingStatus, forgedStatus)
			assert.Equal(t, missingBody, forgedBody)
		})
	}

	for _, garbage := range []string{"x", "a.b.c", strings.Repeat("A", 4096), "e30.e30."} {
		status, _ := h.do(t, http.MethodGet, "/api/v1/auth/me", garbage, nil)
		assert.Equal(t, http.StatusUnauthorized, status, "token %q", garbage)
	}

	stored, err := h.store.GetUserByKey(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleViewer, stored.Role, "forged admin token changed nothing")
}

// Property 9
func TestRoleChangeNeedsNewToken(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/api/v1/auth/signup", "", fiber.Map{"email": "a@x.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, status)
	token := body["token"].(string)
	require.NotEmpty(t, token)
	userID := body["user"].(map[string]interface{})["id"].(string)

	rolePath := "/api/v1/auth/users/" + userID + "/role"
	status, body = h.do(t, http.MethodPut, rolePath, token, fiber.Map{"role": "admin"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Insufficient permissions", body["message"])

	// promote directly in the store
	_, err := h.store.UpdateRole(context.Background(), userID, model.RoleAdmin, time.Now())
	require.NoError(t, err)

	status, _ = h.do(t, http.MethodPut, rolePath, token, fiber.Map{"role": "admin"})
	assert.Equal(t, http.StatusForbidden, status, "pre-issued token keeps its viewer role")

	status, body = h.do(t, http.MethodPost, "/api/v1/auth/login", "", fiber.Map{"email": "a@x.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, status)
	fresh := body["token"].(string)

	status, _ = h.do(t, http.MethodPut, rolePath, fresh, fiber.Map{"role": "admin"})
	assert.Equal(t, http.StatusOK, status)
}

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "a@x.com")

	status, known := h.do(t, http.MethodPost, "/api/v1/auth/forgot-password", "", fiber.Map{"email": "A@X.com"})
	require.Equal(t, http.StatusOK, status)
	_, unknown := h.do(t, http.MethodPost, "/api/v1/auth/forgot-password", "", fiber.Map{"email": "ghost@x.com"})
	assert.Equal(t, known, unknown)
	h.svc.Wait()

	h.mailer.mu.Lock()
	require.Len(t, h.mailer.sent, 1)
	body := h.mailer.sent[0].Body
	h.mailer.mu.Unlock()

	const marker = "/reset-password/"
	start := strings.Index(body, marker)
	require.GreaterOrEqual(t, start, 0)
	token := body[start+len(marker):]
	token = token[:strings.IndexByte(token, '"')]

	status, verify := h.do(t, http.MethodGet, "/api/v1/auth/reset-password/"+token+"/verify", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, verify["valid"])

	status, reset := h.do(t, http.MethodPost, "/api/v1/auth/reset-password/"+token, "", fiber.Map{"password": "newsecret"})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, reset["token"])

	status, _ = h.do(t, http.MethodPost, "/api/v1/auth/reset-password/"+token, "", fiber.Map{"password": "newsecret2"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodPost, "/api/v1/auth/login", "", fiber.Map{"email": "a@x.com", "password": "newsecret"})
	assert.Equal(t, http.StatusOK, status)
}

func TestGraphQLUsersGating(t *testing.T) {
	h := newHarness(t)
	viewerToken, _ := h.signup(t, "viewer@x.com")
	adminToken := h.adminToken(t)

	query := fiber.Map{"query": "{ me { email role } }"}

	_, body := h.do(t, http.MethodPost, "/api/v1/graphql", viewerToken, query)
	me := body["data"].(map[string]interface{})["me"].(map[string]interface{})
	assert.Equal(t, "viewer@x.com", me["email"])
	assert.Equal(t, "viewer", me["role"])

	_, body = h.do(t, http.MethodPost, "/api/v1/graphql", "", query)
	require.NotEmpty(t, body["errors"])
	assert.Equal(t, "Authentication required", body["errors"].([]interface{})[0].(map[string]interface{})["message"])

	users := fiber.Map{"query": "{ users(role: admin) { email } }"}
	_, body = h.do(t, http.MethodPost, "/api/v1/graphql", viewerToken, users)
	require.NotEmpty(t, body["errors"])
	assert.Equal(t, "Insufficient permissions", body["errors"].([]interface{})[0].(map[string]interface{})["message"])

	_, body = h.do(t, http.MethodPost, "/api/v1/graphql", adminToken, users)
	assert.Empty(t, body["errors"])
	list := body["data"].(map[string]interface{})["users"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "root@x.com", list[0].(map[string]interface{})["email"])

	status, _ := h.do(t, http.MethodPost, "/api/v1/graphql", "", fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, status)
}
