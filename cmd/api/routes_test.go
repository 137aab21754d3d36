package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"recovery-caller/internal/auth"
	"recovery-caller/internal/billing"
	"recovery-caller/internal/calls"
	"recovery-caller/internal/config"
	"recovery-caller/internal/httpapi"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSweeper struct{ calls int }

func (s *stubSweeper) RunSweep(ctx context.Context, now time.Time, limit int) (calls.SweepResult, error) {
	s.calls++
	return calls.SweepResult{}, nil
}

func newTestEngine(t *testing.T) (*gin.Engine, *auth.Manager, *stubSweeper) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, ServiceTokenTTL: time.Hour})
	require.NoError(t, err)

	sw := &stubSweeper{}
	r := gin.New()
	registerRoutes(r, routeDeps{
		authMW: auth.RequireToken(m),
		api:    httpapi.Handlers{Sweeper: sw, Billing: billing.NewMemoryStore()},
	})
	return r, m, sw
}

func request(t *testing.T, r http.Handler, m *auth.Manager, method, path string, req auth.IssueRequest) int {
	t.Helper()
	httpReq := httptest.NewRequest(method, path, nil)
	if req.Role != "" {
		tok, err := m.Issue(time.Now(), req)
		require.NoError(t, err)
		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httpReq)
	return w.Code
}

func TestRoutes_SweepNeedsSchedulerToken(t *testing.T) {
	r, m, sw := newTestEngine(t)

	assert.Equal(t, http.StatusUnauthorized, request(t, r, m, http.MethodPost, "/internal/sweep", auth.IssueRequest{}))
	assert.Equal(t, http.StatusForbidden, request(t, r, m, http.MethodPost, "/internal/sweep",
		auth.IssueRequest{Subject: "ops", Role: "operator", TokenType: auth.TokenTypeAccess}))
	assert.Equal(t, http.StatusOK, request(t, r, m, http.MethodPost, "/internal/sweep",
		auth.IssueRequest{Subject: "cron", Role: "scheduler", TokenType: auth.TokenTypeService}))
	assert.Equal(t, 1, sw.calls)
}

func TestRoutes_AdminShopScope(t *testing.T) {
	r, m, _ := newTestEngine(t)
	path := "/v1/admin/shops/demo.myshopify.com/billing"

	assert.Equal(t, http.StatusOK, request(t, r, m, http.MethodGet, path,
		auth.IssueRequest{Subject: "ops", Role: "operator", TokenType: auth.TokenTypeAccess}))
	assert.Equal(t, http.StatusForbidden, request(t, r, m, http.MethodGet, path,
		auth.IssueRequest{Subject: "ops", Role: "operator", Shop: "other.myshopify.com", TokenType: auth.TokenTypeAccess}))
	assert.Equal(t, http.StatusForbidden, request(t, r, m, http.MethodGet, path,
		auth.IssueRequest{Subject: "cron", Role: "scheduler", TokenType: auth.TokenTypeService}))
}

func TestRoutes_Health(t *testing.T) {
	r, m, _ := newTestEngine(t)
	assert.Equal(t, http.StatusOK, request(t, r, m, http.MethodGet, "/healthz", auth.IssueRequest{}))
	assert.Equal(t, http.StatusOK, request(t, r, m, http.MethodGet, "/readyz", auth.IssueRequest{}))
}
