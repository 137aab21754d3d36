package auth

import (
	"testing"
	"time"

	"recovery-caller/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		ServiceTokenTTL: 24 * time.Hour,
	})
	require.NoError(t, err)
	return m
}

func TestIssueAndVerify(t *testing.T) {
	m := newTestManager(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, err := m.Issue(now, IssueRequest{Subject: "ops@demo", Role: "operator", Shop: "demo.myshopify.com", TokenType: TokenTypeAccess})
	require.NoError(t, err)

	claims, err := m.Verify(tok, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "ops@demo", claims.Subject)
	assert.Equal(t, "operator", claims.Role)
	assert.Equal(t, "demo.myshopify.com", claims.Shop)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
}

func TestVerify_UsesTokenTypeDefaultTTL(t *testing.T) {
	m := newTestManager(t)
	now := time.Unix(1700000000, 0).UTC()

	access, err := m.Issue(now, IssueRequest{Subject: "u", Role: "operator", TokenType: TokenTypeAccess})
	require.NoError(t, err)
	service, err := m.Issue(now, IssueRequest{Subject: "cron", Role: "scheduler", TokenType: TokenTypeService})
	require.NoError(t, err)

	later := now.Add(time.Hour)
	_, err = m.Verify(access, later)
	assert.Error(t, err)
	_, err = m.Verify(service, later)
	assert.NoError(t, err)
}

func TestVerify_RejectsOtherSecretAndAudience(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager(config.AuthConfig{JWTSecret: "other", JWTIssuer: "issuer", JWTAudience: "aud", AccessTokenTTL: time.Minute})
	require.NoError(t, err)
	wrongAud, err := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "issuer", JWTAudience: "elsewhere", AccessTokenTTL: time.Minute})
	require.NoError(t, err)

	now := time.Now()
	tok, err := other.Issue(now, IssueRequest{Subject: "u", Role: "operator", TokenType: TokenTypeAccess})
	require.NoError(t, err)
	_, err = m.Verify(tok, now)
	assert.Error(t, err)

	tok, err = wrongAud.Issue(now, IssueRequest{Subject: "u", Role: "operator", TokenType: TokenTypeAccess})
	require.NoError(t, err)
	_, err = m.Verify(tok, now)
	assert.Error(t, err)
}

func TestIssue_Validates(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Issue(time.Now(), IssueRequest{Role: "operator", TokenType: TokenTypeAccess})
	assert.Error(t, err)
	_, err = m.Issue(time.Now(), IssueRequest{Subject: "u", Role: "operator", TokenType: "refresh"})
	assert.Error(t, err)
}
