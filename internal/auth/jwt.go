package auth

import (
	"errors"
	"fmt"
	"time"

	"recovery-caller/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	serviceTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		serviceTTL: cfg.ServiceTokenTTL,
	}, nil
}

// IssueRequest describes a token to mint. A zero TTL uses the configured
// default for the token type.
type IssueRequest struct {
	Subject   string
	Role      string
	Shop      string
	TokenType TokenType
	TTL       time.Duration
}

/* ===================== ISSUE TOKENS ===================== */

func (m *Manager) Issue(now time.Time, req IssueRequest) (string, error) {
	if req.Subject == "" || req.Role == "" {
		return "", errors.New("subject and role are required")
	}
	ttl := req.TTL
	switch req.TokenType {
	case TokenTypeAccess:
		if ttl <= 0 {
			ttl = m.accessTTL
		}
	case TokenTypeService:
		if ttl <= 0 {
			ttl = m.serviceTTL
		}
	default:
		return "", fmt.Errorf("unknown token type %q", req.TokenType)
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Subject,
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:      req.Role,
		Shop:      req.Shop,
		TokenType: req.TokenType,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

/* ===================== VERIFY TOKEN ===================== */

func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}

	if claims.TokenType != TokenTypeAccess && claims.TokenType != TokenTypeService {
		return Claims{}, errors.New("token_type invalid")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("subject missing")
	}
	if claims.Role == "" {
		return Claims{}, errors.New("role missing")
	}

	return claims, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
