package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	// TokenTypeAccess is a short-lived token for a person at the admin API.
	TokenTypeAccess TokenType = "access"
	// TokenTypeService is a long-lived token for a machine caller such as the
	// sweep scheduler.
	TokenTypeService TokenType = "service"
)

// Claims are the only supported JWT claims shape for this service. The
// subject is in RegisteredClaims.Subject. Shop, when set, restricts the token
// to that shop's admin routes.
type Claims struct {
	jwt.RegisteredClaims

	Role      string    `json:"role"`
	Shop      string    `json:"shop,omitempty"`
	TokenType TokenType `json:"token_type"`
}
