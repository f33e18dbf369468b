package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload issued at login and checked by the
// api_key_required pre-condition. The role claim is what distinguishes
// an interactive session token from an API key.
type Claims struct {
	jwt.RegisteredClaims

	Username string `json:"username,omitempty"`
	Realm    string `json:"realm,omitempty"`
	Role     string `json:"role,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	AuthType string `json:"authtype,omitempty"`
}

// Principal converts the claims into the identity they assert
func (c *Claims) Principal() Principal {
	return Principal{
		Username: c.Username,
		Realm:    c.Realm,
		Role:     Role(c.Role),
	}
}
