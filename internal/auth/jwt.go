package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mfa-engine/policy-core/pkg/types"
)

// Config holds the shared-secret JWT settings. The same secret signs
// session tokens and API keys; only the role claim tells them apart.
type Config struct {
	// Secret is the HS256 signing key. Required.
	Secret string `yaml:"secret"`
	// Validity bounds the lifetime of issued tokens.
	Validity time.Duration `yaml:"validity"`
	// Logger for verification failures. Defaults to a no-op logger.
	Logger *zap.Logger `yaml:"-"`
}

// DefaultConfig returns a Config with the default token lifetime
func DefaultConfig() Config {
	return Config{Validity: 1 * time.Hour}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("secret is required")
	}
	if c.Validity <= 0 {
		c.Validity = 1 * time.Hour
	}
	return nil
}

// Signer issues HS256 tokens carrying the username, realm and role of
// the authenticated entity.
type Signer struct {
	secret   []byte
	validity time.Duration
}

// NewSigner creates a Signer from cfg
func NewSigner(cfg Config) (*Signer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Signer{
		secret:   []byte(cfg.Secret),
		validity: cfg.Validity,
	}, nil
}

// Issue signs a token for the given identity. authType records how the
// entity authenticated (password, token) and rides along for access
// decisions downstream.
func (s *Signer) Issue(username, realm string, role Role, authType string) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}

	nonce, err := generateNonce()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.validity)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Username: username,
		Realm:    realm,
		Role:     string(role),
		Nonce:    nonce,
		AuthType: authType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verifier checks HS256 tokens and extracts the Principal they assert.
// All failures are KindAuthentication errors.
type Verifier struct {
	secret []byte
	logger *zap.Logger
}

// NewVerifier creates a Verifier from cfg
func NewVerifier(cfg Config) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		secret: []byte(cfg.Secret),
		logger: logger,
	}, nil
}

// Verify parses and validates tokenString and returns the principal it
// carries
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	if tokenString == "" {
		return Principal{}, types.AuthenticationError("missing Authorization header")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc)
	if err != nil {
		v.logger.Debug("token rejected", zap.Error(err))
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, types.WrapAuthentication(err, "Your token has expired")
		}
		return Principal{}, types.WrapAuthentication(err, "error during decoding your token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Principal{}, types.AuthenticationError("error during decoding your token")
	}
	return claims.Principal(), nil
}

// VerifyRole verifies the token and additionally requires its role to
// be one of required
func (v *Verifier) VerifyRole(tokenString string, required ...Role) (Principal, error) {
	principal, err := v.Verify(tokenString)
	if err != nil {
		return Principal{}, err
	}
	for _, r := range required {
		if principal.Role == r {
			return principal, nil
		}
	}
	return Principal{}, types.AuthenticationError(
		"You do not have the necessary role (%v) to access this resource!", required)
}

// keyFunc pins the algorithm to HS256. Anything else, including the
// "none" algorithm, is rejected outright.
func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch alg := token.Method.Alg(); alg {
	case "HS256":
		return v.secret, nil
	case "none":
		return nil, fmt.Errorf("'none' algorithm not allowed")
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", alg)
	}
}

func generateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
