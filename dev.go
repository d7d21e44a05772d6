package authx

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DevTokenConfig holds attributes used when minting access tokens for local development.
type DevTokenConfig struct {
	Subject   string
	Email     string
	TokenType string
	IssuedAt  time.Time
	TTL       time.Duration
	// OmitExpiry mints a token without an exp claim.
	OmitExpiry bool
	Secret     []byte
}

// DefaultDevTokenConfig returns a baseline configuration suitable for local development.
func DefaultDevTokenConfig(email string) DevTokenConfig {
	if email == "" {
		email = "dev@example.com"
	}
	return DevTokenConfig{
		Subject:   "1",
		Email:     email,
		TokenType: "access",
		TTL:       15 * time.Minute,
		Secret:    []byte("dev-secret"),
	}
}

// MintDevToken builds an HS256 access token with the claim shape the Auth Service issues.
func MintDevToken(cfg DevTokenConfig) (string, error) {
	issued := cfg.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	tokenType := cfg.TokenType
	if tokenType == "" {
		tokenType = "access"
	}
	builder := jwt.NewBuilder().
		Subject(cfg.Subject).
		IssuedAt(issued).
		Claim("email", cfg.Email).
		Claim("token_type", tokenType)
	if !cfg.OmitExpiry {
		ttl := cfg.TTL
		if ttl <= 0 {
			ttl = 15 * time.Minute
		}
		builder = builder.Expiration(issued.Add(ttl))
	}

	tok, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}
	secret := cfg.Secret
	if len(secret) == 0 {
		secret = []byte("dev-secret")
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}
