package authx

import (
	"errors"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"
)

// AccessClaims represents the claims carried by an access token issued by the
// Auth Service.
//
// Claims are informational only. DecodeClaims never verifies the signature,
// issuer or audience: the token is received directly from the Auth Service
// over TLS and the API re-validates it on every call.
type AccessClaims struct {
	Subject   string
	Email     string
	TokenType string
	IssuedAt  time.Time
	ExpiresAt time.Time

	CustomClaims map[string]any
}

// HasExpiry reports whether the token carried an exp claim.
func (c *AccessClaims) HasExpiry() bool {
	return c != nil && !c.ExpiresAt.IsZero()
}

// OAuth2Token converts the raw access token and its claims to an oauth2.Token.
func (c *AccessClaims) OAuth2Token(raw string) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	if c.HasExpiry() {
		tok.Expiry = c.ExpiresAt
	}
	return tok
}

// DecodeClaims extracts the payload of a compact JWT without verifying it.
func DecodeClaims(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(ErrCodeInvalidToken, errors.New("token is empty"))
	}
	parsed, err := jwt.ParseString(token, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, newError(ErrCodeInvalidToken, err)
	}
	return extractAccessClaims(parsed), nil
}

func extractAccessClaims(token jwt.Token) *AccessClaims {
	claims := &AccessClaims{
		Subject:   token.Subject(),
		IssuedAt:  token.IssuedAt(),
		ExpiresAt: token.Expiration(),
	}

	private := token.PrivateClaims()
	if v, ok := private["email"]; ok {
		if s, ok := v.(string); ok {
			claims.Email = s
		}
	}
	if v, ok := private["token_type"]; ok {
		if s, ok := v.(string); ok {
			claims.TokenType = s
		}
	}
	if len(private) > 0 {
		claims.CustomClaims = make(map[string]any, len(private))
		for k, v := range private {
			claims.CustomClaims[k] = v
		}
	}
	return claims
}
