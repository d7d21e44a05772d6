package authx

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

var _ oauth2.TokenSource = (*Manager)(nil)

// Token returns the current access token, refreshing first when it is missing
// or about to expire. It lets the Manager back oauth2.NewClient and friends.
func (m *Manager) Token() (*oauth2.Token, error) {
	if tok := m.oauth2Token(); tok != nil && tok.Valid() {
		return tok, nil
	}
	if _, ok := m.Refresh(context.Background()); !ok {
		return nil, newError(ErrCodeUnauthenticated, errors.New("no active session"))
	}
	tok := m.oauth2Token()
	if tok == nil {
		return nil, newError(ErrCodeUnauthenticated, errors.New("no active session"))
	}
	return tok, nil
}

// TokenSource returns the Manager itself. Every Token call reads the live
// session, so a logout or rotation is seen immediately.
func (m *Manager) TokenSource() oauth2.TokenSource {
	return m
}

func (m *Manager) oauth2Token() *oauth2.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return nil
	}
	if m.claims == nil {
		return &oauth2.Token{AccessToken: m.token, TokenType: "Bearer"}
	}
	return m.claims.OAuth2Token(m.token)
}
