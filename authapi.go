package authx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"golang.org/x/net/publicsuffix"
)

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -source=authapi.go -package=mocks -destination=internal/mocks/session_api_mock.go SessionAPI

// SessionAPI is the subset of the Auth Service the Manager drives.
// Every successful call returns a fresh access token; the refresh credential
// travels in an HttpOnly cookie the implementation keeps to itself.
type SessionAPI interface {
	Login(ctx context.Context, email, password string) (string, error)
	Refresh(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
	Verify(ctx context.Context, token string) (string, error)
}

const (
	pathLogin     = "/auth/login"
	pathRefresh   = "/auth/refresh"
	pathLogout    = "/auth/logout"
	pathVerify    = "/auth/verify"
	pathRegister  = "/auth/register"
	pathMagicLink = "/auth/magic-link"

	// RefreshCookieName is the HttpOnly cookie the Auth Service rotates.
	RefreshCookieName = "refresh_token"

	maxErrorBody = 64 << 10
)

// HTTPAuthAPI talks JSON to the Auth Service and keeps its refresh cookie in a jar,
// the way a browser does for credentialed requests.
type HTTPAuthAPI struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// AuthAPIOption customizes an HTTPAuthAPI.
type AuthAPIOption func(*HTTPAuthAPI)

// WithAuthHTTPClient overrides the HTTP client. A jar is attached when the client has none.
func WithAuthHTTPClient(client *http.Client) AuthAPIOption {
	return func(a *HTTPAuthAPI) {
		if client != nil {
			a.client = client
		}
	}
}

// WithAuthLogger sets the logger used for request diagnostics.
func WithAuthLogger(logger *slog.Logger) AuthAPIOption {
	return func(a *HTTPAuthAPI) {
		if logger != nil {
			a.logger = logger
		}
	}
}

var _ SessionAPI = (*HTTPAuthAPI)(nil)

// NewHTTPAuthAPI constructs an Auth Service client for cfg.
func NewHTTPAuthAPI(cfg Config, opts ...AuthAPIOption) (*HTTPAuthAPI, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &HTTPAuthAPI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		a.client.Jar = jar
	}
	return a, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

// Login exchanges credentials for an access token; the refresh cookie is stored in the jar.
func (a *HTTPAuthAPI) Login(ctx context.Context, email, password string) (string, error) {
	return a.exchange(ctx, pathLogin, credentialsRequest{Email: email, Password: password}, ErrCodeInvalidCredentials)
}

// Verify exchanges a one-time email token for an access token.
func (a *HTTPAuthAPI) Verify(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", newError(ErrCodeInvalidMagicLink, errors.New("token is empty"))
	}
	return a.exchange(ctx, pathVerify, verifyRequest{Token: token}, ErrCodeInvalidMagicLink)
}

// Refresh trades the refresh cookie for a new access token.
func (a *HTTPAuthAPI) Refresh(ctx context.Context) (string, error) {
	token, err := a.exchange(ctx, pathRefresh, struct{}{}, ErrCodeTokenExpired)
	if err == nil {
		return token, nil
	}
	var e *Error
	if errors.As(err, &e) && (e.Status >= http.StatusInternalServerError || e.Code == ErrCodeNetwork) {
		// A message the server sent is kept; a default one follows the new code.
		if e.Message == defaultMessage(e.Code) {
			e.Message = defaultMessage(ErrCodeRefreshFailed)
		}
		e.Code = ErrCodeRefreshFailed
	}
	return "", err
}

// Logout asks the Auth Service to clear the refresh cookie.
func (a *HTTPAuthAPI) Logout(ctx context.Context) error {
	resp, err := a.post(ctx, pathLogout, struct{}{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return responseError(resp, ErrCodeServer)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Register creates an account. The Auth Service sends a verification email on success.
func (a *HTTPAuthAPI) Register(ctx context.Context, reg Registration) (*User, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	resp, err := a.post(ctx, pathRegister, reg)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, responseError(resp, ErrCodeInvalidRequest)
	}
	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, newError(ErrCodeInternal, fmt.Errorf("decode register response: %w", err))
	}
	return &user, nil
}

// SendMagicLink requests a passwordless sign-in email for email.
func (a *HTTPAuthAPI) SendMagicLink(ctx context.Context, email string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	resp, err := a.post(ctx, pathMagicLink, emailRequest{Email: email})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return responseError(resp, ErrCodeInvalidRequest)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// HasRefreshCookie reports whether the jar currently holds a refresh cookie for
// the API. Manager.Start uses it to skip a refresh that can only fail.
func (a *HTTPAuthAPI) HasRefreshCookie() bool {
	req, err := http.NewRequest(http.MethodPost, a.cfg.endpoint(pathRefresh), nil)
	if err != nil || a.client.Jar == nil {
		return false
	}
	for _, c := range a.client.Jar.Cookies(req.URL) {
		if c.Name == RefreshCookieName && c.Value != "" {
			return true
		}
	}
	return false
}

func (a *HTTPAuthAPI) exchange(ctx context.Context, path string, body any, clientErr ErrorCode) (string, error) {
	resp, err := a.post(ctx, path, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", responseError(resp, clientErr)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", newError(ErrCodeInternal, fmt.Errorf("decode %s response: %w", path, err))
	}
	if tok.AccessToken == "" {
		return "", newError(ErrCodeInvalidToken, errors.New("empty access token returned"))
	}
	return tok.AccessToken, nil
}

func (a *HTTPAuthAPI) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newError(ErrCodeInternal, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return nil, newError(ErrCodeInternal, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.cfg.UserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.DebugContext(ctx, "auth request failed", "path", path, "error", err)
		return nil, newError(ErrCodeNetwork, err)
	}
	a.logger.DebugContext(ctx, "auth request", "path", path, "status", resp.StatusCode)
	return resp, nil
}

type errorPayload struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// responseError maps a non-2xx response to an *Error. clientErr is used for 4xx.
func responseError(resp *http.Response, clientErr ErrorCode) error {
	code := clientErr
	if resp.StatusCode >= http.StatusInternalServerError {
		code = ErrCodeServer
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return newStatusError(code, resp.StatusCode, serverMessage(body))
}

// serverMessage extracts a human-readable message from an error body.
// FastAPI sends {"detail": "..."} or, for validation failures, {"detail": [{"msg": "..."}]}.
func serverMessage(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err == nil && detail != "" {
			return detail
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, item := range items {
				if item.Msg != "" {
					msgs = append(msgs, item.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	return payload.Message
}
