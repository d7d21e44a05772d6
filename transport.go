package authx

import (
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// HTTPClient returns a client for authenticated API calls. It attaches the
// current access token to every request and, on a 401, refreshes the session
// once and retries the request with the new token. A request whose body cannot
// be replayed still triggers the refresh but gets its 401 back unretried.
func (m *Manager) HTTPClient() *http.Client {
	return &http.Client{
		Transport: m.Transport(),
		Timeout:   2 * m.requestTimeout,
	}
}

// Transport returns the RoundTripper used by HTTPClient.
func (m *Manager) Transport() http.RoundTripper {
	return &bearerTransport{manager: m, base: m.base}
}

type bearerTransport struct {
	manager *Manager
	base    http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	sent := t.manager.currentToken()
	out := req
	if sent != "" {
		out = req.Clone(req.Context())
		setBearer(out, sent)
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	fresh, ok := t.manager.tokenAfterUnauthorized(req.Context(), sent)
	if !ok || !replayable(req) {
		return resp, nil
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	setBearer(retry, fresh)
	drain(resp.Body)
	return t.base.RoundTrip(retry)
}

func setBearer(req *http.Request, token string) {
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
}

// replayable reports whether the request body can be sent a second time.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
	_ = body.Close()
}
