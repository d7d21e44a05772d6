package authx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// Status is the coarse authentication state consumers render from.
type Status int

const (
	// StatusUnknown means the first refresh has not completed yet.
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// State is a point-in-time copy of the session.
type State struct {
	AccessToken   string
	Authenticated bool
	Loading       bool
	Refreshing    bool
	Email         string
	Claims        *AccessClaims
	NextRefresh   time.Time
}

// Status derives the coarse status from the snapshot.
func (s State) Status() Status {
	switch {
	case s.Authenticated:
		return StatusAuthenticated
	case s.Loading:
		return StatusUnknown
	default:
		return StatusUnauthenticated
	}
}

// Manager owns the access token of a single signed-in user. All mutation goes
// through its operations; consumers read Snapshot or subscribe to changes.
type Manager struct {
	api            SessionAPI
	logger         *slog.Logger
	leeway         time.Duration
	requestTimeout time.Duration
	base           http.RoundTripper
	now            func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	token       string
	claims      *AccessClaims
	loading     bool
	refreshing  bool
	started     bool
	closed      bool
	timer       stopper
	generation  uint64
	nextRefresh time.Time
	listeners   map[int]func(State)
	nextID      int
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRefreshLeeway controls how long before expiry the proactive refresh fires.
func WithRefreshLeeway(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d >= 0 {
			m.leeway = d
		}
	}
}

// WithRequestTimeout bounds refresh calls started by the timer or shared between callers.
func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.requestTimeout = d
		}
	}
}

// WithBaseTransport sets the transport wrapped by HTTPClient.
func WithBaseTransport(rt http.RoundTripper) ManagerOption {
	return func(m *Manager) {
		if rt != nil {
			m.base = rt
		}
	}
}

// WithClock overrides the time source used for scheduling.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithOnChange registers a listener invoked after every state change.
func WithOnChange(fn func(State)) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.listeners[m.nextID] = fn
			m.nextID++
		}
	}
}

// NewManager builds a Manager in the Unknown state on top of api.
func NewManager(api SessionAPI, opts ...ManagerOption) *Manager {
	m := &Manager{
		api:            api,
		logger:         slog.Default(),
		leeway:         defaultRefreshLeeway,
		requestTimeout: defaultHTTPTimeout,
		base:           http.DefaultTransport,
		now:            time.Now,
		loading:        true,
		listeners:      make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// New builds a Manager backed by the HTTP Auth Service described by cfg.
func New(cfg Config, opts ...ManagerOption) (*Manager, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	base := []ManagerOption{
		WithRefreshLeeway(cfg.RefreshLeeway),
		WithRequestTimeout(cfg.HTTPTimeout),
	}
	m := NewManager(nil, append(base, opts...)...)
	api, err := NewHTTPAuthAPI(cfg, WithAuthLogger(m.logger))
	if err != nil {
		return nil, err
	}
	m.api = api
	return m, nil
}

// Start performs the initial refresh that decides whether a previous session
// can be resumed. When the api can tell there is no refresh cookie, the network
// call is skipped. Later calls only return the current snapshot.
func (m *Manager) Start(ctx context.Context) State {
	m.mu.Lock()
	first := !m.started
	m.started = true
	m.mu.Unlock()

	if !first {
		return m.Snapshot()
	}
	if c, ok := m.api.(refreshCookieReporter); ok && !c.HasRefreshCookie() {
		m.logger.DebugContext(ctx, "no refresh cookie, starting signed out")
		m.commit(func() { m.loading = false })
		return m.Snapshot()
	}
	m.logger.DebugContext(ctx, "checking for existing session")
	m.Refresh(ctx)
	return m.Snapshot()
}

// refreshCookieReporter is implemented by SessionAPIs that can tell locally
// whether a refresh credential exists.
type refreshCookieReporter interface {
	HasRefreshCookie() bool
}

// Close cancels the pending proactive refresh and stops scheduling new ones.
func (m *Manager) Close() {
	m.commit(func() {
		m.closed = true
		m.rearmLocked()
	})
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers fn for state changes and returns a function removing it.
func (m *Manager) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Login signs in with email and password. On failure the session ends up
// Unauthenticated and the error is returned for display.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	return m.exchange(ctx, "login", func(ctx context.Context) (string, error) {
		return m.api.Login(ctx, email, password)
	})
}

// MagicLink signs in with a one-time token from a verification or magic-link email.
func (m *Manager) MagicLink(ctx context.Context, token string) error {
	return m.exchange(ctx, "magic_link", func(ctx context.Context) (string, error) {
		return m.api.Verify(ctx, token)
	})
}

func (m *Manager) exchange(ctx context.Context, op string, call func(context.Context) (string, error)) (err error) {
	m.commit(func() { m.loading = true })

	var token string
	defer func() {
		m.commit(func() {
			if err != nil {
				token = ""
			}
			m.setTokenLocked(token)
			m.loading = false
		})
	}()

	token, err = call(ctx)
	if err != nil {
		m.logger.InfoContext(ctx, "sign in failed", "op", op, "error", err)
		return err
	}
	m.logger.InfoContext(ctx, "signed in", "op", op)
	return nil
}

// Refresh exchanges the refresh cookie for a new access token. It never
// returns an error: any failure ends the session and reports ok=false.
// Concurrent callers share one Auth Service call and its result.
func (m *Manager) Refresh(ctx context.Context) (string, bool) {
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		return m.doRefresh(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", false
		}
		token, _ := res.Val.(string)
		return token, token != ""
	case <-ctx.Done():
		return "", false
	}
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	m.commit(func() { m.refreshing = true })

	reqCtx, cancel := context.WithTimeout(persistentContext(ctx), m.requestTimeout)
	defer cancel()

	token, err := m.callRefresh(reqCtx)
	m.commit(func() {
		m.setTokenLocked(token)
		m.refreshing = false
		m.loading = false
	})
	if err != nil {
		m.logger.InfoContext(ctx, "session refresh failed, signed out", "error", err)
		return "", err
	}
	m.logger.DebugContext(ctx, "session refreshed")
	return token, nil
}

func (m *Manager) callRefresh(ctx context.Context) (token string, err error) {
	defer func() {
		if r := recover(); r != nil {
			token, err = "", newError(ErrCodeRefreshFailed, errors.New("refresh panicked"))
		}
	}()
	token, err = m.api.Refresh(ctx)
	if err == nil && token == "" {
		err = newError(ErrCodeInvalidToken, errors.New("empty access token returned"))
	}
	if err != nil {
		token = ""
	}
	return token, err
}

// Logout ends the session locally right away, then asks the Auth Service to
// clear the refresh cookie. A failed server call is logged and otherwise ignored.
func (m *Manager) Logout(ctx context.Context) {
	m.commit(func() {
		m.setTokenLocked("")
		m.loading = false
	})
	if err := m.api.Logout(ctx); err != nil {
		m.logger.WarnContext(ctx, "logout request failed, signed out locally", "error", err)
		return
	}
	m.logger.InfoContext(ctx, "signed out")
}

// currentToken returns the access token without copying the whole state.
func (m *Manager) currentToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// tokenAfterUnauthorized returns the token a request rejected with sent should
// be retried with. A token that already rotated is reused without refreshing.
func (m *Manager) tokenAfterUnauthorized(ctx context.Context, sent string) (string, bool) {
	if current := m.currentToken(); current != "" && current != sent {
		return current, true
	}
	return m.Refresh(ctx)
}

// setTokenLocked replaces the token, re-derives identity and re-arms the timer.
func (m *Manager) setTokenLocked(token string) {
	m.token = token
	m.claims = nil
	if token != "" {
		claims, err := DecodeClaims(token)
		if err != nil {
			m.logger.Warn("access token claims unreadable", "error", err)
		} else {
			m.claims = claims
		}
	}
	m.rearmLocked()
}

// rearmLocked cancels the pending proactive refresh and schedules one for the
// current token when it carries an expiry.
func (m *Manager) rearmLocked() {
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.nextRefresh = time.Time{}
	if m.closed || m.token == "" {
		return
	}
	if !m.claims.HasExpiry() {
		m.logger.Debug("access token has no exp claim, proactive refresh disabled")
		return
	}
	now := m.now()
	delay := refreshDelay(m.claims.ExpiresAt, now, m.leeway)
	gen := m.generation
	m.nextRefresh = now.Add(delay)
	m.timer = afterFunc(delay, func() { m.proactiveRefresh(gen) })
	m.logger.Debug("proactive refresh scheduled",
		"expires_in", m.claims.ExpiresAt.Sub(now).Round(time.Second),
		"refresh_in", delay.Round(time.Second))
}

func (m *Manager) proactiveRefresh(gen uint64) {
	m.mu.Lock()
	stale := m.closed || gen != m.generation
	m.mu.Unlock()
	if stale {
		return
	}
	m.logger.Debug("proactive refresh triggered")
	m.Refresh(context.Background())
}

// commit applies fn under the lock and notifies listeners once with the result.
func (m *Manager) commit(fn func()) {
	m.mu.Lock()
	fn()
	st := m.snapshotLocked()
	listeners := make([]func(State), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(st)
	}
}

func (m *Manager) snapshotLocked() State {
	st := State{
		AccessToken:   m.token,
		Authenticated: m.token != "",
		Loading:       m.loading,
		Refreshing:    m.refreshing,
		Claims:        m.claims,
		NextRefresh:   m.nextRefresh,
	}
	if m.claims != nil {
		st.Email = m.claims.Email
	}
	return st
}
