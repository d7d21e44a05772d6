package authx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAPI is an in-memory Auth Service and poster API speaking the same JSON
// and cookie protocol as the real backend.
type fakeAPI struct {
	t      *testing.T
	server *httptest.Server
	ttl    time.Duration
	issued time.Time

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	posterCalls  atomic.Int32

	mu          sync.Mutex
	seq         int
	passwords   map[string]string
	verifyCodes map[string]string
	sessions    map[string]string // refresh cookie -> email
	access      map[string]string // access token -> email
	posters     map[string][]Poster
	nextPoster  int
	registered  []Registration
	magicLinks  []string
	refreshFail int // status returned by refresh when non-zero
	logoutFail  int
	refreshGate chan struct{}
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		t:           t,
		ttl:         time.Hour,
		issued:      time.Now(),
		passwords:   map[string]string{"judge@example.com": "correct-horse"},
		verifyCodes: map[string]string{},
		sessions:    map[string]string{},
		access:      map[string]string{},
		posters:     map[string][]Poster{},
		nextPoster:  1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", f.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", f.handleRefresh)
	mux.HandleFunc("POST /api/v1/auth/logout", f.handleLogout)
	mux.HandleFunc("POST /api/v1/auth/verify", f.handleVerify)
	mux.HandleFunc("POST /api/v1/auth/register", f.handleRegister)
	mux.HandleFunc("POST /api/v1/auth/magic-link", f.handleMagicLink)
	mux.HandleFunc("GET /api/v1/posters", f.authorized(f.handleListPosters))
	mux.HandleFunc("POST /api/v1/posters", f.authorized(f.handleCreatePoster))
	mux.HandleFunc("PUT /api/v1/posters/{id}", f.authorized(f.handleUpdatePoster))
	mux.HandleFunc("DELETE /api/v1/posters/{id}", f.authorized(f.handleDeletePoster))

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) config() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = f.server.URL
	cfg.HTTPTimeout = 2 * time.Second
	return cfg
}

// expireAccess makes every issued access token unacceptable, as if it had expired.
func (f *fakeAPI) expireAccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access = map[string]string{}
}

func (f *fakeAPI) addVerifyCode(code, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCodes[code] = email
}

func (f *fakeAPI) failRefresh(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshFail = status
}

func (f *fakeAPI) failLogout(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutFail = status
}

func (f *fakeAPI) registrations() []Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Registration(nil), f.registered...)
}

func (f *fakeAPI) sentMagicLinks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.magicLinks...)
}

func (f *fakeAPI) activeSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// issueLocked mints an access token and rotates the refresh cookie for email.
func (f *fakeAPI) issueLocked(w http.ResponseWriter, email string) string {
	f.seq++
	cfg := DefaultDevTokenConfig(email)
	cfg.IssuedAt = f.issued.Add(time.Duration(f.seq) * time.Second)
	cfg.TTL = f.ttl
	token, err := MintDevToken(cfg)
	if err != nil {
		f.t.Errorf("mint token: %v", err)
	}
	f.access[token] = email

	refresh := "rt-" + strconv.Itoa(f.seq)
	f.sessions[refresh] = email
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refresh,
		Path:     "/api/v1/auth",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   7 * 24 * 3600,
	})
	return token
}

func (f *fakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "malformed body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if want, ok := f.passwords[req.Email]; !ok || want != req.Password {
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeToken(w, f.issueLocked(w, req.Email))
}

// holdRefresh makes refresh requests wait until the returned func is called.
func (f *fakeAPI) holdRefresh() func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.refreshGate = gate
	f.mu.Unlock()
	return func() { close(gate) }
}

func (f *fakeAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.refreshCalls.Add(1)
	f.mu.Lock()
	gate := f.refreshGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshFail != 0 {
		writeDetail(w, f.refreshFail, "refresh unavailable")
		return
	}
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		writeDetail(w, http.StatusUnauthorized, "Missing refresh token")
		return
	}
	email, ok := f.sessions[cookie.Value]
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	delete(f.sessions, cookie.Value)
	writeToken(w, f.issueLocked(w, email))
}

func (f *fakeAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.logoutCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logoutFail != 0 {
		writeDetail(w, f.logoutFail, "logout unavailable")
		return
	}
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		delete(f.sessions, cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: RefreshCookieName, Value: "", Path: "/api/v1/auth", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (f *fakeAPI) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "malformed body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	email, ok := f.verifyCodes[req.Token]
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Invalid token")
		return
	}
	delete(f.verifyCodes, req.Token)
	writeToken(w, f.issueLocked(w, email))
}

func (f *fakeAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "malformed body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.passwords[reg.Email]; exists {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	f.passwords[reg.Email] = reg.Password
	f.registered = append(f.registered, reg)
	writeJSON(w, http.StatusCreated, User{
		ID:           len(f.passwords),
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		Email:        reg.Email,
		Organization: reg.Organization,
		Role:         "judge",
	})
}

func (f *fakeAPI) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "field required"}, {"msg": "value is not a valid email address"}},
		})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.magicLinks = append(f.magicLinks, req.Email)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Magic link sent"})
}

type posterHandler func(w http.ResponseWriter, r *http.Request, email string)

func (f *fakeAPI) authorized(next posterHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.posterCalls.Add(1)
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		email, known := f.access[token]
		f.mu.Unlock()
		if !ok || !known {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next(w, r, email)
	}
}

func (f *fakeAPI) handleListPosters(w http.ResponseWriter, r *http.Request, email string) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.posters[email]
	start := min((page-1)*limit, len(all))
	end := min(start+limit, len(all))
	writeJSON(w, http.StatusOK, PosterPage{Data: append([]Poster{}, all[start:end]...), Total: len(all)})
}

func (f *fakeAPI) handleCreatePoster(w http.ResponseWriter, r *http.Request, email string) {
	var in NewPoster
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "malformed body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := Poster{ID: f.nextPoster, Title: in.Title, Author: in.Author, Score: in.Score}
	f.nextPoster++
	f.posters[email] = append(f.posters[email], p)
	writeJSON(w, http.StatusCreated, p)
}

func (f *fakeAPI) handleUpdatePoster(w http.ResponseWriter, r *http.Request, email string) {
	id, _ := strconv.Atoi(r.PathValue("id"))
	var in Poster
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "malformed body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.posters[email]
	for i := range list {
		if list[i].ID == id {
			in.ID = id
			list[i] = in
			writeJSON(w, http.StatusOK, PosterPage{Data: append([]Poster{}, list...), Total: len(list)})
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Poster not found")
}

func (f *fakeAPI) handleDeletePoster(w http.ResponseWriter, r *http.Request, email string) {
	id, _ := strconv.Atoi(r.PathValue("id"))
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.posters[email]
	for i := range list {
		if list[i].ID == id {
			deleted := list[i]
			list = append(list[:i:i], list[i+1:]...)
			f.posters[email] = list
			writeJSON(w, http.StatusOK, DeleteResult{
				PosterPage: PosterPage{Data: append([]Poster{}, list...), Total: len(list)},
				Deleted:    deleted,
			})
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Poster not found")
}

func writeToken(w http.ResponseWriter, token string) {
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
