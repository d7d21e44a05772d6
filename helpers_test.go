package authx

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var testNow = time.Unix(1_700_000_000, 0)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mintToken(t *testing.T, email string, ttl time.Duration) string {
	t.Helper()
	cfg := DefaultDevTokenConfig(email)
	cfg.IssuedAt = testNow
	cfg.TTL = ttl
	token, err := MintDevToken(cfg)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func mintTokenWithoutExpiry(t *testing.T, email string) string {
	t.Helper()
	cfg := DefaultDevTokenConfig(email)
	cfg.IssuedAt = testNow
	cfg.OmitExpiry = true
	token, err := MintDevToken(cfg)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

type fakeTimer struct {
	delay   time.Duration
	fire    func()
	stopped atomic.Bool
}

func (f *fakeTimer) Stop() bool {
	return !f.stopped.Swap(true)
}

type timerRecorder struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (r *timerRecorder) all() []*fakeTimer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeTimer(nil), r.timers...)
}

func (r *timerRecorder) last() *fakeTimer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.timers) == 0 {
		return nil
	}
	return r.timers[len(r.timers)-1]
}

// stubTimers replaces afterFunc so scheduled refreshes are recorded instead of run.
func stubTimers(t *testing.T) *timerRecorder {
	t.Helper()
	rec := &timerRecorder{}
	orig := afterFunc
	afterFunc = func(d time.Duration, f func()) stopper {
		ft := &fakeTimer{delay: d, fire: f}
		rec.mu.Lock()
		rec.timers = append(rec.timers, ft)
		rec.mu.Unlock()
		return ft
	}
	t.Cleanup(func() { afterFunc = orig })
	return rec
}

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}
