package authx

import (
	"context"
	"time"
)

// stopper is the part of *time.Timer the manager relies on.
type stopper interface {
	Stop() bool
}

var afterFunc = func(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// refreshDelay returns how long to wait before refreshing a token that expires
// at expiresAt, firing leeway ahead of expiry and never negative.
func refreshDelay(expiresAt, now time.Time, leeway time.Duration) time.Duration {
	delay := expiresAt.Sub(now) - leeway
	if delay < 0 {
		return 0
	}
	return delay
}

// persistentContext keeps the values of ctx but drops its deadline and
// cancellation, so a refresh shared by several callers outlives the first one.
func persistentContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	if _, ok := ctx.(*detachedContext); ok {
		return ctx
	}
	return &detachedContext{parent: ctx}
}

type detachedContext struct {
	parent context.Context
}

func (d *detachedContext) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

func (d *detachedContext) Done() <-chan struct{} {
	return nil
}

func (d *detachedContext) Err() error {
	return nil
}

func (d *detachedContext) Value(key any) any {
	if d.parent == nil {
		return nil
	}
	return d.parent.Value(key)
}
