package authx

import "context"

type managerKey struct{}

// WithManager stores the session manager inside the context for downstream consumers.
func WithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerKey{}, m)
}

// ManagerFromContext retrieves a session manager previously stored in the context.
func ManagerFromContext(ctx context.Context) (*Manager, bool) {
	if ctx == nil {
		return nil, false
	}
	value := ctx.Value(managerKey{})
	if value == nil {
		return nil, false
	}
	m, ok := value.(*Manager)
	return m, ok && m != nil
}
