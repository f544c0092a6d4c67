package usage

import "context"

type store interface {
	Get(ctx context.Context, userID, plan string) (Usage, error)
	Consume(ctx context.Context, userID, plan string, n int) (Usage, error)
	Reset(ctx context.Context, userID, plan string) (Usage, error)
}

// Service manages per-user analysis allowances via an underlying store.
type Service struct {
	store store
}

// NewService constructs a Service with an in-memory store.
func NewService() *Service {
	return &Service{store: newMemoryStore()}
}

// NewStoreService constructs a Service on an injected store, such as the
// Postgres or Redis one.
func NewStoreService(st store) *Service {
	return &Service{store: st}
}

// Get returns the user's current usage window, creating it or rolling a
// lapsed one as needed.
func (s *Service) Get(ctx context.Context, userID, plan string) (Usage, error) {
	return s.store.Get(ctx, userID, plan)
}

// CanConsume reports whether the user has n units left in the current window.
func (s *Service) CanConsume(ctx context.Context, userID, plan string, n int) (bool, Usage, error) {
	u, err := s.store.Get(ctx, userID, plan)
	if err != nil {
		return false, Usage{}, err
	}
	if n <= 0 {
		return true, u, nil
	}
	if u.Used+n > u.Limit {
		return false, u, nil
	}
	return true, u, nil
}

// Consume increments usage by n if within limit.
func (s *Service) Consume(ctx context.Context, userID, plan string, n int) (Usage, error) {
	return s.store.Consume(ctx, userID, plan, n)
}

// Reset sets usage to zero and starts a fresh window.
func (s *Service) Reset(ctx context.Context, userID, plan string) (Usage, error) {
	return s.store.Reset(ctx, userID, plan)
}
