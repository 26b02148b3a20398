package status

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Shared coalesces concurrent checks so rooms ticking at the same moment
// share one request. A result younger than MaxAge is served from memory.
type Shared struct {
	inner  Provider
	maxAge time.Duration
	group  singleflight.Group

	mu   sync.Mutex
	last Observation
	ok   bool
}

func NewShared(inner Provider, maxAge time.Duration) *Shared {
	return &Shared{inner: inner, maxAge: maxAge}
}

func (s *Shared) Check(ctx context.Context) (Observation, error) {
	if s.maxAge > 0 {
		s.mu.Lock()
		if s.ok && time.Since(s.last.CheckedAt) < s.maxAge {
			obs := s.last
			s.mu.Unlock()
			return obs, nil
		}
		s.mu.Unlock()
	}

	ch := s.group.DoChan("check", func() (any, error) {
		// Detached from the first caller so its cancellation does not fail the others.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		obs, err := s.inner.Check(cctx)
		if err == nil {
			s.mu.Lock()
			s.last, s.ok = obs, true
			s.mu.Unlock()
		}
		return obs, err
	})
	select {
	case <-ctx.Done():
		return Observation{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Observation{}, r.Err
		}
		return r.Val.(Observation), nil
	}
}
