package location

import (
	"context"
	"sync"
	"time"
)

// CachedProvider wraps a provider and answers CurrentPosition from the last
// fix when it is younger than Options.MaximumAge.
type CachedProvider struct {
	Provider

	mu   sync.Mutex
	last *Fix
	now  func() time.Time
}

// WithCache wraps p.
func WithCache(p Provider) *CachedProvider {
	return &CachedProvider{Provider: p, now: time.Now}
}

// CurrentPosition returns a cached fix when allowed, otherwise asks the
// wrapped provider and remembers the answer.
func (c *CachedProvider) CurrentPosition(ctx context.Context, opts Options) (*Fix, error) {
	if fix := c.cached(opts.MaximumAge); fix != nil {
		return fix, nil
	}

	fix, err := c.Provider.CurrentPosition(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.remember(fix)
	return fix, nil
}

// Watch passes readings through, remembering every fix.
func (c *CachedProvider) Watch(ctx context.Context, opts Options) (<-chan Reading, error) {
	in, err := c.Provider.Watch(ctx, opts)
	if err != nil {
		return nil, err
	}

	out := make(chan Reading)
	go func() {
		defer close(out)
		for r := range in {
			if r.Fix != nil {
				c.remember(r.Fix)
			}
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Last returns the most recent fix seen, or nil.
func (c *CachedProvider) Last() *Fix {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last == nil {
		return nil
	}
	f := *c.last
	return &f
}

func (c *CachedProvider) cached(maxAge time.Duration) *Fix {
	if maxAge <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last == nil || c.now().Sub(c.last.Timestamp) > maxAge {
		return nil
	}
	f := *c.last
	return &f
}

func (c *CachedProvider) remember(fix *Fix) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := *fix
	if f.Timestamp.IsZero() {
		f.Timestamp = c.now()
	}
	c.last = &f
}
