package location

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	id    string
	calls int
	fix   Fix
}

func (p *countingProvider) ID() string   { return p.id }
func (p *countingProvider) Type() string { return "test" }

func (p *countingProvider) CurrentPosition(ctx context.Context, opts Options) (*Fix, error) {
	p.calls++
	f := p.fix
	return &f, nil
}

func (p *countingProvider) Watch(ctx context.Context, opts Options) (<-chan Reading, error) {
	ch := make(chan Reading, 1)
	f := p.fix
	ch <- Reading{Fix: &f}
	close(ch)
	return ch, nil
}

func TestRegistry(t *testing.T) {
	a := &countingProvider{id: "a"}
	b := &countingProvider{id: "b"}

	r, err := NewRegistry(a, b)
	require.NoError(t, err)
	assert.Equal(t, "a", r.Primary().ID())

	assert.Error(t, r.Register(&countingProvider{id: "a"}))

	require.NoError(t, r.SetPrimary("b"))
	p, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "b", p.ID())

	_, err = r.Resolve("gpsd")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.ErrorIs(t, r.SetPrimary("gpsd"), ErrUnknownProvider)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID())

	empty, err := NewRegistry()
	require.NoError(t, err)
	_, err = empty.Resolve("")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestCachedProvider_MaximumAge(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	inner := &countingProvider{id: "a", fix: Fix{Latitude: 6.4, Longitude: -9.4, Accuracy: 3, Timestamp: now}}
	c := WithCache(inner)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.CurrentPosition(ctx, Options{MaximumAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	now = now.Add(30 * time.Second)
	fix, err := c.CurrentPosition(ctx, Options{MaximumAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls, "fresh cached fix should be reused")
	assert.Equal(t, 6.4, fix.Latitude)

	_, err = c.CurrentPosition(ctx, Options{MaximumAge: 0})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "zero MaximumAge always asks the device")

	now = now.Add(2 * time.Minute)
	_, err = c.CurrentPosition(ctx, Options{MaximumAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls, "stale fix must not be reused")
}

func TestCachedProvider_WatchRemembers(t *testing.T) {
	inner := &countingProvider{id: "a", fix: Fix{Latitude: 7, Longitude: -10, Timestamp: time.Now()}}
	c := WithCache(inner)

	ch, err := c.Watch(context.Background(), DefaultWatchOptions())
	require.NoError(t, err)
	for range ch {
	}

	last := c.Last()
	require.NotNil(t, last)
	assert.Equal(t, 7.0, last.Latitude)
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, ReasonPermissionDenied, ReasonOf(&Error{Reason: ReasonPermissionDenied}))
	assert.Equal(t, ReasonTimeout, ReasonOf(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.Equal(t, ReasonPositionUnavailable, ReasonOf(errors.New("boom")))

	err := &Error{Reason: ReasonTimeout, Err: context.DeadlineExceeded}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timeout")
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.True(t, o.HighAccuracy)
	assert.Equal(t, 10*time.Second, o.Timeout)
	assert.Equal(t, time.Minute, o.MaximumAge)

	w := DefaultWatchOptions()
	assert.Equal(t, 5*time.Second, w.Timeout)
	assert.Equal(t, time.Second, w.MaximumAge)
}
