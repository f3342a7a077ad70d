// Package location defines the position source interface and its types.
// Position sources are plugins; nothing outside this package depends on a
// particular device or platform.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Fix is a single position report.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"` // metres, 1 sigma
	Altitude  *float64  `json:"altitude,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Options tune a position request.
type Options struct {
	HighAccuracy bool
	// Timeout bounds how long a request may wait for the device.
	Timeout time.Duration
	// MaximumAge allows a cached fix no older than this to be returned.
	MaximumAge time.Duration
}

// DefaultOptions are used for one-shot requests.
func DefaultOptions() Options {
	return Options{HighAccuracy: true, Timeout: 10 * time.Second, MaximumAge: time.Minute}
}

// DefaultWatchOptions are used for continuous tracking.
func DefaultWatchOptions() Options {
	return Options{HighAccuracy: true, Timeout: 5 * time.Second, MaximumAge: time.Second}
}

// Reason classifies why a position could not be obtained.
type Reason string

const (
	ReasonPermissionDenied    Reason = "permission_denied"
	ReasonPositionUnavailable Reason = "position_unavailable"
	ReasonTimeout             Reason = "timeout"
	ReasonUnsupported         Reason = "unsupported"
)

// Error is returned by providers when no fix could be produced.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "location unavailable: " + string(e.Reason)
	}
	return fmt.Sprintf("location unavailable: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf extracts the failure reason from err. Context deadline errors
// count as timeouts; anything else unclassified is position_unavailable.
func ReasonOf(err error) Reason {
	var le *Error
	if errors.As(err, &le) {
		return le.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonPositionUnavailable
}

// Reading is one element of a watch stream. Exactly one of Fix and Err is set.
type Reading struct {
	Fix *Fix
	Err error
}

// Provider is implemented by every position source.
type Provider interface {
	// ID returns unique identifier for this provider instance.
	ID() string

	// Type returns the provider type (replay, command, ...).
	Type() string

	// CurrentPosition returns one fix. It must return when ctx is done.
	CurrentPosition(ctx context.Context, opts Options) (*Fix, error)

	// Watch streams readings until ctx is done, then closes the channel.
	Watch(ctx context.Context, opts Options) (<-chan Reading, error)
}

// Registry manages provider instances.
type Registry interface {
	// Register adds a new provider.
	Register(p Provider) error

	// Get returns provider by ID.
	Get(id string) (Provider, bool)

	// All returns all registered providers.
	All() []Provider

	// Primary returns the primary provider.
	Primary() Provider

	// SetPrimary sets the primary provider.
	SetPrimary(id string) error
}
