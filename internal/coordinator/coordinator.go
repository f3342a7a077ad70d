// Package coordinator ties position capture, local persistence and login
// together for an offline-first device.
//
// INVARIANTS:
// - Every captured coordinate, plot, registration and inspection is written
//   to the local store before the operation reports success
// - Online login is attempted at most once per call and the offline fallback
//   runs only after it has finished
// - No GPS listener runs after StopWatching returns
package coordinator

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/agritrace/fieldmap/internal/auth"
	"github.com/agritrace/fieldmap/internal/core"
	"github.com/agritrace/fieldmap/internal/location"
	"github.com/agritrace/fieldmap/internal/model"
	"github.com/agritrace/fieldmap/internal/remote"
)

var (
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrBoundaryIncomplete  = errors.New("boundary is not completed")
	ErrInvalidPlot         = errors.New("invalid plot")
)

// LocationError reports a failed position request and why it failed.
type LocationError struct {
	Reason location.Reason
	Err    error
}

func (e *LocationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("location unavailable (%s)", e.Reason)
	}
	return fmt.Sprintf("location unavailable (%s): %v", e.Reason, e.Err)
}

func (e *LocationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrLocationUnavailable) match.
func (e *LocationError) Is(target error) bool {
	return target == ErrLocationUnavailable
}

// Config carries the collaborators of a Coordinator. Store and Issuer are
// required; the rest may be nil.
type Config struct {
	Store        *core.Store
	Location     location.Provider
	Remote       remote.Client
	Connectivity core.Connectivity
	Policy       auth.Policy
	Issuer       *auth.TokenIssuer
	TokenTTL     time.Duration
	Logger       *log.Logger
}

// Coordinator is the offline-first front of the device.
type Coordinator struct {
	store  *core.Store
	loc    *location.CachedProvider
	remote remote.Client
	conn   core.Connectivity
	policy auth.Policy
	issuer *auth.TokenIssuer
	ttl    time.Duration
	logger *log.Logger
	now    func() time.Time

	mu          sync.Mutex
	user        *model.User
	gpsHandlers []func(model.GPSCoordinate)
	authHandler []func(*model.User)
	errHandlers []func(error)

	loginMu sync.Mutex

	watchMu sync.Mutex
	watch   *watchHandle
}

// New creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("coordinator requires a store")
	}
	if cfg.Issuer == nil {
		return nil, errors.New("coordinator requires a token issuer")
	}

	c := &Coordinator{
		store:  cfg.Store,
		remote: cfg.Remote,
		conn:   cfg.Connectivity,
		policy: cfg.Policy,
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		logger: cfg.Logger,
		now:    time.Now,
	}
	if cfg.Location != nil {
		c.loc = location.WithCache(cfg.Location)
	}
	if c.conn == nil {
		c.conn = remote.Static(cfg.Remote != nil)
	}
	if c.policy == nil {
		c.policy = auth.NoCredentials{}
	}
	if c.ttl <= 0 {
		c.ttl = core.DefaultTokenTTL
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	return c, nil
}

// OnGPSUpdate registers fn to run for every stored GPS fix.
func (c *Coordinator) OnGPSUpdate(fn func(model.GPSCoordinate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gpsHandlers = append(c.gpsHandlers, fn)
}

// OnAuthChange registers fn to run when the current user changes; fn
// receives nil on logout.
func (c *Coordinator) OnAuthChange(fn func(*model.User)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authHandler = append(c.authHandler, fn)
}

// OnWatchError registers fn to receive errors raised while watching.
func (c *Coordinator) OnWatchError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errHandlers = append(c.errHandlers, fn)
}

func (c *Coordinator) notifyGPS(coord model.GPSCoordinate) {
	c.mu.Lock()
	handlers := c.gpsHandlers
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(coord)
	}
}

func (c *Coordinator) notifyAuth(u *model.User) {
	c.mu.Lock()
	handlers := c.authHandler
	c.mu.Unlock()

	for _, fn := range handlers {
		if u == nil {
			fn(nil)
			continue
		}
		cp := *u
		fn(&cp)
	}
}

func (c *Coordinator) notifyWatchError(err error) {
	c.mu.Lock()
	handlers := c.errHandlers
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(err)
	}
}
