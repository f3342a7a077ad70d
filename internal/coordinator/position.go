package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agritrace/fieldmap/internal/geo"
	"github.com/agritrace/fieldmap/internal/location"
	"github.com/agritrace/fieldmap/internal/model"
)

// DefaultRecentWindow is the look-back of RecentCoordinates.
const DefaultRecentWindow = 24 * time.Hour

type watchHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// AcquirePosition asks the location provider for one fix, stores it with
// source auto and notifies GPS listeners. opts.Timeout bounds the wait and
// opts.MaximumAge allows a recent fix to be reused. On failure nothing is
// stored and the error is a *LocationError.
func (c *Coordinator) AcquirePosition(ctx context.Context, opts location.Options) (*model.GPSCoordinate, error) {
	if c.loc == nil {
		return nil, &LocationError{Reason: location.ReasonUnsupported}
	}

	reqCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	fix, err := c.loc.CurrentPosition(reqCtx, opts)
	if err != nil {
		return nil, &LocationError{Reason: location.ReasonOf(err), Err: err}
	}

	coord, err := c.record(ctx, fix, model.SourceAuto)
	if err != nil {
		return nil, err
	}
	c.notifyGPS(*coord)
	return coord, nil
}

// record validates a fix and appends it to the coordinate log.
func (c *Coordinator) record(ctx context.Context, fix *location.Fix, source model.CoordinateSource) (*model.GPSCoordinate, error) {
	if fix == nil || !geo.IsValidCoordinate(fix.Latitude, fix.Longitude) {
		return nil, &LocationError{Reason: location.ReasonPositionUnavailable, Err: errors.New("provider returned an invalid coordinate")}
	}

	ts := fix.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	return c.store.Coordinates.Append(ctx, model.GPSCoordinate{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Accuracy:  fix.Accuracy,
		Altitude:  fix.Altitude,
		Timestamp: ts.UnixMilli(),
		Source:    source,
	})
}

// StartWatching begins continuous tracking, replacing any active watch.
// Each fix is stored with source auto and then passed to GPS listeners.
// The watch ends when ctx is done or StopWatching is called.
func (c *Coordinator) StartWatching(ctx context.Context, opts location.Options) error {
	if c.loc == nil {
		return &LocationError{Reason: location.ReasonUnsupported}
	}

	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	c.stopLocked()

	wctx, cancel := context.WithCancel(ctx)
	readings, err := c.loc.Watch(wctx, opts)
	if err != nil {
		cancel()
		return &LocationError{Reason: location.ReasonOf(err), Err: err}
	}

	h := &watchHandle{cancel: cancel, done: make(chan struct{})}
	c.watch = h
	go c.runWatch(wctx, readings, h.done)

	c.logger.Printf("[gps] watch started")
	return nil
}

// StopWatching ends the active watch, if any. When it returns no GPS
// listener is running or will run for that watch. It must not be called
// from a GPS listener.
func (c *Coordinator) StopWatching() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	c.stopLocked()
}

// Watching reports whether a watch is active.
func (c *Coordinator) Watching() bool {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	if c.watch == nil {
		return false
	}
	select {
	case <-c.watch.done:
		return false
	default:
		return true
	}
}

func (c *Coordinator) stopLocked() {
	if c.watch == nil {
		return
	}
	c.watch.cancel()
	<-c.watch.done
	c.watch = nil
	c.logger.Printf("[gps] watch stopped")
}

func (c *Coordinator) runWatch(ctx context.Context, readings <-chan location.Reading, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			c.handleReading(ctx, r)
		}
	}
}

func (c *Coordinator) handleReading(ctx context.Context, r location.Reading) {
	if r.Err != nil {
		err := &LocationError{Reason: location.ReasonOf(r.Err), Err: r.Err}
		c.logger.Printf("[gps] watch error: %v", err)
		c.notifyWatchError(err)
		return
	}

	// A write that has started completes even if the watch is stopped meanwhile.
	coord, err := c.record(context.WithoutCancel(ctx), r.Fix, model.SourceAuto)
	if err != nil {
		c.logger.Printf("[gps] failed to store fix: %v", err)
		c.notifyWatchError(err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	c.notifyGPS(*coord)
}

// SaveClickCoordinate stores a point picked on the map. Map picks carry
// accuracy 0 and source map-click.
func (c *Coordinator) SaveClickCoordinate(ctx context.Context, lat, lng float64) (*model.GPSCoordinate, error) {
	if !geo.IsValidCoordinate(lat, lng) {
		return nil, fmt.Errorf("invalid coordinate (%v, %v)", lat, lng)
	}
	return c.store.Coordinates.Append(ctx, model.GPSCoordinate{
		Latitude:  lat,
		Longitude: lng,
		Accuracy:  0,
		Source:    model.SourceMapClick,
	})
}

// RecentCoordinates lists fixes from the last window, newest first.
// window <= 0 selects DefaultRecentWindow.
func (c *Coordinator) RecentCoordinates(ctx context.Context, window time.Duration) ([]*model.GPSCoordinate, error) {
	if window <= 0 {
		window = DefaultRecentWindow
	}
	return c.store.Coordinates.Recent(ctx, c.now().Add(-window))
}
