// Package command provides a location provider backed by an external
// program that prints one JSON fix on stdout, such as termux-location.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/agritrace/fieldmap/internal/geo"
	"github.com/agritrace/fieldmap/internal/location"
)

// Provider runs a command per position request.
type Provider struct {
	id   string
	bin  string
	args []string
	now  func() time.Time
}

// NewProvider creates a provider that runs bin with args.
func NewProvider(id, bin string, args ...string) *Provider {
	return &Provider{id: id, bin: bin, args: args, now: time.Now}
}

// ID returns the unique identifier for this provider instance.
func (p *Provider) ID() string {
	return p.id
}

// Type returns the provider type.
func (p *Provider) Type() string {
	return "command"
}

// Init verifies the command is installed.
func (p *Provider) Init(ctx context.Context) error {
	if _, err := exec.LookPath(p.bin); err != nil {
		return &location.Error{Reason: location.ReasonUnsupported, Err: fmt.Errorf("%s not found in PATH: %w", p.bin, err)}
	}
	return nil
}

// output is the subset of the termux-location JSON we use.
type output struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Altitude  *float64 `json:"altitude"`
}

// CurrentPosition runs the command once. ctx bounds the run.
func (p *Provider) CurrentPosition(ctx context.Context, opts location.Options) (*location.Fix, error) {
	args := p.args
	if opts.HighAccuracy && len(args) == 0 {
		args = []string{"-p", "gps"}
	}

	cmd := exec.CommandContext(ctx, p.bin, args...)
	out, err := cmd.Output()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &location.Error{Reason: location.ReasonTimeout, Err: ctxErr}
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && strings.Contains(strings.ToLower(string(ee.Stderr)), "permission") {
			return nil, &location.Error{Reason: location.ReasonPermissionDenied, Err: err}
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &location.Error{Reason: location.ReasonUnsupported, Err: err}
		}
		return nil, &location.Error{Reason: location.ReasonPositionUnavailable, Err: err}
	}

	return p.parse(out)
}

func (p *Provider) parse(raw []byte) (*location.Fix, error) {
	var o output
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, &location.Error{Reason: location.ReasonPositionUnavailable, Err: fmt.Errorf("failed to parse fix: %w", err)}
	}
	if o.Latitude == nil || o.Longitude == nil || !geo.IsValidCoordinate(*o.Latitude, *o.Longitude) {
		return nil, &location.Error{Reason: location.ReasonPositionUnavailable, Err: errors.New("no coordinate in output")}
	}

	return &location.Fix{
		Latitude:  *o.Latitude,
		Longitude: *o.Longitude,
		Accuracy:  o.Accuracy,
		Altitude:  o.Altitude,
		Timestamp: p.now(),
	}, nil
}

// Watch polls the command. A failed poll is delivered as a reading error
// and polling continues until ctx is done.
func (p *Provider) Watch(ctx context.Context, opts location.Options) (<-chan location.Reading, error) {
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	interval := opts.MaximumAge
	if interval <= 0 {
		interval = time.Second
	}

	out := make(chan location.Reading)
	go func() {
		defer close(out)
		for {
			reqCtx := ctx
			var cancel context.CancelFunc = func() {}
			if opts.Timeout > 0 {
				reqCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			}
			fix, err := p.CurrentPosition(reqCtx, opts)
			cancel()
			if ctx.Err() != nil {
				return
			}

			select {
			case out <- location.Reading{Fix: fix, Err: err}:
			case <-ctx.Done():
				return
			}

			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
