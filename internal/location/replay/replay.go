// Package replay provides a location provider that plays back a recorded
// track from a CSV file. Each row is lat,lng[,accuracy[,altitude]]; rows
// starting with '#' are comments.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agritrace/fieldmap/internal/geo"
	"github.com/agritrace/fieldmap/internal/location"
	"github.com/agritrace/fieldmap/internal/model"
)

// Provider replays fixes in file order. CurrentPosition returns the next
// fix and stays on the last one once the track is exhausted.
type Provider struct {
	id       string
	path     string
	interval time.Duration

	mu     sync.Mutex
	fixes  []location.Fix
	next   int
	loaded bool
	now    func() time.Time
}

// NewProvider creates a replay provider for the track at path. Watch emits
// one fix per interval.
func NewProvider(id, path string, interval time.Duration) *Provider {
	if interval <= 0 {
		interval = time.Second
	}
	return &Provider{id: id, path: path, interval: interval, now: time.Now}
}

// ID returns the unique identifier for this provider instance.
func (p *Provider) ID() string {
	return p.id
}

// Type returns the provider type.
func (p *Provider) Type() string {
	return "replay"
}

// Init loads the track file.
func (p *Provider) Init(ctx context.Context) error {
	f, err := os.Open(p.path)
	if err != nil {
		return &location.Error{Reason: location.ReasonUnsupported, Err: fmt.Errorf("track file not found: %w", err)}
	}
	defer f.Close()

	fixes, err := Parse(f)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixes = fixes
	p.next = 0
	p.loaded = true
	return nil
}

// Parse reads a CSV track.
func Parse(r io.Reader) ([]location.Fix, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var fixes []location.Fix
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read track: %w", err)
		}
		fix, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("track record %d: %w", line, err)
		}
		fixes = append(fixes, fix)
	}
	return fixes, nil
}

func parseRecord(rec []string) (location.Fix, error) {
	if len(rec) < 2 {
		return location.Fix{}, errors.New("need at least lat,lng")
	}

	vals := make([]float64, len(rec))
	for i, field := range rec {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return location.Fix{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[i] = v
	}

	if !geo.IsValidCoordinate(vals[0], vals[1]) {
		return location.Fix{}, fmt.Errorf("invalid coordinate (%v, %v)", vals[0], vals[1])
	}

	fix := location.Fix{Latitude: vals[0], Longitude: vals[1], Accuracy: model.DefaultPointAccuracy}
	if len(vals) > 2 {
		fix.Accuracy = vals[2]
	}
	if len(vals) > 3 {
		alt := vals[3]
		fix.Altitude = &alt
	}
	return fix, nil
}

// CurrentPosition returns the next fix of the track.
func (p *Provider) CurrentPosition(ctx context.Context, opts location.Options) (*location.Fix, error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &location.Error{Reason: location.ReasonTimeout, Err: err}
	}

	fix, ok := p.advance(false)
	if !ok {
		return nil, &location.Error{Reason: location.ReasonPositionUnavailable, Err: errors.New("track is empty")}
	}
	return fix, nil
}

// Watch emits the remaining fixes one per interval, then closes the channel.
func (p *Provider) Watch(ctx context.Context, opts location.Options) (<-chan location.Reading, error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	out := make(chan location.Reading)
	go func() {
		defer close(out)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			fix, ok := p.advance(true)
			if !ok {
				return
			}
			select {
			case out <- location.Reading{Fix: fix}:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) ensureLoaded(ctx context.Context) error {
	p.mu.Lock()
	loaded := p.loaded
	p.mu.Unlock()
	if loaded {
		return nil
	}
	return p.Init(ctx)
}

// advance returns the fix under the cursor stamped with the current time.
// With strict set, running past the end reports ok=false instead of
// repeating the last fix.
func (p *Provider) advance(strict bool) (*location.Fix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.fixes) == 0 {
		return nil, false
	}
	if p.next >= len(p.fixes) {
		if strict {
			return nil, false
		}
		p.next = len(p.fixes) - 1
	}

	fix := p.fixes[p.next]
	p.next++
	fix.Timestamp = p.now()
	return &fix, true
}
