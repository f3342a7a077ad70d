// Package boundary manages a single land boundary mapping session: point
// collection, undo, completion and reset.
//
// INVARIANTS:
// - Point orders are exactly 1..N after every mutation
// - Area, perimeter and accuracy level are recomputed before a mutation returns
// - Status only moves forward (draft -> recording -> completed); Reset discards
package boundary

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agritrace/fieldmap/internal/geo"
	"github.com/agritrace/fieldmap/internal/model"
)

// DefaultMinPoints is the completion threshold used when the caller passes none.
const DefaultMinPoints = geo.MinPolygonPoints

var (
	ErrInvalidCoordinate  = errors.New("invalid coordinate")
	ErrInvalidAccuracy    = errors.New("invalid accuracy")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrSessionCompleted   = errors.New("boundary already completed")
	ErrNoSession          = errors.New("no boundary session")
	ErrPointNotFound      = errors.New("boundary point not found")
)

// InsufficientPointsError reports a completion attempt below the threshold.
type InsufficientPointsError struct {
	Have int
	Need int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: have %d, need %d", e.Have, e.Need)
}

// Is makes errors.Is(err, ErrInsufficientPoints) match.
func (e *InsufficientPointsError) Is(target error) bool {
	return target == ErrInsufficientPoints
}

// Listener observes a snapshot of the mapping.
type Listener func(model.BoundaryMapping)

// Mapper owns at most one boundary session. It is safe for concurrent use;
// all mutations are serialized.
type Mapper struct {
	mu      sync.Mutex
	current *model.BoundaryMapping
	name    string
	now     func() time.Time

	onUpdate   []Listener
	onComplete []Listener
}

// NewMapper creates a mapper with no active session.
func NewMapper() *Mapper {
	return &Mapper{now: time.Now}
}

// SetName sets the name used for the next session created implicitly, and
// renames the current one if it is not completed.
func (m *Mapper) SetName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.name = name
	if m.current != nil && m.current.Status != model.BoundaryStatusCompleted && name != "" {
		m.current.Name = name
	}
}

// OnUpdate registers fn to run after every point mutation.
func (m *Mapper) OnUpdate(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = append(m.onUpdate, fn)
}

// OnComplete registers fn to run after a successful Complete.
func (m *Mapper) OnComplete(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = append(m.onComplete, fn)
}

// Current returns a snapshot of the session, ok is false when there is none.
func (m *Mapper) Current() (model.BoundaryMapping, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return model.BoundaryMapping{}, false
	}
	return m.current.Clone(), true
}

// AddPoint appends a point with the default device accuracy.
func (m *Mapper) AddPoint(lat, lng float64) (model.BoundaryMapping, error) {
	return m.AddPointWithAccuracy(lat, lng, model.DefaultPointAccuracy)
}

// AddPointWithAccuracy appends a point, creating the session if needed.
func (m *Mapper) AddPointWithAccuracy(lat, lng, accuracy float64) (model.BoundaryMapping, error) {
	if !geo.IsValidCoordinate(lat, lng) {
		return model.BoundaryMapping{}, fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, lat, lng)
	}
	if math.IsNaN(accuracy) || math.IsInf(accuracy, 0) || accuracy < 0 {
		return model.BoundaryMapping{}, fmt.Errorf("%w: %v", ErrInvalidAccuracy, accuracy)
	}

	m.mu.Lock()
	if m.current != nil && m.current.Status == model.BoundaryStatusCompleted {
		m.mu.Unlock()
		return model.BoundaryMapping{}, ErrSessionCompleted
	}
	if m.current == nil {
		m.current = m.newSession()
	}

	b := m.current
	b.Points = append(b.Points, model.BoundaryPoint{
		ID:        uuid.NewString(),
		Latitude:  lat,
		Longitude: lng,
		Accuracy:  accuracy,
		Timestamp: m.now(),
		Order:     len(b.Points) + 1,
	})
	if b.Status == model.BoundaryStatusDraft {
		b.Status = model.BoundaryStatusRecording
	}
	recompute(b)

	snap, listeners := b.Clone(), m.onUpdate
	m.mu.Unlock()

	notify(listeners, snap)
	return snap, nil
}

// RemoveLastPoint drops the highest-order point. It is a no-op when there is
// no session or no points. Status stays recording even if the list empties.
func (m *Mapper) RemoveLastPoint() (model.BoundaryMapping, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return model.BoundaryMapping{}, nil
	}
	b := m.current
	if b.Status == model.BoundaryStatusCompleted {
		m.mu.Unlock()
		return model.BoundaryMapping{}, ErrSessionCompleted
	}
	if len(b.Points) == 0 {
		snap := b.Clone()
		m.mu.Unlock()
		return snap, nil
	}

	b.Points = b.Points[:len(b.Points)-1]
	recompute(b)

	snap, listeners := b.Clone(), m.onUpdate
	m.mu.Unlock()

	notify(listeners, snap)
	return snap, nil
}

// RemovePoint drops the point with the given id and renumbers the rest.
func (m *Mapper) RemovePoint(id string) (model.BoundaryMapping, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return model.BoundaryMapping{}, ErrNoSession
	}
	b := m.current
	if b.Status == model.BoundaryStatusCompleted {
		m.mu.Unlock()
		return model.BoundaryMapping{}, ErrSessionCompleted
	}

	idx := -1
	for i, p := range b.Points {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return model.BoundaryMapping{}, fmt.Errorf("%w: %s", ErrPointNotFound, id)
	}

	b.Points = append(b.Points[:idx], b.Points[idx+1:]...)
	for i := range b.Points {
		b.Points[i].Order = i + 1
	}
	recompute(b)

	snap, listeners := b.Clone(), m.onUpdate
	m.mu.Unlock()

	notify(listeners, snap)
	return snap, nil
}

// Complete finalizes the session when it holds at least minPoints points.
// minPoints <= 0 selects DefaultMinPoints. Completion is terminal.
func (m *Mapper) Complete(minPoints int) (model.BoundaryMapping, error) {
	if minPoints <= 0 {
		minPoints = DefaultMinPoints
	}

	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return model.BoundaryMapping{}, &InsufficientPointsError{Have: 0, Need: minPoints}
	}
	b := m.current
	if b.Status == model.BoundaryStatusCompleted {
		m.mu.Unlock()
		return model.BoundaryMapping{}, ErrSessionCompleted
	}
	if len(b.Points) < minPoints {
		have := len(b.Points)
		m.mu.Unlock()
		return model.BoundaryMapping{}, &InsufficientPointsError{Have: have, Need: minPoints}
	}

	now := m.now()
	b.Status = model.BoundaryStatusCompleted
	b.CompletedAt = &now

	snap, listeners := b.Clone(), m.onComplete
	m.mu.Unlock()

	notify(listeners, snap)
	return snap, nil
}

// Reset discards the session at any status.
func (m *Mapper) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
}

func (m *Mapper) newSession() *model.BoundaryMapping {
	now := m.now()
	name := m.name
	if name == "" {
		name = "Boundary " + now.Format("2006-01-02")
	}
	return &model.BoundaryMapping{
		ID:            "boundary-" + uuid.NewString(),
		Name:          name,
		Status:        model.BoundaryStatusDraft,
		AccuracyLevel: model.AccuracyPoor,
		CreatedAt:     now,
	}
}

func recompute(b *model.BoundaryMapping) {
	metrics := geo.ComputeMetrics(b.Points)
	b.Area = metrics.Area
	b.Perimeter = metrics.Perimeter
	b.AccuracyLevel = metrics.AccuracyLevel
}

func notify(listeners []Listener, snap model.BoundaryMapping) {
	for _, fn := range listeners {
		fn(snap.Clone())
	}
}
