package boundary

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agritrace/fieldmap/internal/model"
)

func newTestMapper() *Mapper {
	m := NewMapper()
	fixed := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	return m
}

func orders(b model.BoundaryMapping) []int {
	out := make([]int, len(b.Points))
	for i, p := range b.Points {
		out[i] = p.Order
	}
	return out
}

func TestMapper_FirstPointCreatesSession(t *testing.T) {
	m := newTestMapper()
	_, ok := m.Current()
	assert.False(t, ok)

	b, err := m.AddPoint(6.42, -9.43)
	require.NoError(t, err)
	assert.Equal(t, model.BoundaryStatusRecording, b.Status)
	assert.Equal(t, "Boundary 2026-05-04", b.Name)
	require.Len(t, b.Points, 1)
	assert.Equal(t, model.DefaultPointAccuracy, b.Points[0].Accuracy)
	assert.Equal(t, 1, b.Points[0].Order)
	assert.Zero(t, b.Area)
	assert.Equal(t, model.AccuracyPoor, b.AccuracyLevel)
}

func TestMapper_ConfiguredName(t *testing.T) {
	m := newTestMapper()
	m.SetName("Cocoa block A")
	b, err := m.AddPoint(6.42, -9.43)
	require.NoError(t, err)
	assert.Equal(t, "Cocoa block A", b.Name)
}

func TestMapper_InvalidCoordinateLeavesStateUntouched(t *testing.T) {
	m := newTestMapper()
	_, err := m.AddPoint(6.42, -9.43)
	require.NoError(t, err)

	_, err = m.AddPoint(91, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
	_, err = m.AddPointWithAccuracy(6.42, -9.43, -1)
	assert.ErrorIs(t, err, ErrInvalidAccuracy)

	b, _ := m.Current()
	assert.Len(t, b.Points, 1)
}

func TestMapper_MetricsFollowPoints(t *testing.T) {
	m := newTestMapper()
	for _, c := range [][2]float64{{0, 0}, {0, 0.001}, {0.001, 0.001}, {0.001, 0}} {
		_, err := m.AddPointWithAccuracy(c[0], c[1], 2)
		require.NoError(t, err)
	}
	b, _ := m.Current()
	assert.Greater(t, b.Area, 0.0)
	assert.Greater(t, b.Perimeter, 0.0)
	assert.Equal(t, model.AccuracyExcellent, b.AccuracyLevel)

	b, err := m.RemoveLastPoint()
	require.NoError(t, err)
	assert.Len(t, b.Points, 3)
	assert.Greater(t, b.Area, 0.0)

	b, err = m.RemoveLastPoint()
	require.NoError(t, err)
	assert.Zero(t, b.Area)
	assert.Zero(t, b.Perimeter)
	assert.Equal(t, model.AccuracyPoor, b.AccuracyLevel)
}

func TestMapper_RemoveUntilEmpty(t *testing.T) {
	m := newTestMapper()
	for i := 0; i < 5; i++ {
		_, err := m.AddPoint(6.40+float64(i)*0.001, -9.40+float64(i%2)*0.001)
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err := m.RemoveLastPoint()
		require.NoError(t, err)
	}

	b, ok := m.Current()
	require.True(t, ok)
	assert.Empty(t, b.Points)
	assert.Zero(t, b.Area)
	assert.Zero(t, b.Perimeter)
	// Emptying the list does not step back to draft.
	assert.Equal(t, model.BoundaryStatusRecording, b.Status)

	// Extra removals are no-ops.
	b, err := m.RemoveLastPoint()
	require.NoError(t, err)
	assert.Empty(t, b.Points)
}

func TestMapper_RemoveLastPointWithoutSession(t *testing.T) {
	m := newTestMapper()
	_, err := m.RemoveLastPoint()
	assert.NoError(t, err)
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestMapper_OrdersStayDense(t *testing.T) {
	m := newTestMapper()
	var ids []string
	for i := 0; i < 6; i++ {
		b, err := m.AddPoint(6.4+float64(i)*0.001, -9.4)
		require.NoError(t, err)
		ids = append(ids, b.Points[i].ID)
	}

	b, err := m.RemovePoint(ids[2])
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, orders(b))

	_, err = m.RemoveLastPoint()
	require.NoError(t, err)
	b, err = m.AddPoint(6.5, -9.5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, orders(b))

	_, err = m.RemovePoint("missing")
	assert.ErrorIs(t, err, ErrPointNotFound)
}

func TestMapper_CompleteBelowMinimum(t *testing.T) {
	m := newTestMapper()
	for i := 0; i < 4; i++ {
		_, err := m.AddPoint(6.4+float64(i)*0.001, -9.4+float64(i%2)*0.001)
		require.NoError(t, err)
	}

	_, err := m.Complete(6)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientPoints))
	var ipe *InsufficientPointsError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, 4, ipe.Have)
	assert.Equal(t, 6, ipe.Need)

	b, _ := m.Current()
	assert.Equal(t, model.BoundaryStatusRecording, b.Status)
	assert.Nil(t, b.CompletedAt)
}

func TestMapper_CompleteIsTerminal(t *testing.T) {
	m := newTestMapper()
	var completed []model.BoundaryMapping
	m.OnComplete(func(b model.BoundaryMapping) { completed = append(completed, b) })

	for i := 0; i < 3; i++ {
		_, err := m.AddPoint(6.4+float64(i)*0.001, -9.4+float64(i%2)*0.001)
		require.NoError(t, err)
	}

	b, err := m.Complete(0)
	require.NoError(t, err)
	assert.Equal(t, model.BoundaryStatusCompleted, b.Status)
	require.NotNil(t, b.CompletedAt)
	require.Len(t, completed, 1)

	_, err = m.AddPoint(6.5, -9.5)
	assert.ErrorIs(t, err, ErrSessionCompleted)
	_, err = m.RemoveLastPoint()
	assert.ErrorIs(t, err, ErrSessionCompleted)
	_, err = m.Complete(3)
	assert.ErrorIs(t, err, ErrSessionCompleted)

	after, _ := m.Current()
	assert.Len(t, after.Points, 3)
	assert.Equal(t, b.CompletedAt, after.CompletedAt)
}

func TestMapper_CompleteWithoutSession(t *testing.T) {
	m := newTestMapper()
	_, err := m.Complete(3)
	assert.ErrorIs(t, err, ErrInsufficientPoints)
}

func TestMapper_Reset(t *testing.T) {
	m := newTestMapper()
	for i := 0; i < 3; i++ {
		_, err := m.AddPoint(6.4+float64(i)*0.001, -9.4+float64(i%2)*0.001)
		require.NoError(t, err)
	}
	_, err := m.Complete(3)
	require.NoError(t, err)

	m.Reset()
	_, ok := m.Current()
	assert.False(t, ok)

	b, err := m.AddPoint(6.4, -9.4)
	require.NoError(t, err)
	assert.Len(t, b.Points, 1)
	assert.Equal(t, model.BoundaryStatusRecording, b.Status)

	m.Reset()
	m.Reset()
}

func TestMapper_UpdateListenersInOrder(t *testing.T) {
	m := newTestMapper()
	var calls []string
	m.OnUpdate(func(model.BoundaryMapping) { calls = append(calls, "first") })
	m.OnUpdate(func(model.BoundaryMapping) { calls = append(calls, "second") })

	_, err := m.AddPoint(6.4, -9.4)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestMapper_SnapshotsAreIsolated(t *testing.T) {
	m := newTestMapper()
	b, err := m.AddPoint(6.4, -9.4)
	require.NoError(t, err)
	b.Points[0].Latitude = 0

	cur, _ := m.Current()
	assert.Equal(t, 6.4, cur.Points[0].Latitude)
}

func TestMapper_ConcurrentAdds(t *testing.T) {
	m := newTestMapper()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = m.AddPoint(6.4+float64(i)*0.0001, -9.4)
		}(i)
	}
	wg.Wait()

	b, _ := m.Current()
	require.Len(t, b.Points, 50)
	for i, p := range b.Points {
		assert.Equal(t, i+1, p.Order)
	}
}
