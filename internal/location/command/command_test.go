package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agritrace/fieldmap/internal/location"
)

func TestParse(t *testing.T) {
	fixed := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	p := NewProvider("termux", "termux-location")
	p.now = func() time.Time { return fixed }

	fix, err := p.parse([]byte(`{"latitude": 6.4281, "longitude": -9.4295, "altitude": 212.5, "accuracy": 4.2, "provider": "gps"}`))
	require.NoError(t, err)
	assert.Equal(t, 6.4281, fix.Latitude)
	assert.Equal(t, 4.2, fix.Accuracy)
	require.NotNil(t, fix.Altitude)
	assert.Equal(t, 212.5, *fix.Altitude)
	assert.Equal(t, fixed, fix.Timestamp)

	_, err = p.parse([]byte(`{"API_ERROR": "location unavailable"}`))
	assert.Equal(t, location.ReasonPositionUnavailable, location.ReasonOf(err))

	_, err = p.parse([]byte(`not json`))
	assert.Equal(t, location.ReasonPositionUnavailable, location.ReasonOf(err))
}

func TestMissingBinary(t *testing.T) {
	p := NewProvider("nope", "fieldmap-no-such-locator")
	err := p.Init(context.Background())
	assert.Equal(t, location.ReasonUnsupported, location.ReasonOf(err))

	_, err = p.Watch(context.Background(), location.DefaultWatchOptions())
	assert.Error(t, err)

	_, err = p.CurrentPosition(context.Background(), location.DefaultOptions())
	assert.Equal(t, location.ReasonUnsupported, location.ReasonOf(err))
}
