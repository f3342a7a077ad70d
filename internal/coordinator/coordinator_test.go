package coordinator

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agritrace/fieldmap/internal/auth"
	"github.com/agritrace/fieldmap/internal/boundary"
	"github.com/agritrace/fieldmap/internal/core"
	"github.com/agritrace/fieldmap/internal/location"
	"github.com/agritrace/fieldmap/internal/model"
	"github.com/agritrace/fieldmap/internal/remote"
)

type fakeRemote struct {
	mu       sync.Mutex
	logins   int
	session  *remote.Session
	loginErr error
}

func (f *fakeRemote) Login(ctx context.Context, creds remote.Credentials) (*remote.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.session, nil
}

func (f *fakeRemote) PushFarmer(context.Context, *model.FarmerRegistration) error { return nil }
func (f *fakeRemote) PushPlot(context.Context, *model.MapPlot) error             { return nil }
func (f *fakeRemote) PushInspection(context.Context, *model.Inspection) error    { return nil }

func (f *fakeRemote) loginCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

// fakeDevice answers with fix, fails with err, or blocks until the request
// context ends when neither is set. Watch streams whatever is sent on feed.
type fakeDevice struct {
	fix  *location.Fix
	err  error
	feed chan location.Reading
}

func (d *fakeDevice) ID() string   { return "fake" }
func (d *fakeDevice) Type() string { return "test" }

func (d *fakeDevice) CurrentPosition(ctx context.Context, opts location.Options) (*location.Fix, error) {
	switch {
	case d.err != nil:
		return nil, d.err
	case d.fix != nil:
		f := *d.fix
		return &f, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *fakeDevice) Watch(ctx context.Context, opts location.Options) (<-chan location.Reading, error) {
	out := make(chan location.Reading)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-d.feed:
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestCoordinator(t *testing.T, dev location.Provider, rc remote.Client, online bool) (*Coordinator, *core.Store) {
	t.Helper()

	s, err := core.OpenStore(context.Background(), filepath.Join(t.TempDir(), "fieldmap.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	issuer, err := auth.NewTokenIssuer("test-secret")
	require.NoError(t, err)

	c, err := New(Config{
		Store:        s,
		Location:     dev,
		Remote:       rc,
		Connectivity: remote.Static(online),
		Policy:       auth.DemoCredentials(),
		Issuer:       issuer,
		Logger:       quietLogger(),
	})
	require.NoError(t, err)
	return c, s
}

func TestNew_RequiresStoreAndIssuer(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	s, err := core.OpenStore(context.Background(), filepath.Join(t.TempDir(), "fieldmap.db"), "")
	require.NoError(t, err)
	defer s.Close()
	_, err = New(Config{Store: s})
	assert.Error(t, err)
}

func TestLogin_OfflineSkipsRemote(t *testing.T) {
	rc := &fakeRemote{}
	c, s := newTestCoordinator(t, nil, rc, false)
	ctx := context.Background()

	var seen []*model.User
	c.OnAuthChange(func(u *model.User) { seen = append(seen, u) })

	res, err := c.Login(ctx, remote.Credentials{Username: "demo", Password: "demo123", UserType: "farmer"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.IsOffline)
	assert.NotEmpty(t, res.Token)
	require.NotNil(t, res.User)
	assert.Equal(t, int64(model.OfflineUserID), res.User.ID)
	assert.Equal(t, "farmer", res.User.Role)
	assert.Equal(t, 0, rc.loginCalls())

	tok, err := s.GetToken(ctx, "demo")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, res.Token, tok.Token)

	require.Len(t, seen, 1)
	assert.Equal(t, "demo", seen[0].Username)
	assert.Equal(t, "demo", c.CurrentUser().Username)
	assert.Equal(t, res.Token, c.Token(ctx))
}

func TestLogin_FallsBackAfterRemoteRejects(t *testing.T) {
	rc := &fakeRemote{loginErr: &remote.StatusError{Status: 401, Message: "Invalid credentials"}}
	c, _ := newTestCoordinator(t, nil, rc, true)

	res, err := c.Login(context.Background(), remote.Credentials{Username: "admin", Password: "admin123", UserType: "regulatory"})
	require.NoError(t, err)
	assert.Equal(t, 1, rc.loginCalls())
	assert.True(t, res.Success)
	assert.True(t, res.IsOffline)
	assert.Equal(t, "regulatory_admin", res.User.Role)
}

func TestLogin_FailureCarriesReason(t *testing.T) {
	rc := &fakeRemote{loginErr: errors.New("dial tcp: connection refused")}
	c, _ := newTestCoordinator(t, nil, rc, true)

	res, err := c.Login(context.Background(), remote.Credentials{Username: "demo", Password: "nope", UserType: "farmer"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Authentication failed. Network error. No offline credentials available for this user.", res.Message)

	c2, _ := newTestCoordinator(t, nil, &fakeRemote{}, false)
	res, err = c2.Login(context.Background(), remote.Credentials{Username: "ghost", Password: "x", UserType: "farmer"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Device is offline")
	assert.Nil(t, c2.CurrentUser())
}

func TestLogin_OnlineSuccessCachesToken(t *testing.T) {
	rc := &fakeRemote{session: &remote.Session{
		Token: "server-token",
		User:  model.User{ID: 42, Username: "kollie", UserType: "field_agent", Role: "field_agent"},
	}}
	c, s := newTestCoordinator(t, nil, rc, true)
	ctx := context.Background()

	res, err := c.Login(ctx, remote.Credentials{Username: "kollie", Password: "pw", UserType: "field_agent"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.IsOffline)
	assert.Equal(t, int64(42), res.User.ID)

	tok, err := s.GetToken(ctx, "kollie")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "server-token", tok.Token)

	raw, ok, err := s.Setting(ctx, core.SettingCurrentUser)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, raw, `"username":"kollie"`)
}

func TestLogin_ReusesCachedToken(t *testing.T) {
	c, s := newTestCoordinator(t, nil, nil, false)
	ctx := context.Background()

	_, err := s.SaveToken(ctx, "demo", "cached-token", "farmer", "lead_farmer", time.Hour)
	require.NoError(t, err)

	res, err := c.Login(ctx, remote.Credentials{Username: "demo", Password: "demo123", UserType: "farmer"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "cached-token", res.Token)
	assert.Equal(t, "lead_farmer", res.User.Role)

	// A cached token does not bypass the password check.
	res, err = c.Login(ctx, remote.Credentials{Username: "demo", Password: "wrong", UserType: "farmer"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestLogin_RequiresIdentity(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, nil, false)
	_, err := c.Login(context.Background(), remote.Credentials{Password: "x"})
	assert.Error(t, err)
}

func TestLogoutAndRestore(t *testing.T) {
	c, s := newTestCoordinator(t, nil, nil, false)
	ctx := context.Background()

	_, err := c.Login(ctx, remote.Credentials{Username: "agent001", Password: "agent123", UserType: "field_agent"})
	require.NoError(t, err)

	issuer, _ := auth.NewTokenIssuer("test-secret")
	again, err := New(Config{Store: s, Issuer: issuer, Logger: quietLogger()})
	require.NoError(t, err)
	u, err := again.Restore(ctx)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "agent001", u.Username)

	last := &model.User{}
	c.OnAuthChange(func(u *model.User) { last = u })
	require.NoError(t, c.Logout(ctx))
	assert.Nil(t, last)
	assert.Nil(t, c.CurrentUser())

	tok, err := s.GetToken(ctx, "agent001")
	require.NoError(t, err)
	assert.Nil(t, tok)

	u, err = again.Restore(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	// Logging out twice is harmless.
	require.NoError(t, c.Logout(ctx))
}

func TestAcquirePosition_StoresAndNotifies(t *testing.T) {
	alt := 212.0
	dev := &fakeDevice{fix: &location.Fix{Latitude: 6.3156, Longitude: -10.8074, Accuracy: 4, Altitude: &alt, Timestamp: time.Now()}}
	c, s := newTestCoordinator(t, dev, nil, false)
	ctx := context.Background()

	var got []model.GPSCoordinate
	c.OnGPSUpdate(func(g model.GPSCoordinate) { got = append(got, g) })

	coord, err := c.AcquirePosition(ctx, location.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, model.SourceAuto, coord.Source)
	assert.True(t, coord.IsOffline)
	require.NotNil(t, coord.Altitude)
	assert.Equal(t, alt, *coord.Altitude)

	stored, err := s.Coordinates.GetByID(ctx, coord.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 6.3156, stored.Latitude)

	require.Len(t, got, 1)
	assert.Equal(t, coord.ID, got[0].ID)
}

func TestAcquirePosition_TimeoutWritesNothing(t *testing.T) {
	c, s := newTestCoordinator(t, &fakeDevice{}, nil, false)
	ctx := context.Background()

	_, err := c.AcquirePosition(ctx, location.Options{Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocationUnavailable)
	var le *LocationError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, location.ReasonTimeout, le.Reason)

	n, err := s.Coordinates.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAcquirePosition_PermissionDenied(t *testing.T) {
	dev := &fakeDevice{err: &location.Error{Reason: location.ReasonPermissionDenied}}
	c, _ := newTestCoordinator(t, dev, nil, false)

	_, err := c.AcquirePosition(context.Background(), location.DefaultOptions())
	var le *LocationError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, location.ReasonPermissionDenied, le.Reason)
}

func TestAcquirePosition_NoProvider(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, nil, false)
	_, err := c.AcquirePosition(context.Background(), location.DefaultOptions())
	assert.ErrorIs(t, err, ErrLocationUnavailable)
}

func TestWatch_StopGuaranteesNoFurtherCallbacks(t *testing.T) {
	dev := &fakeDevice{feed: make(chan location.Reading, 4)}
	c, s := newTestCoordinator(t, dev, nil, false)
	ctx := context.Background()

	var mu sync.Mutex
	var count int
	updates := make(chan struct{}, 8)
	c.OnGPSUpdate(func(model.GPSCoordinate) {
		mu.Lock()
		count++
		mu.Unlock()
		updates <- struct{}{}
	})
	watchErrs := make(chan error, 1)
	c.OnWatchError(func(err error) { watchErrs <- err })

	require.NoError(t, c.StartWatching(ctx, location.DefaultWatchOptions()))
	assert.True(t, c.Watching())

	dev.feed <- location.Reading{Fix: &location.Fix{Latitude: 6.5, Longitude: -9.5, Accuracy: 3}}
	dev.feed <- location.Reading{Fix: &location.Fix{Latitude: 6.6, Longitude: -9.6, Accuracy: 3}}
	for i := 0; i < 2; i++ {
		select {
		case <-updates:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for watch update")
		}
	}

	dev.feed <- location.Reading{Err: &location.Error{Reason: location.ReasonPositionUnavailable}}
	select {
	case err := <-watchErrs:
		assert.ErrorIs(t, err, ErrLocationUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch error")
	}

	c.StopWatching()
	assert.False(t, c.Watching())

	mu.Lock()
	before := count
	mu.Unlock()

	dev.feed <- location.Reading{Fix: &location.Fix{Latitude: 6.7, Longitude: -9.7, Accuracy: 3}}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, before, count)
	mu.Unlock()

	n, err := s.Coordinates.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Stopping again, or with nothing active, is a no-op.
	c.StopWatching()
}

func TestWatch_RestartReplacesActiveWatch(t *testing.T) {
	dev := &fakeDevice{feed: make(chan location.Reading, 1)}
	c, _ := newTestCoordinator(t, dev, nil, false)
	ctx := context.Background()

	require.NoError(t, c.StartWatching(ctx, location.DefaultWatchOptions()))
	first := c.watch
	require.NoError(t, c.StartWatching(ctx, location.DefaultWatchOptions()))

	select {
	case <-first.done:
	default:
		t.Fatal("previous watch still running")
	}
	assert.True(t, c.Watching())
	c.StopWatching()
}

func TestSaveClickCoordinate(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, nil, false)
	ctx := context.Background()

	coord, err := c.SaveClickCoordinate(ctx, 6.42, -9.43)
	require.NoError(t, err)
	assert.Equal(t, model.SourceMapClick, coord.Source)
	assert.Equal(t, 0.0, coord.Accuracy)

	_, err = c.SaveClickCoordinate(ctx, 91, 0)
	assert.Error(t, err)

	recent, err := c.RecentCoordinates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, coord.ID, recent[0].ID)
}

func TestSaveFarmPlot(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, nil, false)
	ctx := context.Background()

	square := []model.LatLng{
		{Lat: 7.0, Lng: -9.0},
		{Lat: 7.0, Lng: -8.999},
		{Lat: 7.001, Lng: -8.999},
		{Lat: 7.001, Lng: -9.0},
	}
	plot, err := c.SaveFarmPlot(ctx, "FRM-1", square, "cocoa")
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusPending, plot.Status)
	assert.Greater(t, plot.Area, 0.0)
	assert.Greater(t, plot.Perimeter, 0.0)

	_, err = c.SaveFarmPlot(ctx, "", square, "cocoa")
	assert.ErrorIs(t, err, ErrInvalidPlot)
	_, err = c.SaveFarmPlot(ctx, "FRM-1", []model.LatLng{{Lat: 100, Lng: 0}}, "cocoa")
	assert.ErrorIs(t, err, ErrInvalidPlot)

	_, err = c.SaveFarmPlot(ctx, "FRM-2", square[:3], "rubber")
	require.NoError(t, err)

	plots, err := c.GetFarmPlots(ctx, "FRM-1")
	require.NoError(t, err)
	require.Len(t, plots, 1)
	assert.Equal(t, plot.ID, plots[0].ID)

	all, err := c.GetFarmPlots(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSaveBoundary(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, nil, false)
	ctx := context.Background()

	m := boundary.NewMapper()
	m.SetName("North block")
	for _, p := range [][2]float64{{7.0, -9.0}, {7.0, -8.999}, {7.001, -8.999}} {
		_, err := m.AddPointWithAccuracy(p[0], p[1], 3)
		require.NoError(t, err)
	}

	draft, _ := m.Current()
	_, err := c.SaveBoundary(ctx, "FRM-1", draft, "coffee")
	assert.ErrorIs(t, err, ErrBoundaryIncomplete)

	done, err := m.Complete(0)
	require.NoError(t, err)
	plot, err := c.SaveBoundary(ctx, "FRM-1", done, "coffee")
	require.NoError(t, err)
	assert.Equal(t, done.ID, plot.BoundaryID)
	assert.Equal(t, "North block", plot.Name)
	assert.Equal(t, done.Area, plot.Area)
	assert.Equal(t, model.AccuracyGood, plot.AccuracyLevel)
	assert.Len(t, plot.Coordinates, 3)
}

func TestSaveFarmerRegistrationAndInspection(t *testing.T) {
	c, s := newTestCoordinator(t, nil, nil, false)
	ctx := context.Background()

	f, err := c.SaveFarmerRegistration(ctx, model.FarmerRegistration{FirstName: "Musu", LastName: "Kamara", County: "Bong"})
	require.NoError(t, err)
	assert.Regexp(t, `^FRM-[0-9A-Z]{8}$`, f.FarmerID)
	assert.Equal(t, model.SyncStatusPending, f.Status)

	_, err = c.SaveFarmerRegistration(ctx, model.FarmerRegistration{FirstName: "Musu"})
	assert.Error(t, err)

	_, err = c.Login(ctx, remote.Credentials{Username: "inspector", Password: "inspect123", UserType: "regulatory"})
	require.NoError(t, err)

	in, err := c.SaveInspection(ctx, model.Inspection{CommodityID: "COM-7", Notes: "moisture ok"})
	require.NoError(t, err)
	assert.Equal(t, "inspector", in.InspectorID)
	assert.NotZero(t, in.InspectionDate)

	_, err = c.SaveInspection(ctx, model.Inspection{})
	assert.Error(t, err)

	pending, err := s.Inspections.GetByIndex(ctx, "status", "pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
