package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/agritrace/fieldmap/internal/boundary"
	"github.com/agritrace/fieldmap/internal/core"
	"github.com/agritrace/fieldmap/internal/geo"
	"github.com/agritrace/fieldmap/internal/location"
	"github.com/agritrace/fieldmap/internal/location/replay"
	"github.com/agritrace/fieldmap/internal/model"
	"github.com/agritrace/fieldmap/internal/remote"
)

// --- Command Implementations ---

// RunInit creates the data directory and the database.
func RunInit(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if dryRun {
		fmt.Printf("[DRY-RUN] Would initialize fieldmap at: %s\n", cfg.DataDir)
		return nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", cfg.DataDir, err)
	}

	store, err := core.OpenStore(ctx, cfg.DBPath(), cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()

	if _, err := tokenSecret(ctx, cfg, store); err != nil {
		return err
	}

	if !quiet {
		fmt.Printf("✓ Initialized fieldmap at: %s\n", cfg.DataDir)
		fmt.Printf("  Database: %s\n", cfg.DBPath())
		if store.DB().IsEncrypted() {
			fmt.Println("  Encryption: enabled")
		} else {
			fmt.Println("  Encryption: disabled (set FIELDMAP_PASSPHRASE to enable)")
		}
	}
	return nil
}

// RunStatus shows store counts, sync state and the session.
func RunStatus(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	stats, err := e.Store.Stats(ctx)
	if err != nil {
		return err
	}
	status, err := e.Reconciler.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Println("fieldmap Status")
	fmt.Println("===============")
	fmt.Printf("Data:         %s\n", e.Config.DataDir)
	if e.Config.RemoteURL != "" {
		fmt.Printf("Remote:       %s (online: %v)\n", e.Config.RemoteURL, status.IsOnline)
	} else {
		fmt.Println("Remote:       not configured")
	}
	if u := e.Coordinator.CurrentUser(); u != nil {
		mode := "online"
		if u.IsOffline {
			mode = "offline"
		}
		fmt.Printf("User:         %s (%s, %s)\n", u.Username, u.Role, mode)
	} else {
		fmt.Println("User:         not logged in")
	}
	fmt.Println()
	out.Printf("Farmers:      %d\n", stats.Farmers)
	out.Printf("Plots:        %d\n", stats.MapPlots)
	out.Printf("Inspections:  %d\n", stats.Inspections)
	out.Printf("Coordinates:  %d\n", stats.GPSCoordinates)
	out.Printf("Tokens:       %d\n", stats.AuthTokens)
	out.Printf("Pending sync: %d\n", status.PendingItems)
	if status.LastSync.IsZero() {
		fmt.Println("Last sync:    never")
	} else {
		fmt.Printf("Last sync:    %s\n", status.LastSync.Format(time.RFC3339))
	}

	if verbose {
		fmt.Println("\nLocation sources:")
		primary := e.Locations.Primary()
		for _, p := range e.Locations.All() {
			mark := " "
			if primary != nil && p.ID() == primary.ID() {
				mark = "*"
			}
			fmt.Printf("  %s %s (%s)\n", mark, p.ID(), p.Type())
		}
	}
	return nil
}

// RunHealth prints the sync backlog report.
func RunHealth(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	h, err := e.Store.Health(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Health: %s (%.0f%%)\n\n", core.HealthDescription(h.Score), h.Score*100)
	for _, c := range h.Collections {
		line := out.Sprintf("  %-12s %6d total %6d pending %6d failed", c.Collection, c.Total, c.Pending, c.Failed)
		if c.OldestPending != nil {
			line += "  oldest " + c.OldestPending.Format("2006-01-02")
		}
		fmt.Println(line)
	}
	if len(h.Issues) > 0 {
		fmt.Println("\nIssues:")
		for _, issue := range h.Issues {
			fmt.Printf("  ✗ %s\n", issue)
		}
	}
	if len(h.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, r := range h.Recommendations {
			fmt.Printf("  → %s\n", r)
		}
	}
	return nil
}

// RunBoundaryMeasure maps a boundary from a recorded track, prints its
// figures and optionally saves it as a plot of farmerID.
func RunBoundaryMeasure(ctx context.Context, trackPath, name, farmerID, cropType string, asGeoJSON bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(trackPath)
	if err != nil {
		return fmt.Errorf("failed to open track: %w", err)
	}
	defer f.Close()

	fixes, err := replay.Parse(f)
	if err != nil {
		return err
	}

	m := boundary.NewMapper()
	if name == "" {
		name = filepath.Base(trackPath)
	}
	m.SetName(name)
	for _, fix := range fixes {
		if _, err := m.AddPointWithAccuracy(fix.Latitude, fix.Longitude, fix.Accuracy); err != nil {
			return err
		}
	}

	b, err := m.Complete(cfg.MinPoints)
	if err != nil {
		return err
	}

	if asGeoJSON {
		data, err := geo.MarshalFeature(b)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		printBoundary(b)
	}

	if farmerID == "" {
		return nil
	}
	if dryRun {
		fmt.Printf("[DRY-RUN] Would save boundary as a plot of %s\n", farmerID)
		return nil
	}

	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	plot, err := e.Coordinator.SaveBoundary(ctx, farmerID, b, cropType)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("✓ Saved plot %s\n", plot.ID)
	}
	return nil
}

func printBoundary(b model.BoundaryMapping) {
	fmt.Printf("Boundary:   %s\n", b.Name)
	out.Printf("Points:     %d\n", len(b.Points))
	out.Printf("Area:       %.4f ha\n", b.Area)
	out.Printf("Perimeter:  %.1f m\n", b.Perimeter)
	fmt.Printf("Accuracy:   %s\n", b.AccuracyLevel)
	if c, ok := geo.Centroid(b.Points); ok {
		fmt.Printf("Centroid:   %s %s\n", geo.FormatDMS(c.Lat, true), geo.FormatDMS(c.Lng, false))
		if county := geo.County(c.Lat, c.Lng); county != "" {
			fmt.Printf("County:     %s\n", county)
		}
	}
}

// RunFarmerAdd registers a farmer locally.
func RunFarmerAdd(ctx context.Context, f model.FarmerRegistration) error {
	if dryRun {
		fmt.Printf("[DRY-RUN] Would register %s %s\n", f.FirstName, f.LastName)
		return nil
	}

	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	saved, err := e.Coordinator.SaveFarmerRegistration(ctx, f)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("✓ Registered %s %s as %s (%s)\n", saved.FirstName, saved.LastName, saved.FarmerID, saved.Status)
	}
	return nil
}

// RunFarmerList lists registered farmers.
func RunFarmerList(ctx context.Context, status string) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	var farmers []*model.FarmerRegistration
	if status != "" {
		farmers, err = e.Store.Farmers.GetByIndex(ctx, "status", status)
	} else {
		farmers, err = e.Store.Farmers.GetAll(ctx)
	}
	if err != nil {
		return err
	}

	for _, f := range farmers {
		fmt.Printf("%-14s %-24s %-14s %s\n", f.FarmerID, f.FirstName+" "+f.LastName, f.County, f.Status)
	}
	if !quiet {
		out.Printf("\n%d farmer(s)\n", len(farmers))
	}
	return nil
}

// RunPlotList lists plots, optionally for one farmer.
func RunPlotList(ctx context.Context, farmerID string) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	plots, err := e.Coordinator.GetFarmPlots(ctx, farmerID)
	if err != nil {
		return err
	}

	var total float64
	for _, p := range plots {
		total += p.Area
		out.Printf("%-34s %-14s %-10s %10.4f ha  %s\n", p.ID, p.FarmerID, p.CropType, p.Area, p.Status)
	}
	if !quiet {
		out.Printf("\n%d plot(s), %.4f ha\n", len(plots), total)
	}
	return nil
}

// RunInspectionAdd records an inspection locally. When attachFix is set the
// current position is captured and attached.
func RunInspectionAdd(ctx context.Context, in model.Inspection, attachFix bool) error {
	if dryRun {
		fmt.Printf("[DRY-RUN] Would record inspection of %s\n", in.CommodityID)
		return nil
	}

	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	if attachFix {
		coord, err := e.Coordinator.AcquirePosition(ctx, gpsOptions(e))
		if err != nil {
			return err
		}
		in.GPSLocation = fmt.Sprintf("%.6f,%.6f", coord.Latitude, coord.Longitude)
	}

	saved, err := e.Coordinator.SaveInspection(ctx, in)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("✓ Recorded inspection %s (%s)\n", saved.ID, saved.Status)
	}
	return nil
}

// RunInspectionList lists inspections.
func RunInspectionList(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	inspections, err := e.Store.Inspections.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, in := range inspections {
		date := time.UnixMilli(in.InspectionDate).Format("2006-01-02")
		fmt.Printf("%-36s %-12s %-12s %s  %s\n", in.ID, in.CommodityID, in.InspectorID, date, in.Status)
	}
	if !quiet {
		out.Printf("\n%d inspection(s)\n", len(inspections))
	}
	return nil
}

func gpsOptions(e *Engine) location.Options {
	return location.Options{
		HighAccuracy: true,
		Timeout:      e.Config.GPSTimeout,
		MaximumAge:   e.Config.GPSMaxAge,
	}
}

func printCoordinate(c *model.GPSCoordinate) {
	ts := time.UnixMilli(c.Timestamp).Format(time.RFC3339)
	line := fmt.Sprintf("%s  %.6f, %.6f  ±%.1fm  %s", ts, c.Latitude, c.Longitude, c.Accuracy, c.Source)
	if c.Altitude != nil {
		line += fmt.Sprintf("  alt %.1fm", *c.Altitude)
	}
	fmt.Println(line)
}

// RunGPSFix takes and stores a single position.
func RunGPSFix(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	coord, err := e.Coordinator.AcquirePosition(ctx, gpsOptions(e))
	if err != nil {
		return err
	}
	printCoordinate(coord)
	return nil
}

// RunGPSWatch stores positions until d elapses or ctx ends.
func RunGPSWatch(ctx context.Context, d time.Duration) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	e.Coordinator.OnGPSUpdate(func(c model.GPSCoordinate) { printCoordinate(&c) })
	e.Coordinator.OnWatchError(func(err error) { fmt.Fprintf(os.Stderr, "✗ %v\n", err) })

	opts := location.DefaultWatchOptions()
	opts.Timeout = e.Config.GPSTimeout
	if err := e.Coordinator.StartWatching(ctx, opts); err != nil {
		return err
	}
	defer e.Coordinator.StopWatching()

	<-ctx.Done()
	return nil
}

// RunGPSClick stores a coordinate picked on a map.
func RunGPSClick(ctx context.Context, latArg, lngArg string) error {
	lat, err := strconv.ParseFloat(latArg, 64)
	if err != nil {
		return fmt.Errorf("invalid latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(lngArg, 64)
	if err != nil {
		return fmt.Errorf("invalid longitude: %w", err)
	}

	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	coord, err := e.Coordinator.SaveClickCoordinate(ctx, lat, lng)
	if err != nil {
		return err
	}
	printCoordinate(coord)
	return nil
}

// RunGPSRecent lists coordinates from the last window.
func RunGPSRecent(ctx context.Context, window time.Duration) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	coords, err := e.Coordinator.RecentCoordinates(ctx, window)
	if err != nil {
		return err
	}
	for _, c := range coords {
		printCoordinate(c)
	}
	if !quiet {
		out.Printf("\n%d coordinate(s)\n", len(coords))
	}
	return nil
}

// RunLogin authenticates, online when possible.
func RunLogin(ctx context.Context, creds remote.Credentials) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	if creds.Password == "" {
		if creds.Password, err = readSecret("Password: "); err != nil {
			return err
		}
	}

	res, err := e.Coordinator.Login(ctx, creds)
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Message)
	}

	mode := "online"
	if res.IsOffline {
		mode = "offline"
	}
	fmt.Printf("✓ Logged in as %s (%s, %s)\n", res.User.Username, res.User.Role, mode)
	return nil
}

// RunLogout ends the session.
func RunLogout(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	u := e.Coordinator.CurrentUser()
	if u == nil {
		fmt.Println("Not logged in.")
		return nil
	}
	if err := e.Coordinator.Logout(ctx); err != nil {
		return err
	}
	fmt.Printf("✓ Logged out %s\n", u.Username)
	return nil
}

// RunSync pushes pending and failed records.
func RunSync(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	if dryRun {
		n, err := e.Store.PendingCount(ctx)
		if err != nil {
			return err
		}
		out.Printf("[DRY-RUN] Would push %d record(s)\n", n)
		return nil
	}

	if !quiet {
		e.Reconciler.OnProgress(func(p core.SyncProgress) {
			if p.Current != "" {
				fmt.Printf("  [%3d%%] %d/%d %s\n", p.Percentage, p.Completed, p.Total, p.Current)
			}
		})
	}

	res, err := e.Reconciler.Run(ctx)
	if errors.Is(err, core.ErrOffline) {
		fmt.Println("Offline: records stay pending until the service is reachable.")
		return nil
	}
	if err != nil {
		return err
	}

	out.Printf("✓ Synced %d, failed %d (%.1fs)\n", res.Synced, res.Failed, res.FinishedAt.Sub(res.StartedAt).Seconds())
	if verbose {
		for _, syncErr := range res.Errors {
			fmt.Printf("  ✗ %v\n", syncErr)
		}
	}
	return nil
}

// RunSyncLog prints recent push attempts.
func RunSyncLog(ctx context.Context, limit int, unfinished bool) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	var attempts []*core.SyncAttempt
	if unfinished {
		attempts, err = e.Store.Journal.Unfinished(ctx)
	} else {
		attempts, err = e.Store.Journal.Recent(ctx, limit)
	}
	if err != nil {
		return err
	}

	for _, a := range attempts {
		line := fmt.Sprintf("%s  %s  %-12s %-34s %s", a.OperationID[:8], a.StartedAt.Format(time.RFC3339), a.Collection, a.RecordID, a.State)
		if a.Error != "" {
			line += "  " + a.Error
		}
		fmt.Println(line)
	}
	return nil
}

// RunClear removes every offline record after confirmation.
func RunClear(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	pending, err := e.Store.PendingCount(ctx)
	if err != nil {
		return err
	}

	if dryRun {
		out.Printf("[DRY-RUN] Would clear all offline records (%d not yet synced)\n", pending)
		return nil
	}

	prompt := "Clear all offline records?"
	if pending > 0 {
		prompt = out.Sprintf("Clear all offline records? %d have not been synced", pending)
	}
	if !ConfirmAction(prompt) {
		fmt.Println("Cancelled.")
		return nil
	}

	if err := e.Store.ClearAll(ctx); err != nil {
		return err
	}
	if err := e.Coordinator.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("✓ Cleared offline data")
	return nil
}

// RunBackup copies the database to dst.
func RunBackup(ctx context.Context, dst string) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Printf("[DRY-RUN] Would back up %s to %s\n", e.Store.DB().Path(), dst)
		return nil
	}
	if err := e.Store.DB().Backup(ctx, dst); err != nil {
		return err
	}
	fmt.Printf("✓ Backed up to %s\n", dst)
	return nil
}

// RunRekey changes the database passphrase.
func RunRekey(ctx context.Context, newPassphrase string) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	if !e.Store.DB().IsEncrypted() {
		return errors.New("database is not encrypted")
	}
	if newPassphrase == "" {
		if newPassphrase, err = readSecret("New passphrase: "); err != nil {
			return err
		}
	}
	if newPassphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	if !ConfirmAction("Change the database passphrase? Update FIELDMAP_PASSPHRASE afterwards") {
		fmt.Println("Cancelled.")
		return nil
	}
	if err := e.Store.DB().ChangePassphrase(ctx, newPassphrase); err != nil {
		return err
	}
	fmt.Println("✓ Passphrase changed")
	return nil
}
