// Package cli implements the fieldmap command-line interface.
// Built with cobra following the field device rules:
// - Every capture is written locally before it is reported
// - Network use is explicit (login, sync)
// - Destructive actions require confirmation
package cli

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/agritrace/fieldmap/internal/model"
	"github.com/agritrace/fieldmap/internal/remote"
)

var (
	// Global flags
	verbose   bool
	quiet     bool
	dataDir   string
	envDir    string
	remoteURL string
	gpsSource string
	dryRun    bool
	assumeYes bool
)

// rootCmd is the base command for fieldmap.
var rootCmd = &cobra.Command{
	Use:   "fieldmap",
	Short: "Offline-first land boundary mapping for AgriTrace",
	Long: `fieldmap captures farm boundaries, farmer registrations and inspections
on a field device and keeps them until they can be pushed to AgriTrace.

It provides:
  • Boundary mapping with area, perimeter and accuracy grading
  • Encrypted local store (SQLite + SQLCipher)
  • Online login with offline fallback
  • Explicit, rate limited sync of pending records`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if engine == nil {
			return nil
		}
		err := engine.Close()
		engine = nil
		return err
	},
}

// Execute runs the root command. An interrupt cancels the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Use alternate data directory")
	rootCmd.PersistentFlags().StringVar(&envDir, "env-dir", ".", "Directory holding .env files")
	rootCmd.PersistentFlags().StringVar(&remoteURL, "remote", "", "AgriTrace service URL")
	rootCmd.PersistentFlags().StringVar(&gpsSource, "gps", "", "Location source to use (track or device)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without doing it")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Answer yes to confirmations")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(boundaryCmd)
	rootCmd.AddCommand(farmerCmd)
	rootCmd.AddCommand(plotCmd)
	rootCmd.AddCommand(inspectionCmd)
	rootCmd.AddCommand(gpsCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(dbCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory and database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunInit(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored records, sync state and session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunStatus(cmd.Context())
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report the sync backlog (observational only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunHealth(cmd.Context())
	},
}

// --- Boundary ---

var boundaryCmd = &cobra.Command{
	Use:   "boundary",
	Short: "Boundary mapping",
}

var (
	boundaryName    string
	boundaryFarmer  string
	boundaryCrop    string
	boundaryGeoJSON bool
)

var boundaryMeasureCmd = &cobra.Command{
	Use:   "measure <track.csv>",
	Short: "Map a boundary from a recorded track",
	Long: `Map a boundary from a CSV track of lat,lng[,accuracy[,altitude]] rows.

The boundary is completed with the configured minimum point count and its
area (hectares), perimeter (metres) and accuracy level are printed. With
--farmer the boundary is stored as a pending plot of that farmer.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunBoundaryMeasure(cmd.Context(), args[0], boundaryName, boundaryFarmer, boundaryCrop, boundaryGeoJSON)
	},
}

// --- Farmers ---

var farmerCmd = &cobra.Command{
	Use:   "farmer",
	Short: "Farmer registrations",
}

var farmerReg model.FarmerRegistration

var farmerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a farmer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunFarmerAdd(cmd.Context(), farmerReg)
	},
}

var farmerStatus string

var farmerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered farmers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunFarmerList(cmd.Context(), farmerStatus)
	},
}

// --- Plots ---

var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Farm plots",
}

var plotFarmer string

var plotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunPlotList(cmd.Context(), plotFarmer)
	},
}

// --- Inspections ---

var inspectionCmd = &cobra.Command{
	Use:   "inspection",
	Short: "Commodity inspections",
}

var (
	inspection       model.Inspection
	inspectionAtHere bool
)

var inspectionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record an inspection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunInspectionAdd(cmd.Context(), inspection, inspectionAtHere)
	},
}

var inspectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List inspections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunInspectionList(cmd.Context())
	},
}

// --- GPS ---

var gpsCmd = &cobra.Command{
	Use:   "gps",
	Short: "Position capture",
}

var gpsFixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Take and store one position",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunGPSFix(cmd.Context())
	},
}

var gpsWatchFor time.Duration

var gpsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Store positions continuously until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunGPSWatch(cmd.Context(), gpsWatchFor)
	},
}

var gpsClickCmd = &cobra.Command{
	Use:   "click <lat> <lng>",
	Short: "Store a point picked on a map",
	Long: `Store a point picked on a map with accuracy 0 and source map-click.

Put -- before the coordinates when either is negative:
  fieldmap gps click -- 6.4281 -9.4295`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunGPSClick(cmd.Context(), args[0], args[1])
	},
}

var gpsRecentWindow time.Duration

var gpsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently stored positions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunGPSRecent(cmd.Context(), gpsRecentWindow)
	},
}

// --- Session ---

var loginCreds remote.Credentials

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in, online when possible",
	Long: `Log in to AgriTrace.

When the service is reachable the credentials are checked online and the
returned token is cached for offline use. Otherwise, or when the online
check fails, the offline credential table is consulted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunLogin(cmd.Context(), loginCreds)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and drop its cached token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunLogout(cmd.Context())
	},
}

// --- Sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending and failed records",
	Long: `Push pending and failed records to AgriTrace in the order farmers,
plots, inspections. Accepted records are marked synced; rejected ones are
marked failed and retried on the next run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSync(cmd.Context())
	},
}

var (
	syncLogLimit      int
	syncLogUnfinished bool
)

var syncLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent push attempts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSyncLog(cmd.Context(), syncLogLimit, syncLogUnfinished)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all offline records (requires confirmation)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunClear(cmd.Context())
	},
}

// --- Database ---

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup <path>",
	Short: "Write a consistent copy of the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunBackup(cmd.Context(), args[0])
	},
}

var newPassphrase string

var dbRekeyCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Change the database passphrase (requires confirmation)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunRekey(cmd.Context(), newPassphrase)
	},
}

func init() {
	boundaryMeasureCmd.Flags().StringVar(&boundaryName, "name", "", "Boundary name (default: track file name)")
	boundaryMeasureCmd.Flags().StringVar(&boundaryFarmer, "farmer", "", "Save as a plot of this farmer")
	boundaryMeasureCmd.Flags().StringVar(&boundaryCrop, "crop", "", "Crop grown on the plot")
	boundaryMeasureCmd.Flags().BoolVar(&boundaryGeoJSON, "geojson", false, "Print the boundary as a GeoJSON feature")
	boundaryCmd.AddCommand(boundaryMeasureCmd)

	farmerAddCmd.Flags().StringVar(&farmerReg.FarmerID, "id", "", "Farmer number (generated when empty)")
	farmerAddCmd.Flags().StringVar(&farmerReg.FirstName, "first", "", "First name")
	farmerAddCmd.Flags().StringVar(&farmerReg.LastName, "last", "", "Last name")
	farmerAddCmd.Flags().StringVar(&farmerReg.PhoneNumber, "phone", "", "Phone number")
	farmerAddCmd.Flags().StringVar(&farmerReg.County, "county", "", "County")
	farmerAddCmd.Flags().StringVar(&farmerReg.District, "district", "", "District")
	farmerAddCmd.Flags().StringVar(&farmerReg.PrimaryCrop, "crop", "", "Primary crop")
	farmerAddCmd.Flags().Float64Var(&farmerReg.FarmSize, "size", 0, "Farm size in hectares")
	farmerAddCmd.MarkFlagRequired("first")
	farmerAddCmd.MarkFlagRequired("last")
	farmerListCmd.Flags().StringVar(&farmerStatus, "status", "", "Only records with this sync status")
	farmerCmd.AddCommand(farmerAddCmd, farmerListCmd)

	plotListCmd.Flags().StringVar(&plotFarmer, "farmer", "", "Only plots of this farmer")
	plotCmd.AddCommand(plotListCmd)

	inspectionAddCmd.Flags().StringVar(&inspection.CommodityID, "commodity", "", "Commodity id")
	inspectionAddCmd.Flags().StringVar(&inspection.InspectorID, "inspector", "", "Inspector (default: current user)")
	inspectionAddCmd.Flags().StringVar(&inspection.Notes, "notes", "", "Inspection notes")
	inspectionAddCmd.Flags().StringSliceVar(&inspection.Photos, "photo", nil, "Photo reference (repeatable)")
	inspectionAddCmd.Flags().BoolVar(&inspectionAtHere, "here", false, "Attach the current position")
	inspectionAddCmd.MarkFlagRequired("commodity")
	inspectionCmd.AddCommand(inspectionAddCmd, inspectionListCmd)

	gpsWatchCmd.Flags().DurationVar(&gpsWatchFor, "for", 0, "Stop after this long (default: until interrupted)")
	gpsRecentCmd.Flags().DurationVar(&gpsRecentWindow, "within", 24*time.Hour, "Look-back window")
	gpsCmd.AddCommand(gpsFixCmd, gpsWatchCmd, gpsClickCmd, gpsRecentCmd)

	loginCmd.Flags().StringVarP(&loginCreds.Username, "user", "u", "", "Username")
	loginCmd.Flags().StringVarP(&loginCreds.UserType, "type", "t", remote.UserTypeFarmer, "User type (regulatory, farmer, field_agent, exporter)")
	loginCmd.Flags().StringVarP(&loginCreds.Password, "password", "p", "", "Password (prompted when empty)")
	loginCmd.MarkFlagRequired("user")

	syncLogCmd.Flags().IntVar(&syncLogLimit, "limit", 50, "Number of attempts to show")
	syncLogCmd.Flags().BoolVar(&syncLogUnfinished, "unfinished", false, "Only attempts that never completed")
	syncCmd.AddCommand(syncLogCmd)

	dbRekeyCmd.Flags().StringVar(&newPassphrase, "new-passphrase", "", "New passphrase (prompted when empty)")
	dbCmd.AddCommand(dbBackupCmd, dbRekeyCmd)
}
