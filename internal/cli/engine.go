// Package cli provides the engine integration for the fieldmap CLI.
// This file contains the engine initialization and shared helpers.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/agritrace/fieldmap/internal/auth"
	"github.com/agritrace/fieldmap/internal/config"
	"github.com/agritrace/fieldmap/internal/coordinator"
	"github.com/agritrace/fieldmap/internal/core"
	"github.com/agritrace/fieldmap/internal/location"
	"github.com/agritrace/fieldmap/internal/location/command"
	"github.com/agritrace/fieldmap/internal/location/replay"
	"github.com/agritrace/fieldmap/internal/remote"
)

// Engine holds the fieldmap components.
type Engine struct {
	Config      *config.Config
	Store       *core.Store
	Locations   *location.DefaultRegistry
	Coordinator *coordinator.Coordinator
	Reconciler  *core.Reconciler
	Remote      remote.Client
	Online      core.Connectivity
	Logger      *log.Logger
}

// Global engine instance
var engine *Engine

// out formats numbers with thousands separators.
var out = message.NewPrinter(language.English)

// loadConfig resolves the configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envDir)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if remoteURL != "" {
		cfg.RemoteURL = remoteURL
	}
	return cfg, nil
}

func newLogger() *log.Logger {
	if verbose {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// InitEngine opens the store and wires the coordinator, location providers
// and reconciler from the configuration.
func InitEngine(ctx context.Context) (*Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	if _, err := os.Stat(cfg.DBPath()); err != nil {
		return nil, fmt.Errorf("no database at %s (run 'fieldmap init' first): %w", cfg.DBPath(), err)
	}

	store, err := core.OpenStore(ctx, cfg.DBPath(), cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	e, err := wire(ctx, cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return e, nil
}

func wire(ctx context.Context, cfg *config.Config, store *core.Store, logger *log.Logger) (*Engine, error) {
	secret, err := tokenSecret(ctx, cfg, store)
	if err != nil {
		return nil, err
	}
	issuer, err := auth.NewTokenIssuer(secret)
	if err != nil {
		return nil, err
	}

	policy, err := offlinePolicy(cfg)
	if err != nil {
		return nil, err
	}

	locations, err := locationRegistry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var coord *coordinator.Coordinator
	var client remote.Client
	var conn core.Connectivity = remote.Static(false)
	if cfg.RemoteURL != "" {
		client = remote.NewHTTPClient(cfg.RemoteURL, func(ctx context.Context) string {
			return coord.Token(ctx)
		}, logger)
		conn = remote.NewProbe(cfg.RemoteURL, cfg.ProbeTimeout)
	}

	coord, err = coordinator.New(coordinator.Config{
		Store:        store,
		Location:     locations.Primary(),
		Remote:       client,
		Connectivity: conn,
		Policy:       policy,
		Issuer:       issuer,
		TokenTTL:     cfg.TokenTTL,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if _, err := coord.Restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}

	var pusher core.Pusher
	if client != nil {
		pusher = client
	}

	return &Engine{
		Config:      cfg,
		Store:       store,
		Locations:   locations,
		Coordinator: coord,
		Reconciler:  core.NewReconciler(store, pusher, conn, cfg.SyncRate, logger),
		Remote:      client,
		Online:      conn,
		Logger:      logger,
	}, nil
}

// tokenSecret returns the configured secret, or the one kept in the store,
// generating and keeping one on first use.
func tokenSecret(ctx context.Context, cfg *config.Config, store *core.Store) (string, error) {
	if cfg.TokenSecret != "" {
		return cfg.TokenSecret, nil
	}

	secret, ok, err := store.Setting(ctx, core.SettingTokenSecret)
	if err != nil {
		return "", err
	}
	if ok && secret != "" {
		return secret, nil
	}

	secret, err = core.GenerateRandomKey(32)
	if err != nil {
		return "", err
	}
	if err := store.SetSetting(ctx, core.SettingTokenSecret, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func offlinePolicy(cfg *config.Config) (auth.Policy, error) {
	switch {
	case !cfg.OfflineLogin:
		return auth.NoCredentials{}, nil
	case cfg.CredentialsFile != "":
		table, err := auth.LoadCredentialFile(cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return table, nil
	default:
		return auth.DemoCredentials(), nil
	}
}

// locationRegistry registers the configured position sources. A source
// that fails to initialize is skipped with a warning.
func locationRegistry(ctx context.Context, cfg *config.Config, logger *log.Logger) (*location.DefaultRegistry, error) {
	reg, err := location.NewRegistry()
	if err != nil {
		return nil, err
	}

	if cfg.GPSTrack != "" {
		p := replay.NewProvider("track", cfg.GPSTrack, cfg.GPSInterval)
		if err := p.Init(ctx); err != nil {
			logger.Printf("[gps] track source unavailable: %v", err)
		} else if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	if cfg.GPSCommand != "" {
		fields := strings.Fields(cfg.GPSCommand)
		p := command.NewProvider("device", fields[0], fields[1:]...)
		if err := p.Init(ctx); err != nil {
			logger.Printf("[gps] device source unavailable: %v", err)
		} else if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	if gpsSource != "" {
		if err := reg.SetPrimary(gpsSource); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// GetEngine returns the engine, initializing if needed.
func GetEngine(ctx context.Context) (*Engine, error) {
	if engine != nil {
		return engine, nil
	}

	var err error
	engine, err = InitEngine(ctx)
	return engine, err
}

// Close releases the engine.
func (e *Engine) Close() error {
	e.Coordinator.StopWatching()
	return e.Store.Close()
}

// ConfirmAction prompts the user for confirmation.
func ConfirmAction(prompt string) bool {
	if assumeYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

// readSecret reads one line from stdin after printing prompt.
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
