// Package config resolves fieldmap settings from defaults, .env files and
// FIELDMAP_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/agritrace/fieldmap/internal/boundary"
	"github.com/agritrace/fieldmap/internal/core"
)

const envPrefix = "FIELDMAP_"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every tunable of the field device.
type Config struct {
	// DataDir holds the database and any local files.
	DataDir string
	// Passphrase enables database encryption when set.
	Passphrase string

	// RemoteURL is the AgriTrace service; empty means offline-only.
	RemoteURL string
	// SyncRate caps pushes per second; 0 means unlimited.
	SyncRate float64
	// ProbeTimeout bounds one connectivity check.
	ProbeTimeout time.Duration

	// TokenSecret signs offline session tokens. When empty a secret is
	// generated once and kept in the store.
	TokenSecret string
	TokenTTL    time.Duration

	// CredentialsFile is a YAML offline credential table. When empty the
	// demo table is used unless OfflineLogin is false.
	CredentialsFile string
	OfflineLogin    bool

	MinPoints int

	// GPSTrack replays a CSV track; GPSCommand runs an external locator.
	// GPSTrack wins when both are set.
	GPSTrack    string
	GPSCommand  string
	GPSInterval time.Duration
	GPSTimeout  time.Duration
	GPSMaxAge   time.Duration
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := ".fieldmap"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".fieldmap")
	}

	return &Config{
		DataDir:      dataDir,
		SyncRate:     2,
		ProbeTimeout: 3 * time.Second,
		TokenTTL:     core.DefaultTokenTTL,
		OfflineLogin: true,
		MinPoints:    boundary.DefaultMinPoints,
		GPSInterval:  time.Second,
		GPSTimeout:   10 * time.Second,
		GPSMaxAge:    time.Minute,
	}
}

// DBPath is the location of the local database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "fieldmap.db")
}

// Load builds a Config from the defaults, then dir/.env, then
// dir/.env.local, then the process environment. Missing files are skipped.
func Load(dir string) (*Config, error) {
	vars := make(map[string]string)
	for _, name := range []string{".env", ".env.local"} {
		file, err := godotenv.Read(filepath.Join(dir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		for k, v := range file {
			vars[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, envPrefix) {
			vars[k] = v
		}
	}

	cfg := Default()
	if err := cfg.apply(vars); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(vars map[string]string) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := vars[envPrefix+name]; ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		v, ok := vars[envPrefix+name]
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = d
	}

	str("DATA_DIR", &c.DataDir)
	str("PASSPHRASE", &c.Passphrase)
	str("REMOTE_URL", &c.RemoteURL)
	str("TOKEN_SECRET", &c.TokenSecret)
	str("CREDENTIALS_FILE", &c.CredentialsFile)
	str("GPS_TRACK", &c.GPSTrack)
	str("GPS_COMMAND", &c.GPSCommand)
	dur("TOKEN_TTL", &c.TokenTTL)
	dur("PROBE_TIMEOUT", &c.ProbeTimeout)
	dur("GPS_INTERVAL", &c.GPSInterval)
	dur("GPS_TIMEOUT", &c.GPSTimeout)
	dur("GPS_MAX_AGE", &c.GPSMaxAge)

	if v, ok := vars[envPrefix+"SYNC_RATE"]; ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSYNC_RATE: %w", envPrefix, err))
		} else {
			c.SyncRate = f
		}
	}
	if v, ok := vars[envPrefix+"MIN_POINTS"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMIN_POINTS: %w", envPrefix, err))
		} else {
			c.MinPoints = n
		}
	}
	if v, ok := vars[envPrefix+"OFFLINE_LOGIN"]; ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sOFFLINE_LOGIN: %w", envPrefix, err))
		} else {
			c.OfflineLogin = b
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return fmt.Errorf("%w: data dir must be set", ErrInvalidConfig)
	case c.MinPoints < 3:
		return fmt.Errorf("%w: min points must be at least 3, got %d", ErrInvalidConfig, c.MinPoints)
	case c.SyncRate < 0:
		return fmt.Errorf("%w: sync rate must not be negative", ErrInvalidConfig)
	case c.TokenTTL <= 0:
		return fmt.Errorf("%w: token ttl must be positive", ErrInvalidConfig)
	case c.GPSTimeout <= 0:
		return fmt.Errorf("%w: gps timeout must be positive", ErrInvalidConfig)
	case c.GPSMaxAge < 0:
		return fmt.Errorf("%w: gps max age must not be negative", ErrInvalidConfig)
	}
	return nil
}
