package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.MinPoints)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 10*time.Second, cfg.GPSTimeout)
	assert.Equal(t, time.Minute, cfg.GPSMaxAge)
	assert.True(t, cfg.OfflineLogin)
	assert.Equal(t, "fieldmap.db", filepath.Base(cfg.DBPath()))
}

func TestLoad_FilesAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"FIELDMAP_REMOTE_URL=https://agritrace.example\nFIELDMAP_MIN_POINTS=4\nFIELDMAP_GPS_TIMEOUT=3s\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte(
		"FIELDMAP_MIN_POINTS=5\nFIELDMAP_OFFLINE_LOGIN=false\n"), 0600))

	t.Setenv("FIELDMAP_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("FIELDMAP_SYNC_RATE", "0.5")
	t.Setenv("FIELDMAP_GPS_TIMEOUT", "7s")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://agritrace.example", cfg.RemoteURL)
	assert.Equal(t, 5, cfg.MinPoints)
	assert.False(t, cfg.OfflineLogin)
	assert.Equal(t, 7*time.Second, cfg.GPSTimeout)
	assert.Equal(t, 0.5, cfg.SyncRate)
	assert.Equal(t, filepath.Join(dir, "data", "fieldmap.db"), cfg.DBPath())
}

func TestLoad_NoFiles(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MinPoints)
}

func TestLoad_Invalid(t *testing.T) {
	for name, env := range map[string][2]string{
		"duration":   {"FIELDMAP_TOKEN_TTL", "tomorrow"},
		"min points": {"FIELDMAP_MIN_POINTS", "2"},
		"not int":    {"FIELDMAP_MIN_POINTS", "three"},
		"rate":       {"FIELDMAP_SYNC_RATE", "-1"},
		"bool":       {"FIELDMAP_OFFLINE_LOGIN", "maybe"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := Load(t.TempDir())
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
