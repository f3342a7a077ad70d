package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid"

	"github.com/agritrace/fieldmap/internal/model"
)

// Collection names accepted by MarkSynced / MarkFailed.
const (
	CollectionFarmers     = "farmers"
	CollectionMapPlots    = "map_plots"
	CollectionInspections = "inspections"
	CollectionCoordinates = "gps_coordinates"
	CollectionAuthTokens  = "auth_tokens"
)

// Setting keys kept in the settings table.
const (
	SettingLastSync    = "last_sync"
	SettingCurrentUser = "current_user"
	SettingTokenSecret = "token_secret"
)

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownIndex      = errors.New("unknown index")
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Store is the offline document store. Each collection is independent;
// writes are serialized by the store, reads may run concurrently.
type Store struct {
	edb *EncryptedDB
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time

	Farmers     *Collection[model.FarmerRegistration]
	MapPlots    *Collection[model.MapPlot]
	Inspections *Collection[model.Inspection]
	Coordinates *CoordinateLog
	Journal     *SyncJournal

	tracked map[string]statusTracker
}

// OpenStore opens (creating if needed) the store at dbPath and ensures the
// schema exists. An empty passphrase opens an unencrypted database.
func OpenStore(ctx context.Context, dbPath, passphrase string) (*Store, error) {
	edb, err := OpenEncryptedDB(dbPath, passphrase)
	if err != nil {
		return nil, err
	}

	s := &Store{
		edb: edb,
		db:  edb.DB(),
		now: time.Now,
	}
	s.Farmers = newFarmerCollection(s)
	s.MapPlots = newMapPlotCollection(s)
	s.Inspections = newInspectionCollection(s)
	s.Coordinates = &CoordinateLog{c: newCoordinateCollection(s)}
	s.Journal = NewSyncJournal(s.db)
	s.Journal.now = func() time.Time { return s.now() }
	s.tracked = map[string]statusTracker{
		CollectionFarmers:     s.Farmers,
		CollectionMapPlots:    s.MapPlots,
		CollectionInspections: s.Inspections,
	}

	if err := s.Initialize(ctx); err != nil {
		edb.Close()
		return nil, err
	}
	return s, nil
}

// Initialize creates the schema if it doesn't exist.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema := `
-- fieldmap offline store schema v1

CREATE TABLE IF NOT EXISTS farmers (
    id          TEXT PRIMARY KEY,
    farmer_id   TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'pending'
                CHECK(status IN ('pending', 'synced', 'failed')),
    timestamp   INTEGER NOT NULL,
    payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_farmers_farmer_id ON farmers(farmer_id);
CREATE INDEX IF NOT EXISTS idx_farmers_status ON farmers(status);

CREATE TABLE IF NOT EXISTS map_plots (
    id          TEXT PRIMARY KEY,
    farmer_id   TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'pending'
                CHECK(status IN ('pending', 'synced', 'failed')),
    timestamp   INTEGER NOT NULL,
    payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_map_plots_farmer_id ON map_plots(farmer_id);
CREATE INDEX IF NOT EXISTS idx_map_plots_status ON map_plots(status);

CREATE TABLE IF NOT EXISTS inspections (
    id          TEXT PRIMARY KEY,
    status      TEXT NOT NULL DEFAULT 'pending'
                CHECK(status IN ('pending', 'synced', 'failed')),
    timestamp   INTEGER NOT NULL,
    payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_inspections_status ON inspections(status);

-- Append-only coordinate log
CREATE TABLE IF NOT EXISTS gps_coordinates (
    id          TEXT PRIMARY KEY,
    source      TEXT NOT NULL CHECK(source IN ('manual', 'auto', 'map-click')),
    timestamp   INTEGER NOT NULL,
    payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gps_coordinates_timestamp ON gps_coordinates(timestamp);
CREATE INDEX IF NOT EXISTS idx_gps_coordinates_source ON gps_coordinates(source);

CREATE TABLE IF NOT EXISTS auth_tokens (
    username    TEXT PRIMARY KEY,
    token       TEXT NOT NULL,
    user_type   TEXT NOT NULL,
    role        TEXT NOT NULL,
    expires_at  INTEGER NOT NULL,
    is_offline  INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS settings (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL
);

-- One row per push attempt made by the reconciler
CREATE TABLE IF NOT EXISTS sync_journal (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id    TEXT NOT NULL UNIQUE,
    collection      TEXT NOT NULL,
    record_id       TEXT NOT NULL,
    state           TEXT NOT NULL DEFAULT 'pending'
                    CHECK(state IN ('pending', 'synced', 'failed')),
    error           TEXT,
    started_at      INTEGER NOT NULL,
    completed_at    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_sync_journal_record ON sync_journal(collection, record_id);
CREATE INDEX IF NOT EXISTS idx_sync_journal_state ON sync_journal(state);

INSERT OR IGNORE INTO settings (key, value) VALUES ('schema_version', '1');
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return storageErr("initialize schema", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.edb.Close()
}

// DB exposes the encrypted database handle for maintenance (backup, rekey).
func (s *Store) DB() *EncryptedDB {
	return s.edb
}

// MarkSynced sets a record's status to synced, leaving other fields untouched.
func (s *Store) MarkSynced(ctx context.Context, collection, id string) error {
	return s.setStatus(ctx, collection, id, model.SyncStatusSynced)
}

// MarkFailed sets a record's status to failed, leaving other fields untouched.
func (s *Store) MarkFailed(ctx context.Context, collection, id string) error {
	return s.setStatus(ctx, collection, id, model.SyncStatusFailed)
}

func (s *Store) setStatus(ctx context.Context, collection, id string, status model.SyncStatus) error {
	t, ok := s.tracked[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return t.setStatus(ctx, id, status)
}

// Setting returns the value stored under key, ok is false when unset.
func (s *Store) Setting(ctx context.Context, key string) (value string, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("read setting", err)
	}
	return value, true, nil
}

// SetSetting stores value under key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return storageErr("write setting", err)
	}
	return nil
}

// DeleteSetting removes key.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return storageErr("delete setting", err)
	}
	return nil
}

// LastSync returns the time of the last completed sync run, zero if none.
func (s *Store) LastSync(ctx context.Context) (time.Time, error) {
	v, ok, err := s.Setting(ctx, SettingLastSync)
	if err != nil || !ok {
		return time.Time{}, err
	}
	var ms int64
	if _, err := fmt.Sscan(v, &ms); err != nil {
		return time.Time{}, fmt.Errorf("invalid %s setting %q: %w", SettingLastSync, v, err)
	}
	return time.UnixMilli(ms), nil
}

// TouchLastSync records now as the last sync time.
func (s *Store) TouchLastSync(ctx context.Context) error {
	return s.SetSetting(ctx, SettingLastSync, fmt.Sprint(s.now().UnixMilli()))
}

// Stats counts the records in every collection.
type Stats struct {
	Farmers        int `json:"farmers"`
	MapPlots       int `json:"mapPlots"`
	Inspections    int `json:"inspections"`
	GPSCoordinates int `json:"gpsCoordinates"`
	AuthTokens     int `json:"authTokens"`
}

// Stats returns per-collection record counts.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var err error
	if st.Farmers, err = s.Farmers.Count(ctx); err != nil {
		return nil, err
	}
	if st.MapPlots, err = s.MapPlots.Count(ctx); err != nil {
		return nil, err
	}
	if st.Inspections, err = s.Inspections.Count(ctx); err != nil {
		return nil, err
	}
	if st.GPSCoordinates, err = s.Coordinates.Count(ctx); err != nil {
		return nil, err
	}
	if st.AuthTokens, err = s.countTokens(ctx); err != nil {
		return nil, err
	}
	return &st, nil
}

// ClearAll removes every offline record (farmers, plots, inspections,
// coordinates and tokens). Settings and the sync journal are kept.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"farmers", "map_plots", "inspections", "gps_coordinates", "auth_tokens"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storageErr("clear "+table, err)
		}
	}
	return nil
}

// newID builds a locally unique id: <prefix>_<unix millis>_<9 random chars>.
func (s *Store) newID(prefix string) (string, error) {
	suffix, err := gonanoid.Generate(idAlphabet, 9)
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return fmt.Sprintf("%s_%d_%s", prefix, s.now().UnixMilli(), suffix), nil
}
