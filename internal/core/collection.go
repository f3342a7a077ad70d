package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agritrace/fieldmap/internal/model"
)

// docSchema describes how a record type maps onto its table. Records are kept
// as a JSON payload next to a few plain columns used for lookups.
type docSchema[T any] struct {
	table  string
	prefix string

	// indexes maps a record field name to the column holding it.
	indexes map[string]string
	// extra lists the index columns besides id/status/timestamp, and
	// values returns their values in the same order.
	extra  []string
	values func(*T) []any

	id        func(*T) *string
	timestamp func(*T) *int64
	offline   func(*T) *bool
	status    func(*T) *model.SyncStatus // nil for untracked collections
}

// Collection is a table of JSON documents of type T.
type Collection[T any] struct {
	s    *Store
	schema docSchema[T]
}

type statusTracker interface {
	setStatus(ctx context.Context, id string, status model.SyncStatus) error
}

func newFarmerCollection(s *Store) *Collection[model.FarmerRegistration] {
	return &Collection[model.FarmerRegistration]{s: s, schema: docSchema[model.FarmerRegistration]{
		table:     "farmers",
		prefix:    "farmer",
		indexes:   map[string]string{"farmerId": "farmer_id", "status": "status"},
		extra:     []string{"farmer_id"},
		values:    func(r *model.FarmerRegistration) []any { return []any{r.FarmerID} },
		id:        func(r *model.FarmerRegistration) *string { return &r.ID },
		timestamp: func(r *model.FarmerRegistration) *int64 { return &r.Timestamp },
		offline:   func(r *model.FarmerRegistration) *bool { return &r.IsOffline },
		status:    func(r *model.FarmerRegistration) *model.SyncStatus { return &r.Status },
	}}
}

func newMapPlotCollection(s *Store) *Collection[model.MapPlot] {
	return &Collection[model.MapPlot]{s: s, schema: docSchema[model.MapPlot]{
		table:     "map_plots",
		prefix:    "plot",
		indexes:   map[string]string{"farmerId": "farmer_id", "status": "status"},
		extra:     []string{"farmer_id"},
		values:    func(r *model.MapPlot) []any { return []any{r.FarmerID} },
		id:        func(r *model.MapPlot) *string { return &r.ID },
		timestamp: func(r *model.MapPlot) *int64 { return &r.Timestamp },
		offline:   func(r *model.MapPlot) *bool { return &r.IsOffline },
		status:    func(r *model.MapPlot) *model.SyncStatus { return &r.Status },
	}}
}

func newInspectionCollection(s *Store) *Collection[model.Inspection] {
	return &Collection[model.Inspection]{s: s, schema: docSchema[model.Inspection]{
		table:     "inspections",
		prefix:    "inspection",
		indexes:   map[string]string{"status": "status"},
		values:    func(*model.Inspection) []any { return nil },
		id:        func(r *model.Inspection) *string { return &r.ID },
		timestamp: func(r *model.Inspection) *int64 { return &r.Timestamp },
		offline:   func(r *model.Inspection) *bool { return &r.IsOffline },
		status:    func(r *model.Inspection) *model.SyncStatus { return &r.Status },
	}}
}

func newCoordinateCollection(s *Store) *Collection[model.GPSCoordinate] {
	return &Collection[model.GPSCoordinate]{s: s, schema: docSchema[model.GPSCoordinate]{
		table:     "gps_coordinates",
		prefix:    "gps",
		indexes:   map[string]string{"source": "source"},
		extra:     []string{"source"},
		values:    func(r *model.GPSCoordinate) []any { return []any{string(r.Source)} },
		id:        func(r *model.GPSCoordinate) *string { return &r.ID },
		timestamp: func(r *model.GPSCoordinate) *int64 { return &r.Timestamp },
		offline:   func(r *model.GPSCoordinate) *bool { return &r.IsOffline },
	}}
}

// Create assigns an id, stamps the record as an offline capture made now
// (status pending for tracked collections) and persists it.
func (c *Collection[T]) Create(ctx context.Context, rec T) (*T, error) {
	return c.create(ctx, rec, false)
}

func (c *Collection[T]) create(ctx context.Context, rec T, keepTimestamp bool) (*T, error) {
	id, err := c.s.newID(c.schema.prefix)
	if err != nil {
		return nil, err
	}
	*c.schema.id(&rec) = id
	if ts := c.schema.timestamp(&rec); !keepTimestamp || *ts == 0 {
		*ts = c.s.now().UnixMilli()
	}
	*c.schema.offline(&rec) = true
	if c.schema.status != nil {
		*c.schema.status(&rec) = model.SyncStatusPending
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if err := c.insert(ctx, c.s.db, &rec, false); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update writes rec under its id, inserting it when absent.
func (c *Collection[T]) Update(ctx context.Context, rec T) error {
	if *c.schema.id(&rec) == "" {
		return fmt.Errorf("failed to update %s: record has no id", c.schema.table)
	}
	if c.schema.status != nil && !c.schema.status(&rec).Valid() {
		return fmt.Errorf("failed to update %s: invalid status %q", c.schema.table, *c.schema.status(&rec))
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	return c.insert(ctx, c.s.db, &rec, true)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *Collection[T]) insert(ctx context.Context, db execer, rec *T, replace bool) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", c.schema.table, err)
	}

	cols := []string{"id", "timestamp", "payload"}
	args := []any{*c.schema.id(rec), *c.schema.timestamp(rec), string(payload)}
	if c.schema.status != nil {
		cols = append(cols, "status")
		args = append(args, string(*c.schema.status(rec)))
	}
	cols = append(cols, c.schema.extra...)
	args = append(args, c.schema.values(rec)...)

	verb := "INSERT"
	if replace {
		verb = "INSERT OR REPLACE"
	}
	query := fmt.Sprintf("%s INTO %s (%s) VALUES (?%s)",
		verb, c.schema.table, strings.Join(cols, ", "), strings.Repeat(", ?", len(cols)-1))

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return storageErr("write "+c.schema.table, err)
	}
	return nil
}

// GetByID returns the record with id, or nil if it doesn't exist.
func (c *Collection[T]) GetByID(ctx context.Context, id string) (*T, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	var payload string
	err := c.s.db.QueryRowContext(ctx,
		"SELECT payload FROM "+c.schema.table+" WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("read "+c.schema.table, err)
	}
	return c.decode(payload)
}

// GetAll returns every record, oldest first.
func (c *Collection[T]) GetAll(ctx context.Context) ([]*T, error) {
	return c.query(ctx, "")
}

// GetByIndex returns the records whose indexed field equals value.
func (c *Collection[T]) GetByIndex(ctx context.Context, field, value string) ([]*T, error) {
	col, ok := c.schema.indexes[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, c.schema.table, field)
	}
	return c.query(ctx, "WHERE "+col+" = ?", value)
}

// Unsynced returns records still waiting for the remote service: pending
// ones and ones whose last push failed.
func (c *Collection[T]) Unsynced(ctx context.Context) ([]*T, error) {
	if c.schema.status == nil {
		return nil, nil
	}
	return c.query(ctx, "WHERE status IN ('pending', 'failed')")
}

func (c *Collection[T]) query(ctx context.Context, where string, args ...any) ([]*T, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	rows, err := c.s.db.QueryContext(ctx,
		"SELECT payload FROM "+c.schema.table+" "+where+" ORDER BY timestamp ASC, id ASC", args...)
	if err != nil {
		return nil, storageErr("list "+c.schema.table, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, storageErr("scan "+c.schema.table, err)
		}
		rec, err := c.decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list "+c.schema.table, err)
	}
	return out, nil
}

// Delete removes the record with id. Deleting a missing record is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, err := c.s.db.ExecContext(ctx, "DELETE FROM "+c.schema.table+" WHERE id = ?", id); err != nil {
		return storageErr("delete from "+c.schema.table, err)
	}
	return nil
}

// Count returns the number of records.
func (c *Collection[T]) Count(ctx context.Context) (int, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	var n int
	if err := c.s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.schema.table).Scan(&n); err != nil {
		return 0, storageErr("count "+c.schema.table, err)
	}
	return n, nil
}

// CountByStatus returns the number of records in the given sync status.
func (c *Collection[T]) CountByStatus(ctx context.Context, status model.SyncStatus) (int, error) {
	if c.schema.status == nil {
		return 0, nil
	}

	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	var n int
	err := c.s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+c.schema.table+" WHERE status = ?", string(status)).Scan(&n)
	if err != nil {
		return 0, storageErr("count "+c.schema.table, err)
	}
	return n, nil
}

// Clear removes every record.
func (c *Collection[T]) Clear(ctx context.Context) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, err := c.s.db.ExecContext(ctx, "DELETE FROM "+c.schema.table); err != nil {
		return storageErr("clear "+c.schema.table, err)
	}
	return nil
}

func (c *Collection[T]) setStatus(ctx context.Context, id string, status model.SyncStatus) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRowContext(ctx, "SELECT payload FROM "+c.schema.table+" WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s/%s", ErrRecordNotFound, c.schema.table, id)
	}
	if err != nil {
		return storageErr("read "+c.schema.table, err)
	}

	rec, err := c.decode(payload)
	if err != nil {
		return err
	}
	*c.schema.status(rec) = status
	if err := c.insert(ctx, tx, rec, true); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit status change", err)
	}
	return nil
}

func (c *Collection[T]) decode(payload string) (*T, error) {
	var rec T
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s record: %w", c.schema.table, err)
	}
	return &rec, nil
}

// CoordinateLog is the append-only log of GPS fixes.
type CoordinateLog struct {
	c *Collection[model.GPSCoordinate]
}

// Append stores a new fix. Its timestamp is kept when set, so fixes carry
// the time the device reported rather than the time they were written.
func (l *CoordinateLog) Append(ctx context.Context, coord model.GPSCoordinate) (*model.GPSCoordinate, error) {
	return l.c.create(ctx, coord, true)
}

// GetAll returns every fix, oldest first.
func (l *CoordinateLog) GetAll(ctx context.Context) ([]*model.GPSCoordinate, error) {
	return l.c.GetAll(ctx)
}

// GetByID returns the fix with id, or nil if it doesn't exist.
func (l *CoordinateLog) GetByID(ctx context.Context, id string) (*model.GPSCoordinate, error) {
	return l.c.GetByID(ctx, id)
}

// GetByIndex looks fixes up by "source".
func (l *CoordinateLog) GetByIndex(ctx context.Context, field, value string) ([]*model.GPSCoordinate, error) {
	return l.c.GetByIndex(ctx, field, value)
}

// Recent returns fixes taken at or after since, newest first.
func (l *CoordinateLog) Recent(ctx context.Context, since time.Time) ([]*model.GPSCoordinate, error) {
	all, err := l.c.query(ctx, "WHERE timestamp >= ?", since.UnixMilli())
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

// Count returns the number of stored fixes.
func (l *CoordinateLog) Count(ctx context.Context) (int, error) {
	return l.c.Count(ctx)
}

// Clear removes every fix.
func (l *CoordinateLog) Clear(ctx context.Context) error {
	return l.c.Clear(ctx)
}
