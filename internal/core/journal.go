package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SyncAttempt is one push of one record to the remote service.
type SyncAttempt struct {
	ID          int64      `json:"id"`
	OperationID string     `json:"operation_id"`
	Collection  string     `json:"collection"`
	RecordID    string     `json:"record_id"`
	State       string     `json:"state"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Attempt states
const (
	AttemptPending = "pending"
	AttemptSynced  = "synced"
	AttemptFailed  = "failed"
)

// SyncJournal records push attempts so an interrupted run can be inspected
// after a crash.
//
// INVARIANT: an attempt is journaled BEFORE the remote call is made.
type SyncJournal struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSyncJournal creates a journal over db. The sync_journal table is
// created by Store.Initialize.
func NewSyncJournal(db *sql.DB) *SyncJournal {
	return &SyncJournal{db: db, now: time.Now}
}

// BeginAttempt journals a push of collection/recordID and returns its operation id.
func (j *SyncJournal) BeginAttempt(ctx context.Context, collection, recordID string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	opID := uuid.New().String()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sync_journal (operation_id, collection, record_id, state, started_at)
		VALUES (?, ?, ?, 'pending', ?)
	`, opID, collection, recordID, j.now().UnixMilli())
	if err != nil {
		return "", storageErr("begin sync attempt", err)
	}
	return opID, nil
}

// CompleteAttempt marks an attempt as accepted by the remote service.
func (j *SyncJournal) CompleteAttempt(ctx context.Context, opID string) error {
	return j.finish(ctx, opID, AttemptSynced, "")
}

// FailAttempt marks an attempt as rejected.
func (j *SyncJournal) FailAttempt(ctx context.Context, opID string, errMsg string) error {
	return j.finish(ctx, opID, AttemptFailed, errMsg)
}

func (j *SyncJournal) finish(ctx context.Context, opID, state, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	_, err := j.db.ExecContext(ctx, `
		UPDATE sync_journal SET state = ?, error = ?, completed_at = ?
		WHERE operation_id = ?
	`, state, errVal, j.now().UnixMilli(), opID)
	if err != nil {
		return storageErr("finish sync attempt", err)
	}
	return nil
}

// Unfinished returns attempts that were started but never completed, which
// happens when the process dies mid-push.
func (j *SyncJournal) Unfinished(ctx context.Context) ([]*SyncAttempt, error) {
	return j.list(ctx, `WHERE state = 'pending' ORDER BY started_at ASC, id ASC`)
}

// Recent returns the latest attempts, newest first.
func (j *SyncJournal) Recent(ctx context.Context, limit int) ([]*SyncAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	return j.list(ctx, `ORDER BY id DESC LIMIT ?`, limit)
}

func (j *SyncJournal) list(ctx context.Context, tail string, args ...any) ([]*SyncAttempt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, operation_id, collection, record_id, state, error, started_at, completed_at
		FROM sync_journal `+tail, args...)
	if err != nil {
		return nil, storageErr("list sync attempts", err)
	}
	defer rows.Close()

	var attempts []*SyncAttempt
	for rows.Next() {
		var a SyncAttempt
		var errStr sql.NullString
		var started int64
		var completed sql.NullInt64
		err := rows.Scan(&a.ID, &a.OperationID, &a.Collection, &a.RecordID,
			&a.State, &errStr, &started, &completed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync attempt: %w", err)
		}
		a.StartedAt = time.UnixMilli(started)
		if completed.Valid {
			t := time.UnixMilli(completed.Int64)
			a.CompletedAt = &t
		}
		a.Error = errStr.String
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}
