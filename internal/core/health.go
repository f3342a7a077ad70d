// Package core provides the backlog health report for the offline store.
//
// INVARIANTS:
// - Health scoring is OBSERVATIONAL only
// - NO automatic sync or retry
// - NO record is modified
package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CollectionHealth is the sync backlog of one collection.
type CollectionHealth struct {
	Collection    string
	Total         int
	Pending       int
	Failed        int
	OldestPending *time.Time
}

// Health summarizes how far the device is behind the remote service.
type Health struct {
	Collections        []CollectionHealth
	UnfinishedAttempts int
	LastSync           time.Time
	IntegrityOK        bool
	Score              float64 // 0.0 (critical) to 1.0 (excellent)
	Issues             []string
	Recommendations    []string
}

// Health inspects the store and scores its sync backlog.
func (s *Store) Health(ctx context.Context) (*Health, error) {
	h := &Health{}

	ok, err := s.integrityOK(ctx)
	if err != nil {
		return nil, err
	}
	h.IntegrityOK = ok

	for _, name := range []string{CollectionFarmers, CollectionMapPlots, CollectionInspections} {
		ch, err := s.collectionHealth(ctx, name)
		if err != nil {
			return nil, err
		}
		h.Collections = append(h.Collections, *ch)
	}

	unfinished, err := s.Journal.Unfinished(ctx)
	if err != nil {
		return nil, err
	}
	h.UnfinishedAttempts = len(unfinished)

	if h.LastSync, err = s.LastSync(ctx); err != nil {
		return nil, err
	}

	h.score(s.now())
	return h, nil
}

func (s *Store) integrityOK(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result string
	if err := s.db.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&result); err != nil {
		return false, storageErr("check integrity", err)
	}
	return result == "ok", nil
}

func (s *Store) collectionHealth(ctx context.Context, table string) (*CollectionHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch := &CollectionHealth{Collection: table}
	var oldest sql.NullInt64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			MIN(CASE WHEN status != 'synced' THEN timestamp END)
		FROM %s
	`, table)).Scan(&ch.Total, &ch.Pending, &ch.Failed, &oldest)
	if err != nil {
		return nil, storageErr("inspect "+table, err)
	}
	if oldest.Valid {
		t := time.UnixMilli(oldest.Int64)
		ch.OldestPending = &t
	}
	return ch, nil
}

func (h *Health) score(now time.Time) {
	if !h.IntegrityOK {
		h.Score = 0
		h.Issues = append(h.Issues, "Database integrity check failed")
		h.Recommendations = append(h.Recommendations, "Run 'fieldmap db backup' before any other change")
		return
	}

	score := 1.0
	var backlog, failed int
	var oldest *time.Time
	for _, c := range h.Collections {
		backlog += c.Pending + c.Failed
		failed += c.Failed
		if c.OldestPending != nil && (oldest == nil || c.OldestPending.Before(*oldest)) {
			oldest = c.OldestPending
		}
	}

	if failed > 0 {
		score -= 0.3
		h.Issues = append(h.Issues, fmt.Sprintf("%d record(s) rejected by the service", failed))
		h.Recommendations = append(h.Recommendations, "Run 'fieldmap sync -v' to see rejection reasons")
	}

	if oldest != nil {
		days := int(now.Sub(*oldest).Hours() / 24)
		if days > 7 {
			score -= 0.3
		} else if days > 1 {
			score -= 0.1
		}
		if days > 1 {
			h.Issues = append(h.Issues, fmt.Sprintf("Oldest unsynced record is %d days old", days))
			h.Recommendations = append(h.Recommendations, "Run 'fieldmap sync' when connectivity is available")
		}
	}

	if backlog > 0 && h.LastSync.IsZero() {
		score -= 0.2
		h.Issues = append(h.Issues, "Never synced")
	}

	if h.UnfinishedAttempts > 0 {
		score -= 0.1
		h.Issues = append(h.Issues, fmt.Sprintf("%d push attempt(s) interrupted", h.UnfinishedAttempts))
		h.Recommendations = append(h.Recommendations, "Run 'fieldmap sync log --unfinished' and re-run sync")
	}

	if score < 0 {
		score = 0
	}
	h.Score = score
}

// HealthDescription returns a human-readable description of score.
func HealthDescription(score float64) string {
	switch {
	case score >= 0.9:
		return "Excellent"
	case score >= 0.8:
		return "Good"
	case score >= 0.6:
		return "Fair"
	case score >= 0.4:
		return "Warning"
	default:
		return "Critical"
	}
}
