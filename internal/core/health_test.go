package core

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/agritrace/fieldmap/internal/model"
)

func TestHealth_EmptyStore(t *testing.T) {
	s, _ := openTestStore(t)

	h, err := s.Health(context.Background())
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if !h.IntegrityOK {
		t.Error("expected integrity ok")
	}
	if h.Score != 1.0 {
		t.Errorf("expected score 1.0, got %v", h.Score)
	}
	if len(h.Issues) != 0 {
		t.Errorf("expected no issues, got %v", h.Issues)
	}
	if len(h.Collections) != 3 {
		t.Errorf("expected 3 collections, got %d", len(h.Collections))
	}
}

func TestHealth_Backlog(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now.Add(-10 * 24 * time.Hour) }
	old, err := s.Farmers.Create(ctx, model.FarmerRegistration{FarmerID: "F1"})
	if err != nil {
		t.Fatalf("failed to create farmer: %v", err)
	}
	s.now = func() time.Time { return now }

	plot, err := s.MapPlots.Create(ctx, model.MapPlot{FarmerID: "F1"})
	if err != nil {
		t.Fatalf("failed to create plot: %v", err)
	}
	if err := s.MarkFailed(ctx, CollectionMapPlots, plot.ID); err != nil {
		t.Fatalf("failed to mark plot: %v", err)
	}
	if _, err := s.Journal.BeginAttempt(ctx, CollectionMapPlots, plot.ID); err != nil {
		t.Fatalf("failed to journal attempt: %v", err)
	}

	h, err := s.Health(ctx)
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}

	farmers := h.Collections[0]
	if farmers.Collection != CollectionFarmers || farmers.Pending != 1 {
		t.Errorf("unexpected farmer health %+v", farmers)
	}
	if farmers.OldestPending == nil || farmers.OldestPending.UnixMilli() != old.Timestamp {
		t.Errorf("expected oldest pending at %d, got %v", old.Timestamp, farmers.OldestPending)
	}
	if h.Collections[1].Failed != 1 {
		t.Errorf("expected 1 failed plot, got %d", h.Collections[1].Failed)
	}
	if h.UnfinishedAttempts != 1 {
		t.Errorf("expected 1 unfinished attempt, got %d", h.UnfinishedAttempts)
	}

	// failed, older than a week, never synced, interrupted attempt
	if math.Abs(h.Score-0.1) > 1e-9 {
		t.Errorf("expected score 0.1, got %v", h.Score)
	}
	if HealthDescription(h.Score) != "Critical" {
		t.Errorf("expected Critical, got %s", HealthDescription(h.Score))
	}
	if len(h.Recommendations) == 0 {
		t.Error("expected recommendations")
	}
}

func TestHealthDescription(t *testing.T) {
	cases := map[float64]string{1.0: "Excellent", 0.85: "Good", 0.7: "Fair", 0.5: "Warning", 0.1: "Critical"}
	for score, want := range cases {
		if got := HealthDescription(score); got != want {
			t.Errorf("HealthDescription(%v) = %s, want %s", score, got, want)
		}
	}
}
