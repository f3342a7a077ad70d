package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/agritrace/fieldmap/internal/model"
)

var (
	ErrSyncFailure    = errors.New("sync failure")
	ErrOffline        = errors.New("device is offline")
	ErrSyncInProgress = errors.New("sync already in progress")
)

// SyncError reports a record the remote service did not accept. The record
// stays in the store with status failed.
type SyncError struct {
	Collection string
	ID         string
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("failed to sync %s/%s: %v", e.Collection, e.ID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSyncFailure) match.
func (e *SyncError) Is(target error) bool {
	return target == ErrSyncFailure
}

// Pusher delivers records to the remote service. A nil error means the
// service confirmed the record.
type Pusher interface {
	PushFarmer(ctx context.Context, f *model.FarmerRegistration) error
	PushPlot(ctx context.Context, p *model.MapPlot) error
	PushInspection(ctx context.Context, i *model.Inspection) error
}

// Connectivity reports whether the remote service is reachable.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// SyncProgress is emitted before the first push and after every push.
type SyncProgress struct {
	Total      int    `json:"total"`
	Completed  int    `json:"completed"`
	Current    string `json:"current"`
	Percentage int    `json:"percentage"`
}

// SyncResult summarizes one reconciliation run.
type SyncResult struct {
	Synced     int
	Failed     int
	Errors     []error
	StartedAt  time.Time
	FinishedAt time.Time
}

// SyncStatus describes the reconciliation state of the store.
type SyncStatus struct {
	LastSync       time.Time `json:"lastSync"`
	PendingItems   int       `json:"pendingItems"`
	IsOnline       bool      `json:"isOnline"`
	SyncInProgress bool      `json:"syncInProgress"`
}

// Reconciler pushes pending and failed records to the remote service and
// records the outcome on each record.
//
// INVARIANTS:
// - A record is never deleted by a sync run; rejection only marks it failed
// - At most one run is active at a time
type Reconciler struct {
	store   *Store
	pusher  Pusher
	conn    Connectivity
	limiter *rate.Limiter
	logger  *log.Logger

	running   atomic.Bool
	mu        sync.Mutex
	listeners []func(SyncProgress)
}

// NewReconciler creates a reconciler. perSecond <= 0 disables rate limiting.
func NewReconciler(store *Store, pusher Pusher, conn Connectivity, perSecond float64, logger *log.Logger) *Reconciler {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		store:   store,
		pusher:  pusher,
		conn:    conn,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// OnProgress registers fn to receive progress updates.
func (r *Reconciler) OnProgress(fn func(SyncProgress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

type syncJob struct {
	collection string
	id         string
	label      string
	push       func(ctx context.Context) error
}

// Run pushes every unsynced farmer, plot and inspection, in that order.
// Rejected records are reported in SyncResult.Errors; storage failures and
// cancellation abort the run and are returned.
func (r *Reconciler) Run(ctx context.Context) (*SyncResult, error) {
	if !r.conn.Online(ctx) {
		return nil, ErrOffline
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer r.running.Store(false)

	result := &SyncResult{StartedAt: r.store.now()}

	jobs, err := r.collect(ctx)
	if err != nil {
		return nil, err
	}

	r.logger.Printf("[sync] starting run: %d records", len(jobs))
	r.emit(SyncProgress{Total: len(jobs), Current: "Starting sync"})

	for i, job := range jobs {
		if err := r.limiter.Wait(ctx); err != nil {
			return result, fmt.Errorf("sync interrupted: %w", err)
		}

		if err := r.pushOne(ctx, job); err != nil {
			var se *SyncError
			if !errors.As(err, &se) {
				return result, err
			}
			result.Failed++
			result.Errors = append(result.Errors, err)
			r.logger.Printf("[sync] %v", err)
		} else {
			result.Synced++
		}

		r.emit(SyncProgress{
			Total:      len(jobs),
			Completed:  i + 1,
			Current:    job.label,
			Percentage: percentage(i+1, len(jobs)),
		})
	}

	if err := r.store.TouchLastSync(ctx); err != nil {
		return result, err
	}
	result.FinishedAt = r.store.now()
	r.logger.Printf("[sync] run finished: %d synced, %d failed", result.Synced, result.Failed)
	return result, nil
}

func (r *Reconciler) pushOne(ctx context.Context, job syncJob) error {
	opID, err := r.store.Journal.BeginAttempt(ctx, job.collection, job.id)
	if err != nil {
		return err
	}

	if pushErr := job.push(ctx); pushErr != nil {
		if err := r.store.MarkFailed(ctx, job.collection, job.id); err != nil {
			return err
		}
		if err := r.store.Journal.FailAttempt(ctx, opID, pushErr.Error()); err != nil {
			return err
		}
		return &SyncError{Collection: job.collection, ID: job.id, Err: pushErr}
	}

	if err := r.store.MarkSynced(ctx, job.collection, job.id); err != nil {
		return err
	}
	return r.store.Journal.CompleteAttempt(ctx, opID)
}

func (r *Reconciler) collect(ctx context.Context) ([]syncJob, error) {
	var jobs []syncJob

	farmers, err := r.store.Farmers.Unsynced(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range farmers {
		jobs = append(jobs, syncJob{
			collection: CollectionFarmers,
			id:         f.ID,
			label:      fmt.Sprintf("Syncing farmer: %s %s", f.FirstName, f.LastName),
			push:       func(ctx context.Context) error { return r.pusher.PushFarmer(ctx, f) },
		})
	}

	plots, err := r.store.MapPlots.Unsynced(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range plots {
		jobs = append(jobs, syncJob{
			collection: CollectionMapPlots,
			id:         p.ID,
			label:      "Syncing farm plot: " + p.ID,
			push:       func(ctx context.Context) error { return r.pusher.PushPlot(ctx, p) },
		})
	}

	inspections, err := r.store.Inspections.Unsynced(ctx)
	if err != nil {
		return nil, err
	}
	for _, in := range inspections {
		jobs = append(jobs, syncJob{
			collection: CollectionInspections,
			id:         in.ID,
			label:      "Syncing inspection: " + in.ID,
			push:       func(ctx context.Context) error { return r.pusher.PushInspection(ctx, in) },
		})
	}

	return jobs, nil
}

func (r *Reconciler) emit(p SyncProgress) {
	r.mu.Lock()
	listeners := r.listeners
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(p)
	}
}

// Status reports the last sync time, the number of records waiting for the
// remote service, connectivity and whether a run is active.
func (r *Reconciler) Status(ctx context.Context) (*SyncStatus, error) {
	last, err := r.store.LastSync(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := r.store.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	return &SyncStatus{
		LastSync:       last,
		PendingItems:   pending,
		IsOnline:       r.conn.Online(ctx),
		SyncInProgress: r.running.Load(),
	}, nil
}

// PendingCount returns the number of farmers, plots and inspections that
// have not been confirmed by the remote service.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	total := 0
	counters := []func(context.Context, model.SyncStatus) (int, error){
		s.Farmers.CountByStatus, s.MapPlots.CountByStatus, s.Inspections.CountByStatus,
	}
	for _, count := range counters {
		for _, status := range []model.SyncStatus{model.SyncStatusPending, model.SyncStatusFailed} {
			n, err := count(ctx, status)
			if err != nil {
				return 0, err
			}
			total += n
		}
	}
	return total, nil
}

func percentage(done, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}
