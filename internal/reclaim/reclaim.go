// Package reclaim deletes workspace roots that stayed released longer than
// the retention period.
package reclaim

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/loykin/sharedws/internal/metrics"
	"github.com/loykin/sharedws/internal/state"
	"github.com/loykin/sharedws/internal/workspace"
)

const (
	DefaultRetention = 30 * 24 * time.Hour
	DefaultInterval  = time.Hour
)

// Tables is the part of the workspace manager a sweep works on.
type Tables interface {
	Bulk(ctx context.Context) (context.Context, *state.BulkChange)
	ClaimExpired(retention time.Duration) []workspace.Expired
	FinishReclaim(ctx context.Context, path string, keep bool, cause error)
}

// Config configures a Reclaimer.
type Config struct {
	Retention time.Duration
	// KeepFailed returns paths whose deletion failed to the last-used index
	// so the next sweep retries them. By default they are dropped.
	KeepFailed bool
	Fs         afero.Fs
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Reclaimer runs sweeps. Only one sweep runs at a time.
type Reclaimer struct {
	tables     Tables
	fs         afero.Fs
	clock      clockwork.Clock
	log        *slog.Logger
	retention  atomic.Int64
	keepFailed atomic.Bool

	running sync.Mutex
}

// Report summarizes one sweep.
type Report struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Skipped  bool          `json:"skipped,omitempty"`
	Deleted  []string      `json:"deleted"`
	Failed   []Failure     `json:"failed"`
}

type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
	Kept  bool   `json:"kept"`
}

func New(tables Tables, cfg Config) *Reclaimer {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	r := &Reclaimer{tables: tables, fs: cfg.Fs, clock: cfg.Clock, log: cfg.Logger}
	r.retention.Store(int64(cfg.Retention))
	r.keepFailed.Store(cfg.KeepFailed)
	return r
}

func (r *Reclaimer) Retention() time.Duration { return time.Duration(r.retention.Load()) }

// SetRetention changes the retention used by later sweeps. Non-positive
// values are ignored.
func (r *Reclaimer) SetRetention(d time.Duration) {
	if d > 0 {
		r.retention.Store(int64(d))
	}
}

func (r *Reclaimer) SetKeepFailed(keep bool) { r.keepFailed.Store(keep) }

// Sweep deletes every root path released more than the retention ago.
// Deletion failures are logged and do not stop the sweep. Table changes
// made by the sweep are persisted with a single write, while mutations from
// other callers during the sweep are still written through. A sweep
// requested while another is running returns a report with Skipped set.
func (r *Reclaimer) Sweep(ctx context.Context) Report {
	rep := Report{Started: r.clock.Now(), Deleted: []string{}, Failed: []Failure{}}
	if !r.running.TryLock() {
		r.log.Info("Reclaim sweep already running, skipping")
		rep.Skipped = true
		return rep
	}
	defer r.running.Unlock()

	retention := r.Retention()
	keep := r.keepFailed.Load()

	sctx, bulk := r.tables.Bulk(ctx)
	claimed := r.tables.ClaimExpired(retention)
	for _, e := range claimed {
		err := r.remove(e.Path)
		if err != nil {
			r.log.Error("Failed to delete workspace root", "path", e.Path, "error", err, "retry", keep)
			rep.Failed = append(rep.Failed, Failure{Path: e.Path, Error: err.Error(), Kept: keep})
		} else {
			r.log.Info("Reclaimed workspace root", "path", e.Path, "released_at", e.LastUsed)
			rep.Deleted = append(rep.Deleted, e.Path)
		}
		r.tables.FinishReclaim(sctx, e.Path, keep && err != nil, err)
	}
	if err := bulk.Commit(ctx); err != nil {
		metrics.IncPersistFailure()
		r.log.Error("Failed to persist reclaim sweep", "error", err)
	}

	rep.Duration = r.clock.Since(rep.Started)
	metrics.AddReclaimed("deleted", len(rep.Deleted))
	if keep {
		metrics.AddReclaimed("kept", len(rep.Failed))
	} else {
		metrics.AddReclaimed("failed", len(rep.Failed))
	}
	metrics.ObserveSweep(rep.Duration.Seconds(), r.clock.Now().Unix())
	if len(claimed) > 0 {
		r.log.Info("Reclaim sweep finished", "deleted", len(rep.Deleted), "failed", len(rep.Failed), "retention", retention)
	} else {
		r.log.Debug("Reclaim sweep found nothing to delete", "retention", retention)
	}
	return rep
}

var errRefuseRoot = errors.New("refusing to delete filesystem root")

func (r *Reclaimer) remove(path string) error {
	if path == "" || path == "/" {
		return errRefuseRoot
	}
	return r.fs.RemoveAll(path)
}
