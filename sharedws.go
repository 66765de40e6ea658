// Package sharedws allocates unique workspace root paths on shared storage
// to build nodes, remembers where each project was last built and deletes
// root paths that stayed unused longer than a retention period.
//
// It is a thin facade over the internal packages for embedding in a build
// controller; cmd/sharedws runs the same code as a daemon.
package sharedws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	cfg "github.com/loykin/sharedws/internal/config"
	"github.com/loykin/sharedws/internal/cron"
	"github.com/loykin/sharedws/internal/history"
	hfactory "github.com/loykin/sharedws/internal/history/factory"
	"github.com/loykin/sharedws/internal/metrics"
	"github.com/loykin/sharedws/internal/reclaim"
	iapi "github.com/loykin/sharedws/internal/server"
	"github.com/loykin/sharedws/internal/state"
	sfactory "github.com/loykin/sharedws/internal/state/factory"
	"github.com/loykin/sharedws/internal/workspace"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Node = workspace.Node

type Status = workspace.Status

type Binding = workspace.Binding

type ReclaimReport = reclaim.Report

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Config = cfg.Config

var (
	ErrEmptyBasePath       = workspace.ErrEmptyBasePath
	ErrAllocationExhausted = workspace.ErrAllocationExhausted
	ErrInvalidArgument     = workspace.ErrInvalidArgument
)

// ReclaimJobName is the scheduler job name of the periodic sweep.
const ReclaimJobName = "reclaim"

// Options configures a Manager built with New.
type Options struct {
	// StateDSN selects the state backend (see internal/state/factory).
	// Empty keeps state in memory.
	StateDSN   string
	Combinator string
	MaxProbe   int
	Retention  time.Duration
	KeepFailed bool
	// Fs is where root paths are deleted. Defaults to the OS filesystem.
	Fs     afero.Fs
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Manager bundles the workspace manager, its reclaimer and the scheduler
// running periodic sweeps.
type Manager struct {
	inner *workspace.Manager
	rec   *reclaim.Reclaimer
	clock clockwork.Clock
	log   *slog.Logger

	mu      sync.Mutex
	sched   *cron.Scheduler
	closers []io.Closer
}

func New(opts Options) (*Manager, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dsn := opts.StateDSN
	if dsn == "" {
		dsn = "memory://"
	}
	backend, err := sfactory.NewFromDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("state backend: %w", err)
	}
	store := state.NewStore(backend, state.WithLogger(opts.Logger), state.WithNow(opts.Clock.Now))
	inner := workspace.NewManager(workspace.Options{
		Store:      store,
		Combinator: opts.Combinator,
		MaxProbe:   opts.MaxProbe,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
	})
	rec := reclaim.New(inner, reclaim.Config{
		Retention:  opts.Retention,
		KeepFailed: opts.KeepFailed,
		Fs:         opts.Fs,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
	})
	return &Manager{inner: inner, rec: rec, clock: opts.Clock, log: opts.Logger}, nil
}

// FromConfig builds a Manager from daemon configuration, including the
// history sinks it lists. Sinks that cannot be created are logged and
// skipped.
func FromConfig(c *Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := New(Options{
		StateDSN:   c.State.DSN,
		Combinator: c.Workspace.Combinator,
		MaxProbe:   c.Workspace.MaxProbe,
		Retention:  c.Reclaim.Retention,
		KeepFailed: c.Reclaim.KeepFailed,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	var sinks []HistorySink
	for _, h := range c.History {
		s, err := hfactory.NewSinkFromDSN(h.DSN)
		if err != nil {
			logger.Error("Failed to create history sink", "dsn", h.DSN, "error", err)
			continue
		}
		sinks = append(sinks, s)
	}
	m.SetHistorySinks(sinks...)
	return m, nil
}

// Open loads persisted state.
func (m *Manager) Open(ctx context.Context) error { return m.inner.Open(ctx) }

// Close stops periodic sweeps, flushes state and closes history sinks.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	sched, closers := m.sched, m.closers
	m.sched, m.closers = nil, nil
	m.mu.Unlock()

	var errs []error
	if sched != nil {
		errs = append(errs, sched.Stop())
	}
	errs = append(errs, m.inner.Close(ctx))
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// SetHistorySinks replaces the audit sinks. Sinks implementing io.Closer are
// closed by Close.
func (m *Manager) SetHistorySinks(sinks ...HistorySink) {
	m.inner.SetHistorySinks(sinks...)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			m.closers = append(m.closers, c)
		}
	}
}

func (m *Manager) OnNodeCreated(ctx context.Context, n Node) (string, error) {
	return m.inner.OnNodeCreated(ctx, n)
}
func (m *Manager) OnNodeUpdated(ctx context.Context, oldNode, newNode Node) (string, error) {
	return m.inner.OnNodeUpdated(ctx, oldNode, newNode)
}
func (m *Manager) OnNodeDeleted(ctx context.Context, n Node) (string, bool) {
	return m.inner.OnNodeDeleted(ctx, n)
}
func (m *Manager) OnProjectDeleted(ctx context.Context, project string) (string, bool) {
	return m.inner.OnProjectDeleted(ctx, project)
}
func (m *Manager) OnProjectRenamed(ctx context.Context, oldName, newName string) bool {
	return m.inner.OnProjectRenamed(ctx, oldName, newName)
}
func (m *Manager) OnBuildCompleted(ctx context.Context, project, workspacePath string) error {
	return m.inner.OnBuildCompleted(ctx, project, workspacePath)
}
func (m *Manager) ResolveWorkspaceForBrowsing(project string) (string, bool) {
	return m.inner.ResolveWorkspaceForBrowsing(project)
}
func (m *Manager) ResolveRootPathForNode(n Node) string { return m.inner.ResolveRootPathForNode(n) }
func (m *Manager) Locate(project string, n Node) string { return m.inner.Locate(project, n) }
func (m *Manager) Status() Status { return m.inner.Status() }

// Sweep runs one reclaim sweep now.
func (m *Manager) Sweep(ctx context.Context) ReclaimReport { return m.rec.Sweep(ctx) }

func (m *Manager) Retention() time.Duration { return m.rec.Retention() }
func (m *Manager) SetRetention(d time.Duration) { m.rec.SetRetention(d) }
func (m *Manager) SetKeepFailed(keep bool) { m.rec.SetKeepFailed(keep) }

// StartReclaimer runs a sweep every interval until Close.
func (m *Manager) StartReclaimer(interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sched != nil {
		return errors.New("reclaimer already started")
	}
	s := cron.NewScheduler(cron.WithClock(m.clock), cron.WithLogger(m.log))
	job := &cron.Job{
		Name:     ReclaimJobName,
		Schedule: cron.Every(interval),
		Task:     func(ctx context.Context) { m.rec.Sweep(ctx) },
	}
	if err := s.Add(job); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	m.sched = s
	m.log.Info("Periodic reclaim started", "interval", interval, "retention", m.rec.Retention())
	return nil
}

// Handler returns the HTTP API handler; metricsPath, when non-empty, also
// serves Prometheus metrics.
func (m *Manager) Handler(basePath, metricsPath string) http.Handler {
	return iapi.NewRouter(m.inner, m.rec, basePath).WithMetrics(metricsPath).Handler()
}

// NewHTTPServer starts an HTTP server exposing the API of m.
func NewHTTPServer(c cfg.ServerConfig, metricsPath string, m *Manager) (*http.Server, error) {
	return iapi.NewServer(c, m.Handler(c.BasePath, metricsPath))
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }
