package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/loykin/sharedws/internal/history"
	"github.com/loykin/sharedws/internal/metrics"
	"github.com/loykin/sharedws/internal/state"
)

// Options configures a Manager.
type Options struct {
	// Store persists the tables. Nil keeps state in memory only.
	Store      *state.Store
	Combinator string
	MaxProbe   int
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Manager receives node, project and build lifecycle events from the host
// and answers where workspaces live. Every mutation is written through to
// the state store after the table locks are released; a failed write is
// logged and never returned to the caller.
type Manager struct {
	alloc *Allocator
	reg   *Registry
	store *state.Store
	clock clockwork.Clock
	log   *slog.Logger

	mu    sync.RWMutex
	sinks []history.Sink
}

func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = state.NewStore(state.NewMemoryBackend(), state.WithLogger(opts.Logger))
	}
	m := &Manager{
		alloc: NewAllocator(AllocatorOptions{
			Combinator: opts.Combinator,
			MaxProbe:   opts.MaxProbe,
			Clock:      opts.Clock,
		}),
		reg:   NewRegistry(),
		store: opts.Store,
		clock: opts.Clock,
		log:   opts.Logger,
	}
	m.store.SetSource(m.snapshot)
	return m
}

// SetHistorySinks configures audit sinks. Passing no sinks clears the list.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.mu.Lock()
	m.sinks = append([]history.Sink(nil), sinks...)
	m.mu.Unlock()
}

// Open loads persisted state. Restored allocations become orphaned
// reservations until their nodes register again.
func (m *Manager) Open(ctx context.Context) error {
	snap, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	m.alloc.Import(snap.Allocations, snap.LastUsed)
	m.reg.Import(snap.Projects)
	m.publishSizes()
	return nil
}

// Close flushes pending state and closes the store backend.
func (m *Manager) Close(ctx context.Context) error {
	return m.store.Close(ctx)
}

func (m *Manager) Allocator() *Allocator { return m.alloc }
func (m *Manager) Registry() *Registry { return m.reg }
func (m *Manager) Clock() clockwork.Clock { return m.clock }

func (m *Manager) snapshot() *state.Snapshot {
	s := state.New()
	s.Allocations, s.LastUsed = m.alloc.Export()
	s.Projects = m.reg.Export()
	return s
}

// OnNodeCreated allocates a root path for node from node.Root.
func (m *Manager) OnNodeCreated(ctx context.Context, node Node) (string, error) {
	p, probed, err := m.alloc.allocate(node, node.Root)
	metrics.IncOperation("allocate", err)
	if err != nil {
		m.log.Error("Failed to allocate workspace root", "node", node.String(), "base", node.Root, "error", err)
		return "", err
	}
	if probed > 0 {
		metrics.ObserveProbe(probed)
		if probed > 1 {
			m.log.Info("Workspace root in use, allocated suffixed path", "node", node.String(), "base", node.Root, "path", p)
		}
	}
	m.log.Info("Allocated workspace root", "node", node.String(), "path", p)
	m.persist(ctx, "allocate")
	m.emit(ctx, history.EventAllocate, func(e *history.Event) {
		e.Node, e.Path = node.Name, p
	})
	return p, nil
}

// OnNodeUpdated hands the path of oldNode to newNode, allocating from
// newNode.Root when oldNode held nothing.
func (m *Manager) OnNodeUpdated(ctx context.Context, oldNode, newNode Node) (string, error) {
	r, err := m.alloc.reallocate(oldNode, newNode, newNode.Root)
	metrics.IncOperation("reallocate", err)
	if err != nil {
		m.log.Error("Failed to reallocate workspace root", "old", oldNode.String(), "new", newNode.String(), "error", err)
		return "", err
	}
	for _, p := range r.released {
		m.log.Info("Released previous workspace root of replacing node", "node", newNode.String(), "path", p)
	}
	m.log.Info("Reallocated workspace root", "old", oldNode.String(), "new", newNode.String(), "path", r.path)
	m.persist(ctx, "reallocate")
	m.emit(ctx, history.EventReallocate, func(e *history.Event) {
		e.Node, e.Path = newNode.Name, r.path
		if r.moved {
			e.Detail = "from " + oldNode.Name
		}
	})
	for _, p := range r.released {
		m.emit(ctx, history.EventRelease, func(e *history.Event) {
			e.Node, e.Path = newNode.Name, p
		})
	}
	return r.path, nil
}

// OnNodeDeleted releases the path held by node into the last-used index.
func (m *Manager) OnNodeDeleted(ctx context.Context, node Node) (string, bool) {
	p, ok := m.alloc.Deallocate(node)
	metrics.IncOperation("deallocate", nil)
	if !ok {
		m.log.Debug("Node had no workspace root", "node", node.String())
		return "", false
	}
	m.log.Info("Released workspace root", "node", node.String(), "path", p)
	m.persist(ctx, "deallocate")
	m.emit(ctx, history.EventRelease, func(e *history.Event) {
		e.Node, e.Path = node.Name, p
	})
	return p, true
}

// OnProjectDeleted forgets the recorded workspace of project.
func (m *Manager) OnProjectDeleted(ctx context.Context, project string) (string, bool) {
	p, ok := m.reg.Forget(project)
	metrics.IncOperation("forget", nil)
	if !ok {
		return "", false
	}
	m.log.Info("Forgot project workspace", "project", project, "workspace", p)
	m.persist(ctx, "forget")
	m.emit(ctx, history.EventProjectDelete, func(e *history.Event) {
		e.Project, e.Path = project, p
	})
	return p, true
}

// OnProjectRenamed moves the recorded workspace to the new project name.
func (m *Manager) OnProjectRenamed(ctx context.Context, oldName, newName string) bool {
	if oldName == newName {
		return false
	}
	ok := m.reg.Rename(oldName, newName)
	metrics.IncOperation("rename", nil)
	if !ok {
		return false
	}
	m.log.Info("Renamed project workspace entry", "old", oldName, "new", newName)
	m.persist(ctx, "rename")
	m.emit(ctx, history.EventProjectRename, func(e *history.Event) {
		e.Project, e.Detail = newName, "from "+oldName
	})
	return true
}

// OnBuildCompleted records the workspace a build of project ran in.
func (m *Manager) OnBuildCompleted(ctx context.Context, project, workspacePath string) error {
	if strings.TrimSpace(project) == "" || strings.TrimSpace(workspacePath) == "" {
		err := fmt.Errorf("build completed: project and workspace are required: %w", ErrInvalidArgument)
		metrics.IncOperation("record", err)
		return err
	}
	m.reg.Record(project, workspacePath)
	metrics.IncOperation("record", nil)
	m.log.Debug("Recorded project workspace", "project", project, "workspace", workspacePath)
	m.persist(ctx, "record")
	m.emit(ctx, history.EventBuild, func(e *history.Event) {
		e.Project, e.Path = project, workspacePath
	})
	return nil
}

// ResolveWorkspaceForBrowsing returns where project was last built, even if
// the node that built it is offline.
func (m *Manager) ResolveWorkspaceForBrowsing(project string) (string, bool) {
	return m.reg.WorkspaceOf(project)
}

// ResolveRootPathForNode returns the allocated root of node, falling back to
// its configured root.
func (m *Manager) ResolveRootPathForNode(node Node) string {
	if p, ok := m.alloc.RootPathOf(node); ok {
		return p
	}
	return node.Root
}

// Locate returns the workspace directory of project on node.
func (m *Manager) Locate(project string, node Node) string {
	root := m.ResolveRootPathForNode(node)
	if root == "" {
		return ""
	}
	return filepath.Join(root, project)
}

// Status is a point-in-time view of all tables.
type Status struct {
	Combinator         string               `json:"combinator"`
	Allocations        []Binding            `json:"allocations"`
	PendingReclamation map[string]time.Time `json:"pending_reclamation"`
	Projects           map[string]string    `json:"projects"`
	StatePending       bool                 `json:"state_pending"`
}

func (m *Manager) Status() Status {
	return Status{
		Combinator:         m.alloc.Combinator(),
		Allocations:        m.alloc.Allocations(),
		PendingReclamation: m.alloc.PendingReclamation(),
		Projects:           m.reg.Export(),
		StatePending:       m.store.Pending(),
	}
}

// Bulk opens a scope in which the mutations made with the returned context
// are persisted with one write. Mutations made by other callers are written
// through as usual.
func (m *Manager) Bulk(ctx context.Context) (context.Context, *state.BulkChange) {
	ctx, b := m.store.Bulk(ctx)
	b.OnCommit(m.publishSizes)
	return ctx, b
}

// ClaimExpired hands paths released more than retention ago to the reclaimer.
func (m *Manager) ClaimExpired(retention time.Duration) []Expired {
	claimed := m.alloc.ClaimExpired(retention)
	for _, e := range claimed {
		if e.StaleOwner != "" {
			m.log.Warn("Dropping stale binding of expired workspace root", "path", e.Path, "node", e.StaleOwner)
		}
	}
	return claimed
}

// FinishReclaim records the outcome of deleting path. cause is the deletion
// error, if any; keep returns a failed path to the last-used index.
func (m *Manager) FinishReclaim(ctx context.Context, path string, keep bool, cause error) {
	m.alloc.FinishReclaim(path, keep)
	m.persist(ctx, "reclaim")
	if cause != nil {
		m.emit(ctx, history.EventReclaimFailed, func(e *history.Event) {
			e.Path, e.Detail = path, cause.Error()
		})
		return
	}
	m.emit(ctx, history.EventReclaim, func(e *history.Event) { e.Path = path })
}

func (m *Manager) persist(ctx context.Context, op string) {
	if err := m.store.Save(ctx); err != nil {
		metrics.IncPersistFailure()
		m.log.Error("Failed to persist workspace state", "op", op, "error", err)
	}
	if !m.store.InScope(ctx) {
		m.publishSizes()
	}
}

func (m *Manager) publishSizes() {
	allocated, pending := m.alloc.counts()
	metrics.SetTableSizes(allocated, pending, m.reg.Len())
}

func (m *Manager) emit(ctx context.Context, t history.EventType, fill func(*history.Event)) {
	m.mu.RLock()
	sinks := append([]history.Sink(nil), m.sinks...)
	m.mu.RUnlock()
	if len(sinks) == 0 {
		return
	}
	evt := history.NewEvent(t, m.clock.Now())
	fill(&evt)
	for _, s := range sinks {
		if err := s.Send(ctx, evt); err != nil {
			name := fmt.Sprintf("%T", s)
			metrics.IncHistoryFailure(name)
			m.log.Warn("Failed to send history event", "sink", name, "type", string(t), "error", err)
		}
	}
}
