package workspace

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sharedws/internal/history"
	"github.com/loykin/sharedws/internal/metrics"
	"github.com/loykin/sharedws/internal/state"
)

// mockHistorySink implements history.Sink for testing
type mockHistorySink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (s *mockHistorySink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *mockHistorySink) types() []history.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestManager(t *testing.T, backend state.Backend) (*Manager, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewManager(Options{Store: state.NewStore(backend), Clock: clk})
	require.NoError(t, m.Open(context.Background()))
	return m, clk
}

func TestManagerNodeLifecycle(t *testing.T) {
	m, _ := newTestManager(t, state.NewMemoryBackend())
	ctx := context.Background()
	sink := &mockHistorySink{}
	m.SetHistorySinks(sink)

	a1 := Node{Name: "agent-1", Root: "/nfs/ws"}
	a2 := Node{Name: "agent-2", Root: "/nfs/ws"}
	p1, err := m.OnNodeCreated(ctx, a1)
	require.NoError(t, err)
	p2, err := m.OnNodeCreated(ctx, a2)
	require.NoError(t, err)
	assert.Equal(t, "/nfs/ws", p1)
	assert.Equal(t, "/nfs/ws@2", p2)

	a2b := Node{Name: "agent-2b", Root: "/nfs/other"}
	p, err := m.OnNodeUpdated(ctx, a2, a2b)
	require.NoError(t, err)
	assert.Equal(t, "/nfs/ws@2", p)
	assert.Equal(t, "/nfs/ws@2", m.ResolveRootPathForNode(a2b))
	assert.Equal(t, a2.Root, m.ResolveRootPathForNode(a2), "unbound node falls back to its root")

	released, ok := m.OnNodeDeleted(ctx, a1)
	assert.True(t, ok)
	assert.Equal(t, "/nfs/ws", released)
	_, ok = m.OnNodeDeleted(ctx, a1)
	assert.False(t, ok)

	assert.Equal(t, []history.EventType{
		history.EventAllocate, history.EventAllocate, history.EventReallocate, history.EventRelease,
	}, sink.types())
}

func TestManagerProjects(t *testing.T) {
	m, _ := newTestManager(t, state.NewMemoryBackend())
	ctx := context.Background()

	require.ErrorIs(t, m.OnBuildCompleted(ctx, "", "/nfs/ws/app"), ErrInvalidArgument)
	require.ErrorIs(t, m.OnBuildCompleted(ctx, "app", " "), ErrInvalidArgument)

	require.NoError(t, m.OnBuildCompleted(ctx, "app", "/nfs/ws/app"))
	require.NoError(t, m.OnBuildCompleted(ctx, "app", "/nfs/ws@2/app"))
	ws, ok := m.ResolveWorkspaceForBrowsing("app")
	assert.True(t, ok)
	assert.Equal(t, "/nfs/ws@2/app", ws, "latest build wins")

	assert.True(t, m.OnProjectRenamed(ctx, "app", "folder/app"))
	_, ok = m.ResolveWorkspaceForBrowsing("app")
	assert.False(t, ok)
	ws, ok = m.ResolveWorkspaceForBrowsing("folder/app")
	assert.True(t, ok)
	assert.Equal(t, "/nfs/ws@2/app", ws)
	assert.False(t, m.OnProjectRenamed(ctx, "missing", "x"))

	p, ok := m.OnProjectDeleted(ctx, "folder/app")
	assert.True(t, ok)
	assert.Equal(t, "/nfs/ws@2/app", p)
	_, ok = m.OnProjectDeleted(ctx, "folder/app")
	assert.False(t, ok)
}

func TestManagerLocate(t *testing.T) {
	m, _ := newTestManager(t, state.NewMemoryBackend())
	ctx := context.Background()
	n := Node{Name: "agent-1", Root: "/nfs/ws"}
	_, _ = m.OnNodeCreated(ctx, Node{Name: "agent-0", Root: "/nfs/ws"})
	_, _ = m.OnNodeCreated(ctx, n)

	assert.Equal(t, filepath.Join("/nfs/ws@2", "app"), m.Locate("app", n))
	assert.Equal(t, filepath.Join("/local", "app"), m.Locate("app", Node{Name: "x", Root: "/local"}))
	assert.Empty(t, m.Locate("app", Node{Name: "y"}))
}

func TestManagerPersistRoundTrip(t *testing.T) {
	backend := state.NewMemoryBackend()
	m, clk := newTestManager(t, backend)
	ctx := context.Background()

	_, _ = m.OnNodeCreated(ctx, Node{Name: "agent-1", Root: "/nfs/ws"})
	_, _ = m.OnNodeCreated(ctx, Node{Name: "agent-2", Root: "/nfs/ws"})
	clk.Advance(time.Minute)
	_, _ = m.OnNodeDeleted(ctx, Node{Name: "agent-2"})
	require.NoError(t, m.OnBuildCompleted(ctx, "app", "/nfs/ws/app"))
	require.NoError(t, m.Close(ctx))

	m2, _ := newTestManager(t, backend)
	before := m.Status()
	after := m2.Status()
	assert.Equal(t, before.PendingReclamation, after.PendingReclamation)
	assert.Equal(t, before.Projects, after.Projects)

	require.Len(t, after.Allocations, 1)
	assert.True(t, after.Allocations[0].Orphan)
	assert.Equal(t, "/nfs/ws", after.Allocations[0].Path)

	// a fresh node must not get the reserved path, the owner gets it back
	p, err := m2.OnNodeCreated(ctx, Node{Name: "agent-3", Root: "/nfs/ws"})
	require.NoError(t, err)
	assert.Equal(t, "/nfs/ws@2", p)
	p, err = m2.OnNodeCreated(ctx, Node{Name: "agent-1", Root: "/nfs/ws"})
	require.NoError(t, err)
	assert.Equal(t, "/nfs/ws", p)
}

func TestManagerWritesThroughOnEveryMutation(t *testing.T) {
	backend := state.NewMemoryBackend()
	m, _ := newTestManager(t, backend)
	ctx := context.Background()

	_, _ = m.OnNodeCreated(ctx, Node{Name: "a", Root: "/ws"})
	assert.Equal(t, 1, backend.Saves())
	_, _ = m.OnNodeUpdated(ctx, Node{Name: "a"}, Node{Name: "b"})
	assert.Equal(t, 2, backend.Saves())
	_, _ = m.OnNodeDeleted(ctx, Node{Name: "b"})
	assert.Equal(t, 3, backend.Saves())
	_ = m.OnBuildCompleted(ctx, "p", "/ws/p")
	assert.Equal(t, 4, backend.Saves())
	_, _ = m.OnProjectDeleted(ctx, "p")
	assert.Equal(t, 5, backend.Saves())

	// no-ops do not write
	_, _ = m.OnNodeDeleted(ctx, Node{Name: "ghost"})
	_, _ = m.OnProjectDeleted(ctx, "ghost")
	assert.Equal(t, 5, backend.Saves())
}

func TestManagerPersistFailureIsNotPropagated(t *testing.T) {
	backend := state.NewMemoryBackend()
	m, _ := newTestManager(t, backend)
	ctx := context.Background()
	backend.FailWith(errors.New("nfs unavailable"))

	p, err := m.OnNodeCreated(ctx, Node{Name: "agent-1", Root: "/nfs/ws"})
	require.NoError(t, err)
	assert.Equal(t, "/nfs/ws", p)
	require.NoError(t, m.OnBuildCompleted(ctx, "app", "/nfs/ws/app"))

	// in-memory state is kept
	assert.Equal(t, "/nfs/ws", m.ResolveRootPathForNode(Node{Name: "agent-1"}))
	assert.Equal(t, 0, backend.Saves())

	backend.FailWith(nil)
	_, _ = m.OnNodeCreated(ctx, Node{Name: "agent-2", Root: "/nfs/ws"})
	snap, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Allocations, 2)
	assert.Equal(t, "/nfs/ws/app", snap.Projects["app"])
}

func TestManagerBulkSavesOnce(t *testing.T) {
	backend := state.NewMemoryBackend()
	m, _ := newTestManager(t, backend)
	ctx := context.Background()

	bctx, bulk := m.Bulk(ctx)
	for _, n := range []string{"a", "b", "c"} {
		_, err := m.OnNodeCreated(bctx, Node{Name: n, Root: "/ws"})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, backend.Saves())
	assert.True(t, m.Status().StatePending)
	require.NoError(t, bulk.Commit(ctx))
	assert.Equal(t, 1, backend.Saves())
}

func TestManagerBulkDoesNotDeferOtherCallers(t *testing.T) {
	backend := state.NewMemoryBackend()
	m, _ := newTestManager(t, backend)
	ctx := context.Background()

	bctx, bulk := m.Bulk(ctx)
	_, err := m.OnNodeCreated(bctx, Node{Name: "a", Root: "/ws"})
	require.NoError(t, err)
	assert.Equal(t, 0, backend.Saves())

	p, err := m.OnNodeCreated(ctx, Node{Name: "b", Root: "/ws"})
	require.NoError(t, err)
	snap, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, snap.Allocations, state.Allocation{Path: p, Owner: "b"})

	require.NoError(t, bulk.Commit(ctx))
	assert.False(t, m.Status().StatePending)
}

var (
	metricsOnce sync.Once
	metricsReg  = prometheus.NewRegistry()
)

func allocationsGauge(t *testing.T) float64 {
	t.Helper()
	metricsOnce.Do(func() { require.NoError(t, metrics.Register(metricsReg)) })
	mfs, err := metricsReg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "sharedws_workspace_allocations" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("allocations gauge not registered")
	return 0
}

func TestManagerBulkPublishesSizesOnCommit(t *testing.T) {
	m, _ := newTestManager(t, state.NewMemoryBackend())
	ctx := context.Background()
	allocationsGauge(t)

	_, err := m.OnNodeCreated(ctx, Node{Name: "a", Root: "/ws"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, allocationsGauge(t))

	bctx, bulk := m.Bulk(ctx)
	for _, n := range []string{"b", "c", "d"} {
		_, err := m.OnNodeCreated(bctx, Node{Name: n, Root: "/ws"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, allocationsGauge(t), "gauges wait for the commit")
	require.NoError(t, bulk.Commit(ctx))
	assert.Equal(t, 4.0, allocationsGauge(t))
}

func TestManagerHistorySinkFailureIsIgnored(t *testing.T) {
	m, _ := newTestManager(t, state.NewMemoryBackend())
	sink := &mockHistorySink{err: errors.New("down")}
	m.SetHistorySinks(sink)
	_, err := m.OnNodeCreated(context.Background(), Node{Name: "a", Root: "/ws"})
	require.NoError(t, err)
	assert.Len(t, sink.types(), 1)
}

func TestManagerOpenRejectsInvalidSnapshot(t *testing.T) {
	backend := state.NewMemoryBackend()
	bad := state.New()
	bad.Allocations = []state.Allocation{{Path: "/ws"}, {Path: "/ws"}}
	require.NoError(t, backend.Save(context.Background(), bad))

	m := NewManager(Options{Store: state.NewStore(backend)})
	assert.Error(t, m.Open(context.Background()))
}

func TestManagerFinishReclaimEmitsEvents(t *testing.T) {
	m, clk := newTestManager(t, state.NewMemoryBackend())
	ctx := context.Background()
	sink := &mockHistorySink{}
	m.SetHistorySinks(sink)

	_, _ = m.OnNodeCreated(ctx, Node{Name: "a", Root: "/ws"})
	_, _ = m.OnNodeCreated(ctx, Node{Name: "b", Root: "/ws"})
	_, _ = m.OnNodeDeleted(ctx, Node{Name: "a"})
	_, _ = m.OnNodeDeleted(ctx, Node{Name: "b"})
	clk.Advance(2 * time.Hour)

	claimed := m.ClaimExpired(time.Hour)
	require.Len(t, claimed, 2)
	m.FinishReclaim(ctx, claimed[0].Path, false, nil)
	m.FinishReclaim(ctx, claimed[1].Path, true, errors.New("permission denied"))

	types := sink.types()
	assert.Equal(t, history.EventReclaim, types[len(types)-2])
	assert.Equal(t, history.EventReclaimFailed, types[len(types)-1])
	assert.Contains(t, m.Status().PendingReclamation, "/ws@2")
	assert.NotContains(t, m.Status().PendingReclamation, "/ws")
}
