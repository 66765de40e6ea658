package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sharedws/internal/reclaim"
	"github.com/loykin/sharedws/internal/server"
	"github.com/loykin/sharedws/internal/workspace"
	"github.com/loykin/sharedws/pkg/client"
)

func newDaemon(t *testing.T) (*client.Client, *clockwork.FakeClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clk := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	mgr := workspace.NewManager(workspace.Options{Clock: clk})
	require.NoError(t, mgr.Open(context.Background()))
	rec := reclaim.New(mgr, reclaim.Config{Retention: time.Hour, Fs: afero.NewMemMapFs(), Clock: clk})

	ts := httptest.NewServer(server.NewRouter(mgr, rec, "/api").Handler())
	t.Cleanup(ts.Close)

	cfg := client.DefaultConfig()
	cfg.BaseURL = ts.URL + "/api/"
	return client.New(cfg), clk
}

func TestClientNodeLifecycle(t *testing.T) {
	c, _ := newDaemon(t)
	ctx := context.Background()
	require.True(t, c.IsReachable(ctx))

	p, err := c.NodeCreated(ctx, client.NodeRef{Name: "agent-1", Root: "/nfs/ws"})
	require.NoError(t, err)
	assert.Equal(t, "/nfs/ws", p)
	p, err = c.NodeCreated(ctx, client.NodeRef{Name: "agent-2", Root: "/nfs/ws"})
	require.NoError(t, err)
	assert.Equal(t, "/nfs/ws@2", p)

	p, err = c.NodeUpdated(ctx, client.NodeRef{Name: "agent-2"}, client.NodeRef{Name: "agent-2b", Root: "/nfs/ws"})
	require.NoError(t, err)
	assert.Equal(t, "/nfs/ws@2", p)

	rp, err := c.RootPath(ctx, client.NodeRef{Name: "agent-2b"})
	require.NoError(t, err)
	assert.True(t, rp.Allocated)
	assert.Equal(t, "/nfs/ws@2", rp.RootPath)

	rel, err := c.NodeDeleted(ctx, "agent-2b")
	require.NoError(t, err)
	assert.True(t, rel.Released)
	assert.Equal(t, "/nfs/ws@2", rel.RootPath)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Allocations, 1)
	assert.Contains(t, st.PendingReclamation, "/nfs/ws@2")
}

func TestClientProjects(t *testing.T) {
	c, _ := newDaemon(t)
	ctx := context.Background()

	_, err := c.NodeCreated(ctx, client.NodeRef{Name: "agent-1", Root: "/nfs/ws"})
	require.NoError(t, err)
	require.NoError(t, c.BuildCompleted(ctx, "app", "/nfs/ws/app"))

	ws, ok, err := c.ProjectWorkspace(ctx, "app")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/nfs/ws/app", ws)

	_, ok, err = c.ProjectWorkspace(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	renamed, err := c.ProjectRenamed(ctx, "app", "team/app")
	require.NoError(t, err)
	assert.True(t, renamed)
	renamed, err = c.ProjectRenamed(ctx, "app", "other")
	require.NoError(t, err)
	assert.False(t, renamed)

	loc, err := c.Locate(ctx, "team/app", client.NodeRef{Name: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, "/nfs/ws/team/app", loc)

	fr, err := c.ProjectDeleted(ctx, "team/app")
	require.NoError(t, err)
	assert.True(t, fr.Deleted)
}

func TestClientReclaim(t *testing.T) {
	c, clk := newDaemon(t)
	ctx := context.Background()

	_, err := c.NodeCreated(ctx, client.NodeRef{Name: "agent-1", Root: "/nfs/ws"})
	require.NoError(t, err)
	_, err = c.NodeDeleted(ctx, "agent-1")
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)

	rep, err := c.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/nfs/ws"}, rep.Deleted)
	assert.Empty(t, rep.Failed)
}

func TestClientAPIErrors(t *testing.T) {
	c, _ := newDaemon(t)
	ctx := context.Background()

	_, err := c.NodeCreated(ctx, client.NodeRef{Name: "agent-1"})
	require.Error(t, err)
	var ae *client.APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.Status)
	assert.Contains(t, ae.Message, "empty base path")

	err = c.BuildCompleted(ctx, "", "/nfs/ws/app")
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.Status)

	_, err = c.Locate(ctx, "app", client.NodeRef{Name: "nobody"})
	assert.True(t, client.IsNotFound(err))
}

func TestClientUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := client.New(client.Config{BaseURL: url, Timeout: time.Second})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Status(context.Background())
	assert.Error(t, err)
}
