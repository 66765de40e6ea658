// Package server exposes the workspace manager over HTTP so a build
// controller can report node, project and build lifecycle events.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/sharedws/internal/config"
	"github.com/loykin/sharedws/internal/metrics"
	"github.com/loykin/sharedws/internal/reclaim"
	stls "github.com/loykin/sharedws/internal/tls"
	"github.com/loykin/sharedws/internal/workspace"
	"github.com/loykin/sharedws/pkg/client"
)

// Sweeper runs a reclaim sweep on demand.
type Sweeper interface {
	Sweep(ctx context.Context) reclaim.Report
}

// Router provides embeddable HTTP handlers for the workspace manager.
// Endpoints (relative to basePath):
//
//	POST   /nodes              body: NodeRef                 allocate
//	PUT    /nodes              body: {old, new}              reallocate
//	DELETE /nodes?name=                                      deallocate
//	GET    /nodes/root?name=&root=                           resolve root path
//	GET    /locate?project=&node=&root=                      workspace of project on node
//	POST   /builds             body: {project, workspace}    record build
//	GET    /projects/workspace?name=                         browse workspace
//	DELETE /projects?name=                                   forget project
//	POST   /projects/rename    body: {old, new}              rename project
//	POST   /reclaim                                          run a sweep now
//	GET    /status                                           all tables
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr         *workspace.Manager
	sweeper     Sweeper
	basePath    string
	metricsPath string
}

// NewRouter constructs a Router. sweeper may be nil, in which case
// POST /reclaim answers 503.
func NewRouter(mgr *workspace.Manager, sweeper Sweeper, basePath string) *Router {
	return &Router{mgr: mgr, sweeper: sweeper, basePath: sanitizeBase(basePath)}
}

// WithMetrics serves the Prometheus handler at path, outside basePath.
func (r *Router) WithMetrics(path string) *Router {
	r.metricsPath = path
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.metricsPath != "" {
		g.GET(r.metricsPath, gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.POST("/nodes", r.handleNodeCreated)
	group.PUT("/nodes", r.handleNodeUpdated)
	group.DELETE("/nodes", r.handleNodeDeleted)
	group.GET("/nodes/root", r.handleNodeRoot)
	group.GET("/locate", r.handleLocate)
	group.POST("/builds", r.handleBuildCompleted)
	group.GET("/projects/workspace", r.handleProjectWorkspace)
	group.DELETE("/projects", r.handleProjectDeleted)
	group.POST("/projects/rename", r.handleProjectRenamed)
	group.POST("/reclaim", r.handleReclaim)
	group.GET("/status", r.handleStatus)
	return g
}

// NewServer binds addr and serves h in the background, over TLS when the
// server config enables it. Bind and TLS setup errors are returned; later
// serve errors are logged.
func NewServer(cfg config.ServerConfig, h http.Handler) (*http.Server, error) {
	tlsCfg, err := stls.SetupTLS(cfg)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           h,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute, // a sweep may take long on NFS
		IdleTimeout:       60 * time.Second,
	}
	go serve(srv, ln, tlsCfg)
	return srv, nil
}

func serve(srv *http.Server, ln net.Listener, tlsCfg *tls.Config) {
	var err error
	if tlsCfg != nil {
		err = srv.ServeTLS(ln, "", "")
	} else {
		err = srv.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server stopped", "addr", srv.Addr, "error", err)
	}
}

// --- Handlers ---

func errorJSON(c *gin.Context, code int, msg string) {
	writeJSON(c, code, client.ErrorResponse{Error: msg})
}

func toNode(n client.NodeRef) workspace.Node {
	return workspace.Node{Name: n.Name, DisplayName: n.DisplayName, Root: n.Root}
}

func validNode(c *gin.Context, n client.NodeRef, field string) bool {
	if strings.TrimSpace(n.Name) == "" {
		errorJSON(c, http.StatusBadRequest, field+"name required")
		return false
	}
	if !isSafeAbsPath(n.Root) {
		errorJSON(c, http.StatusBadRequest, "invalid "+field+"root: must be absolute path without traversal")
		return false
	}
	return true
}

func (r *Router) handleNodeCreated(c *gin.Context) {
	var n client.NodeRef
	if err := c.ShouldBindJSON(&n); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if !validNode(c, n, "") {
		return
	}
	p, err := r.mgr.OnNodeCreated(c.Request.Context(), toNode(n))
	if err != nil {
		errorJSON(c, statusFor(err), err.Error())
		return
	}
	writeJSON(c, http.StatusOK, client.RootPathResponse{RootPath: p, Allocated: true})
}

func (r *Router) handleNodeUpdated(c *gin.Context) {
	var req client.NodeUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if !validNode(c, req.New, "new.") {
		return
	}
	if !isSafeAbsPath(req.Old.Root) {
		errorJSON(c, http.StatusBadRequest, "invalid old.root: must be absolute path without traversal")
		return
	}
	p, err := r.mgr.OnNodeUpdated(c.Request.Context(), toNode(req.Old), toNode(req.New))
	if err != nil {
		errorJSON(c, statusFor(err), err.Error())
		return
	}
	writeJSON(c, http.StatusOK, client.RootPathResponse{RootPath: p, Allocated: true})
}

func (r *Router) handleNodeDeleted(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		errorJSON(c, http.StatusBadRequest, "name query param required")
		return
	}
	p, ok := r.mgr.OnNodeDeleted(c.Request.Context(), workspace.Node{Name: name})
	writeJSON(c, http.StatusOK, client.ReleaseResponse{RootPath: p, Released: ok})
}

func (r *Router) handleNodeRoot(c *gin.Context) {
	n := client.NodeRef{Name: c.Query("name"), Root: c.Query("root")}
	if !validNode(c, n, "") {
		return
	}
	if p, ok := r.mgr.Allocator().RootPathOf(toNode(n)); ok {
		writeJSON(c, http.StatusOK, client.RootPathResponse{RootPath: p, Allocated: true})
		return
	}
	writeJSON(c, http.StatusOK, client.RootPathResponse{RootPath: r.mgr.ResolveRootPathForNode(toNode(n))})
}

func (r *Router) handleLocate(c *gin.Context) {
	project := c.Query("project")
	n := client.NodeRef{Name: c.Query("node"), Root: c.Query("root")}
	if project == "" {
		errorJSON(c, http.StatusBadRequest, "project query param required")
		return
	}
	if !validNode(c, n, "") {
		return
	}
	ws := r.mgr.Locate(project, toNode(n))
	if ws == "" {
		errorJSON(c, http.StatusNotFound, "node has no workspace root")
		return
	}
	writeJSON(c, http.StatusOK, client.WorkspaceResponse{Project: project, Workspace: ws})
}

func (r *Router) handleBuildCompleted(c *gin.Context) {
	var req client.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if !isSafeAbsPath(req.Workspace) {
		errorJSON(c, http.StatusBadRequest, "invalid workspace: must be absolute path without traversal")
		return
	}
	if err := r.mgr.OnBuildCompleted(c.Request.Context(), req.Project, req.Workspace); err != nil {
		errorJSON(c, statusFor(err), err.Error())
		return
	}
	writeJSON(c, http.StatusOK, client.OKResponse{OK: true})
}

func (r *Router) handleProjectWorkspace(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		errorJSON(c, http.StatusBadRequest, "name query param required")
		return
	}
	ws, ok := r.mgr.ResolveWorkspaceForBrowsing(name)
	if !ok {
		errorJSON(c, http.StatusNotFound, "no workspace recorded for project "+name)
		return
	}
	writeJSON(c, http.StatusOK, client.WorkspaceResponse{Project: name, Workspace: ws})
}

func (r *Router) handleProjectDeleted(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		errorJSON(c, http.StatusBadRequest, "name query param required")
		return
	}
	ws, ok := r.mgr.OnProjectDeleted(c.Request.Context(), name)
	writeJSON(c, http.StatusOK, client.ForgetResponse{Workspace: ws, Deleted: ok})
}

func (r *Router) handleProjectRenamed(c *gin.Context) {
	var req client.RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Old == "" || req.New == "" || req.Old == req.New {
		errorJSON(c, http.StatusBadRequest, "old and new must be distinct non-empty names")
		return
	}
	if !r.mgr.OnProjectRenamed(c.Request.Context(), req.Old, req.New) {
		errorJSON(c, http.StatusNotFound, "no workspace recorded for project "+req.Old)
		return
	}
	writeJSON(c, http.StatusOK, client.OKResponse{OK: true})
}

func (r *Router) handleReclaim(c *gin.Context) {
	if r.sweeper == nil {
		errorJSON(c, http.StatusServiceUnavailable, "reclaim disabled")
		return
	}
	writeJSON(c, http.StatusOK, r.sweeper.Sweep(c.Request.Context()))
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Status())
}
