package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/loykin/sharedws/pkg/client"
)

const defaultAPIUrl = "http://127.0.0.1:8080/api"

type command struct {
	flags *GlobalFlags
	out   io.Writer
}

func (c command) client() *client.Client {
	cfg := client.DefaultConfig()
	cfg.BaseURL = defaultAPIUrl
	if c.flags.APIUrl != "" {
		cfg.BaseURL = c.flags.APIUrl
	}
	if c.flags.APITimeout > 0 {
		cfg.Timeout = c.flags.APITimeout
	}
	cfg.Insecure = c.flags.Insecure
	if c.flags.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: c.flags.CACert}
	}
	return client.New(cfg)
}

// reachableClient fails fast with a hint when no daemon answers.
func (c command) reachableClient(ctx context.Context) (*client.Client, error) {
	cl := c.client()
	if !cl.IsReachable(ctx) {
		url := c.flags.APIUrl
		if url == "" {
			url = defaultAPIUrl
		}
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'sharedws serve'", url)
	}
	return cl, nil
}

func nodeRef(f NodeFlags) client.NodeRef {
	return client.NodeRef{Name: f.Name, DisplayName: f.DisplayName, Root: f.Root}
}

func (c command) NodeCreate(ctx context.Context, f NodeFlags) error {
	if f.Name == "" {
		return errors.New("node name is required")
	}
	cl, err := c.reachableClient(ctx)
	if err != nil {
		return err
	}
	p, err := cl.NodeCreated(ctx, nodeRef(f))
	if err != nil {
		return err
	}
	printJSON(c.out, client.RootPathResponse{RootPath: p, Allocated: true})
	return nil
}

func (c command) NodeUpdate(ctx context.Context, f NodeFlags) error {
	if f.OldName == "" || f.Name == "" {
		return errors.New("both --old-name and --name are required")
	}
	cl, err := c.reachableClient(ctx)
	if err != nil {
		return err
	}
	p, err := cl.NodeUpdated(ctx, client.NodeRef{Name: f.OldName}, nodeRef(f))
	if err != nil {
		return err
	}
	printJSON(c.out, client.RootPathResponse{RootPath: p, Allocated: true})
	return nil
}

func (c command) NodeDelete(ctx context.Context, f NodeFlags) error {
	if f.Name == "" {
		return errors.New("node name is required")
	}
	cl, err := c.reachableClient(ctx)
	if err != nil {
		return err
	}
	res, err := cl.NodeDeleted(ctx, f.Name)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c command) NodeRoot(ctx context.Context, f NodeFlags) error {
	if f.Name == "" {
		return errors.New("node name is required")
	}
	cl, err := c.reachableClient(ctx)
	if err != nil {
		return err
	}
	res, err := cl.RootPath(ctx, nodeRef(f))
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c command) ProjectWorkspace(ctx context.Context, f ProjectFlags) error {
	if f.Project == "" {
		return errors.New("project name is required")
	}
	cl, err := c.reachableClient(ctx)
	if err != nil {
		return err
	}
	ws, ok, err := cl.ProjectWorkspace(ctx, f.Project)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no workspace recorded for project %s", f.Project)
	}
	printJSON(c.out, client.WorkspaceResponse{Project: f.Project, Workspace: ws})
	return nil
}

func (c command) ProjectDelete(ctx context.Context, f ProjectFlags) error {
	if f.Project == "" {
		return errors.New("project name is required")
	}
	cl, err := c.reachableClient(ctx)
	if err != nil {
		return err
	}
	res, err := cl.ProjectDeleted(ctx, f.Project)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c command) ProjectRename(ctx context.Context, f ProjectFlags) error {
	if f.Project == "" || f.NewName == "" {
		return errors.New("both --project and --new-name are required")
	}
	cl, err := c.reachableClient(ctx)
	if err != nil {
		return err
	}
	ok, err := cl.ProjectRenamed(ctx, f.Project, f.NewName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no workspace recorded for project %s", f.Project)
	}
	printJSON(c.out, client.OKResponse{OK: true})
	return nil
}

func (c command) BuildComplete(ctx context.Context, f ProjectFlags) error {
	if f.Project == "" || f.Workspace == "" {
		return errors.New("both --project and --workspace are required")
	}
	cl, err := c.reachableClient(ctx)
	if err != nil {
		return err
	}
	if err := cl.BuildCompleted(ctx, f.Project, f.Workspace); err != nil {
		return err
	}
	printJSON(c.out, client.WorkspaceResponse{Project: f.Project, Workspace: f.Workspace})
	return nil
}

func (c command) Locate(ctx context.Context, f ProjectFlags) error {
	if f.Project == "" || f.Node == "" {
		return errors.New("both --project and --node are required")
	}
	cl, err := c.reachableClient(ctx)
	if err != nil {
		return err
	}
	ws, err := cl.Locate(ctx, f.Project, client.NodeRef{Name: f.Node, Root: f.Root})
	if err != nil {
		return err
	}
	printJSON(c.out, client.WorkspaceResponse{Project: f.Project, Workspace: ws})
	return nil
}

func (c command) Reclaim(ctx context.Context) error {
	cl, err := c.reachableClient(ctx)
	if err != nil {
		return err
	}
	rep, err := cl.Reclaim(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, rep)
	if len(rep.Failed) > 0 {
		return fmt.Errorf("%d workspace root(s) could not be deleted", len(rep.Failed))
	}
	return nil
}

func (c command) Status(ctx context.Context) error {
	cl, err := c.reachableClient(ctx)
	if err != nil {
		return err
	}
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}
