package main

import (
	"github.com/spf13/cobra"
)

// createProjectCommand groups project registry commands.
func createProjectCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project workspace commands",
		Long: `Query and maintain the record of where each project was last built.

Examples:
  sharedws project workspace --project=folder/app
  sharedws project rename --project=folder/app --new-name=folder/app2
  sharedws project delete --project=folder/app2`,
	}
	cmd.AddCommand(
		createProjectWorkspaceCommand(c),
		createProjectDeleteCommand(c),
		createProjectRenameCommand(c),
	)
	return cmd
}

func createProjectWorkspaceCommand(c command) *cobra.Command {
	f := &ProjectFlags{}
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Show where a project was last built",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ProjectWorkspace(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Project, "project", "", "full project name (required)")
	mustMarkRequired(cmd, "project")
	return cmd
}

func createProjectDeleteCommand(c command) *cobra.Command {
	f := &ProjectFlags{}
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Forget the workspace of a deleted project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ProjectDelete(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Project, "project", "", "full project name (required)")
	mustMarkRequired(cmd, "project")
	return cmd
}

func createProjectRenameCommand(c command) *cobra.Command {
	f := &ProjectFlags{}
	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Move the workspace record of a renamed project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ProjectRename(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Project, "project", "", "current full project name (required)")
	cmd.Flags().StringVar(&f.NewName, "new-name", "", "new full project name (required)")
	mustMarkRequired(cmd, "project", "new-name")
	return cmd
}

// createBuildCommand reports finished builds.
func createBuildCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build notifications",
	}
	f := &ProjectFlags{}
	complete := &cobra.Command{
		Use:   "complete",
		Short: "Record the workspace a build ran in",
		Long: `Record the workspace a build ran in so it can be browsed later.

Examples:
  sharedws build complete --project=folder/app --workspace=/nfs/ws@2/app`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.BuildComplete(cmd.Context(), *f)
		},
	}
	complete.Flags().StringVar(&f.Project, "project", "", "full project name (required)")
	complete.Flags().StringVar(&f.Workspace, "workspace", "", "workspace directory of the build (required)")
	mustMarkRequired(complete, "project", "workspace")
	cmd.AddCommand(complete)
	return cmd
}

func createLocateCommand(c command) *cobra.Command {
	f := &ProjectFlags{}
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Show the workspace directory of a project on a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Locate(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Project, "project", "", "full project name (required)")
	cmd.Flags().StringVar(&f.Node, "node", "", "node name (required)")
	cmd.Flags().StringVar(&f.Root, "root", "", "configured root used when the node holds no allocation")
	mustMarkRequired(cmd, "project", "node")
	return cmd
}

func createReclaimCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Run a reclaim sweep now",
		Long: `Delete every released workspace root older than the retention period and
print the sweep report. Exits non-zero when a deletion failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Reclaim(cmd.Context())
		},
	}
}

func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show allocations, pending reclamation and recorded projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context())
		},
	}
}
