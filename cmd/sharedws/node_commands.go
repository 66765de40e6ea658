package main

import (
	"github.com/spf13/cobra"
)

// createNodeCommand groups the node lifecycle notifications.
func createNodeCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Node lifecycle commands",
		Long: `Notify the daemon about build nodes joining, changing or leaving.

Examples:
  sharedws node create --name=agent-1 --root=/nfs/ws
  sharedws node update --old-name=agent-1 --name=agent-1b --root=/nfs/ws
  sharedws node delete --name=agent-1
  sharedws node root --name=agent-1`,
	}
	cmd.AddCommand(
		createNodeCreateCommand(c),
		createNodeUpdateCommand(c),
		createNodeDeleteCommand(c),
		createNodeRootCommand(c),
	)
	return cmd
}

func addNodeFlags(cmd *cobra.Command, f *NodeFlags) {
	cmd.Flags().StringVar(&f.Name, "name", "", "node name (required)")
	cmd.Flags().StringVar(&f.DisplayName, "display-name", "", "human readable node name")
	cmd.Flags().StringVar(&f.Root, "root", "", "configured workspace root of the node")
}

func createNodeCreateCommand(c command) *cobra.Command {
	f := &NodeFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Allocate a workspace root for a new node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.NodeCreate(cmd.Context(), *f)
		},
	}
	addNodeFlags(cmd, f)
	mustMarkRequired(cmd, "name", "root")
	return cmd
}

func createNodeUpdateCommand(c command) *cobra.Command {
	f := &NodeFlags{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Hand the workspace root of a replaced node to its successor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.NodeUpdate(cmd.Context(), *f)
		},
	}
	addNodeFlags(cmd, f)
	cmd.Flags().StringVar(&f.OldName, "old-name", "", "name of the node being replaced (required)")
	mustMarkRequired(cmd, "name", "old-name")
	return cmd
}

func createNodeDeleteCommand(c command) *cobra.Command {
	f := &NodeFlags{}
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Release the workspace root of a removed node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.NodeDelete(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "node name (required)")
	mustMarkRequired(cmd, "name")
	return cmd
}

func createNodeRootCommand(c command) *cobra.Command {
	f := &NodeFlags{}
	cmd := &cobra.Command{
		Use:   "root",
		Short: "Show the workspace root of a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.NodeRoot(cmd.Context(), *f)
		},
	}
	addNodeFlags(cmd, f)
	mustMarkRequired(cmd, "name")
	return cmd
}

func mustMarkRequired(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}
