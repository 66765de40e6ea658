package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
	CACert     string
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	cmd := command{flags: globalFlags, out: os.Stdout}

	root.AddCommand(
		createServeCommand(globalFlags),
		createNodeCommand(cmd),
		createProjectCommand(cmd),
		createBuildCommand(cmd),
		createLocateCommand(cmd),
		createReclaimCommand(cmd),
		createStatusCommand(cmd),
		createConfigCommand(cmd),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "sharedws",
		Short: "Shared-storage workspace allocator for build farms",
		Long: `Sharedws hands every build node its own workspace root on shared storage,
remembers where each project was last built and deletes root paths that
stayed unused longer than the retention period.

Examples:
  sharedws serve --config=sharedws.toml     # Start daemon
  sharedws node create --name=agent-1 --root=/nfs/ws
  sharedws project workspace --project=folder/app
  sharedws reclaim --api-url=http://ci:8080/api`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8080/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
	root.PersistentFlags().StringVar(&flags.CACert, "ca-cert", "", "CA certificate for HTTPS daemons")

	return root
}
