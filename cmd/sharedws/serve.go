package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/sharedws"
	"github.com/loykin/sharedws/internal/config"
)

const shutdownTimeout = 10 * time.Second

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the sharedws daemon",
		Long: `Start the sharedws daemon. Configuration is read from the TOML file given
with --config or as argument; SHAREDWS_* environment variables override it.
Changes to reclaim.retention and reclaim.keep_failed are applied without a
restart.

Examples:
  sharedws serve                          # built-in defaults
  sharedws serve sharedws.toml
  sharedws serve --config=sharedws.toml --daemonize --pidfile=/run/sharedws.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath, *serveFlags, nil)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write daemon PID to file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")

	return cmd
}

// runServe runs the daemon until ctx is cancelled. ready, if not nil,
// receives the listen address once the server accepts connections.
func runServe(ctx context.Context, configPath string, flags ServeFlags, ready chan<- string) error {
	cfg, err := sharedws.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	log := cfg.Log.Logger().NewSlogger()
	slog.SetDefault(log)

	mgr, err := sharedws.FromConfig(cfg, log)
	if err != nil {
		return err
	}
	if err := mgr.Open(ctx); err != nil {
		return fmt.Errorf("failed to load workspace state: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mgr.Close(closeCtx); err != nil {
			log.Error("Failed to close workspace manager", "error", err)
		}
	}()

	metricsPath := ""
	if cfg.Metrics.Enabled {
		if err := sharedws.RegisterMetricsDefault(); err != nil {
			log.Warn("Failed to register metrics", "error", err)
		} else {
			metricsPath = cfg.Metrics.Path
		}
	}

	if cfg.Reclaim.Enabled {
		if err := mgr.StartReclaimer(cfg.Reclaim.Interval); err != nil {
			return fmt.Errorf("failed to start reclaimer: %w", err)
		}
	}

	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(c *config.Config) {
			mgr.SetRetention(c.Reclaim.Retention)
			mgr.SetKeepFailed(c.Reclaim.KeepFailed)
			log.Info("Applied reloaded reclaim settings", "retention", c.Reclaim.Retention, "keep_failed", c.Reclaim.KeepFailed)
		})
		if err != nil {
			log.Warn("Config hot reload disabled", "error", err)
		} else if err := w.Start(ctx); err != nil {
			log.Warn("Config hot reload disabled", "error", err)
		} else {
			defer func() { _ = w.Stop() }()
		}
	}

	server, err := sharedws.NewHTTPServer(cfg.Server, metricsPath, mgr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	protocol := "HTTP"
	if cfg.Server.TLS.Enabled {
		protocol = "HTTPS"
	}
	log.Info("Starting sharedws server", "protocol", protocol, "listen", server.Addr, "base_path", cfg.Server.BasePath)
	if ready != nil {
		ready <- server.Addr
	}

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
