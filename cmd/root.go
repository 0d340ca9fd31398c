// Package cmd defines and implements the CLI commands for the frontierd
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/app"
	"github.com/JakeFAU/adaptive-frontier/internal/config"
	"github.com/JakeFAU/adaptive-frontier/internal/logging"
	"github.com/JakeFAU/adaptive-frontier/internal/metrics"
)

// runtimeKeyType is the key for storing the runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is what the root command hands to its subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	app    *app.App
}

// appFactory builds the application services. Tests swap it to register
// collectors with a private registry.
type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error)

func defaultAppFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger, nil)
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd(factory appFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "frontierd",
		Short: "An adaptive crawl frontier.",
		Long: `frontierd schedules crawl candidates into per-authority work queues,
ordering them by a pluggable cost policy. It can serve the frontier over HTTP
for an external crawler or drive its own fetch workers from seed URLs.`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			metrics.Init()

			a, err := factory(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize frontier services: %w", err)
			}
			rt := &runtime{cfg: cfg, logger: a.Logger(), app: a}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); FRONTIER_* env vars override it")
	cmd.AddCommand(newServeCmd(), newCrawlCmd())
	return cmd
}

// withRuntime adapts a RunE that needs the application services. The
// services are closed when fn returns, whether or not it failed.
func withRuntime(fn func(cmd *cobra.Command, args []string, rt *runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := resolveRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.app.Close()
		return fn(cmd, args, rt)
	}
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("frontier services not initialized")
	}
	return rt, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context so servers and workers drain before exit.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultAppFactory).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
