package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"auction-engine/internal/app"
	"auction-engine/internal/config"
	"auction-engine/utils"

	"github.com/spf13/cobra"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Seed bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auction HTTP server",
		Long: `Start the auction HTTP server and the expiry scheduler.

Configuration comes from defaults, the optional --config YAML file, a .env
file and environment variables, in that order.

Example:
  auction-engine serve --config ./config.yaml
  AUCTION_STORE=redis REDIS_ADDR=localhost:6379 auction-engine serve --seed`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Seed, "seed", false, "create demo auctions on startup")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Seed {
		ids, err := a.Seed(ctx)
		if err != nil {
			return fmt.Errorf("seeding demo auctions: %w", err)
		}
		utils.Info("Seeded demo auctions", map[string]any{"auction_ids": ids})
	}

	return a.Run(ctx)
}

// NewCheckConfigCommand creates the check-config command.
func NewCheckConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "check-config",
		Short:         "Load and validate configuration without starting the server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: store=%s addr=%s expiry=%s\n",
				cfg.Store.Driver, cfg.Server.Addr(), cfg.Expiry.Interval)
			return nil
		},
	}
}
