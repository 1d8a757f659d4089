package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command. Without a subcommand it serves.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	serve := NewServeCommand(opts)

	cmd := &cobra.Command{
		Use:   "auction-engine",
		Short: "Real-time auction server",
		Long: `Serves timed auctions over HTTP with live bid streams.

Bids are accepted with per-auction optimistic concurrency, pushed to
subscribers over server-sent events or WebSocket, and auctions are closed
automatically at their deadline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().AddFlagSet(serve.Flags())

	cmd.AddCommand(serve)
	cmd.AddCommand(NewCheckConfigCommand(opts))

	return cmd
}
