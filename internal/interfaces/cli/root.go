// Package cli implements the woosync command line.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Preflight  bool
	Version    string
}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:   "woosync",
		Short: "Reconcile unified records into a WooCommerce store",
		Long: `woosync upserts products, variants, inventory adjustments, orders and
order notes into a WooCommerce store. Every record is applied at most once:
outcomes are bookmarked by payload fingerprint in a state blob that is
carried from run to run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default: woosync.toml in ., ./config or /etc/woosync)")

	cmd.PersistentFlags().BoolVar(&opts.Preflight, "preflight", false, "check that the store API answers before processing")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}
