// Package cli builds the govsign command tree. Each subcommand runs one trust domain:
// the identity authority or the service gateway.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewRootCommand returns the govsign root command with its subcommands attached.
func NewRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "govsign",
		Short: "National identity authority and service gateway",
		Long: `govsign runs the two halves of the platform as separate processes.

  govsign authority   identity sessions, token issuance and introspection
  govsign gateway     authenticated workflow and payment routes, webhook ingress

Configuration comes from defaults, an optional --config file and the environment.
Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (yaml, json or toml)")

	root.AddCommand(
		newAuthorityCommand(&configFile),
		newGatewayCommand(&configFile),
	)
	return root
}

// Execute runs the command tree until ctx is cancelled or a command fails.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
