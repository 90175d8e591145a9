// Package cmd implements the guardrail command-line interface.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	debug      bool
}

// NewRootCommand builds the command tree. Running it without a subcommand serves HTTP.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "guardrail",
		Short:         "Content-safety guardrail service",
		Long:          `Extracts text from JSON payloads, chunks it into token windows, classifies each window and returns a safe/unsafe decision.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is $CONFIG_PATH or ./config.yml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug mode")

	root.AddCommand(
		newServeCommand(opts),
		newClassifyCommand(opts),
		newVariantsCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
