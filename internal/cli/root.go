package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/clock"
	"github.com/PengC8899/didi-bot/internal/config"
	"github.com/PengC8899/didi-bot/internal/lifecycle"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string
	ActorID    int64
	ActorName  string

	// Env overrides the process environment (for testing).
	Env config.LookupFunc
	// Transport replaces the configured channel transport (for testing).
	Transport channel.Transport
	// Clock replaces the wall clock (for testing).
	Clock clock.Clock
	// FlowGenerator overrides the flow token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	FlowGenerator lifecycle.FlowTokenGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the orderbot CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orderbot",
		Short: "orderbot - work orders published to a Telegram channel",
		Long: `Manage work orders whose state is mirrored to a Telegram channel.

Orders move NEW -> IN_PROGRESS -> DONE, or to CANCELED. Members apply to
claim a NEW order; an admin approves one application. Every transition is
stored first and then pushed to the channel post.

Without a bot token the channel runs in dry-run mode and posts are logged.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().Int64Var(&opts.ActorID, "as", 0, "Telegram user id to act as")
	cmd.PersistentFlags().StringVar(&opts.ActorName, "as-username", "", "Telegram username to act as")

	// Add subcommands
	cmd.AddCommand(NewOrderCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewApproveCommand(opts))
	cmd.AddCommand(NewRejectCommand(opts))
	cmd.AddCommand(NewDoneCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewCallbackCommand(opts))
	cmd.AddCommand(NewResyncCommand(opts))
	cmd.AddCommand(NewOperatorCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}
