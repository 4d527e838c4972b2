package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

// NewConfigCommand creates the config command.
func NewConfigCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective configuration",
		Long: `Load the config file, apply environment overrides, validate the result
and print it. The bot token is redacted.

Environment: BOT_TOKEN, CHANNEL_ID, BOT_USERNAME, OPERATOR_USERNAME,
OPERATOR_USER_ID, ALLOWED_USER_IDS, DATABASE_PATH, LOG_LEVEL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)

			cfg, err := loadConfig(opts)
			if err != nil {
				return formatter.Fail(err)
			}
			shown := *cfg
			if shown.Telegram.Token != "" {
				shown.Telegram.Token = redacted
			}

			out, err := yaml.Marshal(&shown)
			if err != nil {
				return formatter.Fail(fmt.Errorf("encode config: %w", err))
			}
			if formatter.Format == "json" {
				var tree map[string]any
				if err := yaml.Unmarshal(out, &tree); err != nil {
					return formatter.Fail(fmt.Errorf("encode config: %w", err))
				}
				return formatter.Success(tree)
			}
			_, err = formatter.Writer.Write(out)
			return err
		},
	}
}
