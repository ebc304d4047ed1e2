package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conductorone/rowsync/pkg/logging"
)

const envPrefix = "rowsync"

// NewRootCommand builds the rowsync command tree. Flags can also be set through ROWSYNC_* environment variables.
func NewRootCommand(ctx context.Context, name string, version string, opts ...RunnerOption) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	r := newRunner(opts...)

	cmd := &cobra.Command{
		Use:           name,
		Short:         "Copy rows from a MySQL table into Supabase, resuming from the last checkpoint",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "config.yaml", "Path to the YAML configuration file ($ROWSYNC_CONFIG)")
	cmd.PersistentFlags().String("env-file", ".env", "Dotenv file loaded before ${VAR} placeholders are resolved. Empty disables it ($ROWSYNC_ENV_FILE)")
	cmd.PersistentFlags().String("log-level", "info", "The log level: debug, info, warn, error ($ROWSYNC_LOG_LEVEL)")
	cmd.PersistentFlags().String("log-format", logging.LogFormatJSON, "The output format for logs: json, console ($ROWSYNC_LOG_FORMAT)")
	cmd.PersistentFlags().StringSlice("log-output", []string{"stderr"}, "Log destinations: stdout, stderr or file paths, which are rotated ($ROWSYNC_LOG_OUTPUT)")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		if err := v.BindPFlags(c.Flags()); err != nil {
			return err
		}
		return v.BindPFlags(c.InheritedFlags())
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "full",
		Short: "Sync the entire table, ignoring the stored checkpoint",
		Args:  cobra.NoArgs,
		RunE:  makeSyncCommand(ctx, name, v, r),
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "incr",
		Aliases: []string{"incremental"},
		Short:   "Sync only rows newer than the stored checkpoint",
		Args:    cobra.NoArgs,
		RunE:    makeSyncCommand(ctx, name, v, r),
	})

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Show the stored checkpoint for the configured table",
		Args:  cobra.NoArgs,
		RunE:  makeCheckpointCommand(ctx, name, v, r),
	}
	checkpointCmd.Flags().Bool("reset", false, "Remove the stored checkpoint so the next incr run starts from the beginning")
	cmd.AddCommand(checkpointCmd)

	return cmd
}

func initLogger(ctx context.Context, v *viper.Viper) (context.Context, error) {
	return logging.Init(
		ctx,
		logging.WithLogFormat(v.GetString("log-format")),
		logging.WithLogLevel(v.GetString("log-level")),
		logging.WithOutputPaths(v.GetStringSlice("log-output")),
	)
}
