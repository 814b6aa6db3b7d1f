package cli

import (
	"github.com/spf13/cobra"
)

// Execute builds and runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "adhoc-collector",
		Short: "Reads fixed sets of log files once, with durable per-file progress",
		Long: `adhoc-collector runs ad-hoc jobs: each job is a named, static list of files
that is read to the end exactly once and then finishes. Per-file progress is
checkpointed to disk so a restarted collector resumes where it stopped.

Read records flow through a bounded queue per destination to every configured
emitter (stdout, file, elasticsearch, loki, kafka).

Hot-reload: When a config file is specified, added jobs are started and removed
jobs are deleted, together with their checkpoints, without a restart.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		NewRunCmd(&cfgFile, &logLevel),
		NewValidateCmd(&cfgFile),
		NewCheckpointsCmd(&cfgFile),
		NewVersionCmd(),
	)

	return rootCmd
}
