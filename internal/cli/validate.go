package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/adhoc-collector/internal/adhoc"
	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/pipeline"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			// Create a silent logger for validation (discards output)
			log := logger.NewConsoleLogger(io.Discard)

			p, err := pipeline.New(cfg, nil, log)
			if err != nil {
				return fmt.Errorf("pipeline configuration error: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration valid:\n")
			fmt.Fprintf(out, "  Jobs:      %d configured\n", len(cfg.Jobs))
			fmt.Fprintf(out, "  Emitters:  %d enabled\n", p.EmitterCount())

			for _, job := range cfg.Jobs {
				files, err := adhoc.ExpandFiles(job.Files)
				if err != nil {
					return fmt.Errorf("job %s: %w", job.Name, err)
				}
				fmt.Fprintf(out, "  - %s: %d files -> %s\n", job.Name, len(files), job.QueueKey())
			}
			return nil
		},
	}
}
