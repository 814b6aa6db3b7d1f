package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/adhoc-collector/internal/checkpoint"
	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/monitor"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// NewCheckpointsCmd creates the checkpoints command.
func NewCheckpointsCmd(cfgFile *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List recovered jobs and per-file progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if dir != "" {
				cfg.Checkpoint.Dir = dir
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(cfg.Checkpoint.Dir); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(out, "No checkpoints in %s\n", cfg.Checkpoint.Dir)
				return nil
			}

			log := logger.NewConsoleLogger(io.Discard)
			store := checkpoint.NewStore(cfg.Checkpoint, monitor.New(log), log)
			store.LoadAll()

			return printCheckpoints(out, store)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "checkpoint directory (default: from config)")
	return cmd
}

func printCheckpoints(w io.Writer, store *checkpoint.Store) error {
	jobs := store.Jobs()
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, "No checkpoints found")
		return err
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateHeader = false
	tbl.Style().Options.SeparateFooter = false
	tbl.AppendHeader(table.Row{"Job", "File", "Status", "Offset", "Size", "Progress", "Updated"})

	files := 0
	for _, name := range jobs {
		job, ok := store.Get(name)
		if !ok {
			continue
		}
		for _, f := range job.Files() {
			updated := "-"
			if !f.LastUpdateTime.IsZero() {
				updated = humanize.Time(f.LastUpdateTime)
			}
			tbl.AppendRow(table.Row{name, displayPath(f), f.Status, f.Offset, humanize.IBytes(uint64(f.Size)), progress(f), updated})
			files++
		}
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d jobs, %d files", len(jobs), files)})

	_, err := fmt.Fprintln(w, tbl.Render())
	return err
}

func progress(f checkpoint.FileState) string {
	if f.Size <= 0 {
		if f.Status == checkpoint.StatusFinished {
			return "100%"
		}
		return "-"
	}
	return fmt.Sprintf("%.0f%%", float64(f.Offset)*100/float64(f.Size))
}

// displayPath shows where a rotated file was last found.
func displayPath(f checkpoint.FileState) string {
	if f.RealFileName != "" && f.RealFileName != f.FileName {
		return fmt.Sprintf("%s (now %s)", f.FileName, f.RealFileName)
	}
	return f.FileName
}
