package processor

import (
	"context"
	"os"
	"time"

	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/model"
)

// JobEnricher applies the enricher settings of the job that produced each
// entry. Jobs are looked up on every entry so a config reload takes effect
// without rebuilding the pipeline.
type JobEnricher struct {
	jobs     *config.JobRegistry
	hostname string
}

// NewJobEnricher creates a per-job enrichment processor backed by jobs.
func NewJobEnricher(jobs *config.JobRegistry) *JobEnricher {
	// Pre-fetch hostname
	hostname, _ := os.Hostname()
	return &JobEnricher{jobs: jobs, hostname: hostname}
}

// Name returns the processor identifier.
func (e *JobEnricher) Name() string {
	return "job-enricher"
}

// Process enriches entry using its job's settings. Entries of unknown jobs
// pass through unchanged.
func (e *JobEnricher) Process(ctx context.Context, entry *model.LogEntry) error {
	job, ok := e.jobs.FindConfigByName(entry.Source)
	if !ok {
		return nil
	}
	enrich(job.Enricher, e.hostname, entry)
	return nil
}

func enrich(cfg config.EnricherConfig, hostname string, entry *model.LogEntry) {
	if !cfg.Enabled {
		return
	}

	if cfg.AddHostname && hostname != "" {
		entry.Metadata["hostname"] = hostname
	}

	// Add processing timestamp
	if cfg.AddTimestamp {
		entry.Metadata["processed_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	for k, v := range cfg.StaticLabels {
		entry.Metadata[k] = v
	}
}
