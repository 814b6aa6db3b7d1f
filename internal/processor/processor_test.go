package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/model"
)

type failingProcessor struct{}

func (failingProcessor) Name() string { return "failing" }

func (failingProcessor) Process(context.Context, *model.LogEntry) error {
	return errors.New("drop")
}

// labelProcessor sets a fixed metadata key.
type labelProcessor struct{ key, value string }

func (l labelProcessor) Name() string { return "label" }

func (l labelProcessor) Process(_ context.Context, entry *model.LogEntry) error {
	entry.Metadata[l.key] = l.value
	return nil
}

func testEnricher(jobs ...config.JobConfig) *JobEnricher {
	e := NewJobEnricher(config.NewJobRegistry(jobs))
	e.hostname = "test-host"
	return e
}

func TestJobEnricher(t *testing.T) {
	enricher := testEnricher(config.JobConfig{
		Name:  "job1",
		Files: []string{"/a.log"},
		Enricher: config.EnricherConfig{
			Enabled:      true,
			AddHostname:  true,
			AddTimestamp: true,
			StaticLabels: map[string]string{"team": "payments"},
		},
	})

	entry := model.NewLogEntry("job1", []byte("line"))
	if err := enricher.Process(context.Background(), entry); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if entry.Metadata["hostname"] != "test-host" {
		t.Errorf("expected hostname=test-host, got %v", entry.Metadata["hostname"])
	}
	if entry.Metadata["team"] != "payments" {
		t.Errorf("expected team=payments, got %v", entry.Metadata["team"])
	}
	if _, ok := entry.Metadata["processed_at"]; !ok {
		t.Error("expected processed_at to be set")
	}
}

func TestJobEnricher_Disabled(t *testing.T) {
	enricher := testEnricher(config.JobConfig{
		Name:     "job1",
		Files:    []string{"/a.log"},
		Enricher: config.EnricherConfig{AddHostname: true},
	})

	entry := model.NewLogEntry("job1", []byte("line"))
	if err := enricher.Process(context.Background(), entry); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(entry.Metadata) != 0 {
		t.Errorf("expected no metadata from disabled enricher, got %v", entry.Metadata)
	}
}

func TestJobEnricher_UnknownJob(t *testing.T) {
	enricher := testEnricher()

	entry := model.NewLogEntry("other", []byte("line"))
	if err := enricher.Process(context.Background(), entry); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(entry.Metadata) != 0 {
		t.Errorf("expected unknown job to pass through, got %v", entry.Metadata)
	}
}

func TestJobEnricher_FollowsRegistry(t *testing.T) {
	jobs := config.NewJobRegistry(nil)
	enricher := NewJobEnricher(jobs)

	jobs.Replace([]config.JobConfig{{
		Name:     "late",
		Files:    []string{"/b.log"},
		Enricher: config.EnricherConfig{Enabled: true, StaticLabels: map[string]string{"env": "prod"}},
	}})

	entry := model.NewLogEntry("late", []byte("line"))
	if err := enricher.Process(context.Background(), entry); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if entry.Metadata["env"] != "prod" {
		t.Errorf("expected env=prod after registry replace, got %v", entry.Metadata["env"])
	}
}

func TestChain(t *testing.T) {
	chain := NewChain(labelProcessor{key: "stage", value: "first"})
	chain.Add(labelProcessor{key: "other", value: "second"})

	if chain.Len() != 2 {
		t.Fatalf("expected 2 processors, got %d", chain.Len())
	}

	entry := model.NewLogEntry("test", []byte("hello"))
	if err := chain.Process(context.Background(), entry); err != nil {
		t.Fatalf("Chain.Process failed: %v", err)
	}

	if entry.Metadata["stage"] != "first" {
		t.Errorf("expected stage=first, got %v", entry.Metadata["stage"])
	}
	if entry.Metadata["other"] != "second" {
		t.Errorf("expected other=second, got %v", entry.Metadata["other"])
	}
}

func TestChain_StopsOnError(t *testing.T) {
	chain := NewChain(failingProcessor{}, labelProcessor{key: "reached", value: "yes"})

	entry := model.NewLogEntry("test", []byte("hello"))
	if err := chain.Process(context.Background(), entry); err == nil {
		t.Fatal("expected chain error")
	}
	if _, ok := entry.Metadata["reached"]; ok {
		t.Error("expected chain to stop at the failing processor")
	}
}

func TestChain_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := NewChain(labelProcessor{key: "k", value: "v"})
	if err := chain.Process(ctx, model.NewLogEntry("test", nil)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
