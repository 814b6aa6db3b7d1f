package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/model"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// StdoutEmitter writes log entries to standard output.
type StdoutEmitter struct {
	cfg    config.StdoutEmitterConfig
	writer io.Writer
	mu     sync.Mutex
	logger logger.ILogger
}

// NewStdoutEmitter creates a new stdout emitter.
func NewStdoutEmitter(cfg config.StdoutEmitterConfig, log logger.ILogger) *StdoutEmitter {
	return NewStdoutEmitterWithWriter(cfg, os.Stdout, log)
}

// NewStdoutEmitterWithWriter creates a stdout emitter with a custom writer (for testing).
func NewStdoutEmitterWithWriter(cfg config.StdoutEmitterConfig, w io.Writer, log logger.ILogger) *StdoutEmitter {
	return &StdoutEmitter{
		cfg:    cfg,
		writer: w,
		logger: log.SubLogger("StdoutEmitter"),
	}
}

// Name returns the emitter identifier.
func (s *StdoutEmitter) Name() string {
	return "stdout"
}

// Start initializes the emitter (no-op for stdout).
func (s *StdoutEmitter) Start(ctx context.Context) error {
	s.logger.Debugf("stdout emitter started: format=%s", s.cfg.Format)
	return nil
}

// Stop gracefully shuts down the emitter (no-op for stdout).
func (s *StdoutEmitter) Stop(ctx context.Context) error {
	s.logger.Debug("stdout emitter stopped")
	return nil
}

// Emit writes a log entry to stdout.
func (s *StdoutEmitter) Emit(ctx context.Context, entry *model.LogEntry) error {
	var output []byte
	var err error

	switch s.cfg.Format {
	case "text":
		output = s.formatText(entry)
	default:
		output, err = json.Marshal(document(entry, "timestamp"))
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(append(output, '\n'))
	return err
}

// formatText formats the entry as plain text.
func (s *StdoutEmitter) formatText(entry *model.LogEntry) []byte {
	ts := entry.Timestamp.Format(time.RFC3339)
	return fmt.Appendf(nil, "[%s] [%s] [%s:%d] %s", ts, entry.Source, entry.File, entry.Offset, entry.Raw)
}
