package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/model"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// LokiEmitter writes log entries to Grafana Loki.
type LokiEmitter struct {
	cfg      config.LokiEmitterConfig
	client   HTTPDoer
	batch    []lokiStream
	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
	logger   logger.ILogger
}

// lokiPushRequest is the Loki push API request format.
type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

// lokiStream represents a log stream in Loki.
type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// LokiOption configures a LokiEmitter.
type LokiOption func(*LokiEmitter)

// WithLokiHTTPClient sets a custom HTTP client for testing.
func WithLokiHTTPClient(client HTTPDoer) LokiOption {
	return func(l *LokiEmitter) {
		l.client = client
	}
}

// NewLokiEmitter creates a new Loki emitter.
func NewLokiEmitter(cfg config.LokiEmitterConfig, log logger.ILogger, opts ...LokiOption) *LokiEmitter {
	l := &LokiEmitter{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		done:   make(chan struct{}),
		logger: log.SubLogger("LokiEmitter"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the emitter identifier.
func (l *LokiEmitter) Name() string {
	return "loki"
}

// Start begins the background flush goroutine.
func (l *LokiEmitter) Start(ctx context.Context) error {
	if l.cfg.FlushInterval > 0 {
		go l.flushLoop(ctx)
	}
	l.logger.Debugf("loki emitter started: url=%s", l.cfg.URL)
	return nil
}

// Stop flushes remaining entries and shuts down.
func (l *LokiEmitter) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.done) })
	return l.flush(ctx)
}

// flushLoop periodically flushes the buffer.
func (l *LokiEmitter) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.flush(ctx); err != nil {
				l.logger.Warningf("loki flush failed: error=%v", err)
			}
		}
	}
}

// Emit adds a log entry to the batch. Only low-cardinality values become
// stream labels; the read offset stays out of them.
func (l *LokiEmitter) Emit(ctx context.Context, entry *model.LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	labels := make(map[string]string, len(l.cfg.Labels)+len(entry.Metadata)+1)
	maps.Copy(labels, l.cfg.Labels)
	labels["source"] = entry.Source
	for k, v := range entry.Metadata {
		if k == model.MetaOffset || k == "processed_at" {
			continue
		}
		labels[k] = v
	}

	// Timestamp in nanoseconds
	ts := strconv.FormatInt(entry.Timestamp.UnixNano(), 10)
	line := string(entry.Raw)

	found := false
	for i := range l.batch {
		if maps.Equal(l.batch[i].Stream, labels) {
			l.batch[i].Values = append(l.batch[i].Values, []string{ts, line})
			found = true
			break
		}
	}
	if !found {
		l.batch = append(l.batch, lokiStream{
			Stream: labels,
			Values: [][]string{{ts, line}},
		})
	}

	if l.batchSize() >= l.cfg.BatchSize {
		return l.flushLocked(ctx)
	}

	return nil
}

// batchSize returns the total number of log lines in the batch.
func (l *LokiEmitter) batchSize() int {
	count := 0
	for _, s := range l.batch {
		count += len(s.Values)
	}
	return count
}

// flush sends the batch to Loki.
func (l *LokiEmitter) flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx)
}

// flushLocked sends the batch (caller must hold lock).
func (l *LokiEmitter) flushLocked(ctx context.Context) error {
	if len(l.batch) == 0 {
		return nil
	}

	data, err := json.Marshal(lokiPushRequest{Streams: l.batch})
	if err != nil {
		return err
	}

	url := l.cfg.URL + "/loki/api/v1/push"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if l.cfg.TenantID != "" {
		httpReq.Header.Set("X-Scope-OrgID", l.cfg.TenantID)
	}

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("loki push failed with status: %d", resp.StatusCode)
	}

	l.batch = l.batch[:0]
	return nil
}
