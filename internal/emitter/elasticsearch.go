package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/model"
	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

// ErrNotStarted is returned by emitters used before Start.
var ErrNotStarted = errors.New("emitter not started")

// IndexerFactory creates a new BulkIndexer.
type IndexerFactory func(cfg config.ElasticsearchEmitterConfig) (esutil.BulkIndexer, error)

// ElasticsearchOption configures the ElasticsearchEmitter.
type ElasticsearchOption func(*ElasticsearchEmitter)

// WithIndexerFactory sets a custom factory for creating the BulkIndexer.
// This is primarily used for testing to inject a mock indexer.
func WithIndexerFactory(f IndexerFactory) ElasticsearchOption {
	return func(e *ElasticsearchEmitter) {
		e.factory = f
	}
}

// ElasticsearchEmitter writes log entries to Elasticsearch.
type ElasticsearchEmitter struct {
	cfg     config.ElasticsearchEmitterConfig
	factory IndexerFactory
	indexer esutil.BulkIndexer
	mu      sync.Mutex
	logger  logger.ILogger
}

// NewElasticsearchEmitter creates a new Elasticsearch emitter.
func NewElasticsearchEmitter(cfg config.ElasticsearchEmitterConfig, log logger.ILogger, opts ...ElasticsearchOption) *ElasticsearchEmitter {
	e := &ElasticsearchEmitter{
		cfg:    cfg,
		logger: log.SubLogger("ElasticsearchEmitter"),
	}

	// Default factory creates real client and indexer
	e.factory = func(cfg config.ElasticsearchEmitterConfig) (esutil.BulkIndexer, error) {
		esCfg := elasticsearch.Config{
			Addresses: cfg.Addresses,
		}

		if cfg.Username != "" {
			esCfg.Username = cfg.Username
			esCfg.Password = cfg.Password
		}

		client, err := elasticsearch.NewClient(esCfg)
		if err != nil {
			return nil, fmt.Errorf("creating elasticsearch client: %w", err)
		}

		return esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
			Client:        client,
			Index:         cfg.Index,
			NumWorkers:    2,
			FlushBytes:    5e+6, // 5MB
			FlushInterval: cfg.FlushInterval,
		})
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Name returns the emitter identifier.
func (e *ElasticsearchEmitter) Name() string {
	return "elasticsearch"
}

// Start initializes the Elasticsearch client and bulk indexer.
func (e *ElasticsearchEmitter) Start(ctx context.Context) error {
	indexer, err := e.factory(e.cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.indexer = indexer
	e.mu.Unlock()

	e.logger.Debugf("elasticsearch emitter started: index=%s", e.cfg.Index)
	return nil
}

// Stop flushes and closes the bulk indexer.
func (e *ElasticsearchEmitter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.indexer == nil {
		return nil
	}
	if err := e.indexer.Close(ctx); err != nil {
		return err
	}

	stats := e.indexer.Stats()
	e.logger.Infof("elasticsearch emitter stopped: indexed=%d, failed=%d", stats.NumIndexed, stats.NumFailed)
	e.indexer = nil
	return nil
}

// Emit adds a log entry to the bulk indexer.
func (e *ElasticsearchEmitter) Emit(ctx context.Context, entry *model.LogEntry) error {
	e.mu.Lock()
	indexer := e.indexer
	e.mu.Unlock()

	if indexer == nil {
		return ErrNotStarted
	}

	data, err := json.Marshal(document(entry, "@timestamp"))
	if err != nil {
		return err
	}

	return indexer.Add(ctx, esutil.BulkIndexerItem{
		Action: "index",
		Body:   bytes.NewReader(data),
		OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
			if err != nil {
				e.logger.Warningf("bulk index failed: job=%s, error=%v", entry.Source, err)
				return
			}
			e.logger.Warningf("bulk index rejected: job=%s, status=%d, reason=%s", entry.Source, res.Status, res.Error.Reason)
		},
	})
}
