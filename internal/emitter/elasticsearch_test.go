package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/model"
	"github.com/GabrielNunesIT/adhoc-collector/internal/testutil"
	"github.com/GabrielNunesIT/adhoc-collector/internal/testutil/mocks"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestElasticsearchEmitter_Start(t *testing.T) {
	tests := []struct {
		name          string
		cfg           config.ElasticsearchEmitterConfig
		factoryMock   func(*testing.T) IndexerFactory
		expectedError string
	}{
		{
			name: "Success",
			cfg: config.ElasticsearchEmitterConfig{
				Enabled:   true,
				Addresses: []string{"http://localhost:9200"},
				Index:     "test-index",
			},
			factoryMock: func(t *testing.T) IndexerFactory {
				mockIndexer := mocks.NewBulkIndexer(t)
				return func(c config.ElasticsearchEmitterConfig) (esutil.BulkIndexer, error) {
					return mockIndexer, nil
				}
			},
			expectedError: "",
		},
		{
			name: "Factory Error",
			cfg:  config.ElasticsearchEmitterConfig{Enabled: true},
			factoryMock: func(t *testing.T) IndexerFactory {
				return func(c config.ElasticsearchEmitterConfig) (esutil.BulkIndexer, error) {
					return nil, errors.New("factory failure")
				}
			},
			expectedError: "factory failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := tt.factoryMock(t)
			e := NewElasticsearchEmitter(tt.cfg, testutil.NewTestLogger(), WithIndexerFactory(factory))
			err := e.Start(context.Background())
			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestElasticsearchEmitter_Emit(t *testing.T) {
	entry := &model.LogEntry{
		Timestamp: time.Now(),
		Source:    "nightly",
		File:      "/var/log/app.log",
		Offset:    64,
		Raw:       []byte("disk usage at 91%"),
		Metadata:  map[string]string{"host": "test-host"},
	}

	tests := []struct {
		name        string
		setupMock   func(*mocks.BulkIndexer)
		expectError bool
	}{
		{
			name: "Success",
			setupMock: func(m *mocks.BulkIndexer) {
				m.On("Add", mock.Anything, mock.MatchedBy(func(item esutil.BulkIndexerItem) bool {
					return item.Action == "index"
				})).Return(nil).Run(func(args mock.Arguments) {
					item := args.Get(1).(esutil.BulkIndexerItem)
					bodyBytes, _ := io.ReadAll(item.Body)
					var bodyMap map[string]any
					_ = json.Unmarshal(bodyBytes, &bodyMap)
					assert.Equal(t, "nightly", bodyMap["source"])
					assert.Equal(t, "disk usage at 91%", bodyMap["message"])
					assert.Equal(t, "test-host", bodyMap["host"])
					assert.Contains(t, bodyMap, "@timestamp")
				})
			},
			expectError: false,
		},
		{
			name: "Indexer Error",
			setupMock: func(m *mocks.BulkIndexer) {
				m.On("Add", mock.Anything, mock.Anything).Return(errors.New("indexer closed"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockIndexer := mocks.NewBulkIndexer(t)
			if tt.setupMock != nil {
				tt.setupMock(mockIndexer)
			}

			factory := func(c config.ElasticsearchEmitterConfig) (esutil.BulkIndexer, error) {
				return mockIndexer, nil
			}

			cfg := config.ElasticsearchEmitterConfig{Enabled: true, Index: "test-index"}
			e := NewElasticsearchEmitter(cfg, testutil.NewTestLogger(), WithIndexerFactory(factory))
			_ = e.Start(context.Background())

			err := e.Emit(context.Background(), entry)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestElasticsearchEmitter_EmitNotStarted(t *testing.T) {
	e := NewElasticsearchEmitter(config.ElasticsearchEmitterConfig{}, testutil.NewTestLogger())
	err := e.Emit(context.Background(), model.NewLogEntry("job", []byte("x")))
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestElasticsearchEmitter_Stop(t *testing.T) {
	tests := []struct {
		name     string
		closeErr error
	}{
		{"Success", nil},
		{"Close Error", errors.New("flush failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockIndexer := mocks.NewBulkIndexer(t)
			mockIndexer.On("Close", mock.Anything).Return(tt.closeErr)
			if tt.closeErr == nil {
				mockIndexer.On("Stats").Return(esutil.BulkIndexerStats{NumIndexed: 3})
			}

			factory := func(c config.ElasticsearchEmitterConfig) (esutil.BulkIndexer, error) {
				return mockIndexer, nil
			}

			e := NewElasticsearchEmitter(config.ElasticsearchEmitterConfig{Enabled: true}, testutil.NewTestLogger(), WithIndexerFactory(factory))
			_ = e.Start(context.Background())

			err := e.Stop(context.Background())
			if tt.closeErr != nil {
				assert.ErrorIs(t, err, tt.closeErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
