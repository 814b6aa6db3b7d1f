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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestFileEmitter_Start(t *testing.T) {
	cfg := config.FileEmitterConfig{
		Enabled: true,
		Path:    "/tmp/test.log",
	}

	t.Run("success", func(t *testing.T) {
		mockWriter := mocks.NewWriteCloser(t)
		factory := func(c config.FileEmitterConfig) (io.WriteCloser, error) {
			return mockWriter, nil
		}

		e := NewFileEmitter(cfg, testutil.NewTestLogger(), WithWriterFactory(factory))
		err := e.Start(context.Background())
		assert.NoError(t, err)
	})

	t.Run("factory error", func(t *testing.T) {
		factory := func(c config.FileEmitterConfig) (io.WriteCloser, error) {
			return nil, errors.New("factory error")
		}

		e := NewFileEmitter(cfg, testutil.NewTestLogger(), WithWriterFactory(factory))
		err := e.Start(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "factory error")
	})
}

func TestFileEmitter_Emit(t *testing.T) {
	cfg := config.FileEmitterConfig{Enabled: true}
	entry := &model.LogEntry{
		Timestamp: time.Now(),
		Source:    "nightly",
		File:      "/var/log/app.log",
		Offset:    128,
		Raw:       []byte("GET /health 200"),
		Metadata:  map[string]string{"host": "localhost"},
	}

	t.Run("success", func(t *testing.T) {
		mockWriter := mocks.NewWriteCloser(t)
		factory := func(c config.FileEmitterConfig) (io.WriteCloser, error) {
			return mockWriter, nil
		}

		mockWriter.On("Write", mock.MatchedBy(func(p []byte) bool {
			var output map[string]any
			err := json.Unmarshal(p, &output)
			return err == nil &&
				output["source"] == "nightly" &&
				output["message"] == "GET /health 200" &&
				output["offset"] == float64(128) &&
				output["host"] == "localhost"
		})).Return(len(entry.Raw), nil)

		e := NewFileEmitter(cfg, testutil.NewTestLogger(), WithWriterFactory(factory))
		_ = e.Start(context.Background())

		err := e.Emit(context.Background(), entry)
		assert.NoError(t, err)
	})

	t.Run("write error", func(t *testing.T) {
		mockWriter := mocks.NewWriteCloser(t)
		factory := func(c config.FileEmitterConfig) (io.WriteCloser, error) {
			return mockWriter, nil
		}

		mockWriter.On("Write", mock.Anything).Return(0, errors.New("disk full"))

		e := NewFileEmitter(cfg, testutil.NewTestLogger(), WithWriterFactory(factory))
		_ = e.Start(context.Background())

		err := e.Emit(context.Background(), entry)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("not started", func(t *testing.T) {
		e := NewFileEmitter(cfg, testutil.NewTestLogger())
		err := e.Emit(context.Background(), entry)
		assert.ErrorIs(t, err, ErrNotStarted)
	})
}

func TestFileEmitter_Stop(t *testing.T) {
	mockWriter := mocks.NewWriteCloser(t)
	factory := func(c config.FileEmitterConfig) (io.WriteCloser, error) {
		return mockWriter, nil
	}

	mockWriter.On("Close").Return(nil).Once()

	e := NewFileEmitter(config.FileEmitterConfig{}, testutil.NewTestLogger(), WithWriterFactory(factory))
	_ = e.Start(context.Background())

	assert.NoError(t, e.Stop(context.Background()))
	// A second stop has nothing left to close.
	assert.NoError(t, e.Stop(context.Background()))
}
