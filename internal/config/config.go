// Package config provides configuration loading with layered overrides.
// Load order: defaults -> YAML file -> environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	configloader "github.com/GabrielNunesIT/go-libs/config-loader"
)

// Config is the root configuration structure for the adhoc collector.
type Config struct {
	LogLevel   string           `koanf:"loglevel" yaml:"log_level" json:"log_level"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Engine     EngineConfig     `koanf:"engine"`
	Reader     ReaderConfig     `koanf:"reader"`
	Queue      QueueConfig      `koanf:"queue"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Jobs       []JobConfig      `koanf:"jobs"`
	Emitters   EmitterConfig    `koanf:"emitters"`
}

// CheckpointConfig controls where and how often job progress is persisted.
type CheckpointConfig struct {
	Dir                string        `koanf:"dir"`
	DumpInterval       time.Duration `koanf:"dumpinterval" yaml:"dump_interval" json:"dump_interval"`
	DumpThresholdBytes int64         `koanf:"dumpthresholdbytes" yaml:"dump_threshold_bytes" json:"dump_threshold_bytes"`
}

// EngineConfig tunes the ingestion event loop.
type EngineConfig struct {
	RetryInterval time.Duration `koanf:"retryinterval" yaml:"retry_interval" json:"retry_interval"`
	AlarmEvery    int           `koanf:"alarmevery" yaml:"alarm_every" json:"alarm_every"`
}

// ReaderConfig tunes how files are read.
type ReaderConfig struct {
	BufferSize    int `koanf:"buffersize" yaml:"buffer_size" json:"buffer_size"`
	SignatureSize int `koanf:"signaturesize" yaml:"signature_size" json:"signature_size"`
}

// QueueConfig sizes the downstream processing queues.
// Admission closes at HighWatermark and reopens at LowWatermark.
type QueueConfig struct {
	Capacity        int           `koanf:"capacity"`
	LowWatermark    int           `koanf:"lowwatermark" yaml:"low_watermark" json:"low_watermark"`
	HighWatermark   int           `koanf:"highwatermark" yaml:"high_watermark" json:"high_watermark"`
	PushTimeout     time.Duration `koanf:"pushtimeout" yaml:"push_timeout" json:"push_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Address string `koanf:"address"`
}

// JobConfig describes one adhoc job: a named, static list of files to read once.
type JobConfig struct {
	Name        string         `koanf:"name"`
	Files       []string       `koanf:"files"` // Paths or glob patterns
	Destination string         `koanf:"destination"`
	Enricher    EnricherConfig `koanf:"enricher"`
}

// QueueKey returns the downstream queue the job's records are pushed to.
func (j JobConfig) QueueKey() string {
	if j.Destination != "" {
		return j.Destination
	}
	return j.Name
}

// EnricherConfig configures the enrichment processor.
type EnricherConfig struct {
	Enabled      bool              `koanf:"enabled"`
	AddHostname  bool              `koanf:"addhostname" yaml:"add_hostname" json:"add_hostname"`
	AddTimestamp bool              `koanf:"addtimestamp" yaml:"add_timestamp" json:"add_timestamp"`
	StaticLabels map[string]string `koanf:"staticlabels" yaml:"static_labels" json:"static_labels"`
}

// EmitterConfig holds configuration for all emitters.
type EmitterConfig struct {
	Stdout        StdoutEmitterConfig        `koanf:"stdout"`
	File          FileEmitterConfig          `koanf:"file"`
	Elasticsearch ElasticsearchEmitterConfig `koanf:"elasticsearch"`
	Loki          LokiEmitterConfig          `koanf:"loki"`
	Kafka         KafkaEmitterConfig         `koanf:"kafka"`
}

// StdoutEmitterConfig configures the stdout emitter.
type StdoutEmitterConfig struct {
	Enabled bool   `koanf:"enabled"`
	Format  string `koanf:"format"` // "json" or "text"
}

// FileEmitterConfig configures the file emitter.
type FileEmitterConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"maxsizemb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `koanf:"maxbackups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `koanf:"maxagedays" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// ElasticsearchEmitterConfig configures the Elasticsearch emitter.
type ElasticsearchEmitterConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Addresses     []string      `koanf:"addresses"`
	Index         string        `koanf:"index"`
	Username      string        `koanf:"username"`
	Password      string        `koanf:"password"`
	FlushInterval time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
}

// LokiEmitterConfig configures the Loki emitter.
type LokiEmitterConfig struct {
	Enabled       bool              `koanf:"enabled"`
	URL           string            `koanf:"url"`
	TenantID      string            `koanf:"tenantid" yaml:"tenant_id" json:"tenant_id"`
	Labels        map[string]string `koanf:"labels"`
	BatchSize     int               `koanf:"batchsize" yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration     `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
}

// KafkaEmitterConfig configures the Kafka emitter.
type KafkaEmitterConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Brokers  []string `koanf:"brokers"`
	Topic    string   `koanf:"topic"`
	ClientID string   `koanf:"clientid" yaml:"client_id" json:"client_id"`

	// ConnectTimeout bounds the retries of the initial connection.
	// Zero means a single attempt.
	ConnectTimeout time.Duration `koanf:"connecttimeout" yaml:"connect_timeout" json:"connect_timeout"`
}

// DefaultCheckpointDir is the platform-specific checkpoint directory.
func DefaultCheckpointDir() string {
	if runtime.GOOS == "windows" {
		return `C:\AdhocCollectorData\adhoc_checkpoint`
	}
	return "/tmp/adhoc_collector_checkpoint"
}

// defaults returns the default configuration values.
func defaults() Config {
	return Config{
		LogLevel: "info",
		Checkpoint: CheckpointConfig{
			Dir:                DefaultCheckpointDir(),
			DumpInterval:       5 * time.Second,
			DumpThresholdBytes: 1 << 20,
		},
		Engine: EngineConfig{
			RetryInterval: 10 * time.Millisecond,
			AlarmEvery:    1000,
		},
		Reader: ReaderConfig{
			BufferSize:    512 * 1024,
			SignatureSize: 1024,
		},
		Queue: QueueConfig{
			Capacity:        20,
			LowWatermark:    10,
			HighWatermark:   15,
			PushTimeout:     100 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9102",
		},
		Emitters: EmitterConfig{
			Stdout: StdoutEmitterConfig{
				Enabled: true,
				Format:  "json",
			},
			File: FileEmitterConfig{
				Enabled:    false,
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 7,
				Compress:   true,
			},
			Elasticsearch: ElasticsearchEmitterConfig{
				Enabled:       false,
				FlushInterval: 5 * time.Second,
			},
			Loki: LokiEmitterConfig{
				Enabled:       false,
				BatchSize:     100,
				FlushInterval: 1 * time.Second,
			},
			Kafka: KafkaEmitterConfig{
				Enabled:        false,
				ClientID:       "adhoc-collector",
				ConnectTimeout: time.Minute,
			},
		},
	}
}

// Load reads configuration from all sources with proper override order.
// Order: defaults -> config file -> environment variables.
func Load(configPath string) (*Config, error) {
	opts := []configloader.Option[Config]{
		configloader.WithDefaults[Config](defaults()),
	}

	// Add file source if path provided or if default config exists
	if configPath != "" {
		opts = append(opts, configloader.WithFile[Config](configPath))
	} else {
		for _, path := range []string{"./config.yaml", "/etc/adhoc-collector/config.yaml"} {
			if _, err := os.Stat(path); err == nil {
				opts = append(opts, configloader.WithFile[Config](path))
				break
			}
		}
	}

	opts = append(opts, configloader.WithEnv[Config]("ADHOC_COLLECTOR_"))

	loader := configloader.NewConfigLoader[Config](opts...)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the loader cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Checkpoint.Dir == "" {
		errs = append(errs, errors.New("checkpoint.dir must not be empty"))
	}

	q := c.Queue
	if q.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("queue.capacity must be positive, got %d", q.Capacity))
	}
	// A zero high watermark would refuse admission forever.
	if q.LowWatermark < 0 || q.LowWatermark > q.HighWatermark || q.HighWatermark <= 0 || q.HighWatermark > q.Capacity {
		errs = append(errs, fmt.Errorf("queue watermarks must satisfy 0 <= low (%d) <= high (%d) <= capacity (%d) and high > 0",
			q.LowWatermark, q.HighWatermark, q.Capacity))
	}

	seen := make(map[string]struct{}, len(c.Jobs))
	for i, job := range c.Jobs {
		if job.Name == "" {
			errs = append(errs, fmt.Errorf("jobs[%d]: name must not be empty", i))
			continue
		}
		if _, dup := seen[job.Name]; dup {
			errs = append(errs, fmt.Errorf("jobs[%d]: duplicate job name %q", i, job.Name))
		}
		seen[job.Name] = struct{}{}
		if len(job.Files) == 0 {
			errs = append(errs, fmt.Errorf("jobs[%d]: job %q has no files", i, job.Name))
		}
	}

	return errors.Join(errs...)
}
