package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/model"
	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
)

// ProducerFactory creates a new Kafka producer.
type ProducerFactory func(cfg config.KafkaEmitterConfig) (sarama.SyncProducer, error)

// KafkaOption configures the KafkaEmitter.
type KafkaOption func(*KafkaEmitter)

// WithProducerFactory sets a custom factory for creating the producer.
func WithProducerFactory(f ProducerFactory) KafkaOption {
	return func(k *KafkaEmitter) {
		k.factory = f
	}
}

// KafkaEmitter publishes log entries to a Kafka topic. Messages are keyed by
// job so lines of one job stay ordered within a partition.
type KafkaEmitter struct {
	cfg      config.KafkaEmitterConfig
	factory  ProducerFactory
	producer sarama.SyncProducer
	mu       sync.Mutex
	logger   logger.ILogger
}

// NewKafkaEmitter creates a new Kafka emitter.
func NewKafkaEmitter(cfg config.KafkaEmitterConfig, log logger.ILogger, opts ...KafkaOption) *KafkaEmitter {
	k := &KafkaEmitter{
		cfg:    cfg,
		logger: log.SubLogger("KafkaEmitter"),
	}

	// Synchronous, durable delivery: every line is acknowledged by all
	// in-sync replicas before Emit returns.
	k.factory = func(cfg config.KafkaEmitterConfig) (sarama.SyncProducer, error) {
		producerConfig := sarama.NewConfig()
		producerConfig.ClientID = cfg.ClientID
		producerConfig.Producer.RequiredAcks = sarama.WaitForAll
		producerConfig.Producer.Return.Successes = true
		producerConfig.Producer.Partitioner = sarama.NewHashPartitioner

		producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		return producer, nil
	}

	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Name returns the emitter identifier.
func (k *KafkaEmitter) Name() string {
	return "kafka"
}

// Start connects the producer, retrying with exponential backoff for up to
// ConnectTimeout while the brokers are unreachable.
func (k *KafkaEmitter) Start(ctx context.Context) error {
	var producer sarama.SyncProducer
	operation := func() error {
		var err error
		producer, err = k.factory(k.cfg)
		if err != nil {
			k.logger.Warningf("kafka connect failed: brokers=%v, error=%v", k.cfg.Brokers, err)
		}
		return err
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if k.cfg.ConnectTimeout > 0 {
		expBackoff := backoff.NewExponentialBackOff()
		expBackoff.MaxElapsedTime = k.cfg.ConnectTimeout
		policy = expBackoff
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("connecting to kafka: %w", err)
	}

	k.mu.Lock()
	k.producer = producer
	k.mu.Unlock()

	k.logger.Debugf("kafka emitter started: brokers=%v, topic=%s", k.cfg.Brokers, k.cfg.Topic)
	return nil
}

// Stop closes the producer.
func (k *KafkaEmitter) Stop(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.producer == nil {
		return nil
	}
	err := k.producer.Close()
	k.producer = nil
	return err
}

// Emit publishes one entry and waits for the broker acknowledgement.
func (k *KafkaEmitter) Emit(ctx context.Context, entry *model.LogEntry) error {
	k.mu.Lock()
	producer := k.producer
	k.mu.Unlock()

	if producer == nil {
		return ErrNotStarted
	}

	data, err := json.Marshal(document(entry, "timestamp"))
	if err != nil {
		return err
	}

	_, _, err = producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.cfg.Topic,
		Key:   sarama.StringEncoder(entry.Source),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publishing to kafka topic %s: %w", k.cfg.Topic, err)
	}
	return nil
}
