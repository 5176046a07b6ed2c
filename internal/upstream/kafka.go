package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"

	"packagemanager/internal/status"
)

// KafkaConfig holds the Kafka sink settings.
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	ClientID  string
	ManagerID string
	// ConnectTimeout bounds producer creation retries (default 1m).
	ConnectTimeout time.Duration
}

// KafkaSink publishes change-sets to a topic keyed by channel, so each
// channel keeps its order within a partition.
type KafkaSink struct {
	producer  sarama.SyncProducer
	topic     string
	managerID string
	logger    *slog.Logger
	now       func() time.Time
}

// NewKafkaSink connects a synchronous producer, retrying with backoff.
func NewKafkaSink(ctx context.Context, cfg KafkaConfig) (*KafkaSink, error) {
	producerConfig := sarama.NewConfig()
	producerConfig.ClientID = cfg.ClientID
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producerConfig.Producer.Retry.Max = 5

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = timeout

	var producer sarama.SyncProducer
	operation := func() error {
		p, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
		if err != nil {
			slog.Warn("Kafka producer not ready, retrying", "brokers", cfg.Brokers, "error", err)
			return err
		}
		producer = p
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newKafkaSink(producer, cfg.Topic, cfg.ManagerID), nil
}

func newKafkaSink(producer sarama.SyncProducer, topic, managerID string) *KafkaSink {
	return &KafkaSink{
		producer:  producer,
		topic:     topic,
		managerID: managerID,
		logger:    slog.With("component", "kafka-sink", "topic", topic),
		now:       time.Now,
	}
}

func (s *KafkaSink) publish(channel string, changes []status.Change) error {
	value, err := json.Marshal(ChangeSet{
		ManagerID: s.managerID,
		Channel:   channel,
		Changes:   changes,
		SentAt:    s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s change-set: %w", channel, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(channel),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("ce_type"), Value: []byte(eventType(channel))},
			{Key: []byte("manager_id"), Value: []byte(s.managerID)},
		},
	}
	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s change-set: %w", channel, err)
	}
	s.logger.Debug("Change-set published", "channel", channel, "changes", len(changes),
		"partition", partition, "offset", offset)
	return nil
}

// UpdateWorkStatuses implements status.Sink.
func (s *KafkaSink) UpdateWorkStatuses(_ context.Context, changes []status.Change) error {
	return s.publish(status.ChannelWork, changes)
}

// UpdatePackageStatuses implements status.Sink.
func (s *KafkaSink) UpdatePackageStatuses(_ context.Context, changes []status.Change) error {
	return s.publish(status.ChannelPackage, changes)
}

// UpdateContainerStatuses implements status.Sink.
func (s *KafkaSink) UpdateContainerStatuses(_ context.Context, changes []status.Change) error {
	return s.publish(status.ChannelContainer, changes)
}

// RemoveAll implements status.Sink.
func (s *KafkaSink) RemoveAll(context.Context) error {
	return s.publish(ChannelReset, nil)
}

// Close closes the producer.
func (s *KafkaSink) Close(context.Context) error {
	return s.producer.Close()
}
