// Package upstream delivers status change-sets to the party that owns the
// desired state: over HTTP as CloudEvents, to a Kafka topic, or to the log.
package upstream

import (
	"context"
	"fmt"
	"time"

	"packagemanager/internal/config"
	"packagemanager/internal/dispatcher"
	"packagemanager/internal/status"
)

// CloudEvent types emitted per channel.
const (
	EventTypeWork      = "packagemanager.status.work"
	EventTypePackage   = "packagemanager.status.package"
	EventTypeContainer = "packagemanager.status.container"
	EventTypeReset     = "packagemanager.status.reset"
)

// ChannelReset names the reset message on channel-keyed transports.
const ChannelReset = "reset"

// Sink is a status.Sink that holds resources until closed.
type Sink interface {
	status.Sink
	Close(ctx context.Context) error
}

// ChangeSet is the payload of every upstream message.
type ChangeSet struct {
	ManagerID string          `json:"managerId"`
	Channel   string          `json:"channel"`
	Changes   []status.Change `json:"changes,omitempty"`
	SentAt    time.Time       `json:"sentAt"`
}

func eventType(channel string) string {
	switch channel {
	case status.ChannelWork:
		return EventTypeWork
	case status.ChannelPackage:
		return EventTypePackage
	case status.ChannelContainer:
		return EventTypeContainer
	default:
		return EventTypeReset
	}
}

// Options carries the pieces New needs beyond the status config.
type Options struct {
	ManagerID string
	// Dispatcher settings for the HTTP sink.
	Dispatcher dispatcher.MemoryConfig
	Metrics    dispatcher.MetricsRecorder
}

// New builds the sink selected by cfg.Sink.
func New(ctx context.Context, cfg config.StatusConfig, opts Options) (Sink, error) {
	switch cfg.Sink {
	case "", "none":
		return NewLogSink(opts.ManagerID), nil
	case "http":
		d := dispatcher.NewMemory(opts.Dispatcher, opts.Metrics)
		return NewHTTPSink(d, cfg.URL, cfg.SigningKey, opts.ManagerID), nil
	case "kafka":
		return NewKafkaSink(ctx, KafkaConfig{
			Brokers:   cfg.KafkaBrokers,
			Topic:     cfg.KafkaTopic,
			ClientID:  cfg.KafkaClientID,
			ManagerID: opts.ManagerID,
		})
	default:
		return nil, fmt.Errorf("unknown status sink %q", cfg.Sink)
	}
}
