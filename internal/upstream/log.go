package upstream

import (
	"context"
	"log/slog"

	"packagemanager/internal/status"
)

// LogSink logs change-set sizes. It stands in when no upstream is set.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(managerID string) *LogSink {
	return &LogSink{logger: slog.With("component", "log-sink", "managerId", managerID)}
}

func (s *LogSink) log(channel string, changes []status.Change) {
	var inserts, updates, deletes int
	for _, c := range changes {
		switch c.Type {
		case status.ChangeInsert:
			inserts++
		case status.ChangeUpdate:
			updates++
		case status.ChangeDelete:
			deletes++
		}
	}
	s.logger.Info("Status change-set", "channel", channel,
		"inserts", inserts, "updates", updates, "deletes", deletes)
}

// UpdateWorkStatuses implements status.Sink.
func (s *LogSink) UpdateWorkStatuses(_ context.Context, changes []status.Change) error {
	s.log(status.ChannelWork, changes)
	return nil
}

// UpdatePackageStatuses implements status.Sink.
func (s *LogSink) UpdatePackageStatuses(_ context.Context, changes []status.Change) error {
	s.log(status.ChannelPackage, changes)
	return nil
}

// UpdateContainerStatuses implements status.Sink.
func (s *LogSink) UpdateContainerStatuses(_ context.Context, changes []status.Change) error {
	s.log(status.ChannelContainer, changes)
	return nil
}

// RemoveAll implements status.Sink.
func (s *LogSink) RemoveAll(context.Context) error {
	s.logger.Info("Status reset")
	return nil
}

// Close implements Sink.
func (s *LogSink) Close(context.Context) error { return nil }
