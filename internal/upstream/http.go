package upstream

import (
	"context"
	"fmt"
	"time"

	"packagemanager/internal/dispatcher"
	"packagemanager/internal/status"
	"packagemanager/pkg/cloudevent"
)

// HTTPSink posts each change-set as a CloudEvent through a dispatcher.
// Pushes return once the event is queued.
type HTTPSink struct {
	dispatcher dispatcher.Dispatcher
	url        string
	signingKey string
	managerID  string
	source     string
	now        func() time.Time
}

// NewHTTPSink creates a sink posting to url. An empty signingKey sends
// unsigned events.
func NewHTTPSink(d dispatcher.Dispatcher, url, signingKey, managerID string) *HTTPSink {
	return &HTTPSink{
		dispatcher: d,
		url:        url,
		signingKey: signingKey,
		managerID:  managerID,
		source:     "packagemanager/" + managerID,
		now:        time.Now,
	}
}

func (s *HTTPSink) send(channel string, changes []status.Change) error {
	payload := ChangeSet{
		ManagerID: s.managerID,
		Channel:   channel,
		Changes:   changes,
		SentAt:    s.now().UTC(),
	}
	ev := cloudevent.New(eventType(channel), s.source, channel, payload)
	if err := s.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     ev,
		Destination: s.url,
		SigningKey:  s.signingKey,
	}); err != nil {
		return fmt.Errorf("queue %s event: %w", channel, err)
	}
	return nil
}

// UpdateWorkStatuses implements status.Sink.
func (s *HTTPSink) UpdateWorkStatuses(_ context.Context, changes []status.Change) error {
	return s.send(status.ChannelWork, changes)
}

// UpdatePackageStatuses implements status.Sink.
func (s *HTTPSink) UpdatePackageStatuses(_ context.Context, changes []status.Change) error {
	return s.send(status.ChannelPackage, changes)
}

// UpdateContainerStatuses implements status.Sink.
func (s *HTTPSink) UpdateContainerStatuses(_ context.Context, changes []status.Change) error {
	return s.send(status.ChannelContainer, changes)
}

// RemoveAll implements status.Sink.
func (s *HTTPSink) RemoveAll(context.Context) error {
	return s.send(ChannelReset, nil)
}

// Stats exposes the dispatcher counters.
func (s *HTTPSink) Stats() dispatcher.Stats {
	return s.dispatcher.Stats()
}

// Close drains the dispatcher.
func (s *HTTPSink) Close(ctx context.Context) error {
	return s.dispatcher.Close(ctx)
}
