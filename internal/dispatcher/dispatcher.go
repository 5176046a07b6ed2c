// Package dispatcher delivers CloudEvents asynchronously from a bounded
// in-memory queue, retrying transient failures.
package dispatcher

import (
	"context"
	"errors"

	"packagemanager/pkg/cloudevent"
)

// ErrBufferFull is returned when the queue is full and the event is dropped.
var ErrBufferFull = errors.New("dispatcher buffer full, event dropped")

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher handles async delivery of events.
type Dispatcher interface {
	// Dispatch queues an event. It never blocks.
	Dispatch(event *Event) error

	// Stats returns current counters.
	Stats() Stats

	// Close stops accepting events and drains the queue until ctx is done.
	Close(ctx context.Context) error
}

// Event is a CloudEvent bound for a destination URL.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string
	SigningKey  string // empty = unsigned
}

// Stats holds dispatcher counters.
type Stats struct {
	QueueDepth   int   `json:"queueDepth"`
	Queued       int64 `json:"queued"`
	Delivered    int64 `json:"delivered"`
	Failed       int64 `json:"failed"`
	Dropped      int64 `json:"dropped"`
	RetriesTotal int64 `json:"retriesTotal"`
}
