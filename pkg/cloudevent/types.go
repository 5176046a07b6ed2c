// Package cloudevent builds CloudEvents 1.0 envelopes and posts them in
// structured mode.
package cloudevent

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SpecVersion is the CloudEvents version emitted.
const SpecVersion = "1.0"

// CloudEvent is a CloudEvents 1.0 envelope with a JSON payload.
type CloudEvent struct {
	SpecVersion     string    `json:"specversion"`
	Type            string    `json:"type"`
	Source          string    `json:"source"`
	Subject         string    `json:"subject,omitempty"`
	ID              string    `json:"id"`
	Time            time.Time `json:"time"`
	DataContentType string    `json:"datacontenttype"`
	Data            any       `json:"data,omitempty"`
}

// New creates an event with a fresh id.
func New(eventType, source, subject string, data any) *CloudEvent {
	return &CloudEvent{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		ID:              uuid.NewString(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// Validate checks the required context attributes.
func (e *CloudEvent) Validate() error {
	switch {
	case e == nil:
		return errors.New("cloudevent: nil event")
	case e.SpecVersion != SpecVersion:
		return errors.New("cloudevent: unsupported specversion " + e.SpecVersion)
	case e.Type == "":
		return errors.New("cloudevent: type is required")
	case e.Source == "":
		return errors.New("cloudevent: source is required")
	case e.ID == "":
		return errors.New("cloudevent: id is required")
	}
	return nil
}
