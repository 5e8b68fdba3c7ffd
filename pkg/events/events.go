// Package events publishes pipeline change notifications for downstream
// consumers such as the notification service.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a pipeline event.
type Type string

const (
	TypeStepUpdated              Type = "step.updated"
	TypeStepDeleted              Type = "step.deleted"
	TypeEntityCreated            Type = "entity.created"
	TypeEntityTemplateChanged    Type = "entity.template_changed"
	TypeEntityStepsReordered     Type = "entity.steps_reordered"
	TypeEntityProbabilityChanged Type = "entity.probability_changed"
)

// Event is the message body written to the events topic.
type Event struct {
	ID        uuid.UUID  `json:"id"`
	Type      Type       `json:"type"`
	EntityID  uuid.UUID  `json:"entity_id"`
	StepID    *uuid.UUID `json:"step_id,omitempty"`
	Actor     string     `json:"actor,omitempty"`
	Payload   any        `json:"payload,omitempty"`
	Timestamp time.Time  `json:"timestamp"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// New builds an event with a fresh id and the current time.
func New(eventType Type, entityID uuid.UUID, payload any) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		EntityID:  entityID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// WithStep sets the step the event refers to.
func (e Event) WithStep(stepID uuid.UUID) Event {
	e.StepID = &stepID
	return e
}

// Publisher delivers events. Callers treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, ...Event) error { return nil }
func (Noop) Close() error                            { return nil }
