// Package pubsub provides the in-process publish/subscribe layer: a
// synchronous event bus for domain facts and a generic channel broker
// for streaming values to consumers.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

// Generic broker event types.
const (
	CreatedEvent EventType = "created"
	UpdatedEvent EventType = "updated"
	DeletedEvent EventType = "deleted"
)

// Domain event types published on the Bus. Producers are user actions,
// gateway acknowledgments, and push notifications from the experiment
// runner; consumers are the sync engine and the console.
const (
	SessionCreated EventType = "session.created"
	SessionUpdated EventType = "session.updated"
	SessionDeleted EventType = "session.deleted"

	MessageSent    EventType = "message.sent"
	MessageUpdated EventType = "message.updated"
	MessageDeleted EventType = "message.deleted"

	ParticipantAdded   EventType = "participant.added"
	ParticipantRemoved EventType = "participant.removed"
	ParticipantUpdated EventType = "participant.updated"

	ExperimentCreated       EventType = "experiment.created"
	ExperimentUpdated       EventType = "experiment.updated"
	ExperimentDeleted       EventType = "experiment.deleted"
	ExperimentExecuted      EventType = "experiment.executed"
	ExperimentStatusChanged EventType = "experiment.status_changed"

	AnalysisSaved     EventType = "analysis.saved"
	AnalysisTriggered EventType = "analysis.triggered"
	AnalysisCleared   EventType = "analysis.cleared"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
