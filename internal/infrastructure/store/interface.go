package store

import (
	"context"
	"errors"
)

// ErrConcurrentAppend is returned when the stream is no longer at the version
// the caller expected.
var ErrConcurrentAppend = errors.New("concurrent append for aggregate version")

// EventStoreInterface defines the interface for event stores
//
// Append stores the event as version expectedVersion+1. expectedVersion is the
// version the caller loaded, 0 for a new stream.
type EventStoreInterface interface {
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
	GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error)
	GetEventsByType(ctx context.Context, aggregateType string) ([]Event, error)
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
}

// Publisher forwards stored events to the event stream.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}
