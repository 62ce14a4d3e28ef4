package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/example/gym-checkout/internal/infrastructure/store"
	"github.com/google/uuid"
)

// MockEventStore is a mock implementation of EventStoreInterface for testing
type MockEventStore struct {
	mu        sync.RWMutex
	events    map[string][]store.Event
	snapshots map[string]store.Snapshot

	// For tracking calls in tests
	AppendCalls       []AppendCall
	AppendErr         error
	AppendCallback    func(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*store.Event, error)
	GetEventsErr      error
	GetEventsCalls    int
	SaveSnapshotCalls []store.Snapshot
}

// AppendCall records parameters passed to Append
type AppendCall struct {
	AggregateID     string
	AggregateType   string
	EventType       string
	ExpectedVersion int
	Data            any
}

// NewMockEventStore creates a new MockEventStore
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		events:      make(map[string][]store.Event),
		snapshots:   make(map[string]store.Snapshot),
		AppendCalls: make([]AppendCall, 0),
	}
}

// Append stores an event in memory
func (m *MockEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*store.Event, error) {
	m.mu.Lock()
	m.AppendCalls = append(m.AppendCalls, AppendCall{
		AggregateID:     aggregateID,
		AggregateType:   aggregateType,
		EventType:       eventType,
		ExpectedVersion: expectedVersion,
		Data:            data,
	})
	callback := m.AppendCallback
	appendErr := m.AppendErr
	m.mu.Unlock()

	// Callback runs unlocked so it may call back into the mock
	if callback != nil {
		return callback(ctx, aggregateID, aggregateType, eventType, expectedVersion, data)
	}
	if appendErr != nil {
		return nil, appendErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastVersion(aggregateID) != expectedVersion {
		return nil, store.ErrConcurrentAppend
	}
	event, err := m.newEvent(aggregateID, aggregateType, eventType, data)
	if err != nil {
		return nil, err
	}
	m.events[aggregateID] = append(m.events[aggregateID], event)
	return &event, nil
}

func (m *MockEventStore) newEvent(aggregateID, aggregateType, eventType string, data any) (store.Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return store.Event{}, err
	}
	return store.Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Timestamp:     time.Now(),
		Version:       m.lastVersion(aggregateID) + 1,
	}, nil
}

func (m *MockEventStore) lastVersion(aggregateID string) int {
	stream := m.events[aggregateID]
	if len(stream) == 0 {
		return 0
	}
	return stream[len(stream)-1].Version
}

// GetEvents returns events for an aggregate
func (m *MockEventStore) GetEvents(_ context.Context, aggregateID string) ([]store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetEventsCalls++
	if m.GetEventsErr != nil {
		return nil, m.GetEventsErr
	}
	return append([]store.Event(nil), m.events[aggregateID]...), nil
}

// GetEventsFromVersion returns events after fromVersion
func (m *MockEventStore) GetEventsFromVersion(_ context.Context, aggregateID string, fromVersion int) ([]store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetEventsCalls++
	if m.GetEventsErr != nil {
		return nil, m.GetEventsErr
	}
	var events []store.Event
	for _, e := range m.events[aggregateID] {
		if e.Version > fromVersion {
			events = append(events, e)
		}
	}
	return events, nil
}

// GetEventsByType returns events of one aggregate type in append order per aggregate
func (m *MockEventStore) GetEventsByType(_ context.Context, aggregateType string) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetEventsErr != nil {
		return nil, m.GetEventsErr
	}
	var events []store.Event
	for _, stream := range m.events {
		for _, e := range stream {
			if e.AggregateType == aggregateType {
				events = append(events, e)
			}
		}
	}
	return events, nil
}

// GetSnapshot returns a snapshot set by SaveSnapshot or SetSnapshot
func (m *MockEventStore) GetSnapshot(_ context.Context, aggregateID string) (*store.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// SaveSnapshot records and stores a snapshot
func (m *MockEventStore) SaveSnapshot(_ context.Context, snapshot *store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveSnapshotCalls = append(m.SaveSnapshotCalls, *snapshot)
	m.snapshots[snapshot.AggregateID] = *snapshot
	return nil
}

// SetSnapshot sets a snapshot directly for testing
func (m *MockEventStore) SetSnapshot(snapshot store.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.AggregateID] = snapshot
}

// Reset clears all events and recorded calls
func (m *MockEventStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string][]store.Event)
	m.snapshots = make(map[string]store.Snapshot)
	m.AppendCalls = make([]AppendCall, 0)
	m.AppendErr = nil
	m.AppendCallback = nil
	m.GetEventsErr = nil
	m.GetEventsCalls = 0
	m.SaveSnapshotCalls = nil
}

// SetEvents sets events directly for testing
func (m *MockEventStore) SetEvents(aggregateID string, events []store.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[aggregateID] = events
}

// AddEvent adds a single event for testing
func (m *MockEventStore) AddEvent(aggregateID, aggregateType, eventType string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, err := m.newEvent(aggregateID, aggregateType, eventType, data)
	if err != nil {
		return err
	}
	m.events[aggregateID] = append(m.events[aggregateID], event)
	return nil
}

// Calls returns a copy of the recorded Append calls
func (m *MockEventStore) Calls() []AppendCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AppendCall(nil), m.AppendCalls...)
}
