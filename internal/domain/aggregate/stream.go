package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/gym-checkout/internal/infrastructure/store"
)

// ErrVersionGap means a stream skipped a version during replay.
var ErrVersionGap = errors.New("event stream has a version gap")

// Aggregate is an event-sourced entity rebuilt by replaying its stream.
type Aggregate interface {
	GetID() string
	GetVersion() int
	SetVersion(int)
	ApplyEvent(store.Event) error
}

// Load rebuilds the aggregate stored under id. It starts from the latest
// snapshot of aggregateType, if any, and applies the events after it. A
// snapshot written for another aggregate type is ignored.
//
// found is false when the stream has neither a snapshot nor events.
func Load[T Aggregate](
	ctx context.Context,
	es store.EventStoreInterface,
	aggregateType, id string,
	newAggregate func() T,
) (agg T, found bool, err error) {
	agg = newAggregate()

	snapshot, err := es.GetSnapshot(ctx, id)
	if err != nil {
		return agg, false, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if snapshot != nil && snapshot.AggregateType != "" && snapshot.AggregateType != aggregateType {
		snapshot = nil
	}

	var events []store.Event
	if snapshot != nil {
		if err := snapshot.Decode(agg); err != nil {
			return agg, false, err
		}
		agg.SetVersion(snapshot.Version)
		events, err = es.GetEventsFromVersion(ctx, id, snapshot.Version)
	} else {
		events, err = es.GetEvents(ctx, id)
	}
	if err != nil {
		return agg, false, fmt.Errorf("failed to get events: %w", err)
	}

	for _, e := range events {
		if want := agg.GetVersion() + 1; e.Version != want {
			return agg, false, fmt.Errorf("%w: %s expected version %d, got %d", ErrVersionGap, id, want, e.Version)
		}
		if err := agg.ApplyEvent(e); err != nil {
			return agg, false, fmt.Errorf("failed to apply %s v%d: %w", e.EventType, e.Version, err)
		}
		agg.SetVersion(e.Version)
	}
	return agg, snapshot != nil || len(events) > 0, nil
}

// Snapshotter saves a snapshot each time a stream crosses its interval.
type Snapshotter struct {
	es       store.EventStoreInterface
	interval int
	now      func() time.Time
}

// NewSnapshotter returns a Snapshotter. An interval <= 0 disables snapshots.
func NewSnapshotter(es store.EventStoreInterface, interval int) *Snapshotter {
	return &Snapshotter{es: es, interval: interval, now: time.Now}
}

func (s *Snapshotter) Due(version int) bool {
	return s.interval > 0 && version > 0 && version%s.interval == 0
}

// Capture stores agg if its version is due. It reports whether it did.
func (s *Snapshotter) Capture(ctx context.Context, agg Aggregate, aggregateType string) (bool, error) {
	if !s.Due(agg.GetVersion()) {
		return false, nil
	}
	snapshot, err := store.NewSnapshot(agg.GetID(), aggregateType, agg.GetVersion(), agg, s.now())
	if err != nil {
		return false, err
	}
	if err := s.es.SaveSnapshot(ctx, snapshot); err != nil {
		return false, fmt.Errorf("failed to save snapshot: %w", err)
	}
	return true, nil
}
