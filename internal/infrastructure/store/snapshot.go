package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultSnapshotInterval is how many events a stream grows between snapshots
const DefaultSnapshotInterval = 10

// Snapshot is the encoded state of an aggregate as of Version.
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	State         json.RawMessage `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}

func NewSnapshot(aggregateID, aggregateType string, version int, state any, at time.Time) (*Snapshot, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s snapshot: %w", aggregateType, err)
	}
	return &Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		State:         data,
		CreatedAt:     at.UTC(),
	}, nil
}

// Decode unmarshals the stored state into dst
func (s *Snapshot) Decode(dst any) error {
	if err := json.Unmarshal(s.State, dst); err != nil {
		return fmt.Errorf("failed to decode snapshot of %s at version %d: %w", s.AggregateID, s.Version, err)
	}
	return nil
}
