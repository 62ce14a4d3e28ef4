package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/gym-checkout/internal/domain/aggregate"
	"github.com/example/gym-checkout/internal/infrastructure/store"
	"go.uber.org/zap"
)

const AggregateType = "Membership"

var (
	ErrInvalidUser  = errors.New("user_id is required")
	ErrInvalidState = errors.New("activated membership needs a plan end and a site")
)

// Membership is the event-sourced holder of a user's State.
type Membership struct {
	ID      string `json:"id"`
	State   State  `json:"state"`
	Version int    `json:"version"`
}

func (m *Membership) GetID() string    { return m.ID }
func (m *Membership) GetVersion() int  { return m.Version }
func (m *Membership) SetVersion(v int) { m.Version = v }

func (m *Membership) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventPlanActivated:
		var data PlanActivated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		end := data.PlanEnd
		site := data.Site
		m.State = State{UserID: data.UserID, PlanEnd: &end, Site: &site}
	case EventPlanActivationReverted:
		var data PlanActivationReverted
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		m.State = data.Previous
		m.State.UserID = data.UserID
	}
	m.ID = event.AggregateID
	m.Version = event.Version
	return nil
}

type Service struct {
	eventStore store.EventStoreInterface
	snapshots  *aggregate.Snapshotter
	logger     *zap.Logger
}

func NewService(es store.EventStoreInterface, logger *zap.Logger) *Service {
	return &Service{
		eventStore: es,
		snapshots:  aggregate.NewSnapshotter(es, store.DefaultSnapshotInterval),
		logger:     logger.Named("membership"),
	}
}

// GetMembershipID returns the aggregate ID of a user's membership
func GetMembershipID(userID string) string {
	return "membership-" + userID
}

func (s *Service) load(ctx context.Context, userID string) (*Membership, error) {
	id := GetMembershipID(userID)
	m, _, err := aggregate.Load(ctx, s.eventStore, AggregateType, id, func() *Membership {
		return &Membership{ID: id, State: State{UserID: userID}}
	})
	if err != nil {
		return nil, err
	}
	m.ID = id
	m.State.UserID = userID
	return m, nil
}

// Get returns the current state. A user without history gets an empty State.
func (s *Service) Get(ctx context.Context, userID string) (State, error) {
	if userID == "" {
		return State{}, ErrInvalidUser
	}
	m, err := s.load(ctx, userID)
	if err != nil {
		return State{}, fmt.Errorf("failed to load membership: %w", err)
	}
	return m.State, nil
}

// Save persists an activated state produced by Policy.Activate.
func (s *Service) Save(ctx context.Context, next State) error {
	if next.UserID == "" {
		return ErrInvalidUser
	}
	if next.PlanEnd == nil || next.Site == nil {
		return ErrInvalidState
	}
	event := PlanActivated{
		UserID:      next.UserID,
		PlanEnd:     next.PlanEnd.UTC(),
		Site:        *next.Site,
		ActivatedAt: time.Now().UTC(),
	}
	return s.append(ctx, next.UserID, EventPlanActivated, event)
}

// Revert restores previous after a Save whose checkout did not commit.
func (s *Service) Revert(ctx context.Context, previous State) error {
	if previous.UserID == "" {
		return ErrInvalidUser
	}
	event := PlanActivationReverted{
		UserID:     previous.UserID,
		Previous:   previous,
		RevertedAt: time.Now().UTC(),
	}
	return s.append(ctx, previous.UserID, EventPlanActivationReverted, event)
}

func (s *Service) append(ctx context.Context, userID, eventType string, data any) error {
	m, err := s.load(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load membership: %w", err)
	}

	stored, err := s.eventStore.Append(ctx, m.ID, AggregateType, eventType, m.Version, data)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	if stored == nil {
		return nil
	}
	if err := m.ApplyEvent(*stored); err != nil {
		return fmt.Errorf("failed to apply %s: %w", eventType, err)
	}

	if _, err := s.snapshots.Capture(ctx, m, AggregateType); err != nil {
		s.logger.Warn("failed to create snapshot", zap.String("aggregate_id", m.ID), zap.Error(err))
	}
	return nil
}
