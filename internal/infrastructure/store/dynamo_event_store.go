package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// typeIndex partitions events by aggregate type and sorts them by created_at
const typeIndex = "GSI1"

// DynamoAPI is the subset of the DynamoDB client used by DynamoEventStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoEventStore keeps event streams in one table keyed by aggregate_id
// and version, and the latest snapshot per aggregate in a second table.
// Reads against the base table are strongly consistent so the next version
// is never computed from a stale stream.
type DynamoEventStore struct {
	client         DynamoAPI
	eventsTable    string
	snapshotsTable string
	publisher      Publisher
	now            func() time.Time
	logger         *zap.Logger
}

type dynamoEvent struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	Version       int    `dynamodbav:"version"`
	ID            string `dynamodbav:"id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	EventType     string `dynamodbav:"event_type"`
	Data          string `dynamodbav:"data"`
	CreatedAt     string `dynamodbav:"created_at"`
	GSI1PK        string `dynamodbav:"gsi1pk"`
}

type dynamoSnapshot struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	Version       int    `dynamodbav:"version"`
	State         string `dynamodbav:"state"`
	CreatedAt     string `dynamodbav:"created_at"`
}

func NewDynamoEventStore(client DynamoAPI, eventsTable, snapshotsTable string, publisher Publisher, logger *zap.Logger) *DynamoEventStore {
	return &DynamoEventStore{
		client:         client,
		eventsTable:    eventsTable,
		snapshotsTable: snapshotsTable,
		publisher:      publisher,
		now:            time.Now,
		logger:         logger.Named("dynamo_event_store"),
	}
}

func gsi1Key(aggregateType string) string {
	return "TYPE#" + aggregateType
}

func toDynamoEvent(e Event) dynamoEvent {
	return dynamoEvent{
		AggregateID:   e.AggregateID,
		Version:       e.Version,
		ID:            e.ID,
		AggregateType: e.AggregateType,
		EventType:     e.EventType,
		Data:          string(e.Data),
		CreatedAt:     e.Timestamp.Format(time.RFC3339Nano),
		GSI1PK:        gsi1Key(e.AggregateType),
	}
}

func (de dynamoEvent) toEvent() (Event, error) {
	ts, err := time.Parse(time.RFC3339Nano, de.CreatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("invalid created_at on %s/%d: %w", de.AggregateID, de.Version, err)
	}
	return Event{
		ID:            de.ID,
		AggregateID:   de.AggregateID,
		AggregateType: de.AggregateType,
		EventType:     de.EventType,
		Data:          json.RawMessage(de.Data),
		Timestamp:     ts,
		Version:       de.Version,
	}, nil
}

// Append writes expectedVersion+1 with a conditional put. A stream at another
// version, or a writer that lost the race for that key, gets
// ErrConcurrentAppend.
func (es *DynamoEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	last, err := es.lastVersion(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to read version of %s: %w", aggregateID, err)
	}
	if last != expectedVersion {
		return nil, ErrConcurrentAppend
	}

	event := Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Timestamp:     es.now().UTC(),
		Version:       expectedVersion + 1,
	}
	item, err := attributevalue.MarshalMap(toDynamoEvent(event))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(es.eventsTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(aggregate_id) AND attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, ErrConcurrentAppend
		}
		return nil, fmt.Errorf("failed to put event: %w", err)
	}

	publish(ctx, es.publisher, es.logger, event)
	return &event, nil
}

// lastVersion returns the highest stored version, 0 for a new stream
func (es *DynamoEventStore) lastVersion(ctx context.Context, aggregateID string) (int, error) {
	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.eventsTable),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward:     aws.Bool(false),
		Limit:                aws.Int32(1),
		ProjectionExpression: aws.String("version"),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return 0, err
	}
	if len(result.Items) == 0 {
		return 0, nil
	}

	var item struct {
		Version int `dynamodbav:"version"`
	}
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return 0, err
	}
	return item.Version, nil
}

func (es *DynamoEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.GetEventsFromVersion(ctx, aggregateID, 0)
}

// GetEventsFromVersion returns the events stored after fromVersion, oldest first
func (es *DynamoEventStore) GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error) {
	return es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.eventsTable),
		KeyConditionExpression: aws.String("aggregate_id = :aid AND version > :ver"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
			":ver": &types.AttributeValueMemberN{Value: strconv.Itoa(fromVersion)},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	})
}

// GetEventsByType reads the type index. Global secondary indexes are
// eventually consistent, so a just-appended event may be missing.
func (es *DynamoEventStore) GetEventsByType(ctx context.Context, aggregateType string) ([]Event, error) {
	return es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.eventsTable),
		IndexName:              aws.String(typeIndex),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: gsi1Key(aggregateType)},
		},
		ScanIndexForward: aws.Bool(true),
	})
}

// queryAll follows LastEvaluatedKey until the result set is exhausted
func (es *DynamoEventStore) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]Event, error) {
	var events []Event
	for {
		result, err := es.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query events: %w", err)
		}
		for _, item := range result.Items {
			var de dynamoEvent
			if err := attributevalue.UnmarshalMap(item, &de); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event: %w", err)
			}
			e, err := de.toEvent()
			if err != nil {
				return nil, err
			}
			events = append(events, e)
		}
		if len(result.LastEvaluatedKey) == 0 {
			return events, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// SaveSnapshot replaces the stored snapshot only with a newer version. An
// older or equal snapshot arriving late is dropped silently.
func (es *DynamoEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	item, err := attributevalue.MarshalMap(dynamoSnapshot{
		AggregateID:   snapshot.AggregateID,
		AggregateType: snapshot.AggregateType,
		Version:       snapshot.Version,
		State:         string(snapshot.State),
		CreatedAt:     snapshot.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(es.snapshotsTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(aggregate_id) OR version < :ver"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ver": &types.AttributeValueMemberN{Value: strconv.Itoa(snapshot.Version)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			es.logger.Debug("stale snapshot skipped",
				zap.String("aggregate_id", snapshot.AggregateID),
				zap.Int("version", snapshot.Version),
			)
			return nil
		}
		return fmt.Errorf("failed to put snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the snapshot of an aggregate or nil
func (es *DynamoEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	result, err := es.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(es.snapshotsTable),
		Key: map[string]types.AttributeValue{
			"aggregate_id": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var ds dynamoSnapshot
	if err := attributevalue.UnmarshalMap(result.Item, &ds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ds.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at on snapshot %s: %w", ds.AggregateID, err)
	}

	return &Snapshot{
		AggregateID:   ds.AggregateID,
		AggregateType: ds.AggregateType,
		Version:       ds.Version,
		State:         json.RawMessage(ds.State),
		CreatedAt:     createdAt,
	}, nil
}
