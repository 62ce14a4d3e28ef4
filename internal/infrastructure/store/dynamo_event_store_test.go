package store

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDynamo struct {
	puts    []*dynamodb.PutItemInput
	putErr  error
	queries []*dynamodb.QueryInput
	pages   []*dynamodb.QueryOutput
	getItem *dynamodb.GetItemOutput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getItem == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getItem, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	copied := *in
	f.queries = append(f.queries, &copied)
	if len(f.pages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func eventItem(t *testing.T, aggregateID string, version int) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(dynamoEvent{
		AggregateID:   aggregateID,
		Version:       version,
		ID:            "evt",
		AggregateType: "Order",
		EventType:     "OrderRecorded",
		Data:          `{"n":1}`,
		CreatedAt:     time.Now().Format(time.RFC3339Nano),
		GSI1PK:        gsi1Key("Order"),
	})
	require.NoError(t, err)
	return av
}

func TestDynamoEventStore_Append_FirstVersion(t *testing.T) {
	client := &fakeDynamo{}
	es := NewDynamoEventStore(client, "events", "snapshots", nil, zap.NewNop())

	e, err := es.Append(context.Background(), "order-1", "Order", "OrderRecorded", 0, map[string]int{"n": 1})

	require.NoError(t, err)
	assert.Equal(t, 1, e.Version)
	require.Len(t, client.puts, 1)
	assert.Equal(t, "events", aws.ToString(client.puts[0].TableName))
	assert.NotNil(t, client.puts[0].ConditionExpression)

	var stored dynamoEvent
	require.NoError(t, attributevalue.UnmarshalMap(client.puts[0].Item, &stored))
	assert.Equal(t, "TYPE#Order", stored.GSI1PK)

	require.Len(t, client.queries, 1)
	assert.True(t, aws.ToBool(client.queries[0].ConsistentRead))
}

func TestDynamoEventStore_Append_NextVersion(t *testing.T) {
	client := &fakeDynamo{pages: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{eventItem(t, "order-1", 4)}},
	}}
	es := NewDynamoEventStore(client, "events", "snapshots", nil, zap.NewNop())

	e, err := es.Append(context.Background(), "order-1", "Order", "OrderRecorded", 4, 1)

	require.NoError(t, err)
	assert.Equal(t, 5, e.Version)
}

func TestDynamoEventStore_Append_ConditionFailed(t *testing.T) {
	client := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("exists")}}
	es := NewDynamoEventStore(client, "events", "snapshots", nil, zap.NewNop())

	_, err := es.Append(context.Background(), "order-1", "Order", "OrderRecorded", 0, 1)

	assert.ErrorIs(t, err, ErrConcurrentAppend)
}

func TestDynamoEventStore_Append_StaleVersionSkipsPut(t *testing.T) {
	client := &fakeDynamo{pages: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{eventItem(t, "cart-a", 3)}},
	}}
	es := NewDynamoEventStore(client, "events", "snapshots", nil, zap.NewNop())

	_, err := es.Append(context.Background(), "cart-a", "Cart", "ItemRemovedFromCart", 2, 1)

	assert.ErrorIs(t, err, ErrConcurrentAppend)
	assert.Empty(t, client.puts)
}

func TestDynamoEventStore_GetEventsByType_FollowsPages(t *testing.T) {
	client := &fakeDynamo{pages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{eventItem(t, "order-1", 1)},
			LastEvaluatedKey: map[string]types.AttributeValue{"aggregate_id": &types.AttributeValueMemberS{Value: "order-1"}},
		},
		{Items: []map[string]types.AttributeValue{eventItem(t, "order-2", 1)}},
	}}
	es := NewDynamoEventStore(client, "events", "snapshots", nil, zap.NewNop())

	events, err := es.GetEventsByType(context.Background(), "Order")

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "order-1", events[0].AggregateID)
	assert.Equal(t, "order-2", events[1].AggregateID)
	require.Len(t, client.queries, 2)
	assert.Equal(t, "GSI1", aws.ToString(client.queries[0].IndexName))
	assert.Nil(t, client.queries[0].ConsistentRead)
	assert.NotEmpty(t, client.queries[1].ExclusiveStartKey)
}

func TestDynamoEventStore_SnapshotRoundTrip(t *testing.T) {
	client := &fakeDynamo{}
	es := NewDynamoEventStore(client, "events", "snapshots", nil, zap.NewNop())
	ctx := context.Background()

	s, err := es.GetSnapshot(ctx, "cart-a")
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, es.SaveSnapshot(ctx, &Snapshot{
		AggregateID:   "cart-a",
		AggregateType: "Cart",
		Version:       10,
		State:         []byte(`{"id":"cart-a"}`),
		CreatedAt:     time.Now(),
	}))
	require.Len(t, client.puts, 1)
	assert.Equal(t, "snapshots", aws.ToString(client.puts[0].TableName))
	assert.Equal(t, "attribute_not_exists(aggregate_id) OR version < :ver", aws.ToString(client.puts[0].ConditionExpression))

	client.getItem = &dynamodb.GetItemOutput{Item: client.puts[0].Item}
	s, err = es.GetSnapshot(ctx, "cart-a")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 10, s.Version)
	assert.JSONEq(t, `{"id":"cart-a"}`, string(s.State))
}

func TestDynamoEventStore_SaveSnapshot_StaleIsIgnored(t *testing.T) {
	client := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("newer exists")}}
	es := NewDynamoEventStore(client, "events", "snapshots", nil, zap.NewNop())

	err := es.SaveSnapshot(context.Background(), &Snapshot{AggregateID: "cart-a", AggregateType: "Cart", Version: 10, State: []byte(`{}`)})

	assert.NoError(t, err)
}

func TestDynamoEventStore_GetEventsFromVersion(t *testing.T) {
	client := &fakeDynamo{pages: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{eventItem(t, "order-1", 3)}},
	}}
	es := NewDynamoEventStore(client, "events", "snapshots", nil, zap.NewNop())

	events, err := es.GetEventsFromVersion(context.Background(), "order-1", 2)

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].Version)
	ver := client.queries[0].ExpressionAttributeValues[":ver"].(*types.AttributeValueMemberN)
	assert.Equal(t, "2", ver.Value)
}
