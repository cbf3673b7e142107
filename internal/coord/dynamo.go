package coord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/Subhanamir19/faccely-sub002/internal/aws"
)

const keyAttr = "idempotency_key"

// dynamoItem is the table layout. expires_at is the table's TTL attribute;
// DynamoDB deletes lazily, so reads also filter on it.
type dynamoItem struct {
	Key       string `dynamodbav:"idempotency_key"`
	Value     []byte `dynamodbav:"value"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// DynamoStore implements Store on a DynamoDB table keyed by idempotency_key.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *DynamoStore) item(key string, value []byte, ttl time.Duration) (map[string]types.AttributeValue, error) {
	rec := dynamoItem{
		Key:       key,
		Value:     value,
		ExpiresAt: s.nowFunc().Add(ttl).Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return item, nil
}

func (s *DynamoStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	item, err := s.item(key, value, ttl)
	if err != nil {
		return false, err
	}

	input := &dyn.PutItemInput{
		TableName: sdkaws.String(s.tableName),
		Item:      item,
		// An expired row that TTL has not swept yet counts as absent.
		ConditionExpression: sdkaws.String("attribute_not_exists(idempotency_key) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.nowFunc().Unix(), 10)},
		},
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: put item: %w", ErrUnavailable, err)
	}
	return true, nil
}

func (s *DynamoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: sdkaws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			keyAttr: &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: get item: %w", ErrUnavailable, err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	var rec dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, false, fmt.Errorf("unmarshal record: %w", err)
	}
	if rec.ExpiresAt <= s.nowFunc().Unix() {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

func (s *DynamoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item, err := s.item(key, value, ttl)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: sdkaws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("%w: put item: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *DynamoStore) Ping(ctx context.Context) error {
	if _, err := s.client.DescribeTable(ctx, &dyn.DescribeTableInput{
		TableName: sdkaws.String(s.tableName),
	}); err != nil {
		return fmt.Errorf("%w: describe table: %w", ErrUnavailable, err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}
