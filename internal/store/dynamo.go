package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key layout: one partition per plugin namespace, one item per key.
const (
	pkPrefix = "PLUGIN#"
	skPrefix = "KEY#"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

var _ DynamoAPI = (*dynamodb.Client)(nil)

// DynamoStore implements Store on a shared DynamoDB table with PK/SK
// string keys. Each item carries the JSON document in "value".
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	namespace string
}

var _ Store = (*DynamoStore)(nil)

// record is the item body; PK and SK are added by putItem.
type record struct {
	Value     string `dynamodbav:"value"`
	UpdatedAt int64  `dynamodbav:"updatedAt"`
}

// NewDynamoStore creates a DynamoStore for the given table and namespace.
func NewDynamoStore(client DynamoAPI, tableName, namespace string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		namespace: namespace,
	}
}

func (s *DynamoStore) pk() string { return pkPrefix + s.namespace }

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (s *DynamoStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	sk := skPrefix + key
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       itemKey(s.pk(), sk),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s SK=%s: %w", s.pk(), sk, err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var rec record
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal PK=%s SK=%s: %w", s.pk(), sk, err)
	}
	return json.RawMessage(rec.Value), nil
}

func (s *DynamoStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("store: value for %s is not valid JSON", key)
	}

	item, err := attributevalue.MarshalMap(record{Value: string(value), UpdatedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	sk := skPrefix + key
	for k, v := range itemKey(s.pk(), sk) {
		item[k] = v
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", s.pk(), sk, err)
	}

	log.Debug().Str("namespace", s.namespace).Str("key", key).Msg("Value persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	sk := skPrefix + key
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key:       itemKey(s.pk(), sk),
	})
	if err != nil {
		return fmt.Errorf("DeleteItem PK=%s SK=%s: %w", s.pk(), sk, err)
	}
	return nil
}

// Clear removes every key in the namespace and returns how many were deleted.
func (s *DynamoStore) Clear(ctx context.Context) (int, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: s.pk()},
			":sk": &types.AttributeValueMemberS{Value: skPrefix},
		},
		ProjectionExpression: aws.String("PK, SK"),
	}

	var keys []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("Query PK=%s: %w", s.pk(), err)
		}
		keys = append(keys, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	for i := 0; i < len(keys); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(keys))

		requests := make([]types.WriteRequest, 0, end-i)
		for _, key := range keys[i:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}

		_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.tableName: requests},
		})
		if err != nil {
			return i, fmt.Errorf("BatchWriteItem delete (%d items): %w", len(requests), err)
		}
	}

	log.Info().Str("namespace", s.namespace).Int("deleted", len(keys)).Msg("Namespace cleared")
	return len(keys), nil
}
