package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo is an in-memory PK/SK table.
type fakeDynamo struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	batches int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(item map[string]types.AttributeValue) string {
	pk := item["PK"].(*types.AttributeValueMemberS).Value
	sk := item["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

// Query returns items for the PK one page of two at a time.
func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value

	var ids []string
	for id := range f.items {
		if len(id) > len(pk) && id[:len(pk)+1] == pk+"|" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := keyOf(in.ExclusiveStartKey)
		for start < len(ids) && ids[start] <= after {
			start++
		}
	}
	end := min(start+2, len(ids))

	out := &dynamodb.QueryOutput{}
	for _, id := range ids[start:end] {
		item := f.items[id]
		out.Items = append(out.Items, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
	}
	if end < len(ids) {
		out.LastEvaluatedKey = out.Items[len(out.Items)-1]
	}
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	for _, reqs := range in.RequestItems {
		if len(reqs) > maxBatchWrite {
			return nil, fmt.Errorf("too many items: %d", len(reqs))
		}
		for _, r := range reqs {
			delete(f.items, keyOf(r.DeleteRequest.Key))
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func TestDynamoStore(t *testing.T) {
	exercise(t, NewDynamoStore(newFakeDynamo(), "erasebg", "default"))
}

func TestDynamoStore_ItemLayout(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "erasebg", "team")
	require.NoError(t, SetJSON(context.Background(), s, KeyOrgID, "org1"))

	item, ok := fake.items["PLUGIN#team|KEY#savedOrgId"]
	require.True(t, ok)
	assert.Equal(t, `"org1"`, item["value"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoStore_Clear(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "erasebg", "default")
	other := NewDynamoStore(fake, "erasebg", "other")

	for _, k := range []string{KeyToken, KeyFormValue, KeyCloudName, KeyOrgID, "extra"} {
		require.NoError(t, SetJSON(ctx, s, k, "v"))
	}
	require.NoError(t, SetJSON(ctx, other, KeyToken, "keep"))

	n, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = s.Get(ctx, KeyToken)
	assert.ErrorIs(t, err, ErrNotFound)

	v, found, err := GetJSON[string](ctx, other, KeyToken)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "keep", v)
}
