// Package storage provides persistence implementations for the sync engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/peteski22/shopbridge/internal/batch"
	"github.com/peteski22/shopbridge/internal/relation"
)

const (
	// batchGetLimit is the maximum number of keys DynamoDB accepts per BatchGetItem call.
	batchGetLimit = 100

	// maxUnprocessedRetries bounds how often unprocessed keys are resubmitted.
	maxUnprocessedRetries = 5

	// unprocessedRetryDelay is the wait before the first resubmission. It doubles per attempt.
	unprocessedRetryDelay = 50 * time.Millisecond

	// maxUnprocessedRetryDelay caps the wait between resubmissions.
	maxUnprocessedRetryDelay = time.Second

	// queryFanOut is the number of target ids queried sequentially by one worker.
	queryFanOut = 25
)

// DynamoDBAPI defines the DynamoDB operations used by the relation store.
type DynamoDBAPI interface {
	// BatchGetItem retrieves up to 100 items by primary key.
	BatchGetItem(
		ctx context.Context,
		params *dynamodb.BatchGetItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.BatchGetItemOutput, error)

	// DeleteItem removes an item.
	DeleteItem(
		ctx context.Context,
		params *dynamodb.DeleteItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.DeleteItemOutput, error)

	// GetItem retrieves an item from DynamoDB.
	GetItem(
		ctx context.Context,
		params *dynamodb.GetItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.GetItemOutput, error)

	// PutItem stores an item in DynamoDB.
	PutItem(
		ctx context.Context,
		params *dynamodb.PutItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.PutItemOutput, error)

	// Query retrieves items matching a key condition from DynamoDB.
	Query(
		ctx context.Context,
		params *dynamodb.QueryInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.QueryOutput, error)
}

// RelationStore persists source to target relations of one entity kind in DynamoDB.
// Items are keyed by "<kind>#<source id>" with a global secondary index on the namespaced target id,
// so one table can hold every kind.
type RelationStore struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// indexName is the name of the target id GSI.
	indexName string

	// kind namespaces the ids of this store.
	kind string

	// retryDelay is the initial backoff before unprocessed keys are resubmitted.
	retryDelay time.Duration

	// tableName is the name of the DynamoDB table.
	tableName string
}

// NewRelationStore creates a new DynamoDB-backed relation store for one entity kind.
func NewRelationStore(client DynamoDBAPI, tableName string, indexName string, kind string) (*RelationStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}
	if indexName == "" {
		return nil, errors.New("index name is required")
	}
	if kind == "" {
		return nil, errors.New("kind is required")
	}

	return &RelationStore{
		client:     client,
		indexName:  indexName,
		kind:       kind,
		retryDelay: unprocessedRetryDelay,
		tableName:  tableName,
	}, nil
}

// BySourceID returns the relation for a source id, or nil if none is stored.
func (s *RelationStore) BySourceID(ctx context.Context, id string) (*relation.Relation, error) {
	if id == "" {
		return nil, errors.New("source ID is required")
	}

	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(id),
	})
	if err != nil {
		return nil, fmt.Errorf("getting item from DynamoDB: %w", err)
	}

	if output.Item == nil {
		return nil, nil
	}

	r, ok := s.parse(output.Item)
	if !ok {
		return nil, nil
	}

	return &r, nil
}

// BySourceIDs returns the stored relations for the given source ids.
// Keys are fetched with BatchGetItem, 100 per call, all calls in flight at once.
func (s *RelationStore) BySourceIDs(ctx context.Context, ids []string) ([]relation.Relation, error) {
	ids = unique(ids)

	items := batch.Lookup(
		ctx,
		ids,
		batch.DispatchFunc[string, []relation.Relation](s.batchGet),
		batch.ExtractorFunc[string, []relation.Relation, relation.Relation](func(found []relation.Relation, _ batch.Chunk[string]) ([]batch.Match[string, relation.Relation], error) {
			return matches(found, func(r relation.Relation) string { return r.SourceID }), nil
		}),
		batch.WithChunkSize(batchGetLimit),
	)

	return collect(items)
}

// ByTargetID returns the relation for a target id, or nil if none is stored.
func (s *RelationStore) ByTargetID(ctx context.Context, id string) (*relation.Relation, error) {
	if id == "" {
		return nil, errors.New("target ID is required")
	}

	found, err := s.queryTarget(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}

	return &found[0], nil
}

// ByTargetIDs returns the stored relations for the given target ids.
func (s *RelationStore) ByTargetIDs(ctx context.Context, ids []string) ([]relation.Relation, error) {
	ids = unique(ids)

	items := batch.Lookup(
		ctx,
		ids,
		batch.DispatchFunc[string, []relation.Relation](func(ctx context.Context, chunk []string) ([]relation.Relation, error) {
			var all []relation.Relation
			for _, id := range chunk {
				found, err := s.queryTarget(ctx, id)
				if err != nil {
					return nil, err
				}
				all = append(all, found...)
			}
			return all, nil
		}),
		batch.ExtractorFunc[string, []relation.Relation, relation.Relation](func(found []relation.Relation, _ batch.Chunk[string]) ([]batch.Match[string, relation.Relation], error) {
			return matches(found, func(r relation.Relation) string { return r.TargetID }), nil
		}),
		batch.WithChunkSize(queryFanOut),
	)

	return collect(items)
}

// Create stores r. Relations sharing its source id are overwritten and those sharing its target id are deleted.
func (s *RelationStore) Create(ctx context.Context, r relation.Relation) (bool, error) {
	if r.SourceID == "" {
		return false, errors.New("source ID is required")
	}
	if r.TargetID == "" {
		return false, errors.New("target ID is required")
	}

	existing, err := s.queryTarget(ctx, r.TargetID)
	if err != nil {
		return false, err
	}

	for _, old := range existing {
		if old.SourceID == r.SourceID {
			continue
		}
		if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key:       s.key(old.SourceID),
		}); err != nil {
			return false, fmt.Errorf("deleting superseded relation from DynamoDB: %w", err)
		}
	}

	item := map[string]types.AttributeValue{
		"source_id": &types.AttributeValueMemberS{Value: s.namespaced(r.SourceID)},
		"target_id": &types.AttributeValueMemberS{Value: s.namespaced(r.TargetID)},
		"kind":      &types.AttributeValueMemberS{Value: s.kind},
	}
	if r.TestKey != "" {
		item["test_key"] = &types.AttributeValueMemberS{Value: r.TestKey}
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return false, fmt.Errorf("putting item to DynamoDB: %w", err)
	}

	return true, nil
}

// Destroy removes r only if it is stored exactly as given.
func (s *RelationStore) Destroy(ctx context.Context, r relation.Relation) (bool, error) {
	if r.SourceID == "" {
		return false, errors.New("source ID is required")
	}

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(r.SourceID),
		ConditionExpression: aws.String("target_id = :tid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tid": &types.AttributeValueMemberS{Value: s.namespaced(r.TargetID)},
		},
	})
	if err != nil {
		var conditionErr *types.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			return false, nil
		}
		return false, fmt.Errorf("deleting item from DynamoDB: %w", err)
	}

	return true, nil
}

func (s *RelationStore) batchGet(ctx context.Context, ids []string) ([]relation.Relation, error) {
	keys := make([]map[string]types.AttributeValue, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}

	request := map[string]types.KeysAndAttributes{
		s.tableName: {Keys: keys},
	}

	var found []relation.Relation
	delay := s.retryDelay
	for attempt := 0; len(request) > 0; attempt++ {
		if attempt > maxUnprocessedRetries {
			return nil, fmt.Errorf("batch get: %d keys still unprocessed", len(request[s.tableName].Keys))
		}
		if attempt > 0 {
			// Unprocessed keys mean the table is throttling, so back off before resubmitting.
			if err := sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("waiting to resubmit unprocessed keys: %w", err)
			}
			delay = min(delay*2, maxUnprocessedRetryDelay)
		}

		output, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return nil, fmt.Errorf("batch getting items from DynamoDB: %w", err)
		}

		for _, item := range output.Responses[s.tableName] {
			if r, ok := s.parse(item); ok {
				found = append(found, r)
			}
		}

		request = output.UnprocessedKeys
	}

	return found, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *RelationStore) queryTarget(ctx context.Context, id string) ([]relation.Relation, error) {
	output, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(s.indexName),
		KeyConditionExpression: aws.String("target_id = :tid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tid": &types.AttributeValueMemberS{Value: s.namespaced(id)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying DynamoDB: %w", err)
	}

	found := make([]relation.Relation, 0, len(output.Items))
	for _, item := range output.Items {
		if r, ok := s.parse(item); ok {
			found = append(found, r)
		}
	}

	return found, nil
}

func (s *RelationStore) key(sourceID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"source_id": &types.AttributeValueMemberS{Value: s.namespaced(sourceID)},
	}
}

func (s *RelationStore) namespaced(id string) string {
	return s.kind + "#" + id
}

// parse reads a stored item. Items of other kinds or missing ids are ignored.
func (s *RelationStore) parse(item map[string]types.AttributeValue) (relation.Relation, bool) {
	var r relation.Relation
	prefix := s.kind + "#"

	source, ok := item["source_id"].(*types.AttributeValueMemberS)
	if !ok || !strings.HasPrefix(source.Value, prefix) {
		return r, false
	}
	target, ok := item["target_id"].(*types.AttributeValueMemberS)
	if !ok || !strings.HasPrefix(target.Value, prefix) {
		return r, false
	}

	r.SourceID = strings.TrimPrefix(source.Value, prefix)
	r.TargetID = strings.TrimPrefix(target.Value, prefix)
	if v, ok := item["test_key"].(*types.AttributeValueMemberS); ok {
		r.TestKey = v.Value
	}

	return r, true
}

func matches(found []relation.Relation, key func(relation.Relation) string) []batch.Match[string, relation.Relation] {
	out := make([]batch.Match[string, relation.Relation], len(found))
	for i, r := range found {
		out[i] = batch.Match[string, relation.Relation]{Entity: r, Key: key(r)}
	}
	return out
}

// collect flattens lookup items. Misses are expected; any other failure aborts.
func collect(items []batch.Item[string, relation.Relation]) ([]relation.Relation, error) {
	var found []relation.Relation
	for _, item := range items {
		switch {
		case item.OK():
			found = append(found, item.Entities...)
		case item.Err.Type == batch.ErrorTypeNotFound:
		default:
			return nil, fmt.Errorf("loading relations: %w", item.Err)
		}
	}
	return found, nil
}

func unique(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
