package sinks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/spacesedan/sentibatch/config"
	"github.com/spacesedan/sentibatch/internal/clients"
	"github.com/spacesedan/sentibatch/internal/models"
)

const maxBatchSize = 25

type batchWriter interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoDBSink writes one item per headline, keyed by headline_id.
type DynamoDBSink struct {
	db    batchWriter
	table string
	// initial wait before retrying unprocessed items
	backoff time.Duration
}

func NewDynamoDBSink(ctx context.Context, cfg config.DynamoDB) (*DynamoDBSink, error) {
	db, err := clients.NewDynamoDBClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &DynamoDBSink{db: db, table: cfg.Table, backoff: 500 * time.Millisecond}, nil
}

func (s *DynamoDBSink) Name() string {
	return config.SinkDynamoDB
}

func (s *DynamoDBSink) Export(ctx context.Context, entries []models.VerdictEntry) error {
	chunks, err := buildWriteRequests(entries)
	if err != nil {
		return err
	}

	for _, chunk := range chunks {
		if err := s.writeChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoDBSink) writeChunk(ctx context.Context, chunk []types.WriteRequest) error {
	out, err := s.db.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{
			s.table: chunk,
		},
	})
	if err != nil {
		return fmt.Errorf("[DynamoDB] Failed to batch write verdicts: %w", err)
	}

	retryCount := 0
	backoff := s.backoff
	for len(out.UnprocessedItems) > 0 && retryCount < clients.MAX_RETRIES {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2

		slog.Warn("[DynamoDB] Retrying unprocessed verdict items...",
			slog.Int("attempt", retryCount+1),
			slog.Int("remaining", len(out.UnprocessedItems[s.table])))

		out, err = s.db.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: out.UnprocessedItems,
		})
		if err != nil {
			return fmt.Errorf("[DynamoDB] Retry error: %w", err)
		}
		retryCount++
	}

	if remaining := len(out.UnprocessedItems[s.table]); remaining > 0 {
		return fmt.Errorf("[DynamoDB] %d verdict items were not written after retries", remaining)
	}
	return nil
}

func (s *DynamoDBSink) Close() error {
	return nil
}

// buildWriteRequests splits entries into BatchWriteItem-sized chunks. A
// batch may not contain the same key twice, so for repeated headlines
// only the latest entry is kept.
func buildWriteRequests(entries []models.VerdictEntry) ([][]types.WriteRequest, error) {
	latest := make(map[string]int, len(entries))
	for i, e := range entries {
		latest[e.HeadlineID] = i
	}

	var (
		chunks  [][]types.WriteRequest
		current = make([]types.WriteRequest, 0, maxBatchSize)
	)
	for i, e := range entries {
		if latest[e.HeadlineID] != i {
			continue
		}

		item, err := attributevalue.MarshalMap(e)
		if err != nil {
			return nil, fmt.Errorf("[DynamoDB] marshal verdict: %w", err)
		}
		item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", e.ClassifiedAt.Add(30*24*time.Hour).Unix())}

		current = append(current, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		if len(current) == maxBatchSize {
			chunks = append(chunks, current)
			current = make([]types.WriteRequest, 0, maxBatchSize)
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks, nil
}
