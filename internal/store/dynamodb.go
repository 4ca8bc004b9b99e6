package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

// dynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Compile-time check that DynamoStore implements ConversationStore.
var _ ConversationStore = (*DynamoStore)(nil)

// dynamoItem is the table row. The partition key is chat_id.
type dynamoItem struct {
	ChatID    string `dynamodbav:"chat_id"`
	Stage     string `dynamodbav:"stage"`
	State     string `dynamodbav:"state"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

// DynamoStore persists conversations in a DynamoDB table.
type DynamoStore struct {
	db    dynamoAPI
	table string
}

// NewDynamoStore wraps a DynamoDB client. WithTableName is required.
func NewDynamoStore(db dynamoAPI, opts ...Option) (*DynamoStore, error) {
	cfg := applyOpts(opts)
	if db == nil {
		return nil, errors.New("dynamodb client is nil")
	}
	if cfg.TableName == "" {
		return nil, errors.New("dynamodb table name is required")
	}
	return &DynamoStore{db: db, table: cfg.TableName}, nil
}

func (s *DynamoStore) key(chatID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"chat_id": &types.AttributeValueMemberS{Value: chatID},
	}
}

func (s *DynamoStore) Get(ctx context.Context, chatID string) (*models.ConversationState, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(chatID),
	})
	if err != nil {
		slog.Error("DynamoStore Get failed", "error", err, "chat_id", chatID)
		return nil, fmt.Errorf("failed to get conversation %s: %w", chatID, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return decodeDynamoItem(out.Item)
}

func (s *DynamoStore) Put(ctx context.Context, state *models.ConversationState) error {
	data, err := models.MarshalState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", state.ChatID, err)
	}
	item, err := attributevalue.MarshalMap(dynamoItem{
		ChatID:    state.ChatID,
		Stage:     string(state.Stage),
		State:     string(data),
		UpdatedAt: state.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s: %w", state.ChatID, err)
	}
	if _, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.table), Item: item}); err != nil {
		slog.Error("DynamoStore Put failed", "error", err, "chat_id", state.ChatID)
		return fmt.Errorf("failed to save conversation %s: %w", state.ChatID, err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, chatID string) error {
	if _, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(s.table), Key: s.key(chatID)}); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", chatID, err)
	}
	return nil
}

// List performs a full table scan, following pagination.
func (s *DynamoStore) List(ctx context.Context) ([]*models.ConversationState, error) {
	var out []*models.ConversationState
	var start map[string]types.AttributeValue
	for {
		page, err := s.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversations: %w", err)
		}
		for _, item := range page.Items {
			c, err := decodeDynamoItem(item)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (s *DynamoStore) Close() error { return nil }

func decodeDynamoItem(item map[string]types.AttributeValue) (*models.ConversationState, error) {
	var row dynamoItem
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return nil, fmt.Errorf("failed to decode conversation item: %w", err)
	}
	return models.UnmarshalState([]byte(row.State))
}
