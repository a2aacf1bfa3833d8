package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

// DynamoAPI is the subset of *dynamodb.Client used by LockManager.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// LockManager keeps leases in a DynamoDB table keyed by lock_key with
// expires_at as the TTL attribute.
type LockManager struct {
	client      DynamoAPI
	tableName   string
	ttlDuration time.Duration
	now         func() time.Time
}

// NewLockManager creates a LockManager. A non-positive ttl uses DefaultTTL.
func NewLockManager(client DynamoAPI, tableName string, ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LockManager{
		client:      client,
		tableName:   tableName,
		ttlDuration: ttl,
		now:         time.Now,
	}
}

// AcquireLock succeeds if:
// 1. No lease exists for key.
// 2. The existing lease has expired.
// 3. The existing lease belongs to owner (refresh).
func (m *LockManager) AcquireLock(ctx context.Context, key, owner string) (*model.FolderLock, error) {
	now := m.now().Unix()
	lease := model.FolderLock{
		LockKey:   key,
		Owner:     owner,
		ExpiresAt: now + int64(m.ttlDuration.Seconds()),
	}

	item, err := attributevalue.MarshalMap(lease)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	_, err = m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(m.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(lock_key) OR expires_at < :now OR #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return &lease, nil
}

// ReleaseLock removes the lease if owner holds it.
func (m *LockManager) ReleaseLock(ctx context.Context, key, owner string) error {
	_, err := m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(m.tableName),
		Key: map[string]types.AttributeValue{
			"lock_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return ErrNotOwner
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// GetLockStatus retrieves the current lease. DynamoDB TTL deletion is lazy,
// so expired rows are filtered here.
func (m *LockManager) GetLockStatus(ctx context.Context, key string) (*model.FolderLock, error) {
	out, err := m.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(m.tableName),
		Key: map[string]types.AttributeValue{
			"lock_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lock status: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var lease model.FolderLock
	if err := attributevalue.UnmarshalMap(out.Item, &lease); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}
	if lease.ExpiresAt < m.now().Unix() {
		return nil, nil
	}
	return &lease, nil
}
