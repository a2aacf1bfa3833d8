package configstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoBackend.
type DynamoAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoBackend stores revisions in a table with partition key doc_key and
// numeric sort key revision.
type DynamoBackend struct {
	client    DynamoAPI
	tableName string
}

// NewDynamoBackend creates a DynamoBackend.
func NewDynamoBackend(client DynamoAPI, tableName string) *DynamoBackend {
	return &DynamoBackend{client: client, tableName: tableName}
}

func (b *DynamoBackend) Latest(ctx context.Context, key string) (*Document, error) {
	out, err := b.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(b.tableName),
		KeyConditionExpression: aws.String("doc_key = :k"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: key},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", key, err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var doc Document
	if err := attributevalue.UnmarshalMap(out.Items[0], &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return &doc, nil
}

// Put writes doc only while it is the newest revision. The condition on the
// item rejects a second writer of the same revision; the reads before and
// after reject a writer whose revision was already pruned behind a newer one.
func (b *DynamoBackend) Put(ctx context.Context, doc *Document) error {
	if latest, err := b.Latest(ctx, doc.Key); err != nil {
		return err
	} else if latest != nil && latest.Revision >= doc.Revision {
		return ErrConflict
	}

	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", doc.Key, err)
	}
	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(b.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(doc_key)"),
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return ErrConflict
		}
		return fmt.Errorf("failed to put %s: %w", doc.Key, err)
	}

	latest, err := b.Latest(ctx, doc.Key)
	if err != nil {
		return err
	}
	if latest != nil && latest.Revision > doc.Revision {
		// A newer revision landed between the check and the put.
		if err := b.delete(ctx, doc.Key, doc.Revision); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (b *DynamoBackend) delete(ctx context.Context, key string, revision int64) error {
	_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.tableName),
		Key: map[string]types.AttributeValue{
			"doc_key":  &types.AttributeValueMemberS{Value: key},
			"revision": &types.AttributeValueMemberN{Value: strconv.FormatInt(revision, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete revision %d of %s: %w", revision, key, err)
	}
	return nil
}

func (b *DynamoBackend) Prune(ctx context.Context, key string, keep int64) error {
	var startKey map[string]types.AttributeValue
	for {
		out, err := b.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(b.tableName),
			KeyConditionExpression: aws.String("doc_key = :k AND #rev < :keep"),
			ExpressionAttributeNames: map[string]string{
				"#rev": "revision",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":k":    &types.AttributeValueMemberS{Value: key},
				":keep": &types.AttributeValueMemberN{Value: strconv.FormatInt(keep, 10)},
			},
			ProjectionExpression: aws.String("doc_key, #rev"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return fmt.Errorf("failed to list stale revisions of %s: %w", key, err)
		}
		for _, item := range out.Items {
			_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(b.tableName),
				Key: map[string]types.AttributeValue{
					"doc_key":  item["doc_key"],
					"revision": item["revision"],
				},
			})
			if err != nil {
				return fmt.Errorf("failed to delete stale revision of %s: %w", key, err)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}
