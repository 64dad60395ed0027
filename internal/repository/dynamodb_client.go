package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"discussion-agent/internal/domain"
)

const (
	pkPrefixDisc = "DISC#"
	skPrefixMsg  = "MSG#"
	skMeta       = "META#"
	ttlDuration  = 30 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client exports discussions to a DynamoDB table. Nothing is read back; the
// in-memory store stays the source of truth.
type Client struct {
	api       dynamodbAPI
	tableName string
}

func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func discPK(discussionID string) string {
	return pkPrefixDisc + discussionID
}

// msgSK zero-pads the transcript position so items sort in transcript order.
func msgSK(position int) string {
	return fmt.Sprintf("%s%06d", skPrefixMsg, position)
}

func ttlValue() int64 {
	return now().Add(ttlDuration).Unix()
}

// ArchiveDiscussion writes or replaces the discussion metadata record.
func (c *Client) ArchiveDiscussion(ctx context.Context, d domain.Discussion) error {
	if d.ID == "" {
		return errors.New("repository: ArchiveDiscussion: discussion id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      metaItem(d),
	})
	if err != nil {
		return fmt.Errorf("repository: ArchiveDiscussion: %w", err)
	}
	return nil
}

// ArchiveMessage writes one transcript entry and refreshes the metadata
// activity fields in a single transaction. A position is written once.
func (c *Client) ArchiveMessage(ctx context.Context, discussionID string, position int, msg domain.Message) error {
	if discussionID == "" || msg.ID == "" {
		return errors.New("repository: ArchiveMessage: discussion id and message id are required")
	}
	if position < 0 {
		return fmt.Errorf("repository: ArchiveMessage: invalid position %d", position)
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(discussionID, position, msg),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: discPK(discussionID)},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression:         aws.String("SET lastActivity = :la, messageCount = :mc, #ttl = :ttl"),
					ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":la":  &types.AttributeValueMemberS{Value: msg.Timestamp.UTC().Format(time.RFC3339Nano)},
						":mc":  numAttr(int64(position + 1)),
						":ttl": numAttr(ttlValue()),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: ArchiveMessage: %w", err)
	}
	return nil
}

func metaItem(d domain.Discussion) map[string]types.AttributeValue {
	ids := make([]string, 0, len(d.Participants))
	for _, p := range d.Participants {
		ids = append(ids, p.ID)
	}
	lastActivity := now()
	if last, ok := d.LastMessage(); ok {
		lastActivity = last.Timestamp
	}

	item := map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: discPK(d.ID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"discussionId": &types.AttributeValueMemberS{Value: d.ID},
		"topic":        &types.AttributeValueMemberS{Value: d.Topic},
		"status":       &types.AttributeValueMemberS{Value: string(d.Status)},
		"lastActivity": &types.AttributeValueMemberS{Value: lastActivity.UTC().Format(time.RFC3339Nano)},
		"messageCount": numAttr(int64(len(d.Messages))),
		"ttl":          numAttr(ttlValue()),
	}
	// DynamoDB rejects empty string sets.
	if len(ids) > 0 {
		item["participantIds"] = &types.AttributeValueMemberSS{Value: ids}
	}
	return item
}

func messageItem(discussionID string, position int, msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: discPK(discussionID)},
		"SK":           &types.AttributeValueMemberS{Value: msgSK(position)},
		"discussionId": &types.AttributeValueMemberS{Value: discussionID},
		"messageId":    &types.AttributeValueMemberS{Value: msg.ID},
		"sender":       &types.AttributeValueMemberS{Value: msg.Sender},
		"content":      &types.AttributeValueMemberS{Value: msg.Content},
		"timestamp":    &types.AttributeValueMemberS{Value: msg.Timestamp.UTC().Format(time.RFC3339Nano)},
		"ttl":          numAttr(ttlValue()),
	}
}

func numAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

var now = func() time.Time {
	return time.Now().UTC()
}
