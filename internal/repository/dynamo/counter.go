// Package dynamo implements the counter store on DynamoDB.
package dynamo

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

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
)

// API is the subset of the DynamoDB client used by the store.
type API interface {
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// CounterItem is the stored shape of a bucket.
type CounterItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	Family      string `dynamodbav:"Family"`
	Event       string `dynamodbav:"Event"`
	Granularity string `dynamodbav:"Granularity"`
	Hash        string `dynamodbav:"Hash"`
	CampaignID  string `dynamodbav:"CampaignID,omitempty"`
	BotValue    string `dynamodbav:"BotValue,omitempty"`
	N           int64  `dynamodbav:"N"`
	Last        int64  `dynamodbav:"Last"`
	TTL         int64  `dynamodbav:"TTL,omitempty"`
}

// CounterStore implements analytics.CounterStore. Hour and day buckets
// expire after retention through the table's TTL attribute; all-time
// buckets never expire.
type CounterStore struct {
	api       API
	table     string
	retention time.Duration
}

// NewCounterStore creates a DynamoDB-backed counter store. A zero retention
// keeps every bucket.
func NewCounterStore(api API, table string, retention time.Duration) *CounterStore {
	return &CounterStore{api: api, table: table, retention: retention}
}

// ItemKey returns the partition and sort key of a bucket.
func ItemKey(k domain.BucketKey) (pk, sk string) {
	bucket := "ALL"
	if !k.Bucket.IsZero() {
		bucket = k.Bucket.UTC().Format(time.RFC3339)
	}
	pk = fmt.Sprintf("COUNTER#%s#%s#%s", k.Family, k.Event, k.Hash)
	sk = fmt.Sprintf("%s#%s#%s#%s", k.Granularity, bucket, k.CampaignID, k.BotValue)
	return pk, sk
}

func (s *CounterStore) key(k domain.BucketKey) map[string]types.AttributeValue {
	pk, sk := ItemKey(k)
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// IncrementBucket adds to N with an atomic ADD. Last is raised in a second
// conditional update; losing that race only means another writer already
// stored a later timestamp.
func (s *CounterStore) IncrementBucket(ctx context.Context, key domain.BucketKey, by int64, at time.Time) error {
	expr := "ADD #n :by SET #family = :family, #event = :event, #gran = :gran, #hash = :hash"
	names := map[string]string{
		"#n": "N", "#family": "Family", "#event": "Event", "#gran": "Granularity", "#hash": "Hash",
	}
	values := map[string]types.AttributeValue{
		":by":     &types.AttributeValueMemberN{Value: strconv.FormatInt(by, 10)},
		":family": &types.AttributeValueMemberS{Value: string(key.Family)},
		":event":  &types.AttributeValueMemberS{Value: string(key.Event)},
		":gran":   &types.AttributeValueMemberS{Value: string(key.Granularity)},
		":hash":   &types.AttributeValueMemberS{Value: key.Hash},
	}
	if key.CampaignID != "" {
		expr += ", #cid = :cid"
		names["#cid"] = "CampaignID"
		values[":cid"] = &types.AttributeValueMemberS{Value: key.CampaignID}
	}
	if key.BotValue != "" {
		expr += ", #bot = :bot"
		names["#bot"] = "BotValue"
		values[":bot"] = &types.AttributeValueMemberS{Value: key.BotValue}
	}
	if s.retention > 0 && key.Granularity != domain.GranularityAll {
		expr += ", #ttl = if_not_exists(#ttl, :ttl)"
		names["#ttl"] = "TTL"
		values[":ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(key.Bucket.Add(s.retention).Unix(), 10)}
	}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(key),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("increment counter in DynamoDB: %w", err)
	}

	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table),
		Key:                      s.key(key),
		UpdateExpression:         aws.String("SET #last = :at"),
		ConditionExpression:      aws.String("attribute_not_exists(#last) OR #last < :at"),
		ExpressionAttributeNames: map[string]string{"#last": "Last"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at": &types.AttributeValueMemberN{Value: strconv.FormatInt(at.UnixMilli(), 10)},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &ccf) {
		return fmt.Errorf("advance counter last in DynamoDB: %w", err)
	}
	return nil
}

// GetCounter reads one bucket. A missing bucket reads as zero.
func (s *CounterStore) GetCounter(ctx context.Context, key domain.BucketKey) (domain.Counter, error) {
	c := domain.Counter{Key: key}
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return c, fmt.Errorf("getting counter from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return c, nil
	}
	var item CounterItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return c, fmt.Errorf("unmarshaling counter: %w", err)
	}
	c.N = item.N
	if item.Last > 0 {
		c.Last = time.UnixMilli(item.Last).UTC()
	}
	return c, nil
}
