package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"golang.org/x/time/rate"
)

// Item key prefixes. Each record is stored as two items, one per key, so
// that DynamoDB enforces uniqueness of both through the partition key.
const (
	lookupPrefix   = "l#"
	deletionPrefix = "d#"
)

type Option func(*options)

type options struct {
	requestRate rate.Limit
}

// WithRequestRate throttles requests on our side, so that a table with
// provisioned capacity is not asked for more than it can serve. Zero means
// no throttling.
func WithRequestRate(perSecond float64) Option {
	return func(o *options) {
		if perSecond > 0 {
			o.requestRate = rate.Limit(perSecond)
		}
	}
}

// DynamoDBStore is an implementation of Store backed by a DynamoDB table
// whose partition key is the string attribute "k".
type DynamoDBStore struct {
	table   string
	ddb     *dynamodb.DynamoDB
	limiter *rate.Limiter
}

func NewDynamoDBStore(profile, region, table string, opts ...Option) (*DynamoDBStore, error) {
	o := options{requestRate: rate.Inf}
	for _, opt := range opts {
		opt(&o)
	}
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewSharedCredentials("", profile),
	})
	if err != nil {
		return nil, err
	}
	s := &DynamoDBStore{
		table:   table,
		ddb:     dynamodb.New(sess),
		limiter: rate.NewLimiter(o.requestRate, 1),
	}
	if err := s.createTableIfAbsent(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DynamoDBStore) createTableIfAbsent() error {
	_, err := s.ddb.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err == nil {
		return nil
	}
	if e, ok := err.(awserr.Error); !ok || e.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return fmt.Errorf("could not describe table %q: %w", s.table, err)
	}
	_, err = s.ddb.CreateTable(&dynamodb.CreateTableInput{
		TableName:   aws.String(s.table),
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{{
			AttributeName: aws.String("k"),
			AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
		}},
		KeySchema: []*dynamodb.KeySchemaElement{{
			AttributeName: aws.String("k"),
			KeyType:       aws.String(dynamodb.KeyTypeHash),
		}},
	})
	if err != nil {
		return fmt.Errorf("could not create table %q: %w", s.table, err)
	}
	return s.ddb.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
}

func (s *DynamoDBStore) Insert(ctx context.Context, r Record) error {
	put := func(k string) *dynamodb.TransactWriteItem {
		return &dynamodb.TransactWriteItem{
			Put: &dynamodb.Put{
				TableName:           aws.String(s.table),
				Item:                recordItem(k, r),
				ConditionExpression: aws.String("attribute_not_exists(k)"),
			},
		}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.ddb.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			put(lookupPrefix + r.LookupKey),
			put(deletionPrefix + r.DeletionKey),
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("%.10s: %w", r.LookupKey, ErrConflict)
		}
		return fmt.Errorf("could not insert %.10s: %w", r.LookupKey, err)
	}
	return nil
}

func (s *DynamoDBStore) FindByLookupKey(ctx context.Context, key string) (Record, error) {
	return s.get(ctx, lookupPrefix+key)
}

func (s *DynamoDBStore) FindByDeletionKey(ctx context.Context, key string) (Record, error) {
	return s.get(ctx, deletionPrefix+key)
}

func (s *DynamoDBStore) get(ctx context.Context, k string) (Record, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Record{}, err
	}
	output, err := s.ddb.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(k),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Record{}, fmt.Errorf("could not look up %.12s: %w", k, err)
	}
	if output.Item == nil {
		return Record{}, fmt.Errorf("%.12s: %w", k, ErrNotFound)
	}
	return itemRecord(output.Item), nil
}

func (s *DynamoDBStore) DeleteByDeletionKey(ctx context.Context, key string) error {
	r, err := s.FindByDeletionKey(ctx, key)
	if err != nil {
		return err
	}
	del := func(k string) *dynamodb.TransactWriteItem {
		return &dynamodb.TransactWriteItem{
			Delete: &dynamodb.Delete{
				TableName:           aws.String(s.table),
				Key:                 itemKey(k),
				ConditionExpression: aws.String("attribute_exists(k)"),
			},
		}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = s.ddb.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			del(lookupPrefix + r.LookupKey),
			del(deletionPrefix + r.DeletionKey),
		},
	})
	if err != nil {
		if conditionFailed(err) {
			// Someone else deleted it in the meantime.
			return fmt.Errorf("%.10s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("could not delete %.10s: %w", key, err)
	}
	return nil
}

func (s *DynamoDBStore) List(ctx context.Context) (records []Record, err error) {
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		FilterExpression:          aws.String("begins_with(k, :prefix)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{":prefix": {S: aws.String(lookupPrefix)}},
	}
	err = s.ddb.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, _ bool) bool {
		for _, item := range page.Items {
			records = append(records, itemRecord(item))
		}
		return s.limiter.Wait(ctx) == nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not scan table %q: %w", s.table, err)
	}
	return records, ctx.Err()
}

// Close is a no-op: the SDK holds no resources that need releasing.
func (s *DynamoDBStore) Close() error {
	return nil
}

func itemKey(k string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"k": {S: aws.String(k)},
	}
}

func recordItem(k string, r Record) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"k":   {S: aws.String(k)},
		"lk":  {S: aws.String(r.LookupKey)},
		"dk":  {S: aws.String(r.DeletionKey)},
		"ext": {S: aws.String(r.Extension)},
	}
}

func itemRecord(item map[string]*dynamodb.AttributeValue) Record {
	str := func(name string) string {
		if v, ok := item[name]; ok {
			return aws.StringValue(v.S)
		}
		return ""
	}
	return Record{
		LookupKey:   str("lk"),
		DeletionKey: str("dk"),
		Extension:   str("ext"),
	}
}

func conditionFailed(err error) bool {
	var tce *dynamodb.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if aws.StringValue(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
		return false
	}
	if e, ok := err.(awserr.Error); ok {
		return e.Code() == dynamodb.ErrCodeConditionalCheckFailedException
	}
	return false
}
