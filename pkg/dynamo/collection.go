package dynamo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
)

// API is the subset of the DynamoDB client used by Collection.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// item is one appointment row, partitioned by id.
type item struct {
	ID        string  `dynamodbav:"id"`
	Date      string  `dynamodbav:"date"`
	Time      *string `dynamodbav:"time,omitempty"`
	Text      string  `dynamodbav:"text"`
	Notes     *string `dynamodbav:"notes,omitempty"`
	Done      bool    `dynamodbav:"done"`
	CreatedAt string  `dynamodbav:"created_at"`
}

// Collection stores appointments in a DynamoDB table keyed by "id".
type Collection struct {
	api   API
	table string
	newID func() string
	now   func() time.Time
}

// NewCollection stores appointments in table through api.
func NewCollection(api API, table string) *Collection {
	return &Collection{api: api, table: table, newID: uuid.NewString, now: time.Now}
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
// endpoint, when set, overrides the service endpoint (DynamoDB Local).
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (c *Collection) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

// List scans the whole table, oldest first.
func (c *Collection) List(ctx context.Context) ([]model.Appointment, error) {
	var items []item
	p := dynamodb.NewScanPaginator(c.api, &dynamodb.ScanInput{TableName: aws.String(c.table)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to scan appointments: %w", err)
		}
		var batch []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unable to decode appointments: %w", err)
		}
		items = append(items, batch...)
	}

	slices.SortStableFunc(items, func(a, b item) int {
		return strings.Compare(a.CreatedAt, b.CreatedAt)
	})

	out := make([]model.Appointment, 0, len(items))
	for _, it := range items {
		out = append(out, model.Appointment{
			ID:    it.ID,
			Date:  it.Date,
			Time:  blankToNil(it.Time),
			Text:  it.Text,
			Notes: blankToNil(it.Notes),
			Done:  it.Done,
		})
	}
	return out, nil
}

// Create writes a new row under a fresh id.
func (c *Collection) Create(ctx context.Context, doc model.Document) (string, error) {
	it := item{
		ID:        c.newID(),
		Date:      doc.Date,
		Time:      doc.Time,
		Text:      doc.Text,
		Notes:     doc.Notes,
		Done:      doc.Done,
		CreatedAt: c.now().UTC().Format(time.RFC3339Nano),
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return "", fmt.Errorf("unable to encode appointment: %w", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.Name("id").AttributeNotExists()).
		Build()
	if err != nil {
		return "", err
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(c.table),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return "", fmt.Errorf("unable to create appointment: %w", err)
	}
	return it.ID, nil
}

// Update applies patch to an existing row.
func (c *Collection) Update(ctx context.Context, id string, patch model.Patch) error {
	if patch.Done == nil {
		return nil
	}
	update := expression.Set(expression.Name("done"), expression.Value(*patch.Done))
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.Name("id").AttributeExists()).
		Build()
	if err != nil {
		return err
	}

	_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.table),
		Key:                       c.key(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", model.ErrNotFound, id)
		}
		return fmt.Errorf("unable to update appointment %s: %w", id, err)
	}
	return nil
}

// Delete removes a row. Deleting a missing row succeeds.
func (c *Collection) Delete(ctx context.Context, id string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key:       c.key(id),
	})
	if err != nil {
		return fmt.Errorf("unable to delete appointment %s: %w", id, err)
	}
	return nil
}

func blankToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
