package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/instruqt/sandbox-broker/pkg/types"
)

// DynamoStore implements Store against a single DynamoDB table with three
// GSIs, as described in doc.go.
type DynamoStore struct {
	client    *dynamodb.Client
	table     string
	gsiStatus string
	gsiOwner  string
	gsiIdem   string
}

// DynamoConfig configures a DynamoStore.
type DynamoConfig struct {
	TableName   string
	GSIStatus   string
	GSIOwner    string
	GSIIdem     string
	Region      string
	EndpointURL string // non-empty only for local dynamodb-local testing
}

// NewDynamoStore builds a DynamoStore from the default AWS credential chain
// plus the supplied table/index/region configuration. When EndpointURL
// points at a local dynamodb-local instance, the default chain has nothing
// to resolve against, so a static dummy credential pair is supplied instead
// of requiring the operator to export real ones for local development.
func NewDynamoStore(ctx context.Context, cfg DynamoConfig) (*DynamoStore, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.EndpointURL != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
	})

	return &DynamoStore{
		client:    client,
		table:     cfg.TableName,
		gsiStatus: cfg.GSIStatus,
		gsiOwner:  cfg.GSIOwner,
		gsiIdem:   cfg.GSIIdem,
	}, nil
}

func (s *DynamoStore) Close() error { return nil }

func (s *DynamoStore) Get(ctx context.Context, sandboxID string) (*types.Sandbox, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"sandbox_id": &ddbtypes.AttributeValueMemberS{Value: sandboxID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", sandboxID, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var sb types.Sandbox
	if err := attributevalue.UnmarshalMap(out.Item, &sb); err != nil {
		return nil, fmt.Errorf("storage: unmarshal %s: %w", sandboxID, err)
	}
	return &sb, nil
}

func (s *DynamoStore) Put(ctx context.Context, sandbox *types.Sandbox) error {
	item, err := attributevalue.MarshalMap(sandbox)
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", sandbox.SandboxID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", sandbox.SandboxID, err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, sandboxID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"sandbox_id": &ddbtypes.AttributeValueMemberS{Value: sandboxID},
		},
	})
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", sandboxID, err)
	}
	return nil
}

// AtomicClaim performs a single conditional UpdateItem: set fields and flip
// status to allocated, but only if status is currently available. DynamoDB
// evaluates the ConditionExpression server-side against the latest
// committed item, so two concurrent claims against the same sandbox_id
// race at the database, not in our process; exactly one wins.
func (s *DynamoStore) AtomicClaim(ctx context.Context, sandboxID string, claim Claim) (*types.Sandbox, error) {
	update := expression.Set(expression.Name("status"), expression.Value(string(types.StatusAllocated))).
		Set(expression.Name("allocated_to_sandbox_id"), expression.Value(claim.AllocatedTo)).
		Set(expression.Name("track_name"), expression.Value(claim.TrackName)).
		Set(expression.Name("allocated_at"), expression.Value(claim.Now)).
		Set(expression.Name("lab_duration_hours"), expression.Value(claim.LabDurationHours)).
		Set(expression.Name("updated_at"), expression.Value(claim.Now))
	if claim.IdempotencyKey != "" {
		update = update.Set(expression.Name("idempotency_key"), expression.Value(claim.IdempotencyKey))
	}

	cond := expression.Name("status").Equal(expression.Value(string(types.StatusAvailable)))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("storage: build claim expression: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"sandbox_id": &ddbtypes.AttributeValueMemberS{Value: sandboxID},
		},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              ddbtypes.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("storage: claim %s: %w", sandboxID, err)
	}
	if out.Attributes == nil {
		return nil, ErrNotFound
	}
	var sb types.Sandbox
	if err := attributevalue.UnmarshalMap(out.Attributes, &sb); err != nil {
		return nil, fmt.Errorf("storage: unmarshal claimed %s: %w", sandboxID, err)
	}
	return &sb, nil
}

// AtomicRelease flips an allocated sandbox to pending_deletion, but only if
// allocatedTo still matches the caller's claimed ownership and the record's
// own hold window hasn't elapsed. DynamoDB condition expressions can't
// multiply an attribute (lab_duration_hours) by a constant, so the window
// check happens in two steps: a Get to read the record's current
// allocated_at/lab_duration_hours and decide whether the window has
// elapsed, then a conditional UpdateItem whose precondition pins
// allocated_at to the exact value just read (in addition to status and
// owner) so a race that changes the record between the two steps is
// caught as ErrConflict rather than silently releasing the wrong hold.
func (s *DynamoStore) AtomicRelease(ctx context.Context, sandboxID string, allocatedTo string, now int64) (*types.Sandbox, error) {
	current, err := s.Get(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	if current.Status != types.StatusAllocated || current.AllocatedTo != allocatedTo {
		return nil, ErrConflict
	}
	if current.AllocatedAt <= now-int64(current.MaxHold().Seconds()) {
		return nil, ErrExpired
	}

	update := expression.Set(expression.Name("status"), expression.Value(string(types.StatusPendingDeletion))).
		Set(expression.Name("deletion_requested_at"), expression.Value(now)).
		Set(expression.Name("updated_at"), expression.Value(now))

	cond := expression.Name("allocated_to_sandbox_id").Equal(expression.Value(allocatedTo)).
		And(expression.Name("status").Equal(expression.Value(string(types.StatusAllocated)))).
		And(expression.Name("allocated_at").Equal(expression.Value(current.AllocatedAt)))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("storage: build release expression: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"sandbox_id": &ddbtypes.AttributeValueMemberS{Value: sandboxID},
		},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              ddbtypes.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("storage: release %s: %w", sandboxID, err)
	}
	if out.Attributes == nil {
		return nil, ErrNotFound
	}
	var sb types.Sandbox
	if err := attributevalue.UnmarshalMap(out.Attributes, &sb); err != nil {
		return nil, fmt.Errorf("storage: unmarshal released %s: %w", sandboxID, err)
	}
	return &sb, nil
}

// AtomicExpire is AutoExpiry's conditional write: the worker has already
// decided (from its own query_by_status read) that sandboxID's hold window
// plus grace has elapsed, so the only thing this call must verify is that
// the record hasn't changed since that read.
func (s *DynamoStore) AtomicExpire(ctx context.Context, sandboxID string, expectedAllocatedAt int64, now int64) (*types.Sandbox, error) {
	update := expression.Set(expression.Name("status"), expression.Value(string(types.StatusPendingDeletion))).
		Set(expression.Name("deletion_requested_at"), expression.Value(now)).
		Set(expression.Name("updated_at"), expression.Value(now))

	cond := expression.Name("status").Equal(expression.Value(string(types.StatusAllocated))).
		And(expression.Name("allocated_at").Equal(expression.Value(expectedAllocatedAt)))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("storage: build expire expression: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"sandbox_id": &ddbtypes.AttributeValueMemberS{Value: sandboxID},
		},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              ddbtypes.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("storage: expire %s: %w", sandboxID, err)
	}
	if out.Attributes == nil {
		return nil, ErrNotFound
	}
	var sb types.Sandbox
	if err := attributevalue.UnmarshalMap(out.Attributes, &sb); err != nil {
		return nil, fmt.Errorf("storage: unmarshal expired %s: %w", sandboxID, err)
	}
	return &sb, nil
}

func (s *DynamoStore) QueryByStatus(ctx context.Context, status types.Status, limit int) ([]*types.Sandbox, error) {
	keyCond := expression.Key("status").Equal(expression.Value(string(status)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("storage: build status query: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(s.gsiStatus),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	var results []*types.Sandbox
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage: query by_status %s: %w", status, err)
		}
		for _, item := range page.Items {
			var sb types.Sandbox
			if err := attributevalue.UnmarshalMap(item, &sb); err != nil {
				return nil, fmt.Errorf("storage: unmarshal status result: %w", err)
			}
			results = append(results, &sb)
			if limit > 0 && len(results) >= limit {
				return results, nil
			}
		}
	}
	return results, nil
}

func (s *DynamoStore) QueryByOwner(ctx context.Context, allocatedToSandboxID string) (*types.Sandbox, error) {
	keyCond := expression.Key("allocated_to_sandbox_id").Equal(expression.Value(allocatedToSandboxID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("storage: build owner query: %w", err)
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(s.gsiOwner),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: query by_owner %s: %w", allocatedToSandboxID, err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}
	var sb types.Sandbox
	if err := attributevalue.UnmarshalMap(out.Items[0], &sb); err != nil {
		return nil, fmt.Errorf("storage: unmarshal owner result: %w", err)
	}
	return &sb, nil
}

func (s *DynamoStore) QueryByIdempotencyKey(ctx context.Context, key string) (*types.Sandbox, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	keyCond := expression.Key("idempotency_key").Equal(expression.Value(key))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("storage: build idem query: %w", err)
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(s.gsiIdem),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: query by_idem: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}
	var sb types.Sandbox
	if err := attributevalue.UnmarshalMap(out.Items[0], &sb); err != nil {
		return nil, fmt.Errorf("storage: unmarshal idem result: %w", err)
	}
	return &sb, nil
}

// Scan paginates the whole table. Its callers are admin listing and stats,
// the metrics gauge refresher, and the sync loop; none of them is on the
// allocation hot path.
func (s *DynamoStore) Scan(ctx context.Context, fn func(*types.Sandbox) bool) error {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.table),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("storage: scan: %w", err)
		}
		for _, item := range page.Items {
			var sb types.Sandbox
			if err := attributevalue.UnmarshalMap(item, &sb); err != nil {
				return fmt.Errorf("storage: unmarshal scan result: %w", err)
			}
			if !fn(&sb) {
				return nil
			}
		}
	}
	return nil
}

func isConditionalCheckFailure(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ConditionalCheckFailedException"
	}
	return false
}
