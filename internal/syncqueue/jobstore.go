package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/clinicvoice/scheduler/pkg/logging"
)

// jobTTL bounds how long a finished job record is kept before DynamoDB's TTL
// sweep reclaims it.
const jobTTL = 24 * time.Hour

// JobState is the lifecycle of a queued sync job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// ErrJobNotFound indicates the requested job ID does not exist.
var ErrJobNotFound = errors.New("syncqueue: job not found")

// Job captures the persisted state of one /sync-cache request processed
// asynchronously.
type Job struct {
	JobID         string   `dynamodbav:"jobId" json:"jobId"`
	ClinicID      string   `dynamodbav:"clinicId" json:"clinicId"`
	ForceFullSync bool     `dynamodbav:"forceFullSync" json:"forceFullSync"`
	State         JobState `dynamodbav:"state" json:"state"`
	SyncType      string   `dynamodbav:"syncType,omitempty" json:"syncType,omitempty"`
	Updated       int      `dynamodbav:"updated,omitempty" json:"updated,omitempty"`
	Errors        int      `dynamodbav:"errors,omitempty" json:"errors,omitempty"`
	DurationMs    int64    `dynamodbav:"durationMs,omitempty" json:"durationMs,omitempty"`
	ErrorMessage  string   `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt     string   `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt     string   `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt     int64    `dynamodbav:"expiresAt,omitempty" json:"-"`
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// JobStore persists Job records to DynamoDB so /sync-cache can hand a caller
// a jobId and let them poll for the outcome separately.
type JobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

// NewJobStore builds a store backed by the given DynamoDB client.
func NewJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *JobStore {
	if client == nil {
		panic("syncqueue: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("syncqueue: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &JobStore{client: client, tableName: tableName, logger: logger, now: time.Now}
}

// PutPending inserts a new pending job record for jobID/clinicID.
func (s *JobStore) PutPending(ctx context.Context, jobID, clinicID string, forceFullSync bool) error {
	if jobID == "" {
		return errors.New("syncqueue: jobID required")
	}
	now := s.now().UTC()
	job := Job{
		JobID:         jobID,
		ClinicID:      clinicID,
		ForceFullSync: forceFullSync,
		State:         JobPending,
		CreatedAt:     now.Format(time.RFC3339Nano),
		UpdatedAt:     now.Format(time.RFC3339Nano),
		ExpiresAt:     now.Add(jobTTL).Unix(),
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("syncqueue: failed to marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("syncqueue: failed to persist job: %w", err)
	}
	return nil
}

// MarkCompleted records a successful sync pass's stats against jobID.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID, syncType string, updated, errCount int, duration time.Duration) error {
	return s.updateJob(ctx, jobID,
		map[string]types.AttributeValue{
			":state":    &types.AttributeValueMemberS{Value: string(JobCompleted)},
			":syncType": &types.AttributeValueMemberS{Value: syncType},
			":updated":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", updated)},
			":errors":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", errCount)},
			":duration": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", duration.Milliseconds())},
			":error":    &types.AttributeValueMemberS{Value: ""},
			":updatedAt": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{
			"#state":      "state",
			"#syncType":   "syncType",
			"#updated":    "updated",
			"#errors":     "errors",
			"#durationMs": "durationMs",
			"#error":      "errorMessage",
			"#updatedAt":  "updatedAt",
		},
		"SET #state = :state, #syncType = :syncType, #updated = :updated, #errors = :errors, #durationMs = :duration, #error = :error, #updatedAt = :updatedAt",
	)
}

// MarkFailed records that jobID's sync pass failed with errMsg.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	return s.updateJob(ctx, jobID,
		map[string]types.AttributeValue{
			":state":     &types.AttributeValueMemberS{Value: string(JobFailed)},
			":error":     &types.AttributeValueMemberS{Value: errMsg},
			":updatedAt": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{
			"#state":     "state",
			"#error":     "errorMessage",
			"#updatedAt": "updatedAt",
		},
		"SET #state = :state, #error = :error, #updatedAt = :updatedAt",
	)
}

// GetJob fetches a job record by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, errors.New("syncqueue: jobID required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("syncqueue: failed to fetch job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrJobNotFound
	}

	var job Job
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("syncqueue: failed to decode job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) updateJob(ctx context.Context, jobID string, values map[string]types.AttributeValue, names map[string]string, expr string) error {
	if jobID == "" {
		return errors.New("syncqueue: jobID required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
		ExpressionAttributeValues: values,
		ExpressionAttributeNames:  names,
		UpdateExpression:          aws.String(expr),
	})
	if err != nil {
		return fmt.Errorf("syncqueue: failed to update job %s: %w", jobID, err)
	}
	return nil
}
