// Package state is the durable store for rollout state: an S3 bucket
// holding the records and history, and a DynamoDB table arbitrating
// locks. Records are partitioned by environment, and a partition can
// only sensibly be written while holding its lock.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/go-kit/kit/log"
	"github.com/jonboulle/clockwork"

	"github.com/moorcd/moor/pkg/environment"
)

const lockKeyAttribute = "LockID"

// Config locates the state backend.
type Config struct {
	// Bucket is the S3 bucket holding records and events.
	Bucket string
	// Table is the DynamoDB table arbitrating locks.
	Table string
	// Region the bucket lives in; needed when creating it.
	Region string
}

// Backend is a handle on the state store. It does nothing on
// construction; call Ensure to provision the backing resources, and
// Partition to scope reads and writes to an environment.
type Backend struct {
	cfg    Config
	s3     s3iface.S3API
	db     dynamodbiface.DynamoDBAPI
	logger log.Logger
	clock  clockwork.Clock
}

func New(s3api s3iface.S3API, db dynamodbiface.DynamoDBAPI, cfg Config, logger log.Logger) *Backend {
	return &Backend{
		cfg:    cfg,
		s3:     s3api,
		db:     db,
		logger: logger,
		clock:  clockwork.NewRealClock(),
	}
}

// ProvisioningError means a backing resource could not be created or
// verified.
type ProvisioningError struct {
	Resource string // "bucket" or "lock table"
	Name     string
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning state %s %q: %s", e.Resource, e.Name, e.Err)
}

// Ensure provisions the bucket and the lock table if they are absent.
// It is idempotent: resources that already exist (and are owned by
// this account) are left alone.
func (b *Backend) Ensure(ctx context.Context) error {
	if err := b.ensureBucket(ctx); err != nil {
		return &ProvisioningError{Resource: "bucket", Name: b.cfg.Bucket, Err: err}
	}
	if err := b.ensureTable(ctx); err != nil {
		return &ProvisioningError{Resource: "lock table", Name: b.cfg.Table, Err: err}
	}
	return nil
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(b.cfg.Bucket),
	}
	// us-east-1 is the default and must not be named as a location
	// constraint.
	if b.cfg.Region != "" && b.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3.CreateBucketConfiguration{
			LocationConstraint: aws.String(b.cfg.Region),
		}
	}
	_, err := b.s3.CreateBucketWithContext(ctx, input)
	created := err == nil
	if err != nil {
		aerr, ok := err.(awserr.Error)
		if !ok {
			return err
		}
		switch aerr.Code() {
		case s3.ErrCodeBucketAlreadyOwnedByYou:
			// ours already
		case s3.ErrCodeBucketAlreadyExists:
			return fmt.Errorf("bucket name %q is taken by another account", b.cfg.Bucket)
		default:
			return err
		}
	}
	if err := b.s3.WaitUntilBucketExistsWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.cfg.Bucket),
	}); err != nil {
		return err
	}
	if created {
		// Keep old versions of records around; the bucket is tiny and
		// it makes operator archaeology possible.
		if _, err := b.s3.PutBucketVersioningWithContext(ctx, &s3.PutBucketVersioningInput{
			Bucket: aws.String(b.cfg.Bucket),
			VersioningConfiguration: &s3.VersioningConfiguration{
				Status: aws.String(s3.BucketVersioningStatusEnabled),
			},
		}); err != nil {
			return err
		}
		b.logger.Log("info", "created state bucket", "bucket", b.cfg.Bucket)
	}
	return nil
}

func (b *Backend) ensureTable(ctx context.Context) error {
	_, err := b.db.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(b.cfg.Table),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(lockKeyAttribute),
				AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(lockKeyAttribute),
				KeyType:       aws.String(dynamodb.KeyTypeHash),
			},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
	})
	created := err == nil
	if err != nil {
		aerr, ok := err.(awserr.Error)
		if !ok || aerr.Code() != dynamodb.ErrCodeResourceInUseException {
			return err
		}
	}
	if err := b.db.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(b.cfg.Table),
	}); err != nil {
		return err
	}
	if created {
		b.logger.Log("info", "created lock table", "table", b.cfg.Table)
	}
	return nil
}

// Partition scopes the backend to one environment. All keys are
// prefixed with the environment, and the partition's lock is distinct
// from every other environment's.
func (b *Backend) Partition(env environment.Environment) *Partition {
	return &Partition{
		backend: b,
		env:     env,
	}
}

// Status says where a service's rollout has got to.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRollingOut Status = "rolling_out"
	StatusStable     Status = "stable"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
)

// ServiceDeployment is the durable record of a service's rollout in an
// environment: which revision it should be running, which it was last
// seen running, and where the rollout got to.
type ServiceDeployment struct {
	Environment      string    `json:"environment"`
	Cluster          string    `json:"cluster"`
	Service          string    `json:"service"`
	Family           string    `json:"family"`
	Artifact         string    `json:"artifact,omitempty"`
	DesiredRevision  string    `json:"desiredRevision,omitempty"`
	ObservedRevision string    `json:"observedRevision,omitempty"`
	Status           Status    `json:"status"`
	Message          string    `json:"message,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	// FinishedAt is zero until the rollout reaches a terminal status.
	FinishedAt time.Time `json:"finishedAt"`
}
