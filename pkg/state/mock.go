package state

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// MockS3 is an in-memory stand-in for the narrow slice of S3 the
// backend uses. Tests here and in packages built on the backend
// exercise the real Backend against it.
type MockS3 struct {
	s3iface.S3API
	Exists       bool
	TakenByOther bool
	CreateCalls  int
	VersionCalls int
	Objects      map[string][]byte
}

func NewMockS3() *MockS3 {
	return &MockS3{Objects: map[string][]byte{}}
}

func (f *MockS3) CreateBucketWithContext(_ aws.Context, input *s3.CreateBucketInput, _ ...request.Option) (*s3.CreateBucketOutput, error) {
	if f.TakenByOther {
		return nil, awserr.New(s3.ErrCodeBucketAlreadyExists, "bucket exists", nil)
	}
	if f.Exists {
		return nil, awserr.New(s3.ErrCodeBucketAlreadyOwnedByYou, "bucket owned by you", nil)
	}
	f.Exists = true
	f.CreateCalls++
	return &s3.CreateBucketOutput{}, nil
}

func (f *MockS3) WaitUntilBucketExistsWithContext(_ aws.Context, _ *s3.HeadBucketInput, _ ...request.WaiterOption) error {
	return nil
}

func (f *MockS3) PutBucketVersioningWithContext(_ aws.Context, _ *s3.PutBucketVersioningInput, _ ...request.Option) (*s3.PutBucketVersioningOutput, error) {
	f.VersionCalls++
	return &s3.PutBucketVersioningOutput{}, nil
}

func (f *MockS3) PutObjectWithContext(_ aws.Context, input *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.Objects[aws.StringValue(input.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *MockS3) GetObjectWithContext(_ aws.Context, input *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	body, ok := f.Objects[aws.StringValue(input.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *MockS3) ListObjectsV2PagesWithContext(_ aws.Context, input *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	var keys []string
	for key := range f.Objects {
		if strings.HasPrefix(key, aws.StringValue(input.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	page := &s3.ListObjectsV2Output{}
	for _, key := range keys {
		page.Contents = append(page.Contents, &s3.Object{Key: aws.String(key)})
	}
	fn(page, true)
	return nil
}

// MockDynamo is an in-memory lock table.
type MockDynamo struct {
	dynamodbiface.DynamoDBAPI
	mu          sync.Mutex
	TableExists bool
	CreateCalls int
	Items       map[string]map[string]*dynamodb.AttributeValue
}

func NewMockDynamo() *MockDynamo {
	return &MockDynamo{Items: map[string]map[string]*dynamodb.AttributeValue{}}
}

func (f *MockDynamo) CreateTableWithContext(_ aws.Context, _ *dynamodb.CreateTableInput, _ ...request.Option) (*dynamodb.CreateTableOutput, error) {
	if f.TableExists {
		return nil, awserr.New(dynamodb.ErrCodeResourceInUseException, "table exists", nil)
	}
	f.TableExists = true
	f.CreateCalls++
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *MockDynamo) WaitUntilTableExistsWithContext(_ aws.Context, _ *dynamodb.DescribeTableInput, _ ...request.WaiterOption) error {
	return nil
}

func (f *MockDynamo) PutItemWithContext(_ aws.Context, input *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.StringValue(input.Item[lockKeyAttribute].S)
	if input.ConditionExpression != nil {
		if _, held := f.Items[id]; held {
			return nil, awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "conditional check failed", nil)
		}
	}
	f.Items[id] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *MockDynamo) GetItemWithContext(_ aws.Context, input *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.StringValue(input.Key[lockKeyAttribute].S)
	item, ok := f.Items[id]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *MockDynamo) DeleteItemWithContext(_ aws.Context, input *dynamodb.DeleteItemInput, _ ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.StringValue(input.Key[lockKeyAttribute].S)
	item, ok := f.Items[id]
	if input.ConditionExpression != nil {
		want := aws.StringValue(input.ExpressionAttributeValues[":info"].S)
		if !ok || aws.StringValue(item["Info"].S) != want {
			return nil, awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "conditional check failed", nil)
		}
	}
	delete(f.Items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}
