package registry

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/aws/aws-sdk-go/service/ecr/ecriface"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type fakeECR struct {
	ecriface.ECRAPI
	describe func(*ecr.DescribeImagesInput) (*ecr.DescribeImagesOutput, error)
}

func (f *fakeECR) DescribeImagesWithContext(ctx aws.Context, input *ecr.DescribeImagesInput, opts ...request.Option) (*ecr.DescribeImagesOutput, error) {
	return f.describe(input)
}

func (f *fakeECR) DescribeImagesPagesWithContext(ctx aws.Context, input *ecr.DescribeImagesInput, fn func(*ecr.DescribeImagesOutput, bool) bool, opts ...request.Option) error {
	out, err := f.describe(input)
	if err != nil {
		return err
	}
	fn(out, true)
	return nil
}

func TestIsECRHost(t *testing.T) {
	for _, host := range []string{
		"123456789012.dkr.ecr.eu-west-1.amazonaws.com",
		"123456789012.dkr.ecr.cn-north-1.amazonaws.com.cn",
	} {
		if !IsECRHost(host) {
			t.Errorf("Expected %q to be recognised as an ECR host", host)
		}
	}
	for _, host := range []string{"quay.io", "index.docker.io", "localhost:5000"} {
		if IsECRHost(host) {
			t.Errorf("Expected %q not to be recognised as an ECR host", host)
		}
	}
}

func TestECRResolveDigest(t *testing.T) {
	ref := mustParseRef(t, "123456789012.dkr.ecr.eu-west-1.amazonaws.com/billing/api:v312-1bad9f2")

	fake := &fakeECR{describe: func(input *ecr.DescribeImagesInput) (*ecr.DescribeImagesOutput, error) {
		assert.Equal(t, "billing/api", aws.StringValue(input.RepositoryName))
		assert.Equal(t, "123456789012", aws.StringValue(input.RegistryId))
		if assert.Len(t, input.ImageIds, 1) {
			assert.Equal(t, "v312-1bad9f2", aws.StringValue(input.ImageIds[0].ImageTag))
		}
		return &ecr.DescribeImagesOutput{
			ImageDetails: []*ecr.ImageDetail{
				{ImageDigest: aws.String(testDigest.String())},
			},
		}, nil
	}}

	d, err := NewECR(fake).ResolveDigest(context.Background(), ref)
	if err != nil {
		t.Fatal(err)
	}
	if d != testDigest {
		t.Errorf("Expected %s, got %s", testDigest, d)
	}
}

func TestECRResolveDigestNotFound(t *testing.T) {
	ref := mustParseRef(t, "123456789012.dkr.ecr.eu-west-1.amazonaws.com/billing/api:v312-1bad9f2")

	for _, code := range []string{ecr.ErrCodeImageNotFoundException, ecr.ErrCodeRepositoryNotFoundException} {
		fake := &fakeECR{describe: func(input *ecr.DescribeImagesInput) (*ecr.DescribeImagesOutput, error) {
			return nil, awserr.New(code, "no such image", nil)
		}}
		_, err := NewECR(fake).ResolveDigest(context.Background(), ref)
		if errors.Cause(err) != ErrDigestNotFound {
			t.Errorf("%s: expected ErrDigestNotFound, got %v", code, err)
		}
	}
}

func TestECRResolveDigestRequestError(t *testing.T) {
	ref := mustParseRef(t, "123456789012.dkr.ecr.eu-west-1.amazonaws.com/billing/api:v312-1bad9f2")

	fake := &fakeECR{describe: func(input *ecr.DescribeImagesInput) (*ecr.DescribeImagesOutput, error) {
		return nil, awserr.New("ServerException", "exploded", nil)
	}}
	_, err := NewECR(fake).ResolveDigest(context.Background(), ref)
	if err == nil || errors.Cause(err) == ErrDigestNotFound {
		t.Errorf("Expected a request error, got %v", err)
	}
}

func TestECRListImages(t *testing.T) {
	repo := mustParseRef(t, "123456789012.dkr.ecr.eu-west-1.amazonaws.com/billing/api").Name
	pushed := time.Date(2020, 4, 1, 10, 0, 0, 0, time.UTC)

	fake := &fakeECR{describe: func(input *ecr.DescribeImagesInput) (*ecr.DescribeImagesOutput, error) {
		return &ecr.DescribeImagesOutput{
			ImageDetails: []*ecr.ImageDetail{
				{
					ImageDigest:      aws.String(testDigest.String()),
					ImageTags:        aws.StringSlice([]string{"v311-00aa11b", "v312-1bad9f2"}),
					ImagePushedAt:    aws.Time(pushed),
					ImageSizeInBytes: aws.Int64(1024),
				},
				{
					// dangling manifest; nothing can be deployed by it
					ImageDigest: aws.String("sha256:aba3cb4a343ba768a355d0a5b776d1b1b02d26ad22e11ca1ba74ded366dbd2bc"),
				},
			},
		}, nil
	}}

	infos, err := NewECR(fake).ListImages(context.Background(), repo)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected 2 images, got %d", len(infos))
	}
	assert.Equal(t, "v311-00aa11b", infos[0].ID.Tag)
	assert.Equal(t, "v312-1bad9f2", infos[1].ID.Tag)
	for _, info := range infos {
		assert.Equal(t, repo, info.ID.Name)
		assert.Equal(t, testDigest, info.Digest)
		assert.Equal(t, int64(1024), info.Size)
		assert.Equal(t, pushed, info.CreatedAt)
	}
}
