package registry

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/aws/aws-sdk-go/service/ecr/ecriface"
	"github.com/pkg/errors"

	"github.com/moorcd/moor/pkg/image"
)

const (
	// For recognising ECR hosts
	awsPartitionSuffix   = ".amazonaws.com"
	awsCnPartitionSuffix = ".amazonaws.com.cn"
)

// IsECRHost says whether an image domain belongs to ECR, and digests
// can therefore be resolved over the AWS API rather than the registry
// HTTP protocol and its token dance.
//
// ECR registry hosts look like this:
//
//	<account-id>.dkr.ecr.<region>.amazonaws.com
func IsECRHost(domain string) bool {
	switch {
	case strings.HasSuffix(domain, awsPartitionSuffix):
		return true
	case strings.HasSuffix(domain, awsCnPartitionSuffix):
		return true
	}
	return false
}

// ecrAccountID reads the account (registry) ID off an ECR host, so
// lookups can be directed at the right registry even when the client
// session belongs to another account.
func ecrAccountID(domain string) string {
	parts := strings.Split(domain, ".")
	if len(parts) >= 6 && parts[1] == "dkr" && parts[2] == "ecr" {
		return parts[0]
	}
	return ""
}

// ECR resolves digests and lists images using the ECR API.
type ECR struct {
	api ecriface.ECRAPI
}

var _ Resolver = &ECR{}
var _ Lister = &ECR{}

func NewECR(api ecriface.ECRAPI) *ECR {
	return &ECR{api: api}
}

func (r *ECR) ResolveDigest(ctx context.Context, ref image.Ref) (image.Digest, error) {
	if ref.Tag == "" {
		return "", errors.New("cannot resolve digest for a reference without a tag")
	}
	input := &ecr.DescribeImagesInput{
		RepositoryName: aws.String(ref.Image),
		ImageIds:       []*ecr.ImageIdentifier{{ImageTag: aws.String(ref.Tag)}},
	}
	if id := ecrAccountID(ref.Domain); id != "" {
		input.RegistryId = aws.String(id)
	}
	out, err := r.api.DescribeImagesWithContext(ctx, input)
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case ecr.ErrCodeImageNotFoundException, ecr.ErrCodeRepositoryNotFoundException:
				return "", ErrDigestNotFound
			}
		}
		return "", errors.Wrapf(err, "describing image %s", ref)
	}
	if len(out.ImageDetails) == 0 || out.ImageDetails[0].ImageDigest == nil {
		return "", ErrDigestNotFound
	}
	return image.ParseDigest(aws.StringValue(out.ImageDetails[0].ImageDigest))
}

// ListImages returns an entry per tag held by the repository.
// Untagged manifests are skipped; nothing can be deployed by them.
func (r *ECR) ListImages(ctx context.Context, repo image.Name) ([]image.Info, error) {
	input := &ecr.DescribeImagesInput{
		RepositoryName: aws.String(repo.Image),
	}
	if id := ecrAccountID(repo.Domain); id != "" {
		input.RegistryId = aws.String(id)
	}
	var infos []image.Info
	err := r.api.DescribeImagesPagesWithContext(ctx, input, func(page *ecr.DescribeImagesOutput, lastPage bool) bool {
		for _, detail := range page.ImageDetails {
			d, err := image.ParseDigest(aws.StringValue(detail.ImageDigest))
			if err != nil {
				continue
			}
			for _, tag := range aws.StringValueSlice(detail.ImageTags) {
				info := image.Info{
					ID:     repo.ToRef(tag),
					Digest: d,
					Size:   aws.Int64Value(detail.ImageSizeInBytes),
				}
				if detail.ImagePushedAt != nil {
					info.CreatedAt = *detail.ImagePushedAt
				}
				infos = append(infos, info)
			}
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing images in %s", repo)
	}
	return infos, nil
}
