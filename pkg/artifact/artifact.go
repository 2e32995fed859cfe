// Package artifact publishes uniquely versioned container images and
// carries their identity through the rest of the pipeline. An artifact
// starts life as a repository and tag; resolution later pins it to a
// content digest, after which nothing downstream refers to the tag
// again.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/moorcd/moor/pkg/image"
)

// FingerprintLength is the number of characters of the source
// fingerprint embedded in a tag, matching git's short revision form.
const FingerprintLength = 7

// Artifact identifies one published image. Digest is empty until the
// artifact has been resolved; once set it is immutable and
// content-addressed.
type Artifact struct {
	Repository image.Name   `json:"repository"`
	Tag        string       `json:"tag"`
	Digest     image.Digest `json:"digest,omitempty"`
	BuildID    string       `json:"buildID"`
}

// Ref returns the tagged (mutable) reference the artifact was
// published under.
func (a Artifact) Ref() image.Ref {
	return a.Repository.ToRef(a.Tag)
}

// Resolved reports whether the artifact has been pinned to a digest.
func (a Artifact) Resolved() bool {
	return a.Digest != ""
}

// WithDigest returns a copy of the artifact pinned to the given
// digest.
func (a Artifact) WithDigest(d image.Digest) Artifact {
	a.Digest = d
	return a
}

// Pinned returns the digest-pinned reference, retaining the tag for
// display. Only meaningful once the artifact is resolved.
func (a Artifact) Pinned() image.PinnedRef {
	return image.PinnedRef{Ref: a.Ref(), Digest: a.Digest}
}

func (a Artifact) String() string {
	if a.Resolved() {
		return a.Pinned().String()
	}
	return a.Ref().String()
}

// MakeTag derives the tag an artifact is published under:
// "v{buildID}-{fingerprint}", e.g. v42-0aa41c4. Build IDs come from a
// monotonic counter, so tags never repeat and are never overwritten.
func MakeTag(buildID, sourceRef string) string {
	return "v" + buildID + "-" + Fingerprint(sourceRef)
}

// Fingerprint shortens a source revision to the form embedded in
// tags. A hexadecimal revision (a git SHA) is truncated like git's
// short form; anything else is hashed first so arbitrary refs still
// fingerprint deterministically.
func Fingerprint(sourceRef string) string {
	s := strings.ToLower(sourceRef)
	if len(s) >= FingerprintLength && isHex(s) {
		return s[:FingerprintLength]
	}
	sum := sha256.Sum256([]byte(sourceRef))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Builder assembles an image and uploads it to its repository. Image
// assembly itself is not this package's business; the shipped
// implementation shells out to the docker CLI.
type Builder interface {
	Build(ctx context.Context, ref image.Ref) error
	Push(ctx context.Context, ref image.Ref) error
}

// Publisher publishes artifacts to a single repository.
type Publisher struct {
	repository image.Name
	builder    Builder
	logger     log.Logger
}

func NewPublisher(repository image.Name, builder Builder, logger log.Logger) *Publisher {
	return &Publisher{
		repository: repository,
		builder:    builder,
		logger:     logger,
	}
}

// Repository is the repository artifacts are published to.
func (p *Publisher) Repository() image.Name {
	return p.repository
}

// Publish builds and uploads an image under a fresh tag derived from
// the build ID and source revision, and returns the (unresolved)
// artifact. Build and upload failures are fatal here; if they are
// retried at all, it is by re-running the whole pipeline.
func (p *Publisher) Publish(ctx context.Context, sourceRef, buildID string) (Artifact, error) {
	tag := MakeTag(buildID, sourceRef)
	ref := p.repository.ToRef(tag)
	if err := p.builder.Build(ctx, ref); err != nil {
		return Artifact{}, errors.Wrapf(err, "building %s", ref)
	}
	if err := p.builder.Push(ctx, ref); err != nil {
		return Artifact{}, errors.Wrapf(err, "pushing %s", ref)
	}
	p.logger.Log("info", "published artifact", "ref", ref.String(), "build", buildID)
	return Artifact{Repository: p.repository, Tag: tag, BuildID: buildID}, nil
}
