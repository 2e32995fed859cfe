// Package registry answers one question: which manifest digest does a
// registry hold for a given tagged image? Tags are mutable, so
// everything downstream of a push works with the digest instead; the
// resolvers here are how a tag gets traded for one.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/moorcd/moor/pkg/image"
	"github.com/moorcd/moor/pkg/retry"
)

const (
	// Defaults for waiting on a pushed image to become visible.
	// Registries acknowledge a push before the manifest shows up in
	// their read paths, so a couple of polls are normal.
	DefaultResolveAttempts = 6
	DefaultResolveInterval = 2 * time.Second
)

// ErrDigestNotFound means the registry responded, and does not (yet)
// have a manifest for the reference. Resolvers return it so callers
// can tell "not arrived" apart from a failed request.
var ErrDigestNotFound = errors.New("image digest not found in registry")

// Resolver reports the manifest digest a registry holds for a tagged
// image. It is an interface so we can wrap it in instrumentation,
// write fake implementations, and so on.
type Resolver interface {
	ResolveDigest(ctx context.Context, ref image.Ref) (image.Digest, error)
}

// Lister enumerates the images a repository holds. Not every resolver
// can do this; it is separate so the ones that can't don't have to
// pretend.
type Lister interface {
	ListImages(ctx context.Context, repo image.Name) ([]image.Info, error)
}

// ArtifactNotFoundError is returned by AwaitDigest when the registry never
// reported a digest for the reference within the retry policy.
type ArtifactNotFoundError struct {
	Ref      image.Ref
	Attempts int
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("image %s not found in registry after %d attempts", e.Ref, e.Attempts)
}

// AwaitDigest polls the resolver until the registry reports a digest
// for the given reference, waiting between attempts according to the
// policy. A resolver error other than ErrDigestNotFound aborts the
// wait, since it signals a failing request rather than an image that
// hasn't arrived yet. When the policy is exhausted the caller gets a
// *ArtifactNotFoundError.
func AwaitDigest(ctx context.Context, clock clockwork.Clock, policy retry.Policy, resolver Resolver, ref image.Ref) (image.Digest, error) {
	var resolved image.Digest
	err := retry.Do(ctx, clock, policy, func(ctx context.Context) (bool, error) {
		d, err := resolver.ResolveDigest(ctx, ref)
		switch {
		case errors.Cause(err) == ErrDigestNotFound:
			return false, nil
		case err != nil:
			return false, err
		}
		resolved = d
		return true, nil
	})
	switch {
	case errors.Cause(err) == retry.ErrExhausted:
		attempts := policy.Attempts
		if attempts < 1 {
			attempts = 1
		}
		return "", &ArtifactNotFoundError{Ref: ref, Attempts: attempts}
	case err != nil:
		return "", errors.Wrapf(err, "resolving digest for %s", ref)
	}
	return resolved, nil
}
