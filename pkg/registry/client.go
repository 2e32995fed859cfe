package registry

import (
	"context"
	"net/http"

	"github.com/docker/distribution"
	// Registers the schema2 manifest decoder with the distribution
	// package; manifests.Get cannot return without a decoder for the
	// manifest media type the registry serves.
	_ "github.com/docker/distribution/manifest/schema2"
	"github.com/docker/distribution/registry/api/errcode"
	v2 "github.com/docker/distribution/registry/api/v2"
	"github.com/docker/distribution/registry/client"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/moorcd/moor/pkg/image"
)

// Remote is a registry resolver for a particular image repository
// (e.g., for quay.io/moorcd/moor), speaking the docker registry HTTP
// API.
type Remote struct {
	transport http.RoundTripper
	repo      image.CanonicalName
	base      string
}

var _ Resolver = &Remote{}

// Adapt to docker distribution `reference.Named`.
type named struct {
	image.CanonicalName
}

// Name returns the name of the repository. These values are used by
// the docker distribution client package to build API URLs, and (it
// turns out) are _not_ expected to include a domain (e.g.,
// quay.io). Hence, the implementation here just returns the path.
func (n named) Name() string {
	return n.Image
}

// ResolveDigest asks the registry for the manifest under the given
// tag, and keeps only the digest the registry reports for it. The
// manifest body is never interpreted, so schema differences between
// registries don't matter here.
func (a *Remote) ResolveDigest(ctx context.Context, ref image.Ref) (image.Digest, error) {
	if ref.Tag == "" {
		return "", errors.New("cannot resolve digest for a reference without a tag")
	}
	repository, err := client.NewRepository(named{a.repo}, a.base, a.transport)
	if err != nil {
		return "", err
	}
	manifests, err := repository.Manifests(ctx)
	if err != nil {
		return "", err
	}
	var manifestDigest digest.Digest
	manifest, err := manifests.Get(ctx, "", client.ReturnContentDigest(&manifestDigest), distribution.WithTag(ref.Tag))
	if err != nil {
		if isManifestUnknown(err) {
			return "", ErrDigestNotFound
		}
		return "", err
	}
	if manifestDigest == "" {
		// The registry didn't send a Docker-Content-Digest header;
		// the digest is defined as the hash of the manifest bytes,
		// so compute it.
		_, payload, err := manifest.Payload()
		if err != nil {
			return "", err
		}
		manifestDigest = digest.FromBytes(payload)
	}
	return image.ParseDigest(manifestDigest.String())
}

func isManifestUnknown(err error) bool {
	switch e := err.(type) {
	case errcode.Errors:
		for _, inner := range e {
			if isManifestUnknown(inner) {
				return true
			}
		}
	case errcode.Error:
		switch e.Code {
		case v2.ErrorCodeManifestUnknown, v2.ErrorCodeNameUnknown:
			return true
		}
	case *client.UnexpectedHTTPResponseError:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}
