package mock

import (
	"context"

	"github.com/moorcd/moor/pkg/image"
	"github.com/moorcd/moor/pkg/registry"
)

// Resolver is a mock resolver whose behaviour is programmed with a
// function field.
type Resolver struct {
	ResolveDigestFn func(ref image.Ref) (image.Digest, error)
}

var _ registry.Resolver = &Resolver{}

func (m *Resolver) ResolveDigest(ctx context.Context, ref image.Ref) (image.Digest, error) {
	return m.ResolveDigestFn(ref)
}

// Registry is a mock resolver and lister serving fixed data.
type Registry struct {
	// Digests maps stringified refs to the digest to report.
	Digests map[string]image.Digest
	Images  []image.Info
	Err     error
}

var _ registry.Resolver = &Registry{}
var _ registry.Lister = &Registry{}

func (m *Registry) ResolveDigest(ctx context.Context, ref image.Ref) (image.Digest, error) {
	if m.Err != nil {
		return "", m.Err
	}
	d, ok := m.Digests[ref.String()]
	if !ok {
		return "", registry.ErrDigestNotFound
	}
	return d, nil
}

func (m *Registry) ListImages(ctx context.Context, repo image.Name) ([]image.Info, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var infos []image.Info
	for _, info := range m.Images {
		if info.ID.Name == repo {
			infos = append(infos, info)
		}
	}
	return infos, nil
}
