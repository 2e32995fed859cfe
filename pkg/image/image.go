package image

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

const (
	dockerHubHost = "index.docker.io"

	oldDockerHubHost = "docker.io"
)

var (
	ErrInvalidImageRef   = errors.New("invalid image ref")
	ErrBlankImageRef     = errors.Wrap(ErrInvalidImageRef, "blank image name")
	ErrMalformedImageRef = errors.Wrap(ErrInvalidImageRef, `expected image name as either <image>:<tag> or just <image>`)
	ErrMalformedPinned   = errors.Wrap(ErrInvalidImageRef, `expected pinned image as <image>@<digest>`)

	ErrInvalidDigest = errors.New("invalid image digest")
)

// Name represents an unversioned (i.e., untagged) image a.k.a., an
// image repo. These sometimes include a domain, e.g., an ECR registry
// host, and always include a path with at least one element. By
// convention, images at DockerHub may have the domain omitted; and, if
// they only have a single path element, the prefix `library` is
// implied.
//
// Examples (stringified):
//   * alpine
//   * library/alpine
//   * 123456789012.dkr.ecr.eu-west-1.amazonaws.com/billing/api
//   * localhost:5000/arbitrary/path/to/repo
type Name struct {
	Domain, Image string
}

// CanonicalName is an image name with none of the fields left to be
// implied by convention.
type CanonicalName struct {
	Name
}

func (i Name) String() string {
	if i.Image == "" {
		return "" // Doesn't make sense to return anything if it doesn't even have an image
	}
	var host string
	if i.Domain != "" {
		host = i.Domain + "/"
	}
	return fmt.Sprintf("%s%s", host, i.Image)
}

// Repository returns the canonicalised path part of a Name.
func (i Name) Repository() string {
	switch i.Domain {
	case "", oldDockerHubHost, dockerHubHost:
		path := strings.Split(i.Image, "/")
		if len(path) == 1 {
			return "library/" + i.Image
		}
		return i.Image
	default:
		return i.Image
	}
}

// Registry returns the domain name of the image registry, to use when
// fetching the image or image metadata.
func (i Name) Registry() string {
	switch i.Domain {
	case "", oldDockerHubHost:
		return dockerHubHost
	default:
		return i.Domain
	}
}

// CanonicalName returns the canonicalised registry host and image
// parts of the name.
func (i Name) CanonicalName() CanonicalName {
	return CanonicalName{
		Name: Name{
			Domain: i.Registry(),
			Image:  i.Repository(),
		},
	}
}

func (i Name) ToRef(tag string) Ref {
	return Ref{
		Name: i,
		Tag:  tag,
	}
}

// WithDigest pins the name to a manifest digest.
func (i Name) WithDigest(d Digest) PinnedRef {
	return PinnedRef{
		Ref:    Ref{Name: i},
		Digest: d,
	}
}

// Name is serialized/deserialized as a string.
func (i Name) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// Name is serialized/deserialized as a string.
func (i *Name) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	ref, err := ParseRef(str)
	if err != nil {
		return err
	}
	if ref.Tag != "" {
		return errors.Wrapf(ErrMalformedImageRef, "parsing %q as an image name", str)
	}
	*i = ref.Name
	return nil
}

// Ref represents a versioned (i.e., tagged) image. The tag is allowed
// to be empty, though it is in general undefined what that means. As
// such, `Ref` also includes all `Name` values.
//
// Examples (stringified):
//  * alpine:3.5
//  * library/alpine:3.5
//  * 123456789012.dkr.ecr.eu-west-1.amazonaws.com/billing/api:v312-1bad9f2
type Ref struct {
	Name
	Tag string
}

// CanonicalRef is an image ref with none of the fields left to be
// implied by convention.
type CanonicalRef struct {
	Ref
}

// String returns the Ref as a string (i.e., unparsed) without
// canonicalising it.
func (i Ref) String() string {
	var tag string
	if i.Tag != "" {
		tag = ":" + i.Tag
	}
	return fmt.Sprintf("%s%s", i.Name.String(), tag)
}

// ParseRef parses a string representation of a tagged image into a
// Ref value. The grammar is shown here:
// https://github.com/docker/distribution/blob/master/reference/reference.go
// (but we do not care about all the productions.)
func ParseRef(s string) (Ref, error) {
	var id Ref
	if s == "" {
		return id, errors.Wrapf(ErrBlankImageRef, "parsing %q", s)
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return id, errors.Wrapf(ErrMalformedImageRef, "parsing %q", s)
	}

	elements := strings.Split(s, "/")
	switch len(elements) {
	case 0: // NB strings.Split will never return []
		return id, errors.Wrapf(ErrMalformedImageRef, "parsing %q", s)
	case 1: // no slashes, e.g., "alpine:1.5"; treat as library image
		id.Image = s
	case 2: // may have a domain e.g., "localhost/foo", or not e.g., "weaveworks/scope"
		if domainRegexp.MatchString(elements[0]) {
			id.Domain = elements[0]
			id.Image = elements[1]
		} else {
			id.Image = s
		}
	default: // cannot be a library image, so the first element is assumed to be a domain
		id.Domain = elements[0]
		id.Image = strings.Join(elements[1:], "/")
	}

	// Figure out if there's a tag
	imageParts := strings.Split(id.Image, ":")
	switch len(imageParts) {
	case 1:
		break
	case 2:
		if imageParts[0] == "" || imageParts[1] == "" {
			return id, errors.Wrapf(ErrMalformedImageRef, "parsing %q", s)
		}
		id.Image = imageParts[0]
		id.Tag = imageParts[1]
	default:
		return id, ErrMalformedImageRef
	}

	return id, nil
}

var (
	domainComponent = `([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9-]*[a-zA-Z0-9])`
	domain          = fmt.Sprintf(`localhost|(%s([.]%s)+)(:[0-9]+)?`, domainComponent, domainComponent)
	domainRegexp    = regexp.MustCompile(domain)
)

// Ref is serialized/deserialized as a string.
func (i Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// Ref is serialized/deserialized as a string.
func (i *Ref) UnmarshalJSON(data []byte) (err error) {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*i, err = ParseRef(str)
	return err
}

// CanonicalRef returns the canonicalised reference including the tag
// if present.
func (i Ref) CanonicalRef() CanonicalRef {
	name := i.CanonicalName()
	return CanonicalRef{
		Ref: Ref{
			Name: name.Name,
			Tag:  i.Tag,
		},
	}
}

// Digest is the SHA-256 content address of an image manifest, as
// reported by the registry it was pushed to. Two digests are equal
// exactly when the manifests they address are byte-identical.
type Digest string

func (d Digest) String() string {
	return string(d)
}

// Hex returns the digest without its algorithm prefix.
func (d Digest) Hex() string {
	return digest.Digest(d).Encoded()
}

// ParseDigest parses a string representation of a manifest digest,
// e.g.,
//
//	sha256:2539a6c0182d7ad46a17e0a08ef2eadbde8bbddcad512cbd9d682d36a51d3e07
//
// Only SHA-256 digests are accepted, since that is the only algorithm
// registries report in practice.
func ParseDigest(s string) (Digest, error) {
	d, err := digest.Parse(s)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidDigest, "parsing %q", s)
	}
	if d.Algorithm() != digest.SHA256 {
		return "", errors.Wrapf(ErrInvalidDigest, "parsing %q: unsupported algorithm %q", s, d.Algorithm())
	}
	return Digest(d), nil
}

// PinnedRef is an image reference pinned to an immutable manifest
// digest. The tag, when present, is decorative: registries resolve a
// pinned reference by its digest alone.
//
// Examples (stringified):
//  * alpine@sha256:2539a6c0182d7ad46a17e0a08ef2eadbde8bbddcad512cbd9d682d36a51d3e07
//  * 123456789012.dkr.ecr.eu-west-1.amazonaws.com/billing/api@sha256:2539a6...
type PinnedRef struct {
	Ref
	Digest Digest
}

// String returns the PinnedRef as a string (i.e., unparsed) without
// canonicalising it.
func (i PinnedRef) String() string {
	if i.Name.Image == "" || i.Digest == "" {
		return ""
	}
	return fmt.Sprintf("%s@%s", i.Ref.String(), i.Digest)
}

// ParsePinnedRef parses a string representation of a digest-pinned
// image into a PinnedRef value. A tag between the name and the digest
// is accepted and retained, since other tooling writes that form.
func ParsePinnedRef(s string) (PinnedRef, error) {
	var id PinnedRef
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return id, errors.Wrapf(ErrMalformedPinned, "parsing %q", s)
	}
	ref, err := ParseRef(parts[0])
	if err != nil {
		return id, err
	}
	d, err := ParseDigest(parts[1])
	if err != nil {
		return id, err
	}
	id.Ref = ref
	id.Digest = d
	return id, nil
}

// Unpinned returns the reference with its digest stripped.
func (i PinnedRef) Unpinned() Ref {
	return i.Ref
}

// PinnedRef is serialized/deserialized as a string.
func (i PinnedRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// PinnedRef is serialized/deserialized as a string.
func (i *PinnedRef) UnmarshalJSON(data []byte) (err error) {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*i, err = ParsePinnedRef(str)
	return err
}

// Info is the metadata we are able to determine about an image, from
// the registry it was pushed to.
type Info struct {
	// the reference to this image; probably a tagged image name
	ID Ref `json:",omitempty"`
	// the digest we got when fetching the metadata, which will be
	// different each time a manifest is uploaded for the reference
	Digest Digest `json:",omitempty"`
	// the size in bytes of the image, when the registry reports it
	Size int64 `json:",omitempty"`
	// the time at which the image was pushed
	CreatedAt time.Time `json:",omitempty"`
}

// NewerByCreated returns true if lhs image should be sorted
// before rhs with regard to their push date descending.
func NewerByCreated(lhs, rhs *Info) bool {
	if lhs.CreatedAt.Equal(rhs.CreatedAt) {
		return lhs.ID.String() < rhs.ID.String()
	}
	return lhs.CreatedAt.After(rhs.CreatedAt)
}

// NewerBySemver returns true if lhs image should be sorted
// before rhs with regard to their semver order descending.
func NewerBySemver(lhs, rhs *Info) bool {
	lv, lerr := semver.NewVersion(lhs.ID.Tag)
	rv, rerr := semver.NewVersion(rhs.ID.Tag)
	if (lerr != nil && rerr != nil) || (lv == rv) {
		return lhs.ID.String() < rhs.ID.String()
	}
	if lerr != nil {
		return false
	}
	if rerr != nil {
		return true
	}
	cmp := lv.Compare(rv)
	// In semver, `1.10` and `1.10.0` is the same but in favor of explicitness
	// we should consider the latter newer.
	if cmp == 0 {
		return lhs.ID.String() > rhs.ID.String()
	}
	return cmp > 0
}

// Sort orders the given image infos according to `newer` func.
func Sort(infos []Info, newer func(a, b *Info) bool) {
	if newer == nil {
		newer = NewerByCreated
	}
	sort.Sort(&infoSort{infos: infos, newer: newer})
}

type infoSort struct {
	infos []Info
	newer func(a, b *Info) bool
}

func (s *infoSort) Len() int {
	return len(s.infos)
}

func (s *infoSort) Swap(i, j int) {
	s.infos[i], s.infos[j] = s.infos[j], s.infos[i]
}

func (s *infoSort) Less(i, j int) bool {
	return s.newer(&s.infos[i], &s.infos[j])
}
