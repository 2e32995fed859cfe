package artifact

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"

	"github.com/moorcd/moor/pkg/image"
)

const testDigest = image.Digest("sha256:2539a6c0182d7ad46a17e0a08ef2eadbde8bbddcad512cbd9d682d36a51d3e07")

func mustName(t *testing.T, s string) image.Name {
	t.Helper()
	ref, err := image.ParseRef(s)
	if err != nil {
		t.Fatal(err)
	}
	return ref.Name
}

func TestMakeTag(t *testing.T) {
	tag := MakeTag("42", "0aa41c4af9e44bb1da01d6d0ae90b7ff12a45be7")
	assert.Equal(t, "v42-0aa41c4", tag)

	// Git SHAs arrive lowercase, but a shouty one still fingerprints
	// the same.
	assert.Equal(t, tag, MakeTag("42", "0AA41C4AF9E44BB1DA01D6D0AE90B7FF12A45BE7"))
}

func TestFingerprint(t *testing.T) {
	for _, ref := range []string{"feature/login", "abc", "", "0aa41c4af9e44bb1da01d6d0ae90b7ff12a45be7"} {
		fp := Fingerprint(ref)
		assert.Len(t, fp, FingerprintLength, "fingerprint of %q", ref)
		assert.True(t, isHex(fp), "fingerprint of %q is %q, not hex", ref, fp)
		assert.Equal(t, fp, Fingerprint(ref), "fingerprint of %q must be deterministic", ref)
	}
	assert.NotEqual(t, Fingerprint("feature/login"), Fingerprint("feature/logout"))
}

func TestPublish(t *testing.T) {
	var calls []string
	builder := &MockBuilder{
		BuildFunc: func(_ context.Context, ref image.Ref) error {
			calls = append(calls, "build "+ref.String())
			return nil
		},
		PushFunc: func(_ context.Context, ref image.Ref) error {
			calls = append(calls, "push "+ref.String())
			return nil
		},
	}
	repo := mustName(t, "registry.example.com/moorcd/helloworld")
	p := NewPublisher(repo, builder, log.NewNopLogger())

	a, err := p.Publish(context.Background(), "0aa41c4af9e44bb1da01d6d0ae90b7ff12a45be7", "42")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, repo, a.Repository)
	assert.Equal(t, "v42-0aa41c4", a.Tag)
	assert.Equal(t, "42", a.BuildID)
	assert.False(t, a.Resolved())
	assert.Equal(t, []string{
		"build registry.example.com/moorcd/helloworld:v42-0aa41c4",
		"push registry.example.com/moorcd/helloworld:v42-0aa41c4",
	}, calls)
}

func TestPublishBuildFailure(t *testing.T) {
	pushed := false
	builder := &MockBuilder{
		BuildFunc: func(context.Context, image.Ref) error {
			return assert.AnError
		},
		PushFunc: func(context.Context, image.Ref) error {
			pushed = true
			return nil
		},
	}
	p := NewPublisher(mustName(t, "registry.example.com/moorcd/helloworld"), builder, log.NewNopLogger())

	_, err := p.Publish(context.Background(), "0aa41c4", "42")
	if err == nil {
		t.Fatal("expected an error")
	}
	assert.Contains(t, err.Error(), "building")
	assert.False(t, pushed, "a failed build must not be pushed")
}

func TestPublishPushFailure(t *testing.T) {
	builder := &MockBuilder{
		BuildFunc: func(context.Context, image.Ref) error { return nil },
		PushFunc: func(context.Context, image.Ref) error {
			return assert.AnError
		},
	}
	p := NewPublisher(mustName(t, "registry.example.com/moorcd/helloworld"), builder, log.NewNopLogger())

	_, err := p.Publish(context.Background(), "0aa41c4", "42")
	if err == nil {
		t.Fatal("expected an error")
	}
	assert.Contains(t, err.Error(), "pushing")
}

func TestArtifactPinning(t *testing.T) {
	a := Artifact{
		Repository: mustName(t, "registry.example.com/moorcd/helloworld"),
		Tag:        "v42-0aa41c4",
		BuildID:    "42",
	}
	assert.Equal(t, "registry.example.com/moorcd/helloworld:v42-0aa41c4", a.String())

	pinned := a.WithDigest(testDigest)
	assert.True(t, pinned.Resolved())
	assert.False(t, a.Resolved(), "WithDigest must not mutate the receiver")
	assert.Equal(t,
		"registry.example.com/moorcd/helloworld:v42-0aa41c4@"+testDigest.String(),
		pinned.Pinned().String())
}

func TestLastLine(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("Step 1/4 : FROM alpine\n\ndenied: requested access to the resource is denied\n\n")
	assert.Equal(t, "denied: requested access to the resource is denied", lastLine(&buf))

	buf.Reset()
	assert.Equal(t, "", lastLine(&buf))
}
