package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/moorcd/moor/pkg/image"
)

const (
	newDigest = image.Digest("sha256:2539a6c0182d7ad46a17e0a08ef2eadbde8bbddcad512cbd9d682d36a51d3e07")
	oldDigest = image.Digest("sha256:aba3cb4a343ba768a355d0a5b776d1b1b02d26ad22e11ca1ba74ded366dbd2bc")
)

func mustPinned(t *testing.T, repo string, d image.Digest) image.PinnedRef {
	t.Helper()
	ref, err := image.ParseRef(repo)
	if err != nil {
		t.Fatal(err)
	}
	return ref.Name.WithDigest(d)
}

func appDefinition() Definition {
	return Definition{
		Draft: Draft{
			Family:      "helloworld",
			NetworkMode: "awsvpc",
			Containers: []Container{
				{Name: "app", Image: "registry.example.com/moorcd/helloworld:v41-0aa41c4"},
				{Name: "worker", Image: "registry.example.com/moorcd/helloworld@" + oldDigest.String()},
				{Name: "envoy", Image: "registry.example.com/infra/envoy@" + oldDigest.String()},
			},
		},
		ID:           "arn:aws:ecs:eu-west-1:123456789012:task-definition/helloworld:7",
		Revision:     7,
		Status:       "ACTIVE",
		RegisteredBy: "arn:aws:iam::123456789012:user/ci",
	}
}

func TestMutatePinsEveryContainer(t *testing.T) {
	def := appDefinition()
	pinned := mustPinned(t, "registry.example.com/moorcd/helloworld", newDigest)

	draft, err := Mutate(def, pinned)
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "registry.example.com/moorcd/helloworld@"+newDigest.String(), draft.Containers[0].Image)
	assert.Equal(t, "registry.example.com/moorcd/helloworld@"+newDigest.String(), draft.Containers[1].Image, "an old pin to the same repository is repinned")
	assert.Equal(t, "registry.example.com/infra/envoy@"+oldDigest.String(), draft.Containers[2].Image, "a pinned sidecar is left alone")

	for _, c := range draft.Containers {
		p, err := image.ParsePinnedRef(c.Image)
		if err != nil {
			t.Errorf("container %q image %q is not digest-pinned", c.Name, c.Image)
			continue
		}
		if p.Tag != "" {
			t.Errorf("container %q still carries a tag: %s", c.Name, c.Image)
		}
	}

	assert.Equal(t, "helloworld", draft.Family)
	assert.Equal(t, "awsvpc", draft.NetworkMode)
}

func TestMutateLeavesTheStoredDefinitionAlone(t *testing.T) {
	def := appDefinition()
	pinned := mustPinned(t, "registry.example.com/moorcd/helloworld", newDigest)

	if _, err := Mutate(def, pinned); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "registry.example.com/moorcd/helloworld:v41-0aa41c4", def.Containers[0].Image)
}

func TestMutateRejectsUnpinnedSidecar(t *testing.T) {
	def := appDefinition()
	def.Containers[2].Image = "registry.example.com/infra/envoy:latest"
	pinned := mustPinned(t, "registry.example.com/moorcd/helloworld", newDigest)

	_, err := Mutate(def, pinned)
	merr, ok := err.(*MutationError)
	if !ok {
		t.Fatalf("expected *MutationError, got %T: %v", err, err)
	}
	assert.Equal(t, "helloworld", merr.Family)
	assert.Equal(t, "envoy", merr.Container)
}

func TestMutateRejectsEmptyDefinition(t *testing.T) {
	def := Definition{Draft: Draft{Family: "helloworld"}}
	pinned := mustPinned(t, "registry.example.com/moorcd/helloworld", newDigest)

	_, err := Mutate(def, pinned)
	if _, ok := err.(*MutationError); !ok {
		t.Fatalf("expected *MutationError, got %T: %v", err, err)
	}
}

func TestMutateRejectsMalformedImage(t *testing.T) {
	def := appDefinition()
	def.Containers[0].Image = "registry.example.com/moorcd/helloworld:v41:extra"
	pinned := mustPinned(t, "registry.example.com/moorcd/helloworld", newDigest)

	_, err := Mutate(def, pinned)
	merr, ok := err.(*MutationError)
	if !ok {
		t.Fatalf("expected *MutationError, got %T: %v", err, err)
	}
	assert.Equal(t, "app", merr.Container)
}

func TestValidate(t *testing.T) {
	draft := Draft{
		Family: "helloworld",
		Containers: []Container{
			{Name: "app", Image: "registry.example.com/moorcd/helloworld@" + newDigest.String()},
		},
	}
	if err := draft.Validate(); err != nil {
		t.Errorf("expected valid draft, got %v", err)
	}

	for _, breakIt := range []struct {
		name  string
		apply func(*Draft)
	}{
		{"no family", func(d *Draft) { d.Family = "" }},
		{"no containers", func(d *Draft) { d.Containers = nil }},
		{"unnamed container", func(d *Draft) { d.Containers[0].Name = "" }},
		{"tagged image", func(d *Draft) { d.Containers[0].Image = "registry.example.com/moorcd/helloworld:v42-abc1234" }},
		{"blank image", func(d *Draft) { d.Containers[0].Image = "" }},
	} {
		d := Draft{
			Family: "helloworld",
			Containers: []Container{
				{Name: "app", Image: "registry.example.com/moorcd/helloworld@" + newDigest.String()},
			},
		}
		breakIt.apply(&d)
		if err := d.Validate(); err == nil {
			t.Errorf("%s: expected validation error", breakIt.name)
		}
	}
}

func TestDefinitionString(t *testing.T) {
	def := appDefinition()
	assert.Equal(t, "helloworld:7", def.String())
}
