// Package definition models workload definitions: the templates from
// which an orchestration service runs containers. A stored definition
// is an immutable, numbered revision of its family; deploying means
// deriving a new draft from the current revision, pinning its images
// to a content digest, and registering it as the next revision.
//
// Definition (the stored shape) and Draft (the registrable shape) are
// distinct types on purpose. Registration-output fields like the
// revision number and identifier live only on Definition, so a draft
// cannot carry server-assigned state back to the store; the Draft
// embedded in every Definition is exactly the part that survives
// re-registration.
package definition

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/moorcd/moor/pkg/image"
)

// KeyValue is a container environment variable.
type KeyValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PortMapping exposes a container port.
type PortMapping struct {
	ContainerPort int64  `json:"containerPort"`
	HostPort      int64  `json:"hostPort,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
}

// LogConfiguration names the log driver and its options.
type LogConfiguration struct {
	Driver  string            `json:"driver"`
	Options map[string]string `json:"options,omitempty"`
}

// Container is one container entry in a definition.
type Container struct {
	Name              string            `json:"name"`
	Image             string            `json:"image"`
	Command           []string          `json:"command,omitempty"`
	EntryPoint        []string          `json:"entryPoint,omitempty"`
	CPU               int64             `json:"cpu,omitempty"`
	Memory            int64             `json:"memory,omitempty"`
	MemoryReservation int64             `json:"memoryReservation,omitempty"`
	Essential         *bool             `json:"essential,omitempty"`
	Environment       []KeyValue        `json:"environment,omitempty"`
	PortMappings      []PortMapping     `json:"portMappings,omitempty"`
	LogConfiguration  *LogConfiguration `json:"logConfiguration,omitempty"`
}

// Draft is a definition in registrable shape. Its fields are an
// allow-list: anything not here does not survive re-registration, and
// the server-assigned fields cannot be expressed at all.
type Draft struct {
	Family                  string      `json:"family"`
	NetworkMode             string      `json:"networkMode,omitempty"`
	CPU                     string      `json:"cpu,omitempty"`
	Memory                  string      `json:"memory,omitempty"`
	TaskRole                string      `json:"taskRole,omitempty"`
	ExecutionRole           string      `json:"executionRole,omitempty"`
	RequiresCompatibilities []string    `json:"requiresCompatibilities,omitempty"`
	Containers              []Container `json:"containers"`
}

// Definition is a stored revision: the registrable draft plus what the
// store assigned when it was registered.
type Definition struct {
	Draft
	// ID is the store-assigned identifier (the ARN, for ECS).
	ID                 string    `json:"id"`
	Revision           int64     `json:"revision"`
	Status             string    `json:"status,omitempty"`
	RegisteredAt       time.Time `json:"registeredAt,omitempty"`
	RegisteredBy       string    `json:"registeredBy,omitempty"`
	RequiresAttributes []string  `json:"requiresAttributes,omitempty"`
	Compatibilities    []string  `json:"compatibilities,omitempty"`
}

// String gives the revision in its usual family:revision form.
func (d Definition) String() string {
	return fmt.Sprintf("%s:%d", d.Family, d.Revision)
}

// Store persists definitions as immutable, numbered revisions.
type Store interface {
	// Current returns the latest active definition of the family, or
	// *NotFoundError if the family has never been registered.
	Current(ctx context.Context, family string) (Definition, error)
	// Register persists the draft as the next revision of its family.
	// A draft the store cannot accept is a *RegistrationError.
	Register(ctx context.Context, draft Draft) (Definition, error)
}

// NotFoundError means the family has no registered definition.
// Families are seeded out of band; this is not recoverable by the
// caller.
type NotFoundError struct {
	Family string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no definition registered for family %q", e.Family)
}

// RegistrationError means the store rejected a draft.
type RegistrationError struct {
	Family string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registering definition for family %q: %s", e.Family, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// MutationError means a definition could not be pinned.
type MutationError struct {
	Family    string
	Container string
	Err       error
}

func (e *MutationError) Error() string {
	if e.Container == "" {
		return fmt.Sprintf("pinning definition for family %q: %s", e.Family, e.Err)
	}
	return fmt.Sprintf("pinning definition for family %q, container %q: %s", e.Family, e.Container, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// Mutate derives a registrable draft from a stored definition, with
// every container that references the artifact's repository pinned to
// the resolved digest. Containers referencing other repositories
// (sidecars with a fixed image) must already be digest-pinned: a draft
// never carries a mutable tag, in any container. The stored definition
// is not modified.
func Mutate(def Definition, pinned image.PinnedRef) (Draft, error) {
	if len(def.Containers) == 0 {
		return Draft{}, &MutationError{Family: def.Family, Err: errors.New("definition has no containers")}
	}
	target := pinned.Name.WithDigest(pinned.Digest)
	draft := def.Draft
	draft.Containers = make([]Container, len(def.Containers))
	for i, c := range def.Containers {
		if already, err := image.ParsePinnedRef(c.Image); err == nil {
			if already.Name.CanonicalName() == pinned.Name.CanonicalName() {
				c.Image = target.String()
			}
			// pinned to another repository: leave as is
			draft.Containers[i] = c
			continue
		}
		ref, err := image.ParseRef(c.Image)
		if err != nil {
			return Draft{}, &MutationError{Family: def.Family, Container: c.Name, Err: err}
		}
		if ref.Name.CanonicalName() != pinned.Name.CanonicalName() {
			return Draft{}, &MutationError{
				Family:    def.Family,
				Container: c.Name,
				Err:       errors.Errorf("image %s references another repository without a digest", c.Image),
			}
		}
		c.Image = target.String()
		draft.Containers[i] = c
	}
	return draft, nil
}

// Validate says whether the draft can be registered: it has a family,
// at least one container, and every image is digest-pinned.
func (d Draft) Validate() error {
	if d.Family == "" {
		return errors.New("draft has no family")
	}
	if len(d.Containers) == 0 {
		return errors.New("draft has no containers")
	}
	for _, c := range d.Containers {
		if c.Name == "" {
			return errors.New("draft has an unnamed container")
		}
		if _, err := image.ParsePinnedRef(c.Image); err != nil {
			return errors.Wrapf(err, "container %q image %q is not digest-pinned", c.Name, c.Image)
		}
	}
	return nil
}
