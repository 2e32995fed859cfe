package artifact

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/moorcd/moor/pkg/image"
)

// DockerBuilder builds and pushes images by shelling out to the
// docker CLI, which is assumed to be installed and logged in to the
// target registry.
type DockerBuilder struct {
	// Dir is the build context. Empty means the process working
	// directory.
	Dir string
	// Dockerfile overrides the default Dockerfile within Dir.
	Dockerfile string
}

var _ Builder = &DockerBuilder{}

func (b *DockerBuilder) Build(ctx context.Context, ref image.Ref) error {
	args := []string{"build", "-t", ref.String()}
	if b.Dockerfile != "" {
		args = append(args, "-f", b.Dockerfile)
	}
	args = append(args, ".")
	return b.exec(ctx, args)
}

func (b *DockerBuilder) Push(ctx context.Context, ref image.Ref) error {
	return b.exec(ctx, []string{"push", ref.String()})
}

func (b *DockerBuilder) exec(ctx context.Context, args []string) error {
	c := exec.CommandContext(ctx, "docker", args...)
	if b.Dir != "" {
		c.Dir = b.Dir
	}
	c.Stdout = io.Discard
	errOut := &bytes.Buffer{}
	c.Stderr = errOut

	err := c.Run()
	if err != nil {
		// The exit status says nothing; the last stderr line is
		// where the docker CLI puts its complaint.
		if msg := lastLine(errOut); msg != "" {
			err = errors.New(msg)
		}
	}
	if ctx.Err() == context.DeadlineExceeded || ctx.Err() == context.Canceled {
		err = ctx.Err()
	}
	return errors.Wrapf(err, "running docker %s", args[0])
}

func lastLine(out *bytes.Buffer) string {
	var last string
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	return last
}
