// Package environment names deployment targets. An environment is the
// unit of isolation for rollouts: state records, locks and events are
// all partitioned by it, and every operation that touches shared state
// takes one explicitly rather than reading it from ambient
// configuration.
package environment

import (
	"regexp"

	"github.com/pkg/errors"
)

var ErrInvalidEnvironment = errors.New("invalid environment name")

// Environment is the name of a deployment target, e.g., "staging" or
// "production". Names are restricted to lowercase alphanumerics and
// inner hyphens, since they are embedded in state partition keys and
// lock IDs.
type Environment string

var nameRegexp = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Parse validates a string as an environment name.
func Parse(s string) (Environment, error) {
	if s == "" {
		return "", errors.Wrap(ErrInvalidEnvironment, "blank name")
	}
	if !nameRegexp.MatchString(s) {
		return "", errors.Wrapf(ErrInvalidEnvironment, "parsing %q", s)
	}
	return Environment(s), nil
}

func (e Environment) String() string {
	return string(e)
}

// PartitionKey keys the environment's slice of the state backend: the
// prefix of its objects and the ID of its lock row.
func (e Environment) PartitionKey() string {
	return "env:" + string(e)
}
