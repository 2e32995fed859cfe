// Package config is moorctl's configuration: where the state backend
// lives, which environments exist, and what each environment deploys.
// Values come from a YAML file, MOOR_* environment variables and
// bound command-line flags, in ascending precedence.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/moorcd/moor/pkg/cluster"
	"github.com/moorcd/moor/pkg/environment"
	"github.com/moorcd/moor/pkg/image"
)

// Config is the whole of moorctl's configuration.
type Config struct {
	// Region is the AWS region for the registry, the cluster and the
	// state backend.
	Region string `mapstructure:"region"`
	// StateBucket and LockTable locate the state backend.
	StateBucket string `mapstructure:"stateBucket"`
	LockTable   string `mapstructure:"lockTable"`

	// SlackHookURL, when set, turns on terminal-state notifications.
	SlackHookURL  string `mapstructure:"slackHookURL"`
	SlackUsername string `mapstructure:"slackUsername"`

	// PollInterval and StabilizeCeiling tune the rollout watch; zero
	// means the rollout package's defaults.
	PollInterval     time.Duration `mapstructure:"pollInterval"`
	StabilizeCeiling time.Duration `mapstructure:"stabilizeCeiling"`

	// Environments enumerates the valid deployment targets. A name
	// that is not a key here is rejected before any side effect.
	Environments map[string]EnvironmentConfig `mapstructure:"environments"`
}

// EnvironmentConfig is one deployment target's settings.
type EnvironmentConfig struct {
	// Cluster and Service name the service to drive.
	Cluster string `mapstructure:"cluster"`
	Service string `mapstructure:"service"`
	// Family is the definition family; empty means the service name.
	Family string `mapstructure:"family"`
	// Repository is the image repository artifacts are published to.
	Repository string `mapstructure:"repository"`
	// BuildDir is the docker build context; empty means the working
	// directory.
	BuildDir string `mapstructure:"buildDir"`
}

func (e EnvironmentConfig) ServiceID() cluster.ServiceID {
	return cluster.MakeServiceID(e.Cluster, e.Service)
}

func (e EnvironmentConfig) TaskFamily() string {
	if e.Family != "" {
		return e.Family
	}
	return e.Service
}

// Repo parses the configured image repository.
func (e EnvironmentConfig) Repo() (image.Name, error) {
	ref, err := image.ParseRef(e.Repository)
	if err != nil {
		return image.Name{}, err
	}
	return ref.Name, nil
}

// UnknownEnvironmentError means a name outside the enumerated set was
// asked for.
type UnknownEnvironmentError struct {
	Name  string
	Known []string
}

func (e *UnknownEnvironmentError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown environment %q (none configured)", e.Name)
	}
	return fmt.Sprintf("unknown environment %q (configured: %s)", e.Name, strings.Join(e.Known, ", "))
}

// EnvironmentNames lists the configured environments, sorted.
func (c *Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Environment resolves a name against the enumerated set.
func (c *Config) Environment(name string) (environment.Environment, EnvironmentConfig, error) {
	env, err := environment.Parse(name)
	if err != nil {
		return "", EnvironmentConfig{}, err
	}
	ec, ok := c.Environments[name]
	if !ok {
		return "", EnvironmentConfig{}, &UnknownEnvironmentError{Name: name, Known: c.EnvironmentNames()}
	}
	return env, ec, nil
}

// Validate checks the configuration is complete enough to deploy with.
func (c *Config) Validate() error {
	if c.StateBucket == "" {
		return errors.New("stateBucket must be set")
	}
	if c.LockTable == "" {
		return errors.New("lockTable must be set")
	}
	if len(c.Environments) == 0 {
		return errors.New("at least one environment must be configured")
	}
	for _, name := range c.EnvironmentNames() {
		ec := c.Environments[name]
		if _, err := environment.Parse(name); err != nil {
			return errors.Wrapf(err, "environment %q", name)
		}
		if ec.Cluster == "" || ec.Service == "" {
			return errors.Errorf("environment %q must name a cluster and a service", name)
		}
		if ec.Repository == "" {
			return errors.Errorf("environment %q must name an image repository", name)
		}
		ref, err := image.ParseRef(ec.Repository)
		if err != nil {
			return errors.Wrapf(err, "environment %q repository", name)
		}
		if ref.Tag != "" {
			return errors.Errorf("environment %q repository must not carry a tag", name)
		}
	}
	return nil
}
