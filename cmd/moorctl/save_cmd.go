package main

import (
	"context"
	"os"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type saveOpts struct {
	*rootOpts
	environment string
	path        string
}

func newSave(parent *rootOpts) *saveOpts {
	return &saveOpts{rootOpts: parent}
}

func (opts *saveOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Export an environment's current workload definition as YAML",
		Example: makeExample(
			"moorctl save -e staging",
			"moorctl save -e production -o helloworld.yaml",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.environment, "environment", "e", "", "environment whose definition to export")
	cmd.Flags().StringVarP(&opts.path, "out", "o", "-", `file to write to; "-" means stdout`)
	return cmd
}

func (opts *saveOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if opts.environment == "" {
		return newUsageError("please supply an environment with -e")
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	_, envCfg, err := cfg.Environment(opts.environment)
	if err != nil {
		return err
	}

	def, err := opts.ecsCluster(opts.awsSession(cfg)).Current(context.Background(), envCfg.TaskFamily())
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return errors.Wrap(err, "encoding definition")
	}

	out := os.Stdout
	if opts.path != "-" {
		f, err := os.Create(opts.path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err = out.Write(data)
	return err
}
