package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type statusOpts struct {
	*rootOpts
	environment string
}

func newStatus(parent *rootOpts) *statusOpts {
	return &statusOpts{rootOpts: parent}
}

func (opts *statusOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the deployment records of an environment",
		Example: makeExample(
			"moorctl status -e staging",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.environment, "environment", "e", "", "environment to inspect")
	return cmd
}

func (opts *statusOpts) RunE(cmd *cobra.Command, args []string) error {
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
	env, _, err := cfg.Environment(opts.environment)
	if err != nil {
		return err
	}

	part := opts.backend(cfg, opts.awsSession(cfg)).Partition(env)
	recs, err := part.ListDeployments(context.Background())
	if err != nil {
		return err
	}

	w := newTabwriter()
	fmt.Fprintln(w, "SERVICE\tSTATUS\tARTIFACT\tREVISION\tUPDATED")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s/%s\t%s\t%s\t%s\t%s\n",
			rec.Cluster, rec.Service, rec.Status, rec.Artifact, rec.ObservedRevision,
			rec.UpdatedAt.Format(time.RFC822))
	}
	w.Flush()
	return nil
}
