package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moorcd/moor/pkg/release"
)

type deployOpts struct {
	*rootOpts
	environment string
	sourceRef   string
	buildID     string
}

func newDeploy(parent *rootOpts) *deployOpts {
	return &deployOpts{rootOpts: parent}
}

func (opts *deployOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Publish an image and roll it out to an environment",
		Example: makeExample(
			"moorctl deploy -e staging --source-ref 0aa41c4af9e44bb1 --build-id 42",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.environment, "environment", "e", "", "environment to deploy to")
	cmd.Flags().StringVar(&opts.sourceRef, "source-ref", "", "source control revision the artifact is built from")
	cmd.Flags().StringVar(&opts.buildID, "build-id", "", "identifier of the build producing the artifact, e.g. a CI run number")
	return cmd
}

func (opts *deployOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if opts.environment == "" {
		return newUsageError("please supply an environment with -e")
	}
	if opts.sourceRef == "" {
		return newUsageError("please supply the source revision with --source-ref")
	}
	if opts.buildID == "" {
		return newUsageError("please supply the build identifier with --build-id")
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	env, envCfg, err := cfg.Environment(opts.environment)
	if err != nil {
		return err
	}

	sess := opts.awsSession(cfg)
	backend := opts.backend(cfg, sess)
	pipeline, err := opts.pipeline(cfg, envCfg, backend, sess)
	if err != nil {
		return err
	}

	// Cancel on SIGINT/SIGTERM so the environment lock is released
	// before the process dies.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		sig := <-sigc
		opts.logger.Log("warning", "interrupted", "signal", sig.String())
		cancel()
	}()

	rec, err := pipeline.Release(ctx, release.Spec{
		Environment: env,
		Service:     envCfg.ServiceID(),
		Family:      envCfg.TaskFamily(),
		SourceRef:   opts.sourceRef,
		BuildID:     opts.buildID,
	})
	if rec != nil {
		w := newTabwriter()
		fmt.Fprintln(w, "ENVIRONMENT\tSERVICE\tSTATUS\tARTIFACT\tREVISION")
		fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\n",
			rec.Environment, rec.Cluster, rec.Service, rec.Status, rec.Artifact, rec.ObservedRevision)
		w.Flush()
	}
	return err
}
