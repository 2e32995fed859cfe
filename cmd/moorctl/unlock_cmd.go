package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/moorcd/moor/pkg/event"
	"github.com/moorcd/moor/pkg/state"
)

type unlockOpts struct {
	*rootOpts
	environment string
	force       bool
}

func newUnlock(parent *rootOpts) *unlockOpts {
	return &unlockOpts{rootOpts: parent}
}

func (opts *unlockOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Break an environment's lock after a deploy process has died",
		Example: makeExample(
			"moorctl unlock -e staging --force",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.environment, "environment", "e", "", "environment to unlock")
	cmd.Flags().BoolVar(&opts.force, "force", false, "actually break the lock; breaking a live deploy's lock corrupts its view of the environment")
	return cmd
}

func (opts *unlockOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if opts.environment == "" {
		return newUsageError("please supply an environment with -e")
	}
	if !opts.force {
		return newUsageError("unlock only proceeds with --force; make sure the holding process is gone first")
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	env, _, err := cfg.Environment(opts.environment)
	if err != nil {
		return err
	}

	ctx := context.Background()
	part := opts.backend(cfg, opts.awsSession(cfg)).Partition(env)
	holder, err := part.ForceUnlock(ctx)
	if errors.Cause(err) == state.ErrLockNotHeld {
		fmt.Fprintf(cmd.OutOrStdout(), "environment %s is not locked\n", env)
		return nil
	}
	if err != nil {
		return err
	}

	if err := part.AppendEvent(ctx, event.Event{
		Type:    event.EventLockForced,
		Message: holder.String(),
	}); err != nil {
		opts.logger.Log("error", "writing event", "err", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "broke lock on %s held by %s\n", env, holder.String())
	return nil
}
