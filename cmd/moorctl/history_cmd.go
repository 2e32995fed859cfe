package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type historyOpts struct {
	*rootOpts
	environment string
	limit       int
}

func newHistory(parent *rootOpts) *historyOpts {
	return &historyOpts{rootOpts: parent}
}

func (opts *historyOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the rollout history of an environment, most recent first",
		Example: makeExample(
			"moorctl history -e staging",
			"moorctl history -e production -n 50",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.environment, "environment", "e", "", "environment to inspect")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "number of events to show; 0 shows everything")
	return cmd
}

func (opts *historyOpts) RunE(cmd *cobra.Command, args []string) error {
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
	events, err := part.ListEvents(context.Background(), opts.limit)
	if err != nil {
		return err
	}

	w := newTabwriter()
	fmt.Fprintln(w, "TIME\tTYPE\tDESCRIPTION")
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Time.Format(time.RFC822), e.Type, e.String())
	}
	w.Flush()
	return nil
}
