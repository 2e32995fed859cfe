package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/moorcd/moor/pkg/image"
	"github.com/moorcd/moor/pkg/state"
)

type imagesOpts struct {
	*rootOpts
	environment string
	limit       int
}

func newImages(parent *rootOpts) *imagesOpts {
	return &imagesOpts{rootOpts: parent}
}

func (opts *imagesOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "List the images available for an environment's repository",
		Example: makeExample(
			"moorctl images -e staging",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.environment, "environment", "e", "", "environment whose repository to list")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "number of images to show; 0 shows everything")
	return cmd
}

func (opts *imagesOpts) RunE(cmd *cobra.Command, args []string) error {
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
	env, envCfg, err := cfg.Environment(opts.environment)
	if err != nil {
		return err
	}
	repo, err := envCfg.Repo()
	if err != nil {
		return err
	}

	sess := opts.awsSession(cfg)
	lister, err := opts.lister(sess, repo)
	if err != nil {
		return err
	}

	ctx := context.Background()
	infos, err := lister.ListImages(ctx, repo)
	if err != nil {
		return err
	}
	image.Sort(infos, image.NewerBySemver)
	if opts.limit > 0 && len(infos) > opts.limit {
		infos = infos[:opts.limit]
	}

	// The deployed image gets a marker, when there is a record to
	// compare against.
	var deployed image.Digest
	part := opts.backend(cfg, sess).Partition(env)
	if rec, err := part.GetDeployment(ctx, envCfg.Cluster, envCfg.Service); err == nil {
		if pinned, perr := image.ParsePinnedRef(rec.Artifact); perr == nil {
			deployed = pinned.Digest
		}
	} else if errors.Cause(err) != state.ErrNoRecord {
		return err
	}

	w := newTabwriter()
	fmt.Fprintln(w, " \tIMAGE\tDIGEST\tCREATED")
	for _, info := range infos {
		marker := " "
		if deployed != "" && info.Digest == deployed {
			marker = "*"
		}
		created := ""
		if !info.CreatedAt.IsZero() {
			created = info.CreatedAt.Format(time.RFC822)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, info.ID.String(), shortDigest(info.Digest), created)
	}
	w.Flush()
	return nil
}

func shortDigest(d image.Digest) string {
	s := strings.TrimPrefix(string(d), "sha256:")
	if len(s) > 12 {
		s = s[:12]
	}
	return s
}
