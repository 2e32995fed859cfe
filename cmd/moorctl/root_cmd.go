package main

import (
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/ecr"
	awsecs "github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/moorcd/moor/pkg/artifact"
	"github.com/moorcd/moor/pkg/cluster/ecs"
	"github.com/moorcd/moor/pkg/config"
	"github.com/moorcd/moor/pkg/image"
	"github.com/moorcd/moor/pkg/notify"
	"github.com/moorcd/moor/pkg/registry"
	"github.com/moorcd/moor/pkg/registry/middleware"
	"github.com/moorcd/moor/pkg/release"
	"github.com/moorcd/moor/pkg/state"
)

type rootOpts struct {
	configFile    string
	logFormat     string
	listenMetrics string
	dockerConfig  string

	flags  *pflag.FlagSet
	logger log.Logger
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
moorctl publishes immutable artifacts and rolls them out.

Workflow:
  moorctl deploy -e staging --source-ref $(git rev-parse HEAD) --build-id $CI_BUILD   # Publish and roll out.
  moorctl status -e staging                                                           # Where did the rollout get to?
  moorctl history -e staging                                                          # What happened lately?
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "moorctl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "",
		"path to a config file; defaults to moorctl.yaml in the working directory, then $HOME/.moor")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "fmt",
		`change the log format; one of "fmt" or "json"`)
	cmd.PersistentFlags().StringVar(&opts.listenMetrics, "listen-metrics", "",
		"address to serve /metrics and /healthz on while the command runs, e.g. :3031")
	cmd.PersistentFlags().StringVar(&opts.dockerConfig, "docker-config", "",
		"path to a docker config.json with credentials for registries other than ECR")
	cmd.PersistentFlags().String("region", "",
		"AWS region for the state backend and the ECS and ECR APIs; overrides the config file")
	cmd.PersistentFlags().String("state-bucket", "",
		"S3 bucket holding rollout records and history; overrides the config file")
	cmd.PersistentFlags().String("lock-table", "",
		"DynamoDB table arbitrating environment locks; overrides the config file")
	opts.flags = cmd.PersistentFlags()

	cmd.AddCommand(
		newDeploy(opts).Command(),
		newStatus(opts).Command(),
		newHistory(opts).Command(),
		newImages(opts).Command(),
		newSave(opts).Command(),
		newUnlock(opts).Command(),
		newVersionCommand(),
	)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(_ *cobra.Command, _ []string) error {
	switch opts.logFormat {
	case "fmt":
		opts.logger = log.NewLogfmtLogger(os.Stderr)
	case "json":
		opts.logger = log.NewJSONLogger(os.Stderr)
	default:
		return newUsageError("unknown log format " + opts.logFormat)
	}
	opts.logger = log.With(opts.logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	if opts.listenMetrics != "" {
		router := mux.NewRouter()
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")
		router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}).Methods("GET")
		go func() {
			opts.logger.Log("info", "serving metrics", "addr", opts.listenMetrics)
			opts.logger.Log("err", http.ListenAndServe(opts.listenMetrics, router))
		}()
	}
	return nil
}

// loadConfig reads and validates the config file, with any of the
// overriding persistent flags layered on top.
func (opts *rootOpts) loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	for key, flag := range map[string]string{
		"region":      "region",
		"stateBucket": "state-bucket",
		"lockTable":   "lock-table",
	} {
		if err := loader.BindFlag(key, opts.flags.Lookup(flag)); err != nil {
			return nil, err
		}
	}
	cfg, err := loader.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (opts *rootOpts) awsSession(cfg *config.Config) *session.Session {
	awsConfig := aws.NewConfig()
	if cfg.Region != "" {
		awsConfig = awsConfig.WithRegion(cfg.Region)
	}
	return session.Must(session.NewSession(awsConfig))
}

func (opts *rootOpts) backend(cfg *config.Config, sess *session.Session) *state.Backend {
	return state.New(s3.New(sess), dynamodb.New(sess), state.Config{
		Bucket: cfg.StateBucket,
		Table:  cfg.LockTable,
		Region: cfg.Region,
	}, log.With(opts.logger, "component", "state"))
}

func (opts *rootOpts) ecsCluster(sess *session.Session) *ecs.Cluster {
	return ecs.NewCluster(awsecs.New(sess), log.With(opts.logger, "component", "ecs"))
}

// resolver picks the registry client for the repository: the ECR API
// when the repository lives there, the registry HTTP API otherwise.
func (opts *rootOpts) resolver(sess *session.Session, repo image.Name) (registry.Resolver, error) {
	if registry.IsECRHost(repo.Domain) {
		return registry.NewInstrumentedResolver(registry.NewECR(ecr.New(sess))), nil
	}
	creds, err := registry.CredentialsFromFile(opts.dockerConfig)
	if err != nil {
		return nil, err
	}
	factory := &registry.RemoteFactory{
		Logger: log.With(opts.logger, "component", "registry"),
		Limiters: &middleware.RateLimiters{
			RPS:    100,
			Burst:  10,
			Logger: log.With(opts.logger, "component", "ratelimiter"),
		},
	}
	return factory.ResolverFor(repo.CanonicalName(), creds)
}

// lister returns the image-listing client for the repository. Only the
// ECR API supports listing here; the plain registry client resolves
// single tags.
func (opts *rootOpts) lister(sess *session.Session, repo image.Name) (registry.Lister, error) {
	if registry.IsECRHost(repo.Domain) {
		return registry.NewECR(ecr.New(sess)), nil
	}
	return nil, errors.Errorf("listing images is not supported for %s", repo.Domain)
}

func (opts *rootOpts) notifier(cfg *config.Config) notify.Notifier {
	if cfg.SlackHookURL == "" {
		return notify.NopNotifier{}
	}
	return &notify.SlackNotifier{HookURL: cfg.SlackHookURL, Username: cfg.SlackUsername}
}

func (opts *rootOpts) pipeline(cfg *config.Config, envCfg config.EnvironmentConfig, backend *state.Backend, sess *session.Session) (*release.Pipeline, error) {
	repo, err := envCfg.Repo()
	if err != nil {
		return nil, err
	}
	resolver, err := opts.resolver(sess, repo)
	if err != nil {
		return nil, err
	}
	builder := &artifact.DockerBuilder{Dir: envCfg.BuildDir}
	ecsAPI := opts.ecsCluster(sess)
	return &release.Pipeline{
		Backend:          backend,
		Publisher:        artifact.NewPublisher(repo, builder, log.With(opts.logger, "component", "publisher")),
		Cluster:          ecsAPI,
		Store:            ecsAPI,
		Resolver:         resolver,
		Notifier:         opts.notifier(cfg),
		PollInterval:     cfg.PollInterval,
		StabilizeCeiling: cfg.StabilizeCeiling,
		Logger:           opts.logger,
	}, nil
}
