package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables viper reads,
// e.g. MOOR_STATEBUCKET for the stateBucket key.
const EnvPrefix = "MOOR"

// envKeys are the scalar keys overridable from the environment. The
// environments map only ever comes from the file.
var envKeys = []string{
	"region",
	"stateBucket",
	"lockTable",
	"slackHookURL",
	"slackUsername",
	"pollInterval",
	"stabilizeCeiling",
}

// Loader reads configuration from a YAML file, the environment and
// any bound flags.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper knows about, so each env-facing
	// key is bound by hand.
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			panic(err)
		}
	}
	return &Loader{v: v}
}

// BindFlag lets a command-line flag override the config key. Flags
// take precedence over both the file and the environment.
func (l *Loader) BindFlag(key string, f *pflag.Flag) error {
	return l.v.BindPFlag(key, f)
}

// Load reads the named file, or searches moorctl.yaml in the working
// directory and ~/.moor when file is blank. A missing file is only an
// error when it was named explicitly.
func (l *Loader) Load(file string) (*Config, error) {
	if file != "" {
		l.v.SetConfigFile(file)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", file)
		}
	} else {
		l.v.SetConfigName("moorctl")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("$HOME/.moor")
		if err := l.v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrap(err, "reading config")
			}
		}
	}
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return &cfg, nil
}
