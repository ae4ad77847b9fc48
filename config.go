package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/townhall/live"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
)

const minSessionTimeout = 2 * time.Second

type Config struct {
	bind           string
	maxWordLength  int
	metrics        bool
	orphanTimeout  time.Duration
	port           int
	prefix         string
	profile        bool
	queueSize      int
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	trace          bool
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.orphanTimeout <= 0 {
		return fmt.Errorf("invalid orphan timeout (must be positive): %s", c.orphanTimeout)
	}
	if c.sessionTimeout < 0 || (c.sessionTimeout > 0 && c.sessionTimeout < minSessionTimeout) {
		return fmt.Errorf("invalid session timeout (must be 0 or at least %s): %s", minSessionTimeout, c.sessionTimeout)
	}
	if c.queueSize < 2 {
		return fmt.Errorf("invalid queue size (must be at least 2): %d", c.queueSize)
	}
	if c.maxWordLength < 1 {
		return fmt.Errorf("invalid max word length (must be at least 1): %d", c.maxWordLength)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// engineConfig builds the engine's settings. A nil tp leaves the engine on
// the global tracer provider.
func (c *Config) engineConfig(tp trace.TracerProvider) live.Config {
	var tracer trace.Tracer
	if tp != nil {
		tracer = tp.Tracer(live.TracerName)
	}

	return live.Config{
		Tracer:        tracer,
		OrphanTimeout: c.orphanTimeout,
		IdleTimeout:   c.sessionTimeout,
		MaxWordLength: c.maxWordLength,
		QueueSize:     c.queueSize,
		Logf: func(format string, args ...any) {
			logf(c, format, args...)
		},
	}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TOWNHALL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "townhall",
		Short:         "Live slides with polls, word clouds and Q&A for a roomful of phones.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TOWNHALL_BIND)")
	fs.IntVar(&cfg.maxWordLength, "max-word-length", live.DefaultMaxWordLength, "longest accepted word cloud entry, in characters (env: TOWNHALL_MAX_WORD_LENGTH)")
	fs.BoolVar(&cfg.metrics, "metrics", false, "expose prometheus metrics at /metrics (env: TOWNHALL_METRICS)")
	fs.DurationVar(&cfg.orphanTimeout, "orphan-timeout", live.DefaultOrphanTimeout, "time a session waits for its presenter to reconnect (env: TOWNHALL_ORPHAN_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TOWNHALL_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TOWNHALL_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TOWNHALL_PROFILE)")
	fs.IntVar(&cfg.queueSize, "queue-size", live.DefaultQueueSize, "outbound messages buffered per connection (env: TOWNHALL_QUEUE_SIZE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", live.DefaultIdleTimeout, "time before idle sessions are ended, 0 to disable (env: TOWNHALL_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TOWNHALL_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TOWNHALL_TLS_KEY)")
	fs.BoolVar(&cfg.trace, "trace", false, "write opentelemetry spans for engine operations to stdout (env: TOWNHALL_TRACE)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TOWNHALL_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TOWNHALL_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("townhall v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
