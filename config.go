package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/teamshuffle/internal/broadcast"
	"github.com/Seednode/teamshuffle/internal/joinlink"
	"github.com/Seednode/teamshuffle/internal/retry"
	"github.com/Seednode/teamshuffle/internal/roster"
	"github.com/Seednode/teamshuffle/internal/storage/sqldb"
)

const (
	storeMemory = "memory"
	storeRedis  = "redis"
	storeSQLite = "sqlite"
	storeMySQL  = "mysql"

	defaultMaxTeamSize = 100
)

type Config struct {
	bind             string
	database         string
	maxNameLength    int
	maxTeamSize      int
	pollInterval     time.Duration
	port             int
	prefix           string
	profile          bool
	publicURL        string
	redisPrefix      string
	redisURL         string
	retryAttempts    int
	retryDelay       time.Duration
	retryMaxDelay    time.Duration
	server           string
	store            string
	subscriberBuffer int
	tlsCert          string
	tlsKey           string
	verbose          bool
	version          bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}

	switch c.store {
	case storeMemory, storeRedis:
	case storeSQLite, storeMySQL:
		if c.database == "" {
			return fmt.Errorf("--database is required for the %s store", c.store)
		}
	default:
		return fmt.Errorf("invalid store (must be one of memory, redis, sqlite, mysql): %s", c.store)
	}

	if c.maxNameLength < 1 {
		return fmt.Errorf("invalid max name length (must be at least 1): %d", c.maxNameLength)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("invalid poll interval (must be positive): %s", c.pollInterval)
	}
	if c.maxTeamSize < 1 {
		return fmt.Errorf("invalid max team size (must be at least 1): %d", c.maxTeamSize)
	}
	if c.subscriberBuffer < 4 {
		return fmt.Errorf("invalid subscriber buffer (must be at least 4): %d", c.subscriberBuffer)
	}
	if c.publicURL != "" {
		if _, err := joinlink.URL(c.publicURL); err != nil {
			return fmt.Errorf("invalid public url %q: %w", c.publicURL, err)
		}
	}

	return c.retryPolicy().Validate()
}

func (c *Config) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.retryAttempts,
		InitialDelay: c.retryDelay,
		MaxDelay:     c.retryMaxDelay,
		Multiplier:   2,
	}
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// bindEnv backs every flag in fs with a TEAMSHUFFLE_* environment variable.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func normalizeFlags(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TEAMSHUFFLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	policy := retry.DefaultPolicy()

	cmd := &cobra.Command{
		Use:           "teamshuffle",
		Short:         "Real-time team organizer for party games: join by QR code, shuffle into teams, watch it live.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setLogLevel(cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(normalizeFlags)

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TEAMSHUFFLE_BIND)")
	fs.StringVar(&cfg.database, "database", "", "database DSN for the sqlite and mysql stores (env: TEAMSHUFFLE_DATABASE)")
	fs.IntVar(&cfg.maxNameLength, "max-name-length", roster.DefaultMaxNameLength, "maximum length of player and team names (env: TEAMSHUFFLE_MAX_NAME_LENGTH)")
	fs.IntVar(&cfg.maxTeamSize, "max-team-size", defaultMaxTeamSize, "largest team size accepted by shuffle (env: TEAMSHUFFLE_MAX_TEAM_SIZE)")
	fs.DurationVar(&cfg.pollInterval, "poll-interval", sqldb.DefaultPollInterval, "how often the sqlite and mysql stores check for changes by other processes (env: TEAMSHUFFLE_POLL_INTERVAL)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TEAMSHUFFLE_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TEAMSHUFFLE_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TEAMSHUFFLE_PROFILE)")
	fs.StringVar(&cfg.publicURL, "public-url", "", "externally visible base URL for join links, derived from requests if unset (env: TEAMSHUFFLE_PUBLIC_URL)")
	fs.StringVar(&cfg.redisPrefix, "redis-prefix", "teamshuffle", "key prefix for the redis store (env: TEAMSHUFFLE_REDIS_PREFIX)")
	fs.StringVar(&cfg.redisURL, "redis-url", "redis://localhost:6379", "redis connection URL (env: TEAMSHUFFLE_REDIS_URL)")
	fs.IntVar(&cfg.retryAttempts, "retry-attempts", policy.MaxAttempts, "change feed reconnect attempts before giving up (env: TEAMSHUFFLE_RETRY_ATTEMPTS)")
	fs.DurationVar(&cfg.retryDelay, "retry-delay", policy.InitialDelay, "initial change feed reconnect delay (env: TEAMSHUFFLE_RETRY_DELAY)")
	fs.DurationVar(&cfg.retryMaxDelay, "retry-max-delay", policy.MaxDelay, "maximum change feed reconnect delay (env: TEAMSHUFFLE_RETRY_MAX_DELAY)")
	fs.StringVar(&cfg.store, "store", storeMemory, "roster store: memory, redis, sqlite or mysql (env: TEAMSHUFFLE_STORE)")
	fs.IntVar(&cfg.subscriberBuffer, "subscriber-buffer", broadcast.DefaultBuffer, "events queued per push subscriber before it is dropped (env: TEAMSHUFFLE_SUBSCRIBER_BUFFER)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TEAMSHUFFLE_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TEAMSHUFFLE_TLS_KEY)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TEAMSHUFFLE_VERSION)")

	pfs := cmd.PersistentFlags()
	pfs.SetNormalizeFunc(normalizeFlags)

	pfs.StringVarP(&cfg.server, "server", "s", "http://localhost:8080", "server used by client commands (env: TEAMSHUFFLE_SERVER)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TEAMSHUFFLE_VERBOSE)")

	bindEnv(v, fs)
	bindEnv(v, pfs)

	cmd.AddCommand(newClientCmds(cfg, v)...)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("teamshuffle v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
