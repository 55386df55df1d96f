package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/RassulYunussov/sessionhttp"
	"github.com/RassulYunussov/sessionhttp/internal/config"
	"github.com/RassulYunussov/sessionhttp/internal/credentials"
	"github.com/RassulYunussov/sessionhttp/internal/namespace"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath     string
	navigationPath string
	baseURL        string

	cfg     *config.Config
	logger  zerolog.Logger
	client  sessionhttp.Client
	closers []io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "sessionhttp",
	Short: "Call the storefront backend with per-role sessions",
	Long: `sessionhttp issues requests through the storefront request pipeline.
Credentials are kept per role namespace, access tokens are refreshed before
they expire and idempotent calls are retried on transient failures.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
		logger, err = newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		client, err = newClient(cmd.Context())
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeAll()
	},
}

// Execute runs the root command
func Execute() {
	err := rootCmd.Execute()
	if closeErr := closeAll(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file, sessionhttp.yaml in the working directory by default")
	rootCmd.PersistentFlags().StringVar(&navigationPath, "path", "/", "Navigation path selecting the role namespace, e.g. /agency/orders")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Backend base URL, overrides the config")
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().
		Timestamp().
		Logger(), nil
}

func newClient(ctx context.Context) (sessionhttp.Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var durable credentials.Backend = credentials.NewMemoryBackend()
	if cfg.Storage.RedisURL != "" {
		redis, err := credentials.NewRedisBackend(ctx, cfg.Storage.RedisURL, cfg.Storage.Prefix)
		if err != nil {
			return nil, err
		}
		closers = append(closers, redis)
		durable = redis
	}
	opts := []sessionhttp.Option{
		sessionhttp.WithTimeout(cfg.Timeout),
		sessionhttp.WithLogger(logger),
		sessionhttp.WithPathProvider(func() string { return navigationPath }),
		sessionhttp.WithCredentialBackends(durable, credentials.NewMemoryBackend()),
		// one-shot commands have no use for the background refresher
		sessionhttp.WithTokenRefresh(cfg.Refresh.Path, cfg.Refresh.Threshold, 0),
		sessionhttp.WithRetry(cfg.Retry.BaseBackoff, cfg.Retry.MaxBackoff, cfg.Retry.BaseBackoff/2),
	}
	if cfg.Breaker.Enabled {
		opts = append(opts, sessionhttp.WithCircuitBreaker(
			cfg.Breaker.MaxRequests,
			cfg.Breaker.ConsecutiveFailures,
			cfg.Breaker.Interval,
			cfg.Breaker.Timeout))
	}
	c, err := sessionhttp.Create(cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	closers = append(closers, c)
	return c, nil
}

// closeAll closes the client before the backends it writes to.
func closeAll() error {
	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	closers = nil
	return first
}

func currentNamespace(flag string) (namespace.Namespace, error) {
	if flag == "" {
		return namespace.Resolve(navigationPath), nil
	}
	ns, ok := namespace.Parse(flag)
	if !ok {
		return "", fmt.Errorf("unknown namespace %q", flag)
	}
	return ns, nil
}
