package config

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config of a storefront client. Keys map to environment variables with the
// SESSIONHTTP prefix, e.g. "refresh.interval" is SESSIONHTTP_REFRESH_INTERVAL.
type Config struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	LogLevel string        `mapstructure:"log_level"`
	Refresh  RefreshConfig `mapstructure:"refresh"`
	Storage  StorageConfig `mapstructure:"storage"`
	Retry    RetryConfig   `mapstructure:"retry"`
	Breaker  BreakerConfig `mapstructure:"breaker"`
}

type RefreshConfig struct {
	Path      string        `mapstructure:"path"`
	Interval  time.Duration `mapstructure:"interval"`
	Threshold time.Duration `mapstructure:"threshold"`
}

type StorageConfig struct {
	// RedisURL enables durable credential storage, memory is used otherwise
	RedisURL string `mapstructure:"redis_url"`
	Prefix   string `mapstructure:"prefix"`
}

type RetryConfig struct {
	Attempts    int           `mapstructure:"attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type BreakerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	MaxRequests         uint32        `mapstructure:"max_requests"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		BaseURL:  "http://localhost:8000/api/",
		Timeout:  15 * time.Second,
		LogLevel: "info",
		Refresh: RefreshConfig{
			Path:      "token/refresh/",
			Interval:  4 * time.Minute,
			Threshold: 60 * time.Second,
		},
		Storage: StorageConfig{
			Prefix: "sessionhttp:",
		},
		Retry: RetryConfig{
			Attempts:    2,
			BaseBackoff: 200 * time.Millisecond,
			MaxBackoff:  time.Second,
		},
		Breaker: BreakerConfig{
			MaxRequests:         1,
			ConsecutiveFailures: 5,
			Interval:            time.Minute,
			Timeout:             30 * time.Second,
		},
	}
}

// Load reads an optional "sessionhttp" config file from the working
// directory or configPath, then environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("sessionhttp")
	v.AddConfigPath(".")
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	v.SetEnvPrefix("SESSIONHTTP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string{}, parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
