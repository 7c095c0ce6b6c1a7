// Package config loads service settings from defaults, an optional YAML file,
// ENRICH_* environment variables and command-line flags, in increasing priority.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/celerix-dev/celerix-enrich/internal/vault"
)

// EnvPrefix prefixes every environment variable, e.g. ENRICH_STORE_DRIVER.
const EnvPrefix = "ENRICH"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRemote   = "remote"
)

// Config is the full service configuration.
type Config struct {
	Store struct {
		Driver  string `mapstructure:"driver"`
		DSN     string `mapstructure:"dsn"`
		DataDir string `mapstructure:"data_dir"`
		Addr    string `mapstructure:"addr"`
		// Seed is a JSON snapshot loaded into an empty store at startup.
		Seed string `mapstructure:"seed"`
	} `mapstructure:"store"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	TCP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"tcp"`
	TLS struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"tls"`
	Cache struct {
		Driver string        `mapstructure:"driver"`
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"cache"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	MasterKey string `mapstructure:"master_key"`
	Rules     struct {
		Sentinels []string `mapstructure:"sentinels"`
	} `mapstructure:"rules"`
	Review struct {
		ResubmitStatus string        `mapstructure:"resubmit_status"`
		SessionIdle    time.Duration `mapstructure:"session_idle"`
	} `mapstructure:"review"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("store.addr", "")
	v.SetDefault("store.seed", "")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("tcp.addr", ":7001")
	v.SetDefault("tls.enabled", false)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("master_key", "")
	v.SetDefault("rules.sentinels", []string{"not specified", "not_specified", "n/a", "na", ""})
	v.SetDefault("review.resubmit_status", "not_resolved_yet")
	v.SetDefault("review.session_idle", 2*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads the configuration. file may be empty; flags may be nil. A flag
// is bound when its name spells a known key: the first "-" separates the
// section, so --store-data-dir sets store.data_dir and --master-key sets
// master_key. Other flags are ignored.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	if flags != nil {
		known := make(map[string]bool)
		for _, k := range v.AllKeys() {
			known[k] = true
		}
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key, ok := flagKey(f.Name, known)
			if !ok || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.unseal(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func flagKey(name string, known map[string]bool) (string, bool) {
	section, rest, found := strings.Cut(name, "-")
	if found {
		key := section + "." + strings.ReplaceAll(rest, "-", "_")
		if known[key] {
			return key, true
		}
	}
	key := strings.ReplaceAll(name, "-", "_")
	return key, known[key]
}

func (c *Config) unseal() error {
	if !vault.IsSealed(c.Redis.Password) {
		return nil
	}
	key, err := c.Key()
	if err != nil {
		return err
	}
	pw, err := vault.Unseal(c.Redis.Password, key)
	if err != nil {
		return fmt.Errorf("unseal redis.password: %w", err)
	}
	c.Redis.Password = pw
	return nil
}

// Key returns the parsed master key, or nil when none is configured.
func (c *Config) Key() ([]byte, error) {
	if c.MasterKey == "" {
		return nil, nil
	}
	return vault.ParseKey(c.MasterKey)
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	case DriverRemote:
		if c.Store.Addr == "" {
			return fmt.Errorf("store.driver %q requires store.addr", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Cache.Driver {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unknown cache.driver %q", c.Cache.Driver)
	}
	return nil
}

// Logger builds the zap logger described by the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	var zc zap.Config
	if c.Log.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
