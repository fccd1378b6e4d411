// Package config provides a reusable loader for the economy bridge's
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.2.0
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/synnergy-bridge/economy-bridge/pkg/utils"
)

// Fallback values applied after unmarshal for any tunable the YAML/env layers
// left at its zero value. Expressed as durations where the knob is
// time-shaped even though Config stores the unit-converted int, so the
// default lives next to the other duration constants in this package rather
// than as a bare magic number.
const (
	defaultRingCapacity    = 64
	defaultMaxRetries      = 4
	defaultLeaseTTL        = 30 * time.Second
	defaultBaseDelay       = 250 * time.Millisecond
	defaultRequestDeadline = 10 * time.Second
	defaultAuditDeadline   = 10 * time.Second
)

// envKeyReplacer maps mapstructure dotted paths (e.g. "store.redis_addr") to
// the BRIDGE_STORE_REDIS_ADDR shape viper's AutomaticEnv expects.
var envKeyReplacer = strings.NewReplacer(".", "_")

// bridgeEnvKeys lists every mapstructure path viper must explicitly bind, so
// that AutomaticEnv picks up BRIDGE_-prefixed variables even though no key is
// ever read from the (optional) YAML file first.
var bridgeEnvKeys = []string{
	"node.id", "node.listen_addr",
	"store.redis_addr", "store.redis_password", "store.redis_db",
	"store.ring_capacity", "store.max_retries", "store.lease_ttl_seconds",
	"transport.base_url", "transport.base_delay_ms", "transport.max_retries",
	"transport.request_deadline_seconds",
	"audit.base_url", "audit.secret", "audit.deadline_seconds",
	"audit.database_url", "audit.listen_addr",
	"logging.level",
}

func bindEnvKeys() {
	viper.SetEnvPrefix("bridge")
	for _, key := range bridgeEnvKeys {
		viper.BindEnv(key)
	}
}

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config is the unified configuration for either binary in this repo (the
// game node and the audit sink service read overlapping subsets of it). It
// mirrors the YAML files under cmd/config.
type Config struct {
	Node struct {
		ID         string `mapstructure:"id" json:"id"`
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"node" json:"node"`

	Store struct {
		RedisAddr       string `mapstructure:"redis_addr" json:"redis_addr"`
		RedisPassword   string `mapstructure:"redis_password" json:"redis_password"`
		RedisDB         int    `mapstructure:"redis_db" json:"redis_db"`
		RingCapacity    int    `mapstructure:"ring_capacity" json:"ring_capacity"`
		MaxRetries      int    `mapstructure:"max_retries" json:"max_retries"`
		LeaseTTLSeconds int    `mapstructure:"lease_ttl_seconds" json:"lease_ttl_seconds"`
	} `mapstructure:"store" json:"store"`

	Transport struct {
		BaseURL                string `mapstructure:"base_url" json:"base_url"`
		BaseDelayMS            int    `mapstructure:"base_delay_ms" json:"base_delay_ms"`
		MaxRetries             int    `mapstructure:"max_retries" json:"max_retries"`
		RequestDeadlineSeconds int    `mapstructure:"request_deadline_seconds" json:"request_deadline_seconds"`
	} `mapstructure:"transport" json:"transport"`

	Audit struct {
		BaseURL         string `mapstructure:"base_url" json:"base_url"`
		Secret          string `mapstructure:"secret" json:"secret"`
		DeadlineSeconds int    `mapstructure:"deadline_seconds" json:"deadline_seconds"`
		DatabaseURL     string `mapstructure:"database_url" json:"database_url"`
		ListenAddr      string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"audit" json:"audit"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads a base configuration file, merges an optional environment
// overlay, then layers environment variables over both (in that priority
// order, lowest to highest). .env is loaded first via godotenv, the way
// walletserver/config does it, so local development values are visible to
// viper's automatic-env pass.
func Load(env string) (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(envKeyReplacer)
	bindEnvKeys()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	applyDefaults(&AppConfig)
	return &AppConfig, nil
}

// applyDefaults fills any tunable still at its zero value after the YAML and
// env layers have run. These are read through utils.EnvOrDefaultInt /
// utils.EnvOrDefaultDuration rather than hardcoded so an operator can pin a
// fallback without touching either YAML file, mirroring how the rest of this
// repo's outbound clients take their timeout knobs.
func applyDefaults(c *Config) {
	if c.Store.RingCapacity == 0 {
		c.Store.RingCapacity = utils.EnvOrDefaultInt("BRIDGE_STORE_RING_CAPACITY_DEFAULT", defaultRingCapacity)
	}
	if c.Store.MaxRetries == 0 {
		c.Store.MaxRetries = utils.EnvOrDefaultInt("BRIDGE_STORE_MAX_RETRIES_DEFAULT", defaultMaxRetries)
	}
	if c.Store.LeaseTTLSeconds == 0 {
		c.Store.LeaseTTLSeconds = int(utils.EnvOrDefaultDuration("BRIDGE_STORE_LEASE_TTL_DEFAULT", defaultLeaseTTL).Seconds())
	}
	if c.Transport.BaseDelayMS == 0 {
		c.Transport.BaseDelayMS = int(utils.EnvOrDefaultDuration("BRIDGE_TRANSPORT_BASE_DELAY_DEFAULT", defaultBaseDelay).Milliseconds())
	}
	if c.Transport.MaxRetries == 0 {
		c.Transport.MaxRetries = utils.EnvOrDefaultInt("BRIDGE_TRANSPORT_MAX_RETRIES_DEFAULT", defaultMaxRetries)
	}
	if c.Transport.RequestDeadlineSeconds == 0 {
		c.Transport.RequestDeadlineSeconds = int(utils.EnvOrDefaultDuration("BRIDGE_TRANSPORT_REQUEST_DEADLINE_DEFAULT", defaultRequestDeadline).Seconds())
	}
	if c.Audit.DeadlineSeconds == 0 {
		c.Audit.DeadlineSeconds = int(utils.EnvOrDefaultDuration("BRIDGE_AUDIT_DEADLINE_DEFAULT", defaultAuditDeadline).Seconds())
	}
}

// LoadFromEnv loads configuration using the BRIDGE_ENV environment variable
// to select the overlay, falling back to defaults plus plain env vars only.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("BRIDGE_ENV", ""))
}

// RequireNodeConfig fails fast if any field the game node cannot start
// without is blank after Load (§6 Configuration).
func (c *Config) RequireNodeConfig() error {
	missing := []string{}
	if c.Node.ID == "" {
		missing = append(missing, "node.id")
	}
	if c.Store.RedisAddr == "" {
		missing = append(missing, "store.redis_addr")
	}
	if c.Transport.BaseURL == "" {
		missing = append(missing, "transport.base_url")
	}
	if c.Audit.BaseURL == "" {
		missing = append(missing, "audit.base_url")
	}
	if c.Audit.Secret == "" {
		missing = append(missing, "audit.secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required fields: %v", missing)
	}
	return nil
}

// RequireAuditSinkConfig fails fast if any field the audit sink service
// cannot start without is blank after Load.
func (c *Config) RequireAuditSinkConfig() error {
	missing := []string{}
	if c.Audit.Secret == "" {
		missing = append(missing, "audit.secret")
	}
	if c.Audit.DatabaseURL == "" {
		missing = append(missing, "audit.database_url")
	}
	if c.Audit.ListenAddr == "" {
		missing = append(missing, "audit.listen_addr")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required fields: %v", missing)
	}
	return nil
}
