package main

import (
	"errors"
	"fmt"
	"strings"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/notification"
	"github.com/goliatone/go-accounts/provider/auth0"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "ACCOUNTS"

	identityStoreLocal = "local"
	identityStoreAuth0 = "auth0"
)

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Stream   string `mapstructure:"stream" yaml:"stream"`
}

// AppConfig is the resolved accountsctl configuration.
type AppConfig struct {
	Verbose       bool                    `mapstructure:"verbose" yaml:"verbose"`
	Output        string                  `mapstructure:"output" yaml:"output"`
	IdentityStore string                  `mapstructure:"identity_store" yaml:"identity_store"`
	HashedIDs     bool                    `mapstructure:"hashed_ids" yaml:"hashed_ids"`
	Database      DatabaseConfig          `mapstructure:"database" yaml:"database"`
	Accounts      accounts.Config         `mapstructure:"accounts" yaml:"accounts"`
	Auth0         auth0.Config            `mapstructure:"auth0" yaml:"auth0"`
	SMTP          notification.SMTPConfig `mapstructure:"smtp" yaml:"smtp"`
	Redis         RedisConfig             `mapstructure:"redis" yaml:"redis"`
}

func setDefaults(v *viper.Viper) {
	def := accounts.DefaultConfig()

	v.SetDefault("verbose", false)
	v.SetDefault("output", "json")
	v.SetDefault("identity_store", identityStoreLocal)
	v.SetDefault("hashed_ids", false)
	v.SetDefault("database.dsn", "file:accounts.db?cache=shared")

	v.SetDefault("accounts.materialization_warmup", def.MaterializationWarmup)
	v.SetDefault("accounts.materialization_attempts", def.MaterializationAttempts)
	v.SetDefault("accounts.materialization_delay", def.MaterializationDelay)
	v.SetDefault("accounts.credential_length", def.CredentialLength)
	v.SetDefault("accounts.phone_region", def.PhoneRegion)
	v.SetDefault("accounts.bulk_delete_concurrency", def.BulkDeleteConcurrency)
	v.SetDefault("accounts.identity_delete_rate", def.IdentityDeleteRate)
	v.SetDefault("accounts.rotation_flag_retries", def.RotationFlagRetries)
	v.SetDefault("accounts.rotation_flag_backoff", def.RotationFlagBackoff)
	v.SetDefault("accounts.gate_cache_ttl", def.GateCacheTTL)
	v.SetDefault("accounts.rotation_route", def.RotationRoute)
	v.SetDefault("accounts.sign_out_route", def.SignOutRoute)
	v.SetDefault("accounts.operation_timeout", def.OperationTimeout)

	v.SetDefault("auth0.domain", "")
	v.SetDefault("auth0.client_id", "")
	v.SetDefault("auth0.client_secret", "")
	v.SetDefault("auth0.connection", auth0.DefaultConnection)
	v.SetDefault("auth0.requests_per_second", 10)
	v.SetDefault("auth0.skip_credential_check", false)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "")
}

// loadConfig resolves flags > env > config file > defaults.
func loadConfig(v *viper.Viper, file string, flags *pflag.FlagSet) (*AppConfig, error) {
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
	} else {
		v.SetConfigName("accounts")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}

	if flags != nil {
		for key, name := range map[string]string{
			"verbose":        "verbose",
			"output":         "output",
			"database.dsn":   "dsn",
			"identity_store": "identity-store",
		} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Accounts.Validate(); err != nil {
		return nil, err
	}

	switch cfg.IdentityStore {
	case identityStoreLocal, identityStoreAuth0:
	default:
		return nil, fmt.Errorf("unsupported identity store %q: use %q or %q",
			cfg.IdentityStore, identityStoreLocal, identityStoreAuth0)
	}

	if cfg.Output != "json" && cfg.Output != "yaml" {
		return nil, fmt.Errorf("unsupported output format %q: use 'json' or 'yaml'", cfg.Output)
	}

	return cfg, nil
}

// redacted returns a copy safe to print.
func (c AppConfig) redacted() AppConfig {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.Auth0.ClientSecret = mask(c.Auth0.ClientSecret)
	c.Auth0.Client = nil
	c.SMTP.Password = mask(c.SMTP.Password)
	c.Redis.Password = mask(c.Redis.Password)
	return c
}
