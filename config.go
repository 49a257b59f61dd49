package accounts

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// Config holds the tunables of the account lifecycle.
type Config struct {
	// MaterializationWarmup is slept once before polling for a member profile.
	MaterializationWarmup time.Duration `json:"materialization_warmup" mapstructure:"materialization_warmup" yaml:"materialization_warmup"`
	// MaterializationAttempts bounds the member profile reads.
	MaterializationAttempts int `json:"materialization_attempts" mapstructure:"materialization_attempts" yaml:"materialization_attempts"`
	// MaterializationDelay is slept between member profile reads.
	MaterializationDelay time.Duration `json:"materialization_delay" mapstructure:"materialization_delay" yaml:"materialization_delay"`

	CredentialLength int    `json:"credential_length" mapstructure:"credential_length" yaml:"credential_length"`
	PhoneRegion      string `json:"phone_region" mapstructure:"phone_region" yaml:"phone_region"`

	// BulkDeleteConcurrency caps identity deletes in flight during a bulk run.
	BulkDeleteConcurrency int `json:"bulk_delete_concurrency" mapstructure:"bulk_delete_concurrency" yaml:"bulk_delete_concurrency"`
	// IdentityDeleteRate is the number of identity deletes per second, 0 disables the limit.
	IdentityDeleteRate float64 `json:"identity_delete_rate" mapstructure:"identity_delete_rate" yaml:"identity_delete_rate"`

	RotationFlagRetries int           `json:"rotation_flag_retries" mapstructure:"rotation_flag_retries" yaml:"rotation_flag_retries"`
	RotationFlagBackoff time.Duration `json:"rotation_flag_backoff" mapstructure:"rotation_flag_backoff" yaml:"rotation_flag_backoff"`

	GateCacheTTL  time.Duration `json:"gate_cache_ttl" mapstructure:"gate_cache_ttl" yaml:"gate_cache_ttl"`
	RotationRoute string        `json:"rotation_route" mapstructure:"rotation_route" yaml:"rotation_route"`
	SignOutRoute  string        `json:"sign_out_route" mapstructure:"sign_out_route" yaml:"sign_out_route"`

	OperationTimeout time.Duration `json:"operation_timeout" mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaterializationWarmup:   2500 * time.Millisecond,
		MaterializationAttempts: 3,
		MaterializationDelay:    time.Second,
		CredentialLength:        DefaultCredentialLength,
		PhoneRegion:             DefaultPhoneRegion,
		BulkDeleteConcurrency:   8,
		IdentityDeleteRate:      10,
		RotationFlagRetries:     3,
		RotationFlagBackoff:     200 * time.Millisecond,
		GateCacheTTL:            15 * time.Minute,
		RotationRoute:           "/account/password/rotate",
		SignOutRoute:            "/logout",
		OperationTimeout:        time.Minute,
	}
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&c,
			validation.Field(&c.MaterializationWarmup, validation.Min(time.Duration(0))),
			validation.Field(&c.MaterializationAttempts, validation.Required, validation.Min(1)),
			validation.Field(&c.MaterializationDelay, validation.Min(time.Duration(0))),
			validation.Field(&c.CredentialLength, validation.Required, validation.Min(MinCredentialLength), validation.Max(128)),
			validation.Field(&c.BulkDeleteConcurrency, validation.Required, validation.Min(1)),
			validation.Field(&c.IdentityDeleteRate, validation.Min(float64(0))),
			validation.Field(&c.RotationFlagRetries, validation.Min(0)),
			validation.Field(&c.RotationRoute, validation.Required),
			validation.Field(&c.SignOutRoute, validation.Required),
		)
	}, "invalid accounts configuration")

	if err != nil {
		return err.WithTextCode(TextCodeValidationFailed)
	}
	return nil
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaterializationAttempts <= 0 {
		c.MaterializationAttempts = def.MaterializationAttempts
	}
	if c.CredentialLength <= 0 {
		c.CredentialLength = def.CredentialLength
	}
	if c.PhoneRegion == "" {
		c.PhoneRegion = def.PhoneRegion
	}
	if c.BulkDeleteConcurrency <= 0 {
		c.BulkDeleteConcurrency = def.BulkDeleteConcurrency
	}
	if c.RotationFlagRetries < 0 {
		c.RotationFlagRetries = def.RotationFlagRetries
	}
	if c.GateCacheTTL <= 0 {
		c.GateCacheTTL = def.GateCacheTTL
	}
	if c.RotationRoute == "" {
		c.RotationRoute = def.RotationRoute
	}
	if c.SignOutRoute == "" {
		c.SignOutRoute = def.SignOutRoute
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = def.OperationTimeout
	}
	return c
}
