package auth0

import (
	"strings"

	"github.com/auth0/go-auth0/management"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultConnection is the Auth0 database connection users are created in.
const DefaultConnection = "Username-Password-Authentication"

// Config holds the Auth0 management configuration.
type Config struct {
	// Domain is the Auth0 tenant domain (e.g., "example.us.auth0.com").
	Domain string `json:"domain" mapstructure:"domain" yaml:"domain"`

	// ClientID is the M2M application client ID.
	ClientID string `json:"client_id" mapstructure:"client_id" yaml:"client_id"`

	// ClientSecret is the M2M application client secret.
	ClientSecret string `json:"client_secret" mapstructure:"client_secret" yaml:"client_secret"`

	// Connection is the database connection new users are created in.
	// Default: "Username-Password-Authentication".
	Connection string `json:"connection" mapstructure:"connection" yaml:"connection"`

	// RequestsPerSecond throttles management calls, 0 disables the limit.
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// SkipCredentialCheck disables the password grant used to verify the
	// current secret on rotation. The client must have the password grant
	// enabled otherwise.
	SkipCredentialCheck bool `json:"skip_credential_check" mapstructure:"skip_credential_check" yaml:"skip_credential_check"`

	// Client overrides the management client (optional).
	Client *management.Management `json:"-" mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(domain, clientID, clientSecret string) Config {
	return Config{
		Domain:            domain,
		ClientID:          clientID,
		ClientSecret:      clientSecret,
		Connection:        DefaultConnection,
		RequestsPerSecond: 10,
	}
}

// Validate checks that the management client can be built.
func (c Config) Validate() error {
	if c.Client != nil {
		return nil
	}

	err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&c,
			validation.Field(&c.Domain, validation.Required),
			validation.Field(&c.ClientID, validation.Required),
			validation.Field(&c.ClientSecret, validation.Required),
			validation.Field(&c.RequestsPerSecond, validation.Min(float64(0))),
		)
	}, "invalid auth0 configuration")
	if err != nil {
		return err
	}
	return nil
}

func (c Config) connection() string {
	if conn := strings.TrimSpace(c.Connection); conn != "" {
		return conn
	}
	return DefaultConnection
}
