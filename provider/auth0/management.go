package auth0

import (
	"context"
	"fmt"
	"strings"

	"github.com/auth0/go-auth0/authentication"
	"github.com/auth0/go-auth0/authentication/oauth"
	"github.com/auth0/go-auth0/management"
)

// UserManager is the subset of the management users API the store needs.
type UserManager interface {
	Create(ctx context.Context, u *management.User, opts ...management.RequestOption) error
	ListByEmail(ctx context.Context, email string, opts ...management.RequestOption) ([]*management.User, error)
	Delete(ctx context.Context, id string, opts ...management.RequestOption) error
	Update(ctx context.Context, id string, u *management.User, opts ...management.RequestOption) error
	Read(ctx context.Context, id string, opts ...management.RequestOption) (*management.User, error)
}

// PasswordGrant is the Authentication API call used to check a secret.
// *authentication.OAuth satisfies it.
type PasswordGrant interface {
	LoginWithPassword(ctx context.Context, body oauth.LoginWithPasswordRequest, validationOptions oauth.IDTokenValidationOptions, opts ...authentication.RequestOption) (*oauth.TokenSet, error)
}

// NewManagementClient creates the management API client for cfg.
func NewManagementClient(ctx context.Context, cfg Config, opts ...management.Option) (*management.Management, error) {
	if cfg.Client != nil {
		return cfg.Client, nil
	}

	domain := strings.TrimSpace(cfg.Domain)
	if domain == "" {
		return nil, fmt.Errorf("auth0 management: domain is required")
	}

	options := []management.Option{
		management.WithClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret),
	}
	options = append(options, opts...)

	client, err := management.New(domain, options...)
	if err != nil {
		return nil, fmt.Errorf("auth0 management: failed to create client: %w", err)
	}

	return client, nil
}

// NewAuthenticationClient creates the Authentication API client used for the
// password grant. No openid scope is requested so no id token comes back,
// HS256 keeps the constructor from fetching the tenant JWKS.
func NewAuthenticationClient(ctx context.Context, cfg Config, opts ...authentication.Option) (*authentication.Authentication, error) {
	domain := strings.TrimSpace(cfg.Domain)
	if domain == "" {
		return nil, fmt.Errorf("auth0 authentication: domain is required")
	}

	options := []authentication.Option{
		authentication.WithClientID(cfg.ClientID),
		authentication.WithClientSecret(cfg.ClientSecret),
		authentication.WithIDTokenSigningAlg("HS256"),
	}
	options = append(options, opts...)

	client, err := authentication.New(ctx, domain, options...)
	if err != nil {
		return nil, fmt.Errorf("auth0 authentication: failed to create client: %w", err)
	}
	return client, nil
}
