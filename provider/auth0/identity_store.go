package auth0

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/auth0/go-auth0"
	"github.com/auth0/go-auth0/authentication"
	"github.com/auth0/go-auth0/authentication/oauth"
	"github.com/auth0/go-auth0/management"
	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/time/rate"
)

// IdentityMirror keeps a local copy of remote identities. The local
// identity table is what the member profile trigger watches, so member
// provisioning needs one.
type IdentityMirror interface {
	MirrorIdentity(ctx context.Context, identity *accounts.Identity) error
	// ForgetIdentity is a no-op when the id was never mirrored.
	ForgetIdentity(ctx context.Context, id string) error
}

// IdentityStore implements accounts.IdentityStore on the Auth0 users API.
type IdentityStore struct {
	users      UserManager
	grant      PasswordGrant
	mirror     IdentityMirror
	connection string
	skipCheck  bool
	limiter    *rate.Limiter
	logger     accounts.Logger
}

var (
	_ accounts.IdentityStore      = (*IdentityStore)(nil)
	_ accounts.CredentialVerifier = (*IdentityStore)(nil)
)

// IdentityStoreOption customizes the store.
type IdentityStoreOption func(*IdentityStore)

// WithLogger overrides the store logger.
func WithLogger(logger accounts.Logger) IdentityStoreOption {
	return func(s *IdentityStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithUserManager replaces the users API, mostly for tests.
func WithUserManager(users UserManager) IdentityStoreOption {
	return func(s *IdentityStore) {
		if users != nil {
			s.users = users
		}
	}
}

// WithPasswordGrant replaces the Authentication API client.
func WithPasswordGrant(grant PasswordGrant) IdentityStoreOption {
	return func(s *IdentityStore) {
		if grant != nil {
			s.grant = grant
		}
	}
}

// WithIdentityMirror copies created identities into mirror and removes them
// on delete.
func WithIdentityMirror(mirror IdentityMirror) IdentityStoreOption {
	return func(s *IdentityStore) {
		if mirror != nil {
			s.mirror = mirror
		}
	}
}

// NewIdentityStore builds the management and authentication clients from
// cfg and returns a store.
func NewIdentityStore(ctx context.Context, cfg Config, opts ...IdentityStoreOption) (*IdentityStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := newIdentityStore(cfg, opts...)

	if s.users == nil {
		client, err := NewManagementClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.users = client.User
	}

	if s.grant == nil && !s.skipCheck {
		client, err := NewAuthenticationClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.grant = client.OAuth
	}

	return s, nil
}

// NewIdentityStoreWithClient wraps an existing management client.
func NewIdentityStoreWithClient(client *management.Management, cfg Config, opts ...IdentityStoreOption) *IdentityStore {
	s := newIdentityStore(cfg, opts...)
	if s.users == nil && client != nil {
		s.users = client.User
	}
	return s
}

func newIdentityStore(cfg Config, opts ...IdentityStoreOption) *IdentityStore {
	s := &IdentityStore{
		connection: cfg.connection(),
		skipCheck:  cfg.SkipCredentialCheck,
		logger:     accounts.NoopLogger(),
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *IdentityStore) CreateIdentity(ctx context.Context, email, secret string, metadata map[string]any) (*accounts.Identity, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	email = accounts.NormalizeEmail(email)
	appMetadata := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		appMetadata[k] = v
	}

	user := &management.User{
		Email:         auth0.String(email),
		Password:      auth0.String(secret),
		Connection:    auth0.String(s.connection),
		EmailVerified: auth0.Bool(false),
		AppMetadata:   &appMetadata,
	}
	if name, ok := metadata[accounts.MetadataFullName].(string); ok && name != "" {
		user.Name = auth0.String(name)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if statusOf(err) == http.StatusConflict {
			return nil, accounts.NewIdentityConflictError(email)
		}
		return nil, s.wrap(err, "auth0 user creation failed", map[string]any{"email": email})
	}

	s.logger.Debug("auth0 user created", "identity_id", user.GetID(), "email", email)

	identity := toIdentity(user)
	if identity.Email == "" {
		identity.Email = email
	}
	if identity.Metadata == nil {
		identity.Metadata = metadata
	}

	if s.mirror != nil {
		if err := s.mirror.MirrorIdentity(ctx, identity); err != nil {
			// the caller never saw this identity, so undo it here
			if delErr := s.users.Delete(ctx, identity.ID); delErr != nil {
				s.logger.Error("auth0 user left behind after mirror failure",
					"identity_id", identity.ID,
					"error", delErr,
				)
			}
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not mirror auth0 identity").
				WithMetadata(map[string]any{"email": email, "identity_id": identity.ID})
		}
	}

	return identity, nil
}

func (s *IdentityStore) FindIdentityByEmail(ctx context.Context, email string) (*accounts.Identity, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	email = accounts.NormalizeEmail(email)
	users, err := s.users.ListByEmail(ctx, email)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, s.wrap(err, "auth0 user lookup failed", map[string]any{"email": email})
	}

	for _, u := range users {
		if u == nil {
			continue
		}
		if conn := primaryConnection(u); conn == "" || conn == s.connection {
			return toIdentity(u), nil
		}
	}
	return nil, nil
}

func (s *IdentityStore) DeleteIdentity(ctx context.Context, id string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	var remoteErr error
	if err := s.users.Delete(ctx, id); err != nil {
		if statusOf(err) != http.StatusNotFound {
			return s.wrap(err, "auth0 user deletion failed", map[string]any{"identity_id": id})
		}
		remoteErr = accounts.NewIdentityNotFoundError(id)
	}

	if s.mirror != nil {
		if err := s.mirror.ForgetIdentity(ctx, id); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not remove mirrored identity").
				WithMetadata(map[string]any{"identity_id": id})
		}
	}
	return remoteErr
}

func (s *IdentityStore) UpdateCredential(ctx context.Context, id, secret string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	update := &management.User{
		Password:   auth0.String(secret),
		Connection: auth0.String(s.connection),
	}
	if err := s.users.Update(ctx, id, update); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return accounts.NewIdentityNotFoundError(id)
		}
		return s.wrap(err, "auth0 credential update failed", map[string]any{"identity_id": id})
	}
	return nil
}

// VerifyCredential runs the password grant against the store connection.
// With SkipCredentialCheck every secret is accepted; without a grant client
// every secret is rejected.
func (s *IdentityStore) VerifyCredential(ctx context.Context, id, secret string) error {
	if s.grant == nil {
		if s.skipCheck {
			return nil
		}
		return goerrors.New("auth0 credential verification is not configured", goerrors.CategoryExternal).
			WithMetadata(map[string]any{"identity_id": id})
	}

	if err := s.wait(ctx); err != nil {
		return err
	}

	user, err := s.users.Read(ctx, id)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return accounts.NewIdentityNotFoundError(id)
		}
		return s.wrap(err, "auth0 user lookup failed", map[string]any{"identity_id": id})
	}

	if err := s.wait(ctx); err != nil {
		return err
	}

	_, err = s.grant.LoginWithPassword(ctx, oauth.LoginWithPasswordRequest{
		Username: user.GetEmail(),
		Password: secret,
		Realm:    s.connection,
	}, oauth.IDTokenValidationOptions{})
	if err == nil {
		return nil
	}

	var authErr *authentication.Error
	if errors.As(err, &authErr) {
		switch authErr.Status() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return accounts.NewInvalidCredentialsError(id)
		}
	}
	return s.wrap(err, "auth0 password grant failed", map[string]any{"identity_id": id})
}

func (s *IdentityStore) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func (s *IdentityStore) wrap(err error, msg string, meta map[string]any) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	category := goerrors.CategoryExternal
	code := goerrors.CodeInternal
	switch status := statusOf(err); {
	case status == http.StatusTooManyRequests:
		category = goerrors.CategoryRateLimit
		code = status
	case status >= 400 && status < 500:
		category = goerrors.CategoryBadInput
		code = status
	}

	s.logger.Warn(msg, "error", err)

	return goerrors.Wrap(err, category, msg).
		WithCode(code).
		WithMetadata(meta)
}

func statusOf(err error) int {
	var mErr management.Error
	if errors.As(err, &mErr) {
		return mErr.Status()
	}
	return 0
}

func primaryConnection(u *management.User) string {
	if u.Identities != nil {
		for _, identity := range u.Identities {
			if identity != nil && identity.Connection != nil {
				return strings.TrimSpace(*identity.Connection)
			}
		}
	}
	return strings.TrimSpace(u.GetConnection())
}

func toIdentity(u *management.User) *accounts.Identity {
	identity := &accounts.Identity{
		ID:    u.GetID(),
		Email: u.GetEmail(),
	}
	if u.AppMetadata != nil {
		identity.Metadata = *u.AppMetadata
	}
	if u.CreatedAt != nil {
		identity.CreatedAt = *u.CreatedAt
	}
	return identity
}
