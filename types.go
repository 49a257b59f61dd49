package accounts

import (
	"context"
	"time"
)

// IdentityStore is the external authentication store.
type IdentityStore interface {
	// CreateIdentity returns an IDENTITY_CONFLICT error when the email exists.
	CreateIdentity(ctx context.Context, email, secret string, metadata map[string]any) (*Identity, error)
	// FindIdentityByEmail returns nil, nil when no identity matches.
	FindIdentityByEmail(ctx context.Context, email string) (*Identity, error)
	// DeleteIdentity returns an IDENTITY_NOT_FOUND error when the id is unknown.
	DeleteIdentity(ctx context.Context, id string) error
	UpdateCredential(ctx context.Context, id, secret string) error
}

// CredentialVerifier is implemented by identity stores that can check a
// secret against the stored credential.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, id, secret string) error
}

// ProfileRepository covers the administrator and member profile collections.
type ProfileRepository interface {
	ExistsByEmail(ctx context.Context, role Role, email string) (bool, error)
	InsertAdministratorProfile(ctx context.Context, identityID string, req ProvisioningRequest) (*AdministratorProfile, error)
	// FindAdministratorProfile returns nil, nil when the row does not exist.
	FindAdministratorProfile(ctx context.Context, identityID string) (*AdministratorProfile, error)
	// FindMemberProfile returns nil, nil when the row does not exist yet.
	FindMemberProfile(ctx context.Context, identityID string) (*MemberProfile, error)
	// FindProfiles reads both collections in one batch per collection.
	FindProfiles(ctx context.Context, identityIDs []string) ([]Profile, error)
	DeleteProfile(ctx context.Context, role Role, identityID string) error
	DeleteProfiles(ctx context.Context, profiles []Profile) (int64, error)
	MarkCredentialRotated(ctx context.Context, role Role, identityID string, at time.Time) error
}

// NotificationDispatcher delivers the welcome message. Failures never
// change the outcome of provisioning.
type NotificationDispatcher interface {
	SendWelcome(ctx context.Context, msg WelcomeNotification) error
}

// NotificationDispatcherFunc adapts a function to NotificationDispatcher.
type NotificationDispatcherFunc func(ctx context.Context, msg WelcomeNotification) error

func (f NotificationDispatcherFunc) SendWelcome(ctx context.Context, msg WelcomeNotification) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

type noopDispatcher struct{}

func (noopDispatcher) SendWelcome(context.Context, WelcomeNotification) error { return nil }

// DependentResourceCleaner removes or detaches records that reference the
// given identities. Cleaners must be idempotent.
type DependentResourceCleaner interface {
	Resource() string
	Clean(ctx context.Context, identityIDs []string) (int64, error)
}

// CleanerFunc adapts a function to DependentResourceCleaner.
func CleanerFunc(resource string, fn func(ctx context.Context, identityIDs []string) (int64, error)) DependentResourceCleaner {
	return cleanerFunc{resource: resource, fn: fn}
}

type cleanerFunc struct {
	resource string
	fn       func(ctx context.Context, identityIDs []string) (int64, error)
}

func (c cleanerFunc) Resource() string { return c.resource }

func (c cleanerFunc) Clean(ctx context.Context, identityIDs []string) (int64, error) {
	return c.fn(ctx, identityIDs)
}
