package accounts

import (
	"context"
	"time"
)

// ServiceOption customizes service construction.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	notifier       NotificationDispatcher
	generator      CredentialGenerator
	cleaners       []DependentResourceCleaner
	activity       ActivitySink
	logger         Logger
	loggerProvider LoggerProvider
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
	stepHook       StepHook
}

// WithNotifier sets the welcome message dispatcher.
func WithNotifier(n NotificationDispatcher) ServiceOption {
	return func(o *serviceOptions) { o.notifier = n }
}

// WithCredentialGenerator overrides the temporary credential generator.
func WithCredentialGenerator(g CredentialGenerator) ServiceOption {
	return func(o *serviceOptions) { o.generator = g }
}

// WithCleaners appends dependent resource cleaners.
func WithCleaners(cleaners ...DependentResourceCleaner) ServiceOption {
	return func(o *serviceOptions) { o.cleaners = append(o.cleaners, cleaners...) }
}

// WithActivitySink sets the sink shared by every operation.
func WithActivitySink(sink ActivitySink) ServiceOption {
	return func(o *serviceOptions) { o.activity = sink }
}

// WithLogger sets the base logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) { o.logger = logger }
}

// WithLoggerProvider hands out one named logger per operation.
func WithLoggerProvider(provider LoggerProvider) ServiceOption {
	return func(o *serviceOptions) { o.loggerProvider = provider }
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(o *serviceOptions) { o.now = now }
}

// WithSleeper replaces the context aware sleep used for polling and retries.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) ServiceOption {
	return func(o *serviceOptions) { o.sleep = sleep }
}

// WithStepHook observes provisioning saga transitions.
func WithStepHook(hook StepHook) ServiceOption {
	return func(o *serviceOptions) { o.stepHook = hook }
}

// Service is the caller facing account lifecycle API.
type Service struct {
	create *CreateUserHandler
	remove *DeleteUserHandler
	bulk   *BulkDeleteUsersHandler
	rotate *RotateCredentialHandler
	gate   *RotationGate
}

// NewService wires every handler around the two stores.
func NewService(identities IdentityStore, profiles ProfileRepository, cfg Config, opts ...ServiceOption) *Service {
	o := &serviceOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	provider, base := ResolveLogger("accounts", o.loggerProvider, o.logger)
	named := func(name string) Logger {
		if l := provider.GetLogger(name); l != nil {
			return l
		}
		return base
	}

	gate := NewRotationGate(profiles, cfg,
		WithRotationGateActivitySink(o.activity),
		WithRotationGateLogger(named("accounts.gate")),
		WithRotationGateClock(o.now),
	)

	return &Service{
		create: NewCreateUserHandler(identities, profiles, cfg).
			WithNotifier(o.notifier).
			WithGenerator(o.generator).
			WithActivitySink(o.activity).
			WithLogger(named("accounts.provisioning")).
			WithClock(o.now).
			WithSleeper(o.sleep).
			WithStepHook(o.stepHook),
		remove: NewDeleteUserHandler(identities, profiles, cfg, o.cleaners...).
			WithActivitySink(o.activity).
			WithLogger(named("accounts.deprovisioning")),
		bulk: NewBulkDeleteUsersHandler(identities, profiles, cfg, o.cleaners...).
			WithActivitySink(o.activity).
			WithLogger(named("accounts.deprovisioning")),
		rotate: NewRotateCredentialHandler(identities, profiles, cfg).
			WithGate(gate).
			WithActivitySink(o.activity).
			WithLogger(named("accounts.rotation")).
			WithClock(o.now).
			WithSleeper(o.sleep),
		gate: gate,
	}
}

// CreateUser provisions an identity and its profile.
func (s *Service) CreateUser(ctx context.Context, req ProvisioningRequest) (*ProvisioningResult, error) {
	return s.create.Provision(ctx, ActorRef{}, req)
}

// DeleteUser deprovisions one user.
func (s *Service) DeleteUser(ctx context.Context, identityID string) (*DeletionSummary, error) {
	return s.remove.Delete(ctx, ActorRef{}, identityID)
}

// BulkDeleteUsers deprovisions a set of users.
func (s *Service) BulkDeleteUsers(ctx context.Context, identityIDs []string) (*BulkDeletionSummary, error) {
	return s.bulk.BulkDelete(ctx, ActorRef{}, identityIDs)
}

// RotateCredential replaces the credential of identityID.
func (s *Service) RotateCredential(ctx context.Context, identityID, current, next string) (*RotationResult, error) {
	return s.rotate.Rotate(ctx, ActorRef{}, identityID, current, next)
}

// EnterSession reads the rotation state at session start.
func (s *Service) EnterSession(ctx context.Context, identityID string) (RotationState, error) {
	return s.gate.EnterSession(ctx, identityID)
}

// Gate exposes the rotation gate for route wiring.
func (s *Service) Gate() *RotationGate {
	return s.gate
}

func (s *Service) CreateUserHandler() *CreateUserHandler {
	return s.create
}

func (s *Service) DeleteUserHandler() *DeleteUserHandler {
	return s.remove
}

func (s *Service) BulkDeleteUsersHandler() *BulkDeleteUsersHandler {
	return s.bulk
}

func (s *Service) RotateCredentialHandler() *RotateCredentialHandler {
	return s.rotate
}
