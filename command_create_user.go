package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const rollbackTimeout = 10 * time.Second

type CreateUserMessage struct {
	Request    ProvisioningRequest `json:"request"`
	Actor      ActorRef            `json:"-"`
	OnResponse func(ProvisioningResult)
}

func (e CreateUserMessage) Type() string { return "account.create" }

// CreateUserHandler runs the provisioning saga.
type CreateUserHandler struct {
	identities IdentityStore
	profiles   ProfileRepository
	notifier   NotificationDispatcher
	generator  CredentialGenerator
	config     Config
	activity   ActivitySink
	logger     Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	stepHook   StepHook
}

// NewCreateUserHandler creates a handler with sane defaults.
func NewCreateUserHandler(identities IdentityStore, profiles ProfileRepository, cfg Config) *CreateUserHandler {
	cfg = cfg.withDefaults()
	return &CreateUserHandler{
		identities: identities,
		profiles:   profiles,
		notifier:   noopDispatcher{},
		generator:  NewCredentialGenerator(cfg.CredentialLength),
		config:     cfg,
		activity:   noopActivitySink{},
		logger:     defLogger{},
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// WithNotifier sets the welcome message dispatcher.
func (h *CreateUserHandler) WithNotifier(n NotificationDispatcher) *CreateUserHandler {
	if n != nil {
		h.notifier = n
	}
	return h
}

// WithGenerator overrides the temporary credential generator.
func (h *CreateUserHandler) WithGenerator(g CredentialGenerator) *CreateUserHandler {
	if g != nil {
		h.generator = g
	}
	return h
}

// WithActivitySink sets the sink used to emit provisioning events.
func (h *CreateUserHandler) WithActivitySink(sink ActivitySink) *CreateUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *CreateUserHandler) WithLogger(logger Logger) *CreateUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *CreateUserHandler) WithClock(now func() time.Time) *CreateUserHandler {
	if now != nil {
		h.now = now
	}
	return h
}

// WithSleeper replaces the context aware sleep used while polling.
func (h *CreateUserHandler) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *CreateUserHandler {
	if sleep != nil {
		h.sleep = sleep
	}
	return h
}

// WithStepHook observes saga transitions.
func (h *CreateUserHandler) WithStepHook(hook StepHook) *CreateUserHandler {
	h.stepHook = hook
	return h
}

func (h *CreateUserHandler) Execute(ctx context.Context, event CreateUserMessage) error {
	select {
	case <-ctx.Done():
		return wrapCancelled(ctx.Err(), "account provisioning")
	default:
		result, err := h.Provision(ctx, event.Actor, event.Request)
		if err != nil {
			return err
		}
		if event.OnResponse != nil {
			event.OnResponse(*result)
		}
		return nil
	}
}

// Provision creates the identity and its profile. Any failure after the
// identity exists is compensated before returning.
func (h *CreateUserHandler) Provision(ctx context.Context, actor ActorRef, request ProvisioningRequest) (*ProvisioningResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.OperationTimeout)
	defer cancel()

	saga := newProvisioningSaga(h.now(), h.stepHook)
	req := request.Normalize(h.config.PhoneRegion)

	if err := req.Validate(); err != nil {
		return nil, h.fail(ctx, saga, actor, req, "", err)
	}

	if err := h.checkUniqueness(ctx, req); err != nil {
		return nil, h.fail(ctx, saga, actor, req, "", err)
	}

	if err := saga.advance(ctx, StepUniquenessChecked); err != nil {
		return nil, err
	}

	secret, err := h.generateSecret()
	if err != nil {
		return nil, h.fail(ctx, saga, actor, req, "", err)
	}

	identity, err := h.identities.CreateIdentity(ctx, req.Email, secret, req.IdentityMetadata())
	if err != nil {
		switch {
		case IsIdentityConflict(err):
			err = newDuplicateUserError(req.Email, req.Role, "identity_store_conflict")
		case isContextError(err):
			err = wrapCancelled(err, "identity creation")
		default:
			err = newIdentityCreationError(err, req.Email)
		}
		return nil, h.fail(ctx, saga, actor, req, "", err)
	}

	if err := saga.advance(ctx, StepIdentityCreated); err != nil {
		return nil, err
	}

	profile, perr := h.materialize(ctx, identity.ID, req)
	if perr != nil {
		return nil, h.rollback(ctx, saga, actor, req, identity.ID, perr)
	}

	if err := saga.advance(ctx, StepProfileMaterialized); err != nil {
		return nil, err
	}

	h.notify(ctx, identity.ID, req, profile, secret)

	if err := saga.advance(ctx, StepNotified); err != nil {
		return nil, err
	}
	if err := saga.advance(ctx, StepDone); err != nil {
		return nil, err
	}

	activityRecorder{sink: h.activity, logger: h.logger, now: h.now}.record(ctx, ActivityEvent{
		EventType:  ActivityEventProvisioned,
		Actor:      actor,
		IdentityID: identity.ID,
		Role:       req.Role,
		Metadata: map[string]any{
			"code":     profile.Code(),
			"duration": h.now().Sub(saga.started).String(),
		},
	})

	h.logger.Info("account provisioned",
		"identity_id", identity.ID,
		"role", req.Role,
		"code", profile.Code(),
	)

	return &ProvisioningResult{
		IdentityID: identity.ID,
		Profile:    profile,
		Credential: TemporaryCredential{Secret: secret, SingleUse: true},
	}, nil
}

func (h *CreateUserHandler) checkUniqueness(ctx context.Context, req ProvisioningRequest) error {
	existing, err := h.identities.FindIdentityByEmail(ctx, req.Email)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "could not check identity store for email")
	}
	if existing != nil {
		return newDuplicateUserError(req.Email, req.Role, "identity_store")
	}

	// a profile of either kind blocks the email, even when its identity is gone
	for _, role := range []Role{RoleAdministrator, RoleMember} {
		exists, err := h.profiles.ExistsByEmail(ctx, role, req.Email)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not check profile store for email").
				WithMetadata(map[string]any{"role": role})
		}
		if exists {
			return newDuplicateUserError(req.Email, req.Role, "profile_store")
		}
	}

	return nil
}

func (h *CreateUserHandler) generateSecret() (string, error) {
	secret, err := h.generator.Generate()
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "could not generate temporary credential").
			WithTextCode(TextCodeCredentialGenerationFailed)
	}

	if strength := h.generator.Strength(secret); !strength.Passed {
		return "", newCredentialGenerationError(strength)
	}

	return secret, nil
}

func (h *CreateUserHandler) materialize(ctx context.Context, identityID string, req ProvisioningRequest) (Profile, *goerrors.Error) {
	if req.Role == RoleAdministrator {
		p, err := h.profiles.InsertAdministratorProfile(ctx, identityID, req)
		if err != nil {
			return Profile{}, newProvisioningFailedError(err, identityID)
		}
		return AdministratorVariant(p), nil
	}

	if err := h.sleep(ctx, h.config.MaterializationWarmup); err != nil {
		return Profile{}, wrapCancelled(err, "member profile warm-up")
	}

	attempts := h.config.MaterializationAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		p, err := h.profiles.FindMemberProfile(ctx, identityID)
		switch {
		case err != nil && isContextError(err):
			return Profile{}, wrapCancelled(err, "member profile lookup")
		case err != nil:
			h.logger.Warn("member profile lookup failed",
				"identity_id", identityID,
				"attempt", attempt,
				"error", err,
			)
		case p != nil:
			return MemberVariant(p), nil
		default:
			h.logger.Debug("member profile not materialized yet",
				"identity_id", identityID,
				"attempt", attempt,
			)
		}

		if attempt < attempts {
			if err := h.sleep(ctx, h.config.MaterializationDelay); err != nil {
				return Profile{}, wrapCancelled(err, "member profile polling")
			}
		}
	}

	return Profile{}, newMaterializationTimeoutError(identityID, attempts)
}

// rollback deletes the identity created by this saga. The original error is
// always returned, annotated with the outcome of the compensation.
func (h *CreateUserHandler) rollback(ctx context.Context, saga *provisioningSaga, actor ActorRef, req ProvisioningRequest, identityID string, cause *goerrors.Error) error {
	if err := saga.advance(ctx, StepRollback); err != nil {
		h.logger.Error("provisioning saga transition", "error", err)
	}

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	meta := map[string]any{
		ErrMetaFailedStep:  string(StepProfileMaterialized),
		ErrMetaIdentityID:  identityID,
		ErrMetaCompensated: true,
	}

	if err := h.identities.DeleteIdentity(rbCtx, identityID); err != nil {
		if IsIdentityNotFound(err) {
			h.logger.Info("identity already absent during rollback", "identity_id", identityID)
		} else {
			rbErr := newRollbackError(err, identityID)
			meta[ErrMetaCompensated] = false
			meta[ErrMetaRollbackError] = rbErr.Error()
			h.logger.Error("provisioning rollback failed, identity needs manual cleanup",
				"identity_id", identityID,
				"email", req.Email,
				"error", rbErr,
			)
		}
	}

	cause.WithMetadata(meta)
	return h.fail(ctx, saga, actor, req, identityID, cause)
}

func (h *CreateUserHandler) fail(ctx context.Context, saga *provisioningSaga, actor ActorRef, req ProvisioningRequest, identityID string, err error) error {
	failedAt := saga.step
	if tErr := saga.advance(ctx, StepFailed); tErr != nil {
		h.logger.Error("provisioning saga transition", "error", tErr)
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "account provisioning failed")
	}

	if _, ok := richErr.Metadata[ErrMetaFailedStep]; !ok {
		richErr.WithMetadata(map[string]any{ErrMetaFailedStep: string(failedAt)})
	}
	richErr.WithMetadata(map[string]any{"steps": saga.traceStrings()})

	activityRecorder{sink: h.activity, logger: h.logger, now: h.now}.record(ctx, ActivityEvent{
		EventType:  ActivityEventProvisioningFailed,
		Actor:      actor,
		IdentityID: identityID,
		Role:       req.Role,
		Metadata: map[string]any{
			"text_code":        richErr.TextCode,
			ErrMetaFailedStep:  richErr.Metadata[ErrMetaFailedStep],
			ErrMetaCompensated: richErr.Metadata[ErrMetaCompensated],
		},
	})

	h.logger.Warn("account provisioning failed",
		"email", req.Email,
		"role", req.Role,
		"text_code", richErr.TextCode,
		"error", err,
	)

	return richErr
}

func (h *CreateUserHandler) notify(ctx context.Context, identityID string, req ProvisioningRequest, profile Profile, secret string) {
	err := h.notifier.SendWelcome(ctx, WelcomeNotification{
		IdentityID:     identityID,
		Email:          req.Email,
		FullName:       req.FullName,
		Role:           req.Role,
		MembershipTier: req.MembershipTier,
		Code:           profile.Code(),
		Secret:         secret,
	})
	if err != nil {
		h.logger.Warn("welcome notification failed",
			"identity_id", identityID,
			"error", err,
		)
	}
}
