package accounts

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type DeleteUserMessage struct {
	IdentityID string   `json:"identity_id"`
	Actor      ActorRef `json:"-"`
	OnResponse func(DeletionSummary)
}

func (e DeleteUserMessage) Type() string { return "account.delete" }

// DeleteUserHandler deprovisions a single user.
type DeleteUserHandler struct {
	identities IdentityStore
	profiles   ProfileRepository
	cleaners   []DependentResourceCleaner
	config     Config
	activity   ActivitySink
	logger     Logger
	now        func() time.Time
}

// NewDeleteUserHandler creates a handler with sane defaults.
func NewDeleteUserHandler(identities IdentityStore, profiles ProfileRepository, cfg Config, cleaners ...DependentResourceCleaner) *DeleteUserHandler {
	return &DeleteUserHandler{
		identities: identities,
		profiles:   profiles,
		cleaners:   cleaners,
		config:     cfg.withDefaults(),
		activity:   noopActivitySink{},
		logger:     defLogger{},
		now:        time.Now,
	}
}

// WithActivitySink sets the sink used to emit deprovisioning events.
func (h *DeleteUserHandler) WithActivitySink(sink ActivitySink) *DeleteUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *DeleteUserHandler) WithLogger(logger Logger) *DeleteUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *DeleteUserHandler) Execute(ctx context.Context, event DeleteUserMessage) error {
	select {
	case <-ctx.Done():
		return wrapCancelled(ctx.Err(), "account deletion")
	default:
		summary, err := h.Delete(ctx, event.Actor, event.IdentityID)
		if summary != nil && event.OnResponse != nil {
			event.OnResponse(*summary)
		}
		return err
	}
}

// Delete removes the profile and the identity, then runs every dependent
// resource cleaner. Cleanup failures are reported on the summary warning.
func (h *DeleteUserHandler) Delete(ctx context.Context, actor ActorRef, identityID string) (*DeletionSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.OperationTimeout)
	defer cancel()

	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return nil, goerrors.New("identity id is required", goerrors.CategoryValidation).
			WithTextCode(TextCodeValidationFailed).
			WithCode(goerrors.CodeBadRequest)
	}

	profile, err := lookupProfile(ctx, h.profiles, identityID)
	if err != nil {
		return nil, err
	}

	if err := h.profiles.DeleteProfile(ctx, profile.Kind, identityID); err != nil {
		if isContextError(err) {
			return nil, wrapCancelled(err, "profile deletion")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not delete profile").
			WithMetadata(map[string]any{ErrMetaIdentityID: identityID, "role": profile.Kind.String()})
	}

	summary := &DeletionSummary{
		IdentityID:  identityID,
		ProfileKind: profile.Kind,
	}

	var residual error
	if err := h.identities.DeleteIdentity(ctx, identityID); err != nil {
		if IsIdentityNotFound(err) {
			summary.IdentityStatus = IdentityAbsent
		} else {
			summary.IdentityStatus = IdentityFailed
			residual = newResidualIdentityError(err, identityID)
			h.logger.Error("identity deletion failed, residual identity left behind",
				"identity_id", identityID,
				"error", err,
			)
		}
	} else {
		summary.IdentityStatus = IdentityDeleted
	}

	summary.Cleanup = runCleaners(ctx, h.cleaners, []string{identityID}, h.logger)
	summary.Warning = newPartialCleanupError([]string{identityID}, summary.Cleanup)

	activityRecorder{sink: h.activity, logger: h.logger, now: h.now}.record(ctx, ActivityEvent{
		EventType:  ActivityEventDeprovisioned,
		Actor:      actor,
		IdentityID: identityID,
		Role:       profile.Kind,
		Metadata: map[string]any{
			"identity_status": string(summary.IdentityStatus),
			"failed_cleaners": failedResources(summary.Cleanup),
		},
	})

	h.logger.Info("account deprovisioned",
		"identity_id", identityID,
		"role", profile.Kind,
		"identity_status", summary.IdentityStatus,
		"cleanup_warning", summary.Warning != nil,
	)

	if residual != nil {
		return summary, residual
	}
	return summary, nil
}

// lookupProfile checks the administrator collection first, then members.
func lookupProfile(ctx context.Context, profiles ProfileRepository, identityID string) (Profile, error) {
	admin, err := profiles.FindAdministratorProfile(ctx, identityID)
	if err != nil {
		return Profile{}, goerrors.Wrap(err, goerrors.CategoryInternal, "could not read administrator profile")
	}
	if admin != nil {
		return AdministratorVariant(admin), nil
	}

	member, err := profiles.FindMemberProfile(ctx, identityID)
	if err != nil {
		return Profile{}, goerrors.Wrap(err, goerrors.CategoryInternal, "could not read member profile")
	}
	if member != nil {
		return MemberVariant(member), nil
	}

	return Profile{}, newAccountNotFoundError(identityID)
}
