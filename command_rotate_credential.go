package accounts

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type RotateCredentialMessage struct {
	IdentityID string   `json:"identity_id"`
	Current    string   `json:"current"`
	Next       string   `json:"next"`
	Actor      ActorRef `json:"-"`
	OnResponse func(RotationResult)
}

func (e RotateCredentialMessage) Type() string { return "account.credential.rotate" }

// RotationResult reports a completed credential rotation. FlagCleared is
// false when the profile could not be updated after the identity was.
type RotationResult struct {
	IdentityID  string    `json:"identity_id"`
	Role        Role      `json:"role"`
	RotatedAt   time.Time `json:"rotated_at"`
	FlagCleared bool      `json:"flag_cleared"`
}

// RotateCredentialHandler replaces the credential of an identity and clears
// the must_change_password flag of its profile.
type RotateCredentialHandler struct {
	identities IdentityStore
	profiles   ProfileRepository
	gate       *RotationGate
	config     Config
	activity   ActivitySink
	logger     Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRotateCredentialHandler creates a handler with sane defaults.
func NewRotateCredentialHandler(identities IdentityStore, profiles ProfileRepository, cfg Config) *RotateCredentialHandler {
	return &RotateCredentialHandler{
		identities: identities,
		profiles:   profiles,
		config:     cfg.withDefaults(),
		activity:   noopActivitySink{},
		logger:     defLogger{},
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// WithGate moves the session back to NORMAL after a rotation.
func (h *RotateCredentialHandler) WithGate(gate *RotationGate) *RotateCredentialHandler {
	h.gate = gate
	return h
}

// WithActivitySink sets the sink used to emit rotation events.
func (h *RotateCredentialHandler) WithActivitySink(sink ActivitySink) *RotateCredentialHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RotateCredentialHandler) WithLogger(logger Logger) *RotateCredentialHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *RotateCredentialHandler) WithClock(now func() time.Time) *RotateCredentialHandler {
	if now != nil {
		h.now = now
	}
	return h
}

// WithSleeper replaces the sleep used between flag clearing retries.
func (h *RotateCredentialHandler) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *RotateCredentialHandler {
	if sleep != nil {
		h.sleep = sleep
	}
	return h
}

func (h *RotateCredentialHandler) Execute(ctx context.Context, event RotateCredentialMessage) error {
	select {
	case <-ctx.Done():
		return wrapCancelled(ctx.Err(), "credential rotation")
	default:
		result, err := h.Rotate(ctx, event.Actor, event.IdentityID, event.Current, event.Next)
		if err != nil {
			return err
		}
		if event.OnResponse != nil {
			event.OnResponse(*result)
		}
		return nil
	}
}

// Rotate checks the new secret, verifies the current one when the identity
// store supports it, updates the identity and then clears the profile flag.
// Once the identity is updated the rotation succeeds even if the profile
// flag could not be cleared.
func (h *RotateCredentialHandler) Rotate(ctx context.Context, actor ActorRef, identityID, current, next string) (*RotationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.OperationTimeout)
	defer cancel()

	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return nil, goerrors.New("identity id is required", goerrors.CategoryValidation).
			WithTextCode(TextCodeValidationFailed).
			WithCode(goerrors.CodeBadRequest)
	}

	if strength := ScoreCredential(next); !strength.Passed {
		return nil, newWeakCredentialError(strength)
	}

	if current != "" && current == next {
		return nil, goerrors.New("new credential must differ from the current one", goerrors.CategoryValidation).
			WithTextCode(TextCodeWeakCredential).
			WithCode(goerrors.CodeBadRequest)
	}

	profile, err := lookupProfile(ctx, h.profiles, identityID)
	if err != nil {
		return nil, err
	}

	if verifier, ok := h.identities.(CredentialVerifier); ok {
		if err := verifier.VerifyCredential(ctx, identityID, current); err != nil {
			if IsIdentityNotFound(err) {
				return nil, newAccountNotFoundError(identityID)
			}
			if HasTextCode(err, TextCodeInvalidCredentials) {
				return nil, err
			}
			return nil, NewInvalidCredentialsError(identityID)
		}
	}

	if err := h.identities.UpdateCredential(ctx, identityID, next); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "identity store rejected the credential update").
			WithMetadata(map[string]any{ErrMetaIdentityID: identityID})
	}

	rotatedAt := h.now().UTC()
	result := &RotationResult{
		IdentityID:  identityID,
		Role:        profile.Kind,
		RotatedAt:   rotatedAt,
		FlagCleared: h.clearFlag(ctx, profile.Kind, identityID, rotatedAt),
	}

	if h.gate != nil {
		if err := h.gate.Transition(ctx, actor, identityID, RotationNormal); err != nil {
			h.logger.Warn("rotation gate transition failed", "identity_id", identityID, "error", err)
		}
	}

	activityRecorder{sink: h.activity, logger: h.logger, now: h.now}.record(ctx, ActivityEvent{
		EventType:  ActivityEventCredentialRotated,
		Actor:      actor,
		IdentityID: identityID,
		Role:       profile.Kind,
		Metadata: map[string]any{
			"flag_cleared": result.FlagCleared,
		},
	})

	return result, nil
}

func (h *RotateCredentialHandler) clearFlag(ctx context.Context, role Role, identityID string, at time.Time) bool {
	attempts := h.config.RotationFlagRetries + 1

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = h.profiles.MarkCredentialRotated(ctx, role, identityID, at); err == nil {
			return true
		}

		h.logger.Warn("could not clear must_change_password",
			"identity_id", identityID,
			"attempt", attempt,
			"error", err,
		)

		if attempt < attempts {
			if sErr := h.sleep(ctx, h.config.RotationFlagBackoff); sErr != nil {
				break
			}
		}
	}

	h.logger.Error("credential rotated but profile flag is stale, manual fix required",
		"identity_id", identityID,
		"role", role,
		"error", err,
	)
	return false
}
