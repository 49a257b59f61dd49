package accounts

import (
	"context"
	"fmt"
	"sort"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidationFailed              = "VALIDATION_FAILED"
	TextCodeDuplicateUser                 = "DUPLICATE_USER"
	TextCodeCredentialGenerationFailed    = "CREDENTIAL_GENERATION_FAILED"
	TextCodeWeakCredential                = "WEAK_CREDENTIAL"
	TextCodeInvalidCredentials            = "INVALID_CREDENTIALS"
	TextCodeIdentityCreationFailed        = "IDENTITY_CREATION_FAILED"
	TextCodeProfileMaterializationTimeout = "PROFILE_MATERIALIZATION_TIMEOUT"
	TextCodeProvisioningFailed            = "PROVISIONING_FAILED"
	TextCodeRollbackFailed                = "ROLLBACK_FAILED"
	TextCodeAccountNotFound               = "ACCOUNT_NOT_FOUND"
	TextCodePartialCleanupFailure         = "PARTIAL_CLEANUP_FAILURE"
	TextCodeResidualIdentity              = "RESIDUAL_IDENTITY"
	TextCodeIdentityConflict              = "IDENTITY_CONFLICT"
	TextCodeIdentityNotFound              = "IDENTITY_NOT_FOUND"
)

// Metadata keys attached to provisioning failures.
const (
	ErrMetaFailedStep    = "failed_step"
	ErrMetaSide          = "side"
	ErrMetaCompensated   = "compensated"
	ErrMetaRollbackError = "rollback_error"
	ErrMetaIdentityID    = "identity_id"
)

// Failure sides reported under ErrMetaSide.
const (
	SideIdentity = "identity"
	SideProfile  = "profile"
)

// NewIdentityConflictError is returned by identity stores when the email is
// already registered.
func NewIdentityConflictError(email string) *goerrors.Error {
	return goerrors.New("identity already exists", goerrors.CategoryConflict).
		WithTextCode(TextCodeIdentityConflict).
		WithCode(goerrors.CodeConflict).
		WithMetadata(map[string]any{"email": email})
}

// NewIdentityNotFoundError is returned by identity stores when the id is
// unknown.
func NewIdentityNotFoundError(id string) *goerrors.Error {
	return goerrors.New("identity not found", goerrors.CategoryNotFound).
		WithTextCode(TextCodeIdentityNotFound).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{ErrMetaIdentityID: id})
}

// NewInvalidCredentialsError is returned when a current secret does not match.
func NewInvalidCredentialsError(id string) *goerrors.Error {
	return goerrors.New("current credential does not match", goerrors.CategoryAuth).
		WithTextCode(TextCodeInvalidCredentials).
		WithCode(goerrors.CodeUnauthorized).
		WithMetadata(map[string]any{ErrMetaIdentityID: id})
}

func newDuplicateUserError(email string, role Role, source string) *goerrors.Error {
	return goerrors.New("user already exists", goerrors.CategoryConflict).
		WithTextCode(TextCodeDuplicateUser).
		WithCode(goerrors.CodeConflict).
		WithMetadata(map[string]any{
			"email":  email,
			"role":   role.String(),
			"source": source,
		})
}

func newCredentialGenerationError(strength CredentialStrength) *goerrors.Error {
	return goerrors.New("generated credential failed strength validation", goerrors.CategoryInternal).
		WithTextCode(TextCodeCredentialGenerationFailed).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{
			"score":   strength.Score,
			"missing": strength.Missing,
		})
}

func newWeakCredentialError(strength CredentialStrength) *goerrors.Error {
	return goerrors.New("credential does not meet strength requirements", goerrors.CategoryValidation).
		WithTextCode(TextCodeWeakCredential).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{
			"score":   strength.Score,
			"missing": strength.Missing,
		})
}

func newIdentityCreationError(err error, email string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, "identity store rejected the new identity").
		WithTextCode(TextCodeIdentityCreationFailed).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{
			"email":           email,
			ErrMetaSide:       SideIdentity,
			ErrMetaFailedStep: string(StepIdentityCreated),
		})
}

func newMaterializationTimeoutError(identityID string, attempts int) *goerrors.Error {
	return goerrors.New("member profile was not materialized in time", goerrors.CategoryOperation).
		WithTextCode(TextCodeProfileMaterializationTimeout).
		WithCode(goerrors.CodeRequestTimeout).
		WithMetadata(map[string]any{
			ErrMetaIdentityID: identityID,
			ErrMetaSide:       SideProfile,
			"attempts":        attempts,
		})
}

func newProvisioningFailedError(err error, identityID string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "profile could not be stored").
		WithTextCode(TextCodeProvisioningFailed).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{
			ErrMetaIdentityID: identityID,
			ErrMetaSide:       SideProfile,
		})
}

func newRollbackError(err error, identityID string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "could not delete identity during rollback").
		WithTextCode(TextCodeRollbackFailed).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{ErrMetaIdentityID: identityID})
}

func newAccountNotFoundError(identityID string) *goerrors.Error {
	return goerrors.New("account not found", goerrors.CategoryNotFound).
		WithTextCode(TextCodeAccountNotFound).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{ErrMetaIdentityID: identityID})
}

func newResidualIdentityError(err error, identityID string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, "profile removed but identity could not be deleted").
		WithTextCode(TextCodeResidualIdentity).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{ErrMetaIdentityID: identityID})
}

func newPartialCleanupError(ids []string, outcomes []CleanupOutcome) error {
	failed := map[string]any{}
	for _, o := range outcomes {
		if o.Err != nil {
			failed[o.Resource] = o.Err.Error()
		}
	}
	if len(failed) == 0 {
		return nil
	}

	return goerrors.New(
		fmt.Sprintf("%d dependent resource cleaner(s) failed", len(failed)),
		goerrors.CategoryOperation,
	).
		WithTextCode(TextCodePartialCleanupFailure).
		WithMetadata(map[string]any{
			"identity_ids": ids,
			"failed":       failed,
			"resources":    failedResources(outcomes),
		})
}

func failedResources(outcomes []CleanupOutcome) []string {
	out := []string{}
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, o.Resource)
		}
	}
	sort.Strings(out)
	return out
}

func wrapCancelled(err error, operation string) *goerrors.Error {
	return goerrors.Wrap(
		err,
		goerrors.CategoryOperation,
		fmt.Sprintf("context cancelled during %s", operation),
	)
}

// HasTextCode walks the error chain and reports whether any rich error
// carries the given text code.
func HasTextCode(err error, code string) bool {
	for err != nil {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			return false
		}
		if rich.TextCode == code {
			return true
		}
		err = rich.Unwrap()
	}
	return false
}

// ErrorMetadata returns the metadata of the outermost rich error.
func ErrorMetadata(err error) map[string]any {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Metadata != nil {
		return rich.Metadata
	}
	return map[string]any{}
}

func IsValidationError(err error) bool { return HasTextCode(err, TextCodeValidationFailed) }

func IsDuplicateUser(err error) bool { return HasTextCode(err, TextCodeDuplicateUser) }

func IsCredentialGenerationError(err error) bool {
	return HasTextCode(err, TextCodeCredentialGenerationFailed)
}

func IsWeakCredential(err error) bool { return HasTextCode(err, TextCodeWeakCredential) }

func IsInvalidCredentials(err error) bool { return HasTextCode(err, TextCodeInvalidCredentials) }

func IsIdentityCreationError(err error) bool {
	return HasTextCode(err, TextCodeIdentityCreationFailed)
}

func IsMaterializationTimeout(err error) bool {
	return HasTextCode(err, TextCodeProfileMaterializationTimeout)
}

// IsProvisioningFailed matches every failure raised after the identity was
// created, a member materialization timeout included.
func IsProvisioningFailed(err error) bool {
	return HasTextCode(err, TextCodeProvisioningFailed) ||
		HasTextCode(err, TextCodeProfileMaterializationTimeout)
}

// IsRollbackFailure reports a failed compensation, either as its own error
// or as the rollback_error attached to the original provisioning failure.
func IsRollbackFailure(err error) bool {
	if HasTextCode(err, TextCodeRollbackFailed) {
		return true
	}
	_, ok := ErrorMetadata(err)[ErrMetaRollbackError]
	return ok
}

// Compensated reports whether a provisioning failure left no identity behind.
func Compensated(err error) bool {
	v, ok := ErrorMetadata(err)[ErrMetaCompensated].(bool)
	return ok && v
}

func IsAccountNotFound(err error) bool { return HasTextCode(err, TextCodeAccountNotFound) }

func IsPartialCleanupFailure(err error) bool {
	return HasTextCode(err, TextCodePartialCleanupFailure)
}

func IsResidualIdentity(err error) bool { return HasTextCode(err, TextCodeResidualIdentity) }

// IsIdentityConflict matches store level duplicate email errors.
func IsIdentityConflict(err error) bool {
	return HasTextCode(err, TextCodeIdentityConflict)
}

// IsIdentityNotFound matches store level missing identity errors, including
// generic not found rich errors raised by the store.
func IsIdentityNotFound(err error) bool {
	if err == nil {
		return false
	}
	return HasTextCode(err, TextCodeIdentityNotFound) || goerrors.IsNotFound(err)
}

func isContextError(err error) bool {
	return goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded)
}
