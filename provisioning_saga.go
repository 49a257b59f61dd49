package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ProvisioningStep is a state of the create account saga.
type ProvisioningStep string

const (
	StepStart               ProvisioningStep = "START"
	StepUniquenessChecked   ProvisioningStep = "UNIQUENESS_CHECKED"
	StepIdentityCreated     ProvisioningStep = "IDENTITY_CREATED"
	StepProfileMaterialized ProvisioningStep = "PROFILE_MATERIALIZED"
	StepNotified            ProvisioningStep = "NOTIFIED"
	StepDone                ProvisioningStep = "DONE"
	StepRollback            ProvisioningStep = "ROLLBACK"
	StepFailed              ProvisioningStep = "FAILED"
)

const textCodeInvalidStep = "INVALID_PROVISIONING_STEP"

// StepHook observes every saga transition.
type StepHook func(ctx context.Context, from, to ProvisioningStep)

// Steps before IDENTITY_CREATED fail straight to FAILED, nothing durable
// exists yet. After it only ROLLBACK leads to FAILED.
var provisioningTransitions = map[ProvisioningStep]map[ProvisioningStep]struct{}{
	StepStart: {
		StepUniquenessChecked: {},
		StepFailed:            {},
	},
	StepUniquenessChecked: {
		StepIdentityCreated: {},
		StepFailed:          {},
	},
	StepIdentityCreated: {
		StepProfileMaterialized: {},
		StepRollback:            {},
	},
	StepProfileMaterialized: {
		StepNotified: {},
	},
	StepNotified: {
		StepDone: {},
	},
	StepRollback: {
		StepFailed: {},
	},
}

type provisioningSaga struct {
	step    ProvisioningStep
	trace   []ProvisioningStep
	started time.Time
	hook    StepHook
}

func newProvisioningSaga(now time.Time, hook StepHook) *provisioningSaga {
	return &provisioningSaga{
		step:    StepStart,
		trace:   []ProvisioningStep{StepStart},
		started: now,
		hook:    hook,
	}
}

func (s *provisioningSaga) canAdvance(to ProvisioningStep) bool {
	if allowed, ok := provisioningTransitions[s.step]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (s *provisioningSaga) advance(ctx context.Context, to ProvisioningStep) error {
	if !s.canAdvance(to) {
		return goerrors.New("invalid provisioning step transition", goerrors.CategoryInternal).
			WithTextCode(textCodeInvalidStep).
			WithMetadata(map[string]any{
				"from": string(s.step),
				"to":   string(to),
			})
	}

	from := s.step
	s.step = to
	s.trace = append(s.trace, to)

	if s.hook != nil {
		s.hook(ctx, from, to)
	}
	return nil
}

func (s *provisioningSaga) traceStrings() []string {
	out := make([]string, len(s.trace))
	for i, step := range s.trace {
		out[i] = string(step)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
