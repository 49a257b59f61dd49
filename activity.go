package accounts

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventProvisioned          ActivityEventType = "account.provisioned"
	ActivityEventProvisioningFailed   ActivityEventType = "account.provisioning_failed"
	ActivityEventDeprovisioned        ActivityEventType = "account.deprovisioned"
	ActivityEventBulkDeprovisioned    ActivityEventType = "account.bulk_deprovisioned"
	ActivityEventCredentialRotated    ActivityEventType = "account.credential_rotated"
	ActivityEventRotationStateChanged ActivityEventType = "account.rotation_state_changed"
)

// ActorRef identifies who/what triggered an operation.
type ActorRef struct {
	ID   string
	Type string
}

var systemActor = ActorRef{Type: "system"}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	IdentityID string
	Role       Role
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// activityRecorder fills defaults and logs sink failures.
type activityRecorder struct {
	sink   ActivitySink
	logger Logger
	now    func() time.Time
}

func (r activityRecorder) record(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = systemActor
	}
	if event.OccurredAt.IsZero() {
		now := r.now
		if now == nil {
			now = time.Now
		}
		event.OccurredAt = now()
	}

	if err := normalizeActivitySink(r.sink).Record(ctx, event); err != nil && r.logger != nil {
		r.logger.Warn("activity sink error", "event", event.EventType, "error", err)
	}
}
