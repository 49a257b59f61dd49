package activitymap

import (
	"strings"
	"time"

	accounts "github.com/goliatone/go-accounts"
)

// Outcome summarizes how a lifecycle operation ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomePartial marks operations that finished with warnings: a residual
	// identity, a failed cleaner or a flag that could not be cleared.
	OutcomePartial Outcome = "partial"
)

const (
	verbPrefix    = "account."
	systemActorID = "system"
)

// Record is the flat shape written to the activity stream. Lifecycle
// metadata the dashboards filter on is lifted into its own fields, the
// rest stays in Extra.
type Record struct {
	Verb           string         `json:"verb"`
	Outcome        Outcome        `json:"outcome"`
	IdentityID     string         `json:"identity_id,omitempty"`
	Role           string         `json:"role,omitempty"`
	ActorID        string         `json:"actor_id"`
	ActorType      string         `json:"actor_type,omitempty"`
	Code           string         `json:"code,omitempty"`
	TextCode       string         `json:"text_code,omitempty"`
	FailedStep     string         `json:"failed_step,omitempty"`
	Compensated    *bool          `json:"compensated,omitempty"`
	FailedCleaners []string       `json:"failed_cleaners,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// lifted metadata keys, never copied into Extra
var liftedKeys = map[string]bool{
	"code":                      true,
	"text_code":                 true,
	accounts.ErrMetaFailedStep:  true,
	accounts.ErrMetaCompensated: true,
	"failed_cleaners":           true,
}

// Normalize flattens a lifecycle event. Events without an actor are
// attributed to the system, never to the affected account.
func Normalize(event accounts.ActivityEvent) Record {
	meta := event.Metadata

	r := Record{
		Verb:       strings.TrimPrefix(string(event.EventType), verbPrefix),
		IdentityID: strings.TrimSpace(event.IdentityID),
		ActorID:    strings.TrimSpace(event.Actor.ID),
		ActorType:  strings.TrimSpace(event.Actor.Type),
		Code:       stringValue(meta["code"]),
		TextCode:   stringValue(meta["text_code"]),
		FailedStep: stringValue(meta[accounts.ErrMetaFailedStep]),
		OccurredAt: event.OccurredAt,
	}

	if event.Role != "" {
		r.Role = event.Role.String()
	}
	if r.ActorID == "" {
		r.ActorID = systemActorID
	}
	if r.OccurredAt.IsZero() {
		r.OccurredAt = time.Now().UTC()
	}
	if v, ok := meta[accounts.ErrMetaCompensated].(bool); ok {
		r.Compensated = &v
	}
	r.FailedCleaners = stringsValue(meta["failed_cleaners"])

	for key, value := range meta {
		if liftedKeys[key] {
			continue
		}
		if r.Extra == nil {
			r.Extra = map[string]any{}
		}
		r.Extra[key] = value
	}

	r.Outcome = outcome(event.EventType, r, meta)
	return r
}

func outcome(eventType accounts.ActivityEventType, r Record, meta map[string]any) Outcome {
	switch eventType {
	case accounts.ActivityEventProvisioningFailed:
		return OutcomeFailed
	case accounts.ActivityEventDeprovisioned:
		if stringValue(meta["identity_status"]) == string(accounts.IdentityFailed) {
			return OutcomePartial
		}
	case accounts.ActivityEventBulkDeprovisioned:
		if n, ok := meta["residual_identities"].(int); ok && n > 0 {
			return OutcomePartial
		}
	case accounts.ActivityEventCredentialRotated:
		if cleared, ok := meta["flag_cleared"].(bool); ok && !cleared {
			return OutcomePartial
		}
	}

	if len(r.FailedCleaners) > 0 {
		return OutcomePartial
	}
	return OutcomeSucceeded
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case interface{ String() string }:
		return s.String()
	}
	return ""
}

func stringsValue(v any) []string {
	switch list := v.(type) {
	case []string:
		if len(list) == 0 {
			return nil
		}
		return append([]string(nil), list...)
	case []any:
		var out []string
		for _, item := range list {
			if s := stringValue(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
