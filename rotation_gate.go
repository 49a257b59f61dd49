package accounts

import (
	"context"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/jellydator/ttlcache/v3"
)

// RotationState is the credential rotation state of a session.
type RotationState string

const (
	RotationNormal     RotationState = "NORMAL"
	RotationMustRotate RotationState = "MUST_ROTATE"
)

const textCodeInvalidRotationTransition = "INVALID_ROTATION_TRANSITION"

// GateDecision is the outcome of checking a route against a session state.
type GateDecision struct {
	Allow    bool
	Redirect string
}

// IdentityResolver extracts the authenticated identity id from a request.
type IdentityResolver func(ctx router.Context) (string, bool)

// RotationGateOption customizes gate construction.
type RotationGateOption func(*RotationGate)

// WithRotationGateActivitySink sets the ActivitySink used to publish state changes.
func WithRotationGateActivitySink(sink ActivitySink) RotationGateOption {
	return func(g *RotationGate) {
		g.activity = normalizeActivitySink(sink)
	}
}

// WithRotationGateLogger overrides the gate logger.
func WithRotationGateLogger(logger Logger) RotationGateOption {
	return func(g *RotationGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRotationGateClock injects a custom clock (useful for tests).
func WithRotationGateClock(now func() time.Time) RotationGateOption {
	return func(g *RotationGate) {
		if now != nil {
			g.now = now
		}
	}
}

// RotationGate keeps the NORMAL / MUST_ROTATE state of active sessions and
// blocks every route but the rotation form and sign out while a session
// must rotate.
type RotationGate struct {
	profiles      ProfileRepository
	states        *ttlcache.Cache[string, RotationState]
	transitions   map[RotationState]map[RotationState]struct{}
	rotationRoute string
	signOutRoute  string
	activity      ActivitySink
	logger        Logger
	now           func() time.Time
}

// NewRotationGate returns a gate reading the must_change_password flag from
// profiles. Cached states expire after cfg.GateCacheTTL.
func NewRotationGate(profiles ProfileRepository, cfg Config, opts ...RotationGateOption) *RotationGate {
	cfg = cfg.withDefaults()
	g := &RotationGate{
		profiles: profiles,
		states: ttlcache.New(
			ttlcache.WithTTL[string, RotationState](cfg.GateCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, RotationState](),
		),
		transitions: map[RotationState]map[RotationState]struct{}{
			RotationNormal: {
				RotationMustRotate: {},
			},
			RotationMustRotate: {
				RotationNormal: {},
			},
		},
		rotationRoute: cfg.RotationRoute,
		signOutRoute:  cfg.SignOutRoute,
		activity:      noopActivitySink{},
		logger:        defLogger{},
		now:           time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// EnterSession reads the profile flag and caches the resulting state.
func (g *RotationGate) EnterSession(ctx context.Context, identityID string) (RotationState, error) {
	profile, err := lookupProfile(ctx, g.profiles, identityID)
	if err != nil {
		return "", err
	}

	state := RotationNormal
	if profile.MustChangePassword() {
		state = RotationMustRotate
	}

	g.states.Set(identityID, state, ttlcache.DefaultTTL)
	g.logger.Debug("rotation gate session entered", "identity_id", identityID, "state", state)

	return state, nil
}

// State returns the cached state, entering the session on a miss.
func (g *RotationGate) State(ctx context.Context, identityID string) (RotationState, error) {
	if item := g.states.Get(identityID); item != nil {
		return item.Value(), nil
	}
	return g.EnterSession(ctx, identityID)
}

// Transition moves a session to target. Moving to the current state is a no-op.
func (g *RotationGate) Transition(ctx context.Context, actor ActorRef, identityID string, target RotationState) error {
	from, err := g.State(ctx, identityID)
	if err != nil {
		return err
	}

	if from == target {
		return nil
	}

	if !g.canTransition(from, target) {
		return goerrors.New("invalid rotation state transition", goerrors.CategoryValidation).
			WithTextCode(textCodeInvalidRotationTransition).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{
				"from": string(from),
				"to":   string(target),
			})
	}

	g.states.Set(identityID, target, ttlcache.DefaultTTL)

	activityRecorder{sink: g.activity, logger: g.logger, now: g.now}.record(ctx, ActivityEvent{
		EventType:  ActivityEventRotationStateChanged,
		Actor:      actor,
		IdentityID: identityID,
		Metadata: map[string]any{
			"from": string(from),
			"to":   string(target),
		},
	})

	return nil
}

// Forget drops the cached state, e.g. on sign out.
func (g *RotationGate) Forget(identityID string) {
	g.states.Delete(identityID)
}

// Decide checks path against state.
func (g *RotationGate) Decide(state RotationState, path string) GateDecision {
	if state != RotationMustRotate || g.exempt(path) {
		return GateDecision{Allow: true}
	}
	return GateDecision{Redirect: g.rotationRoute}
}

// Middleware redirects sessions in MUST_ROTATE to the rotation form.
// Requests without an identity pass through untouched.
func (g *RotationGate) Middleware(resolve IdentityResolver) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			identityID, ok := resolve(ctx)
			if !ok || identityID == "" {
				return hf(ctx)
			}

			state, err := g.State(ctx.Context(), identityID)
			switch {
			case err == nil:
			case IsAccountNotFound(err):
				// no profile, nothing to gate
				return hf(ctx)
			default:
				g.logger.Warn("rotation gate state lookup failed", "identity_id", identityID, "error", err)
				if g.exempt(ctx.Path()) {
					return hf(ctx)
				}
				return ctx.Redirect(g.rotationRoute, http.StatusSeeOther)
			}

			decision := g.Decide(state, ctx.Path())
			if decision.Allow {
				return hf(ctx)
			}

			return ctx.Redirect(decision.Redirect, http.StatusSeeOther)
		}
	}
}

func (g *RotationGate) canTransition(from, to RotationState) bool {
	if allowed, ok := g.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (g *RotationGate) exempt(path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, route := range []string{g.rotationRoute, g.signOutRoute} {
		route = strings.TrimSuffix(route, "/")
		if path == route || strings.HasPrefix(path, route+"/") {
			return true
		}
	}
	return false
}
