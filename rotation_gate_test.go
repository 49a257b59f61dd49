package accounts_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGate(t *testing.T, profiles *memProfiles, sink accounts.ActivitySink) *accounts.RotationGate {
	t.Helper()
	return accounts.NewRotationGate(profiles, testConfig(),
		accounts.WithRotationGateActivitySink(sink),
		accounts.WithRotationGateLogger(accounts.NoopLogger()),
		accounts.WithRotationGateClock(fixedClock()),
	)
}

func TestRotationGate_Decide(t *testing.T) {
	gate := newGate(t, newMemProfiles(), nil)
	rotate := testConfig().RotationRoute

	tests := []struct {
		name  string
		state accounts.RotationState
		path  string
		want  accounts.GateDecision
	}{
		{"normal session anywhere", accounts.RotationNormal, "/dashboard", accounts.GateDecision{Allow: true}},
		{"must rotate blocked", accounts.RotationMustRotate, "/dashboard", accounts.GateDecision{Redirect: rotate}},
		{"must rotate on form", accounts.RotationMustRotate, rotate, accounts.GateDecision{Allow: true}},
		{"must rotate on form trailing slash", accounts.RotationMustRotate, rotate + "/", accounts.GateDecision{Allow: true}},
		{"must rotate on form sub path", accounts.RotationMustRotate, rotate + "/confirm", accounts.GateDecision{Allow: true}},
		{"must rotate on sign out", accounts.RotationMustRotate, testConfig().SignOutRoute, accounts.GateDecision{Allow: true}},
		{"must rotate on look alike route", accounts.RotationMustRotate, rotate + "x", accounts.GateDecision{Redirect: rotate}},
		{"must rotate on root", accounts.RotationMustRotate, "/", accounts.GateDecision{Redirect: rotate}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.Decide(tt.state, tt.path))
		})
	}
}

func TestRotationGate_EnterSession(t *testing.T) {
	profiles := newMemProfiles()
	profiles.addMember("m-1", "m1@example.com", true)
	profiles.addAdmin("a-1", "a1@example.com", false)
	gate := newGate(t, profiles, nil)
	ctx := context.Background()

	state, err := gate.EnterSession(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, accounts.RotationMustRotate, state)

	state, err = gate.EnterSession(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, accounts.RotationNormal, state)

	_, err = gate.EnterSession(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, accounts.IsAccountNotFound(err))
}

func TestRotationGate_StateIsCachedUntilForgotten(t *testing.T) {
	profiles := newMemProfiles()
	profiles.addMember("m-1", "m1@example.com", true)
	gate := newGate(t, profiles, nil)
	ctx := context.Background()

	state, err := gate.State(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, accounts.RotationMustRotate, state)

	require.NoError(t, profiles.MarkCredentialRotated(ctx, accounts.RoleMember, "m-1", fixedClock()()))

	state, err = gate.State(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, accounts.RotationMustRotate, state, "cached state wins")

	gate.Forget("m-1")

	state, err = gate.State(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, accounts.RotationNormal, state)
}

func TestRotationGate_Transition(t *testing.T) {
	profiles := newMemProfiles()
	profiles.addMember("m-1", "m1@example.com", true)
	sink := &recordingSink{}
	gate := newGate(t, profiles, sink)
	ctx := context.Background()
	actor := accounts.ActorRef{ID: "m-1", Type: "user"}

	require.NoError(t, gate.Transition(ctx, actor, "m-1", accounts.RotationNormal))

	state, err := gate.State(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, accounts.RotationNormal, state)

	event := sink.last()
	assert.Equal(t, accounts.ActivityEventRotationStateChanged, event.EventType)
	assert.Equal(t, "MUST_ROTATE", event.Metadata["from"])
	assert.Equal(t, "NORMAL", event.Metadata["to"])
	assert.Equal(t, fixedClock()(), event.OccurredAt)

	require.NoError(t, gate.Transition(ctx, actor, "m-1", accounts.RotationNormal))
	assert.Len(t, sink.types(), 1, "same state transition is a no-op")

	require.NoError(t, gate.Transition(ctx, actor, "m-1", accounts.RotationMustRotate))
	assert.Len(t, sink.types(), 2)

	err = gate.Transition(ctx, actor, "m-1", accounts.RotationState("LOCKED"))
	require.Error(t, err)
	assert.True(t, accounts.HasTextCode(err, "INVALID_ROTATION_TRANSITION"))
}

func gatedServer(t *testing.T, gate *accounts.RotationGate) http.Handler {
	t.Helper()

	srv := router.NewHTTPServer()
	r := srv.Router()
	r.Use(gate.Middleware(func(ctx router.Context) (string, bool) {
		id := ctx.Header("X-Identity")
		return id, id != ""
	}))

	ok := func(ctx router.Context) error {
		return ctx.Send([]byte("ok"))
	}
	r.Get("/dashboard", ok)
	r.Get(testConfig().RotationRoute, ok)
	r.Get(testConfig().SignOutRoute, ok)

	return srv.WrappedRouter()
}

func serve(h http.Handler, path, identityID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if identityID != "" {
		req.Header.Set("X-Identity", identityID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRotationGate_Middleware(t *testing.T) {
	profiles := newMemProfiles()
	profiles.addMember("m-1", "m1@example.com", true)
	profiles.addMember("m-2", "m2@example.com", false)
	h := gatedServer(t, newGate(t, profiles, nil))
	rotate := testConfig().RotationRoute

	tests := []struct {
		name     string
		path     string
		identity string
		status   int
		location string
	}{
		{"anonymous passes", "/dashboard", "", http.StatusOK, ""},
		{"normal session passes", "/dashboard", "m-2", http.StatusOK, ""},
		{"must rotate is redirected", "/dashboard", "m-1", http.StatusSeeOther, rotate},
		{"must rotate reaches the form", rotate, "m-1", http.StatusOK, ""},
		{"must rotate can sign out", testConfig().SignOutRoute, "m-1", http.StatusOK, ""},
		{"unknown account is not gated", "/dashboard", "ghost", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.path, tt.identity)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.location, rec.Header().Get("Location"))
		})
	}
}

func TestRotationGate_MiddlewareFailsClosed(t *testing.T) {
	profiles := newMemProfiles()
	profiles.addMember("m-1", "m1@example.com", false)
	profiles.findErr = errors.New("connection reset")
	h := gatedServer(t, newGate(t, profiles, nil))

	rec := serve(h, "/dashboard", "m-1")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, testConfig().RotationRoute, rec.Header().Get("Location"))

	rec = serve(h, testConfig().RotationRoute, "m-1")
	assert.Equal(t, http.StatusOK, rec.Code, "exempt routes stay reachable")

	rec = serve(h, testConfig().SignOutRoute, "m-1")
	assert.Equal(t, http.StatusOK, rec.Code)
}
