package auth0_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/auth0/go-auth0/authentication"
	"github.com/auth0/go-auth0/authentication/oauth"
	"github.com/auth0/go-auth0/management"
	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/provider/auth0"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTenant struct {
	mu      sync.Mutex
	users   map[string]map[string]any
	created []map[string]any
	updated map[string]map[string]any
	nextID  int
}

func newFakeTenant() *fakeTenant {
	return &fakeTenant{
		users:   map[string]map[string]any{},
		updated: map[string]map[string]any{},
	}
}

func (f *fakeTenant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v2/users":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.created = append(f.created, body)

		email, _ := body["email"].(string)
		for _, u := range f.users {
			if u["email"] == email {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"statusCode":409,"error":"Conflict","message":"The user already exists."}`))
				return
			}
		}

		f.nextID++
		id := "auth0|" + strings.Repeat("a", f.nextID)
		user := map[string]any{
			"user_id":      id,
			"email":        email,
			"app_metadata": body["app_metadata"],
		}
		f.users[id] = user

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(user)

	case r.Method == http.MethodGet && r.URL.Path == "/api/v2/users-by-email":
		email := r.URL.Query().Get("email")
		out := []map[string]any{}
		for _, u := range f.users {
			if u["email"] == email {
				out = append(out, u)
			}
		}
		_ = json.NewEncoder(w).Encode(out)

	case strings.HasPrefix(r.URL.Path, "/api/v2/users/"):
		id := strings.TrimPrefix(r.URL.Path, "/api/v2/users/")
		if _, ok := f.users[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"statusCode":404,"error":"Not Found","message":"The user does not exist."}`))
			return
		}

		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(f.users[id])
		case http.MethodDelete:
			delete(f.users, id)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodPatch:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.updated[id] = body
			_ = json.NewEncoder(w).Encode(f.users[id])
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"statusCode":404,"error":"Not Found","message":"unknown route"}`))
	}
}

func setupStore(t *testing.T, opts ...auth0.IdentityStoreOption) (*auth0.IdentityStore, *fakeTenant, func()) {
	t.Helper()

	tenant := newFakeTenant()
	server := httptest.NewServer(tenant)

	client, err := management.New(
		strings.TrimPrefix(server.URL, "http://"),
		management.WithInsecure(),
	)
	require.NoError(t, err)

	cfg := auth0.DefaultConfig("", "", "")
	cfg.RequestsPerSecond = 0

	return auth0.NewIdentityStoreWithClient(client, cfg, opts...), tenant, server.Close
}

func TestIdentityStore_CreateAndFind(t *testing.T) {
	store, tenant, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()
	metadata := accounts.ProvisioningRequest{
		Email:    "ada@example.com",
		FullName: "Ada Lovelace",
		Role:     accounts.RoleMember,
	}.IdentityMetadata()

	identity, err := store.CreateIdentity(ctx, "Ada@Example.com", "Sup3r$ecret", metadata)
	require.NoError(t, err)
	assert.Equal(t, "auth0|a", identity.ID)
	assert.Equal(t, "ada@example.com", identity.Email)

	require.Len(t, tenant.created, 1)
	assert.Equal(t, auth0.DefaultConnection, tenant.created[0]["connection"])
	assert.Equal(t, "Sup3r$ecret", tenant.created[0]["password"])
	appMetadata, ok := tenant.created[0]["app_metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "member", appMetadata[accounts.MetadataRole])
	assert.Equal(t, true, appMetadata[accounts.MetadataCreatedByAdmin])

	found, err := store.FindIdentityByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, identity.ID, found.ID)

	missing, err := store.FindIdentityByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIdentityStore_CreateConflict(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()
	_, err := store.CreateIdentity(ctx, "dup@example.com", "Sup3r$ecret", nil)
	require.NoError(t, err)

	_, err = store.CreateIdentity(ctx, "dup@example.com", "Sup3r$ecret", nil)
	require.Error(t, err)
	assert.True(t, accounts.IsIdentityConflict(err))
}

func TestIdentityStore_DeleteAndUpdate(t *testing.T) {
	store, tenant, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()
	identity, err := store.CreateIdentity(ctx, "gone@example.com", "Sup3r$ecret", nil)
	require.NoError(t, err)

	require.NoError(t, store.UpdateCredential(ctx, identity.ID, "N3w$ecret!"))
	assert.Equal(t, "N3w$ecret!", tenant.updated[identity.ID]["password"])

	require.NoError(t, store.DeleteIdentity(ctx, identity.ID))

	err = store.DeleteIdentity(ctx, identity.ID)
	require.Error(t, err)
	assert.True(t, accounts.IsIdentityNotFound(err))

	err = store.UpdateCredential(ctx, identity.ID, "N3w$ecret!")
	require.Error(t, err)
	assert.True(t, accounts.IsIdentityNotFound(err))
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, auth0.Config{}.Validate())
	assert.NoError(t, auth0.DefaultConfig("tenant.auth0.com", "id", "secret").Validate())
}

type fakeGrant struct {
	secrets map[string]string
	realms  []string
}

func (g *fakeGrant) LoginWithPassword(_ context.Context, body oauth.LoginWithPasswordRequest, _ oauth.IDTokenValidationOptions, _ ...authentication.RequestOption) (*oauth.TokenSet, error) {
	g.realms = append(g.realms, body.Realm)
	if g.secrets[body.Username] != body.Password {
		return nil, &authentication.Error{StatusCode: http.StatusForbidden, Err: "invalid_grant", Message: "Wrong email or password."}
	}
	return &oauth.TokenSet{AccessToken: "token"}, nil
}

func TestIdentityStore_VerifyCredential(t *testing.T) {
	grant := &fakeGrant{secrets: map[string]string{"ada@example.com": "Sup3r$ecret"}}
	store, _, cleanup := setupStore(t, auth0.WithPasswordGrant(grant))
	defer cleanup()

	ctx := context.Background()
	identity, err := store.CreateIdentity(ctx, "ada@example.com", "Sup3r$ecret", nil)
	require.NoError(t, err)

	require.NoError(t, store.VerifyCredential(ctx, identity.ID, "Sup3r$ecret"))
	assert.Equal(t, []string{auth0.DefaultConnection}, grant.realms)

	err = store.VerifyCredential(ctx, identity.ID, "stale")
	require.Error(t, err)
	assert.True(t, accounts.IsInvalidCredentials(err))

	err = store.VerifyCredential(ctx, "auth0|missing", "Sup3r$ecret")
	require.Error(t, err)
	assert.True(t, accounts.IsIdentityNotFound(err))
}

func TestIdentityStore_VerifyCredentialWithoutGrant(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	err := store.VerifyCredential(context.Background(), "auth0|a", "anything")
	require.Error(t, err, "fails closed when no grant client is configured")
	assert.False(t, accounts.IsInvalidCredentials(err))
}

type recordingMirror struct {
	mu        sync.Mutex
	mirrored  map[string]*accounts.Identity
	mirrorErr error
}

func (m *recordingMirror) MirrorIdentity(_ context.Context, identity *accounts.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mirrorErr != nil {
		return m.mirrorErr
	}
	m.mirrored[identity.ID] = identity
	return nil
}

func (m *recordingMirror) ForgetIdentity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mirrored, id)
	return nil
}

func TestIdentityStore_MirrorsIdentities(t *testing.T) {
	mirror := &recordingMirror{mirrored: map[string]*accounts.Identity{}}
	store, _, cleanup := setupStore(t, auth0.WithIdentityMirror(mirror))
	defer cleanup()

	ctx := context.Background()
	metadata := accounts.ProvisioningRequest{
		Email:    "m@example.com",
		FullName: "Member",
		Role:     accounts.RoleMember,
	}.IdentityMetadata()

	identity, err := store.CreateIdentity(ctx, "m@example.com", "Sup3r$ecret", metadata)
	require.NoError(t, err)

	require.Contains(t, mirror.mirrored, identity.ID)
	assert.Equal(t, "m@example.com", mirror.mirrored[identity.ID].Email)
	assert.Equal(t, "member", mirror.mirrored[identity.ID].Metadata[accounts.MetadataRole])

	require.NoError(t, store.DeleteIdentity(ctx, identity.ID))
	assert.Empty(t, mirror.mirrored)
}

func TestIdentityStore_MirrorFailureUndoesRemoteUser(t *testing.T) {
	mirror := &recordingMirror{mirrored: map[string]*accounts.Identity{}, mirrorErr: errors.New("disk full")}
	store, tenant, cleanup := setupStore(t, auth0.WithIdentityMirror(mirror))
	defer cleanup()

	_, err := store.CreateIdentity(context.Background(), "m@example.com", "Sup3r$ecret", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, tenant.users)
}
