package kiddoalert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestAuthenticator(t *testing.T, backend *fakeBackend) (*Authenticator, *SecureStore) {
	t.Helper()
	tokens := NewMemorySecureStore()
	client, err := NewAPIClient(Config{BaseURL: backend.URL()}, tokens)
	require.NoError(t, err)
	a := NewAuthenticator(client, nil)
	t.Cleanup(a.Close)
	return a, tokens
}

func TestAuthenticator_StartsUnknown(t *testing.T) {
	a, _ := setupTestAuthenticator(t, newFakeBackend(t))
	assert.Equal(t, AuthUnknown, a.State().Status)
	assert.Equal(t, "unknown", a.State().Status.String())
	assert.Equal(t, Role(""), a.State().Role())
}

func TestAuthenticator_CheckWithoutToken(t *testing.T) {
	backend := newFakeBackend(t)
	a, _ := setupTestAuthenticator(t, backend)

	state := a.CheckAuthState(context.Background())
	assert.Equal(t, AuthUnauthenticated, state.Status)
	assert.Nil(t, state.Profile)
	assert.Empty(t, backend.Calls())
}

func TestAuthenticator_CheckWithValidToken(t *testing.T) {
	backend := newFakeBackend(t)
	backend.token = "access-ok"
	backend.userName = "Carla"
	a, tokens := setupTestAuthenticator(t, backend)
	require.NoError(t, tokens.SaveTokens("access-ok", "refresh-ok"))

	state := a.CheckAuthState(context.Background())
	require.True(t, state.Authenticated())
	assert.Equal(t, "Carla", state.Profile.Name)
	assert.Equal(t, RoleGuardian, state.Role())
	require.NotNil(t, state.Profile.Limits)
	assert.Equal(t, 10, state.Profile.Limits.Limits.MaxChildren)
	assert.False(t, a.NeedsProfileSetup())
}

func TestAuthenticator_CheckTransportFailureKeepsToken(t *testing.T) {
	tokens := NewMemorySecureStore()
	require.NoError(t, tokens.SaveTokens("access-1", "refresh-1"))
	client, err := NewAPIClient(Config{BaseURL: "http://127.0.0.1:1"}, tokens)
	require.NoError(t, err)
	a := NewAuthenticator(client, nil)
	defer a.Close()

	state := a.CheckAuthState(context.Background())
	assert.Equal(t, AuthUnauthenticated, state.Status)

	access, _ := tokens.AccessToken()
	assert.Equal(t, "access-1", access)
}

func TestAuthenticator_DeviceLoginAndLogout(t *testing.T) {
	backend := newFakeBackend(t)
	a, tokens := setupTestAuthenticator(t, backend)
	ctx := context.Background()

	var seen []AuthStatus
	unsubscribe := a.Subscribe(func(s AuthState) { seen = append(seen, s.Status) })
	defer unsubscribe()

	profile, err := a.AuthenticateDevice(ctx, RoleChild)
	require.NoError(t, err)
	assert.Equal(t, RoleChild, profile.Role)
	assert.Equal(t, "user-1", profile.UserID)
	assert.True(t, a.NeedsProfileSetup())

	a.Logout(ctx)
	assert.Equal(t, AuthUnauthenticated, a.State().Status)
	access, _ := tokens.AccessToken()
	assert.Empty(t, access)

	assert.Equal(t, []AuthStatus{AuthAuthenticated, AuthUnauthenticated}, seen)
}

func TestAuthenticator_LoginAndRegister(t *testing.T) {
	backend := newFakeBackend(t)
	a, _ := setupTestAuthenticator(t, backend)
	ctx := context.Background()

	_, err := a.Login(ctx, "not-an-email", "secret")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, AuthUnknown, a.State().Status)

	_, err = a.Register(ctx, "ana@example.com", "123", "Ana")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = a.Register(ctx, "ana@example.com", "secret1", "Ana")
	require.NoError(t, err)
	assert.True(t, a.State().Authenticated())

	_, err = a.Login(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.countCalls("POST /auth/register"))
	assert.Equal(t, 1, backend.countCalls("POST /auth/login"))
}

func TestAuthenticator_UpdateProfile(t *testing.T) {
	backend := newFakeBackend(t)
	a, _ := setupTestAuthenticator(t, backend)
	ctx := context.Background()

	_, err := a.UpdateProfile(ctx, "Carla", nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = a.AuthenticateDevice(ctx, RoleGuardian)
	require.NoError(t, err)

	role := RoleChild
	profile, err := a.UpdateProfile(ctx, "Carla", &role)
	require.NoError(t, err)
	assert.Equal(t, "Carla", profile.Name)
	assert.Equal(t, RoleChild, profile.Role)
	assert.NotNil(t, profile.Limits, "limits survive a profile edit")
	assert.Equal(t, AuthAuthenticated, a.State().Status)

	bad := Role("admin")
	_, err = a.UpdateProfile(ctx, "Carla", &bad)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAuthenticator_LimitsGates(t *testing.T) {
	backend := newFakeBackend(t)
	backend.limits.Current = Usage{Children: 10, Alerts: 2, Guardians: 2}
	a, _ := setupTestAuthenticator(t, backend)

	// Unknown limits never block.
	assert.True(t, a.CanAddChild())
	assert.True(t, a.CanAddAlert())

	_, err := a.AuthenticateDevice(context.Background(), RoleGuardian)
	require.NoError(t, err)

	assert.False(t, a.CanAddChild())
	assert.True(t, a.CanAddAlert())
	assert.False(t, a.CanAddGuardian())

	backend.mu.Lock()
	backend.limits.Current.Alerts = 3
	backend.mu.Unlock()

	limits, err := a.RefreshLimits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, limits.Current.Alerts)
	assert.False(t, a.CanAddAlert())
}

func TestAuthenticator_TerminalUnauthorizedSignsOut(t *testing.T) {
	backend := newFakeBackend(t)
	a, tokens := setupTestAuthenticator(t, backend)
	ctx := context.Background()

	_, err := a.AuthenticateDevice(ctx, RoleGuardian)
	require.NoError(t, err)

	backend.mu.Lock()
	backend.rejectAll = true
	backend.mu.Unlock()

	_, err = a.client.Children.List(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, AuthUnauthenticated, a.State().Status)

	access, _ := tokens.AccessToken()
	assert.Empty(t, access)
	deviceID, _ := tokens.DeviceID()
	assert.NotEmpty(t, deviceID)
}
