package kiddoalert

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// AuthStatus is the tag of an AuthState.
type AuthStatus int

const (
	AuthUnknown AuthStatus = iota
	AuthUnauthenticated
	AuthAuthenticated
)

func (s AuthStatus) String() string {
	switch s {
	case AuthUnauthenticated:
		return "unauthenticated"
	case AuthAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// AuthState is the session identity. Profile is set only when Status is
// AuthAuthenticated.
type AuthState struct {
	Status  AuthStatus
	Profile *Profile
}

// Authenticated reports whether the state carries a profile.
func (s AuthState) Authenticated() bool {
	return s.Status == AuthAuthenticated && s.Profile != nil
}

// Role returns the profile role, or "" when not authenticated.
func (s AuthState) Role() Role {
	if !s.Authenticated() {
		return ""
	}
	return s.Profile.Role
}

// Authenticator tracks session identity and role. It starts in AuthUnknown
// and only leaves it through CheckAuthState or an explicit login.
type Authenticator struct {
	client *APIClient
	logger *slog.Logger

	mu           sync.Mutex
	state        AuthState
	listeners    map[int]func(AuthState)
	nextListener int

	detach func()
}

// NewAuthenticator creates an Authenticator bound to client. A terminal
// Unauthorized from client moves the state to AuthUnauthenticated.
func NewAuthenticator(client *APIClient, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Authenticator{
		client:    client,
		logger:    logger,
		listeners: make(map[int]func(AuthState)),
	}
	a.detach = client.OnAuthFailure(a.HandleAuthFailure)
	return a
}

// Close stops listening for auth failures from the client.
func (a *Authenticator) Close() {
	if a.detach != nil {
		a.detach()
	}
}

// State returns the current state.
func (a *Authenticator) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Subscribe registers fn for every state change and returns an unsubscribe func.
func (a *Authenticator) Subscribe(fn func(AuthState)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *Authenticator) setState(s AuthState) {
	a.mu.Lock()
	a.state = s
	ids := make([]int, 0, len(a.listeners))
	for id := range a.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(AuthState), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, a.listeners[id])
	}
	a.mu.Unlock()

	a.logger.Debug("auth state changed", slog.String("status", s.Status.String()))
	for _, fn := range fns {
		fn(s)
	}
}

func (a *Authenticator) setUnauthenticated() {
	a.setState(AuthState{Status: AuthUnauthenticated})
}

// CheckAuthState resolves stored credentials. Without a token the session is
// unauthenticated. A rejected token is cleared; a transport failure keeps the
// token for the next check but still reports unauthenticated.
func (a *Authenticator) CheckAuthState(ctx context.Context) AuthState {
	token, err := a.client.tokens.AccessToken()
	if err != nil || token == "" {
		a.setUnauthenticated()
		return a.State()
	}

	user, err := a.client.Users.Me(ctx)
	if err != nil {
		a.logger.Warn("session verification failed",
			slog.String("op", "check_auth"),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, ErrUnauthorized) {
			if clearErr := a.client.tokens.ClearTokens(); clearErr != nil {
				a.logger.Warn("clear tokens failed", slog.String("error", clearErr.Error()))
			}
		}
		a.setUnauthenticated()
		return a.State()
	}

	profile := user.Profile()
	a.attachLimits(ctx, profile)
	a.setState(AuthState{Status: AuthAuthenticated, Profile: profile})
	return a.State()
}

// attachLimits fetches plan limits into profile. Failures leave Limits nil.
func (a *Authenticator) attachLimits(ctx context.Context, profile *Profile) {
	limits, err := a.client.Users.Limits(ctx)
	if err != nil {
		a.logger.Debug("limits unavailable",
			slog.String("op", "limits"),
			slog.String("error", err.Error()),
		)
		return
	}
	profile.Limits = limits
}

// AuthenticateDevice signs this device in anonymously with role.
func (a *Authenticator) AuthenticateDevice(ctx context.Context, role Role) (*Profile, error) {
	resp, err := a.client.Auth.Device(ctx, role)
	if err != nil {
		return nil, err
	}
	return a.establish(ctx, resp), nil
}

// Login signs in with email and password.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*Profile, error) {
	resp, err := a.client.Auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return a.establish(ctx, resp), nil
}

// Register creates an email account and signs in.
func (a *Authenticator) Register(ctx context.Context, email, password, name string) (*Profile, error) {
	resp, err := a.client.Auth.Register(ctx, RegisterRequest{Email: email, Password: password, Name: name})
	if err != nil {
		return nil, err
	}
	return a.establish(ctx, resp), nil
}

func (a *Authenticator) establish(ctx context.Context, resp *AuthResponse) *Profile {
	profile := resp.User.Profile()
	a.attachLimits(ctx, profile)
	a.setState(AuthState{Status: AuthAuthenticated, Profile: profile})
	a.logger.Info("signed in",
		slog.String("user_id", profile.UserID),
		slog.String("role", string(profile.Role)),
	)
	return profile
}

// Logout ends the session. The local session is always cleared; a remote
// failure is logged only.
func (a *Authenticator) Logout(ctx context.Context) {
	if err := a.client.Auth.Logout(ctx); err != nil {
		a.logger.Warn("remote logout failed",
			slog.String("op", "logout"),
			slog.String("error", err.Error()),
		)
	}
	a.setUnauthenticated()
}

// UpdateProfile changes the display name and optionally the role. The state
// stays authenticated with the updated profile.
func (a *Authenticator) UpdateProfile(ctx context.Context, name string, role *Role) (*Profile, error) {
	current := a.State()
	if !current.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	req := UpdateUserRequest{Name: stringPtr(name)}
	if role != nil {
		if !role.Valid() {
			return nil, NewValidationError("role", "unknown role")
		}
		req.Mode = role
	}
	user, err := a.client.Users.Update(ctx, req)
	if err != nil {
		return nil, err
	}
	profile := user.Profile()
	profile.Limits = current.Profile.Limits
	a.setState(AuthState{Status: AuthAuthenticated, Profile: profile})
	return profile, nil
}

// RefreshLimits re-reads plan limits into the current profile.
func (a *Authenticator) RefreshLimits(ctx context.Context) (*PlanLimits, error) {
	current := a.State()
	if !current.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	limits, err := a.client.Users.Limits(ctx)
	if err != nil {
		return nil, err
	}
	profile := *current.Profile
	profile.Limits = limits
	a.setState(AuthState{Status: AuthAuthenticated, Profile: &profile})
	return limits, nil
}

// HandleAuthFailure clears stored credentials and drops to unauthenticated.
func (a *Authenticator) HandleAuthFailure() {
	if err := a.client.tokens.ClearTokens(); err != nil {
		a.logger.Warn("clear tokens failed", slog.String("error", err.Error()))
	}
	if a.State().Status == AuthUnauthenticated {
		return
	}
	a.logger.Warn("session rejected, signing out")
	a.setUnauthenticated()
}

func (a *Authenticator) limits() *PlanLimits {
	s := a.State()
	if !s.Authenticated() {
		return nil
	}
	return s.Profile.Limits
}

// CanAddChild reports whether the plan allows another child. Unknown limits allow it.
func (a *Authenticator) CanAddChild() bool {
	l := a.limits()
	return l == nil || l.Current.Children < l.Limits.MaxChildren
}

// CanAddAlert reports whether the plan allows another alert.
func (a *Authenticator) CanAddAlert() bool {
	l := a.limits()
	return l == nil || l.Current.Alerts < l.Limits.MaxAlerts
}

// CanAddGuardian reports whether the plan allows another guardian.
func (a *Authenticator) CanAddGuardian() bool {
	l := a.limits()
	return l == nil || l.Current.Guardians < l.Limits.MaxGuardians
}

// NeedsProfileSetup reports whether the signed-in user has no display name yet.
func (a *Authenticator) NeedsProfileSetup() bool {
	s := a.State()
	return s.Authenticated() && s.Profile.Name == ""
}
