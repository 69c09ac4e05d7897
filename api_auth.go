package kiddoalert

import (
	"context"
	"net/http"
)

// AuthService handles session establishment endpoints.
type AuthService struct {
	client *APIClient
}

// Device authenticates this device anonymously in the given role and stores
// the returned tokens and user id.
func (s *AuthService) Device(ctx context.Context, role Role) (*AuthResponse, error) {
	deviceID, err := s.client.tokens.DeviceID()
	if err != nil {
		return nil, WrapOpError("device auth", "", err)
	}
	req := DeviceAuthRequest{DeviceID: deviceID, Mode: role}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return s.authenticate(ctx, "/auth/device", req)
}

// Register creates an email account and stores the returned session.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return s.authenticate(ctx, "/auth/register", req)
}

// Login signs in with email and password and stores the returned session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	deviceID, err := s.client.tokens.DeviceID()
	if err != nil {
		return nil, WrapOpError("login", email, err)
	}
	req := LoginRequest{Email: email, Password: password, DeviceID: deviceID}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return s.authenticate(ctx, "/auth/login", req)
}

// Logout revokes the session remotely. Local credentials are cleared even when
// the remote call fails; the remote error is still returned.
func (s *AuthService) Logout(ctx context.Context) error {
	err := s.client.call(ctx, request{method: http.MethodPost, path: "/auth/logout", authenticated: true}, nil)
	if clearErr := s.client.tokens.ClearTokens(); clearErr != nil && err == nil {
		err = clearErr
	}
	return err
}

func (s *AuthService) authenticate(ctx context.Context, path string, body interface{}) (*AuthResponse, error) {
	var resp AuthResponse
	if err := s.client.call(ctx, request{method: http.MethodPost, path: path, body: body}, &resp); err != nil {
		return nil, err
	}
	if err := s.client.tokens.SaveTokens(resp.AccessToken, resp.RefreshToken); err != nil {
		return nil, WrapOpError("save tokens", "", err)
	}
	if err := s.client.tokens.SaveUserID(resp.User.ID); err != nil {
		return nil, WrapOpError("save user id", resp.User.ID, err)
	}
	return &resp, nil
}

// UsersService handles the current user's profile endpoints.
type UsersService struct {
	client *APIClient
}

// Me returns the authenticated user.
func (s *UsersService) Me(ctx context.Context) (*APIUser, error) {
	var resp struct {
		User APIUser `json:"user"`
	}
	if err := s.client.call(ctx, request{method: http.MethodGet, path: "/users/me", authenticated: true}, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// Update patches the authenticated user.
func (s *UsersService) Update(ctx context.Context, req UpdateUserRequest) (*APIUser, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var resp struct {
		User APIUser `json:"user"`
	}
	if err := s.client.call(ctx, request{method: http.MethodPatch, path: "/users/me", body: req, authenticated: true}, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// Limits returns the plan limits and current usage.
func (s *UsersService) Limits(ctx context.Context) (*PlanLimits, error) {
	var resp PlanLimits
	if err := s.client.call(ctx, request{method: http.MethodGet, path: "/users/me/limits", authenticated: true}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Guardians lists the guardians linked to the authenticated child user.
func (s *UsersService) Guardians(ctx context.Context) ([]APIGuardian, error) {
	var resp struct {
		Guardians []APIGuardian `json:"guardians"`
	}
	if err := s.client.call(ctx, request{method: http.MethodGet, path: "/users/me/guardians", authenticated: true}, &resp); err != nil {
		return nil, err
	}
	return resp.Guardians, nil
}
