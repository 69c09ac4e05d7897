package kiddoalert

import (
	"context"
	"net/http"
	"net/url"
)

// InvitesService handles invite lookup, acceptance and guardian invites.
type InvitesService struct {
	client *APIClient
}

func invitePath(token string, suffix ...string) string {
	p := "/invites/" + url.PathEscape(token)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// Get looks up an invite without authentication.
func (s *InvitesService) Get(ctx context.Context, token string) (*InviteDetailsResponse, error) {
	var resp InviteDetailsResponse
	if err := s.client.call(ctx, request{method: http.MethodGet, path: invitePath(token)}, &resp); err != nil {
		return nil, WrapOpError("get invite", token, err)
	}
	return &resp, nil
}

// Accept links the authenticated user through an invite.
func (s *InvitesService) Accept(ctx context.Context, token string) error {
	err := s.client.call(ctx, request{method: http.MethodPost, path: invitePath(token, "accept"), authenticated: true}, nil)
	return WrapOpError("accept invite", token, err)
}

// CreateGuardianInvite mints an invite that adds a second guardian to a child.
func (s *InvitesService) CreateGuardianInvite(ctx context.Context, childID string) (*InviteResponse, error) {
	req := CreateInviteRequest{Type: InviteAddGuardian, ChildID: childID}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var resp InviteResponse
	if err := s.client.call(ctx, request{method: http.MethodPost, path: "/invites", body: req, authenticated: true}, &resp); err != nil {
		return nil, WrapOpError("create invite", childID, err)
	}
	return &resp, nil
}

// DevicesService handles push token registration.
type DevicesService struct {
	client *APIClient
}

// RegisterToken registers a push token. An empty platform uses DefaultPushPlatform.
func (s *DevicesService) RegisterToken(ctx context.Context, pushToken, platform string) error {
	return s.send(ctx, http.MethodPost, pushToken, platform)
}

// UnregisterToken removes a push token.
func (s *DevicesService) UnregisterToken(ctx context.Context, pushToken, platform string) error {
	return s.send(ctx, http.MethodDelete, pushToken, platform)
}

func (s *DevicesService) send(ctx context.Context, method, pushToken, platform string) error {
	if platform == "" {
		platform = DefaultPushPlatform
	}
	req := DeviceTokenRequest{PushToken: pushToken, Platform: platform}
	if err := validateStruct(req); err != nil {
		return err
	}
	return s.client.call(ctx, request{method: method, path: "/devices/token", body: req, authenticated: true}, nil)
}

// SubscriptionsService handles plan purchase verification.
type SubscriptionsService struct {
	client *APIClient
}

// Verify submits a store receipt for validation.
func (s *SubscriptionsService) Verify(ctx context.Context, receiptData string) error {
	req := VerifyReceiptRequest{AppleReceiptData: receiptData}
	if err := validateStruct(req); err != nil {
		return err
	}
	return s.client.call(ctx, request{method: http.MethodPost, path: "/subscriptions/verify", body: req, authenticated: true}, nil)
}

// Status returns the current subscription state.
func (s *SubscriptionsService) Status(ctx context.Context) (*SubscriptionStatusResponse, error) {
	var resp SubscriptionStatusResponse
	if err := s.client.call(ctx, request{method: http.MethodGet, path: "/subscriptions/status", authenticated: true}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
