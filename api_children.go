package kiddoalert

import (
	"context"
	"net/http"
	"net/url"
)

// ChildrenService handles child management endpoints.
type ChildrenService struct {
	client *APIClient
}

func childPath(id string, suffix ...string) string {
	p := "/children/" + url.PathEscape(id)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// List returns every child visible to the authenticated guardian.
func (s *ChildrenService) List(ctx context.Context) ([]APIChild, error) {
	var resp struct {
		Children []APIChild `json:"children"`
	}
	if err := s.client.call(ctx, request{method: http.MethodGet, path: "/children", authenticated: true}, &resp); err != nil {
		return nil, err
	}
	return resp.Children, nil
}

// Get returns a child with its alerts, recent history and guardians.
func (s *ChildrenService) Get(ctx context.Context, id string) (*APIChildDetail, error) {
	var resp struct {
		Child APIChildDetail `json:"child"`
	}
	if err := s.client.call(ctx, request{method: http.MethodGet, path: childPath(id), authenticated: true}, &resp); err != nil {
		return nil, WrapOpError("get child", id, err)
	}
	return &resp.Child, nil
}

// Create adds a child and returns it with a fresh invite token.
func (s *ChildrenService) Create(ctx context.Context, name string) (*CreateChildResponse, error) {
	req := CreateChildRequest{Name: name}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var resp CreateChildResponse
	if err := s.client.call(ctx, request{method: http.MethodPost, path: "/children", body: req, authenticated: true}, &resp); err != nil {
		return nil, WrapOpError("create child", name, err)
	}
	return &resp, nil
}

// Update renames a child.
func (s *ChildrenService) Update(ctx context.Context, id string, req UpdateChildRequest) (*APIChild, error) {
	var resp struct {
		Child APIChild `json:"child"`
	}
	if err := s.client.call(ctx, request{method: http.MethodPatch, path: childPath(id), body: req, authenticated: true}, &resp); err != nil {
		return nil, WrapOpError("update child", id, err)
	}
	return &resp.Child, nil
}

// Delete removes a child and, server side, its alerts.
func (s *ChildrenService) Delete(ctx context.Context, id string) error {
	err := s.client.call(ctx, request{method: http.MethodDelete, path: childPath(id), authenticated: true}, nil)
	return WrapOpError("delete child", id, err)
}

// Invite mints a new invite token for linking the child's device.
func (s *ChildrenService) Invite(ctx context.Context, id string) (*InviteResponse, error) {
	var resp InviteResponse
	if err := s.client.call(ctx, request{method: http.MethodPost, path: childPath(id, "invite"), authenticated: true}, &resp); err != nil {
		return nil, WrapOpError("invite child", id, err)
	}
	return &resp, nil
}
