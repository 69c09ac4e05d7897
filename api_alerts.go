package kiddoalert

import (
	"context"
	"net/http"
	"net/url"
)

// AlertsService handles geofence alert endpoints.
type AlertsService struct {
	client *APIClient
}

func alertPath(id string) string {
	return "/alerts/" + url.PathEscape(id)
}

// List returns alerts, optionally filtered to one child.
func (s *AlertsService) List(ctx context.Context, childID string) ([]APIAlert, error) {
	var query url.Values
	if childID != "" {
		query = url.Values{"childId": {childID}}
	}
	var resp struct {
		Alerts []APIAlert `json:"alerts"`
	}
	if err := s.client.call(ctx, request{method: http.MethodGet, path: "/alerts", query: query, authenticated: true}, &resp); err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

// Create adds an alert.
func (s *AlertsService) Create(ctx context.Context, req CreateAlertRequest) (*APIAlert, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var resp struct {
		Alert APIAlert `json:"alert"`
	}
	if err := s.client.call(ctx, request{method: http.MethodPost, path: "/alerts", body: req, authenticated: true}, &resp); err != nil {
		return nil, WrapOpError("create alert", req.Name, err)
	}
	return &resp.Alert, nil
}

// Update patches an alert.
func (s *AlertsService) Update(ctx context.Context, id string, req UpdateAlertRequest) (*APIAlert, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var resp struct {
		Alert APIAlert `json:"alert"`
	}
	if err := s.client.call(ctx, request{method: http.MethodPatch, path: alertPath(id), body: req, authenticated: true}, &resp); err != nil {
		return nil, WrapOpError("update alert", id, err)
	}
	return &resp.Alert, nil
}

// Delete removes an alert.
func (s *AlertsService) Delete(ctx context.Context, id string) error {
	err := s.client.call(ctx, request{method: http.MethodDelete, path: alertPath(id), authenticated: true}, nil)
	return WrapOpError("delete alert", id, err)
}
