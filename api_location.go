package kiddoalert

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// LocationService handles position reporting for the child role.
type LocationService struct {
	client *APIClient
}

// Update reports a position fix.
func (s *LocationService) Update(ctx context.Context, req LocationUpdateRequest) (*LocationUpdateResponse, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var resp LocationUpdateResponse
	if err := s.client.call(ctx, request{method: http.MethodPost, path: "/location/update", body: req, authenticated: true}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pause stops location sharing.
func (s *LocationService) Pause(ctx context.Context) error {
	return s.client.call(ctx, request{method: http.MethodPost, path: "/location/pause", authenticated: true}, nil)
}

// Resume restarts location sharing.
func (s *LocationService) Resume(ctx context.Context) error {
	return s.client.call(ctx, request{method: http.MethodPost, path: "/location/resume", authenticated: true}, nil)
}

// HistoryService handles the event history endpoint.
type HistoryService struct {
	client *APIClient
}

// List returns events from the last days days, optionally for one child.
// days <= 0 uses DefaultRemoteHistoryDays.
func (s *HistoryService) List(ctx context.Context, days int, childID string) (*HistoryResponse, error) {
	if days <= 0 {
		days = DefaultRemoteHistoryDays
	}
	query := url.Values{"days": {strconv.Itoa(days)}}
	if childID != "" {
		query.Set("childId", childID)
	}
	var resp HistoryResponse
	if err := s.client.call(ctx, request{method: http.MethodGet, path: "/history", query: query, authenticated: true}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
