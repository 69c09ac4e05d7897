package kiddoalert

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBackend is an in-memory KiddoAlert service for reconciler and auth tests.
type fakeBackend struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	token    string
	userMode string
	userName string
	limits   PlanLimits
	children []APIChild
	alerts   []APIAlert
	events   []APIHistoryEvent
	calls    []string
	seq      int

	// Behavior switches.
	echoClientRef    bool
	failChildCreate  bool
	failAlertCreate  bool
	failLogout       bool
	rejectAll        bool
	blockAlertCreate chan struct{}
	locationUpdates  []LocationUpdateRequest
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		t:             t,
		userMode:      string(RoleGuardian),
		echoClientRef: true,
		limits: PlanLimits{
			Plan:   "free",
			Limits: Limits{MaxAlerts: 3, MaxChildren: 10, MaxGuardians: 2, HistoryDays: 7},
		},
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) URL() string { return b.server.URL }

func (b *fakeBackend) nextID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s-%d", prefix, b.seq)
}

// Calls returns the "METHOD /path" log of every request received.
func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) countCalls(call string) int {
	n := 0
	for _, c := range b.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (b *fakeBackend) user() map[string]interface{} {
	u := map[string]interface{}{"id": "user-1", "mode": b.userMode, "plan": b.limits.Plan}
	if b.userName != "" {
		u["name"] = b.userName
	}
	return u
}

func (b *fakeBackend) issue(w http.ResponseWriter) {
	b.token = b.nextID("access")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken":  b.token,
		"refreshToken": "refresh-" + b.token,
		"user":         b.user(),
	})
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.calls = append(b.calls, r.Method+" "+r.URL.Path)
	block := b.blockAlertCreate
	b.mu.Unlock()

	if block != nil && r.Method == http.MethodPost && r.URL.Path == "/alerts" {
		<-block
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !strings.HasPrefix(r.URL.Path, "/auth/") || r.URL.Path == "/auth/logout" {
		if b.rejectAll || b.token == "" || bearer(r) != b.token {
			writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
	}

	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/auth/device":
		var req DeviceAuthRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.userMode = string(req.Mode)
		b.issue(w)
	case r.URL.Path == "/auth/login", r.URL.Path == "/auth/register":
		b.issue(w)
	case r.URL.Path == "/auth/refresh":
		if b.rejectAll {
			writeAPIError(w, http.StatusUnauthorized, "INVALID_REFRESH", "revoked")
			return
		}
		b.issue(w)
	case r.URL.Path == "/auth/logout":
		if b.failLogout {
			writeAPIError(w, http.StatusInternalServerError, "BOOM", "down")
			return
		}
		b.token = ""
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case r.URL.Path == "/users/me" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": b.user()})
	case r.URL.Path == "/users/me" && r.Method == http.MethodPatch:
		var req UpdateUserRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Name != nil {
			b.userName = *req.Name
		}
		if req.Mode != nil {
			b.userMode = string(*req.Mode)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": b.user()})
	case r.URL.Path == "/users/me/limits":
		writeJSON(w, http.StatusOK, b.limits)

	case r.URL.Path == "/children" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"children": b.children})
	case r.URL.Path == "/children" && r.Method == http.MethodPost:
		if b.failChildCreate {
			writeAPIError(w, http.StatusForbidden, limitExceededCode, "upgrade")
			return
		}
		var req CreateChildRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		child := APIChild{ID: b.nextID("srv-child"), Name: req.Name, IsSharing: true}
		b.children = append(b.children, child)
		writeJSON(w, http.StatusCreated, CreateChildResponse{
			Child:           child,
			InviteToken:     "INV-" + child.ID,
			InviteExpiresAt: time.Now().Add(24 * time.Hour),
		})
	case len(segments) == 2 && segments[0] == "children" && r.Method == http.MethodDelete:
		for i, c := range b.children {
			if c.ID == segments[1] {
				b.children = append(b.children[:i], b.children[i+1:]...)
				break
			}
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case len(segments) == 2 && segments[0] == "children" && r.Method == http.MethodPatch:
		writeJSON(w, http.StatusOK, map[string]interface{}{"child": APIChild{ID: segments[1]}})

	case r.URL.Path == "/alerts" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": b.alerts})
	case r.URL.Path == "/alerts" && r.Method == http.MethodPost:
		if b.failAlertCreate {
			writeAPIError(w, http.StatusInternalServerError, "DB_DOWN", "try later")
			return
		}
		var req CreateAlertRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		alert := APIAlert{
			ID:        b.nextID("srv-alert"),
			Name:      req.Name,
			Address:   req.Address,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Radius:    req.Radius,
			IsActive:  true,
		}
		if req.ChildID != "" {
			alert.Child = &APIAlertChild{ID: req.ChildID}
		}
		if b.echoClientRef && req.ClientRef != "" {
			ref := req.ClientRef
			alert.ClientRef = &ref
		}
		b.alerts = append(b.alerts, alert)
		writeJSON(w, http.StatusCreated, map[string]interface{}{"alert": alert})
	case len(segments) == 2 && segments[0] == "alerts" && r.Method == http.MethodPatch:
		writeJSON(w, http.StatusOK, map[string]interface{}{"alert": APIAlert{ID: segments[1]}})
	case len(segments) == 2 && segments[0] == "alerts" && r.Method == http.MethodDelete:
		for i, a := range b.alerts {
			if a.ID == segments[1] {
				b.alerts = append(b.alerts[:i], b.alerts[i+1:]...)
				break
			}
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case r.URL.Path == "/location/update":
		var req LocationUpdateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.locationUpdates = append(b.locationUpdates, req)
		writeJSON(w, http.StatusOK, LocationUpdateResponse{Success: true})
	case r.URL.Path == "/location/pause", r.URL.Path == "/location/resume":
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case r.URL.Path == "/history":
		writeJSON(w, http.StatusOK, HistoryResponse{Events: b.events})

	default:
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", r.URL.Path)
	}
}
