package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupDemoMirror(t *testing.T) *kiddoalert.Reconciler {
	t.Helper()
	r, err := kiddoalert.New(kiddoalert.Config{BaseURL: "http://127.0.0.1:1"}, kiddoalert.Options{
		Store:  kiddoalert.NewMemoryStore(),
		Tokens: kiddoalert.NewMemorySecureStore(),
		Logger: discard,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.Bootstrap(context.Background()))
	r.Wait()
	return r
}

type envelopeOf[T any] struct {
	Data  T         `json:"data"`
	Error *apiError `json:"error"`
}

func get[T any](t *testing.T, h http.Handler, path string) (int, envelopeOf[T]) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body envelopeOf[T]
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	h := New(setupDemoMirror(t), discard).Handler()

	code, body := get[map[string]string](t, h, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Data["status"])
}

func TestStatus(t *testing.T) {
	h := New(setupDemoMirror(t), discard).Handler()

	code, body := get[statusView](t, h, "/v1/status")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "unauthenticated", body.Data.Auth)
	assert.Equal(t, "guardian", body.Data.Role)
	assert.False(t, body.Data.Polling)
	assert.Equal(t, 2, body.Data.Children)
	assert.Equal(t, 2, body.Data.Alerts)
	assert.Equal(t, 4, body.Data.History)
	assert.Equal(t, 2, body.Data.Regions)
	assert.Empty(t, body.Data.LastError)
}

func TestChildren(t *testing.T) {
	mirror := setupDemoMirror(t)
	h := New(mirror, discard).Handler()

	code, body := get[[]kiddoalert.Child](t, h, "/v1/children")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "João", body.Data[0].Name)

	id := body.Data[1].ID
	code, one := get[kiddoalert.Child](t, h, "/v1/children/"+id)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Maria", one.Data.Name)
	assert.Equal(t, kiddoalert.StatusAtHome, one.Data.Status)

	code, missing := get[kiddoalert.Child](t, h, "/v1/children/nope")
	assert.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, missing.Error)
	assert.Equal(t, "not_found", missing.Error.Code)
}

func TestAlertsFilter(t *testing.T) {
	mirror := setupDemoMirror(t)
	h := New(mirror, discard).Handler()

	_, all := get[[]kiddoalert.Alert](t, h, "/v1/alerts")
	assert.Len(t, all.Data, 2)

	_, none := get[[]kiddoalert.Alert](t, h, "/v1/alerts?child_id=someone")
	assert.Empty(t, none.Data)
}

func TestHistoryLimit(t *testing.T) {
	h := New(setupDemoMirror(t), discard).Handler()

	_, body := get[[]kiddoalert.HistoryEvent](t, h, "/v1/history?limit=1")
	require.Len(t, body.Data, 1)
	assert.Equal(t, "João", body.Data[0].ChildName)
	assert.Equal(t, kiddoalert.EventArrived, body.Data[0].Type)

	_, body = get[[]kiddoalert.HistoryEvent](t, h, "/v1/history?limit=50")
	assert.Len(t, body.Data, 4)

	code, _ := get[[]kiddoalert.HistoryEvent](t, h, "/v1/history?limit=-2")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRegions(t *testing.T) {
	h := New(setupDemoMirror(t), discard).Handler()

	_, body := get[[]regionView](t, h, "/v1/regions")
	require.Len(t, body.Data, 2)
	names := []string{body.Data[0].Name, body.Data[1].Name}
	assert.ElementsMatch(t, []string{"Escola", "Casa"}, names)
}

func TestMetricsEndpoint(t *testing.T) {
	h := New(setupDemoMirror(t), discard).Handler()
	get[map[string]string](t, h, "/health")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kiddoalert_status_http_requests_total")
}

func TestCORS(t *testing.T) {
	h := New(setupDemoMirror(t), discard).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type failingMirror struct {
	*kiddoalert.Reconciler
}

func (failingMirror) LastError() error { return errors.New("sync: kiddoalert: network error") }

func TestStatusReportsLastError(t *testing.T) {
	h := New(failingMirror{setupDemoMirror(t)}, discard).Handler()

	_, body := get[statusView](t, h, "/v1/status")
	assert.Equal(t, "sync: kiddoalert: network error", body.Data.LastError)
}

func TestListenAndServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := New(setupDemoMirror(t), discard)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
