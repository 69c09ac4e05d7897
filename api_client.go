package kiddoalert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerUserAgent     = "User-Agent"
	contentTypeJSON     = "application/json"
	clientUserAgent     = "kiddoalert-go/1.0.0"

	// expirySkew makes a JWT access token count as expired slightly early.
	expirySkew = 15 * time.Second
)

// APIClient is the authenticated session client for the KiddoAlert service.
// It attaches the bearer token, refreshes it at most once per call on a 401,
// and maps every failure onto the APIError taxonomy.
type APIClient struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenStore
	logger     *slog.Logger

	refreshGroup singleflight.Group

	mu           sync.Mutex
	nextListener int
	authFailed   map[int]func()

	// Services
	Auth          *AuthService
	Users         *UsersService
	Children      *ChildrenService
	Alerts        *AlertsService
	Location      *LocationService
	History       *HistoryService
	Invites       *InvitesService
	Devices       *DevicesService
	Subscriptions *SubscriptionsService
}

// ClientOption configures the client.
type ClientOption func(*APIClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *APIClient) {
		c.httpClient = httpClient
	}
}

// WithClientLogger sets the logger used for degrade-path reporting.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *APIClient) {
		c.logger = logger
	}
}

// NewAPIClient creates a new client instance.
func NewAPIClient(cfg Config, tokens TokenStore, opts ...ClientOption) (*APIClient, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, ErrMissingTokens
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	c := &APIClient{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout, Transport: transport},
		baseURL:    cfg.BaseURL,
		tokens:     tokens,
		logger:     slog.Default(),
		authFailed: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Auth = &AuthService{client: c}
	c.Users = &UsersService{client: c}
	c.Children = &ChildrenService{client: c}
	c.Alerts = &AlertsService{client: c}
	c.Location = &LocationService{client: c}
	c.History = &HistoryService{client: c}
	c.Invites = &InvitesService{client: c}
	c.Devices = &DevicesService{client: c}
	c.Subscriptions = &SubscriptionsService{client: c}

	return c, nil
}

// BaseURL returns the configured base URL.
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// Tokens returns the credential store the client reads from.
func (c *APIClient) Tokens() TokenStore {
	return c.tokens
}

// OnAuthFailure registers fn to run whenever a call ends in a terminal
// Unauthorized. The returned function removes the listener.
func (c *APIClient) OnAuthFailure(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.authFailed[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.authFailed, id)
	}
}

func (c *APIClient) notifyAuthFailed() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.authFailed))
	for _, fn := range c.authFailed {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// request describes a single remote call.
type request struct {
	method        string
	path          string
	query         url.Values
	body          interface{}
	authenticated bool
}

// response is the raw outcome of one HTTP exchange.
type response struct {
	status int
	body   []byte
	token  string
}

// call runs r and decodes a 2xx body into result.
func (c *APIClient) call(ctx context.Context, r request, result interface{}) error {
	start := time.Now()
	err := c.execute(ctx, r, result, false)
	apiRequestDuration.WithLabelValues(r.method).Observe(time.Since(start).Seconds())
	apiRequestsTotal.WithLabelValues(r.method, outcomeLabel(err)).Inc()
	return err
}

func (c *APIClient) execute(ctx context.Context, r request, result interface{}, isRetry bool) error {
	if r.authenticated && !isRetry {
		c.refreshIfExpired(ctx)
	}

	resp, err := c.send(ctx, r)
	if err != nil {
		return err
	}

	switch {
	case resp.status >= 200 && resp.status < 300:
		return decodeResult(resp.body, result)
	case resp.status == http.StatusUnauthorized && r.authenticated:
		return c.handleUnauthorized(ctx, r, result, resp, isRetry)
	default:
		return parseAPIError(resp.status, resp.body)
	}
}

// handleUnauthorized refreshes and replays once. A 401 on the replay is
// terminal: no second refresh is attempted.
func (c *APIClient) handleUnauthorized(ctx context.Context, r request, result interface{}, resp *response, isRetry bool) error {
	if isRetry {
		c.logger.Warn("request unauthorized after token refresh",
			slog.String("method", r.method),
			slog.String("path", r.path),
		)
		c.notifyAuthFailed()
		return parseAPIError(resp.status, resp.body)
	}

	if err := c.refresh(ctx, resp.token); err != nil {
		c.logger.Warn("token refresh failed",
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
		c.notifyAuthFailed()
		apiErr := parseAPIError(resp.status, resp.body)
		apiErr.Err = err
		return apiErr
	}

	return c.execute(ctx, r, result, true)
}

// refresh obtains a new token pair. Concurrent callers share one in-flight
// refresh; a caller whose token was already rotated by someone else skips it.
func (c *APIClient) refresh(ctx context.Context, staleToken string) error {
	if current, _ := c.tokens.AccessToken(); current != "" && current != staleToken {
		return nil
	}

	_, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		err := c.refreshTokens(context.WithoutCancel(ctx))
		result := "ok"
		if err != nil {
			result = "failed"
		}
		tokenRefreshesTotal.WithLabelValues(result).Inc()
		return nil, err
	})
	return err
}

func (c *APIClient) refreshTokens(ctx context.Context) error {
	refreshToken, err := c.tokens.RefreshToken()
	if err != nil {
		return fmt.Errorf("read refresh token: %w", err)
	}
	if refreshToken == "" {
		return fmt.Errorf("%w: no refresh token", ErrNotAuthenticated)
	}

	var auth AuthResponse
	r := request{
		method: http.MethodPost,
		path:   "/auth/refresh",
		body:   RefreshTokenRequest{RefreshToken: refreshToken},
	}
	if err := c.execute(ctx, r, &auth, true); err != nil {
		return err
	}
	return c.tokens.SaveTokens(auth.AccessToken, auth.RefreshToken)
}

// refreshIfExpired refreshes ahead of time when the access token is a JWT whose
// exp claim has passed. Opaque tokens are left to the 401 path.
func (c *APIClient) refreshIfExpired(ctx context.Context) {
	token, _ := c.tokens.AccessToken()
	if token == "" {
		return
	}
	exp, ok := TokenExpiry(token)
	if !ok || time.Until(exp) > expirySkew {
		return
	}
	if err := c.refresh(ctx, token); err != nil {
		c.logger.Debug("proactive token refresh failed", slog.String("error", err.Error()))
	}
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func (c *APIClient) send(ctx context.Context, r request) (*response, error) {
	reqURL, err := url.JoinPath(c.baseURL, r.path)
	if err != nil {
		return nil, NewAPIError(ErrInvalidRequest, 0, err)
	}
	if len(r.query) > 0 {
		reqURL += "?" + r.query.Encode()
	}

	var bodyReader io.Reader
	if r.body != nil {
		jsonBody, err := json.Marshal(r.body)
		if err != nil {
			return nil, NewAPIError(ErrInvalidRequest, 0, err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, reqURL, bodyReader)
	if err != nil {
		return nil, NewAPIError(ErrInvalidRequest, 0, err)
	}

	req.Header.Set(headerUserAgent, clientUserAgent)
	req.Header.Set(headerAccept, contentTypeJSON)
	if r.body != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}

	var token string
	if r.authenticated {
		token, _ = c.tokens.AccessToken()
		if token != "" {
			req.Header.Set(headerAuthorization, "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewAPIError(ErrNetwork, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewAPIError(ErrNetwork, 0, err)
	}

	return &response{status: resp.StatusCode, body: respBody, token: token}, nil
}

func decodeResult(body []byte, result interface{}) error {
	if result == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return NewAPIError(ErrDecoding, 0, err)
	}
	return nil
}

// parseAPIError maps a non-2xx response onto the error taxonomy.
func parseAPIError(statusCode int, body []byte) *APIError {
	var envelope struct {
		Error *struct {
			Code    string                 `json:"code"`
			Message string                 `json:"message"`
			Details map[string]interface{} `json:"details,omitempty"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)

	apiErr := &APIError{StatusCode: statusCode}
	structured := envelope.Error != nil && envelope.Error.Code != ""
	if structured {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}

	switch {
	case statusCode == http.StatusUnauthorized:
		apiErr.Kind = ErrUnauthorized
	case statusCode == http.StatusForbidden && apiErr.Code == limitExceededCode:
		apiErr.Kind = ErrLimitExceeded
	case statusCode == http.StatusForbidden:
		apiErr.Kind = ErrForbidden
	case statusCode == http.StatusNotFound:
		apiErr.Kind = ErrNotFound
	case structured:
		apiErr.Kind = ErrServer
	default:
		apiErr.Kind = ErrUnknown
	}
	return apiErr
}
