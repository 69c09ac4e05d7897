// Package kiddoalert implements the location alerting and state synchronization
// engine of the KiddoAlert family tracker: a geofence engine that turns position
// fixes into arrival/departure events, an authenticated session client for the
// KiddoAlert REST service, and a reconciler that keeps a local mirror of
// children, alerts and history consistent with the remote service.
package kiddoalert

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults
const (
	DefaultBaseURL              = "http://localhost:3000/api/v1"
	DefaultHTTPTimeout          = 30 * time.Second
	DefaultPollInterval         = 30 * time.Second
	DefaultHistoryRetentionDays = 30
	DefaultRemoteHistoryDays    = 7
	DefaultRadius               = 100.0
	DefaultStoreVersion         = 1
	DefaultPushPlatform         = "ios"
)

// Role gates which reconciler behaviors are active for a session.
type Role string

const (
	RoleGuardian Role = "guardian"
	RoleChild    Role = "child"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleGuardian || r == RoleChild
}

// ParseRole accepts "guardian" or "child" in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", NewValidationError("role", fmt.Sprintf("unknown role %q", s))
	}
	return r, nil
}

// ChildStatus is derived from the most recent geofence membership or pause state.
type ChildStatus string

const (
	StatusAtHome        ChildStatus = "at_home"
	StatusAtSchool      ChildStatus = "at_school"
	StatusInTransit     ChildStatus = "in_transit"
	StatusSharingPaused ChildStatus = "sharing_paused"
)

// EventType is the kind of a HistoryEvent. Values match the remote wire format.
type EventType string

const (
	EventArrived EventType = "arrived"
	EventLeft    EventType = "left"
	EventPaused  EventType = "paused"
	EventResumed EventType = "resumed"
)

// Config holds configuration for Reconciler and APIClient initialization.
type Config struct {
	BaseURL              string        `validate:"required,url"`
	HTTPTimeout          time.Duration `validate:"gte=0"`
	PollInterval         time.Duration `validate:"gte=0"`
	HistoryRetentionDays int           `validate:"gte=0"`
	DefaultRadius        float64       `validate:"gte=0"`
	SkipDemoData         bool          // do not seed the demo dataset on an empty store
}

// WithDefaults returns Config with default values applied.
func (c Config) WithDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.HistoryRetentionDays == 0 {
		c.HistoryRetentionDays = DefaultHistoryRetentionDays
	}
	if c.DefaultRadius == 0 {
		c.DefaultRadius = DefaultRadius
	}
	return c
}

// Validate checks configuration fields.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	return validateStruct(c)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs struct tag validation and reports the first failing field
// as a ValidationError.
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewValidationError(fe.Field(), fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()))
	}
	return NewValidationError("", err.Error())
}

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// String formats the coordinate with six decimals.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Fix is a single position sample delivered by a position source.
type Fix struct {
	Coordinate
	Accuracy     float64   `json:"accuracy,omitempty"`
	BatteryLevel *int      `json:"battery_level,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Child is a monitored subject as mirrored locally.
type Child struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Sharing        bool        `json:"is_sharing"`
	InviteAccepted bool        `json:"invite_accepted"`
	LastLocation   *Coordinate `json:"last_location,omitempty"`
	LastFixAt      *time.Time  `json:"last_fix_at,omitempty"`
	BatteryLevel   *int        `json:"battery_level,omitempty"`
	Status         ChildStatus `json:"status"`
	LocalOnly      bool        `json:"local_only,omitempty"`
}

// Schedule restricts when an alert is armed. Start and End are "HH:MM" in the
// local time of the instant being checked; an empty Weekdays set means every day.
type Schedule struct {
	Start    string         `json:"start_time,omitempty"`
	End      string         `json:"end_time,omitempty"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
}

// Armed reports whether the schedule window contains t. Windows whose end is
// before their start wrap past midnight and are keyed to the start day. Equal
// start and end arm the whole day.
func (s *Schedule) Armed(t time.Time) bool {
	if s == nil {
		return true
	}
	start, okStart := parseClock(s.Start)
	end, okEnd := parseClock(s.End)
	minute := t.Hour()*60 + t.Minute()
	day := t.Weekday()

	switch {
	case !okStart && !okEnd, okStart && okEnd && start == end:
		return s.onDay(day)
	case okStart && !okEnd:
		return s.onDay(day) && minute >= start
	case !okStart && okEnd:
		return s.onDay(day) && minute < end
	case start <= end:
		return s.onDay(day) && minute >= start && minute < end
	default:
		if minute >= start {
			return s.onDay(day)
		}
		return minute < end && s.onDay((day+6)%7)
	}
}

func (s *Schedule) onDay(d time.Weekday) bool {
	if len(s.Weekdays) == 0 {
		return true
	}
	for _, w := range s.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// parseClock returns minutes since midnight for "HH:MM".
func parseClock(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// Alert is a geofence definition owned by a child.
type Alert struct {
	ID        string     `json:"id"`
	ChildID   string     `json:"child_id,omitempty"`
	Name      string     `json:"name"`
	Address   string     `json:"address,omitempty"`
	Center    Coordinate `json:"center"`
	Radius    float64    `json:"radius"`
	Active    bool       `json:"is_active"`
	Schedule  *Schedule  `json:"schedule,omitempty"`
	ClientRef string     `json:"client_ref,omitempty"`
	Pending   bool       `json:"pending,omitempty"`
}

// HistoryEvent is an append-only record of an arrival, departure, pause or resume.
type HistoryEvent struct {
	ID        string    `json:"id"`
	ChildName string    `json:"child_name"`
	Type      EventType `json:"type"`
	Location  string    `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Limits are the plan maxima reported by the service.
type Limits struct {
	MaxAlerts    int `json:"maxAlerts"`
	MaxChildren  int `json:"maxChildren"`
	MaxGuardians int `json:"maxGuardians"`
	HistoryDays  int `json:"historyDays"`
}

// Usage is the current consumption against Limits.
type Usage struct {
	Children  int `json:"children"`
	Alerts    int `json:"alerts"`
	Guardians int `json:"guardians"`
}

// PlanLimits is the response of GET /users/me/limits.
type PlanLimits struct {
	Plan    string `json:"plan"`
	Limits  Limits `json:"limits"`
	Current Usage  `json:"current"`
}

// Profile is the authenticated user's identity.
type Profile struct {
	UserID        string      `json:"user_id"`
	DeviceID      string      `json:"device_id,omitempty"`
	Email         string      `json:"email,omitempty"`
	Name          string      `json:"name,omitempty"`
	Role          Role        `json:"role"`
	Plan          string      `json:"plan"`
	PlanExpiresAt *time.Time  `json:"plan_expires_at,omitempty"`
	Limits        *PlanLimits `json:"limits,omitempty"`
}

// StoreData is the persisted local store format.
type StoreData struct {
	Version int                        `json:"version"`
	Entries map[string]json.RawMessage `json:"entries"`
}
