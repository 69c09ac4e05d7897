package kiddoalert

import (
	"math"
	"time"
)

// AuthResponse is returned by the device, register, login and refresh endpoints.
type AuthResponse struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	User         APIUser `json:"user"`
}

// APIUser is the remote user record.
type APIUser struct {
	ID            string     `json:"id"`
	DeviceID      *string    `json:"deviceId,omitempty"`
	Email         *string    `json:"email,omitempty"`
	Name          *string    `json:"name,omitempty"`
	Mode          string     `json:"mode"`
	Plan          string     `json:"plan"`
	PlanExpiresAt *time.Time `json:"planExpiresAt,omitempty"`
}

// Profile converts the remote user into a Profile. Unknown modes map to guardian.
func (u APIUser) Profile() *Profile {
	p := &Profile{
		UserID:        u.ID,
		Role:          RoleGuardian,
		Plan:          u.Plan,
		PlanExpiresAt: u.PlanExpiresAt,
	}
	if Role(u.Mode) == RoleChild {
		p.Role = RoleChild
	}
	if u.DeviceID != nil {
		p.DeviceID = *u.DeviceID
	}
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	return p
}

// APIGuardian is a guardian linked to a child.
type APIGuardian struct {
	ID    string  `json:"id"`
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// APIChildOwner is the guardian who created a child record.
type APIChildOwner struct {
	ID   string  `json:"id"`
	Name *string `json:"name,omitempty"`
}

// APIChild is the remote child record.
type APIChild struct {
	ID             string         `json:"id"`
	UserID         *string        `json:"userId,omitempty"`
	Name           string         `json:"name"`
	IsSharing      bool           `json:"isSharing"`
	LastLatitude   *float64       `json:"lastLatitude,omitempty"`
	LastLongitude  *float64       `json:"lastLongitude,omitempty"`
	LastUpdateTime *time.Time     `json:"lastUpdateTime,omitempty"`
	BatteryLevel   *int           `json:"batteryLevel,omitempty"`
	Owner          *APIChildOwner `json:"owner,omitempty"`
}

// Child converts the remote record into the local mirror form. A child is
// linked once a device user has accepted its invite.
func (a APIChild) Child() Child {
	c := Child{
		ID:             a.ID,
		Name:           a.Name,
		Sharing:        a.IsSharing,
		InviteAccepted: a.UserID != nil && *a.UserID != "",
		LastFixAt:      a.LastUpdateTime,
		BatteryLevel:   a.BatteryLevel,
		Status:         StatusInTransit,
	}
	if a.LastLatitude != nil && a.LastLongitude != nil {
		c.LastLocation = &Coordinate{Latitude: *a.LastLatitude, Longitude: *a.LastLongitude}
	}
	if !a.IsSharing {
		c.Status = StatusSharingPaused
	}
	return c
}

// APIChildDetail is the response of GET /children/{id}.
type APIChildDetail struct {
	APIChild
	Alerts        []APIAlert        `json:"alerts,omitempty"`
	HistoryEvents []APIHistoryEvent `json:"historyEvents,omitempty"`
	Guardians     []APIGuardian     `json:"guardians,omitempty"`
}

// CreateChildRequest is the body of POST /children.
type CreateChildRequest struct {
	Name string `json:"name" validate:"required"`
}

// UpdateChildRequest is the body of PATCH /children/{id}.
type UpdateChildRequest struct {
	Name *string `json:"name,omitempty"`
}

// CreateChildResponse carries the confirmed child and its invite token.
type CreateChildResponse struct {
	Child           APIChild  `json:"child"`
	InviteToken     string    `json:"inviteToken"`
	InviteExpiresAt time.Time `json:"inviteExpiresAt"`
}

// APIAlertChild is the child reference embedded in an alert.
type APIAlertChild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// APIAlert is the remote alert record.
type APIAlert struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Address      *string        `json:"address,omitempty"`
	Latitude     float64        `json:"latitude"`
	Longitude    float64        `json:"longitude"`
	Radius       int            `json:"radius"`
	IsActive     bool           `json:"isActive"`
	StartTime    *string        `json:"startTime,omitempty"`
	EndTime      *string        `json:"endTime,omitempty"`
	ScheduleDays []int          `json:"scheduleDays,omitempty"`
	Child        *APIAlertChild `json:"child,omitempty"`
	ClientRef    *string        `json:"clientRef,omitempty"`
}

// Alert converts the remote record into the local mirror form.
func (a APIAlert) Alert() Alert {
	alert := Alert{
		ID:     a.ID,
		Name:   a.Name,
		Center: Coordinate{Latitude: a.Latitude, Longitude: a.Longitude},
		Radius: float64(a.Radius),
		Active: a.IsActive,
	}
	if a.Address != nil {
		alert.Address = *a.Address
	}
	if a.Child != nil {
		alert.ChildID = a.Child.ID
	}
	if a.ClientRef != nil {
		alert.ClientRef = *a.ClientRef
	}
	if a.StartTime != nil || a.EndTime != nil || len(a.ScheduleDays) > 0 {
		s := &Schedule{}
		if a.StartTime != nil {
			s.Start = *a.StartTime
		}
		if a.EndTime != nil {
			s.End = *a.EndTime
		}
		for _, d := range a.ScheduleDays {
			s.Weekdays = append(s.Weekdays, time.Weekday(d%7))
		}
		alert.Schedule = s
	}
	return alert
}

// CreateAlertRequest is the body of POST /alerts.
type CreateAlertRequest struct {
	ChildID      string  `json:"childId"`
	Name         string  `json:"name" validate:"required"`
	Address      *string `json:"address,omitempty"`
	Latitude     float64 `json:"latitude" validate:"latitude"`
	Longitude    float64 `json:"longitude" validate:"longitude"`
	Radius       int     `json:"radius" validate:"gt=0"`
	StartTime    *string `json:"startTime,omitempty"`
	EndTime      *string `json:"endTime,omitempty"`
	ScheduleDays []int   `json:"scheduleDays,omitempty" validate:"omitempty,dive,gte=0,lte=6"`
	ClientRef    string  `json:"clientRef,omitempty"`
}

// NewCreateAlertRequest builds the create body for a local alert.
func NewCreateAlertRequest(a Alert) CreateAlertRequest {
	req := CreateAlertRequest{
		ChildID:   a.ChildID,
		Name:      a.Name,
		Latitude:  a.Center.Latitude,
		Longitude: a.Center.Longitude,
		Radius:    radiusMeters(a.Radius),
		ClientRef: a.ClientRef,
	}
	if a.Address != "" {
		req.Address = stringPtr(a.Address)
	}
	req.StartTime, req.EndTime, req.ScheduleDays = scheduleFields(a.Schedule)
	return req
}

// UpdateAlertRequest is the body of PATCH /alerts/{id}. Nil fields are left unchanged.
type UpdateAlertRequest struct {
	Name         *string  `json:"name,omitempty"`
	IsActive     *bool    `json:"isActive,omitempty"`
	Address      *string  `json:"address,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude    *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	Radius       *int     `json:"radius,omitempty" validate:"omitempty,gt=0"`
	StartTime    *string  `json:"startTime,omitempty"`
	EndTime      *string  `json:"endTime,omitempty"`
	ScheduleDays []int    `json:"scheduleDays,omitempty"`
}

// NewUpdateAlertRequest builds a full-replacement patch from a local alert.
func NewUpdateAlertRequest(a Alert) UpdateAlertRequest {
	radius := radiusMeters(a.Radius)
	req := UpdateAlertRequest{
		Name:      stringPtr(a.Name),
		IsActive:  &a.Active,
		Address:   stringPtr(a.Address),
		Latitude:  &a.Center.Latitude,
		Longitude: &a.Center.Longitude,
		Radius:    &radius,
	}
	req.StartTime, req.EndTime, req.ScheduleDays = scheduleFields(a.Schedule)
	return req
}

func scheduleFields(s *Schedule) (start, end *string, days []int) {
	if s == nil {
		return nil, nil, nil
	}
	if s.Start != "" {
		start = stringPtr(s.Start)
	}
	if s.End != "" {
		end = stringPtr(s.End)
	}
	for _, d := range s.Weekdays {
		days = append(days, int(d))
	}
	return start, end, days
}

func radiusMeters(r float64) int {
	if r <= 0 {
		return int(DefaultRadius)
	}
	return int(math.Round(r))
}

func stringPtr(s string) *string {
	return &s
}

// LocationUpdateRequest is the body of POST /location/update.
type LocationUpdateRequest struct {
	Latitude     float64 `json:"latitude" validate:"latitude"`
	Longitude    float64 `json:"longitude" validate:"longitude"`
	BatteryLevel *int    `json:"batteryLevel,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// LocationUpdateResponse reports alerts the server triggered for a fix.
type LocationUpdateResponse struct {
	Success         bool     `json:"success"`
	Events          *int     `json:"events,omitempty"`
	TriggeredAlerts []string `json:"triggeredAlerts,omitempty"`
}

// APIEventRef names the child or alert an event refers to.
type APIEventRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// APIHistoryEvent is the remote history record.
type APIHistoryEvent struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	Location  *string      `json:"location,omitempty"`
	Latitude  *float64     `json:"latitude,omitempty"`
	Longitude *float64     `json:"longitude,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Child     *APIEventRef `json:"child,omitempty"`
	Alert     *APIEventRef `json:"alert,omitempty"`
}

// HistoryEvent converts the remote record into the local mirror form. The
// location label falls back to the alert name.
func (e APIHistoryEvent) HistoryEvent() HistoryEvent {
	ev := HistoryEvent{
		ID:        e.ID,
		Type:      EventType(e.Type),
		Timestamp: e.Timestamp,
	}
	if e.Child != nil {
		ev.ChildName = e.Child.Name
	}
	switch {
	case e.Location != nil:
		ev.Location = *e.Location
	case e.Alert != nil:
		ev.Location = e.Alert.Name
	}
	return ev
}

// HistoryLimit reports the retention window the plan allows.
type HistoryLimit struct {
	Days      int  `json:"days"`
	IsPremium bool `json:"isPremium"`
}

// HistoryResponse is the response of GET /history.
type HistoryResponse struct {
	Events []APIHistoryEvent `json:"events"`
	Limit  *HistoryLimit     `json:"limit,omitempty"`
}

// InviteResponse carries a freshly minted invite token.
type InviteResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Invite types.
const (
	InviteAddChild    = "add_child"
	InviteAddGuardian = "add_guardian"
)

// InviteDetails describes an invite before it is accepted.
type InviteDetails struct {
	Token     string    `json:"token"`
	Type      string    `json:"type"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// InviteDetailsResponse is the response of GET /invites/{token}.
type InviteDetailsResponse struct {
	Invite        InviteDetails `json:"invite"`
	CreatedByName *string       `json:"createdByName,omitempty"`
	ChildName     *string       `json:"childName,omitempty"`
}

// CreateInviteRequest is the body of POST /invites.
type CreateInviteRequest struct {
	Type    string `json:"type" validate:"oneof=add_child add_guardian"`
	ChildID string `json:"childId" validate:"required"`
}

// DeviceTokenRequest is the body of POST and DELETE /devices/token.
type DeviceTokenRequest struct {
	PushToken string `json:"pushToken" validate:"required"`
	Platform  string `json:"platform" validate:"required"`
}

// VerifyReceiptRequest is the body of POST /subscriptions/verify.
type VerifyReceiptRequest struct {
	AppleReceiptData string `json:"appleReceiptData" validate:"required"`
}

// SubscriptionDetails describes an active subscription.
type SubscriptionDetails struct {
	Plan      string    `json:"plan"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SubscriptionStatusResponse is the response of GET /subscriptions/status.
type SubscriptionStatusResponse struct {
	IsPremium    bool                 `json:"isPremium"`
	Subscription *SubscriptionDetails `json:"subscription,omitempty"`
}

// DeviceAuthRequest is the body of POST /auth/device.
type DeviceAuthRequest struct {
	DeviceID string `json:"deviceId" validate:"required"`
	Mode     Role   `json:"mode" validate:"oneof=guardian child"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	DeviceID string `json:"deviceId"`
}

// RefreshTokenRequest is the body of POST /auth/refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// UpdateUserRequest is the body of PATCH /users/me.
type UpdateUserRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
	Mode  *Role   `json:"mode,omitempty"`
}
