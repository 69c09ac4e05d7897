package kiddoalert

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// earthRadiusMeters is the IUGG mean Earth radius.
const earthRadiusMeters = 6371008.8

// Advisory position source settings.
const (
	DefaultUpdateInterval = 5 * time.Minute
	DefaultDistanceFilter = 50.0
)

// GeofenceEventKind distinguishes the events a GeofenceEngine emits.
type GeofenceEventKind string

const (
	GeofenceEntered        GeofenceEventKind = "entered"
	GeofenceExited         GeofenceEventKind = "exited"
	GeofenceSharingPaused  GeofenceEventKind = "sharing_paused"
	GeofenceSharingResumed GeofenceEventKind = "sharing_resumed"
)

// GeofenceEvent is a semantic event. AlertID and RegionName are set for
// Entered/Exited; SubjectName for the sharing events.
type GeofenceEvent struct {
	Kind        GeofenceEventKind `json:"kind"`
	AlertID     string            `json:"alert_id,omitempty"`
	RegionName  string            `json:"region_name,omitempty"`
	SubjectName string            `json:"subject_name,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Region is a monitored circular region and its current membership.
type Region struct {
	ID       string
	Name     string
	Center   Coordinate
	Radius   float64
	Schedule *Schedule
	Inside   bool
}

// GeofenceOptions configures a GeofenceEngine.
type GeofenceOptions struct {
	// DefaultRadius applies when Register is called with a non-positive radius.
	DefaultRadius float64
	// MonitoringAvailable reports whether the platform can monitor regions.
	// Nil means always available.
	MonitoringAvailable func() bool
	// SubjectName labels sharing events.
	SubjectName string
	// UpdateInterval and DistanceFilter are advisory settings for position sources.
	UpdateInterval time.Duration
	DistanceFilter float64
	Logger         *slog.Logger
	Now            func() time.Time
}

// GeofenceEngine keeps monitored regions and turns position fixes into
// edge-triggered Entered/Exited events.
type GeofenceEngine struct {
	mu           sync.Mutex
	opts         GeofenceOptions
	regions      map[string]*Region
	sharing      bool
	permitted    bool
	lastErr      error
	listeners    map[int]func(GeofenceEvent)
	nextListener int
}

// NewGeofenceEngine creates an engine with sharing on and permission granted.
func NewGeofenceEngine(opts GeofenceOptions) *GeofenceEngine {
	if opts.DefaultRadius <= 0 {
		opts.DefaultRadius = DefaultRadius
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = DefaultUpdateInterval
	}
	if opts.DistanceFilter <= 0 {
		opts.DistanceFilter = DefaultDistanceFilter
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &GeofenceEngine{
		opts:      opts,
		regions:   make(map[string]*Region),
		sharing:   true,
		permitted: true,
		listeners: make(map[int]func(GeofenceEvent)),
	}
}

// Options returns the effective options.
func (e *GeofenceEngine) Options() GeofenceOptions {
	return e.opts
}

// Subscribe registers fn for every emitted event and returns an unsubscribe func.
func (e *GeofenceEngine) Subscribe(fn func(GeofenceEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

// Register monitors a region, replacing any registration with the same id.
// Membership carries over only when the geometry is unchanged.
func (e *GeofenceEngine) Register(id, name string, center Coordinate, radius float64, schedule *Schedule) error {
	if e.opts.MonitoringAvailable != nil && !e.opts.MonitoringAvailable() {
		return WrapOpError("register region", id, ErrCapabilityUnavailable)
	}
	if radius <= 0 {
		radius = e.opts.DefaultRadius
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	region := &Region{
		ID:       id,
		Name:     name,
		Center:   center,
		Radius:   radius,
		Schedule: schedule,
	}
	if prev, ok := e.regions[id]; ok && prev.Center == center && prev.Radius == radius {
		region.Inside = prev.Inside
	}
	e.regions[id] = region
	geofenceRegions.Set(float64(len(e.regions)))

	e.opts.Logger.Debug("region registered",
		slog.String("id", id),
		slog.String("name", name),
		slog.Float64("radius", radius),
	)
	return nil
}

// Unregister stops monitoring id. Missing ids are ignored.
func (e *GeofenceEngine) Unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.regions, id)
	geofenceRegions.Set(float64(len(e.regions)))
}

// Rekey moves the region registered as oldID to newID, keeping its
// membership. It is a no-op when oldID is not registered.
func (e *GeofenceEngine) Rekey(oldID, newID string) {
	if oldID == newID {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	region, ok := e.regions[oldID]
	if !ok {
		return
	}
	delete(e.regions, oldID)
	region.ID = newID
	e.regions[newID] = region
	geofenceRegions.Set(float64(len(e.regions)))
}

// UnregisterAll stops monitoring every region.
func (e *GeofenceEngine) UnregisterAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.regions = make(map[string]*Region)
	geofenceRegions.Set(0)
}

// Regions returns copies of the monitored regions sorted by id.
func (e *GeofenceEngine) Regions() []Region {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Region, 0, len(e.regions))
	for _, r := range e.regions {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetPermission records whether the platform grants location access. Without
// it fixes are ignored and LastError reports ErrPermissionDenied.
func (e *GeofenceEngine) SetPermission(granted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.permitted = granted
	if granted {
		e.lastErr = nil
		return
	}
	e.lastErr = ErrPermissionDenied
	e.opts.Logger.Warn("location permission not granted, geofencing idle")
}

// LastError returns the most recent advisory error, if any.
func (e *GeofenceEngine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Sharing reports whether fixes are being consumed.
func (e *GeofenceEngine) Sharing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sharing
}

// SetSharing turns fix consumption off or on and emits SharingPaused or
// SharingResumed. Setting the current state again emits nothing.
func (e *GeofenceEngine) SetSharing(active bool) (GeofenceEvent, bool) {
	e.mu.Lock()
	if e.sharing == active {
		e.mu.Unlock()
		return GeofenceEvent{}, false
	}
	e.sharing = active

	ev := GeofenceEvent{
		Kind:        GeofenceSharingPaused,
		SubjectName: e.opts.SubjectName,
		Timestamp:   e.opts.Now(),
	}
	if active {
		ev.Kind = GeofenceSharingResumed
	}
	listeners := e.listenersLocked()
	e.mu.Unlock()

	dispatch(listeners, []GeofenceEvent{ev})
	return ev, true
}

// RestoreSharing sets the sharing state without emitting an event, used when
// a previously persisted pause is loaded back.
func (e *GeofenceEngine) RestoreSharing(active bool) {
	e.mu.Lock()
	e.sharing = active
	e.mu.Unlock()
}

// OnFix classifies fix against every region and emits one event per
// membership transition. Events for regions whose schedule is not armed at
// the fix time are suppressed, but membership is still tracked.
func (e *GeofenceEngine) OnFix(fix Fix) []GeofenceEvent {
	e.mu.Lock()
	if !e.sharing {
		e.mu.Unlock()
		return nil
	}
	if !e.permitted {
		e.lastErr = ErrPermissionDenied
		e.mu.Unlock()
		return nil
	}

	at := fix.Timestamp
	if at.IsZero() {
		at = e.opts.Now()
	}

	ids := make([]string, 0, len(e.regions))
	for id := range e.regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var events []GeofenceEvent
	for _, id := range ids {
		r := e.regions[id]
		inside := Distance(fix.Coordinate, r.Center) <= r.Radius
		if inside == r.Inside {
			continue
		}
		r.Inside = inside

		kind := GeofenceExited
		if inside {
			kind = GeofenceEntered
		}
		geofenceTransitionsTotal.WithLabelValues(string(kind)).Inc()

		if !r.Schedule.Armed(at) {
			e.opts.Logger.Debug("transition outside schedule window",
				slog.String("id", r.ID),
				slog.String("kind", string(kind)),
			)
			continue
		}
		events = append(events, GeofenceEvent{
			Kind:       kind,
			AlertID:    r.ID,
			RegionName: r.Name,
			Timestamp:  at,
		})
	}
	listeners := e.listenersLocked()
	e.mu.Unlock()

	dispatch(listeners, events)
	return events
}

func (e *GeofenceEngine) listenersLocked() []func(GeofenceEvent) {
	out := make([]func(GeofenceEvent), 0, len(e.listeners))
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		out = append(out, e.listeners[id])
	}
	return out
}

func dispatch(listeners []func(GeofenceEvent), events []GeofenceEvent) {
	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
