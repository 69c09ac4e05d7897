package kiddoalert

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	escolaCenter = Coordinate{Latitude: -23.4860111, Longitude: -46.8365521}
	escolaInside = Coordinate{Latitude: -23.4861, Longitude: -46.8366}
	escolaFar    = Coordinate{Latitude: -23.4900, Longitude: -46.8365521}
)

func fixAt(c Coordinate, at time.Time) Fix {
	return Fix{Coordinate: c, Timestamp: at}
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 0, Distance(escolaCenter, escolaCenter), 1e-9)

	// One degree of latitude is roughly 111.2 km.
	d := Distance(Coordinate{Latitude: 0, Longitude: 0}, Coordinate{Latitude: 1, Longitude: 0})
	assert.InDelta(t, 111195, d, 50)

	assert.Less(t, Distance(escolaCenter, escolaInside), 150.0)
	assert.Greater(t, Distance(escolaCenter, escolaFar), 150.0)
}

func TestGeofence_EscolaScenario(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{})
	require.NoError(t, e.Register("escola", "Escola", escolaCenter, 150, nil))

	var got []GeofenceEvent
	e.Subscribe(func(ev GeofenceEvent) { got = append(got, ev) })

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	samples := []Coordinate{escolaFar, escolaInside, escolaInside, escolaFar}
	for i, c := range samples {
		e.OnFix(fixAt(c, base.Add(time.Duration(i)*time.Minute)))
	}

	require.Len(t, got, 2)
	assert.Equal(t, GeofenceEntered, got[0].Kind)
	assert.Equal(t, "escola", got[0].AlertID)
	assert.Equal(t, "Escola", got[0].RegionName)
	assert.Equal(t, base.Add(time.Minute), got[0].Timestamp)
	assert.Equal(t, GeofenceExited, got[1].Kind)
	assert.Equal(t, base.Add(3*time.Minute), got[1].Timestamp)
}

func TestGeofence_EventsEqualBoundaryCrossings(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{})
	require.NoError(t, e.Register("escola", "Escola", escolaCenter, 150, nil))

	inside := []bool{false, true, true, true, false, false, true, false, true, true}
	crossings := 0
	prev := false
	total := 0
	for _, in := range inside {
		c := escolaFar
		if in {
			c = escolaInside
		}
		if in != prev {
			crossings++
		}
		prev = in
		total += len(e.OnFix(Fix{Coordinate: c}))
	}
	assert.Equal(t, crossings, total)
}

func TestGeofence_BoundaryIsInside(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{})
	point := Coordinate{Latitude: -23.4870, Longitude: -46.8365521}
	radius := Distance(escolaCenter, point)
	require.NoError(t, e.Register("edge", "Edge", escolaCenter, radius, nil))

	events := e.OnFix(Fix{Coordinate: point})
	require.Len(t, events, 1)
	assert.Equal(t, GeofenceEntered, events[0].Kind)
}

func TestGeofence_RegisterReplaces(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{})
	require.NoError(t, e.Register("a", "Escola", escolaCenter, 150, nil))
	require.NoError(t, e.Register("a", "Escola", escolaCenter, 150, nil))

	regions := e.Regions()
	require.Len(t, regions, 1)
	assert.Equal(t, "a", regions[0].ID)

	// Only one Entered even though the id was registered twice.
	assert.Len(t, e.OnFix(Fix{Coordinate: escolaInside}), 1)
}

func TestGeofence_RegisterKeepsMembershipForSameGeometry(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{})
	require.NoError(t, e.Register("a", "Escola", escolaCenter, 150, nil))
	require.Len(t, e.OnFix(Fix{Coordinate: escolaInside}), 1)

	require.NoError(t, e.Register("a", "Escola renamed", escolaCenter, 150, nil))
	assert.Empty(t, e.OnFix(Fix{Coordinate: escolaInside}))

	// Moving the region resets membership.
	require.NoError(t, e.Register("a", "Escola", escolaFar, 150, nil))
	events := e.OnFix(Fix{Coordinate: escolaFar})
	require.Len(t, events, 1)
	assert.Equal(t, GeofenceEntered, events[0].Kind)
}

func TestGeofence_RekeyKeepsMembership(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{})
	require.NoError(t, e.Register("local-1", "Escola", escolaCenter, 150, nil))
	require.Len(t, e.OnFix(Fix{Coordinate: escolaInside}), 1)

	e.Rekey("local-1", "srv-1")
	regions := e.Regions()
	require.Len(t, regions, 1)
	assert.Equal(t, "srv-1", regions[0].ID)
	assert.True(t, regions[0].Inside)

	require.NoError(t, e.Register("srv-1", "Escola", escolaCenter, 150, nil))
	assert.Empty(t, e.OnFix(Fix{Coordinate: escolaInside}))

	events := e.OnFix(Fix{Coordinate: escolaFar})
	require.Len(t, events, 1)
	assert.Equal(t, GeofenceExited, events[0].Kind)
	assert.Equal(t, "srv-1", events[0].AlertID)

	// Unknown and identical ids are no-ops.
	e.Rekey("missing", "other")
	e.Rekey("srv-1", "srv-1")
	require.Len(t, e.Regions(), 1)
	assert.Equal(t, "srv-1", e.Regions()[0].ID)
}

func TestGeofence_DefaultRadius(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{})
	require.NoError(t, e.Register("a", "Casa", escolaCenter, 0, nil))
	assert.Equal(t, DefaultRadius, e.Regions()[0].Radius)

	e = NewGeofenceEngine(GeofenceOptions{DefaultRadius: 250})
	require.NoError(t, e.Register("a", "Casa", escolaCenter, -1, nil))
	assert.Equal(t, 250.0, e.Regions()[0].Radius)
}

func TestGeofence_Unregister(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{})
	require.NoError(t, e.Register("a", "A", escolaCenter, 150, nil))
	require.NoError(t, e.Register("b", "B", escolaFar, 150, nil))

	e.Unregister("a")
	e.Unregister("a")
	e.Unregister("missing")
	require.Len(t, e.Regions(), 1)

	e.UnregisterAll()
	e.UnregisterAll()
	assert.Empty(t, e.Regions())
	assert.Empty(t, e.OnFix(Fix{Coordinate: escolaInside}))
}

func TestGeofence_CapabilityUnavailable(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{MonitoringAvailable: func() bool { return false }})
	err := e.Register("a", "A", escolaCenter, 150, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapabilityUnavailable))
	assert.Empty(t, e.Regions())
}

func TestGeofence_PermissionDenied(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{})
	require.NoError(t, e.Register("a", "A", escolaCenter, 150, nil))

	e.SetPermission(false)
	assert.Empty(t, e.OnFix(Fix{Coordinate: escolaInside}))
	assert.ErrorIs(t, e.LastError(), ErrPermissionDenied)

	e.SetPermission(true)
	assert.NoError(t, e.LastError())
	assert.Len(t, e.OnFix(Fix{Coordinate: escolaInside}), 1)
}

func TestGeofence_SetSharing(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{SubjectName: "Ana"})
	require.NoError(t, e.Register("a", "A", escolaCenter, 150, nil))

	var got []GeofenceEvent
	e.Subscribe(func(ev GeofenceEvent) { got = append(got, ev) })

	ev, changed := e.SetSharing(false)
	require.True(t, changed)
	assert.Equal(t, GeofenceSharingPaused, ev.Kind)
	assert.Equal(t, "Ana", ev.SubjectName)
	assert.False(t, e.Sharing())

	_, changed = e.SetSharing(false)
	assert.False(t, changed)

	// Fixes are ignored while paused.
	assert.Empty(t, e.OnFix(Fix{Coordinate: escolaInside}))

	ev, changed = e.SetSharing(true)
	require.True(t, changed)
	assert.Equal(t, GeofenceSharingResumed, ev.Kind)

	require.Len(t, got, 2)
	assert.Equal(t, GeofenceSharingPaused, got[0].Kind)
	assert.Equal(t, GeofenceSharingResumed, got[1].Kind)

	// Membership was not updated during the pause.
	assert.Len(t, e.OnFix(Fix{Coordinate: escolaInside}), 1)
}

func TestGeofence_ScheduleSuppressesEvents(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{})
	schedule := &Schedule{Start: "07:00", End: "12:00", Weekdays: []time.Weekday{time.Monday}}
	require.NoError(t, e.Register("a", "Escola", escolaCenter, 150, schedule))

	monday8 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	monday13 := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	tuesday8 := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)

	// Entry outside the window is tracked but not emitted.
	assert.Empty(t, e.OnFix(fixAt(escolaInside, monday13)))
	// No duplicate entry once the window opens.
	assert.Empty(t, e.OnFix(fixAt(escolaInside, tuesday8)))

	events := e.OnFix(fixAt(escolaFar, monday8.AddDate(0, 0, 7)))
	require.Len(t, events, 1)
	assert.Equal(t, GeofenceExited, events[0].Kind)
}

func TestGeofence_Unsubscribe(t *testing.T) {
	e := NewGeofenceEngine(GeofenceOptions{})
	require.NoError(t, e.Register("a", "A", escolaCenter, 150, nil))

	calls := 0
	unsubscribe := e.Subscribe(func(GeofenceEvent) { calls++ })
	e.OnFix(Fix{Coordinate: escolaInside})
	unsubscribe()
	e.OnFix(Fix{Coordinate: escolaFar})

	assert.Equal(t, 1, calls)
}

func TestGeofence_Options(t *testing.T) {
	opts := NewGeofenceEngine(GeofenceOptions{}).Options()
	assert.Equal(t, DefaultUpdateInterval, opts.UpdateInterval)
	assert.Equal(t, DefaultDistanceFilter, opts.DistanceFilter)
	assert.Equal(t, DefaultRadius, opts.DefaultRadius)
}
