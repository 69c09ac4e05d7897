package kiddoalert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultHistoryRetentionDays, cfg.HistoryRetentionDays)
	assert.Equal(t, DefaultRadius, cfg.DefaultRadius)
	assert.False(t, cfg.SkipDemoData)
}

func TestConfig_WithDefaultsPreservesValues(t *testing.T) {
	cfg := Config{
		BaseURL:      "https://api.example.com",
		PollInterval: time.Minute,
		SkipDemoData: true,
	}.WithDefaults()

	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.True(t, cfg.SkipDemoData)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "valid", cfg: Config{BaseURL: "http://localhost:3000/api/v1"}},
		{name: "missing base url", cfg: Config{}, wantErr: ErrMissingBaseURL},
		{name: "malformed base url", cfg: Config{BaseURL: "not a url"}, wantErr: ErrInvalidRequest},
		{name: "negative poll interval", cfg: Config{BaseURL: "http://x.test", PollInterval: -time.Second}, wantErr: ErrInvalidRequest},
		{name: "negative radius", cfg: Config{BaseURL: "http://x.test", DefaultRadius: -5}, wantErr: ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Guardian ")
	require.NoError(t, err)
	assert.Equal(t, RoleGuardian, r)

	r, err = ParseRole("CHILD")
	require.NoError(t, err)
	assert.Equal(t, RoleChild, r)

	_, err = ParseRole("parent")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.False(t, Role("").Valid())
}

func TestSchedule_Armed(t *testing.T) {
	// 2026-03-02 is a Monday.
	at := func(day, hour, minute int) time.Time {
		return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
	}

	var none *Schedule
	assert.True(t, none.Armed(at(2, 3, 0)))

	school := &Schedule{Start: "07:00", End: "12:00", Weekdays: []time.Weekday{time.Monday, time.Tuesday}}
	assert.True(t, school.Armed(at(2, 7, 0)))
	assert.True(t, school.Armed(at(3, 11, 59)))
	assert.False(t, school.Armed(at(2, 12, 0)), "end is exclusive")
	assert.False(t, school.Armed(at(2, 6, 59)))
	assert.False(t, school.Armed(at(4, 8, 0)), "wednesday is not scheduled")

	startOnly := &Schedule{Start: "08:00"}
	assert.True(t, startOnly.Armed(at(7, 23, 0)))
	assert.False(t, startOnly.Armed(at(7, 7, 59)))

	endOnly := &Schedule{End: "08:00"}
	assert.True(t, endOnly.Armed(at(7, 7, 59)))
	assert.False(t, endOnly.Armed(at(7, 8, 0)))

	daysOnly := &Schedule{Weekdays: []time.Weekday{time.Saturday}}
	assert.True(t, daysOnly.Armed(at(7, 15, 0)))
	assert.False(t, daysOnly.Armed(at(8, 15, 0)))

	// Overnight window keyed to its start day (Friday 22:00 to 06:00).
	night := &Schedule{Start: "22:00", End: "06:00", Weekdays: []time.Weekday{time.Friday}}
	assert.True(t, night.Armed(at(6, 23, 0)))
	assert.True(t, night.Armed(at(7, 5, 0)), "saturday morning belongs to friday's window")
	assert.False(t, night.Armed(at(6, 5, 0)), "friday morning belongs to thursday's window")
	assert.False(t, night.Armed(at(7, 12, 0)))

	allDay := &Schedule{Start: "08:00", End: "08:00", Weekdays: []time.Weekday{time.Monday}}
	assert.True(t, allDay.Armed(at(2, 8, 0)))
	assert.True(t, allDay.Armed(at(2, 3, 0)))
	assert.True(t, allDay.Armed(at(2, 23, 59)))
	assert.False(t, allDay.Armed(at(3, 8, 0)), "tuesday is not scheduled")

	garbled := &Schedule{Start: "7am", End: "noon"}
	assert.True(t, garbled.Armed(at(2, 3, 0)))
}

func TestAlert_JSONShape(t *testing.T) {
	a := Alert{
		ID:       "a1",
		Name:     "Escola",
		Center:   Coordinate{Latitude: -23.5505, Longitude: -46.6333},
		Radius:   150,
		Active:   true,
		Schedule: &Schedule{Start: "08:00", Weekdays: []time.Weekday{time.Monday}},
	}
	data, err := json.Marshal(a)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, true, raw["is_active"])
	assert.NotContains(t, raw, "client_ref")
	assert.NotContains(t, raw, "pending")
	assert.Equal(t, "08:00", raw["schedule"].(map[string]interface{})["start_time"])
}

func TestCoordinate_String(t *testing.T) {
	c := Coordinate{Latitude: -23.5505, Longitude: -46.6333}
	assert.Equal(t, "-23.550500,-46.633300", c.String())
}
