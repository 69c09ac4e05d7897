package kiddoalert

import (
	"sort"
	"time"

	"github.com/johnnydev0/front-kiddo-alert/internal/ulid"
)

// DemoSnapshot returns the first-launch dataset seeded into an empty store.
func DemoSnapshot(now time.Time) *Snapshot {
	battery := func(v int) *int { return &v }
	at := func(d time.Duration) time.Time { return now.Add(-d) }
	fixAt := func(d time.Duration) *time.Time { t := at(d); return &t }

	snap := &Snapshot{
		Children: []Child{
			{
				ID:           ulid.NewFromTime(now),
				Name:         "João",
				Sharing:      true,
				LastFixAt:    fixAt(3 * time.Minute),
				BatteryLevel: battery(87),
				Status:       StatusAtSchool,
			},
			{
				ID:           ulid.NewFromTime(now),
				Name:         "Maria",
				Sharing:      true,
				LastFixAt:    fixAt(15 * time.Minute),
				BatteryLevel: battery(45),
				Status:       StatusAtHome,
			},
		},
		Alerts: []Alert{
			{
				ID:       ulid.NewFromTime(now),
				Name:     "Escola",
				Address:  "Rua das Flores, 123",
				Center:   Coordinate{Latitude: -23.5505, Longitude: -46.6333},
				Radius:   DefaultRadius,
				Active:   true,
				Schedule: &Schedule{Start: "08:00"},
			},
			{
				ID:      ulid.NewFromTime(now),
				Name:    "Casa",
				Address: "Av. Paulista, 1000",
				Center:  Coordinate{Latitude: -23.5489, Longitude: -46.6388},
				Radius:  DefaultRadius,
				Active:  true,
			},
		},
		History: []HistoryEvent{
			{ID: ulid.NewFromTime(at(3 * time.Minute)), ChildName: "João", Type: EventArrived, Location: "Escola", Timestamp: at(3 * time.Minute)},
			{ID: ulid.NewFromTime(at(45 * time.Minute)), ChildName: "Maria", Type: EventLeft, Location: "Casa da Vovó", Timestamp: at(45 * time.Minute)},
			{ID: ulid.NewFromTime(at(35 * time.Minute)), ChildName: "João", Type: EventLeft, Location: "Casa", Timestamp: at(35 * time.Minute)},
			{ID: ulid.NewFromTime(at(24 * time.Hour)), ChildName: "Maria", Type: EventArrived, Location: "Casa", Timestamp: at(24 * time.Hour)},
		},
		Role: RoleGuardian,
	}
	sortHistory(snap.History)
	return snap
}

// sortHistory orders events most recent first.
func sortHistory(events []HistoryEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}
