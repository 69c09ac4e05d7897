package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

var geofenceCmd = &cobra.Command{
	Use:   "geofence",
	Short: "Inspect monitored regions and replay tracks",
	Long: `Geofence commands.

A track file is YAML (or JSON) with a list of fixes:

  fixes:
    - latitude: -23.5600
      longitude: -46.6333
      timestamp: 2026-03-02T07:50:00-03:00
    - latitude: -23.5505
      longitude: -46.6333
      battery: 81
      timestamp: 2026-03-02T07:58:00-03:00

Examples:
  kiddoalert geofence regions
  kiddoalert geofence replay track.yaml
  kiddoalert geofence replay track.yaml --apply`,
}

var geofenceRegionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List the regions monitored for active alerts",
	RunE:  runGeofenceRegions,
}

var geofenceReplayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Run a recorded track through the active alerts",
	Long: `Run a recorded track through the active alerts and print every region
crossing. Without --apply nothing is recorded; with --apply each fix is
ingested as if it had just been received, so history and child status change.`,
	Args: cobra.ExactArgs(1),
	RunE: runGeofenceReplay,
}

func init() {
	geofenceReplayCmd.Flags().Bool("apply", false, "ingest the fixes into the mirror")

	geofenceCmd.AddCommand(geofenceRegionsCmd)
	geofenceCmd.AddCommand(geofenceReplayCmd)
	rootCmd.AddCommand(geofenceCmd)
}

type trackFix struct {
	Latitude  float64   `yaml:"latitude"`
	Longitude float64   `yaml:"longitude"`
	Accuracy  float64   `yaml:"accuracy"`
	Battery   *int      `yaml:"battery"`
	Timestamp time.Time `yaml:"timestamp"`
}

type track struct {
	Fixes []trackFix `yaml:"fixes"`
}

// readTrack decodes a track file. Fixes without a timestamp are spaced one
// minute apart starting at now.
func readTrack(r io.Reader, now time.Time) ([]kiddoalert.Fix, error) {
	var t track
	if err := yaml.NewDecoder(r).Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse track: %w", err)
	}
	fixes := make([]kiddoalert.Fix, 0, len(t.Fixes))
	for i, f := range t.Fixes {
		fix := kiddoalert.Fix{
			Coordinate:   kiddoalert.Coordinate{Latitude: f.Latitude, Longitude: f.Longitude},
			Accuracy:     f.Accuracy,
			BatteryLevel: f.Battery,
			Timestamp:    f.Timestamp,
		}
		if fix.Timestamp.IsZero() {
			fix.Timestamp = now.Add(time.Duration(i) * time.Minute)
		}
		if fix.Latitude < -90 || fix.Latitude > 90 || fix.Longitude < -180 || fix.Longitude > 180 {
			return nil, kiddoalert.NewValidationError(fmt.Sprintf("fixes[%d]", i), "coordinate out of range")
		}
		fixes = append(fixes, fix)
	}
	return fixes, nil
}

// replayTrack runs fixes through a scratch engine holding the active alerts.
func replayTrack(alerts []kiddoalert.Alert, fixes []kiddoalert.Fix, defaultRadius float64) ([]kiddoalert.GeofenceEvent, error) {
	engine := kiddoalert.NewGeofenceEngine(kiddoalert.GeofenceOptions{DefaultRadius: defaultRadius})
	for _, a := range alerts {
		if !a.Active {
			continue
		}
		if err := engine.Register(a.ID, a.Name, a.Center, a.Radius, a.Schedule); err != nil {
			return nil, kiddoalert.WrapOpError("register region", a.Name, err)
		}
	}
	var events []kiddoalert.GeofenceEvent
	for _, fix := range fixes {
		events = append(events, engine.OnFix(fix)...)
	}
	return events, nil
}

func runGeofenceReplay(cmd *cobra.Command, args []string) error {
	apply, _ := cmd.Flags().GetBool("apply")

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open track: %w", err)
	}
	defer f.Close()
	fixes, err := readTrack(f, time.Now())
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		var events []kiddoalert.GeofenceEvent
		if apply {
			for _, fix := range fixes {
				events = append(events, a.r.IngestFix(ctx, fix)...)
			}
		} else {
			events, err = replayTrack(a.r.Alerts(), fixes, a.cfg.Geofence.DefaultRadius)
			if err != nil {
				return err
			}
		}
		return printGeofenceEvents(cmd, events)
	})
}

func runGeofenceRegions(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		regions := a.r.Regions()
		out := cmd.OutOrStdout()
		if structured() {
			return printStructured(out, map[string]interface{}{
				"regions": regions,
				"count":   len(regions),
			})
		}
		if len(regions) == 0 {
			fmt.Fprintln(out, "No regions monitored")
			return nil
		}
		w := newTable(out)
		printTableHeader(w, "ID", "NAME", "CENTER", "RADIUS", "SCHEDULE")
		for _, r := range regions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.0fm\t%s\n",
				truncate(r.ID, 14),
				r.Name,
				r.Center,
				r.Radius,
				formatSchedule(r.Schedule),
			)
		}
		return w.Flush()
	})
}
