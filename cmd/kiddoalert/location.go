package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

var locationCmd = &cobra.Command{
	Use:   "location",
	Short: "Control location sharing for this device",
	Long: `Location commands for the device that reports a child's position. Use
--subject to pick the child this device belongs to.

Examples:
  kiddoalert location send --lat -23.5505 --lon -46.6333 --battery 80
  kiddoalert location pause --subject Ana
  kiddoalert location resume --subject Ana`,
}

var locationSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Ingest one position fix",
	RunE:  runLocationSend,
}

var locationPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop sharing location",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSharing(cmd, false)
	},
}

var locationResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Start sharing location again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSharing(cmd, true)
	},
}

var locationPermissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Explain why location access is needed",
	RunE:  runLocationPermission,
}

const permissionExplanation = `KiddoAlert uses this device's location only to tell guardians when the
child arrives at or leaves a saved place. Positions are compared with the
alert regions on the device; while sharing is paused nothing is sent.`

func init() {
	locationSendCmd.Flags().Float64("lat", 0, "latitude")
	locationSendCmd.Flags().Float64("lon", 0, "longitude")
	locationSendCmd.Flags().Int("battery", -1, "battery level 0-100 (omitted when negative)")
	locationSendCmd.Flags().Float64("accuracy", 0, "horizontal accuracy in meters")
	_ = locationSendCmd.MarkFlagRequired("lat")
	_ = locationSendCmd.MarkFlagRequired("lon")

	locationCmd.AddCommand(locationSendCmd)
	locationCmd.AddCommand(locationPauseCmd)
	locationCmd.AddCommand(locationResumeCmd)
	locationCmd.AddCommand(locationPermissionCmd)

	rootCmd.AddCommand(locationCmd)
}

func runLocationSend(cmd *cobra.Command, args []string) error {
	lat, _ := cmd.Flags().GetFloat64("lat")
	lon, _ := cmd.Flags().GetFloat64("lon")
	battery, _ := cmd.Flags().GetInt("battery")
	accuracy, _ := cmd.Flags().GetFloat64("accuracy")

	fix := kiddoalert.Fix{
		Coordinate: kiddoalert.Coordinate{Latitude: lat, Longitude: lon},
		Accuracy:   accuracy,
		Timestamp:  time.Now(),
	}
	if battery >= 0 {
		if battery > 100 {
			return kiddoalert.NewValidationError("battery", "must be between 0 and 100")
		}
		fix.BatteryLevel = &battery
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if !a.r.Geofence().Sharing() {
			return fmt.Errorf("location sharing is paused; run 'kiddoalert location resume' first")
		}
		events := a.r.IngestFix(ctx, fix)
		if err := a.r.Geofence().LastError(); err != nil {
			return err
		}
		return printGeofenceEvents(cmd, events)
	})
}

func printGeofenceEvents(cmd *cobra.Command, events []kiddoalert.GeofenceEvent) error {
	out := cmd.OutOrStdout()
	if structured() {
		return printStructured(out, map[string]interface{}{
			"events": events,
			"count":  len(events),
		})
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No region crossings")
		return nil
	}
	w := newTable(out)
	printTableHeader(w, "TIME", "EVENT", "REGION")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
			ev.Kind,
			orDash(ev.RegionName),
		)
	}
	return w.Flush()
}

func setSharing(cmd *cobra.Command, active bool) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if active {
			a.r.ResumeLocationSharing(ctx)
		} else {
			a.r.PauseLocationSharing(ctx)
		}
		sharing := a.r.Geofence().Sharing()
		if structured() {
			return printStructured(cmd.OutOrStdout(), map[string]bool{"sharing": sharing})
		}
		if sharing {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Location sharing is on\n", colorGreen("✓"))
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Location sharing is paused\n", colorYellow("⏸"))
		}
		return nil
	})
}

func runLocationPermission(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		shown := a.r.PermissionExplained()
		a.r.MarkPermissionExplained(ctx)
		if structured() {
			return printStructured(cmd.OutOrStdout(), map[string]interface{}{
				"explanation":     permissionExplanation,
				"previously_seen": shown,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), permissionExplanation)
		return nil
	})
}
