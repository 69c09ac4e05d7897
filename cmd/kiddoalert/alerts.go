package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

var alertsCmd = &cobra.Command{
	Use:     "alerts",
	Aliases: []string{"alert"},
	Short:   "Manage place alerts",
	Long: `Place alert commands. An alert is a circular region; entering or leaving
it while the alert is active and inside its schedule records an arrival or
departure.

Examples:
  kiddoalert alerts list
  kiddoalert alerts add Escola --lat -23.5505 --lon -46.6333 --radius 150 --start 07:00 --end 12:00 --days mon,tue,wed,thu,fri
  kiddoalert alerts update 01HXYZ... --radius 200
  kiddoalert alerts disable 01HXYZ...
  kiddoalert alerts remove 01HXYZ...`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE:  runAlertsList,
}

var alertsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsAdd,
}

var alertsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update an alert; only the flags given change",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsUpdate,
}

var alertsEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Activate an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAlertActive(cmd, args[0], true)
	},
}

var alertsDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Deactivate an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAlertActive(cmd, args[0], false)
	},
}

var alertsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsRemove,
}

func init() {
	alertsListCmd.Flags().String("child", "", "only alerts owned by this child id")

	for _, c := range []*cobra.Command{alertsAddCmd, alertsUpdateCmd} {
		c.Flags().Float64("lat", 0, "center latitude")
		c.Flags().Float64("lon", 0, "center longitude")
		c.Flags().Float64("radius", 0, "radius in meters (default from config)")
		c.Flags().String("address", "", "street address shown with the alert")
		c.Flags().String("child", "", "owning child id")
		c.Flags().String("start", "", "schedule start, HH:MM")
		c.Flags().String("end", "", "schedule end, HH:MM")
		c.Flags().String("days", "", "schedule weekdays, e.g. mon,tue,wed")
	}
	alertsAddCmd.Flags().Bool("inactive", false, "create the alert deactivated")
	_ = alertsAddCmd.MarkFlagRequired("lat")
	_ = alertsAddCmd.MarkFlagRequired("lon")
	alertsUpdateCmd.Flags().String("name", "", "new name")
	alertsUpdateCmd.Flags().Bool("clear-schedule", false, "remove the schedule")

	alertsRemoveCmd.Flags().BoolP("force", "f", false, "skip confirmation prompt")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsAddCmd)
	alertsCmd.AddCommand(alertsUpdateCmd)
	alertsCmd.AddCommand(alertsEnableCmd)
	alertsCmd.AddCommand(alertsDisableCmd)
	alertsCmd.AddCommand(alertsRemoveCmd)

	rootCmd.AddCommand(alertsCmd)
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	childID, _ := cmd.Flags().GetString("child")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		var alerts []kiddoalert.Alert
		for _, al := range a.r.Alerts() {
			if childID == "" || al.ChildID == childID {
				alerts = append(alerts, al)
			}
		}

		out := cmd.OutOrStdout()
		if structured() {
			return printStructured(out, map[string]interface{}{
				"alerts": alerts,
				"count":  len(alerts),
			})
		}
		if len(alerts) == 0 {
			fmt.Fprintln(out, "No alerts found")
			return nil
		}

		w := newTable(out)
		printTableHeader(w, "ID", "NAME", "CENTER", "RADIUS", "ACTIVE", "SCHEDULE")
		for _, al := range alerts {
			name := al.Name
			if al.Pending {
				name += " (pending)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%.0fm\t%t\t%s\n",
				truncate(al.ID, 14),
				name,
				al.Center,
				al.Radius,
				al.Active,
				formatSchedule(al.Schedule),
			)
		}
		return w.Flush()
	})
}

func formatSchedule(s *kiddoalert.Schedule) string {
	if s == nil {
		return "always"
	}
	window := fmt.Sprintf("%s-%s", orDash(s.Start), orDash(s.End))
	if len(s.Weekdays) == 0 {
		return window
	}
	days := make([]string, 0, len(s.Weekdays))
	for _, d := range s.Weekdays {
		days = append(days, strings.ToLower(d.String()[:3]))
	}
	return window + " " + strings.Join(days, ",")
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		key := strings.ToLower(strings.TrimSpace(part))
		if len(key) > 3 {
			key = key[:3]
		}
		d, ok := weekdayNames[key]
		if !ok {
			return nil, kiddoalert.NewValidationError("days", fmt.Sprintf("unknown weekday %q", part))
		}
		days = append(days, d)
	}
	return days, nil
}

// scheduleFromFlags builds a schedule from --start, --end and --days. It
// returns nil when none of them is set.
func scheduleFromFlags(cmd *cobra.Command) (*kiddoalert.Schedule, error) {
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	daysFlag, _ := cmd.Flags().GetString("days")
	if start == "" && end == "" && daysFlag == "" {
		return nil, nil
	}
	for field, v := range map[string]string{"start": start, "end": end} {
		if v == "" {
			continue
		}
		if _, err := time.Parse("15:04", v); err != nil {
			return nil, kiddoalert.NewValidationError(field, "must be HH:MM")
		}
	}
	days, err := parseWeekdays(daysFlag)
	if err != nil {
		return nil, err
	}
	return &kiddoalert.Schedule{Start: start, End: end, Weekdays: days}, nil
}

func runAlertsAdd(cmd *cobra.Command, args []string) error {
	lat, _ := cmd.Flags().GetFloat64("lat")
	lon, _ := cmd.Flags().GetFloat64("lon")
	radius, _ := cmd.Flags().GetFloat64("radius")
	address, _ := cmd.Flags().GetString("address")
	childID, _ := cmd.Flags().GetString("child")
	inactive, _ := cmd.Flags().GetBool("inactive")

	schedule, err := scheduleFromFlags(cmd)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if a.r.Session().Authenticated() && !a.r.Auth().CanAddAlert() {
			return kiddoalert.WrapOpError("add alert", args[0], kiddoalert.ErrLimitExceeded)
		}
		alert, err := a.r.AddAlert(ctx, kiddoalert.Alert{
			ChildID:  childID,
			Name:     args[0],
			Address:  address,
			Center:   kiddoalert.Coordinate{Latitude: lat, Longitude: lon},
			Radius:   radius,
			Active:   !inactive,
			Schedule: schedule,
		})
		if err != nil {
			return err
		}
		// The background create may swap in the server record, matched by ClientRef.
		a.r.Wait()
		for _, al := range a.r.Alerts() {
			if al.ClientRef == alert.ClientRef {
				alert = al
				break
			}
		}

		out := cmd.OutOrStdout()
		if structured() {
			return printStructured(out, alert)
		}
		fmt.Fprintf(out, "%s Alert added: %s (%s)\n", colorGreen("✓"), alert.Name, alert.ID)
		fmt.Fprintf(out, "  Center:   %s\n", alert.Center)
		fmt.Fprintf(out, "  Radius:   %.0fm\n", alert.Radius)
		fmt.Fprintf(out, "  Schedule: %s\n", formatSchedule(alert.Schedule))
		return nil
	})
}

func runAlertsUpdate(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	schedule, err := scheduleFromFlags(cmd)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		alert, err := a.r.Alert(args[0])
		if err != nil {
			return err
		}
		if flags.Changed("name") {
			alert.Name, _ = flags.GetString("name")
		}
		if flags.Changed("lat") {
			alert.Center.Latitude, _ = flags.GetFloat64("lat")
		}
		if flags.Changed("lon") {
			alert.Center.Longitude, _ = flags.GetFloat64("lon")
		}
		if flags.Changed("radius") {
			alert.Radius, _ = flags.GetFloat64("radius")
		}
		if flags.Changed("address") {
			alert.Address, _ = flags.GetString("address")
		}
		if flags.Changed("child") {
			alert.ChildID, _ = flags.GetString("child")
		}
		if schedule != nil {
			alert.Schedule = schedule
		}
		if clearSchedule, _ := flags.GetBool("clear-schedule"); clearSchedule {
			alert.Schedule = nil
		}

		if err := a.r.UpdateAlert(ctx, alert); err != nil {
			return err
		}
		if structured() {
			return printStructured(cmd.OutOrStdout(), alert)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Alert updated: %s\n", colorGreen("✓"), alert.Name)
		return nil
	})
}

func setAlertActive(cmd *cobra.Command, id string, active bool) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.r.SetAlertActive(ctx, id, active); err != nil {
			return err
		}
		state := "disabled"
		if active {
			state = "enabled"
		}
		if structured() {
			return printStructured(cmd.OutOrStdout(), map[string]string{"id": id, "status": state})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Alert %s: %s\n", colorGreen("✓"), state, id)
		return nil
	})
}

func runAlertsRemove(cmd *cobra.Command, args []string) error {
	id := args[0]
	force, _ := cmd.Flags().GetBool("force")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		alert, err := a.r.Alert(id)
		if err != nil {
			return err
		}
		if !force && !confirm(cmd, fmt.Sprintf("Remove alert %s?", alert.Name)) {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
		if err := a.r.RemoveAlert(ctx, id); err != nil {
			return err
		}
		if structured() {
			return printStructured(cmd.OutOrStdout(), map[string]string{
				"status":  "removed",
				"message": fmt.Sprintf("Alert %s removed", id),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Alert removed: %s\n", colorGreen("✓"), alert.Name)
		return nil
	})
}
