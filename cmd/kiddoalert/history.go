package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show arrival and departure history",
	Long: `History commands. Events are listed newest first.

Examples:
  kiddoalert history list --limit 20
  kiddoalert history remote --days 7
  kiddoalert history prune --days 30`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached history events",
	RunE:  runHistoryList,
}

var historyRemoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Fetch history directly from the service",
	RunE:  runHistoryRemote,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop cached events older than the retention window",
	RunE:  runHistoryPrune,
}

func init() {
	historyListCmd.Flags().Int("limit", 0, "show at most this many events (0 for all)")

	historyRemoteCmd.Flags().Int("days", 0, "days to fetch (server default when 0)")
	historyRemoteCmd.Flags().String("child", "", "only events for this child id")

	historyPruneCmd.Flags().Int("days", 0, "retention in days (config default when 0)")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyRemoteCmd)
	historyCmd.AddCommand(historyPruneCmd)

	rootCmd.AddCommand(historyCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 0 {
		return kiddoalert.NewValidationError("limit", "must not be negative")
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		events := a.r.History()
		if limit > 0 && len(events) > limit {
			events = events[:limit]
		}
		return printHistory(cmd, events)
	})
}

func printHistory(cmd *cobra.Command, events []kiddoalert.HistoryEvent) error {
	out := cmd.OutOrStdout()
	if structured() {
		return printStructured(out, map[string]interface{}{
			"events": events,
			"count":  len(events),
		})
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No history events found")
		return nil
	}

	w := newTable(out)
	printTableHeader(w, "TIME", "CHILD", "EVENT", "PLACE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04"),
			e.ChildName,
			formatEventType(e.Type),
			orDash(e.Location),
		)
	}
	return w.Flush()
}

func formatEventType(t kiddoalert.EventType) string {
	switch t {
	case kiddoalert.EventArrived:
		return colorGreen(string(t))
	case kiddoalert.EventLeft, kiddoalert.EventPaused:
		return colorYellow(string(t))
	default:
		return string(t)
	}
}

func runHistoryRemote(cmd *cobra.Command, args []string) error {
	days, _ := cmd.Flags().GetInt("days")
	childID, _ := cmd.Flags().GetString("child")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if !a.r.Session().Authenticated() {
			return kiddoalert.ErrNotAuthenticated
		}
		resp, err := a.r.Client().History.List(ctx, days, childID)
		if err != nil {
			return err
		}
		events := make([]kiddoalert.HistoryEvent, 0, len(resp.Events))
		for _, e := range resp.Events {
			events = append(events, e.HistoryEvent())
		}
		return printHistory(cmd, events)
	})
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	days, _ := cmd.Flags().GetInt("days")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		removed := a.r.PruneHistory(ctx, days)
		if structured() {
			return printStructured(cmd.OutOrStdout(), map[string]int{"removed": removed})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %d events\n", colorGreen("✓"), removed)
		return nil
	})
}
