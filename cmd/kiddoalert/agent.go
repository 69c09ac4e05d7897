package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
	"github.com/johnnydev0/front-kiddo-alert/internal/statusserver"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the location agent",
	Long: `Run the location agent. Position fixes are read from stdin, one JSON
object per line:

  {"latitude":-23.5505,"longitude":-46.6333,"battery_level":80,"timestamp":"2026-03-02T07:58:00-03:00"}

Each history event is printed as it is recorded. When status.addr is set
the agent also serves a read-only view of the mirror over HTTP. A signed-in
guardian refreshes children in the background.

Examples:
  gpspipe -w | jq -c 'select(.class=="TPV") | {latitude:.lat, longitude:.lon}' | kiddoalert agent
  kiddoalert agent --subject Ana --keep-running < track.jsonl`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().Bool("keep-running", false, "keep running after stdin closes, until interrupted")
	agentCmd.Flags().String("status-addr", "", "status server address (overrides status.addr)")
	rootCmd.AddCommand(agentCmd)
}

// printNotifier prints each recorded history event as a local notification.
type printNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func (n *printNotifier) Notify(_ context.Context, ev kiddoalert.HistoryEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.w, "%s %s\n", ev.Timestamp.Local().Format("15:04:05"), describeEvent(ev))
	return err
}

func describeEvent(ev kiddoalert.HistoryEvent) string {
	switch ev.Type {
	case kiddoalert.EventArrived:
		return fmt.Sprintf("%s arrived at %s", ev.ChildName, ev.Location)
	case kiddoalert.EventLeft:
		return fmt.Sprintf("%s left %s", ev.ChildName, ev.Location)
	case kiddoalert.EventPaused:
		return fmt.Sprintf("%s paused location sharing", ev.ChildName)
	case kiddoalert.EventResumed:
		return fmt.Sprintf("%s resumed location sharing", ev.ChildName)
	default:
		return fmt.Sprintf("%s: %s", ev.ChildName, ev.Type)
	}
}

// readFixes decodes JSON-lines fixes from r and sends them until r ends or ctx
// is done. Malformed lines are logged and skipped.
func readFixes(ctx context.Context, r io.Reader, fixes chan<- kiddoalert.Fix, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var fix kiddoalert.Fix
		if err := json.Unmarshal([]byte(text), &fix); err != nil {
			logger.Warn("skipping malformed fix",
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}
		select {
		case fixes <- fix:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func runAgent(cmd *cobra.Command, args []string) error {
	keepRunning, _ := cmd.Flags().GetBool("keep-running")
	statusAddr, _ := cmd.Flags().GetString("status-addr")

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logLevel = slog.LevelInfo
	a, err := openApp(cmd, &printNotifier{w: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer a.Close()

	if statusAddr == "" {
		statusAddr = a.cfg.Status.Addr
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fixes := make(chan kiddoalert.Fix)
	go func() {
		defer close(fixes)
		if err := readFixes(ctx, cmd.InOrStdin(), fixes, a.logger); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("reading fixes failed", slog.String("error", err.Error()))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.r.Run(gctx, fixes); err != nil {
			return err
		}
		if !keepRunning {
			cancel()
			return nil
		}
		<-gctx.Done()
		return nil
	})
	if statusAddr != "" {
		srv := statusserver.New(a.r, a.logger)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, statusAddr)
		})
	}

	a.logger.Info("agent started",
		slog.String("role", string(a.r.Role())),
		slog.Int("regions", len(a.r.Regions())),
		slog.Bool("polling", a.r.Polling()),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("agent stopped")
	return nil
}
