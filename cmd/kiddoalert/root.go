package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

var (
	cfgFile      string
	outputFormat string
	jsonOut      bool
	debug        bool
	subjectName  string
)

var rootCmd = &cobra.Command{
	Use:   "kiddoalert",
	Short: "KiddoAlert command line client",
	Long: `kiddoalert manages a family's children, place alerts and arrival history.

Everything works offline against the local mirror. Signing in with
"kiddoalert auth device" or "kiddoalert auth login" reconciles the
mirror with the remote service.

Examples:
  kiddoalert children list
  kiddoalert alerts add Escola --lat -23.5505 --lon -46.6333 --radius 150
  kiddoalert history list --limit 10
  kiddoalert agent < fixes.jsonl`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if jsonOut {
			outputFormat = "json"
		}
		switch outputFormat {
		case "table", "json", "yaml":
			return nil
		default:
			return fmt.Errorf("unknown output format %q (use table, json or yaml)", outputFormat)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, then the user config dir)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "shorthand for --output json")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&subjectName, "subject", "", "name of the child this device reports for")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// logLevel is the level used unless debugging is on. The agent raises it to info.
var logLevel = slog.LevelWarn

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	if debug || os.Getenv("DEBUG") == "true" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// ============================================
// Output helpers
// ============================================

func structured() bool {
	return outputFormat == "json" || outputFormat == "yaml"
}

// printStructured writes v in the selected machine-readable format.
func printStructured(w io.Writer, v interface{}) error {
	if outputFormat == "yaml" {
		return printYAML(w, v)
	}
	return printJSON(w, v)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printYAML goes through JSON first so the json tags decide the field names.
func printYAML(w io.Writer, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printTableHeader(w io.Writer, cols ...string) {
	fmt.Fprintln(w, strings.Join(cols, "\t"))
}

func printError(w io.Writer, err error) {
	if apiErr, ok := kiddoalert.AsAPIError(err); ok && apiErr.Message != "" {
		fmt.Fprintf(w, "%s %s (%s)\n", colorRed("✗"), apiErr.Message, orDash(apiErr.Code))
		return
	}
	fmt.Fprintf(w, "%s %v\n", colorRed("✗"), err)
}

// confirm asks a yes/no question. Anything but y or Y is a no.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s [y/N]: ", colorYellow("⚠"), question)
	var response string
	_, _ = fmt.Fscanln(cmd.InOrStdin(), &response)
	return response == "y" || response == "Y"
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func colorGreen(s string) string  { return colorize("32", s) }
func colorYellow(s string) string { return colorize("33", s) }
func colorRed(s string) string    { return colorize("31", s) }

func colorize(code, s string) string {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}
