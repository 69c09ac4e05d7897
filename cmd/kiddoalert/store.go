package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/johnnydev0/front-kiddo-alert/internal/config"
	"github.com/johnnydev0/front-kiddo-alert/migration"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Back up, restore and move the local mirror",
	Long: `Store commands operate on the configured mirror backend without contacting
the remote service.

Examples:
  kiddoalert store export --file backup.kas
  kiddoalert store import backup.kas --force
  kiddoalert store copy --to redis
  kiddoalert store clear`,
}

var storeExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the mirror to a compressed archive",
	RunE:  runStoreExport,
}

var storeImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the mirror with an archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoreImport,
}

var storeCopyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy the mirror to the other backend",
	Long: `Copy the mirror from the configured backend to another one, for example
from the local file to a shared Redis instance. Both backends take their
settings from the same configuration.`,
	RunE: runStoreCopy,
}

var storeClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached record and every credential",
	RunE:  runStoreClear,
}

func init() {
	storeExportCmd.Flags().String("file", "-", "archive path, - for stdout")
	storeExportCmd.Flags().Bool("allow-partial", false, "export readable entries when some are corrupted")

	storeImportCmd.Flags().BoolP("force", "f", false, "replace a non-empty mirror without asking")

	storeCopyCmd.Flags().String("to", config.BackendRedis, "destination backend (file, redis)")
	storeCopyCmd.Flags().BoolP("force", "f", false, "replace a non-empty destination without asking")

	storeClearCmd.Flags().BoolP("force", "f", false, "skip confirmation prompt")

	storeCmd.AddCommand(storeExportCmd)
	storeCmd.AddCommand(storeImportCmd)
	storeCmd.AddCommand(storeCopyCmd)
	storeCmd.AddCommand(storeClearCmd)
	rootCmd.AddCommand(storeCmd)
}

func runStoreExport(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	allowPartial, _ := cmd.Flags().GetBool("allow-partial")
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, _, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var out io.Writer = cmd.OutOrStdout()
	if file != "-" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to create archive: %w", err)
		}
		defer f.Close()
		out = f
	}

	res, err := migration.Export(ctx, migration.ExportConfig{
		Source:       store,
		Output:       out,
		AllowPartial: allowPartial,
	})
	if err != nil {
		return err
	}
	if file == "-" {
		return nil
	}

	msgOut := cmd.OutOrStdout()
	if structured() {
		return printStructured(msgOut, map[string]interface{}{
			"file":          file,
			"counts":        res.Counts,
			"bytes_written": res.BytesWritten,
		})
	}
	fmt.Fprintf(msgOut, "%s Exported %d children, %d alerts, %d history events to %s (%d bytes)\n",
		colorGreen("✓"), res.Counts.Children, res.Counts.Alerts, res.Counts.History, file, res.BytesWritten)
	if res.Warning != nil {
		fmt.Fprintf(msgOut, "%s Some entries were unreadable: %v\n", colorYellow("⚠"), res.Warning)
	}
	return nil
}

func runStoreImport(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, location, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()
	archive, err := migration.ReadArchive(f)
	if err != nil {
		return err
	}

	empty, err := migration.ValidateImport(ctx, store)
	if err != nil {
		return err
	}
	if !empty && !force {
		counts := migration.Counts{
			Children: len(archive.Snapshot.Children),
			Alerts:   len(archive.Snapshot.Alerts),
			History:  len(archive.Snapshot.History),
		}
		fmt.Fprint(cmd.OutOrStdout(), migration.ImportWarning(location, counts))
		if !confirm(cmd, "Replace the mirror?") {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	res, err := migration.Import(ctx, migration.ImportConfig{
		Input:             f,
		Dest:              store,
		Confirmed:         true,
		VerifyAfterImport: true,
	})
	if err != nil {
		return err
	}
	return printImportResult(cmd, res, location)
}

func printImportResult(cmd *cobra.Command, res *migration.ImportResult, location string) error {
	out := cmd.OutOrStdout()
	if structured() {
		return printStructured(out, map[string]interface{}{
			"destination": location,
			"counts":      res.Counts,
			"replaced":    res.Replaced,
			"verified":    res.Verified,
		})
	}
	fmt.Fprintf(out, "%s Wrote %d children, %d alerts, %d history events to %s\n",
		colorGreen("✓"), res.Counts.Children, res.Counts.Alerts, res.Counts.History, location)
	return nil
}

func runStoreCopy(cmd *cobra.Command, args []string) error {
	to, _ := cmd.Flags().GetString("to")
	force, _ := cmd.Flags().GetBool("force")
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if to == cfg.Store.Backend {
		return fmt.Errorf("destination backend %q is the configured backend", to)
	}
	destCfg := *cfg
	destCfg.Store.Backend = to
	if err := destCfg.Validate(); err != nil {
		return err
	}

	src, srcLocation, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close()
	dest, destLocation, err := openStore(ctx, &destCfg)
	if err != nil {
		return err
	}
	defer dest.Close()

	empty, err := migration.ValidateImport(ctx, dest)
	if err != nil {
		return err
	}
	if !empty && !force && !confirm(cmd, fmt.Sprintf("%s is not empty. Replace it with %s?", destLocation, srcLocation)) {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
		return nil
	}

	res, err := migration.Copy(ctx, migration.CopyConfig{
		Source:            src,
		Dest:              dest,
		Confirmed:         true,
		VerifyAfterImport: true,
	})
	if err != nil {
		return err
	}
	return printImportResult(cmd, res, destLocation)
}

func runStoreClear(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if !force && !confirm(cmd, "Delete every cached child, alert, history event and credential?") {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
		if err := a.r.ClearAllData(ctx); err != nil {
			return err
		}
		if structured() {
			return printStructured(cmd.OutOrStdout(), map[string]string{"status": "cleared"})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s All local data deleted\n", colorGreen("✓"))
		return nil
	})
}
