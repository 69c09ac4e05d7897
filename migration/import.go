package migration

import (
	"context"
	"errors"
	"fmt"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

// Import replaces the contents of Dest with the snapshot read from Input.
// A non-empty Dest is only replaced when Confirmed is set.
func Import(ctx context.Context, cfg ImportConfig) (*ImportResult, error) {
	if cfg.Input == nil {
		return nil, errors.New("input is required")
	}
	if cfg.Dest == nil {
		return nil, errors.New("destination store is required")
	}

	archive, err := ReadArchive(cfg.Input)
	if err != nil {
		return nil, err
	}

	replaced, err := apply(ctx, archive.Snapshot, cfg.Dest, cfg.Confirmed)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		Counts:    countsOf(archive.Snapshot),
		CreatedAt: archive.CreatedAt,
		Replaced:  replaced,
	}
	if cfg.VerifyAfterImport {
		if err := verify(ctx, cfg.Dest, result.Counts); err != nil {
			return result, err
		}
		result.Verified = true
	}
	return result, nil
}

// Copy moves the mirror from Source to Dest directly, e.g. from a file store
// to a shared Redis store. Source is left untouched.
func Copy(ctx context.Context, cfg CopyConfig) (*ImportResult, error) {
	if cfg.Source == nil {
		return nil, errors.New("source store is required")
	}
	if cfg.Dest == nil {
		return nil, errors.New("destination store is required")
	}

	snap, err := kiddoalert.LoadSnapshot(ctx, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	replaced, err := apply(ctx, snap, cfg.Dest, cfg.Confirmed)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Counts: countsOf(snap), Replaced: replaced}
	if cfg.VerifyAfterImport {
		if err := verify(ctx, cfg.Dest, result.Counts); err != nil {
			return result, err
		}
		result.Verified = true
	}
	return result, nil
}

// ValidateImport reports whether Import would need confirmation for dest.
func ValidateImport(ctx context.Context, dest kiddoalert.Store) (empty bool, err error) {
	if dest == nil {
		return false, errors.New("destination store is required")
	}
	keys, err := dest.Keys(ctx)
	if err != nil {
		return false, fmt.Errorf("list destination keys: %w", err)
	}
	return len(keys) == 0, nil
}

func apply(ctx context.Context, snap *kiddoalert.Snapshot, dest kiddoalert.Store, confirmed bool) (bool, error) {
	empty, err := ValidateImport(ctx, dest)
	if err != nil {
		return false, err
	}
	if !empty && !confirmed {
		return false, ErrImportNotConfirmed
	}
	if !empty {
		if err := dest.Clear(ctx); err != nil {
			return false, fmt.Errorf("clear destination: %w", err)
		}
	}
	if err := kiddoalert.SaveSnapshot(ctx, dest, snap); err != nil {
		return !empty, fmt.Errorf("write destination: %w", err)
	}
	return !empty, nil
}

func verify(ctx context.Context, dest kiddoalert.Store, want Counts) error {
	got, err := kiddoalert.LoadSnapshot(ctx, dest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if countsOf(got) != want {
		return fmt.Errorf("%w: wrote %+v, read back %+v", ErrVerificationFailed, want, countsOf(got))
	}
	return nil
}

// ImportWarning returns the text shown before a destructive import.
func ImportWarning(dest string, incoming Counts) string {
	return fmt.Sprintf(`
The local mirror at %s is not empty.

Importing will REPLACE every cached child, alert and history event with the
archive contents (%d children, %d alerts, %d history events). Data that only
exists locally and was never synced will be lost.
`, dest, incoming.Children, incoming.Alerts, incoming.History)
}
