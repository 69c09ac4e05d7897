package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

// Export writes the full contents of a store to Output as a zstd-compressed
// JSON archive.
func Export(ctx context.Context, cfg ExportConfig) (*ExportResult, error) {
	if cfg.Source == nil {
		return nil, errors.New("source store is required")
	}
	if cfg.Output == nil {
		return nil, errors.New("output is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	snap, loadErr := kiddoalert.LoadSnapshot(ctx, cfg.Source)
	if loadErr != nil && !cfg.AllowPartial {
		return nil, fmt.Errorf("read source: %w", loadErr)
	}

	counter := &countingWriter{w: cfg.Output}
	if err := writeArchive(counter, &Archive{
		Format:    ArchiveFormat,
		Version:   ArchiveVersion,
		CreatedAt: cfg.Now().UTC(),
		Snapshot:  snap,
	}); err != nil {
		return nil, err
	}

	return &ExportResult{
		Counts:       countsOf(snap),
		BytesWritten: counter.n,
		Warning:      loadErr,
	}, nil
}

func writeArchive(w io.Writer, archive *Archive) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(archive); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}
	return nil
}

// ReadArchive decodes an archive without applying it.
func ReadArchive(r io.Reader) (*Archive, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var archive Archive
	if err := json.NewDecoder(zr).Decode(&archive); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if archive.Format != ArchiveFormat {
		return nil, fmt.Errorf("%w: unexpected format %q", ErrInvalidArchive, archive.Format)
	}
	if archive.Version > ArchiveVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidArchive, archive.Version)
	}
	if archive.Snapshot == nil {
		return nil, fmt.Errorf("%w: missing snapshot", ErrInvalidArchive)
	}
	return &archive, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
