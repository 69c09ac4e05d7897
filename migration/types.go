// Package migration moves a complete mirror between stores, either directly
// (file to Redis and back) or through a zstd-compressed archive.
package migration

import (
	"errors"
	"io"
	"time"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

// ArchiveFormat identifies a snapshot archive.
const ArchiveFormat = "kiddoalert-snapshot"

// ArchiveVersion is the archive layout written by Export.
const ArchiveVersion = 1

var (
	// ErrImportNotConfirmed indicates that a non-empty destination would be
	// overwritten without user confirmation.
	ErrImportNotConfirmed = errors.New("import into a non-empty store requires confirmation")
	// ErrInvalidArchive indicates the input is not a snapshot archive this
	// version can read.
	ErrInvalidArchive = errors.New("invalid snapshot archive")
	// ErrVerificationFailed indicates the destination did not read back what was written.
	ErrVerificationFailed = errors.New("verification failed")
)

// Archive is the decoded content of a snapshot archive.
type Archive struct {
	Format    string               `json:"format"`
	Version   int                  `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	Snapshot  *kiddoalert.Snapshot `json:"snapshot"`
}

// ExportConfig configures Export.
type ExportConfig struct {
	Source kiddoalert.Store
	Output io.Writer
	// AllowPartial exports the readable entries of a store with corrupted ones.
	AllowPartial bool
	Now          func() time.Time
}

// ExportResult summarizes an export.
type ExportResult struct {
	Counts       Counts
	BytesWritten int64
	// Warning is set when AllowPartial skipped unreadable entries.
	Warning error
}

// ImportConfig configures Import.
type ImportConfig struct {
	Input io.Reader
	Dest  kiddoalert.Store
	// Confirmed must be true to replace the contents of a non-empty Dest.
	Confirmed         bool
	VerifyAfterImport bool
}

// ImportResult summarizes an import.
type ImportResult struct {
	Counts    Counts
	CreatedAt time.Time
	Replaced  bool
	Verified  bool
}

// CopyConfig configures Copy.
type CopyConfig struct {
	Source            kiddoalert.Store
	Dest              kiddoalert.Store
	Confirmed         bool
	VerifyAfterImport bool
}

// Counts is the size of each mirrored collection.
type Counts struct {
	Children int `json:"children"`
	Alerts   int `json:"alerts"`
	History  int `json:"history"`
}

func countsOf(s *kiddoalert.Snapshot) Counts {
	return Counts{Children: len(s.Children), Alerts: len(s.Alerts), History: len(s.History)}
}
