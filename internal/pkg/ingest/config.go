package ingest

import (
	"os"
	"time"

	"github.com/ManuelReschke/Bookfox/internal/pkg/env"
)

const (
	chunkSize = 32 * 1024

	defaultMaxArchiveBytes  = 500 << 20
	defaultMaxExpandedBytes = 4 << 30
	defaultMaxRatio         = 100
	defaultMaxEntries       = 10000
	defaultUploadWorkers    = 4
	defaultStaleAfter       = 30 * time.Minute
)

// Limits bound the resources one ingestion may consume.
type Limits struct {
	MaxArchiveBytes  int64
	MaxExpandedBytes int64
	MaxRatio         int64
	MaxEntries       int
	UploadWorkers    int
	// StaleAfter is how long an uploading asset may stay untouched before it is
	// considered abandoned.
	StaleAfter time.Duration
	SpoolDir   string
}

func DefaultLimits() Limits {
	return Limits{
		MaxArchiveBytes:  defaultMaxArchiveBytes,
		MaxExpandedBytes: defaultMaxExpandedBytes,
		MaxRatio:         defaultMaxRatio,
		MaxEntries:       defaultMaxEntries,
		UploadWorkers:    defaultUploadWorkers,
		StaleAfter:       defaultStaleAfter,
		SpoolDir:         os.TempDir(),
	}
}

// LoadLimits reads the INGEST_* settings, falling back to the defaults.
func LoadLimits() Limits {
	d := DefaultLimits()
	return Limits{
		MaxArchiveBytes:  env.GetInt64("INGEST_MAX_ARCHIVE_BYTES", d.MaxArchiveBytes),
		MaxExpandedBytes: env.GetInt64("INGEST_MAX_EXPANDED_BYTES", d.MaxExpandedBytes),
		MaxRatio:         env.GetInt64("INGEST_MAX_RATIO", d.MaxRatio),
		MaxEntries:       env.GetInt("INGEST_MAX_ENTRIES", d.MaxEntries),
		UploadWorkers:    env.GetInt("INGEST_UPLOAD_WORKERS", d.UploadWorkers),
		StaleAfter:       env.GetDuration("INGEST_STALE_AFTER", d.StaleAfter),
		SpoolDir:         env.GetEnv("INGEST_SPOOL_DIR", d.SpoolDir),
	}
}
