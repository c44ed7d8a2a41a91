package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

type spooled struct {
	path string
	hash string
	size int64
}

// spool copies r to a temp file in fixed-size chunks while hashing it, so memory
// use does not depend on the archive size.
func spool(ctx context.Context, r io.Reader, limits Limits) (*spooled, error) {
	f, err := os.CreateTemp(limits.SpoolDir, "ingest-*.part")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	keep := false
	defer func() {
		f.Close()
		if !keep {
			os.Remove(f.Name())
		}
	}()

	h := sha256.New()
	src := io.Reader(&ctxReader{ctx: ctx, r: r})
	if limits.MaxArchiveBytes > 0 {
		src = io.LimitReader(src, limits.MaxArchiveBytes+1)
	}
	n, err := io.CopyBuffer(io.MultiWriter(f, h), src, make([]byte, chunkSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if limits.MaxArchiveBytes > 0 && n > limits.MaxArchiveBytes {
		return nil, apperr.Newf(apperr.CodeTooLarge, "upload exceeds %d bytes", limits.MaxArchiveBytes)
	}
	if n == 0 {
		return nil, apperr.New(apperr.CodeInvalidFormat, "upload is empty")
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync spool file: %w", err)
	}
	keep = true
	return &spooled{path: f.Name(), hash: hex.EncodeToString(h.Sum(nil)), size: n}, nil
}

// ctxReader stops a long copy once the context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
