// Package storage abstracts the object store that holds book content.
// Keys are slash-separated and relative (books/{bookId}/...).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

// ObjectStore is the subset of object storage the service relies on.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Presign returns a URL that allows reading exactly key until ttl elapses.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// Copier is implemented by stores that can copy objects server-side.
type Copier interface {
	Copy(ctx context.Context, srcKey, dstKey string) error
}

// Copy copies srcKey to dstKey, server-side when the store supports it.
func Copy(ctx context.Context, store ObjectStore, srcKey, dstKey, contentType string) error {
	if c, ok := store.(Copier); ok {
		return c.Copy(ctx, srcKey, dstKey)
	}
	rc, err := store.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	defer rc.Close()
	return store.Put(ctx, dstKey, rc, -1, contentType)
}

type subjectKey struct{}

// WithSubject attaches the user a presigned URL is issued for.
// Drivers that can embed it in the URL do so.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

func subjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

var errBadKey = errors.New("invalid object key")

// ValidateKey rejects keys that could escape the storage root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", errBadKey, key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", errBadKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("%w: %q", errBadKey, key)
		}
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", errBadKey, key)
		}
	}
	return nil
}

func unavailable(op, key string, err error) error {
	return apperr.Wrap(apperr.CodeStorageUnavailable, op+" "+key, err)
}

func missing(key string, err error) error {
	return apperr.Wrap(apperr.CodeNotFound, "object "+key, err)
}

// ContentTypeFor maps a file extension to the content type used for stored objects.
func ContentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".epub":
		return "application/epub+zip"
	default:
		return "application/octet-stream"
	}
}
