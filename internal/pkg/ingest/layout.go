package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/storage"
)

// Root is the storage prefix that holds all content of a book.
func Root(bookID uint) string {
	return fmt.Sprintf("books/%d", bookID)
}

// stagingPrefix is where a revision is written while an older one is still served.
func stagingPrefix(bookID uint, assetUUID string) string {
	return Root(bookID) + "/.incoming/" + assetUUID + "/"
}

type object struct {
	key         string
	contentType string
}

// writer puts objects under one prefix and remembers them so a failed
// ingestion can remove what it wrote.
type writer struct {
	store  storage.ObjectStore
	root   string
	prefix string

	mu      sync.Mutex
	written []object
}

func newWriter(store storage.ObjectStore, bookID uint, prefix string) *writer {
	return &writer{store: store, root: Root(bookID) + "/", prefix: prefix}
}

func (w *writer) staged() bool {
	return w.prefix != w.root
}

func (w *writer) put(ctx context.Context, rel string, r io.Reader, size int64, contentType string) (string, error) {
	key := w.prefix + rel
	if err := w.store.Put(ctx, key, r, size, contentType); err != nil {
		return "", err
	}
	w.mu.Lock()
	w.written = append(w.written, object{key: key, contentType: contentType})
	w.mu.Unlock()
	return key, nil
}

func (w *writer) canonical(key string) string {
	return w.root + strings.TrimPrefix(key, w.prefix)
}

// discard deletes everything written so far. It runs even when ctx is already cancelled.
func (w *writer) discard(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, o := range w.written {
		if err := w.store.Delete(ctx, o.key); err != nil && !apperr.HasCode(err, apperr.CodeNotFound) {
			log.Warnf("[Ingest] Could not remove partial object %s: %v", o.key, err)
		}
	}
	w.written = nil
}

// peek reads the first bytes of r for sniffing and returns a reader that
// still yields the whole stream.
func peek(r io.Reader) ([]byte, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, nil, err
	}
	head = head[:n]
	return head, io.MultiReader(bytes.NewReader(head), r), nil
}

// Cleaner disposes of objects that are no longer referenced by any index.
type Cleaner interface {
	Cleanup(ctx context.Context, keys []string) error
}

// InlineCleaner deletes the objects synchronously.
type InlineCleaner struct {
	Store storage.ObjectStore
}

func (c InlineCleaner) Cleanup(ctx context.Context, keys []string) error {
	var failed []string
	for _, key := range keys {
		if err := c.Store.Delete(ctx, key); err != nil && !apperr.HasCode(err, apperr.CodeNotFound) {
			failed = append(failed, key)
		}
	}
	if len(failed) > 0 {
		return apperr.Newf(apperr.CodeStorageUnavailable, "could not delete %d of %d objects", len(failed), len(keys))
	}
	return nil
}
