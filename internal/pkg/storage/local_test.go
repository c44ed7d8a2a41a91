package storage

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/security"
)

func newLocal(t *testing.T, now *time.Time) *LocalStore {
	t.Helper()
	signer, err := security.NewSigner("local-secret")
	require.NoError(t, err)
	if now != nil {
		signer = signer.WithClock(func() time.Time { return *now })
	}
	store, err := NewLocalStore(t.TempDir(), "http://localhost:4000/", signer)
	require.NoError(t, err)
	return store
}

func tokenOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestLocalStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t, nil)

	require.NoError(t, store.Put(ctx, "books/1/original.pdf", strings.NewReader("%PDF-1.7"), 8, "application/pdf"))

	rc, err := store.Get(ctx, "books/1/original.pdf")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "%PDF-1.7", string(data))

	require.NoError(t, store.Copy(ctx, "books/1/original.pdf", "books/1/copy.pdf"))
	require.NoError(t, store.Delete(ctx, "books/1/original.pdf"))
	require.NoError(t, store.Delete(ctx, "books/1/original.pdf"), "deleting twice is not an error")

	_, err = store.Get(ctx, "books/1/original.pdf")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
	_, err = store.Get(ctx, "books/1/copy.pdf")
	assert.NoError(t, err)
}

func TestLocalStoreRejectsShortWrites(t *testing.T) {
	store := newLocal(t, nil)
	err := store.Put(context.Background(), "books/1/original.pdf", strings.NewReader("abc"), 10, "application/pdf")
	assert.True(t, apperr.HasCode(err, apperr.CodeStorageUnavailable))

	_, err = store.Get(context.Background(), "books/1/original.pdf")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound), "partial object must not become visible")
}

func TestLocalStoreSignedURLBoundary(t *testing.T) {
	ctx := context.Background()
	issued := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	now := issued
	store := newLocal(t, &now)
	require.NoError(t, store.Put(ctx, "books/2/chap-1/1.jpg", strings.NewReader("jpeg"), 4, "image/jpeg"))

	raw, err := store.Presign(WithSubject(ctx, "user-9"), "books/2/chap-1/1.jpg", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "http://localhost:4000/files/books/2/chap-1/1.jpg?token="))
	token := tokenOf(t, raw)

	now = issued.Add(9*time.Minute + 59*time.Second)
	f, claims, err := store.Open("books/2/chap-1/1.jpg", token)
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, "user-9", claims.Subject)

	// A token is scoped to one key only.
	_, _, err = store.Open("books/2/chap-1/2.jpg", token)
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	now = issued.Add(10*time.Minute + time.Second)
	_, _, err = store.Open("books/2/chap-1/1.jpg", token)
	assert.ErrorIs(t, err, security.ErrTokenExpired)
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"books/1/original.pdf", "books/1/chap 1/1.png"} {
		assert.NoError(t, ValidateKey(key), key)
	}
	for _, key := range []string{"", "/abs", "books/../etc", "books//1", "books/./1", "books\\1", "books/1/\x00"} {
		assert.Error(t, ValidateKey(key), key)
	}
}
