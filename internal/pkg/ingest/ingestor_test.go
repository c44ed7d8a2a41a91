package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/app/repository"
	"github.com/ManuelReschke/Bookfox/app/repository/memory"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/storage"
)

type entry struct {
	name string
	data []byte
}

func buildZip(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if e.data != nil {
			_, err = w.Write(e.data)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func png(tag string) []byte {
	return append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), tag...)
}

func jpeg(tag string) []byte {
	return append([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), tag...)
}

var pdf = []byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

type fixture struct {
	in      *Ingestor
	assets  repository.AssetRepository
	objects *storage.MemoryStore
	spool   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.NewStore()
	objects := storage.NewMemoryStore()
	limits := DefaultLimits()
	limits.SpoolDir = t.TempDir()
	assets := mem.Repositories().Asset
	return &fixture{
		in:      NewIngestor(assets, objects, limits),
		assets:  assets,
		objects: objects,
		spool:   limits.SpoolDir,
	}
}

func (f *fixture) ingest(t *testing.T, bookID uint, data []byte, kind ArchiveKind, name string) (*Result, error) {
	t.Helper()
	return f.in.Ingest(context.Background(), bookID, bytes.NewReader(data), kind, name)
}

func (f *fixture) chapters(t *testing.T, assetUUID string) []models.Chapter {
	t.Helper()
	asset, err := f.assets.GetByUUID(context.Background(), assetUUID)
	require.NoError(t, err)
	chapters, err := f.assets.LoadChapters(context.Background(), asset.ID)
	require.NoError(t, err)
	return chapters
}

func TestIngestSingleFileIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first, err := f.ingest(t, 7, pdf, KindSingleFile, "Dune.PDF")
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusReady, first.Status)
	assert.False(t, first.Reused)

	data, contentType, ok := f.objects.Object("books/7/original.pdf")
	require.True(t, ok)
	assert.Equal(t, pdf, data)
	assert.Equal(t, "application/pdf", contentType)

	second, err := f.ingest(t, 7, pdf, KindSingleFile, "dune-again.pdf")
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.AssetUUID, second.AssetUUID)

	assets, err := f.assets.ListByBook(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, assets, 1)

	left, err := os.ReadDir(f.spool)
	require.NoError(t, err)
	assert.Empty(t, left, "spool files are removed")
}

func TestIngestRejectsWrongFormat(t *testing.T) {
	f := newFixture(t)

	_, err := f.ingest(t, 7, pdf, KindSingleFile, "book.zip")
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidFormat))

	_, err = f.ingest(t, 7, pdf, KindCbz, "comic.pdf")
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidFormat))

	_, err = f.ingest(t, 7, []byte("not a zip at all"), KindCbz, "comic.cbz")
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidFormat))

	// Content that does not match the extension fails the asset.
	_, err = f.ingest(t, 7, []byte("plain text pretending"), KindSingleFile, "book.pdf")
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidFormat))
	latest, err := f.assets.Latest(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusFailed, latest.Status)
	assert.NotEmpty(t, latest.ErrorMessage)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" CBZ ")
	require.NoError(t, err)
	assert.Equal(t, KindCbz, k)

	_, err = ParseKind("rar")
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestIngestZippedSingleFile(t *testing.T) {
	f := newFixture(t)
	archive := buildZip(t,
		entry{"__MACOSX/._book.pdf", []byte("resource fork")},
		entry{".DS_Store", []byte("finder")},
		entry{"docs/readme.txt", []byte("hello")},
		entry{"docs/book.pdf", pdf},
	)

	res, err := f.ingest(t, 3, archive, KindZippedSingleFile, "book.zip")
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusReady, res.Status)

	data, _, ok := f.objects.Object("books/3/original.pdf")
	require.True(t, ok)
	assert.Equal(t, pdf, data)
}

func TestIngestZippedSingleFileAmbiguous(t *testing.T) {
	f := newFixture(t)

	two := buildZip(t, entry{"a.epub", []byte("PK-one")}, entry{"b.epub", []byte("PK-two")})
	_, err := f.ingest(t, 3, two, KindZippedSingleFile, "two.zip")
	assert.True(t, apperr.HasCode(err, apperr.CodeAmbiguousArchive))

	none := buildZip(t, entry{"cover.png", png("c")})
	_, err = f.ingest(t, 3, none, KindZippedSingleFile, "none.zip")
	assert.True(t, apperr.HasCode(err, apperr.CodeAmbiguousArchive))

	_, err = f.assets.Latest(context.Background(), 3)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound), "rejected before an asset row is created")
}

func TestIngestCbzNaturalOrder(t *testing.T) {
	f := newFixture(t)
	archive := buildZip(t,
		entry{"cover.png", png("cover")},
		entry{"chap-10/", nil},
		entry{"chap-10/page2.png", png("10-2")},
		entry{"chap-10/page1.png", png("10-1")},
		entry{"chap-2/page10.png", png("2-10")},
		entry{"chap-2/page2.jpg", jpeg("2-2")},
		entry{"chap-2/page1.png", png("2-1")},
		entry{"chap-1/001.png", png("1-1")},
		entry{"chap-1/notes.txt", []byte("skip me")},
		entry{"chap-1/extras/deep.png", png("deep")},
		entry{"empty/", nil},
		entry{"empty/readme.txt", []byte("nothing")},
	)

	res, err := f.ingest(t, 9, archive, KindCbz, "comic.cbz")
	require.NoError(t, err)
	assert.Equal(t, 6, res.PageCount)

	chapters := f.chapters(t, res.AssetUUID)
	var names []string
	for _, c := range chapters {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"chap-1", "chap-2", "chap-10"}, names)

	chap2 := chapters[1]
	require.Len(t, chap2.Pages, 3)
	assert.Equal(t, "books/9/chap-2/1.png", chap2.Pages[0].StorageKey)
	assert.Equal(t, "books/9/chap-2/2.jpg", chap2.Pages[1].StorageKey)
	assert.Equal(t, "image/jpeg", chap2.Pages[1].ContentType)
	assert.Equal(t, "books/9/chap-2/3.png", chap2.Pages[2].StorageKey)
	assert.Equal(t, 3, chap2.Pages[2].PageIndex)

	data, _, ok := f.objects.Object("books/9/chap-2/3.png")
	require.True(t, ok)
	assert.Equal(t, png("2-10"), data)

	assert.Empty(t, f.objects.Keys("books/9/empty"))
	assert.Empty(t, f.objects.Keys("books/9/cover"))
}

func TestIngestCbzWithoutPages(t *testing.T) {
	f := newFixture(t)
	archive := buildZip(t,
		entry{"chap-1/", nil},
		entry{"chap-1/info.txt", []byte("text")},
		entry{"chap-2/", nil},
	)
	_, err := f.ingest(t, 9, archive, KindCbz, "empty.cbz")
	assert.True(t, apperr.HasCode(err, apperr.CodeEmptyArchive))
}

func TestIngestCbzRejectsDisguisedPage(t *testing.T) {
	f := newFixture(t)
	archive := buildZip(t,
		entry{"chap-1/1.png", png("ok")},
		entry{"chap-1/2.png", []byte("<html><script>alert(1)</script></html>")},
	)
	_, err := f.ingest(t, 9, archive, KindCbz, "comic.cbz")
	assert.True(t, apperr.HasCode(err, apperr.CodeSuspiciousArchive))

	latest, err := f.assets.Latest(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusFailed, latest.Status)
	assert.Empty(t, f.objects.Keys("books/9/"), "partial writes are removed")
}

func TestIngestRejectsZipSlip(t *testing.T) {
	f := newFixture(t)
	archive := buildZip(t, entry{"chap-1/../../evil.png", png("x")})
	_, err := f.ingest(t, 9, archive, KindCbz, "comic.cbz")
	assert.True(t, apperr.HasCode(err, apperr.CodeSuspiciousArchive))
	assert.Empty(t, f.objects.Keys(""))
}

func TestIngestSizeLimits(t *testing.T) {
	f := newFixture(t)
	f.in.limits.MaxArchiveBytes = 16
	_, err := f.ingest(t, 1, pdf, KindSingleFile, "big.pdf")
	assert.True(t, apperr.HasCode(err, apperr.CodeTooLarge))

	f = newFixture(t)
	f.in.limits.MaxExpandedBytes = 20
	archive := buildZip(t, entry{"chap-1/1.png", png("0123456789")}, entry{"chap-1/2.png", png("0123456789")})
	_, err = f.ingest(t, 1, archive, KindCbz, "comic.cbz")
	assert.True(t, apperr.HasCode(err, apperr.CodeTooLarge))

	f = newFixture(t)
	f.in.limits.MaxEntries = 1
	_, err = f.ingest(t, 1, archive, KindCbz, "comic.cbz")
	assert.True(t, apperr.HasCode(err, apperr.CodeSuspiciousArchive))
}

func TestFailedReingestKeepsReadyAsset(t *testing.T) {
	f := newFixture(t)
	good := buildZip(t, entry{"chap-1/1.png", png("a1")}, entry{"chap-1/2.png", png("a2")})
	first, err := f.ingest(t, 5, good, KindCbz, "v1.cbz")
	require.NoError(t, err)

	bad := buildZip(t, entry{"chap-1/1.png", png("b1")}, entry{"chap-1/2.png", []byte("GIF89a not allowed")})
	_, err = f.ingest(t, 5, bad, KindCbz, "v2.cbz")
	require.Error(t, err)

	ready, err := f.assets.FindReady(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, first.AssetUUID, ready.UUID)

	data, _, ok := f.objects.Object("books/5/chap-1/1.png")
	require.True(t, ok)
	assert.Equal(t, png("a1"), data)
	assert.Empty(t, f.objects.Keys("books/5/.incoming"))
}

func TestReingestReplacesPreviousRevision(t *testing.T) {
	f := newFixture(t)
	v1 := buildZip(t,
		entry{"chap-1/1.png", png("a1")},
		entry{"chap-1/2.png", png("a2")},
		entry{"chap-2/1.png", png("a3")},
	)
	first, err := f.ingest(t, 5, v1, KindCbz, "v1.cbz")
	require.NoError(t, err)

	v2 := buildZip(t, entry{"chap-1/1.png", png("b1")})
	second, err := f.ingest(t, 5, v2, KindCbz, "v2.cbz")
	require.NoError(t, err)
	assert.NotEqual(t, first.AssetUUID, second.AssetUUID)

	_, err = f.assets.GetByUUID(context.Background(), first.AssetUUID)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound), "previous revision replaced")

	chapters := f.chapters(t, second.AssetUUID)
	require.Len(t, chapters, 1)
	assert.Equal(t, "books/5/chap-1/1.png", chapters[0].Pages[0].StorageKey)

	assert.Equal(t, []string{"books/5/chap-1/1.png"}, f.objects.Keys("books/5/"))
	data, _, _ := f.objects.Object("books/5/chap-1/1.png")
	assert.Equal(t, png("b1"), data)
}

func TestStorageFailureThenRetryInPlace(t *testing.T) {
	f := newFixture(t)
	archive := buildZip(t, entry{"chap-1/1.png", png("1")}, entry{"chap-1/2.png", png("2")}, entry{"chap-1/3.png", png("3")})
	f.objects.FailPut = func(key string) error {
		if strings.HasSuffix(key, "/3.png") {
			return errors.New("connection reset")
		}
		return nil
	}

	_, err := f.ingest(t, 4, archive, KindCbz, "comic.cbz")
	assert.True(t, apperr.HasCode(err, apperr.CodeStorageUnavailable))
	failed, err := f.assets.Latest(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusFailed, failed.Status)
	assert.Empty(t, f.objects.Keys("books/4/"))

	f.objects.FailPut = nil
	res, err := f.ingest(t, 4, archive, KindCbz, "comic.cbz")
	require.NoError(t, err)
	assert.Equal(t, failed.UUID, res.AssetUUID, "same content retried on the failed row")
	assert.Equal(t, models.AssetStatusReady, res.Status)
}

func TestCancelledIngestionFails(t *testing.T) {
	f := newFixture(t)
	p, err := f.in.Prepare(context.Background(), 2, bytes.NewReader(pdf), KindSingleFile, "book.pdf")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.in.Process(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)

	asset, err := f.assets.GetByUUID(context.Background(), p.AssetUUID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusFailed, asset.Status)
	_, err = f.assets.FindReady(context.Background(), 2)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}

func TestConcurrentUploadAndStaleRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.in.Prepare(ctx, 2, bytes.NewReader(pdf), KindSingleFile, "book.pdf")
	require.NoError(t, err)
	defer p.Discard()

	_, err = f.in.Prepare(ctx, 2, bytes.NewReader([]byte("%PDF-1.4 other")), KindSingleFile, "other.pdf")
	assert.True(t, apperr.HasCode(err, apperr.CodeStateConflict))

	n, err := f.in.FailStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	asset, err := f.assets.GetByUUID(ctx, p.AssetUUID)
	require.NoError(t, err)
	f.assets.(*memory.Assets).Backdate(asset.ID, 2*time.Hour)

	n, err = f.in.FailStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	asset, err = f.assets.GetByUUID(ctx, p.AssetUUID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusFailed, asset.Status)

	_, err = f.in.Process(ctx, p)
	assert.True(t, apperr.HasCode(err, apperr.CodeStateConflict))
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	archive := buildZip(t, entry{"chap-1/1.png", png("1")})
	_, err := f.ingest(t, 8, archive, KindCbz, "comic.cbz")
	require.NoError(t, err)

	require.NoError(t, f.in.Remove(context.Background(), 8))
	assert.Empty(t, f.objects.Keys("books/8/"))
	_, err = f.assets.Latest(context.Background(), 8)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	err = f.in.Remove(context.Background(), 8)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}
