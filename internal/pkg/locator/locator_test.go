package locator

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/app/repository"
	"github.com/ManuelReschke/Bookfox/app/repository/memory"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/cache"
)

// countingAssets counts index loads that reach the repository.
type countingAssets struct {
	repository.AssetRepository
	loads atomic.Int32
}

func (c *countingAssets) LoadChapters(ctx context.Context, assetID uint) ([]models.Chapter, error) {
	c.loads.Add(1)
	return c.AssetRepository.LoadChapters(ctx, assetID)
}

func publish(t *testing.T, assets repository.AssetRepository, asset *models.EbookAsset, chapters []models.Chapter) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, assets.Create(ctx, asset))
	require.NoError(t, assets.Publish(ctx, asset, chapters, 0))
}

func comicChapters() []models.Chapter {
	page := func(ch string, i int) models.Page {
		return models.Page{PageIndex: i, StorageKey: "books/2/" + ch + "/" + string(rune('0'+i)) + ".png", ContentType: "image/png"}
	}
	return []models.Chapter{
		{Name: "chap-1", SortOrder: 1, Pages: []models.Page{page("chap-1", 1), page("chap-1", 2)}},
		{Name: "chap-2", SortOrder: 2, Pages: []models.Page{page("chap-2", 1)}},
		{Name: "chap-10", SortOrder: 3, Pages: []models.Page{page("chap-10", 1)}},
	}
}

func TestResolveSingleFile(t *testing.T) {
	ctx := context.Background()
	assets := memory.NewStore().Repositories().Asset
	publish(t, assets, &models.EbookAsset{BookID: 1, Kind: models.AssetKindSingleFile, OriginalKey: "books/1/original.epub"}, nil)
	l := New(assets, nil)

	key, err := l.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "books/1/original.epub", key)

	_, err = l.ResolveChapters(ctx, 1)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestResolveMissingAndNotReady(t *testing.T) {
	ctx := context.Background()
	assets := memory.NewStore().Repositories().Asset
	l := New(assets, nil)

	_, err := l.Resolve(ctx, 5)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	require.NoError(t, assets.Create(ctx, &models.EbookAsset{BookID: 5, Kind: models.AssetKindSingleFile}))
	_, err = l.Resolve(ctx, 5)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotReady))
	_, err = l.ResolvePage(ctx, 5, "chap-1")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotReady))
}

func TestReadyRevisionServedDuringUpload(t *testing.T) {
	ctx := context.Background()
	assets := memory.NewStore().Repositories().Asset
	publish(t, assets, &models.EbookAsset{BookID: 1, Kind: models.AssetKindSingleFile, OriginalKey: "books/1/original.pdf"}, nil)
	require.NoError(t, assets.Create(ctx, &models.EbookAsset{BookID: 1, Kind: models.AssetKindSingleFile}))

	key, err := New(assets, nil).Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "books/1/original.pdf", key)
}

func TestResolveComic(t *testing.T) {
	ctx := context.Background()
	assets := memory.NewStore().Repositories().Asset
	publish(t, assets, &models.EbookAsset{BookID: 2, Kind: models.AssetKindPagedComic, PageCount: 4}, comicChapters())
	l := New(assets, nil)

	names, err := l.ResolveChapters(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"chap-1", "chap-2", "chap-10"}, names)

	pages, err := l.ResolvePage(ctx, 2, "chap-1")
	require.NoError(t, err)
	assert.Equal(t, []PageRef{
		{Index: 1, Key: "books/2/chap-1/1.png", ContentType: "image/png"},
		{Index: 2, Key: "books/2/chap-1/2.png", ContentType: "image/png"},
	}, pages)

	_, err = l.ResolvePage(ctx, 2, "chap-99")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	_, err = l.Resolve(ctx, 2)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestIndexIsCachedPerAsset(t *testing.T) {
	ctx := context.Background()
	assets := &countingAssets{AssetRepository: memory.NewStore().Repositories().Asset}
	asset := &models.EbookAsset{BookID: 2, Kind: models.AssetKindPagedComic}
	publish(t, assets, asset, comicChapters())
	store := cache.NewMemory()
	l := New(assets, store)

	for i := 0; i < 3; i++ {
		_, err := l.ResolvePage(ctx, 2, "chap-2")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), assets.loads.Load())

	_, err := store.Get(ctx, indexKey(asset.UUID, 0))
	require.NoError(t, err)

	require.NoError(t, l.Invalidate(ctx, asset.UUID, 0))
	_, err = l.ResolveChapters(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), assets.loads.Load())
}

func TestRewrittenKeysBypassStaleIndex(t *testing.T) {
	ctx := context.Background()
	assets := memory.NewStore().Repositories().Asset
	staged := []models.Chapter{
		{Name: "chap-1", SortOrder: 1, Pages: []models.Page{{PageIndex: 1, StorageKey: "books/2/.incoming/u/chap-1/1.png", ContentType: "image/png"}}},
	}
	asset := &models.EbookAsset{BookID: 2, Kind: models.AssetKindPagedComic}
	publish(t, assets, asset, staged)
	store := cache.NewMemory()
	l := New(assets, store)

	// An index of the staged keys is cached, and stays cached even if it was
	// written after any invalidation.
	pages, err := l.ResolvePage(ctx, 2, "chap-1")
	require.NoError(t, err)
	assert.Equal(t, "books/2/.incoming/u/chap-1/1.png", pages[0].Key)

	require.NoError(t, assets.RewriteKeys(ctx, asset, map[string]string{
		"books/2/.incoming/u/chap-1/1.png": "books/2/chap-1/1.png",
	}))
	assert.Equal(t, 1, asset.IndexRevision)

	pages, err = l.ResolvePage(ctx, 2, "chap-1")
	require.NoError(t, err)
	assert.Equal(t, "books/2/chap-1/1.png", pages[0].Key)

	_, err = store.Get(ctx, indexKey(asset.UUID, 1))
	assert.NoError(t, err)
}
