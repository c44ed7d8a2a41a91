// Package locator answers where the readable content of a book lives.
// It only reads the index written by ingestion.
package locator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/app/repository"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/cache"
)

const (
	indexKeyPrefix = "locator:index:"
	indexTTL       = time.Hour
)

// PageRef addresses one comic page in storage.
type PageRef struct {
	Index       int    `json:"index"`
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
}

// indexKey names the cached index of one revision of an asset. A load that
// raced a key rewrite can only fill the key of the revision it read.
func indexKey(assetUUID string, revision int) string {
	return fmt.Sprintf("%s%s:%d", indexKeyPrefix, assetUUID, revision)
}

type chapterIndex struct {
	Name  string    `json:"name"`
	Pages []PageRef `json:"pages"`
}

type Locator struct {
	assets repository.AssetRepository
	cache  cache.Store
	group  singleflight.Group
}

// New returns a locator. store may be nil, in which case every lookup reads the database.
func New(assets repository.AssetRepository, store cache.Store) *Locator {
	return &Locator{assets: assets, cache: store}
}

// Asset returns the ready asset of a book. A book whose only assets are
// uploading or failed is not ready; a book without assets is not found.
func (l *Locator) Asset(ctx context.Context, bookID uint) (*models.EbookAsset, error) {
	ready, err := l.assets.FindReady(ctx, bookID)
	if err == nil {
		return ready, nil
	}
	if !apperr.HasCode(err, apperr.CodeNotFound) {
		return nil, err
	}
	latest, err := l.assets.Latest(ctx, bookID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			return nil, apperr.Newf(apperr.CodeNotFound, "book %d has no content", bookID)
		}
		return nil, err
	}
	return nil, apperr.Newf(apperr.CodeNotReady, "content of book %d is %s", bookID, latest.Status)
}

// Resolve returns the storage key of a single-file book.
func (l *Locator) Resolve(ctx context.Context, bookID uint) (string, error) {
	asset, err := l.Asset(ctx, bookID)
	if err != nil {
		return "", err
	}
	if asset.Kind != models.AssetKindSingleFile {
		return "", apperr.Newf(apperr.CodeValidation, "book %d is a paged comic, request its chapters", bookID)
	}
	return asset.OriginalKey, nil
}

// ResolveChapters returns the chapter names of a comic in reading order.
func (l *Locator) ResolveChapters(ctx context.Context, bookID uint) ([]string, error) {
	index, err := l.comicIndex(ctx, bookID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(index))
	for i, c := range index {
		names[i] = c.Name
	}
	return names, nil
}

// ResolvePage returns the pages of one chapter in reading order.
func (l *Locator) ResolvePage(ctx context.Context, bookID uint, chapterName string) ([]PageRef, error) {
	index, err := l.comicIndex(ctx, bookID)
	if err != nil {
		return nil, err
	}
	for _, c := range index {
		if c.Name == chapterName {
			return c.Pages, nil
		}
	}
	return nil, apperr.Newf(apperr.CodeNotFound, "book %d has no chapter %q", bookID, chapterName)
}

func (l *Locator) comicIndex(ctx context.Context, bookID uint) ([]chapterIndex, error) {
	asset, err := l.Asset(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if asset.Kind != models.AssetKindPagedComic {
		return nil, apperr.Newf(apperr.CodeValidation, "book %d is a single file, it has no chapters", bookID)
	}
	return l.index(ctx, asset)
}

// index loads the chapter index of an asset, through the cache when one is configured.
// Concurrent misses for the same asset share one database read.
func (l *Locator) index(ctx context.Context, asset *models.EbookAsset) ([]chapterIndex, error) {
	key := indexKey(asset.UUID, asset.IndexRevision)
	if l.cache != nil {
		if raw, err := l.cache.Get(ctx, key); err == nil {
			var index []chapterIndex
			if err := json.Unmarshal([]byte(raw), &index); err == nil {
				return index, nil
			}
			log.Warnf("[Locator] Dropping undecodable index cache entry %s", key)
		}
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		chapters, err := l.assets.LoadChapters(ctx, asset.ID)
		if err != nil {
			return nil, err
		}
		index := make([]chapterIndex, len(chapters))
		for i, c := range chapters {
			pages := make([]PageRef, len(c.Pages))
			for j, p := range c.Pages {
				pages[j] = PageRef{Index: p.PageIndex, Key: p.StorageKey, ContentType: p.ContentType}
			}
			index[i] = chapterIndex{Name: c.Name, Pages: pages}
		}
		if l.cache != nil {
			if b, err := json.Marshal(index); err == nil {
				if err := l.cache.Set(ctx, key, string(b), indexTTL); err != nil {
					log.Warnf("[Locator] Could not cache index of asset %s: %v", asset.UUID, err)
				}
			}
		}
		return index, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]chapterIndex), nil
}

// Invalidate drops the cached index of one revision of an asset.
func (l *Locator) Invalidate(ctx context.Context, assetUUID string, revision int) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Del(ctx, indexKey(assetUUID, revision))
}
