package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

// Assets implements repository.AssetRepository.
type Assets Store

func (r *Assets) Create(_ context.Context, asset *models.EbookAsset) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	asset.ID = s.id()
	if asset.UUID == "" {
		asset.UUID = uuid.NewString()
	}
	if asset.Status == "" {
		asset.Status = models.AssetStatusUploading
	}
	now := time.Now().UTC()
	asset.CreatedAt, asset.UpdatedAt = now, now
	stored := *asset
	stored.Chapters = nil
	s.assets[asset.ID] = stored
	return nil
}

func (r *Assets) find(keep func(models.EbookAsset) bool) (*models.EbookAsset, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.EbookAsset
	for _, a := range s.assets {
		if keep(a) && (best == nil || a.ID > best.ID) {
			c := a
			best = &c
		}
	}
	if best == nil {
		return nil, notFound("asset")
	}
	return best, nil
}

func (r *Assets) GetByUUID(_ context.Context, assetUUID string) (*models.EbookAsset, error) {
	return r.find(func(a models.EbookAsset) bool { return a.UUID == assetUUID })
}

func (r *Assets) Latest(_ context.Context, bookID uint) (*models.EbookAsset, error) {
	return r.find(func(a models.EbookAsset) bool { return a.BookID == bookID })
}

func (r *Assets) FindReady(_ context.Context, bookID uint) (*models.EbookAsset, error) {
	return r.find(func(a models.EbookAsset) bool {
		return a.BookID == bookID && a.Status == models.AssetStatusReady
	})
}

func (r *Assets) FindByHash(_ context.Context, bookID uint, contentHash string) (*models.EbookAsset, error) {
	return r.find(func(a models.EbookAsset) bool {
		return a.BookID == bookID && a.ContentHash == contentHash
	})
}

func (r *Assets) ListByBook(_ context.Context, bookID uint) ([]models.EbookAsset, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EbookAsset
	for _, a := range s.assets {
		if a.BookID == bookID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *Assets) Transition(_ context.Context, id uint, from, to models.AssetStatus, errMsg string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.ErrorMessage = errMsg
	a.UpdatedAt = time.Now().UTC()
	s.assets[id] = a
	return true, nil
}

func (r *Assets) Publish(_ context.Context, asset *models.EbookAsset, chapters []models.Chapter, replaceID uint) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.assets[asset.ID]
	if !ok || stored.Status != models.AssetStatusUploading {
		return apperr.Newf(apperr.CodeStateConflict, "asset %s is no longer uploading", asset.UUID)
	}
	for i := range chapters {
		chapters[i].ID = s.id()
		chapters[i].AssetID = asset.ID
		for j := range chapters[i].Pages {
			chapters[i].Pages[j].ID = s.id()
			chapters[i].Pages[j].ChapterID = chapters[i].ID
		}
	}
	s.chapters[asset.ID] = cloneChapters(chapters)

	stored.Status = models.AssetStatusReady
	stored.OriginalKey = asset.OriginalKey
	stored.PageCount = asset.PageCount
	stored.ErrorMessage = ""
	stored.UpdatedAt = time.Now().UTC()
	s.assets[asset.ID] = stored

	if replaceID != 0 && replaceID != asset.ID {
		delete(s.assets, replaceID)
		delete(s.chapters, replaceID)
	}
	asset.Status = models.AssetStatusReady
	asset.ErrorMessage = ""
	asset.Chapters = chapters
	return nil
}

func (r *Assets) RewriteKeys(_ context.Context, asset *models.EbookAsset, keys map[string]string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assets[asset.ID]; ok {
		if next, ok := keys[a.OriginalKey]; ok && a.OriginalKey != "" {
			a.OriginalKey = next
		}
		a.IndexRevision++
		s.assets[asset.ID] = a
		asset.IndexRevision = a.IndexRevision
	}
	chapters := s.chapters[asset.ID]
	for i := range chapters {
		for j := range chapters[i].Pages {
			if next, ok := keys[chapters[i].Pages[j].StorageKey]; ok {
				chapters[i].Pages[j].StorageKey = next
			}
		}
	}
	return nil
}

func (r *Assets) LoadChapters(_ context.Context, assetID uint) ([]models.Chapter, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := cloneChapters(s.chapters[assetID])
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (r *Assets) ListStale(_ context.Context, status models.AssetStatus, updatedBefore time.Time) ([]models.EbookAsset, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EbookAsset
	for _, a := range s.assets {
		if a.Status == status && a.UpdatedAt.Before(updatedBefore) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Assets) Delete(_ context.Context, id uint) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assets, id)
	delete(s.chapters, id)
	return nil
}

// Backdate shifts an asset's UpdatedAt, for stale-upload tests.
func (r *Assets) Backdate(id uint, by time.Duration) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assets[id]; ok {
		a.UpdatedAt = a.UpdatedAt.Add(-by)
		s.assets[id] = a
	}
}

func cloneChapters(in []models.Chapter) []models.Chapter {
	out := make([]models.Chapter, len(in))
	for i, c := range in {
		c.Pages = append([]models.Page(nil), c.Pages...)
		out[i] = c
	}
	return out
}
