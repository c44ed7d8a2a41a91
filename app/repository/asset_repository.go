package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

// assetRepository implements the AssetRepository interface
type assetRepository struct {
	db *gorm.DB
}

// NewAssetRepository creates a new ebook asset repository instance
func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) Create(ctx context.Context, asset *models.EbookAsset) error {
	return r.db.WithContext(ctx).Omit("Chapters").Create(asset).Error
}

func (r *assetRepository) GetByUUID(ctx context.Context, assetUUID string) (*models.EbookAsset, error) {
	var asset models.EbookAsset
	if err := r.db.WithContext(ctx).Where("uuid = ?", assetUUID).First(&asset).Error; err != nil {
		return nil, notFound(err, "asset")
	}
	return &asset, nil
}

func (r *assetRepository) Latest(ctx context.Context, bookID uint) (*models.EbookAsset, error) {
	var asset models.EbookAsset
	if err := r.db.WithContext(ctx).Where("book_id = ?", bookID).Order("id DESC").First(&asset).Error; err != nil {
		return nil, notFound(err, "asset")
	}
	return &asset, nil
}

func (r *assetRepository) FindReady(ctx context.Context, bookID uint) (*models.EbookAsset, error) {
	var asset models.EbookAsset
	err := r.db.WithContext(ctx).
		Where("book_id = ? AND status = ?", bookID, models.AssetStatusReady).
		Order("id DESC").
		First(&asset).Error
	if err != nil {
		return nil, notFound(err, "asset")
	}
	return &asset, nil
}

func (r *assetRepository) FindByHash(ctx context.Context, bookID uint, contentHash string) (*models.EbookAsset, error) {
	var asset models.EbookAsset
	err := r.db.WithContext(ctx).
		Where("book_id = ? AND content_hash = ?", bookID, contentHash).
		Order("id DESC").
		First(&asset).Error
	if err != nil {
		return nil, notFound(err, "asset")
	}
	return &asset, nil
}

func (r *assetRepository) ListByBook(ctx context.Context, bookID uint) ([]models.EbookAsset, error) {
	var assets []models.EbookAsset
	err := r.db.WithContext(ctx).Where("book_id = ?", bookID).Order("id DESC").Find(&assets).Error
	return assets, err
}

func (r *assetRepository) Transition(ctx context.Context, id uint, from, to models.AssetStatus, errMsg string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.EbookAsset{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":        to,
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *assetRepository) Publish(ctx context.Context, asset *models.EbookAsset, chapters []models.Chapter, replaceID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Stale index rows from an earlier failed attempt of the same asset.
		if err := deleteIndex(tx, asset.ID); err != nil {
			return err
		}
		for i := range chapters {
			chapters[i].AssetID = asset.ID
			if err := tx.Create(&chapters[i]).Error; err != nil {
				return err
			}
		}

		res := tx.Model(&models.EbookAsset{}).
			Where("id = ? AND status = ?", asset.ID, models.AssetStatusUploading).
			Updates(map[string]interface{}{
				"status":        models.AssetStatusReady,
				"original_key":  asset.OriginalKey,
				"page_count":    asset.PageCount,
				"error_message": "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Newf(apperr.CodeStateConflict, "asset %s is no longer uploading", asset.UUID)
		}

		if replaceID != 0 && replaceID != asset.ID {
			if err := deleteAsset(tx, replaceID); err != nil {
				return err
			}
		}
		asset.Status = models.AssetStatusReady
		asset.ErrorMessage = ""
		asset.Chapters = chapters
		return nil
	})
}

func (r *assetRepository) RewriteKeys(ctx context.Context, asset *models.EbookAsset, keys map[string]string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"index_revision": gorm.Expr("index_revision + 1")}
		if next, ok := keys[asset.OriginalKey]; ok && asset.OriginalKey != "" {
			updates["original_key"] = next
		}
		if err := tx.Model(&models.EbookAsset{}).Where("id = ?", asset.ID).Updates(updates).Error; err != nil {
			return err
		}
		for i := range asset.Chapters {
			for j := range asset.Chapters[i].Pages {
				page := &asset.Chapters[i].Pages[j]
				next, ok := keys[page.StorageKey]
				if !ok {
					continue
				}
				if err := tx.Model(&models.Page{}).Where("id = ?", page.ID).
					Update("storage_key", next).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		asset.IndexRevision++
	}
	return err
}

func (r *assetRepository) LoadChapters(ctx context.Context, assetID uint) ([]models.Chapter, error) {
	var chapters []models.Chapter
	err := r.db.WithContext(ctx).
		Preload("Pages", func(db *gorm.DB) *gorm.DB { return db.Order("page_index ASC") }).
		Where("asset_id = ?", assetID).
		Order("sort_order ASC").
		Find(&chapters).Error
	return chapters, err
}

func (r *assetRepository) ListStale(ctx context.Context, status models.AssetStatus, updatedBefore time.Time) ([]models.EbookAsset, error) {
	var assets []models.EbookAsset
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, updatedBefore).
		Find(&assets).Error
	return assets, err
}

func (r *assetRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteAsset(tx, id)
	})
}

// deleteIndex removes chapters and pages explicitly so it works without FK cascades too.
func deleteIndex(tx *gorm.DB, assetID uint) error {
	sub := tx.Model(&models.Chapter{}).Select("id").Where("asset_id = ?", assetID)
	if err := tx.Where("chapter_id IN (?)", sub).Delete(&models.Page{}).Error; err != nil {
		return err
	}
	return tx.Where("asset_id = ?", assetID).Delete(&models.Chapter{}).Error
}

func deleteAsset(tx *gorm.DB, id uint) error {
	if err := deleteIndex(tx, id); err != nil {
		return err
	}
	return tx.Delete(&models.EbookAsset{}, id).Error
}
