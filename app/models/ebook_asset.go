package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AssetKind string

const (
	AssetKindSingleFile AssetKind = "single_file"
	AssetKindPagedComic AssetKind = "paged_comic"
)

type AssetStatus string

const (
	AssetStatusUploading AssetStatus = "uploading"
	AssetStatusReady     AssetStatus = "ready"
	AssetStatusFailed    AssetStatus = "failed"
)

// EbookAsset is one ingested revision of a book's readable content.
// At most one asset per book is ready; chapters and pages cascade on delete.
type EbookAsset struct {
	ID               uint        `gorm:"primaryKey" json:"-"`
	UUID             string      `gorm:"type:char(36);uniqueIndex" json:"uuid"`
	BookID           uint        `gorm:"not null;index:idx_ebook_assets_book_status,priority:1" json:"book_id"`
	Kind             AssetKind   `gorm:"type:varchar(20);not null" json:"kind"`
	Status           AssetStatus `gorm:"type:varchar(20);not null;default:'uploading';index:idx_ebook_assets_book_status,priority:2" json:"status"`
	StorageRoot      string      `gorm:"type:varchar(255);not null" json:"storage_root"`
	OriginalKey      string      `gorm:"type:varchar(500)" json:"original_key,omitempty"`
	OriginalFilename string      `gorm:"type:varchar(255)" json:"original_filename"`
	ContentHash      string      `gorm:"type:char(64);not null;index" json:"content_hash"`
	SizeBytes        int64       `gorm:"not null;default:0" json:"size_bytes"`
	PageCount        int         `gorm:"not null;default:0" json:"page_count"`
	ErrorMessage     string      `gorm:"type:text" json:"error_message,omitempty"`
	IndexRevision    int         `gorm:"not null;default:0" json:"-"` // bumped whenever stored keys are rewritten
	Chapters         []Chapter   `gorm:"foreignKey:AssetID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"chapters,omitempty"`
	CreatedAt        time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate sets default values before creating a new asset record
func (a *EbookAsset) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = AssetStatusUploading
	}
	return nil
}

func (a *EbookAsset) IsReady() bool {
	return a.Status == AssetStatusReady
}

// Chapter is a top-level directory of a comic archive.
type Chapter struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	AssetID   uint   `gorm:"not null;index:idx_chapters_asset_order,priority:1" json:"-"`
	Name      string `gorm:"type:varchar(255);not null" json:"name"`
	SortOrder int    `gorm:"not null;index:idx_chapters_asset_order,priority:2" json:"sort_order"`
	Pages     []Page `gorm:"foreignKey:ChapterID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"pages,omitempty"`
}

func (Chapter) TableName() string {
	return "asset_chapters"
}

// Page is one image of a chapter. PageIndex starts at 1.
type Page struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	ChapterID   uint   `gorm:"not null;index:idx_pages_chapter_index,priority:1" json:"-"`
	PageIndex   int    `gorm:"not null;index:idx_pages_chapter_index,priority:2" json:"index"`
	StorageKey  string `gorm:"type:varchar(500);not null" json:"storage_key"`
	ContentType string `gorm:"type:varchar(50);not null" json:"content_type"`
	SizeBytes   int64  `gorm:"not null;default:0" json:"size_bytes"`
}

func (Page) TableName() string {
	return "asset_pages"
}
