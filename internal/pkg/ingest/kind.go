package ingest

import (
	"path/filepath"
	"strings"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

// ArchiveKind is the declared shape of an upload. It is resolved once when the
// upload enters and drives every later step.
type ArchiveKind string

const (
	KindSingleFile       ArchiveKind = "single_file"
	KindZippedSingleFile ArchiveKind = "zipped_single_file"
	KindCbz              ArchiveKind = "cbz"
)

var ebookExt = map[string]bool{".pdf": true, ".epub": true}

var kindExt = map[ArchiveKind]map[string]bool{
	KindSingleFile:       ebookExt,
	KindZippedSingleFile: {".zip": true},
	KindCbz:              {".cbz": true, ".zip": true},
}

// ParseKind maps the form value of an upload to an ArchiveKind.
func ParseKind(s string) (ArchiveKind, error) {
	k := ArchiveKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := kindExt[k]; !ok {
		return "", apperr.Newf(apperr.CodeValidation, "unknown archive kind %q", s)
	}
	return k, nil
}

// checkExtension returns the lower-cased extension of filename when it fits kind.
func checkExtension(kind ArchiveKind, filename string) (string, error) {
	allowed, ok := kindExt[kind]
	if !ok {
		return "", apperr.Newf(apperr.CodeValidation, "unknown archive kind %q", kind)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowed[ext] {
		return "", apperr.Newf(apperr.CodeInvalidFormat, "%q is not a valid %s upload", filename, kind)
	}
	return ext, nil
}

func (k ArchiveKind) zipped() bool {
	return k == KindZippedSingleFile || k == KindCbz
}

func (k ArchiveKind) assetKind() models.AssetKind {
	if k == KindCbz {
		return models.AssetKindPagedComic
	}
	return models.AssetKindSingleFile
}
