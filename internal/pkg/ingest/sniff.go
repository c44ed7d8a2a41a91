package ingest

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

// sniffLen is how many leading bytes are inspected to detect a content type.
const sniffLen = 3072

var pageExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

var pageMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// sniffPage checks the first bytes of a comic page against the image whitelist
// and returns the detected content type.
func sniffPage(name string, head []byte) (string, error) {
	detected := mimetype.Detect(head)
	mime := detected.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}

	// Scriptable content is refused whatever the extension says.
	if strings.HasPrefix(mime, "text/html") || strings.HasPrefix(mime, "application/xhtml") ||
		detected.Is("image/svg+xml") || strings.HasSuffix(mime, "/xml") {
		return "", apperr.Newf(apperr.CodeSuspiciousArchive, "page %q contains markup", name)
	}
	if !pageMime[mime] {
		return "", apperr.Newf(apperr.CodeSuspiciousArchive, "page %q is %s, not an image", name, mime)
	}
	return mime, nil
}

// sniffEbook checks that a book file's bytes match its extension.
func sniffEbook(name, ext string, head []byte) (string, error) {
	detected := mimetype.Detect(head)
	switch ext {
	case ".pdf":
		if detected.Is("application/pdf") {
			return "application/pdf", nil
		}
	case ".epub":
		// Some tools do not store the mimetype entry first, which makes an epub look like a plain zip.
		if detected.Is("application/epub+zip") || detected.Is("application/zip") {
			return "application/epub+zip", nil
		}
	}
	return "", apperr.Newf(apperr.CodeInvalidFormat, "%q does not look like a %s file (detected %s)", name, ext, detected.String())
}
