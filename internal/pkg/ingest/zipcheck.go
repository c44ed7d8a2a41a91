package ingest

import (
	"archive/zip"
	"errors"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

// Entries below this size are not subject to the ratio check; tiny files
// routinely compress far better than any bomb threshold.
const ratioFloor = 64 * 1024

func openZip(path string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, zip.ErrInsecurePath) {
			if zr != nil {
				zr.Close()
			}
			return nil, apperr.Wrap(apperr.CodeSuspiciousArchive, "archive contains insecure paths", err)
		}
		return nil, apperr.Wrap(apperr.CodeInvalidFormat, "not a readable zip archive", err)
	}
	return zr, nil
}

// inspect enforces the archive limits using the central directory only, before
// any entry is decompressed.
func inspect(files []*zip.File, limits Limits) error {
	if limits.MaxEntries > 0 && len(files) > limits.MaxEntries {
		return apperr.Newf(apperr.CodeSuspiciousArchive, "archive has %d entries, limit is %d", len(files), limits.MaxEntries)
	}
	var total uint64
	for _, f := range files {
		if err := checkEntryName(f.Name); err != nil {
			return err
		}
		total += f.UncompressedSize64
		if limits.MaxExpandedBytes > 0 && total > uint64(limits.MaxExpandedBytes) {
			return apperr.Newf(apperr.CodeTooLarge, "archive expands beyond %d bytes", limits.MaxExpandedBytes)
		}
		if f.UncompressedSize64 < ratioFloor || limits.MaxRatio <= 0 {
			continue
		}
		if f.CompressedSize64 == 0 || f.UncompressedSize64/f.CompressedSize64 > uint64(limits.MaxRatio) {
			return apperr.Newf(apperr.CodeSuspiciousArchive, "entry %q has a suspicious compression ratio", f.Name)
		}
	}
	return nil
}

func checkEntryName(name string) error {
	bad := func(reason string) error {
		return apperr.Newf(apperr.CodeSuspiciousArchive, "entry %q: %s", name, reason)
	}
	if !utf8.ValidString(name) {
		return bad("name is not valid UTF-8")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return bad("name contains control characters")
		}
	}
	if strings.Contains(name, "\\") {
		return bad("name uses backslash separators")
	}
	if strings.HasPrefix(name, "/") || (len(name) > 1 && name[1] == ':') {
		return bad("absolute path")
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return bad("path escapes the archive root")
		}
	}
	return nil
}

// ignored reports entries that are packaging noise rather than content.
func ignored(name string) bool {
	for _, seg := range strings.Split(strings.TrimSuffix(name, "/"), "/") {
		if seg == "__MACOSX" || strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// stem returns the file name without directory and extension.
func stem(name string) string {
	base := path.Base(name)
	return strings.TrimSuffix(base, path.Ext(base))
}
