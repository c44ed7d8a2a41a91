package ingest

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

func TestNaturalLess(t *testing.T) {
	names := []string{"chap-10", "chap-2", "Chap-1", "chap-1b", "appendix", "chap-100"}
	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })
	assert.Equal(t, []string{"appendix", "Chap-1", "chap-1b", "chap-2", "chap-10", "chap-100"}, names)

	assert.True(t, naturalLess("page9", "page10"))
	assert.False(t, naturalLess("page10", "page9"))
	assert.True(t, naturalLess("a", "ab"))
	assert.False(t, naturalLess("same", "same"))
}

func TestCheckEntryName(t *testing.T) {
	for _, name := range []string{"chap-1/1.png", "Kapitel Ä/01.jpg", "a/b/c.png"} {
		assert.NoError(t, checkEntryName(name), name)
	}
	for _, name := range []string{"/etc/passwd", "../x.png", "chap/../../x.png", "c:/x.png", "a\\b.png", "bad\x00name.png", "tab\tname.png", string([]byte{0xff, 0xfe})} {
		assert.True(t, apperr.HasCode(checkEntryName(name), apperr.CodeSuspiciousArchive), "%q", name)
	}
}

func TestIgnored(t *testing.T) {
	assert.True(t, ignored("__MACOSX/chap-1/._1.png"))
	assert.True(t, ignored(".hidden/1.png"))
	assert.True(t, ignored("chap-1/.DS_Store"))
	assert.False(t, ignored("chap-1/1.png"))
}
