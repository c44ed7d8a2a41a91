package ingest

import (
	"strings"
)

// naturalLess orders names so embedded numbers compare by value:
// chap-2 < chap-10, page1 < page02 < page3.
func naturalLess(a, b string) bool {
	ai, bi := 0, 0
	for ai < len(a) && bi < len(b) {
		ca, cb := a[ai], b[bi]
		if isDigit(ca) && isDigit(cb) {
			as, ae := digitRun(a, ai)
			bs, be := digitRun(b, bi)
			na := strings.TrimLeft(a[as:ae], "0")
			nb := strings.TrimLeft(b[bs:be], "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			ai, bi = ae, be
			continue
		}
		la, lb := lower(ca), lower(cb)
		if la != lb {
			return la < lb
		}
		ai++
		bi++
	}
	if len(a)-ai != len(b)-bi {
		return len(a)-ai < len(b)-bi
	}
	// Equal under the natural order (e.g. "01" vs "1"): fall back to bytes for a stable total order.
	return a < b
}

func digitRun(s string, i int) (int, int) {
	j := i
	for j < len(s) && isDigit(s[j]) {
		j++
	}
	return i, j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}
