// Package natsort implements a natural-key comparator: strings split into
// alternating text/integer runs, compared lexicographically with
// integer-aware comparison on numeric runs.
package natsort

import (
	"sort"
	"unicode"
)

// Less reports whether a sorts before b under natural order (e.g. "t2" <
// "t10").
func Less(a, b string) bool {
	ar, br := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ar) && j < len(br) {
		ca, cb := ar[i], br[j]
		if unicode.IsDigit(ca) && unicode.IsDigit(cb) {
			ni, na := scanDigits(ar, i)
			nj, nb := scanDigits(br, j)
			if na != nb {
				return na < nb
			}
			i, j = ni, nj
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(ar)-i < len(br)-j
}

// scanDigits consumes a run of digits starting at i, returning the index
// just past it and the run's numeric value (as a big-ish int; problem test
// counts never approach overflow).
func scanDigits(r []rune, i int) (int, int64) {
	start := i
	for i < len(r) && unicode.IsDigit(r[i]) {
		i++
	}
	var v int64
	for _, c := range r[start:i] {
		v = v*10 + int64(c-'0')
	}
	return i, v
}

// Strings sorts names in place using natural order.
func Strings(names []string) {
	sort.Slice(names, func(i, j int) bool { return Less(names[i], names[j]) })
}
