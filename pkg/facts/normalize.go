package facts

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// canonicalAliases maps common spellings of locations, language names, and
// programming-language tokens to one canonical form, so "NYC", "new york
// city", and "New York" all collide under dedup. This is the "data, not
// code" normalisation table the fact repository is required to apply
// identically on write and on dedup lookup.
var canonicalAliases = map[string]string{
	"nyc":            "new york city",
	"new york":       "new york city",
	"sf":             "san francisco",
	"kyiv":           "kyiv",
	"kiev":           "kyiv",
	"lviv":           "lviv",
	"lvov":           "lviv",
	"golang":         "go",
	"js":             "javascript",
	"ts":             "typescript",
	"py":             "python",
	"py3":            "python",
	"c++":            "cpp",
	"c plus plus":    "cpp",
	"ukr":            "ukrainian",
	"eng":            "english",
	"english lang":   "english",
	"ukrainian lang": "ukrainian",
}

// Normalise applies NFC normalisation, case-folding, whitespace
// collapsing, and the canonical-alias table, producing the value used
// as the dedup-lookup key. It is idempotent: Normalise(Normalise(x)) ==
// Normalise(x) for all x, since every transform it applies is itself
// idempotent and the alias table maps onto its own canonical forms.
func Normalise(value string) string {
	v := norm.NFC.String(value)
	v = strings.ToLower(v)
	v = strings.Join(strings.Fields(v), " ")
	v = strings.Trim(v, " .,;:!?\"'")
	if canonical, ok := canonicalAliases[v]; ok {
		return canonical
	}
	return v
}
