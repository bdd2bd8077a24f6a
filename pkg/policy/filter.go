package policy

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Category identifies which layer of the filter matched.
type Category string

const (
	CategoryExactDigest Category = "EXACT_DIGEST"
	CategoryKeyword     Category = "KEYWORD"
	CategoryMisspelling Category = "MISSPELLING"
	CategoryPhrase      Category = "PHRASE"
	CategoryNonASCII    Category = "NON_ASCII"
)

// Match describes a filter hit.
type Match struct {
	Category Category `json:"category"`
	Term     string   `json:"term"`
}

// Filter is the immutable, versioned prohibited-action filter. A hit is
// a hard rejection regardless of any resolution confidence — the filter
// runs before resolution is even consulted.
type Filter struct {
	version      *semver.Version
	exactDigests map[string]struct{}
	keywords     []string
	misspellings []string
	phrases      []string
}

// NewFilter returns the filter built from the baked table.
func NewFilter() (*Filter, error) {
	return buildTable()
}

// Version returns the filter table version.
func (f *Filter) Version() string { return f.version.String() }

// Inspect checks action against every layer of the table and returns
// the first match. Layers run cheapest-signal first: the ASCII check
// rejects homoglyph smuggling before any comparison, then exact
// digests, keywords, misspellings, and phrases.
func (f *Filter) Inspect(action string) (Match, bool) {
	// Any non-ASCII byte is rejected outright. Conservative, but it
	// closes the homoglyph class entirely rather than enumerating it.
	for i := 0; i < len(action); i++ {
		if action[i] > 0x7f {
			return Match{Category: CategoryNonASCII, Term: action[i : i+1]}, true
		}
	}

	lower := strings.ToLower(action)

	if _, hit := f.exactDigests[textDigest(action)]; hit {
		return Match{Category: CategoryExactDigest, Term: textDigest(action)}, true
	}

	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return Match{Category: CategoryKeyword, Term: kw}, true
		}
	}

	for _, ms := range f.misspellings {
		if strings.Contains(lower, ms) {
			return Match{Category: CategoryMisspelling, Term: ms}, true
		}
	}

	// Collapse runs of whitespace and separators so "super   pac" and
	// "super_pac" match the phrase list.
	flat := flatten(lower)
	for _, ph := range f.phrases {
		if strings.Contains(flat, ph) {
			return Match{Category: CategoryPhrase, Term: ph}, true
		}
	}

	return Match{}, false
}

// flatten maps separator characters to single spaces.
func flatten(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '_' || r == '-' || r == '.' {
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
