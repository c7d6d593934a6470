package filter

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	keySearch     = "search"
	keyDifficulty = "difficulty"
	keySortBy     = "sort_by"
	keyPage       = "page"
	keyPageSize   = "pageSize"
)

// Patch carries optional criteria. Nil pointers and facets missing from the map
// are left untouched when the patch is applied.
type Patch struct {
	Search     *string
	Facets     map[string][]string
	Difficulty *string
	SortBy     *string
	PageSize   *int
}

// QueryValues is a Patch decoded from a query string plus the page position.
type QueryValues struct {
	Patch
	Page *int
}

// EncodeQuery renders the filter-relevant fields of s as a query string without
// the leading '?'. Values equal to their defaults are omitted, so the default
// state encodes to "".
func EncodeQuery(s State) string {
	parts := make([]string, 0, 8)
	if s.Search != "" {
		parts = append(parts, keySearch+"="+url.QueryEscape(s.Search))
	}
	for _, name := range Facets {
		values := uniqueValues(s.Facets[name])
		if len(values) == 0 {
			continue
		}
		parts = append(parts, name+"="+encodeFacetValues(values))
	}
	if d := normalizeDifficulty(s.Difficulty); d != DifficultyAll {
		parts = append(parts, keyDifficulty+"="+url.QueryEscape(d))
	}
	if s.SortBy != "" && s.SortBy != DefaultSortBy {
		parts = append(parts, keySortBy+"="+url.QueryEscape(s.SortBy))
	}
	if s.Page > 1 {
		parts = append(parts, keyPage+"="+strconv.Itoa(s.Page))
	}
	if s.PageSize > 0 && s.PageSize != DefaultPageSize {
		parts = append(parts, keyPageSize+"="+strconv.Itoa(s.PageSize))
	}
	return strings.Join(parts, "&")
}

// ParseQuery decodes a query string produced by EncodeQuery (or typed by hand).
// Only keys present with a usable value end up in the result; malformed values
// are dropped silently and never produce an error.
func ParseQuery(raw string) QueryValues {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "?")
	var out QueryValues
	seen := map[string]bool{}

	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(key)
		if err != nil || seen[key] {
			continue
		}
		seen[key] = true

		switch {
		case key == keySearch:
			if v, err := url.QueryUnescape(value); err == nil {
				out.Search = &v
			}
		case IsFacet(key):
			if out.Facets == nil {
				out.Facets = map[string][]string{}
			}
			out.Facets[key] = decodeFacetValues(value)
		case key == keyDifficulty:
			if v, err := url.QueryUnescape(value); err == nil {
				v = normalizeDifficulty(v)
				if IsDifficulty(v) {
					out.Difficulty = &v
				}
			}
		case key == keySortBy:
			if v, err := url.QueryUnescape(value); err == nil && IsSortKey(v) {
				out.SortBy = &v
			}
		case key == keyPage:
			if n, ok := positiveInt(value); ok {
				out.Page = &n
			}
		case key == keyPageSize:
			if n, ok := positiveInt(value); ok && IsPageSize(n) {
				out.PageSize = &n
			}
		}
	}
	return out
}

// encodeFacetValues percent-encodes every value (spaces become '+') and joins
// them with literal commas.
func encodeFacetValues(values []string) string {
	encoded := make([]string, 0, len(values))
	for _, v := range values {
		encoded = append(encoded, url.QueryEscape(v))
	}
	return strings.Join(encoded, ",")
}

func decodeFacetValues(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		v, err := url.PathUnescape(strings.ReplaceAll(part, "+", " "))
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return uniqueValues(out)
}

func positiveInt(raw string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
