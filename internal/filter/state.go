package filter

import (
	"sort"
	"strconv"
	"strings"
)

const (
	FacetBookSources = "book_sources"
	FacetChapters    = "chapters"
	FacetTags        = "tags"
)

const (
	DifficultyAll    = "all"
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

const (
	SortIDAsc          = "id_asc"
	SortIDDesc         = "id_desc"
	SortCreatedAtAsc   = "created_at_asc"
	SortCreatedAtDesc  = "created_at_desc"
	SortDifficultyAsc  = "difficulty_asc"
	SortDifficultyDesc = "difficulty_desc"
)

const (
	DefaultSortBy   = SortIDAsc
	DefaultPageSize = 25
)

// Facets lists the facet names in query-string order.
var Facets = []string{FacetBookSources, FacetChapters, FacetTags}

// PageSizes are the allowed rows-per-page values.
var PageSizes = []int{10, 25, 50, 100}

var sortKeys = []string{
	SortIDAsc, SortIDDesc,
	SortCreatedAtAsc, SortCreatedAtDesc,
	SortDifficultyAsc, SortDifficultyDesc,
}

var difficulties = []string{DifficultyAll, DifficultyEasy, DifficultyMedium, DifficultyHard}

// Criteria is the durable part of a filter: everything except the page position
// and the hydration flag. Presets and the persisted state both store Criteria.
type Criteria struct {
	Search     string              `json:"search"`
	Facets     map[string][]string `json:"facets,omitempty"`
	Difficulty string              `json:"difficulty"`
	SortBy     string              `json:"sort_by"`
	PageSize   int                 `json:"page_size"`
}

// State is the canonical query descriptor held by a Store.
type State struct {
	Criteria
	Page     int
	Hydrated bool
}

func DefaultCriteria() Criteria {
	return Criteria{
		Facets:     map[string][]string{},
		Difficulty: DifficultyAll,
		SortBy:     DefaultSortBy,
		PageSize:   DefaultPageSize,
	}
}

func DefaultState() State {
	return State{Criteria: DefaultCriteria(), Page: 1}
}

// HasActive reports whether any criterion narrows or reorders the default listing.
func (c Criteria) HasActive() bool {
	if strings.TrimSpace(c.Search) != "" {
		return true
	}
	for _, values := range c.Facets {
		if len(values) > 0 {
			return true
		}
	}
	if c.Difficulty != "" && c.Difficulty != DifficultyAll {
		return true
	}
	return c.SortBy != "" && c.SortBy != DefaultSortBy
}

// Clone returns a deep copy so callers never share facet slices with the store.
func (c Criteria) Clone() Criteria {
	out := c
	out.Facets = make(map[string][]string, len(c.Facets))
	for name, values := range c.Facets {
		if len(values) == 0 {
			continue
		}
		out.Facets[name] = append([]string(nil), values...)
	}
	return out
}

func (s State) Clone() State {
	s.Criteria = s.Criteria.Clone()
	return s
}

// Key is the canonical cache key for the filter-relevant fields. Facet values are
// sorted so selection order never produces a different key.
func (s State) Key() string {
	var sb strings.Builder
	sb.WriteString("search=")
	sb.WriteString(s.Search)
	for _, name := range Facets {
		values := append([]string(nil), s.Facets[name]...)
		sort.Strings(values)
		sb.WriteString("\x00")
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(strings.Join(values, "\x1f"))
	}
	sb.WriteString("\x00difficulty=")
	sb.WriteString(normalizeDifficulty(s.Difficulty))
	sb.WriteString("\x00sort_by=")
	sb.WriteString(s.SortBy)
	sb.WriteString("\x00page=")
	sb.WriteString(strconv.Itoa(s.Page))
	sb.WriteString("\x00pageSize=")
	sb.WriteString(strconv.Itoa(s.PageSize))
	return sb.String()
}

func IsFacet(name string) bool {
	return contains(Facets, name)
}

func IsSortKey(v string) bool {
	return contains(sortKeys, v)
}

func IsDifficulty(v string) bool {
	return contains(difficulties, v)
}

func IsPageSize(n int) bool {
	for _, opt := range PageSizes {
		if n == opt {
			return true
		}
	}
	return false
}

func normalizeDifficulty(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return DifficultyAll
	}
	return v
}

// uniqueValues trims, drops empties and removes duplicates while keeping the
// first occurrence order.
func uniqueValues(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, it := range list {
		if it == v {
			return true
		}
	}
	return false
}
