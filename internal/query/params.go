package query

import (
	"context"

	"cbtadmin/internal/filter"
)

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_searcher.go -package=mocks cbtadmin/internal/query Searcher

// Searcher is the remote search collaborator. Implementations receive the
// caller's context and may block until the remote call resolves.
type Searcher[T any] interface {
	Search(ctx context.Context, p Params) (Page[T], error)
}

// Params is what a single search request carries. Difficulty is empty when
// no difficulty filter is active.
type Params struct {
	Search      string
	BookSources []string
	Chapters    []string
	Tags        []string
	Difficulty  string
	SortBy      string
	Page        int
	PageSize    int
}

type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func ParamsFromState(st filter.State) Params {
	p := Params{
		Search:      st.Search,
		BookSources: append([]string(nil), st.Facets[filter.FacetBookSources]...),
		Chapters:    append([]string(nil), st.Facets[filter.FacetChapters]...),
		Tags:        append([]string(nil), st.Facets[filter.FacetTags]...),
		SortBy:      st.SortBy,
		Page:        st.Page,
		PageSize:    st.PageSize,
	}
	if st.Difficulty != filter.DifficultyAll {
		p.Difficulty = st.Difficulty
	}
	return p
}

// State rebuilds the filter state these params were derived from.
func (p Params) State() filter.State {
	st := filter.DefaultState()
	st.Search = p.Search
	for name, values := range map[string][]string{
		filter.FacetBookSources: p.BookSources,
		filter.FacetChapters:    p.Chapters,
		filter.FacetTags:        p.Tags,
	} {
		if len(values) > 0 {
			st.Facets[name] = append([]string(nil), values...)
		}
	}
	if p.Difficulty != "" {
		st.Difficulty = p.Difficulty
	}
	if p.SortBy != "" {
		st.SortBy = p.SortBy
	}
	if p.Page > 0 {
		st.Page = p.Page
	}
	if p.PageSize > 0 {
		st.PageSize = p.PageSize
	}
	return st
}

// Encode renders the params in the shared query-string schema.
func (p Params) Encode() string {
	return filter.EncodeQuery(p.State())
}

// TotalPages is ceil(total/pageSize), or 0 when pageSize is not positive.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
