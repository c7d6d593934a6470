package query

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"cbtadmin/internal/filter"
)

func TestParamsFromStateOmitsAllDifficulty(t *testing.T) {
	st := filter.DefaultState()
	st.Facets[filter.FacetTags] = []string{"algebra"}

	p := ParamsFromState(st)
	want := Params{
		Tags:     []string{"algebra"},
		SortBy:   filter.DefaultSortBy,
		Page:     1,
		PageSize: filter.DefaultPageSize,
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("params (-want +got):\n%s", diff)
	}
}

func TestParamsStateRoundTrip(t *testing.T) {
	st := filter.DefaultState()
	st.Search = "speed"
	st.Facets[filter.FacetChapters] = []string{"Ch 3", "Ch 1"}
	st.Difficulty = filter.DifficultyMedium
	st.SortBy = filter.SortCreatedAtDesc
	st.Page = 4
	st.PageSize = 10

	got := ParamsFromState(st).State()
	if got.Key() != st.Key() {
		t.Fatalf("key mismatch\nwant %q\ngot  %q", st.Key(), got.Key())
	}
	if enc := ParamsFromState(st).Encode(); enc != filter.EncodeQuery(st) {
		t.Fatalf("encode mismatch %q vs %q", enc, filter.EncodeQuery(st))
	}
}
