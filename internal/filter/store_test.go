package filter

import (
	"errors"
	"io"
	"log"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type memPresets struct {
	items map[string]Criteria
}

func (m *memPresets) SavePreset(name string, c Criteria) error {
	if m.items == nil {
		m.items = map[string]Criteria{}
	}
	m.items[name] = c.Clone()
	return nil
}

func (m *memPresets) LoadPreset(name string) (Criteria, bool, error) {
	c, ok := m.items[name]
	return c.Clone(), ok, nil
}

func (m *memPresets) DeletePreset(name string) error {
	delete(m.items, name)
	return nil
}

func (m *memPresets) ListPresets() ([]string, error) {
	out := make([]string, 0, len(m.items))
	for name := range m.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

type memPersister struct {
	saved  *Criteria
	saves  int
	failOn error
}

func (m *memPersister) LoadCriteria() (Criteria, bool, error) {
	if m.saved == nil {
		return Criteria{}, false, nil
	}
	return m.saved.Clone(), true, nil
}

func (m *memPersister) SaveCriteria(c Criteria) error {
	m.saves++
	if m.failOn != nil {
		return m.failOn
	}
	cp := c.Clone()
	m.saved = &cp
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestStore() *Store {
	return NewStore(StoreOptions{Presets: &memPresets{}, Logger: quietLogger()})
}

func TestMutatorsResetPage(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Store)
	}{
		{name: "search", mutate: func(s *Store) { s.SetSearch("percent") }},
		{name: "same search", mutate: func(s *Store) { s.SetSearch("") }},
		{name: "facet", mutate: func(s *Store) { s.SetFacet(FacetTags, []string{"algebra"}) }},
		{name: "toggle facet", mutate: func(s *Store) { s.ToggleFacetValue(FacetChapters, "Ratio") }},
		{name: "difficulty", mutate: func(s *Store) { s.SetDifficulty(DifficultyHard) }},
		{name: "sort", mutate: func(s *Store) { s.SetSortBy(SortCreatedAtDesc) }},
		{name: "page size", mutate: func(s *Store) { s.SetPageSize(50) }},
		{name: "set filters", mutate: func(s *Store) {
			v := "x"
			s.SetFilters(Patch{Search: &v})
		}},
		{name: "clear", mutate: func(s *Store) { s.ClearAllFilters() }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore()
			s.SetPage(4)
			if got := s.Snapshot().Page; got != 4 {
				t.Fatalf("setup: page=%d", got)
			}
			tc.mutate(s)
			if got := s.Snapshot().Page; got != 1 {
				t.Fatalf("expected page 1 after %s, got %d", tc.name, got)
			}
		})
	}
}

func TestSetPageAndPageSizeBoundaries(t *testing.T) {
	s := newTestStore()
	s.SetPage(3)
	s.SetPageSize(50)
	s.SetPage(2)

	s.SetPage(0)
	s.SetPage(-7)
	s.SetPageSize(0)
	s.SetPageSize(-25)
	s.SetPageSize(33)

	got := s.Snapshot()
	if got.Page != 2 {
		t.Fatalf("expected page 2 kept, got %d", got.Page)
	}
	if got.PageSize != 50 {
		t.Fatalf("expected pageSize 50 kept, got %d", got.PageSize)
	}
}

func TestSetFacetIgnoresUnknownAndDuplicates(t *testing.T) {
	s := newTestStore()
	s.SetFacet("colour", []string{"red"})
	s.SetFacet(FacetBookSources, []string{"Book A", " Book A ", "", "Book B"})

	want := map[string][]string{FacetBookSources: {"Book A", "Book B"}}
	if diff := cmp.Diff(want, s.Snapshot().Facets); diff != "" {
		t.Fatalf("facets mismatch (-want +got):\n%s", diff)
	}

	s.ToggleFacetValue(FacetBookSources, "Book A")
	want = map[string][]string{FacetBookSources: {"Book B"}}
	if diff := cmp.Diff(want, s.Snapshot().Facets); diff != "" {
		t.Fatalf("facets after toggle (-want +got):\n%s", diff)
	}
}

func TestHydrateFromQueryPartial(t *testing.T) {
	s := newTestStore()
	s.SetSearch("ratio")
	s.SetDifficulty(DifficultyEasy)

	s.HydrateFromQuery("?tags=geometry&page=3")

	got := s.Snapshot()
	if got.Search != "ratio" || got.Difficulty != DifficultyEasy {
		t.Fatalf("unspecified fields changed: %+v", got)
	}
	if got.Page != 3 {
		t.Fatalf("expected page 3 from query, got %d", got.Page)
	}
	if diff := cmp.Diff([]string{"geometry"}, got.Facets[FacetTags]); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestHydrateFromQueryIgnoresMalformedNumbers(t *testing.T) {
	s := newTestStore()
	s.SetPageSize(10)
	s.SetPage(2)

	for _, raw := range []string{"page=abc&pageSize=xyz", "page=0&pageSize=-10", "page=-3&pageSize=0", "page=&pageSize="} {
		s.HydrateFromQuery(raw)
		got := s.Snapshot()
		if got.Page != 2 || got.PageSize != 10 {
			t.Fatalf("%q: expected page=2 pageSize=10, got page=%d pageSize=%d", raw, got.Page, got.PageSize)
		}
	}
}

func TestHydrateFromQueryIdempotent(t *testing.T) {
	raw := "search=unit+rate&book_sources=Book+A,Book+B&difficulty=medium&sort_by=created_at_desc&page=2&pageSize=50"

	once := newTestStore()
	once.HydrateFromQuery(raw)

	twice := newTestStore()
	twice.HydrateFromQuery(raw)
	twice.HydrateFromQuery(raw)

	if diff := cmp.Diff(once.Snapshot(), twice.Snapshot()); diff != "" {
		t.Fatalf("hydrating twice differs (-once +twice):\n%s", diff)
	}
}

func TestSubscribeNotifiesOnlyOnChange(t *testing.T) {
	s := newTestStore()
	var got []State
	unsubscribe := s.Subscribe(func(st State) { got = append(got, st) })

	s.SetSearch("speed")
	s.SetSearch("speed")
	s.SetSortBy("bogus")
	s.SetPage(2)
	unsubscribe()
	s.SetPage(3)

	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[1].Page != 2 || got[1].Search != "speed" {
		t.Fatalf("unexpected last notification: %+v", got[1])
	}
}

func TestListenerCopyIsIsolated(t *testing.T) {
	s := newTestStore()
	s.Subscribe(func(st State) {
		if vals := st.Facets[FacetTags]; len(vals) > 0 {
			vals[0] = "mutated"
		}
	})
	s.SetFacet(FacetTags, []string{"algebra"})

	if got := s.Snapshot().Facets[FacetTags][0]; got != "algebra" {
		t.Fatalf("store state mutated through listener copy: %s", got)
	}
}

func TestPresets(t *testing.T) {
	s := newTestStore()
	s.SetSearch("percent")
	s.SetFacet(FacetBookSources, []string{"Book A"})
	s.SetPageSize(50)
	if err := s.SavePreset("  weekly  "); err != nil {
		t.Fatalf("save preset: %v", err)
	}

	s.ClearAllFilters()
	s.SetFacet(FacetChapters, []string{"Ch 2"})
	s.SetPage(5)

	if err := s.LoadPreset("weekly"); err != nil {
		t.Fatalf("load preset: %v", err)
	}
	got := s.Snapshot()
	want := Criteria{
		Search:     "percent",
		Facets:     map[string][]string{FacetBookSources: {"Book A"}},
		Difficulty: DifficultyAll,
		SortBy:     DefaultSortBy,
		PageSize:   50,
	}
	if diff := cmp.Diff(want, got.Criteria); diff != "" {
		t.Fatalf("criteria after preset load (-want +got):\n%s", diff)
	}
	if got.Page != 1 {
		t.Fatalf("expected page reset to 1, got %d", got.Page)
	}

	names, err := s.Presets()
	if err != nil {
		t.Fatalf("list presets: %v", err)
	}
	if diff := cmp.Diff([]string{"weekly"}, names); diff != "" {
		t.Fatalf("preset names (-want +got):\n%s", diff)
	}

	if err := s.DeletePreset("weekly"); err != nil {
		t.Fatalf("delete preset: %v", err)
	}
	if err := s.LoadPreset("weekly"); !errors.Is(err, ErrPresetNotFound) {
		t.Fatalf("expected ErrPresetNotFound, got %v", err)
	}
	if err := s.SavePreset("   "); !errors.Is(err, ErrInvalidPreset) {
		t.Fatalf("expected ErrInvalidPreset, got %v", err)
	}
}

func TestPresetsWithoutStore(t *testing.T) {
	s := NewStore(StoreOptions{Logger: quietLogger()})
	if err := s.SavePreset("x"); !errors.Is(err, ErrNoPresetStore) {
		t.Fatalf("expected ErrNoPresetStore, got %v", err)
	}
}

func TestPersistedCriteriaExcludePage(t *testing.T) {
	p := &memPersister{}
	s := NewStore(StoreOptions{Persister: p, Logger: quietLogger()})
	s.SetSearch("ratio")
	s.SetDifficulty(DifficultyHard)
	savesBefore := p.saves
	s.SetPage(4)
	s.MarkHydrated()

	if p.saves != savesBefore {
		t.Fatalf("page/hydration changes must not persist, saves went %d -> %d", savesBefore, p.saves)
	}

	restored := NewStore(StoreOptions{Persister: p, Logger: quietLogger()})
	got := restored.Snapshot()
	if got.Search != "ratio" || got.Difficulty != DifficultyHard {
		t.Fatalf("criteria not restored: %+v", got)
	}
	if got.Page != 1 || got.Hydrated {
		t.Fatalf("page/hydrated must start fresh, got page=%d hydrated=%v", got.Page, got.Hydrated)
	}
}

func TestPersistErrorsAreSwallowed(t *testing.T) {
	p := &memPersister{failOn: errors.New("disk full")}
	s := NewStore(StoreOptions{Persister: p, Logger: quietLogger()})
	s.SetSearch("still works")
	if got := s.Snapshot().Search; got != "still works" {
		t.Fatalf("expected state updated despite persist error, got %q", got)
	}
}

func TestRestoreFromQueryResetsMissingKeys(t *testing.T) {
	s := newTestStore()
	s.SetDifficulty(DifficultyHard)
	s.SetFacet(FacetTags, []string{"algebra"})
	s.SetPage(6)

	s.RestoreFromQuery("search=ratio")

	got := s.Snapshot()
	want := DefaultCriteria()
	want.Search = "ratio"
	if diff := cmp.Diff(want, got.Criteria); diff != "" {
		t.Fatalf("criteria after restore (-want +got):\n%s", diff)
	}
	if got.Page != 1 {
		t.Fatalf("expected page 1, got %d", got.Page)
	}
}
