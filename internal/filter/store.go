package filter

import (
	"errors"
	"log"
	"strings"
	"sync"
)

var (
	ErrNoPresetStore  = errors.New("preset store not configured")
	ErrInvalidPreset  = errors.New("invalid preset name")
	ErrPresetNotFound = errors.New("preset not found")
)

// Persister keeps the durable criteria across sessions.
type Persister interface {
	LoadCriteria() (Criteria, bool, error)
	SaveCriteria(c Criteria) error
}

// PresetStore keeps named criteria snapshots, independent of the persisted state.
type PresetStore interface {
	SavePreset(name string, c Criteria) error
	LoadPreset(name string) (Criteria, bool, error)
	DeletePreset(name string) error
	ListPresets() ([]string, error)
}

type Listener func(State)

type StoreOptions struct {
	Persister Persister
	Presets   PresetStore
	Logger    *log.Logger
}

type subscription struct {
	id int
	fn Listener
}

// Store is the single source of truth for the question-bank filter. All mutators
// are atomic; listeners run after the lock is released, in subscription order,
// and receive their own copy of the new state.
type Store struct {
	mu        sync.Mutex
	state     State
	listeners []subscription
	nextID    int

	persister Persister
	presets   PresetStore
	logger    *log.Logger
}

func NewStore(opts StoreOptions) *Store {
	s := &Store{
		state:     DefaultState(),
		persister: opts.Persister,
		presets:   opts.Presets,
		logger:    opts.Logger,
	}
	if s.logger == nil {
		s.logger = log.Default()
	}

	if s.persister != nil {
		saved, ok, err := s.persister.LoadCriteria()
		switch {
		case err != nil:
			s.logger.Printf("filter: load persisted criteria: %v", err)
		case ok:
			applyPatch(&s.state, fullPatch(saved))
		}
	}
	return s
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe registers fn for every effective state change and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.listeners {
			if sub.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) SetSearch(v string) {
	s.update(true, func(st *State) bool {
		st.Search = v
		st.Page = 1
		return true
	})
}

// SetFacet replaces the selection of a facet. Unknown facet names are ignored.
func (s *Store) SetFacet(name string, values []string) {
	if !IsFacet(name) {
		return
	}
	s.update(true, func(st *State) bool {
		setFacet(st, name, values)
		st.Page = 1
		return true
	})
}

// ToggleFacetValue adds value to the facet selection, or removes it when present.
func (s *Store) ToggleFacetValue(name, value string) {
	value = strings.TrimSpace(value)
	if !IsFacet(name) || value == "" {
		return
	}
	s.update(true, func(st *State) bool {
		current := st.Facets[name]
		next := make([]string, 0, len(current)+1)
		found := false
		for _, v := range current {
			if v == value {
				found = true
				continue
			}
			next = append(next, v)
		}
		if !found {
			next = append(next, value)
		}
		setFacet(st, name, next)
		st.Page = 1
		return true
	})
}

func (s *Store) SetDifficulty(v string) {
	v = normalizeDifficulty(v)
	if !IsDifficulty(v) {
		return
	}
	s.update(true, func(st *State) bool {
		st.Difficulty = v
		st.Page = 1
		return true
	})
}

func (s *Store) SetSortBy(v string) {
	if !IsSortKey(v) {
		return
	}
	s.update(true, func(st *State) bool {
		st.SortBy = v
		st.Page = 1
		return true
	})
}

// SetPage moves to page n. Values below 1 are ignored.
func (s *Store) SetPage(n int) {
	if n < 1 {
		return
	}
	s.update(false, func(st *State) bool {
		st.Page = n
		return true
	})
}

// SetPageSize changes the page size. Non-positive or unsupported sizes are ignored.
func (s *Store) SetPageSize(n int) {
	if n <= 0 || !IsPageSize(n) {
		return
	}
	s.update(true, func(st *State) bool {
		st.PageSize = n
		st.Page = 1
		return true
	})
}

// ClearAllFilters resets every criterion and the page; hydration is kept.
func (s *Store) ClearAllFilters() {
	s.update(true, func(st *State) bool {
		st.Criteria = DefaultCriteria()
		st.Page = 1
		return true
	})
}

// SetFilters merges a partial patch and returns to the first page.
func (s *Store) SetFilters(p Patch) {
	s.update(true, func(st *State) bool {
		applyPatch(st, p)
		st.Page = 1
		return true
	})
}

// HydrateFromQuery applies the keys present in raw and leaves the rest alone.
// The page is taken from the query when present and valid.
func (s *Store) HydrateFromQuery(raw string) {
	qv := ParseQuery(raw)
	s.update(true, func(st *State) bool {
		applyPatch(st, qv.Patch)
		if qv.Page != nil {
			st.Page = *qv.Page
		}
		return true
	})
}

// RestoreFromQuery replaces the criteria and page with exactly what raw encodes.
// Keys missing from raw fall back to their defaults, since EncodeQuery omits them.
func (s *Store) RestoreFromQuery(raw string) {
	qv := ParseQuery(raw)
	s.update(true, func(st *State) bool {
		st.Criteria = DefaultCriteria()
		st.Page = 1
		applyPatch(st, qv.Patch)
		if qv.Page != nil {
			st.Page = *qv.Page
		}
		return true
	})
}

func (s *Store) MarkHydrated() {
	s.update(false, func(st *State) bool {
		if st.Hydrated {
			return false
		}
		st.Hydrated = true
		return true
	})
}

func (s *Store) SavePreset(name string) error {
	if s.presets == nil {
		return ErrNoPresetStore
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidPreset
	}
	snap := s.Snapshot()
	return s.presets.SavePreset(name, snap.Criteria)
}

// LoadPreset merges the named snapshot into the current state and resets the page.
func (s *Store) LoadPreset(name string) error {
	if s.presets == nil {
		return ErrNoPresetStore
	}
	c, ok, err := s.presets.LoadPreset(strings.TrimSpace(name))
	if err != nil {
		return err
	}
	if !ok {
		return ErrPresetNotFound
	}
	s.SetFilters(fullPatch(c))
	return nil
}

func (s *Store) DeletePreset(name string) error {
	if s.presets == nil {
		return ErrNoPresetStore
	}
	return s.presets.DeletePreset(strings.TrimSpace(name))
}

func (s *Store) Presets() ([]string, error) {
	if s.presets == nil {
		return nil, ErrNoPresetStore
	}
	return s.presets.ListPresets()
}

func (s *Store) update(persist bool, fn func(st *State) bool) {
	s.mu.Lock()
	prev := s.state
	next := s.state.Clone()
	if !fn(&next) {
		s.mu.Unlock()
		return
	}
	s.state = next
	changed := prev.Key() != next.Key() || prev.Hydrated != next.Hydrated
	snapshot := next.Clone()
	listeners := append([]subscription(nil), s.listeners...)
	s.mu.Unlock()

	if !changed {
		return
	}
	if persist && s.persister != nil {
		if err := s.persister.SaveCriteria(snapshot.Criteria); err != nil {
			s.logger.Printf("filter: persist criteria: %v", err)
		}
	}
	for _, sub := range listeners {
		sub.fn(snapshot.Clone())
	}
}

func applyPatch(st *State, p Patch) {
	if p.Search != nil {
		st.Search = *p.Search
	}
	for name, values := range p.Facets {
		if IsFacet(name) {
			setFacet(st, name, values)
		}
	}
	if p.Difficulty != nil {
		if v := normalizeDifficulty(*p.Difficulty); IsDifficulty(v) {
			st.Difficulty = v
		}
	}
	if p.SortBy != nil && IsSortKey(*p.SortBy) {
		st.SortBy = *p.SortBy
	}
	if p.PageSize != nil && *p.PageSize > 0 && IsPageSize(*p.PageSize) {
		st.PageSize = *p.PageSize
	}
}

// fullPatch turns a snapshot into a patch that overwrites every criterion,
// including facets the snapshot left empty.
func fullPatch(c Criteria) Patch {
	facets := make(map[string][]string, len(Facets))
	for _, name := range Facets {
		facets[name] = append([]string(nil), c.Facets[name]...)
	}
	p := Patch{
		Search: &c.Search,
		Facets: facets,
	}
	if c.Difficulty != "" {
		p.Difficulty = &c.Difficulty
	}
	if c.SortBy != "" {
		p.SortBy = &c.SortBy
	}
	if c.PageSize > 0 {
		p.PageSize = &c.PageSize
	}
	return p
}

func setFacet(st *State, name string, values []string) {
	if st.Facets == nil {
		st.Facets = map[string][]string{}
	}
	values = uniqueValues(values)
	if len(values) == 0 {
		delete(st.Facets, name)
		return
	}
	st.Facets[name] = values
}
