package urlsync

import (
	"sync"
	"sync/atomic"

	"cbtadmin/internal/filter"
)

type Options struct {
	// PushHistory records every post-hydration change as a new history entry
	// instead of replacing the current one.
	PushHistory bool
}

// Synchronizer keeps a filter.Store and a Navigator's query string consistent
// in both directions.
type Synchronizer struct {
	store *filter.Store
	nav   Navigator
	opts  Options

	restoring atomic.Bool

	mu          sync.Mutex
	started     bool
	unsubscribe func()
	cancelPop   func()
}

func New(store *filter.Store, nav Navigator, opts Options) *Synchronizer {
	return &Synchronizer{store: store, nav: nav, opts: opts}
}

// Start hydrates the store from the navigator once, then mirrors changes.
// Calling Start again while running is a no-op.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	if !s.store.Snapshot().Hydrated {
		s.store.HydrateFromQuery(s.nav.CurrentQuery())
		s.store.MarkHydrated()
		if q := filter.EncodeQuery(s.store.Snapshot()); q != s.nav.CurrentQuery() {
			s.nav.ReplaceQuery(q)
		}
	}

	s.unsubscribe = s.store.Subscribe(s.onStateChange)
	s.cancelPop = s.nav.OnPopState(s.onPopState)
}

func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.unsubscribe()
	s.cancelPop()
}

func (s *Synchronizer) onStateChange(st filter.State) {
	if !st.Hydrated || s.restoring.Load() {
		return
	}
	q := filter.EncodeQuery(st)
	if q == s.nav.CurrentQuery() {
		return
	}
	if s.opts.PushHistory {
		s.nav.PushQuery(q)
		return
	}
	s.nav.ReplaceQuery(q)
}

// onPopState re-enters hydration for back/forward navigation. The navigator
// already points at the entry the user chose, so nothing is written back.
func (s *Synchronizer) onPopState() {
	s.restoring.Store(true)
	defer s.restoring.Store(false)
	s.store.RestoreFromQuery(s.nav.CurrentQuery())
}
