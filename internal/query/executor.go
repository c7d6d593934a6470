package query

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cbtadmin/internal/filter"
)

const (
	DefaultStaleAfter  = 30 * time.Second
	DefaultEvictAfter  = 5 * time.Minute
	DefaultMaxAttempts = 3
)

var ErrClosed = errors.New("query executor closed")

type Options struct {
	StaleAfter  time.Duration
	EvictAfter  time.Duration
	MaxAttempts int
	// Backoff returns the wait before retry n (n starts at 1).
	Backoff func(n int) time.Duration
	// Go runs background refetches. Defaults to a new goroutine.
	Go     func(func())
	Now    func() time.Time
	Logger *log.Logger
}

// View is what a caller renders for the current filter state.
type View[T any] struct {
	Key              string
	Items            []T
	Total            int
	Page             int
	PageSize         int
	TotalPages       int
	IsLoading        bool
	IsFetching       bool
	IsError          bool
	Error            string
	HasActiveFilters bool
	FetchedAt        time.Time
}

type entry[T any] struct {
	page      Page[T]
	hasData   bool
	fetchedAt time.Time
	lastUsed  time.Time
	fetching  bool
	err       error
}

// Executor turns filter state into cached search results. It follows the
// store: every hydrated state change selects a cache key and, when that key
// has no fresh data, starts a fetch in the background.
type Executor[T any] struct {
	searcher Searcher[T]
	store    *filter.Store
	opts     Options
	group    singleflight.Group

	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	current     filter.State
	entries     map[string]*entry[T]
	unsubscribe func()
}

func NewExecutor[T any](store *filter.Store, searcher Searcher[T], opts Options) *Executor[T] {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.EvictAfter <= 0 {
		opts.EvictAfter = DefaultEvictAfter
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff
	}
	if opts.Go == nil {
		opts.Go = func(fn func()) { go fn() }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor[T]{
		searcher: searcher,
		store:    store,
		opts:     opts,
		baseCtx:  ctx,
		cancel:   cancel,
		current:  store.Snapshot(),
		entries:  map[string]*entry[T]{},
	}
	e.unsubscribe = store.Subscribe(e.onState)
	return e
}

// ExponentialBackoff doubles from one second and caps at thirty.
func ExponentialBackoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > 5 {
		return 30 * time.Second
	}
	return min(time.Second<<(n-1), 30*time.Second)
}

// Close detaches from the store and abandons pending retries.
func (e *Executor[T]) Close() {
	e.unsubscribe()
	e.cancel()
}

// View reports the cached state for the current key without fetching.
func (e *Executor[T]) View() View[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Load returns data for the current state, fetching and waiting when none is
// cached. Stale data is returned immediately and refreshed in the background.
// Before hydration it returns an empty view and never calls the searcher.
func (e *Executor[T]) Load(ctx context.Context) (View[T], error) {
	e.mu.Lock()
	st := e.current.Clone()
	if !st.Hydrated {
		v := e.viewLocked()
		e.mu.Unlock()
		return v, nil
	}
	key := st.Key()
	ent := e.touchLocked(key)
	switch {
	case ent.hasData && !e.staleLocked(ent):
		v := e.viewLocked()
		e.mu.Unlock()
		return v, nil
	case ent.hasData:
		e.mu.Unlock()
		e.background(key, ParamsFromState(st))
		return e.View(), nil
	}
	e.mu.Unlock()

	err := e.fetch(ctx, key, ParamsFromState(st))
	return e.View(), err
}

// Refetch fetches the current key regardless of staleness and waits for it.
func (e *Executor[T]) Refetch(ctx context.Context) (View[T], error) {
	e.mu.Lock()
	st := e.current.Clone()
	if !st.Hydrated {
		v := e.viewLocked()
		e.mu.Unlock()
		return v, nil
	}
	key := st.Key()
	e.touchLocked(key)
	e.mu.Unlock()

	err := e.fetch(ctx, key, ParamsFromState(st))
	return e.View(), err
}

func (e *Executor[T]) onState(st filter.State) {
	e.mu.Lock()
	e.current = st
	if !st.Hydrated {
		e.mu.Unlock()
		return
	}
	key := st.Key()
	ent := e.touchLocked(key)
	needed := !ent.hasData || e.staleLocked(ent)
	e.mu.Unlock()

	if needed {
		e.background(key, ParamsFromState(st))
	}
}

func (e *Executor[T]) background(key string, p Params) {
	e.opts.Go(func() {
		if err := e.fetch(e.baseCtx, key, p); err != nil && !errors.Is(err, context.Canceled) {
			e.opts.Logger.Printf("query: background fetch %q: %v", key, err)
		}
	})
}

// fetch joins or starts the single in-flight request for key. The shared
// request runs on the executor's own context, so a caller giving up only
// stops its wait.
func (e *Executor[T]) fetch(ctx context.Context, key string, p Params) error {
	ch := e.group.DoChan(key, func() (any, error) {
		return nil, e.run(key, p)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (e *Executor[T]) run(key string, p Params) error {
	e.mu.Lock()
	e.touchLocked(key).fetching = true
	e.mu.Unlock()

	page, err := e.searchWithRetry(e.baseCtx, p)

	e.mu.Lock()
	defer e.mu.Unlock()
	ent := e.touchLocked(key)
	ent.fetching = false
	if err != nil {
		ent.err = err
		return err
	}
	ent.page = page
	ent.hasData = true
	ent.err = nil
	ent.fetchedAt = e.opts.Now()
	return nil
}

func (e *Executor[T]) searchWithRetry(ctx context.Context, p Params) (Page[T], error) {
	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, e.opts.Backoff(attempt-1)); err != nil {
				return Page[T]{}, err
			}
		}
		page, err := e.searcher.Search(ctx, p)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if attempt < e.opts.MaxAttempts {
			e.opts.Logger.Printf("query: search attempt %d failed: %v", attempt, err)
		}
	}
	return Page[T]{}, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// touchLocked returns the entry for key, creating it, and drops entries nobody
// has looked at within the eviction window.
func (e *Executor[T]) touchLocked(key string) *entry[T] {
	now := e.opts.Now()
	for k, ent := range e.entries {
		if k != key && !ent.fetching && now.Sub(ent.lastUsed) > e.opts.EvictAfter {
			delete(e.entries, k)
		}
	}
	ent, ok := e.entries[key]
	if !ok {
		ent = &entry[T]{}
		e.entries[key] = ent
	}
	ent.lastUsed = now
	return ent
}

func (e *Executor[T]) staleLocked(ent *entry[T]) bool {
	return ent.err != nil || e.opts.Now().Sub(ent.fetchedAt) >= e.opts.StaleAfter
}

func (e *Executor[T]) viewLocked() View[T] {
	st := e.current
	v := View[T]{
		Page:             st.Page,
		PageSize:         st.PageSize,
		HasActiveFilters: st.HasActive(),
	}
	if !st.Hydrated {
		return v
	}
	v.Key = st.Key()
	ent, ok := e.entries[v.Key]
	if !ok {
		return v
	}
	v.IsFetching = ent.fetching
	v.IsLoading = ent.fetching && !ent.hasData
	if ent.err != nil {
		v.IsError = true
		v.Error = ent.err.Error()
	}
	if ent.hasData {
		v.Items = append([]T(nil), ent.page.Items...)
		v.Total = ent.page.Total
		v.FetchedAt = ent.fetchedAt
	}
	v.TotalPages = TotalPages(v.Total, st.PageSize)
	return v
}

// CachedKeys lists the keys currently held, mostly for diagnostics.
func (e *Executor[T]) CachedKeys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.entries))
	for k := range e.entries {
		keys = append(keys, k)
	}
	return keys
}
