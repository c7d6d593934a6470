// Package console is an interactive client for the question bank search. It
// keeps the filter in a filter.Store, mirrors it into an in-memory history so
// back and forward work, and renders pages fetched by a query.Executor.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"unicode/utf8"

	"cbtadmin/internal/filter"
	"cbtadmin/internal/query"
	"cbtadmin/internal/question"
	"cbtadmin/internal/statestore"
	"cbtadmin/internal/urlsync"
)

var ErrUsage = errors.New("usage")

// Commands lists every command word, for help and completion.
var Commands = []string{
	"search", "facet", "toggle", "difficulty", "sort", "page", "next", "prev", "size",
	"clear", "back", "forward", "url", "preset", "refetch", "show", "help", "quit",
}

const stemWidth = 64

type SessionOptions struct {
	Searcher query.Searcher[question.Question]
	// Backend persists criteria and presets. Nil disables both.
	Backend statestore.Backend
	// InitialQuery is the deep-link query the session starts at.
	InitialQuery string
	// PageSize applies when neither the persisted state nor InitialQuery set one.
	PageSize int
	Executor query.Options
	Out      io.Writer
	Logger   *log.Logger
}

type Session struct {
	store   *filter.Store
	history *urlsync.History
	sync    *urlsync.Synchronizer
	exec    *query.Executor[question.Question]
	out     io.Writer
}

func NewSession(opts SessionOptions) *Session {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Executor.Logger == nil {
		opts.Executor.Logger = opts.Logger
	}

	storeOpts := filter.StoreOptions{Logger: opts.Logger}
	if opts.Backend != nil {
		storeOpts.Persister = opts.Backend
		storeOpts.Presets = opts.Backend
	}
	store := filter.NewStore(storeOpts)
	if opts.PageSize > 0 && store.Snapshot().PageSize == filter.DefaultPageSize &&
		filter.ParseQuery(opts.InitialQuery).PageSize == nil {
		store.SetPageSize(opts.PageSize)
	}

	history := urlsync.NewHistory(strings.TrimPrefix(opts.InitialQuery, "?"))
	s := &Session{
		store:   store,
		history: history,
		sync:    urlsync.New(store, history, urlsync.Options{PushHistory: true}),
		exec:    query.NewExecutor(store, opts.Searcher, opts.Executor),
		out:     opts.Out,
	}
	s.sync.Start()
	return s
}

func (s *Session) Close() {
	s.sync.Stop()
	s.exec.Close()
}

func (s *Session) State() filter.State {
	return s.store.Snapshot()
}

func (s *Session) Query() string {
	return s.history.CurrentQuery()
}

// Execute runs one command line. It reports quit when the user asked to
// leave. Usage mistakes come back as errors wrapping ErrUsage.
func (s *Session) Execute(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		s.printHelp()
		return false, nil
	case "url":
		fmt.Fprintf(s.out, "?%s\n", s.history.CurrentQuery())
		return false, nil
	case "show", "ls":
		return false, s.show(ctx)
	case "refetch":
		v, err := s.exec.Refetch(ctx)
		s.render(v)
		return false, ignoreFetchError(v, err)
	case "preset":
		return false, s.preset(ctx, args)
	}

	if err := s.mutate(cmd, args); err != nil {
		return false, err
	}
	return false, s.show(ctx)
}

func (s *Session) mutate(cmd string, args []string) error {
	switch cmd {
	case "search":
		s.store.SetSearch(strings.Join(args, " "))
	case "facet":
		if len(args) == 0 || !filter.IsFacet(args[0]) {
			return usage("facet <%s> [value,value...]", strings.Join(filter.Facets, "|"))
		}
		var values []string
		if len(args) > 1 {
			values = strings.Split(strings.Join(args[1:], " "), ",")
		}
		s.store.SetFacet(args[0], values)
	case "toggle":
		if len(args) < 2 || !filter.IsFacet(args[0]) {
			return usage("toggle <%s> <value>", strings.Join(filter.Facets, "|"))
		}
		s.store.ToggleFacetValue(args[0], strings.Join(args[1:], " "))
	case "difficulty":
		if len(args) != 1 || !filter.IsDifficulty(strings.ToLower(args[0])) {
			return usage("difficulty <all|easy|medium|hard>")
		}
		s.store.SetDifficulty(args[0])
	case "sort":
		if len(args) != 1 || !filter.IsSortKey(args[0]) {
			return usage("sort <id_asc|id_desc|created_at_asc|created_at_desc|difficulty_asc|difficulty_desc>")
		}
		s.store.SetSortBy(args[0])
	case "page":
		n, err := singleInt(args)
		if err != nil || n < 1 {
			return usage("page <n>")
		}
		s.store.SetPage(n)
	case "next":
		s.store.SetPage(s.store.Snapshot().Page + 1)
	case "prev":
		s.store.SetPage(s.store.Snapshot().Page - 1)
	case "size":
		n, err := singleInt(args)
		if err != nil || !filter.IsPageSize(n) {
			return usage("size <%s>", joinInts(filter.PageSizes, "|"))
		}
		s.store.SetPageSize(n)
	case "clear":
		s.store.ClearAllFilters()
	case "back":
		if !s.history.Back() {
			return errors.New("no earlier entry")
		}
	case "forward":
		if !s.history.Forward() {
			return errors.New("no later entry")
		}
	default:
		return fmt.Errorf("unknown command %q (type 'help' for commands)", cmd)
	}
	return nil
}

func (s *Session) preset(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("preset <save|load|delete|list> [name]")
	}
	sub, name := strings.ToLower(args[0]), strings.Join(args[1:], " ")
	switch sub {
	case "list":
		names, err := s.store.Presets()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintln(s.out, "no presets")
			return nil
		}
		for _, n := range names {
			fmt.Fprintf(s.out, "  %s\n", n)
		}
		return nil
	case "save", "load", "delete":
		if strings.TrimSpace(name) == "" {
			return usage("preset %s <name>", sub)
		}
	default:
		return usage("preset <save|load|delete|list> [name]")
	}

	switch sub {
	case "save":
		if err := s.store.SavePreset(name); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "saved preset %q\n", name)
	case "delete":
		if err := s.store.DeletePreset(name); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "deleted preset %q\n", name)
	case "load":
		if err := s.store.LoadPreset(name); err != nil {
			return err
		}
		return s.show(ctx)
	}
	return nil
}

func (s *Session) show(ctx context.Context) error {
	v, err := s.exec.Load(ctx)
	s.render(v)
	return ignoreFetchError(v, err)
}

// ignoreFetchError drops errors the rendered view already reports.
func ignoreFetchError(v query.View[question.Question], err error) error {
	if err != nil && v.IsError {
		return nil
	}
	return err
}

func (s *Session) render(v query.View[question.Question]) {
	st := s.store.Snapshot()
	entries, idx := s.history.Entries()
	fmt.Fprintf(s.out, "?%s  [history %d/%d]\n", s.history.CurrentQuery(), idx+1, len(entries))
	fmt.Fprintln(s.out, describeCriteria(st))

	switch {
	case v.IsLoading:
		fmt.Fprintln(s.out, "loading...")
		return
	case v.IsError:
		fmt.Fprintf(s.out, "error: %s\n", v.Error)
		if len(v.Items) == 0 {
			return
		}
	}

	pages := v.TotalPages
	if pages < 1 {
		pages = 1
	}
	fmt.Fprintf(s.out, "page %d of %d, %d questions\n", v.Page, pages, v.Total)
	if len(v.Items) == 0 {
		fmt.Fprintln(s.out, "  (no questions)")
		return
	}
	for _, q := range v.Items {
		fmt.Fprintf(s.out, "  #%-6d %-6s %-28s %s\n", q.ID, q.Difficulty, truncate(q.BookSource+" / "+q.Chapter, 28), truncate(oneLine(q.Stem), stemWidth))
	}
}

func describeCriteria(st filter.State) string {
	parts := []string{}
	if st.Search != "" {
		parts = append(parts, fmt.Sprintf("search=%q", st.Search))
	}
	for _, name := range filter.Facets {
		if vals := st.Facets[name]; len(vals) > 0 {
			parts = append(parts, name+"="+strings.Join(vals, ","))
		}
	}
	if st.Difficulty != filter.DifficultyAll {
		parts = append(parts, "difficulty="+st.Difficulty)
	}
	parts = append(parts, "sort="+st.SortBy, "size="+strconv.Itoa(st.PageSize))
	prefix := "filters: "
	if !st.HasActive() {
		prefix = "filters (none active): "
	}
	return prefix + strings.Join(parts, " ")
}

func (s *Session) printHelp() {
	lines := []string{
		"search [text]                    Set the text search (empty clears)",
		"facet <name> [v1,v2]             Replace a facet selection (book_sources, chapters, tags)",
		"toggle <name> <value>            Add or remove one facet value",
		"difficulty <all|easy|medium|hard>",
		"sort <key>                       id_asc, id_desc, created_at_*, difficulty_*",
		"page <n> | next | prev           Move between pages",
		"size <10|25|50|100>              Rows per page",
		"clear                            Reset every filter",
		"back | forward                   Walk the filter history",
		"url                              Print the current query string",
		"preset save|load|delete <name>   Manage saved filters; 'preset list' lists them",
		"refetch                          Fetch the current page again",
		"show                             Print the current page",
		"help | quit",
	}
	fmt.Fprintln(s.out, "Commands:")
	for _, l := range lines {
		fmt.Fprintf(s.out, "  %s\n", l)
	}
}

func usage(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

func singleInt(args []string) (int, error) {
	if len(args) != 1 {
		return 0, ErrUsage
	}
	return strconv.Atoi(args[0])
}

func joinInts(ns []int, sep string) string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = strconv.Itoa(n)
	}
	return strings.Join(out, sep)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
