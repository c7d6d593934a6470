package question

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"cbtadmin/internal/filter"
)

const MaxPageSize = 100

// SearchParams is a decoded search request. Difficulty is empty for "all".
type SearchParams struct {
	Search      string
	BookSources []string
	Chapters    []string
	Tags        []string
	Difficulty  string
	Status      string
	SortBy      string
	Page        int
	PageSize    int
}

type SearchResult struct {
	Items    []Question `json:"items"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// ParseSearchParams reads the same query-string schema the admin clients
// produce. Invalid values fall back to defaults.
func ParseSearchParams(rawQuery string) SearchParams {
	qv := filter.ParseQuery(rawQuery)
	st := filter.DefaultState()
	if qv.Search != nil {
		st.Search = *qv.Search
	}
	for name, values := range qv.Facets {
		st.Facets[name] = values
	}
	if qv.Difficulty != nil {
		st.Difficulty = *qv.Difficulty
	}
	if qv.SortBy != nil {
		st.SortBy = *qv.SortBy
	}
	if qv.PageSize != nil {
		st.PageSize = *qv.PageSize
	}
	if qv.Page != nil {
		st.Page = *qv.Page
	}

	p := SearchParams{
		Search:      strings.TrimSpace(st.Search),
		BookSources: st.Facets[filter.FacetBookSources],
		Chapters:    st.Facets[filter.FacetChapters],
		Tags:        st.Facets[filter.FacetTags],
		SortBy:      st.SortBy,
		Page:        st.Page,
		PageSize:    st.PageSize,
	}
	if st.Difficulty != filter.DifficultyAll {
		p.Difficulty = st.Difficulty
	}
	return p
}

func (p SearchParams) normalized() SearchParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = filter.DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	if !filter.IsSortKey(p.SortBy) {
		p.SortBy = filter.DefaultSortBy
	}
	p.Difficulty = strings.ToLower(strings.TrimSpace(p.Difficulty))
	if p.Difficulty == filter.DifficultyAll || !filter.IsDifficulty(p.Difficulty) {
		p.Difficulty = ""
	}
	return p
}

var orderClauses = map[string]string{
	filter.SortIDAsc:          "id ASC",
	filter.SortIDDesc:         "id DESC",
	filter.SortCreatedAtAsc:   "created_at ASC, id ASC",
	filter.SortCreatedAtDesc:  "created_at DESC, id DESC",
	filter.SortDifficultyAsc:  difficultyRank + " ASC, id ASC",
	filter.SortDifficultyDesc: difficultyRank + " DESC, id ASC",
}

const difficultyRank = "CASE difficulty WHEN 'easy' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END"

// buildSearchWhere returns the shared WHERE clause and its arguments.
func buildSearchWhere(p SearchParams) (string, []any) {
	conds := []string{"is_active = TRUE"}
	args := make([]any, 0, 8)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if p.Search != "" {
		pattern := arg("%" + escapeLike(p.Search) + "%")
		textCond := "(stem ILIKE " + pattern + " OR COALESCE(explanation, '') ILIKE " + pattern
		if id, err := strconv.ParseInt(p.Search, 10, 64); err == nil && id > 0 {
			textCond += " OR id = " + arg(id)
		}
		conds = append(conds, textCond+")")
	}
	if len(p.BookSources) > 0 {
		conds = append(conds, "book_source = ANY("+arg(p.BookSources)+"::text[])")
	}
	if len(p.Chapters) > 0 {
		conds = append(conds, "chapter = ANY("+arg(p.Chapters)+"::text[])")
	}
	if len(p.Tags) > 0 {
		conds = append(conds, "tags && "+arg(p.Tags)+"::text[]")
	}
	if p.Difficulty != "" {
		conds = append(conds, "difficulty = "+arg(p.Difficulty))
	}
	if p.Status != "" {
		conds = append(conds, "status = "+arg(p.Status))
	}
	return strings.Join(conds, " AND "), args
}

func buildSearchQuery(p SearchParams) (string, []any) {
	where, args := buildSearchWhere(p)
	args = append(args, p.PageSize, (p.Page-1)*p.PageSize)
	q := fmt.Sprintf(`SELECT %s FROM questions WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		questionColumns, where, orderClauses[p.SortBy], len(args)-1, len(args))
	return q, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// SearchQuestions runs one page of a filtered search plus the total count.
func (s *Service) SearchQuestions(ctx context.Context, p SearchParams) (*SearchResult, error) {
	p = p.normalized()

	where, countArgs := buildSearchWhere(p)
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE `+where, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count questions: %w", err)
	}

	query, args := buildSearchQuery(p)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0, p.PageSize)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}

	return &SearchResult{Items: items, Total: total, Page: p.Page, PageSize: p.PageSize}, nil
}
