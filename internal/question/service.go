package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cbtadmin/internal/filter"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBatchNotFound     = errors.New("import batch not found")
	ErrBatchDecided      = errors.New("import batch already decided")
)

const (
	StatusDraft     = "draft"
	StatusReview    = "review"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

var transitions = map[string][]string{
	StatusDraft:     {StatusReview},
	StatusReview:    {StatusPublished, StatusDraft},
	StatusPublished: {StatusArchived},
	StatusArchived:  {StatusDraft},
}

// CanTransition reports whether a question may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

type Question struct {
	ID          int64      `json:"id"`
	Stem        string     `json:"stem"`
	StemHTML    string     `json:"stem_html"`
	Options     []Option   `json:"options"`
	Answer      string     `json:"answer"`
	Explanation *string    `json:"explanation,omitempty"`
	BookSource  string     `json:"book_source"`
	Chapter     string     `json:"chapter"`
	Tags        []string   `json:"tags"`
	Difficulty  string     `json:"difficulty"`
	Status      string     `json:"status"`
	CreatedBy   *int64     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

type QuestionInput struct {
	Stem        string
	Options     []Option
	Answer      string
	Explanation string
	BookSource  string
	Chapter     string
	Tags        []string
	Difficulty  string
	CreatedBy   int64
}

type FacetValues struct {
	BookSources []string `json:"book_sources"`
	Chapters    []string `json:"chapters"`
	Tags        []string `json:"tags"`
}

const questionColumns = `id, stem, stem_html, options, answer, explanation, book_source, chapter,
	to_jsonb(tags), difficulty, status, created_by, created_at, updated_at, published_at`

func (s *Service) CreateQuestion(ctx context.Context, in QuestionInput) (*Question, error) {
	in, err := normalizeQuestionInput(in)
	if err != nil {
		return nil, err
	}
	optionsRaw, err := json.Marshal(in.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	stemHTML, err := RenderMarkdown(in.Stem)
	if err != nil {
		return nil, fmt.Errorf("render stem: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO questions (
			stem, stem_html, options, answer, explanation, book_source, chapter,
			tags, difficulty, status, created_by, is_active, created_at, updated_at
		) VALUES (
			$1, $2, $3::jsonb, $4, $5, $6, $7, $8, $9, 'draft', $10, TRUE, now(), now()
		)
		RETURNING `+questionColumns,
		in.Stem, stemHTML, optionsRaw, in.Answer, nullableString(in.Explanation),
		in.BookSource, in.Chapter, in.Tags, in.Difficulty, nullableID(in.CreatedBy))
	q, err := scanQuestion(row)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return q, nil
}

func (s *Service) GetQuestion(ctx context.Context, id int64) (*Question, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+questionColumns+`
		FROM questions
		WHERE id = $1 AND is_active = TRUE
	`, id)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}
	return q, nil
}

// UpdateQuestion rewrites the content of a question. Published questions must
// be moved back to draft first.
func (s *Service) UpdateQuestion(ctx context.Context, id int64, in QuestionInput) (*Question, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	in, err := normalizeQuestionInput(in)
	if err != nil {
		return nil, err
	}
	optionsRaw, err := json.Marshal(in.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	stemHTML, err := RenderMarkdown(in.Stem)
	if err != nil {
		return nil, fmt.Errorf("render stem: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE questions
		SET stem = $2, stem_html = $3, options = $4::jsonb, answer = $5, explanation = $6,
			book_source = $7, chapter = $8, tags = $9, difficulty = $10, updated_at = now()
		WHERE id = $1 AND is_active = TRUE AND status IN ('draft', 'review')
		RETURNING `+questionColumns,
		id, in.Stem, stemHTML, optionsRaw, in.Answer, nullableString(in.Explanation),
		in.BookSource, in.Chapter, in.Tags, in.Difficulty)
	q, err := scanQuestion(row)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update question: %w", err)
	}
	current, getErr := s.GetQuestion(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: %s questions are read-only", ErrInvalidTransition, current.Status)
}

// DeleteQuestion hides a question from every listing. Rows are kept so mock
// tests that referenced it stay intact.
func (s *Service) DeleteQuestion(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE questions
		SET is_active = FALSE, updated_at = now()
		WHERE id = $1 AND is_active = TRUE
	`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

func (s *Service) TransitionStatus(ctx context.Context, id int64, to string) (*Question, error) {
	to = strings.ToLower(strings.TrimSpace(to))
	if id <= 0 || to == "" {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var from string
	if err := tx.QueryRowContext(ctx, `
		SELECT status FROM questions WHERE id = $1 AND is_active = TRUE FOR UPDATE
	`, id).Scan(&from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("lock question: %w", err)
	}
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE questions
		SET status = $2,
			published_at = CASE WHEN $2 = 'published' THEN now() ELSE published_at END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+questionColumns, id, to)
	q, err := scanQuestion(row)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit status: %w", err)
	}
	return q, nil
}

// MergeTags replaces every tag in from with into across the bank. It returns
// the number of questions rewritten.
func (s *Service) MergeTags(ctx context.Context, from []string, into string) (int64, error) {
	into = strings.TrimSpace(into)
	sources := make([]string, 0, len(from))
	for _, t := range from {
		t = strings.TrimSpace(t)
		if t != "" && t != into {
			sources = append(sources, t)
		}
	}
	if into == "" || len(sources) == 0 {
		return 0, ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE questions q
		SET tags = (
			SELECT COALESCE(array_agg(DISTINCT t ORDER BY t), '{}')
			FROM unnest(array_append(array(
				SELECT x FROM unnest(q.tags) AS x WHERE x <> ALL($1::text[])
			), $2::text)) AS t
		),
		updated_at = now()
		WHERE q.tags && $1::text[]
	`, sources, into)
	if err != nil {
		return 0, fmt.Errorf("merge tags: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Service) ListFacetValues(ctx context.Context) (*FacetValues, error) {
	out := &FacetValues{}
	queries := []struct {
		sql  string
		dest *[]string
	}{
		{`SELECT DISTINCT book_source FROM questions WHERE is_active = TRUE ORDER BY 1`, &out.BookSources},
		{`SELECT DISTINCT chapter FROM questions WHERE is_active = TRUE ORDER BY 1`, &out.Chapters},
		{`SELECT DISTINCT t FROM questions, unnest(tags) AS t WHERE is_active = TRUE ORDER BY 1`, &out.Tags},
	}
	for _, q := range queries {
		values, err := s.queryStrings(ctx, q.sql)
		if err != nil {
			return nil, err
		}
		*q.dest = values
	}
	return out, nil
}

func (s *Service) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query facet values: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan facet value: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facet values: %w", err)
	}
	return items, nil
}

func normalizeQuestionInput(in QuestionInput) (QuestionInput, error) {
	in.Stem = strings.TrimSpace(in.Stem)
	in.Answer = strings.ToUpper(strings.TrimSpace(in.Answer))
	in.Explanation = strings.TrimSpace(in.Explanation)
	in.BookSource = strings.TrimSpace(in.BookSource)
	in.Chapter = strings.TrimSpace(in.Chapter)
	in.Difficulty = strings.ToLower(strings.TrimSpace(in.Difficulty))
	in.Tags = normalizeTags(in.Tags)

	if in.Stem == "" || in.BookSource == "" || in.Chapter == "" {
		return in, fmt.Errorf("%w: stem, book_source and chapter are required", ErrInvalidInput)
	}
	if in.Difficulty == filter.DifficultyAll || !filter.IsDifficulty(in.Difficulty) {
		return in, fmt.Errorf("%w: difficulty must be easy, medium or hard", ErrInvalidInput)
	}

	seen := make(map[string]bool, len(in.Options))
	options := make([]Option, 0, len(in.Options))
	for _, opt := range in.Options {
		key := strings.ToUpper(strings.TrimSpace(opt.Key))
		text := strings.TrimSpace(opt.Text)
		if key == "" || text == "" {
			continue
		}
		if seen[key] {
			return in, fmt.Errorf("%w: duplicate option %s", ErrInvalidInput, key)
		}
		seen[key] = true
		options = append(options, Option{Key: key, Text: text})
	}
	if len(options) < 2 {
		return in, fmt.Errorf("%w: at least two options are required", ErrInvalidInput)
	}
	if !seen[in.Answer] {
		return in, fmt.Errorf("%w: answer %q is not one of the options", ErrInvalidInput, in.Answer)
	}
	in.Options = options
	return in, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func scanQuestion(scanner interface{ Scan(dest ...any) error }) (*Question, error) {
	var out Question
	var optionsRaw []byte
	var explanation sql.NullString
	var createdBy sql.NullInt64
	var publishedAt sql.NullTime
	var tagsRaw []byte
	if err := scanner.Scan(
		&out.ID,
		&out.Stem,
		&out.StemHTML,
		&optionsRaw,
		&out.Answer,
		&explanation,
		&out.BookSource,
		&out.Chapter,
		&tagsRaw,
		&out.Difficulty,
		&out.Status,
		&createdBy,
		&out.CreatedAt,
		&out.UpdatedAt,
		&publishedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(optionsRaw, &out.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal(tagsRaw, &out.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if explanation.Valid {
		out.Explanation = &explanation.String
	}
	if createdBy.Valid {
		out.CreatedBy = &createdBy.Int64
	}
	if publishedAt.Valid {
		out.PublishedAt = &publishedAt.Time
	}
	return &out, nil
}

func nullableString(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func nullableID(v int64) any {
	if v <= 0 {
		return nil
	}
	return v
}
