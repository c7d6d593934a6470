package mocktest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cbtadmin/internal/listutil"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrMockTestNotFound  = errors.New("mock test not found")
	ErrNotDraft          = errors.New("mock test is not a draft")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoQuestions       = errors.New("mock test has no questions")
	ErrQuestionNotUsable = errors.New("question is not published")
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 600
	maxQuestions       = 500
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type MockTest struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Description     *string    `json:"description,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	QuestionCount   int        `json:"question_count"`
	CreatedBy       *int64     `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
}

type MockTestQuestion struct {
	Seq        int    `json:"seq"`
	QuestionID int64  `json:"question_id"`
	Stem       string `json:"stem"`
	Difficulty string `json:"difficulty"`
	BookSource string `json:"book_source"`
	Chapter    string `json:"chapter"`
}

type Detail struct {
	MockTest
	Questions []MockTestQuestion `json:"questions"`
}

type CreateInput struct {
	Title           string
	Description     string
	DurationMinutes int
}

type ListFilter struct {
	listutil.ListParams
	Status string
}

const mockTestColumns = `m.id, m.title, m.description, m.duration_minutes, m.status,
	(SELECT COUNT(*) FROM mock_test_questions mq WHERE mq.mock_test_id = m.id),
	m.created_by, m.created_at, m.updated_at, m.published_at`

func (s *Service) Create(ctx context.Context, actorID int64, in CreateInput) (*MockTest, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := validateCreateInput(in); err != nil {
		return nil, err
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO mock_tests (title, description, duration_minutes, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, 'draft', $4, now(), now())
		RETURNING id
	`, in.Title, nullableString(in.Description), in.DurationMinutes, nullableID(actorID)).Scan(&id); err != nil {
		return nil, fmt.Errorf("insert mock test: %w", err)
	}
	if err := s.writeAudit(ctx, actorID, "create_mock_test", id, map[string]any{"title": in.Title}); err != nil {
		return nil, fmt.Errorf("write audit: %w", err)
	}
	return s.loadMockTest(ctx, s.db, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) (*listutil.Page[MockTest], error) {
	f.PageParams = f.PageParams.Normalize()
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	switch f.Status {
	case "", StatusDraft, StatusPublished, StatusArchived:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	search := ""
	if f.Search != "" {
		search = "%" + strings.ToLower(f.Search) + "%"
	}

	const where = `WHERE ($1 = '' OR m.status = $1) AND ($2 = '' OR LOWER(m.title) LIKE $2)`
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mock_tests m `+where, f.Status, search).Scan(&total); err != nil {
		return nil, fmt.Errorf("count mock tests: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mockTestColumns+`
		FROM mock_tests m
		`+where+`
		ORDER BY m.updated_at DESC, m.id DESC
		LIMIT $3 OFFSET $4
	`, f.Status, search, f.PerPage, f.Offset())
	if err != nil {
		return nil, fmt.Errorf("query mock tests: %w", err)
	}
	defer rows.Close()

	items := make([]MockTest, 0)
	for rows.Next() {
		mt, err := scanMockTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mock test: %w", err)
		}
		items = append(items, *mt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mock tests: %w", err)
	}
	page := listutil.NewPage(items, f.PageParams, total)
	return &page, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Detail, error) {
	mt, err := s.loadMockTest(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	questions, err := s.loadQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{MockTest: *mt, Questions: questions}, nil
}

// SetQuestions replaces the question list of a draft mock test. The order of
// questionIDs becomes the sequence, starting at 1.
func (s *Service) SetQuestions(ctx context.Context, actorID, id int64, questionIDs []int64) (*Detail, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	if err := validateQuestionIDs(questionIDs); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockStatus(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if status != StatusDraft {
		return nil, ErrNotDraft
	}

	if len(questionIDs) > 0 {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM questions
			WHERE id = ANY($1::bigint[]) AND status = 'published' AND is_active = TRUE
		`, questionIDs)
		if err != nil {
			return nil, fmt.Errorf("check questions: %w", err)
		}
		usable := make(map[int64]struct{}, len(questionIDs))
		for rows.Next() {
			var qid int64
			if err := rows.Scan(&qid); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan question id: %w", err)
			}
			usable[qid] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate question ids: %w", err)
		}
		if missing := firstMissing(questionIDs, usable); missing > 0 {
			return nil, fmt.Errorf("%w: %d", ErrQuestionNotUsable, missing)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM mock_test_questions WHERE mock_test_id = $1`, id); err != nil {
		return nil, fmt.Errorf("clear mock test questions: %w", err)
	}
	for i, qid := range questionIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mock_test_questions (mock_test_id, question_id, seq) VALUES ($1, $2, $3)
		`, id, qid, i+1); err != nil {
			return nil, fmt.Errorf("insert mock test question: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE mock_tests SET updated_at = now() WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("touch mock test: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mock test questions: %w", err)
	}

	if err := s.writeAudit(ctx, actorID, "set_mock_test_questions", id, map[string]any{"question_ids": questionIDs}); err != nil {
		return nil, fmt.Errorf("write audit: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *Service) Publish(ctx context.Context, actorID, id int64) (*MockTest, error) {
	return s.transition(ctx, actorID, id, StatusPublished)
}

func (s *Service) Archive(ctx context.Context, actorID, id int64) (*MockTest, error) {
	return s.transition(ctx, actorID, id, StatusArchived)
}

func (s *Service) transition(ctx context.Context, actorID, id int64, to string) (*MockTest, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	from, err := lockStatus(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if to == StatusPublished {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM mock_test_questions WHERE mock_test_id = $1`, id).Scan(&n); err != nil {
			return nil, fmt.Errorf("count mock test questions: %w", err)
		}
		if n == 0 {
			return nil, ErrNoQuestions
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE mock_tests
		SET status = $2,
			published_at = CASE WHEN $2 = 'published' THEN now() ELSE published_at END,
			updated_at = now()
		WHERE id = $1
	`, id, to); err != nil {
		return nil, fmt.Errorf("update mock test status: %w", err)
	}
	mt, err := s.loadMockTest(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mock test status: %w", err)
	}
	if err := s.writeAudit(ctx, actorID, to+"_mock_test", id, map[string]any{"from": from}); err != nil {
		return nil, fmt.Errorf("write audit: %w", err)
	}
	return mt, nil
}

func canTransition(from, to string) bool {
	switch from {
	case StatusDraft:
		return to == StatusPublished
	case StatusPublished:
		return to == StatusArchived
	}
	return false
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lockStatus(ctx context.Context, tx *sql.Tx, id int64) (string, error) {
	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM mock_tests WHERE id = $1 FOR UPDATE`, id).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrMockTestNotFound
		}
		return "", fmt.Errorf("lock mock test: %w", err)
	}
	return status, nil
}

func (s *Service) loadMockTest(ctx context.Context, q queryer, id int64) (*MockTest, error) {
	row := q.QueryRowContext(ctx, `SELECT `+mockTestColumns+` FROM mock_tests m WHERE m.id = $1`, id)
	mt, err := scanMockTest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMockTestNotFound
		}
		return nil, fmt.Errorf("load mock test: %w", err)
	}
	return mt, nil
}

func (s *Service) loadQuestions(ctx context.Context, id int64) ([]MockTestQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mq.seq, q.id, q.stem, q.difficulty, q.book_source, q.chapter
		FROM mock_test_questions mq
		JOIN questions q ON q.id = mq.question_id
		WHERE mq.mock_test_id = $1
		ORDER BY mq.seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query mock test questions: %w", err)
	}
	defer rows.Close()

	items := make([]MockTestQuestion, 0)
	for rows.Next() {
		var it MockTestQuestion
		if err := rows.Scan(&it.Seq, &it.QuestionID, &it.Stem, &it.Difficulty, &it.BookSource, &it.Chapter); err != nil {
			return nil, fmt.Errorf("scan mock test question: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mock test questions: %w", err)
	}
	return items, nil
}

func (s *Service) writeAudit(ctx context.Context, userID int64, action string, mockTestID int64, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, payload, created_at)
		VALUES ($1, $2, 'mock_test', $3, $4::jsonb, now())
	`, nullableID(userID), action, strconv.FormatInt(mockTestID, 10), string(b))
	return err
}

func validateCreateInput(in CreateInput) error {
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.DurationMinutes < MinDurationMinutes || in.DurationMinutes > MaxDurationMinutes {
		return fmt.Errorf("%w: duration_minutes must be between %d and %d", ErrInvalidInput, MinDurationMinutes, MaxDurationMinutes)
	}
	return nil
}

func validateQuestionIDs(ids []int64) error {
	if len(ids) > maxQuestions {
		return fmt.Errorf("%w: at most %d questions", ErrInvalidInput, maxQuestions)
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("%w: invalid question id %d", ErrInvalidInput, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate question id %d", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func firstMissing(ids []int64, found map[int64]struct{}) int64 {
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return id
		}
	}
	return 0
}

func scanMockTest(scanner interface{ Scan(dest ...any) error }) (*MockTest, error) {
	var mt MockTest
	var description sql.NullString
	var createdBy sql.NullInt64
	var publishedAt sql.NullTime
	if err := scanner.Scan(&mt.ID, &mt.Title, &description, &mt.DurationMinutes, &mt.Status, &mt.QuestionCount,
		&createdBy, &mt.CreatedAt, &mt.UpdatedAt, &publishedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		mt.Description = &description.String
	}
	if createdBy.Valid {
		mt.CreatedBy = &createdBy.Int64
	}
	if publishedAt.Valid {
		mt.PublishedAt = &publishedAt.Time
	}
	return &mt, nil
}

func nullableString(s string) any {
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
