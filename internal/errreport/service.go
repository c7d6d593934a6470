// Package errreport tracks problems reported against bank questions (wrong
// answer key, typos, broken rendering) through review to resolution.
package errreport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cbtadmin/internal/listutil"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrReportNotFound    = errors.New("error report not found")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	StatusOpen          = "open"
	StatusInvestigating = "investigating"
	StatusResolved      = "resolved"
	StatusDismissed     = "dismissed"
)

const maxMessageLength = 2000

var transitions = map[string][]string{
	StatusOpen:          {StatusInvestigating, StatusDismissed},
	StatusInvestigating: {StatusResolved, StatusDismissed},
	StatusResolved:      {StatusOpen},
	StatusDismissed:     {StatusOpen},
}

func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func isStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type Report struct {
	ID             int64      `json:"id"`
	QuestionID     int64      `json:"question_id"`
	ReporterID     *int64     `json:"reporter_id,omitempty"`
	Message        string     `json:"message"`
	Status         string     `json:"status"`
	ResolutionNote *string    `json:"resolution_note,omitempty"`
	HandledBy      *int64     `json:"handled_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

type CreateInput struct {
	QuestionID int64
	ReporterID int64
	Message    string
}

type TransitionInput struct {
	ID      int64
	ActorID int64
	Status  string
	Note    string
}

type ListFilter struct {
	listutil.PageParams
	Status     string
	QuestionID int64
}

const reportColumns = `id, question_id, reporter_id, message, status, resolution_note, handled_by,
	created_at, updated_at, closed_at`

func (s *Service) Create(ctx context.Context, in CreateInput) (*Report, error) {
	in.Message = strings.TrimSpace(in.Message)
	if in.QuestionID <= 0 || in.Message == "" {
		return nil, fmt.Errorf("%w: question_id and message are required", ErrInvalidInput)
	}
	if len(in.Message) > maxMessageLength {
		return nil, fmt.Errorf("%w: message is longer than %d characters", ErrInvalidInput, maxMessageLength)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM questions WHERE id = $1 AND is_active = TRUE)
	`, in.QuestionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check question: %w", err)
	}
	if !exists {
		return nil, ErrQuestionNotFound
	}

	var reporter any
	if in.ReporterID > 0 {
		reporter = in.ReporterID
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO error_reports (question_id, reporter_id, message, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'open', now(), now())
		RETURNING `+reportColumns, in.QuestionID, reporter, in.Message)
	rep, err := scanReport(row)
	if err != nil {
		return nil, fmt.Errorf("insert error report: %w", err)
	}
	return rep, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM error_reports WHERE id = $1`, id)
	rep, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("load error report: %w", err)
	}
	return rep, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) (*listutil.Page[Report], error) {
	f.PageParams = f.PageParams.Normalize()
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	if f.Status != "" && !isStatus(f.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM error_reports
		WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR question_id = $2)
	`, f.Status, f.QuestionID).Scan(&total); err != nil {
		return nil, fmt.Errorf("count error reports: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reportColumns+`
		FROM error_reports
		WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR question_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, f.Status, f.QuestionID, f.PerPage, f.Offset())
	if err != nil {
		return nil, fmt.Errorf("query error reports: %w", err)
	}
	defer rows.Close()

	items := make([]Report, 0)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error report: %w", err)
		}
		items = append(items, *rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error reports: %w", err)
	}
	page := listutil.NewPage(items, f.PageParams, total)
	return &page, nil
}

// Transition moves a report through its workflow. Resolving needs a note;
// reopening clears the previous resolution.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (*Report, error) {
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	in.Note = strings.TrimSpace(in.Note)
	if in.ID <= 0 || !isStatus(in.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.Status)
	}
	if in.Status == StatusResolved && in.Note == "" {
		return nil, fmt.Errorf("%w: resolution note is required", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var from string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM error_reports WHERE id = $1 FOR UPDATE`, in.ID).Scan(&from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("lock error report: %w", err)
	}
	if !CanTransition(from, in.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, in.Status)
	}

	var actor any
	if in.ActorID > 0 {
		actor = in.ActorID
	}
	var note any
	if in.Note != "" {
		note = in.Note
	}
	row := tx.QueryRowContext(ctx, `
		UPDATE error_reports
		SET status = $2,
			resolution_note = CASE WHEN $2 = 'open' THEN NULL ELSE COALESCE($3, resolution_note) END,
			handled_by = $4,
			closed_at = CASE WHEN $2 IN ('resolved', 'dismissed') THEN now() ELSE NULL END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+reportColumns, in.ID, in.Status, note, actor)
	rep, err := scanReport(row)
	if err != nil {
		return nil, fmt.Errorf("update error report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit error report: %w", err)
	}
	return rep, nil
}

func scanReport(scanner interface{ Scan(dest ...any) error }) (*Report, error) {
	var rep Report
	var reporter, handledBy sql.NullInt64
	var note sql.NullString
	var closedAt sql.NullTime
	if err := scanner.Scan(&rep.ID, &rep.QuestionID, &reporter, &rep.Message, &rep.Status, &note,
		&handledBy, &rep.CreatedAt, &rep.UpdatedAt, &closedAt); err != nil {
		return nil, err
	}
	if reporter.Valid {
		rep.ReporterID = &reporter.Int64
	}
	if handledBy.Valid {
		rep.HandledBy = &handledBy.Int64
	}
	if note.Valid {
		rep.ResolutionNote = &note.String
	}
	if closedAt.Valid {
		rep.ClosedAt = &closedAt.Time
	}
	return &rep, nil
}
