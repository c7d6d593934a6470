package report

import (
	"context"
	"database/sql"
	"fmt"
)

type Service struct {
	db *sql.DB
}

// Summary is the dashboard overview of the question bank and its workflows.
type Summary struct {
	QuestionsByStatus    map[string]int `json:"questions_by_status"`
	TotalQuestions       int            `json:"total_questions"`
	OpenErrorReports     int            `json:"open_error_reports"`
	PendingImportBatches int            `json:"pending_import_batches"`
	ActiveStudents       int            `json:"active_students"`
	PublishedMockTests   int            `json:"published_mock_tests"`
}

var questionStatuses = []string{"draft", "review", "published", "archived"}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	out := &Summary{QuestionsByStatus: make(map[string]int, len(questionStatuses))}
	for _, st := range questionStatuses {
		out.QuestionsByStatus[st] = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM questions WHERE is_active = TRUE GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan question count: %w", err)
		}
		out.QuestionsByStatus[status] = n
		out.TotalQuestions += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM error_reports WHERE status IN ('open', 'investigating')),
			(SELECT COUNT(*) FROM question_import_batches WHERE status = 'pending'),
			(SELECT COUNT(*) FROM users WHERE role = 'student' AND is_active = TRUE),
			(SELECT COUNT(*) FROM mock_tests WHERE status = 'published')
	`).Scan(&out.OpenErrorReports, &out.PendingImportBatches, &out.ActiveStudents, &out.PublishedMockTests); err != nil {
		return nil, fmt.Errorf("count workflow totals: %w", err)
	}
	return out, nil
}
