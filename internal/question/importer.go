package question

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	BatchPending  = "pending"
	BatchApproved = "approved"
	BatchRejected = "rejected"
)

var requiredImportColumns = []string{
	"stem", "option_a", "option_b", "option_c", "option_d",
	"answer", "book_source", "chapter", "difficulty",
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportRow is one validated CSV line, ready to become a draft question.
type ImportRow struct {
	Row         int      `json:"row"`
	Stem        string   `json:"stem"`
	StemHTML    string   `json:"stem_html"`
	Options     []Option `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
	BookSource  string   `json:"book_source"`
	Chapter     string   `json:"chapter"`
	Tags        []string `json:"tags"`
	Difficulty  string   `json:"difficulty"`
}

type ImportPreview struct {
	TotalRows int              `json:"total_rows"`
	ValidRows int              `json:"valid_rows"`
	Rows      []ImportRow      `json:"rows"`
	Errors    []ImportRowError `json:"errors"`
}

type ImportBatch struct {
	ID           uuid.UUID        `json:"id"`
	FileName     string           `json:"file_name"`
	Status       string           `json:"status"`
	TotalRows    int              `json:"total_rows"`
	ValidRows    int              `json:"valid_rows"`
	Errors       []ImportRowError `json:"errors"`
	Rows         []ImportRow      `json:"rows,omitempty"`
	CreatedBy    *int64           `json:"created_by,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	DecidedBy    *int64           `json:"decided_by,omitempty"`
	DecidedAt    *time.Time       `json:"decided_at,omitempty"`
	DecisionNote *string          `json:"decision_note,omitempty"`
	Imported     int              `json:"imported,omitempty"`
}

// ParseImportCSV validates a question CSV without touching the database.
// Structural problems (unreadable header, missing columns) fail the whole
// file; row problems are collected in the preview.
func ParseImportCSV(r io.Reader) (*ImportPreview, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", ErrInvalidInput, err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		n := normalizeHeader(h)
		if n != "" {
			index[n] = i
		}
	}
	for _, col := range requiredImportColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, col)
		}
	}

	preview := &ImportPreview{Rows: make([]ImportRow, 0), Errors: make([]ImportRowError, 0)}
	rowNo := 1
	for {
		rowNo++
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("%w: read csv: %v", ErrInvalidInput, err)
			}
			preview.TotalRows++
			preview.Errors = append(preview.Errors, ImportRowError{Row: rowNo, Error: fmt.Sprintf("csv parse error: %v", err)})
			continue
		}
		if isRowEmpty(rec) {
			continue
		}
		preview.TotalRows++

		row, err := parseImportRow(rowNo, rec, index)
		if err != nil {
			preview.Errors = append(preview.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		preview.Rows = append(preview.Rows, row)
	}
	preview.ValidRows = len(preview.Rows)
	return preview, nil
}

func parseImportRow(rowNo int, rec []string, index map[string]int) (ImportRow, error) {
	in := QuestionInput{
		Stem: cell(rec, index, "stem"),
		Options: []Option{
			{Key: "A", Text: cell(rec, index, "option_a")},
			{Key: "B", Text: cell(rec, index, "option_b")},
			{Key: "C", Text: cell(rec, index, "option_c")},
			{Key: "D", Text: cell(rec, index, "option_d")},
		},
		Answer:      cell(rec, index, "answer"),
		Explanation: cell(rec, index, "explanation"),
		BookSource:  cell(rec, index, "book_source"),
		Chapter:     cell(rec, index, "chapter"),
		Tags:        strings.Split(cell(rec, index, "tags"), ";"),
		Difficulty:  cell(rec, index, "difficulty"),
	}
	for _, opt := range in.Options {
		if opt.Text == "" {
			return ImportRow{}, fmt.Errorf("option_%s is required", strings.ToLower(opt.Key))
		}
	}
	in, err := normalizeQuestionInput(in)
	if err != nil {
		return ImportRow{}, errors.New(strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": "))
	}
	html, err := RenderMarkdown(in.Stem)
	if err != nil {
		return ImportRow{}, fmt.Errorf("render stem: %v", err)
	}
	return ImportRow{
		Row:         rowNo,
		Stem:        in.Stem,
		StemHTML:    html,
		Options:     in.Options,
		Answer:      in.Answer,
		Explanation: in.Explanation,
		BookSource:  in.BookSource,
		Chapter:     in.Chapter,
		Tags:        in.Tags,
		Difficulty:  in.Difficulty,
	}, nil
}

// StageImport parses a CSV and stores it as a pending batch for review.
func (s *Service) StageImport(ctx context.Context, actorID int64, fileName string, r io.Reader) (*ImportBatch, error) {
	preview, err := ParseImportCSV(r)
	if err != nil {
		return nil, err
	}
	if preview.ValidRows == 0 {
		return nil, fmt.Errorf("%w: no valid rows in file", ErrInvalidInput)
	}

	rowsRaw, err := json.Marshal(preview.Rows)
	if err != nil {
		return nil, fmt.Errorf("marshal rows: %w", err)
	}
	errorsRaw, err := json.Marshal(preview.Errors)
	if err != nil {
		return nil, fmt.Errorf("marshal row errors: %w", err)
	}

	batch := &ImportBatch{
		ID:        uuid.New(),
		FileName:  strings.TrimSpace(fileName),
		Status:    BatchPending,
		TotalRows: preview.TotalRows,
		ValidRows: preview.ValidRows,
		Errors:    preview.Errors,
		Rows:      preview.Rows,
	}
	if actorID > 0 {
		batch.CreatedBy = &actorID
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO question_import_batches (
			id, file_name, status, total_rows, valid_rows, errors, rows, created_by, created_at
		) VALUES (
			$1, $2, 'pending', $3, $4, $5::jsonb, $6::jsonb, $7, now()
		)
		RETURNING created_at
	`, batch.ID.String(), batch.FileName, batch.TotalRows, batch.ValidRows,
		string(errorsRaw), string(rowsRaw), nullableID(actorID)).Scan(&batch.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert import batch: %w", err)
	}
	return batch, nil
}

func (s *Service) ListImportBatches(ctx context.Context, status string, limit, offset int) ([]ImportBatch, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && status != BatchPending && status != BatchApproved && status != BatchRejected {
		return nil, fmt.Errorf("%w: unknown batch status", ErrInvalidInput)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_name, status, total_rows, valid_rows, errors, created_by,
			created_at, decided_by, decided_at, decision_note
		FROM question_import_batches
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query import batches: %w", err)
	}
	defer rows.Close()

	items := make([]ImportBatch, 0)
	for rows.Next() {
		b, err := scanBatch(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan import batch: %w", err)
		}
		items = append(items, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import batches: %w", err)
	}
	return items, nil
}

func (s *Service) GetImportBatch(ctx context.Context, id uuid.UUID) (*ImportBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_name, status, total_rows, valid_rows, errors, created_by,
			created_at, decided_by, decided_at, decision_note, rows
		FROM question_import_batches
		WHERE id = $1
	`, id.String())
	b, err := scanBatch(row, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("load import batch: %w", err)
	}
	return b, nil
}

// ApproveImport inserts every valid row of a pending batch as a draft question
// in one transaction and marks the batch approved.
func (s *Service) ApproveImport(ctx context.Context, actorID int64, id uuid.UUID) (*ImportBatch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var rowsRaw []byte
	if err := tx.QueryRowContext(ctx, `
		SELECT status, rows FROM question_import_batches WHERE id = $1 FOR UPDATE
	`, id.String()).Scan(&status, &rowsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("lock import batch: %w", err)
	}
	if status != BatchPending {
		return nil, ErrBatchDecided
	}

	var rows []ImportRow
	if err := json.Unmarshal(rowsRaw, &rows); err != nil {
		return nil, fmt.Errorf("decode batch rows: %w", err)
	}
	for _, r := range rows {
		optionsRaw, err := json.Marshal(r.Options)
		if err != nil {
			return nil, fmt.Errorf("marshal options: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO questions (
				stem, stem_html, options, answer, explanation, book_source, chapter,
				tags, difficulty, status, created_by, import_batch_id, is_active, created_at, updated_at
			) VALUES (
				$1, $2, $3::jsonb, $4, $5, $6, $7, $8, $9, 'draft', $10, $11, TRUE, now(), now()
			)
		`, r.Stem, r.StemHTML, string(optionsRaw), r.Answer, nullableString(r.Explanation),
			r.BookSource, r.Chapter, r.Tags, r.Difficulty, nullableID(actorID), id.String()); err != nil {
			return nil, fmt.Errorf("insert row %d: %w", r.Row, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE question_import_batches
		SET status = 'approved', decided_by = $2, decided_at = now()
		WHERE id = $1
	`, id.String(), nullableID(actorID)); err != nil {
		return nil, fmt.Errorf("approve import batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}

	b, err := s.GetImportBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Imported = len(rows)
	return b, nil
}

func (s *Service) RejectImport(ctx context.Context, actorID int64, id uuid.UUID, note string) (*ImportBatch, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE question_import_batches
		SET status = 'rejected', decided_by = $2, decided_at = now(), decision_note = $3
		WHERE id = $1 AND status = 'pending'
	`, id.String(), nullableID(actorID), nullableString(note))
	if err != nil {
		return nil, fmt.Errorf("reject import batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetImportBatch(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrBatchDecided
	}
	return s.GetImportBatch(ctx, id)
}

func scanBatch(scanner interface{ Scan(dest ...any) error }, withRows bool) (*ImportBatch, error) {
	var out ImportBatch
	var id string
	var errorsRaw []byte
	var rowsRaw []byte
	var createdBy, decidedBy sql.NullInt64
	var decidedAt sql.NullTime
	var note sql.NullString
	dest := []any{&id, &out.FileName, &out.Status, &out.TotalRows, &out.ValidRows, &errorsRaw,
		&createdBy, &out.CreatedAt, &decidedBy, &decidedAt, &note}
	if withRows {
		dest = append(dest, &rowsRaw)
	}
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse batch id: %w", err)
	}
	out.ID = parsed
	if err := json.Unmarshal(errorsRaw, &out.Errors); err != nil {
		return nil, fmt.Errorf("decode batch errors: %w", err)
	}
	if withRows {
		if err := json.Unmarshal(rowsRaw, &out.Rows); err != nil {
			return nil, fmt.Errorf("decode batch rows: %w", err)
		}
	}
	if createdBy.Valid {
		out.CreatedBy = &createdBy.Int64
	}
	if decidedBy.Valid {
		out.DecidedBy = &decidedBy.Int64
	}
	if decidedAt.Valid {
		out.DecidedAt = &decidedAt.Time
	}
	if note.Valid {
		out.DecisionNote = &note.String
	}
	return &out, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.ReplaceAll(h, "-", "_")
	h = strings.ReplaceAll(h, " ", "_")
	return h
}

func cell(rec []string, idx map[string]int, key string) string {
	i, ok := idx[key]
	if !ok || i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func isRowEmpty(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
