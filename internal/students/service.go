package students

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cbtadmin/internal/listutil"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrStudentNotFound = errors.New("student not found")
	ErrUsernameTaken   = errors.New("username already exists")
)

const minPasswordLength = 8

// SessionRevoker ends the sessions of a user whose access changed.
type SessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID int64) error
}

type Service struct {
	db         *sql.DB
	bcryptCost int
	sessions   SessionRevoker
}

type Student struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	FullName   string     `json:"full_name"`
	Email      *string    `json:"email,omitempty"`
	StudentNo  *string    `json:"student_no,omitempty"`
	SchoolName string     `json:"school_name"`
	ClassName  string     `json:"class_name"`
	GradeLevel string     `json:"grade_level"`
	IsActive   bool       `json:"is_active"`
	LastLogin  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type CreateStudentInput struct {
	Username   string
	Password   string
	FullName   string
	Email      string
	StudentNo  string
	SchoolName string
	ClassName  string
	GradeLevel string
}

type ListFilter struct {
	listutil.ListParams
	ClassName  string
	ActiveOnly bool
}

type ImportStudentsReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Errors      []ImportRowError `json:"errors"`
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

func NewService(db *sql.DB, bcryptCost int, sessions SessionRevoker) *Service {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{db: db, bcryptCost: bcryptCost, sessions: sessions}
}

const studentColumns = `u.id, u.username, u.full_name, u.email, p.student_no, p.school_name,
	p.class_name, p.grade_level, u.is_active, u.last_login_at, u.created_at`

func buildListWhere(f ListFilter) (string, []any) {
	conds := []string{"u.role = 'student'"}
	args := make([]any, 0, 3)
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(LOWER(u.username) LIKE $%d OR LOWER(u.full_name) LIKE $%d OR LOWER(COALESCE(p.student_no, '')) LIKE $%d)", n, n, n))
	}
	if f.ClassName != "" {
		args = append(args, f.ClassName)
		conds = append(conds, fmt.Sprintf("p.class_name = $%d", len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "u.is_active = TRUE")
	}
	return strings.Join(conds, " AND "), args
}

func (s *Service) ListStudents(ctx context.Context, f ListFilter) (*listutil.Page[Student], error) {
	f.PageParams = f.PageParams.Normalize()
	where, args := buildListWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM users u
		JOIN student_profiles p ON p.user_id = u.id
		WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}

	args = append(args, f.PerPage, f.Offset())
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM users u
		JOIN student_profiles p ON p.user_id = u.id
		WHERE %s
		ORDER BY u.full_name ASC, u.id ASC
		LIMIT $%d OFFSET $%d
	`, studentColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	items := make([]Student, 0)
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		items = append(items, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	page := listutil.NewPage(items, f.PageParams, total)
	return &page, nil
}

func (s *Service) GetStudent(ctx context.Context, id int64) (*Student, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+studentColumns+`
		FROM users u
		JOIN student_profiles p ON p.user_id = u.id
		WHERE u.id = $1 AND u.role = 'student'
	`, id)
	st, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("load student: %w", err)
	}
	return st, nil
}

func (s *Service) CreateStudent(ctx context.Context, actorID int64, in CreateStudentInput) (*Student, error) {
	in = normalizeStudentInput(in)
	if err := validateStudentInput(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := s.insertStudentTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	_ = s.writeAudit(ctx, actorID, "student_create", "user", fmt.Sprint(id), map[string]any{"username": in.Username})
	return s.GetStudent(ctx, id)
}

// SetActive deactivates or reactivates a student. Deactivation also ends any
// open sessions.
func (s *Service) SetActive(ctx context.Context, actorID, id int64, active bool) (*Student, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_active = $2, updated_at = now()
		WHERE id = $1 AND role = 'student'
	`, id, active)
	if err != nil {
		return nil, fmt.Errorf("update student status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrStudentNotFound
	}
	if !active && s.sessions != nil {
		if err := s.sessions.RevokeUserSessions(ctx, id); err != nil {
			return nil, err
		}
	}
	action := "student_reactivate"
	if !active {
		action = "student_deactivate"
	}
	_ = s.writeAudit(ctx, actorID, action, "user", fmt.Sprint(id), nil)
	return s.GetStudent(ctx, id)
}

func (s *Service) ResetPassword(ctx context.Context, actorID, id int64, password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password minimum length is %d", ErrInvalidInput, minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now()
		WHERE id = $1 AND role = 'student'
	`, id, string(hash))
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStudentNotFound
	}
	if s.sessions != nil {
		if err := s.sessions.RevokeUserSessions(ctx, id); err != nil {
			return err
		}
	}
	_ = s.writeAudit(ctx, actorID, "student_reset_password", "user", fmt.Sprint(id), nil)
	return nil
}

// ImportStudentsCSV creates one student per row. Each row commits on its own;
// failures are collected in the report and do not stop the import.
func (s *Service) ImportStudentsCSV(ctx context.Context, actorID int64, r io.Reader) (*ImportStudentsReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

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

	required := []string{"full_name", "username", "password", "school_name", "class_name", "grade_level"}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, col)
		}
	}

	report := &ImportStudentsReport{Errors: make([]ImportRowError, 0)}
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
			report.TotalRows++
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: fmt.Sprintf("csv parse error: %v", err)})
			continue
		}
		if isRowEmpty(rec) {
			continue
		}
		report.TotalRows++

		in := normalizeStudentInput(CreateStudentInput{
			Username:   cell(rec, index, "username"),
			Password:   cell(rec, index, "password"),
			FullName:   cell(rec, index, "full_name"),
			Email:      cell(rec, index, "email"),
			StudentNo:  cell(rec, index, "student_no"),
			SchoolName: cell(rec, index, "school_name"),
			ClassName:  cell(rec, index, "class_name"),
			GradeLevel: cell(rec, index, "grade_level"),
		})
		if err := validateStudentInput(in); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		if err := s.importStudentRow(ctx, in); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		report.SuccessRows++
	}

	_ = s.writeAudit(ctx, actorID, "students_import_csv", "student_import", "csv", map[string]any{
		"total_rows":   report.TotalRows,
		"success_rows": report.SuccessRows,
		"failed_rows":  report.FailedRows,
	})

	return report, nil
}

func (s *Service) importStudentRow(ctx context.Context, in CreateStudentInput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.insertStudentTx(ctx, tx, in); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return err
		}
		return errors.New("cannot save student")
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Service) insertStudentTx(ctx context.Context, tx *sql.Tx, in CreateStudentInput) (int64, error) {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, in.Username).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return 0, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	var userID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, full_name, email, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'student', TRUE, now(), now())
		RETURNING id
	`, in.Username, string(hash), in.FullName, nullableString(in.Email)).Scan(&userID)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO student_profiles (user_id, student_no, school_name, class_name, grade_level)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, nullableString(in.StudentNo), in.SchoolName, in.ClassName, in.GradeLevel)
	if err != nil {
		return 0, fmt.Errorf("insert student profile: %w", err)
	}
	return userID, nil
}

func (s *Service) writeAudit(ctx context.Context, userID int64, action, entityType, entityID string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, now())
	`, userID, action, entityType, entityID, string(b))
	return err
}

func scanStudent(scanner interface{ Scan(dest ...any) error }) (*Student, error) {
	var st Student
	var email, studentNo sql.NullString
	var lastLogin sql.NullTime
	if err := scanner.Scan(&st.ID, &st.Username, &st.FullName, &email, &studentNo, &st.SchoolName,
		&st.ClassName, &st.GradeLevel, &st.IsActive, &lastLogin, &st.CreatedAt); err != nil {
		return nil, err
	}
	if email.Valid {
		st.Email = &email.String
	}
	if studentNo.Valid {
		st.StudentNo = &studentNo.String
	}
	if lastLogin.Valid {
		st.LastLogin = &lastLogin.Time
	}
	return &st, nil
}

func normalizeStudentInput(in CreateStudentInput) CreateStudentInput {
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.StudentNo = strings.TrimSpace(in.StudentNo)
	in.SchoolName = strings.TrimSpace(in.SchoolName)
	in.ClassName = strings.TrimSpace(in.ClassName)
	in.GradeLevel = strings.TrimSpace(in.GradeLevel)
	return in
}

func validateStudentInput(in CreateStudentInput) error {
	if in.FullName == "" {
		return errors.New("full_name is required")
	}
	if in.Username == "" {
		return errors.New("username is required")
	}
	if len(in.Password) < minPasswordLength {
		return fmt.Errorf("password minimum length is %d", minPasswordLength)
	}
	if in.SchoolName == "" || in.ClassName == "" || in.GradeLevel == "" {
		return errors.New("school_name, class_name and grade_level are required")
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return errors.New("invalid email format")
		}
	}
	return nil
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

func nullableString(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
