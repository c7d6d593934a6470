package students

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cbtadmin/internal/listutil"

	"github.com/google/go-cmp/cmp"
)

func TestValidateStudentInput(t *testing.T) {
	valid := CreateStudentInput{
		Username:   "budi",
		Password:   "Password1",
		FullName:   "Budi Santoso",
		Email:      "budi@example.test",
		SchoolName: "SMA 1",
		ClassName:  "X-1",
		GradeLevel: "10",
	}
	tests := []struct {
		name    string
		mutate  func(*CreateStudentInput)
		wantErr string
	}{
		{"valid", func(*CreateStudentInput) {}, ""},
		{"no email is fine", func(in *CreateStudentInput) { in.Email = "" }, ""},
		{"missing name", func(in *CreateStudentInput) { in.FullName = "" }, "full_name is required"},
		{"missing username", func(in *CreateStudentInput) { in.Username = "" }, "username is required"},
		{"short password", func(in *CreateStudentInput) { in.Password = "short" }, "password minimum length is 8"},
		{"missing class", func(in *CreateStudentInput) { in.ClassName = "" }, "school_name, class_name and grade_level are required"},
		{"bad email", func(in *CreateStudentInput) { in.Email = "not-an-email" }, "invalid email format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mutate(&in)
			err := validateStudentInput(in)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tc.wantErr {
				t.Fatalf("expected %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNormalizeStudentInput(t *testing.T) {
	got := normalizeStudentInput(CreateStudentInput{Username: " Budi ", Email: " BUDI@Example.Test ", ClassName: " X-1 "})
	if got.Username != "budi" || got.Email != "budi@example.test" || got.ClassName != "X-1" {
		t.Fatalf("unexpected normalized input: %+v", got)
	}
}

func TestBuildListWhere(t *testing.T) {
	f := ListFilter{
		ListParams: listutil.ListParams{Search: "Budi"},
		ClassName:  "X-1",
		ActiveOnly: true,
	}
	where, args := buildListWhere(f)
	want := "u.role = 'student' AND (LOWER(u.username) LIKE $1 OR LOWER(u.full_name) LIKE $1 OR LOWER(COALESCE(p.student_no, '')) LIKE $1)" +
		" AND p.class_name = $2 AND u.is_active = TRUE"
	if where != want {
		t.Fatalf("where mismatch\nwant: %s\ngot:  %s", want, where)
	}
	if diff := cmp.Diff([]any{"%budi%", "X-1"}, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestHeaderHelpers(t *testing.T) {
	if normalizeHeader("\ufeffFull Name") != "full_name" || normalizeHeader("Grade-Level") != "grade_level" {
		t.Fatal("normalizeHeader did not canonicalize")
	}
	idx := map[string]int{"a": 0, "b": 5}
	if cell([]string{" x "}, idx, "a") != "x" || cell([]string{"x"}, idx, "b") != "" || cell(nil, idx, "c") != "" {
		t.Fatal("cell lookup mismatch")
	}
	if !isRowEmpty([]string{"", "  "}) || isRowEmpty([]string{"", "x"}) {
		t.Fatal("isRowEmpty mismatch")
	}
}

type failAfterReader struct {
	prefix *strings.Reader
}

func (r *failAfterReader) Read(p []byte) (int, error) {
	if r.prefix.Len() > 0 {
		return r.prefix.Read(p)
	}
	return 0, errors.New("http: request body too large")
}

func TestImportStudentsCSVStopsOnReadError(t *testing.T) {
	svc := &Service{}
	r := &failAfterReader{prefix: strings.NewReader("full_name,username,password,school_name,class_name,grade_level\n")}

	done := make(chan error, 1)
	go func() {
		_, err := svc.ImportStudentsCSV(context.Background(), 1, r)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ImportStudentsCSV did not return")
	}
}
