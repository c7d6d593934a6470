package students

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"cbtadmin/internal/listutil"
)

const maxExportRows = 10000

var exportHeaders = []string{
	"username", "full_name", "email", "student_no", "school_name",
	"class_name", "grade_level", "is_active", "created_at",
}

// ExportStudentsExcel writes every student matching f to a workbook. Paging in
// f is ignored.
func (s *Service) ExportStudentsExcel(ctx context.Context, f ListFilter) ([]byte, error) {
	f.PageParams = listutil.PageParams{Page: 1, PerPage: 100}

	file := excelize.NewFile()
	defer file.Close()
	sheet := file.GetSheetName(0)
	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = file.SetCellValue(sheet, cell, h)
	}

	row := 2
	for row-2 < maxExportRows {
		page, err := s.ListStudents(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, st := range page.Items {
			writeStudentRow(file, sheet, row, st)
			row++
		}
		if f.Page >= page.TotalPages || len(page.Items) == 0 {
			break
		}
		f.Page++
	}
	_ = file.SetColWidth(sheet, "A", "I", 22)

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func writeStudentRow(f *excelize.File, sheet string, row int, st Student) {
	email := ""
	if st.Email != nil {
		email = *st.Email
	}
	studentNo := ""
	if st.StudentNo != nil {
		studentNo = *st.StudentNo
	}
	values := []any{
		st.Username,
		st.FullName,
		email,
		studentNo,
		st.SchoolName,
		st.ClassName,
		st.GradeLevel,
		st.IsActive,
		st.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
