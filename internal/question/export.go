package question

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const maxExportRows = 10000

var exportHeaders = []string{
	"id", "stem", "option_a", "option_b", "option_c", "option_d", "answer",
	"book_source", "chapter", "tags", "difficulty", "status", "created_at",
}

// ExportQuestionsExcel writes every question matching p (page and page size
// are ignored) to a single-sheet workbook.
func (s *Service) ExportQuestionsExcel(ctx context.Context, p SearchParams) ([]byte, error) {
	p.Page = 1
	p.PageSize = MaxPageSize

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for row-2 < maxExportRows {
		res, err := s.SearchQuestions(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, q := range res.Items {
			if row-2 >= maxExportRows {
				break
			}
			writeExportRow(f, sheet, row, q)
			row++
		}
		if p.Page*p.PageSize >= res.Total || len(res.Items) == 0 {
			break
		}
		p.Page++
	}
	_ = f.SetColWidth(sheet, "A", "A", 8)
	_ = f.SetColWidth(sheet, "B", "B", 60)
	_ = f.SetColWidth(sheet, "C", "M", 20)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func writeExportRow(f *excelize.File, sheet string, row int, q Question) {
	options := map[string]string{}
	for _, o := range q.Options {
		options[o.Key] = o.Text
	}
	values := []any{
		q.ID,
		q.Stem,
		options["A"],
		options["B"],
		options["C"],
		options["D"],
		q.Answer,
		q.BookSource,
		q.Chapter,
		strings.Join(q.Tags, ";"),
		q.Difficulty,
		q.Status,
		q.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
