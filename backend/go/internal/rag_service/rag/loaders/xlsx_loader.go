package loaders

import (
	"context"
	"path/filepath"
	"strings"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// XlsxLoader implements the Loader interface for reading Excel (.xlsx) files.
type XlsxLoader struct{}

// NewXlsxLoader creates a new XlsxLoader.
func NewXlsxLoader() *XlsxLoader {
	return &XlsxLoader{}
}

// Load reads an .xlsx file, converting each non-empty sheet to a Markdown table.
// Every sheet becomes one page, labelled by its position in the workbook.
func (l *XlsxLoader) Load(ctx context.Context, path string) ([]*schema.Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var documents []*schema.Document
	for i, sheetName := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
		table := markdownTable(rows)
		if table == "" {
			continue
		}

		documents = append(documents, &schema.Document{
			ID:   uuid.New().String(),
			Text: table,
			Metadata: map[string]interface{}{
				schema.MetadataKeyFileName:  filepath.Base(path),
				schema.MetadataKeyPageLabel: i + 1,
				schema.MetadataKeySheetName: sheetName,
			},
		})
	}

	return documents, nil
}

// markdownTable renders rows with the first row as header. Rows shorter than the
// widest row are padded so every line has the same number of cells.
func markdownTable(rows [][]string) string {
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	if width == 0 {
		return ""
	}

	var sb strings.Builder
	writeRow := func(row []string) {
		cells := make([]string, width)
		copy(cells, row)
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	writeRow(rows[0])
	sb.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return strings.TrimSpace(sb.String())
}

// compile-time check to ensure XlsxLoader implements the Loader interface
var _ interfaces.Loader = (*XlsxLoader)(nil)
