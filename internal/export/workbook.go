// Package export writes report sheets to a local .xlsx workbook.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"tiktok-sheets/internal/google"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// ErrSheetNotFound is returned when a named tab does not exist.
var ErrSheetNotFound = google.ErrSheetNotFound

const (
	defaultSheet = "Sheet1"
	numberFormat = "#,##0.##"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Workbook stores sheets in .xlsx files. The spreadsheet id is the file path.
type Workbook struct {
	mu     sync.Mutex
	dir    string
	logger *zerolog.Logger
}

// NewWorkbook returns a sink that creates new workbooks under dir.
func NewWorkbook(dir string, logger *zerolog.Logger) *Workbook {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Workbook{dir: dir, logger: logger}
}

func (w *Workbook) open(path string) (*excelize.File, bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return excelize.NewFile(), true, nil
		}
		return nil, false, err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("error opening workbook: %w", err)
	}
	return f, false, nil
}

// CreateSpreadsheet creates an empty workbook next to the others and returns its path.
func (w *Workbook) CreateSpreadsheet(_ context.Context, title string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	base := strings.Trim(unsafeFileChars.ReplaceAllString(title, "_"), "_")
	if base == "" {
		base = "orders"
	}
	path := filepath.Join(w.dir, base+".xlsx")
	for i := 2; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		path = filepath.Join(w.dir, fmt.Sprintf("%s_%d.xlsx", base, i))
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	w.logger.Info().Str("file_path", path).Msg("workbook created")
	return path, nil
}

func (w *Workbook) ListSheets(_ context.Context, path string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, _, err := w.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

func (w *Workbook) DeleteSheet(_ context.Context, path, title string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, _, err := w.open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex(title); idx < 0 {
		return fmt.Errorf("%w: %s", ErrSheetNotFound, title)
	}
	if len(f.GetSheetList()) <= 1 {
		return fmt.Errorf("cannot delete the only sheet %q", title)
	}
	if err := f.DeleteSheet(title); err != nil {
		return fmt.Errorf("error deleting sheet: %w", err)
	}
	return f.SaveAs(path)
}

// WriteAndFormatSheet replaces the sheet contents with header and rows.
// Numeric columns are stored as numbers where the value parses.
func (w *Workbook) WriteAndFormatSheet(_ context.Context, path, sheetName string, header []interface{}, rows [][]interface{}, numericColumns []string) error {
	if len(rows)+1 > excelize.TotalRows {
		return fmt.Errorf("%w: %d rows do not fit in one sheet", google.ErrCapacityExceeded, len(rows))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating export directory: %w", err)
	}

	f, fresh, err := w.open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := prepareSheet(f, sheetName, fresh); err != nil {
		return err
	}

	numeric := make(map[int]bool, len(numericColumns))
	for _, col := range numericColumns {
		if idx := google.ColumnIndex(col); idx >= 0 {
			numeric[int(idx)] = true
		}
	}

	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for c, v := range row {
			values[c] = v
			if s, ok := v.(string); ok && numeric[c] {
				if n, err := strconv.ParseFloat(s, 64); err == nil {
					values[c] = n
				}
			}
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", i+2, err)
		}
	}

	if err := applyStyles(f, sheetName, len(header), numericColumns); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("error saving file: %w", err)
	}
	w.logger.Debug().Str("file_path", path).Str("sheet", sheetName).Int("rows", len(rows)).Msg("sheet written")
	return nil
}

func prepareSheet(f *excelize.File, sheetName string, fresh bool) error {
	idx, err := f.GetSheetIndex(sheetName)
	if err != nil {
		return err
	}
	if idx >= 0 {
		stale, err := f.GetRows(sheetName)
		if err != nil {
			return err
		}
		for r := len(stale); r >= 2; r-- {
			if err := f.RemoveRow(sheetName, r); err != nil {
				return err
			}
		}
		return nil
	}

	if fresh || onlyDefaultSheet(f) {
		return f.SetSheetName(defaultSheet, sheetName)
	}
	if _, err := f.NewSheet(sheetName); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	return nil
}

func onlyDefaultSheet(f *excelize.File) bool {
	list := f.GetSheetList()
	if len(list) != 1 || list[0] != defaultSheet {
		return false
	}
	rows, err := f.GetRows(defaultSheet)
	return err == nil && len(rows) == 0
}

func applyStyles(f *excelize.File, sheetName string, cols int, numericColumns []string) error {
	format := numberFormat
	numStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &format})
	if err != nil {
		return err
	}
	for _, col := range numericColumns {
		if err := f.SetColStyle(sheetName, col, numStyle); err != nil {
			return err
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9D9D9"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	lastCell, err := excelize.CoordinatesToCellName(cols, 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", lastCell, headerStyle); err != nil {
		return err
	}

	lastCol, err := excelize.ColumnNumberToName(cols)
	if err != nil {
		return err
	}
	_ = f.SetColWidth(sheetName, "A", lastCol, 18)

	return f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
