package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tiktok-sheets/internal/config"
	"tiktok-sheets/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ErrSheetNotFound is returned when a named tab does not exist.
var ErrSheetNotFound = errors.New("sheet not found")

const dataClearRange = "A2:ZZ"

type SheetsService struct {
	service        *sheets.Service
	retrier        *Retrier
	limiter        *rate.Limiter
	writeChunkRows int
	defaultRows    int
	logger         *zerolog.Logger
}

func NewSheetsService(ctx context.Context, credentialsFile string, cfg config.SheetsConfig, logger *zerolog.Logger) (*SheetsService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newWithService(srv, cfg, logger), nil
}

func newWithService(srv *sheets.Service, cfg config.SheetsConfig, logger *zerolog.Logger) *SheetsService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	limit := rate.Inf
	if cfg.RequestsPerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMin))
	}
	burst := cfg.RequestsPerMin
	if burst <= 0 {
		burst = 1
	}

	s := &SheetsService{
		service:        srv,
		retrier:        NewRetrier(cfg, logger),
		limiter:        rate.NewLimiter(limit, burst),
		writeChunkRows: cfg.WriteChunkRows,
		defaultRows:    cfg.DefaultSheetRows,
		logger:         logger,
	}
	if s.writeChunkRows <= 0 {
		s.writeChunkRows = 5000
	}
	if s.defaultRows <= 0 {
		s.defaultRows = 1000
	}
	return s
}

// call paces and retries a single Sheets request.
func call[T any](ctx context.Context, s *SheetsService, name string, op func(context.Context) (T, error)) (T, error) {
	return ExecuteWithRetry(ctx, s.retrier, name, func(ctx context.Context) (T, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		return op(ctx)
	})
}

// TestConnection checks the spreadsheet is reachable with the current credentials.
func (s *SheetsService) TestConnection(ctx context.Context, spreadsheetID string) error {
	_, err := call(ctx, s, "test connection", func(ctx context.Context) (*sheets.Spreadsheet, error) {
		return s.service.Spreadsheets.Get(spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// CreateSpreadsheet creates an empty spreadsheet and returns its id.
func (s *SheetsService) CreateSpreadsheet(ctx context.Context, title string) (string, error) {
	created, err := call(ctx, s, "create spreadsheet", func(ctx context.Context) (*sheets.Spreadsheet, error) {
		return s.service.Spreadsheets.Create(&sheets.Spreadsheet{
			Properties: &sheets.SpreadsheetProperties{Title: title},
		}).Context(ctx).Do()
	})
	if err != nil {
		return "", err
	}
	s.logger.Info().Str("spreadsheet_id", created.SpreadsheetId).Str("title", title).Msg("spreadsheet created")
	return created.SpreadsheetId, nil
}

func (s *SheetsService) sheetProperties(ctx context.Context, spreadsheetID string) ([]*sheets.SheetProperties, error) {
	resp, err := call(ctx, s, "get spreadsheet", func(ctx context.Context) (*sheets.Spreadsheet, error) {
		return s.service.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	props := make([]*sheets.SheetProperties, 0, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			props = append(props, sh.Properties)
		}
	}
	return props, nil
}

// ListSheets returns tab titles in spreadsheet order.
func (s *SheetsService) ListSheets(ctx context.Context, spreadsheetID string) ([]string, error) {
	props, err := s.sheetProperties(ctx, spreadsheetID)
	if err != nil {
		return nil, err
	}
	titles := make([]string, len(props))
	for i, p := range props {
		titles[i] = p.Title
	}
	return titles, nil
}

func (s *SheetsService) DeleteSheet(ctx context.Context, spreadsheetID, title string) error {
	props, err := s.sheetProperties(ctx, spreadsheetID)
	if err != nil {
		return err
	}
	p := findSheet(props, title)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrSheetNotFound, title)
	}

	_, err = call(ctx, s, "delete sheet", func(ctx context.Context) (*sheets.BatchUpdateSpreadsheetResponse, error) {
		return s.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{DeleteSheet: &sheets.DeleteSheetRequest{SheetId: p.SheetId}}},
		}).Context(ctx).Do()
	})
	return err
}

// WriteAndFormatSheet replaces the contents of sheetName with header and rows
// and applies the report formatting.
func (s *SheetsService) WriteAndFormatSheet(ctx context.Context, spreadsheetID, sheetName string, header []interface{}, rows [][]interface{}, numericColumns []string) error {
	totalRows := int64(len(rows) + 1)
	gridRows := totalRows
	if gridRows < int64(s.defaultRows) {
		gridRows = int64(s.defaultRows)
	}
	gridCols := int64(len(header))
	if gridCols < 26 {
		gridCols = 26
	}

	sheetID, err := s.ensureSheet(ctx, spreadsheetID, sheetName, gridRows, gridCols)
	if err != nil {
		return fmt.Errorf("ensure sheet %q: %w", sheetName, err)
	}

	_, err = call(ctx, s, "clear sheet", func(ctx context.Context) (*sheets.ClearValuesResponse, error) {
		return s.service.Spreadsheets.Values.Clear(spreadsheetID, a1(sheetName, dataClearRange), &sheets.ClearValuesRequest{}).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("clear sheet %q: %w", sheetName, err)
	}

	data := []*sheets.ValueRange{{Range: a1(sheetName, "A1"), Values: [][]interface{}{header}}}
	for offset := 0; offset < len(rows); offset += s.writeChunkRows {
		end := offset + s.writeChunkRows
		if end > len(rows) {
			end = len(rows)
		}
		data = append(data, &sheets.ValueRange{
			Range:  a1(sheetName, fmt.Sprintf("A%d", offset+2)),
			Values: rows[offset:end],
		})
	}

	_, err = call(ctx, s, "write values", func(ctx context.Context) (*sheets.BatchUpdateValuesResponse, error) {
		return s.service.Spreadsheets.Values.BatchUpdate(spreadsheetID, &sheets.BatchUpdateValuesRequest{
			ValueInputOption: "USER_ENTERED",
			Data:             data,
		}).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("write sheet %q: %w", sheetName, err)
	}

	_, err = call(ctx, s, "format sheet", func(ctx context.Context) (*sheets.BatchUpdateSpreadsheetResponse, error) {
		return s.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: formatRequests(sheetID, int64(len(header)), totalRows, numericColumns),
		}).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("format sheet %q: %w", sheetName, err)
	}

	metrics.AddRowsWritten(len(rows))
	s.logger.Debug().
		Str("spreadsheet_id", spreadsheetID).
		Str("sheet", sheetName).
		Int("rows", len(rows)).
		Msg("sheet written")
	return nil
}

func (s *SheetsService) ensureSheet(ctx context.Context, spreadsheetID, title string, rows, cols int64) (int64, error) {
	props, err := s.sheetProperties(ctx, spreadsheetID)
	if err != nil {
		return 0, err
	}

	if p := findSheet(props, title); p != nil {
		grid := p.GridProperties
		if grid != nil && grid.RowCount >= rows && grid.ColumnCount >= cols {
			return p.SheetId, nil
		}
		_, err := call(ctx, s, "resize sheet", func(ctx context.Context) (*sheets.BatchUpdateSpreadsheetResponse, error) {
			return s.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
				Requests: []*sheets.Request{{
					UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
						Properties: &sheets.SheetProperties{
							SheetId:        p.SheetId,
							GridProperties: &sheets.GridProperties{RowCount: rows, ColumnCount: cols},
						},
						Fields: "gridProperties.rowCount,gridProperties.columnCount",
					},
				}},
			}).Context(ctx).Do()
		})
		return p.SheetId, err
	}

	resp, err := call(ctx, s, "add sheet", func(ctx context.Context) (*sheets.BatchUpdateSpreadsheetResponse, error) {
		return s.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{
						Title:          title,
						GridProperties: &sheets.GridProperties{RowCount: rows, ColumnCount: cols},
					},
				},
			}},
		}).Context(ctx).Do()
	})
	if err != nil {
		return 0, err
	}
	for _, reply := range resp.Replies {
		if reply.AddSheet != nil && reply.AddSheet.Properties != nil {
			return reply.AddSheet.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("add sheet %q: empty reply", title)
}

func formatRequests(sheetID, cols, rows int64, numericColumns []string) []*sheets.Request {
	reqs := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{SheetId: sheetID, StartRowIndex: 0, EndRowIndex: 1, StartColumnIndex: 0, EndColumnIndex: cols},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						BackgroundColor:     &sheets.Color{Red: 0.85, Green: 0.85, Blue: 0.85},
						HorizontalAlignment: "CENTER",
						TextFormat:          &sheets.TextFormat{Bold: true},
					},
				},
				Fields: "userEnteredFormat(backgroundColor,textFormat,horizontalAlignment)",
			},
		},
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId:        sheetID,
					GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}

	if rows > 1 {
		reqs = append(reqs, &sheets.Request{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{SheetId: sheetID, StartRowIndex: 1, EndRowIndex: rows, StartColumnIndex: 0, EndColumnIndex: cols},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						VerticalAlignment: "MIDDLE",
						WrapStrategy:      "CLIP",
					},
				},
				Fields: "userEnteredFormat(verticalAlignment,wrapStrategy)",
			},
		})
		for _, col := range numericColumns {
			idx := ColumnIndex(col)
			if idx < 0 {
				continue
			}
			reqs = append(reqs, &sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{SheetId: sheetID, StartRowIndex: 1, EndRowIndex: rows, StartColumnIndex: idx, EndColumnIndex: idx + 1},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							NumberFormat:        &sheets.NumberFormat{Type: "NUMBER", Pattern: "#,##0.##"},
							HorizontalAlignment: "RIGHT",
						},
					},
					Fields: "userEnteredFormat(numberFormat,horizontalAlignment)",
				},
			})
		}
	}

	reqs = append(reqs, &sheets.Request{
		AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
			Dimensions: &sheets.DimensionRange{SheetId: sheetID, Dimension: "COLUMNS", StartIndex: 0, EndIndex: cols},
		},
	})
	return reqs
}

// ColumnIndex converts a column letter such as "H" or "AB" to a zero-based index.
func ColumnIndex(col string) int64 {
	col = strings.ToUpper(strings.TrimSpace(col))
	if col == "" {
		return -1
	}
	var idx int64
	for _, r := range col {
		if r < 'A' || r > 'Z' {
			return -1
		}
		idx = idx*26 + int64(r-'A'+1)
	}
	return idx - 1
}

func findSheet(props []*sheets.SheetProperties, title string) *sheets.SheetProperties {
	for _, p := range props {
		if p.Title == title {
			return p
		}
	}
	return nil
}

func a1(sheetName, ref string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(sheetName, "'", "''"), ref)
}
