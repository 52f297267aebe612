package source

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/sheets/v4"

	"signupbot/internal/signup"
	logx "signupbot/pkg/logx"
)

// Sheets reads one spreadsheet through the Sheets v4 values API.
type Sheets struct {
	svc *sheets.Service
	id  string
	rng string
	log logx.Logger
}

func NewSheets(ctx context.Context, cfg Config, log logx.Logger) (*Sheets, error) {
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, fmt.Errorf("%w: spreadsheet_id is empty", ErrNoSpreadsheet)
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Sheets{svc: svc, id: id, rng: strings.TrimSpace(cfg.Range), log: log}, nil
}

func newSheetsService(ctx context.Context, cfg Config) (*sheets.Service, error) {
	opts, err := clientOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("source: sheets client: %w", err)
	}
	return svc, nil
}

func (s *Sheets) Name() string { return "sheets:" + s.id }

func (s *Sheets) Fetch(ctx context.Context) (signup.Table, error) {
	return readSheet(ctx, s.svc, s.id, s.rng)
}

// readSheet returns the table in rng, or in the first worksheet when rng
// is empty.
func readSheet(ctx context.Context, svc *sheets.Service, id, rng string) (signup.Table, error) {
	if rng == "" {
		ss, err := svc.Spreadsheets.Get(id).Fields("sheets.properties.title").Context(ctx).Do()
		if err != nil {
			return signup.Table{}, fmt.Errorf("sheets: get %s: %w", id, err)
		}
		if len(ss.Sheets) == 0 || ss.Sheets[0].Properties == nil {
			return signup.Table{}, fmt.Errorf("sheets: %s has no worksheets", id)
		}
		rng = quoteSheetName(ss.Sheets[0].Properties.Title)
	}

	vr, err := svc.Spreadsheets.Values.Get(id, rng).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return signup.Table{}, fmt.Errorf("sheets: values %s!%s: %w", id, rng, err)
	}
	return tableFromValues(stringGrid(vr.Values)), nil
}

func stringGrid(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		cells := make([]string, len(row))
		for j, v := range row {
			switch x := v.(type) {
			case string:
				cells[j] = x
			case nil:
			default:
				cells[j] = fmt.Sprint(x)
			}
		}
		out[i] = cells
	}
	return out
}

// quoteSheetName makes a worksheet title safe to use as an A1 range.
func quoteSheetName(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
