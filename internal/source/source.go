package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signupbot/internal/signup"
	logx "signupbot/pkg/logx"
)

// Source yields the current table on demand.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (signup.Table, error)
}

var ErrNoSpreadsheet = errors.New("source: no spreadsheet to read")

// DefaultExcludeKeywords drops placeholder rows the form owner keeps at the
// top of the sheet.
var DefaultExcludeKeywords = []string{"Sunday Guest", "Sunday Renewal", "Saturday Guest", "Saturday Renewal"}

type Config struct {
	// Driver is "sheets", "drive", "csv" or "file".
	Driver string

	// sheets / drive
	CredentialsFile string
	CredentialsJSON []byte
	SpreadsheetID   string
	Range           string
	FolderID        string
	NameContains    string
	Rediscover      time.Duration
	Endpoint        string

	// csv / file
	URL      string
	Path     string
	CacheDir string

	Timeout         time.Duration
	ExcludeKeywords []string
}

// Open builds the configured driver wrapped with row filtering.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Source, error) {
	var (
		src Source
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sheets", "":
		src, err = NewSheets(ctx, cfg, log)
	case "drive":
		src, err = NewDrive(ctx, cfg, log)
	case "csv", "http":
		src, err = NewCSV(cfg, log)
	case "file":
		src, err = NewFile(cfg.Path)
	default:
		return nil, fmt.Errorf("source: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	kw := cfg.ExcludeKeywords
	if kw == nil {
		kw = DefaultExcludeKeywords
	}
	return Filtered(src, kw), nil
}

type filtered struct {
	Source
	keywords []string
}

// Filtered wraps src so fetched tables drop blank rows and rows where any
// cell contains one of keywords (case-insensitive).
func Filtered(src Source, keywords []string) Source {
	lower := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lower = append(lower, k)
		}
	}
	return &filtered{Source: src, keywords: lower}
}

func (f *filtered) Fetch(ctx context.Context) (signup.Table, error) {
	t, err := f.Source.Fetch(ctx)
	if err != nil {
		return signup.Table{}, err
	}
	return FilterRows(t, f.keywords), nil
}

// FilterRows applies the blank-row and keyword rules. keywords must already
// be lower-cased.
func FilterRows(t signup.Table, keywords []string) signup.Table {
	return t.Filter(func(r signup.Row) bool {
		if r.Blank() {
			return false
		}
		for _, v := range r {
			lv := strings.ToLower(v)
			for _, k := range keywords {
				if strings.Contains(lv, k) {
					return false
				}
			}
		}
		return true
	})
}

// tableFromValues converts a values grid (first row is the header) into a
// table. A grid with no rows at all is an empty sheet.
func tableFromValues(values [][]string) signup.Table {
	if len(values) == 0 {
		return signup.Table{}
	}
	return signup.NewTable(values[0], values[1:])
}
