package source

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/sheets/v4"

	"signupbot/internal/signup"
	logx "signupbot/pkg/logx"
)

const (
	defaultNameContains = "Responses"
	spreadsheetMime     = "application/vnd.google-apps.spreadsheet"
)

var monthDay = regexp.MustCompile(`(\d{1,2})/(\d{1,2})`)

// File is a Drive listing entry.
type File struct {
	ID          string
	Name        string
	CreatedTime time.Time
}

// Drive finds the newest responses sheet in a folder and reads it. A new
// weekly form lands in the same folder, so the choice is re-resolved every
// Rediscover interval.
type Drive struct {
	drive  *drive.Service
	sheets *sheets.Service

	folder   string
	contains string
	rng      string
	every    time.Duration
	now      func() time.Time
	log      logx.Logger

	mu         sync.Mutex
	current    File
	resolvedAt time.Time
}

func NewDrive(ctx context.Context, cfg Config, log logx.Logger) (*Drive, error) {
	folder := strings.TrimSpace(cfg.FolderID)
	if folder == "" {
		return nil, fmt.Errorf("%w: folder_id is empty", ErrNoSpreadsheet)
	}
	opts, err := clientOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	dsvc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("source: drive client: %w", err)
	}
	ssvc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("source: sheets client: %w", err)
	}
	contains := cfg.NameContains
	if strings.TrimSpace(contains) == "" {
		contains = defaultNameContains
	}
	return &Drive{
		drive:    dsvc,
		sheets:   ssvc,
		folder:   folder,
		contains: contains,
		rng:      strings.TrimSpace(cfg.Range),
		every:    cfg.Rediscover,
		now:      time.Now,
		log:      log,
	}, nil
}

func (d *Drive) Name() string { return "drive:" + d.folder }

// Current returns the last resolved file (zero before the first fetch).
func (d *Drive) Current() File {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Drive) Fetch(ctx context.Context) (signup.Table, error) {
	f, err := d.resolve(ctx)
	if err != nil {
		return signup.Table{}, err
	}
	return readSheet(ctx, d.sheets, f.ID, d.rng)
}

func (d *Drive) resolve(ctx context.Context) (File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if d.current.ID != "" && (d.every <= 0 || now.Sub(d.resolvedAt) < d.every) {
		return d.current, nil
	}

	files, err := d.list(ctx)
	if err == nil {
		if f, ok := PickLatestResponses(files, d.contains, now.Year()); ok {
			if f.ID != d.current.ID {
				d.log.Info("responses sheet selected", logx.String("id", f.ID), logx.String("name", f.Name))
			}
			d.current = f
			d.resolvedAt = now
			return f, nil
		}
		err = fmt.Errorf("%w: no file containing %q in folder %s", ErrNoSpreadsheet, d.contains, d.folder)
	}
	if d.current.ID != "" {
		d.log.Warn("rediscovery failed; keeping current sheet", logx.String("id", d.current.ID), logx.Err(err))
		d.resolvedAt = now
		return d.current, nil
	}
	return File{}, err
}

func (d *Drive) list(ctx context.Context) ([]File, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false and mimeType = '%s'",
		strings.ReplaceAll(d.folder, "'", `\'`), spreadsheetMime)

	var out []File
	token := ""
	for {
		call := d.drive.Files.List().
			Q(q).
			PageSize(1000).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Fields("nextPageToken, files(id, name, createdTime)").
			Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}
		res, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("drive: list %s: %w", d.folder, err)
		}
		for _, f := range res.Files {
			created, _ := time.Parse(time.RFC3339, f.CreatedTime)
			out = append(out, File{ID: f.Id, Name: f.Name, CreatedTime: created})
		}
		if res.NextPageToken == "" {
			return out, nil
		}
		token = res.NextPageToken
	}
}

// PickLatestResponses chooses among files whose name contains contains the
// one with the latest m/d date in its name, read as a date in year. Names
// without a valid date count as January 1. Ties go to the newest
// CreatedTime, then to the earlier listing position.
func PickLatestResponses(files []File, contains string, year int) (File, bool) {
	var (
		best     File
		bestDate time.Time
		found    bool
	)
	for _, f := range files {
		if !strings.Contains(f.Name, contains) {
			continue
		}
		date := nameDate(f.Name, year)
		if !found || date.After(bestDate) || (date.Equal(bestDate) && f.CreatedTime.After(best.CreatedTime)) {
			best, bestDate, found = f, date, true
		}
	}
	return best, found
}

func nameDate(name string, year int) time.Time {
	fallback := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	m := monthDay.FindStringSubmatch(name)
	if m == nil {
		return fallback
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if month < 1 || month > 12 || t.Day() != day {
		return fallback
	}
	return t
}
