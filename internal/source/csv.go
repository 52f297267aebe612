package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"signupbot/internal/signup"
	logx "signupbot/pkg/logx"
)

// CSV fetches a published CSV export over HTTP, honoring ETag and
// Last-Modified. Bodies are cached on disk under CacheDir so a 304 can be
// served after a restart.
type CSV struct {
	client   *http.Client
	url      string
	cacheDir string
	log      logx.Logger
}

type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewCSV(cfg Config, log logx.Logger) (*CSV, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("source: csv url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dir := cfg.CacheDir
	if dir == "" {
		dir = "./data/csv-cache"
	}
	return &CSV{client: &http.Client{Timeout: timeout}, url: u, cacheDir: dir, log: log}, nil
}

func (c *CSV) Name() string { return "csv:" + redactURL(c.url) }

func (c *CSV) Fetch(ctx context.Context) (signup.Table, error) {
	body, err := c.fetch(ctx)
	if err != nil {
		return signup.Table{}, err
	}
	return parseCSV(bytes.NewReader(body))
}

func (c *CSV) fetch(ctx context.Context) ([]byte, error) {
	dir := c.cachePath()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("csv: cache dir: %w", err)
	}
	meta, _ := loadCacheMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.csv"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("csv: get %s: %w", redactURL(c.url), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("csv: read body: %w", err)
		}
		next := cacheEntry{
			URL:          c.url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(dir, next, body); err != nil {
			c.log.Warn("csv cache save failed", logx.Err(err))
		}
		return body, nil
	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, errors.New("csv: 304 Not Modified without a cached body")
		}
		c.log.Debug("csv not modified; using cache")
		return cached, nil
	default:
		return nil, fmt.Errorf("csv: get %s: %s", redactURL(c.url), resp.Status)
	}
}

func (c *CSV) cachePath() string {
	sum := sha256.Sum256([]byte(c.url))
	return filepath.Join(c.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(dir string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(dir string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.csv"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// LocalFile reads the same CSV shape from disk on every fetch.
type LocalFile struct {
	path string
}

func NewFile(path string) (*LocalFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("source: file path is empty")
	}
	return &LocalFile{path: path}, nil
}

func (f *LocalFile) Name() string { return "file:" + f.path }

func (f *LocalFile) Fetch(ctx context.Context) (signup.Table, error) {
	if err := ctx.Err(); err != nil {
		return signup.Table{}, err
	}
	fh, err := os.Open(f.path)
	if err != nil {
		return signup.Table{}, fmt.Errorf("file: %w", err)
	}
	defer fh.Close()
	return parseCSV(fh)
}

func parseCSV(r io.Reader) (signup.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return signup.Table{}, fmt.Errorf("csv: parse: %w", err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}
	return tableFromValues(records), nil
}

// redactURL keeps scheme and host; published sheet URLs embed the document key.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
