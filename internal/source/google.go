package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Scopes requested for the service account.
var Scopes = []string{
	drive.DriveMetadataReadonlyScope,
	sheets.SpreadsheetsReadonlyScope,
}

// clientOptions builds the Google API options for cfg. With an Endpoint set
// and no credentials the client talks unauthenticated to that endpoint.
func clientOptions(ctx context.Context, cfg Config) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	ep := strings.TrimSpace(cfg.Endpoint)
	if ep != "" {
		opts = append(opts, option.WithEndpoint(ep))
	}

	key := cfg.CredentialsJSON
	if len(key) == 0 && strings.TrimSpace(cfg.CredentialsFile) != "" {
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("source: read credentials: %w", err)
		}
		key = b
	}
	if len(key) == 0 {
		if ep == "" {
			return nil, errors.New("source: credentials_file is required")
		}
		opts = append(opts, option.WithoutAuthentication())
		if cfg.Timeout > 0 {
			opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		return opts, nil
	}

	jwt, err := google.JWTConfigFromJSON(key, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("source: parse credentials: %w", err)
	}
	ts := jwt.TokenSource(ctx)
	if cfg.Timeout > 0 {
		// WithHTTPClient bypasses WithTokenSource, so the client carries the token itself.
		hc := oauth2.NewClient(ctx, ts)
		hc.Timeout = cfg.Timeout
		return append(opts, option.WithHTTPClient(hc)), nil
	}
	return append(opts, option.WithTokenSource(ts)), nil
}

// IsPermanent reports whether a Google API error will not go away by
// retrying (bad id, missing permission).
func IsPermanent(err error) bool {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return false
	}
	switch gErr.Code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
