// Package fetcher downloads the bankruptcy registry from the open data portal
// and turns the published CSV into registry records.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mmcdole/gofeed"
	"github.com/tidwall/gjson"
)

const (
	userAgent    = "BankruptcyWatchBot/1.0"
	maxMetaBytes = 4 << 20
	maxCSVBytes  = 64 << 20
	maxRetries   = 3
	retryWaitMin = 2 * time.Second
	retryWaitMax = 20 * time.Second
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Source locates the dataset on a CKAN portal.
type Source struct {
	BaseURL     string
	DatasetID   string
	FallbackURL string
}

// Resource is a downloadable file of the dataset.
type Resource struct {
	URL          string
	LastModified time.Time
	Fallback     bool
}

// Fetcher talks to the open data portal.
type Fetcher struct {
	client HTTPClient
	src    Source
	log    *slog.Logger
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, src Source, log *slog.Logger) *Fetcher {
	return &Fetcher{client: client, src: src, log: log}
}

// NewRetryingClient returns an HTTP client that retries transient failures.
// Each attempt is bounded by timeout. Certificate errors are never retried
// and TLS verification stays on.
func NewRetryingClient(timeout time.Duration, log *slog.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = retryWaitMin
	rc.RetryWaitMax = retryWaitMax
	rc.HTTPClient.Timeout = timeout
	rc.Logger = log
	return rc.StandardClient()
}

// ResolveResource asks the portal for the newest CSV resource of the dataset.
// When the metadata API fails, the configured fallback URL is returned.
func (f *Fetcher) ResolveResource(ctx context.Context) (Resource, error) {
	res, err := f.resolve(ctx)
	if err == nil {
		return res, nil
	}
	if f.src.FallbackURL == "" {
		return Resource{}, err
	}
	f.log.Warn("resolve dataset resource, using fallback", "dataset", f.src.DatasetID, "error", err)
	return Resource{URL: f.src.FallbackURL, Fallback: true}, nil
}

func (f *Fetcher) resolve(ctx context.Context) (Resource, error) {
	endpoint := f.src.BaseURL + "/api/3/action/package_show?id=" + url.QueryEscape(f.src.DatasetID)
	body, err := f.get(ctx, endpoint, maxMetaBytes)
	if err != nil {
		return Resource{}, fmt.Errorf("package_show: %w", err)
	}
	return ParsePackage(body)
}

// ParsePackage picks the last CSV resource from a CKAN package_show response.
// If no resource is marked as CSV, the last resource is used.
func ParsePackage(body []byte) (Resource, error) {
	if !gjson.ValidBytes(body) {
		return Resource{}, fmt.Errorf("package_show: invalid JSON")
	}
	if !gjson.GetBytes(body, "success").Bool() {
		msg := gjson.GetBytes(body, "error.message").String()
		return Resource{}, fmt.Errorf("package_show: request failed: %s", msg)
	}

	resources := gjson.GetBytes(body, "result.resources").Array()
	var picked gjson.Result
	for _, r := range resources {
		if r.Get("url").String() == "" {
			continue
		}
		if !picked.Exists() || isCSV(r) || !isCSV(picked) {
			picked = r
		}
	}
	if !picked.Exists() {
		return Resource{}, fmt.Errorf("package_show: dataset has no resources")
	}

	res := Resource{URL: picked.Get("url").String()}
	for _, field := range []string{"last_modified", "metadata_modified", "created"} {
		if t, ok := parseCKANTime(picked.Get(field).String()); ok {
			res.LastModified = t
			break
		}
	}
	return res, nil
}

func isCSV(r gjson.Result) bool {
	if strings.EqualFold(r.Get("format").String(), "csv") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(r.Get("url").String()), ".csv")
}

func parseCKANTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// SourceUpdated returns the newest entry time of the dataset's Atom activity
// feed. It is a cheap freshness probe for portals that omit last_modified.
func (f *Fetcher) SourceUpdated(ctx context.Context) (time.Time, error) {
	endpoint := f.src.BaseURL + "/feeds/dataset/" + url.PathEscape(f.src.DatasetID) + ".atom"
	body, err := f.get(ctx, endpoint, maxMetaBytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("dataset feed: %w", err)
	}
	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse dataset feed: %w", err)
	}

	var newest time.Time
	consider := func(t *time.Time) {
		if t != nil && t.After(newest) {
			newest = t.UTC()
		}
	}
	consider(feed.UpdatedParsed)
	for _, item := range feed.Items {
		consider(item.UpdatedParsed)
		consider(item.PublishedParsed)
	}
	if newest.IsZero() {
		return time.Time{}, fmt.Errorf("dataset feed has no timestamps")
	}
	return newest, nil
}

// Download fetches the registry CSV at rawURL and parses it.
func (f *Fetcher) Download(ctx context.Context, rawURL string) (*Parsed, error) {
	body, err := f.get(ctx, rawURL, maxCSVBytes)
	if err != nil {
		return nil, fmt.Errorf("download registry: %w", err)
	}
	decoded, charset, err := DecodeCSV(body)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseRegistry(strings.NewReader(decoded))
	if err != nil {
		return nil, err
	}
	f.log.Debug("downloaded registry",
		"url", rawURL, "bytes", len(body), "charset", charset,
		"records", len(parsed.Records), "skipped", parsed.Skipped)
	return parsed, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response exceeds %d bytes", limit)
	}
	return body, nil
}
