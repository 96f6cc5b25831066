package crawler

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// FetchRequest captures everything needed to fetch one listing page.
type FetchRequest struct {
	URL    string
	Params url.Values
}

// Target returns the request URL with Params merged into its query string.
// A request without params yields URL unchanged.
func (r FetchRequest) Target() (string, error) {
	if len(r.Params) == 0 {
		return r.URL, nil
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", r.URL, err)
	}
	q := u.Query()
	for k, vs := range r.Params {
		q[k] = append([]string(nil), vs...)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Batch is the set of articles extracted from a single listing page.
type Batch struct {
	Page     int
	Articles []string
}

// RunSummary describes a finished (or aborted) crawl run.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	Site         string    `json:"site"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	PageCount    int       `json:"page_count"`
	PagesFetched int       `json:"pages_fetched"`
	Articles     int       `json:"articles"`
	OutputPath   string    `json:"output_path,omitempty"`
}

// RunRecord is persisted once per archived run.
type RunRecord struct {
	ID           string
	Site         string
	StartedAt    time.Time
	FinishedAt   time.Time
	PageCount    int
	PagesFetched int
	Articles     int
	ContentHash  string
	BlobURI      string
}
