package crawler

import (
	"context"
	"io"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PageCounter reads the number of listing pages from the first page.
type PageCounter interface {
	Count(doc *goquery.Document) (int, error)
}

// Extractor converts a listing page into plain-text articles in document order.
type Extractor interface {
	Extract(doc *goquery.Document) []string
}

// Sink receives article batches. Implementations must be safe for concurrent use
// and must write each batch without interleaving it with another.
type Sink interface {
	Append(ctx context.Context, batch Batch) error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists run records.
type RunStore interface {
	RecordRun(ctx context.Context, record RunRecord) error
}

// Hasher computes content digests for archived output, returning the hex
// digest and the number of bytes read.
type Hasher interface {
	HashReader(r io.Reader) (string, int64, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
