// Package archive ships a finished digest to durable storage, records the
// run, and announces it. Every step is optional; a nil collaborator skips it.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-listing-crawler/internal/crawler"
)

// DefaultContentType is used when Config.ContentType is empty.
const DefaultContentType = "text/plain; charset=utf-8"

const tracerName = "github.com/JakeFAU/news-listing-crawler/internal/archive"

// Config controls object naming and notification routing.
type Config struct {
	Prefix      string
	ContentType string
	Topic       string
}

// Notification is the JSON payload published for every archived run.
type Notification struct {
	RunID     string    `json:"run_id"`
	Site      string    `json:"site"`
	BlobURI   string    `json:"blob_uri"`
	Hash      string    `json:"hash"`
	Bytes     int64     `json:"bytes"`
	Articles  int       `json:"articles"`
	Pages     int       `json:"pages"`
	Timestamp time.Time `json:"timestamp"`
}

// Result reports what Archive did.
type Result struct {
	Hash      string
	Bytes     int64
	BlobURI   string
	Recorded  bool
	MessageID string
}

// Archiver runs the post-crawl pipeline.
type Archiver struct {
	cfg       Config
	blobs     crawler.BlobStore
	runs      crawler.RunStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	logger    *zap.Logger
}

// New constructs an Archiver. hasher is required; blobs, runs and publisher
// may be nil.
func New(
	cfg Config,
	blobs crawler.BlobStore,
	runs crawler.RunStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	logger *zap.Logger,
) *Archiver {
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		cfg:       cfg,
		blobs:     blobs,
		runs:      runs,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		logger:    logger,
	}
}

// Enabled reports whether any archive step is configured.
func (a *Archiver) Enabled() bool {
	return a.blobs != nil || a.runs != nil || (a.publisher != nil && a.cfg.Topic != "")
}

// Archive hashes summary.OutputPath, uploads it, records the run, and
// publishes a Notification, stopping at the first failing step.
func (a *Archiver) Archive(ctx context.Context, summary crawler.RunSummary) (res Result, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "archive.Archive", trace.WithAttributes(
		attribute.String("crawler.run_id", summary.RunID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if summary.OutputPath == "" {
		return res, errors.New("summary has no output path")
	}
	if a.hasher == nil {
		return res, errors.New("no hasher configured")
	}
	logger := a.logger.With(zap.String("run_id", summary.RunID), zap.String("path", summary.OutputPath))

	f, err := os.Open(summary.OutputPath)
	if err != nil {
		return res, fmt.Errorf("open output: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logger.Warn("close output", zap.Error(cerr))
		}
	}()

	res.Hash, res.Bytes, err = a.hasher.HashReader(f)
	if err != nil {
		return res, err
	}

	if a.blobs != nil {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return res, fmt.Errorf("rewind output: %w", err)
		}
		res.BlobURI, err = a.blobs.PutObject(ctx, a.objectPath(summary.OutputPath), a.cfg.ContentType, f)
		if err != nil {
			return res, fmt.Errorf("upload digest: %w", err)
		}
		logger.Info("digest uploaded", zap.String("uri", res.BlobURI), zap.Int64("bytes", res.Bytes))
	}

	if a.runs != nil {
		record := crawler.RunRecord{
			ID:           summary.RunID,
			Site:         summary.Site,
			StartedAt:    summary.StartedAt,
			FinishedAt:   summary.FinishedAt,
			PageCount:    summary.PageCount,
			PagesFetched: summary.PagesFetched,
			Articles:     summary.Articles,
			ContentHash:  res.Hash,
			BlobURI:      res.BlobURI,
		}
		if err := a.runs.RecordRun(ctx, record); err != nil {
			return res, fmt.Errorf("record run: %w", err)
		}
		res.Recorded = true
	}

	if a.publisher != nil && a.cfg.Topic != "" {
		note := Notification{
			RunID:     summary.RunID,
			Site:      summary.Site,
			BlobURI:   res.BlobURI,
			Hash:      res.Hash,
			Bytes:     res.Bytes,
			Articles:  summary.Articles,
			Pages:     summary.PagesFetched,
			Timestamp: a.now(),
		}
		res.MessageID, err = a.publisher.Publish(ctx, a.cfg.Topic, note)
		if err != nil {
			return res, fmt.Errorf("publish notification: %w", err)
		}
		logger.Info("run announced", zap.String("topic", a.cfg.Topic), zap.String("message_id", res.MessageID))
	}

	return res, nil
}

// objectPath joins the prefix and the output file name with forward
// slashes, as object stores expect.
func (a *Archiver) objectPath(outputPath string) string {
	return path.Join(a.cfg.Prefix, filepath.Base(outputPath))
}

func (a *Archiver) now() time.Time {
	if a.clock == nil {
		return time.Now().UTC()
	}
	return a.clock.Now()
}
