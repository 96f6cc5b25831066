package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/news-listing-crawler/internal/metrics"
)

// DefaultPageParam is the query parameter carrying the 1-based page index.
const DefaultPageParam = "paged"

const tracerName = "github.com/JakeFAU/news-listing-crawler/internal/crawler"

// Config controls Orchestrator behavior.
type Config struct {
	// BaseURL is the listing's first page; later pages add PageParam to it.
	BaseURL   string
	PageParam string
	// IncludeLastPage extends the crawled range from [2, count) to [2, count].
	IncludeLastPage bool
}

// Orchestrator drives one crawl: page 1 synchronously, then every remaining
// page concurrently, handing each page's articles to the sink as one batch.
type Orchestrator struct {
	cfg       Config
	fetcher   Fetcher
	counter   PageCounter
	extractor Extractor
	sink      Sink
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewOrchestrator constructs an Orchestrator. clock, ids and logger may be nil.
func NewOrchestrator(
	cfg Config,
	fetcher Fetcher,
	counter PageCounter,
	extractor Extractor,
	sink Sink,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.PageParam == "" {
		cfg.PageParam = DefaultPageParam
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		fetcher:   fetcher,
		counter:   counter,
		extractor: extractor,
		sink:      sink,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// Run executes the crawl. The returned summary is populated even on failure
// with whatever was completed before the error.
func (o *Orchestrator) Run(ctx context.Context) (RunSummary, error) {
	summary := RunSummary{
		Site:      metrics.SanitizeSite(o.cfg.BaseURL),
		StartedAt: o.now(),
	}
	if err := o.validate(); err != nil {
		return summary, err
	}
	if o.ids != nil {
		id, err := o.ids.NewID()
		if err != nil {
			return summary, fmt.Errorf("generate run id: %w", err)
		}
		summary.RunID = id
	}
	logger := o.logger.With(zap.String("run_id", summary.RunID), zap.String("site", summary.Site))

	ctx, span := o.tracer.Start(ctx, "crawler.Run", trace.WithAttributes(
		attribute.String("crawler.run_id", summary.RunID),
		attribute.String("crawler.site", summary.Site),
	))

	var fetched, articles atomic.Int64
	finish := func(err error) (RunSummary, error) {
		summary.PagesFetched = int(fetched.Load())
		summary.Articles = int(articles.Load())
		summary.FinishedAt = o.now()
		span.SetAttributes(
			attribute.Int("crawler.page_count", summary.PageCount),
			attribute.Int("crawler.pages_fetched", summary.PagesFetched),
			attribute.Int("crawler.articles", summary.Articles),
		)
		endSpan(span, err)
		status := "succeeded"
		switch {
		case errors.Is(err, context.Canceled):
			status = "canceled"
		case err != nil:
			status = "failed"
		}
		metrics.ObserveRun(status)
		return summary, err
	}

	firstCtx, firstSpan := o.startPage(ctx, 1)
	first, err := o.fetchPage(firstCtx, 1)
	if err != nil {
		endSpan(firstSpan, err)
		return finish(err)
	}
	fetched.Add(1)

	count, err := o.counter.Count(first)
	if err != nil {
		err = fmt.Errorf("detect page count: %w", err)
		endSpan(firstSpan, err)
		return finish(err)
	}
	summary.PageCount = count
	logger.Info("downloading articles", zap.Int("page_count", count))

	n, err := o.extractAndAppend(firstCtx, 1, first)
	articles.Add(int64(n))
	endSpan(firstSpan, err)
	if err != nil {
		return finish(err)
	}

	last := count
	if o.cfg.IncludeLastPage {
		last = count + 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for page := 2; page < last; page++ {
		g.Go(func() (err error) {
			pctx, pspan := o.startPage(gctx, page)
			defer func() { endSpan(pspan, err) }()

			doc, err := o.fetchPage(pctx, page)
			if err != nil {
				logger.Error("page fetch failed", zap.Int("page", page), zap.Error(err))
				return err
			}
			fetched.Add(1)
			n, err := o.extractAndAppend(pctx, page, doc)
			articles.Add(int64(n))
			if err != nil {
				logger.Error("page append failed", zap.Int("page", page), zap.Error(err))
				return err
			}
			logger.Debug("page processed", zap.Int("page", page), zap.Int("articles", n))
			return nil
		})
	}
	return finish(g.Wait())
}

func (o *Orchestrator) validate() error {
	switch {
	case o.cfg.BaseURL == "":
		return errors.New("base url is required")
	case o.fetcher == nil:
		return errors.New("no fetcher configured")
	case o.counter == nil:
		return errors.New("no page counter configured")
	case o.extractor == nil:
		return errors.New("no extractor configured")
	case o.sink == nil:
		return errors.New("no sink configured")
	}
	return nil
}

// fetchPage fetches and parses one listing page. Page 1 carries no query parameter.
func (o *Orchestrator) fetchPage(ctx context.Context, page int) (*goquery.Document, error) {
	req := FetchRequest{URL: o.cfg.BaseURL}
	if page > 1 {
		req.Params = url.Values{o.cfg.PageParam: []string{strconv.Itoa(page)}}
	}
	resp, err := o.fetcher.Fetch(ctx, req)
	if err != nil {
		metrics.ObservePage(o.cfg.BaseURL, "error", 0, 0)
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	metrics.ObservePage(o.cfg.BaseURL, "ok", len(resp.Body), resp.Duration)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse page %d: %w", page, err)
	}
	return doc, nil
}

func (o *Orchestrator) extractAndAppend(ctx context.Context, page int, doc *goquery.Document) (int, error) {
	extracted := o.extractor.Extract(doc)
	metrics.ObserveArticles(o.cfg.BaseURL, len(extracted))
	if err := o.sink.Append(ctx, Batch{Page: page, Articles: extracted}); err != nil {
		return 0, fmt.Errorf("append page %d: %w", page, err)
	}
	return len(extracted), nil
}

func (o *Orchestrator) startPage(ctx context.Context, page int) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "crawler.page", trace.WithAttributes(attribute.Int("crawler.page", page)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (o *Orchestrator) now() time.Time {
	if o.clock == nil {
		return time.Now().UTC()
	}
	return o.clock.Now()
}
