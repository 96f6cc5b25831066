package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-listing-crawler/internal/crawler"
)

// Separator is written on its own line after every article.
const Separator = "----------"

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("output writer closed")

// Option configures a Writer.
type Option func(*Writer)

// WithPageOrder makes the writer release batches in ascending page order
// starting at first. Batches arriving early are held until their turn.
func WithPageOrder(first int) Option {
	return func(w *Writer) {
		w.ordered = true
		w.next = first
	}
}

// WithLogger sets the writer's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

type appendRequest struct {
	batch  crawler.Batch
	result chan error
}

// Writer is a crawler.Sink backed by a single goroutine that owns out. Each
// batch is rendered and written with one Write call, so batches never
// interleave regardless of how many goroutines call Append.
type Writer struct {
	out      io.Writer
	logger   *zap.Logger
	requests chan appendRequest
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once

	// owned by the loop goroutine
	ordered bool
	next    int
	pending map[int][]string
	err     error

	batches  atomic.Int64
	articles atomic.Int64
}

// NewWriter starts the writer loop. Callers must Close the writer.
func NewWriter(out io.Writer, opts ...Option) *Writer {
	w := &Writer{
		out:      out,
		logger:   zap.NewNop(),
		requests: make(chan appendRequest),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[int][]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.loop()
	return w
}

// Append hands a batch to the writer loop and waits for it to be accepted.
// In unordered mode the batch is written before Append returns. In ordered
// mode it may be held until earlier pages arrive.
func (w *Writer) Append(ctx context.Context, batch crawler.Batch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append canceled: %w", err)
	}
	req := appendRequest{batch: batch, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return fmt.Errorf("append canceled: %w", ctx.Err())
	case <-w.done:
		return ErrClosed
	case w.requests <- req:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("append canceled: %w", ctx.Err())
	case err := <-req.result:
		return err
	}
}

// Close stops the loop, flushes any held batches in page order, and returns
// the first write error encountered.
func (w *Writer) Close() error {
	w.once.Do(func() {
		close(w.quit)
	})
	<-w.done
	return w.err
}

// Batches reports how many batches have been written.
func (w *Writer) Batches() int {
	return int(w.batches.Load())
}

// Articles reports how many articles have been written.
func (w *Writer) Articles() int {
	return int(w.articles.Load())
}

func (w *Writer) loop() {
	defer close(w.done)
	for {
		select {
		case req := <-w.requests:
			req.result <- w.accept(req.batch)
		case <-w.quit:
			w.flushPending()
			return
		}
	}
}

func (w *Writer) accept(batch crawler.Batch) error {
	if w.err != nil {
		return w.err
	}
	if !w.ordered {
		return w.write(batch.Page, batch.Articles)
	}
	if batch.Page < w.next {
		w.logger.Warn("late batch written out of order", zap.Int("page", batch.Page), zap.Int("next", w.next))
		return w.write(batch.Page, batch.Articles)
	}
	w.pending[batch.Page] = batch.Articles
	for {
		articles, ok := w.pending[w.next]
		if !ok {
			return w.err
		}
		delete(w.pending, w.next)
		if err := w.write(w.next, articles); err != nil {
			return err
		}
		w.next++
	}
}

// flushPending writes whatever ordered mode is still holding, skipping gaps
// left by pages that never arrived.
func (w *Writer) flushPending() {
	if len(w.pending) == 0 {
		return
	}
	for _, page := range slices.Sorted(maps.Keys(w.pending)) {
		w.logger.Debug("flushing held batch", zap.Int("page", page))
		if err := w.write(page, w.pending[page]); err != nil {
			return
		}
		delete(w.pending, page)
	}
}

func (w *Writer) write(page int, articles []string) error {
	if w.err != nil {
		return w.err
	}
	if _, err := w.out.Write(render(articles)); err != nil {
		w.err = fmt.Errorf("write page %d: %w", page, err)
		return w.err
	}
	w.batches.Add(1)
	w.articles.Add(int64(len(articles)))
	return nil
}

func render(articles []string) []byte {
	var buf bytes.Buffer
	for _, article := range articles {
		buf.WriteString(article)
		buf.WriteString("\n" + Separator + "\n")
	}
	return buf.Bytes()
}
