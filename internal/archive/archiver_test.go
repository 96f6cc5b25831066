package archive_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/JakeFAU/news-listing-crawler/internal/archive"
	"github.com/JakeFAU/news-listing-crawler/internal/crawler"
	"github.com/JakeFAU/news-listing-crawler/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/news-listing-crawler/internal/publisher/memory"
	"github.com/JakeFAU/news-listing-crawler/internal/storage/memory"
)

const digest = "Habari\n----------\nKwaheri\n----------\n"

type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) RecordRun(ctx context.Context, record crawler.RunRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0) //nolint:wrapcheck
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func writeDigest(t *testing.T) crawler.RunSummary {
	t.Helper()
	out := filepath.Join(t.TempDir(), "taifa-leo-14-11-2023.txt")
	require.NoError(t, os.WriteFile(out, []byte(digest), 0o600))
	started := time.Date(2023, 11, 14, 6, 0, 0, 0, time.UTC)
	return crawler.RunSummary{
		RunID:        "run-1",
		Site:         "taifaleo.nation.co.ke",
		StartedAt:    started,
		FinishedAt:   started.Add(time.Minute),
		PageCount:    3,
		PagesFetched: 2,
		Articles:     2,
		OutputPath:   out,
	}
}

func TestArchiveAllSteps(t *testing.T) {
	t.Parallel()

	summary := writeDigest(t)
	wantHash, err := sha256.New().Hash([]byte(digest))
	require.NoError(t, err)

	blobs := memory.NewBlobStore()
	pub := pubmemory.New()
	runs := new(MockRunStore)
	runs.On("RecordRun", mock.Anything, mock.MatchedBy(func(r crawler.RunRecord) bool {
		return r.ID == "run-1" && r.ContentHash == wantHash &&
			r.BlobURI == "memory://digests/taifa-leo-14-11-2023.txt" &&
			r.PageCount == 3 && r.PagesFetched == 2 && r.Articles == 2
	})).Return(nil).Once()

	now := time.Date(2023, 11, 14, 6, 1, 5, 0, time.UTC)
	a := archive.New(archive.Config{Prefix: "digests", Topic: "digests"},
		blobs, runs, pub, sha256.New(), fixedClock{now}, nil)
	require.True(t, a.Enabled())

	res, err := a.Archive(context.Background(), summary)
	require.NoError(t, err)
	assert.Equal(t, wantHash, res.Hash)
	assert.Equal(t, int64(len(digest)), res.Bytes)
	assert.True(t, res.Recorded)
	assert.Equal(t, "memory-1", res.MessageID)

	body, contentType, ok := blobs.Object("digests/taifa-leo-14-11-2023.txt")
	require.True(t, ok)
	assert.Equal(t, digest, string(body))
	assert.Equal(t, archive.DefaultContentType, contentType)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "digests", msgs[0].Topic)
	assert.Equal(t, archive.Notification{
		RunID:     "run-1",
		Site:      "taifaleo.nation.co.ke",
		BlobURI:   res.BlobURI,
		Hash:      wantHash,
		Bytes:     int64(len(digest)),
		Articles:  2,
		Pages:     2,
		Timestamp: now,
	}, msgs[0].Payload)
	runs.AssertExpectations(t)
}

func TestArchivePublishesWithinCallerTrace(t *testing.T) {
	t.Parallel()

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("archive-test").Start(context.Background(), "crawl")
	defer span.End()

	pub := pubmemory.New()
	a := archive.New(archive.Config{Topic: "digests"}, nil, nil, pub, sha256.New(), nil, nil)

	_, err := a.Archive(ctx, writeDigest(t))
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].SpanContext.IsValid())
	assert.Equal(t, span.SpanContext().TraceID(), msgs[0].SpanContext.TraceID())
}

func TestArchiveHashOnly(t *testing.T) {
	t.Parallel()

	a := archive.New(archive.Config{}, nil, nil, nil, sha256.New(), nil, nil)
	assert.False(t, a.Enabled())

	res, err := a.Archive(context.Background(), writeDigest(t))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Hash)
	assert.Empty(t, res.BlobURI)
	assert.False(t, res.Recorded)
	assert.Empty(t, res.MessageID)
}

func TestArchivePublisherWithoutTopicIsSkipped(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	a := archive.New(archive.Config{}, nil, nil, pub, sha256.New(), nil, nil)
	assert.False(t, a.Enabled())

	_, err := a.Archive(context.Background(), writeDigest(t))
	require.NoError(t, err)
	assert.Empty(t, pub.Messages())
}

func TestArchiveStopsOnRecordFailure(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	runs := new(MockRunStore)
	runs.On("RecordRun", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	a := archive.New(archive.Config{Topic: "digests"}, memory.NewBlobStore(), runs, pub, sha256.New(), nil, nil)
	res, err := a.Archive(context.Background(), writeDigest(t))
	require.ErrorContains(t, err, "record run")
	assert.NotEmpty(t, res.BlobURI, "upload happens before the ledger write")
	assert.Empty(t, pub.Messages())
	runs.AssertExpectations(t)
}

func TestArchivePublishFailure(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	pub.FailWith(errors.New("broker down"))
	a := archive.New(archive.Config{Topic: "digests"}, nil, nil, pub, sha256.New(), nil, nil)

	_, err := a.Archive(context.Background(), writeDigest(t))
	require.ErrorContains(t, err, "publish notification")
}

func TestArchiveInputErrors(t *testing.T) {
	t.Parallel()

	a := archive.New(archive.Config{}, nil, nil, nil, sha256.New(), nil, nil)
	_, err := a.Archive(context.Background(), crawler.RunSummary{})
	require.ErrorContains(t, err, "no output path")

	_, err = a.Archive(context.Background(), crawler.RunSummary{OutputPath: filepath.Join(t.TempDir(), "missing.txt")})
	require.ErrorContains(t, err, "open output")

	noHasher := archive.New(archive.Config{}, nil, nil, nil, nil, nil, nil)
	_, err = noHasher.Archive(context.Background(), writeDigest(t))
	require.ErrorContains(t, err, "no hasher")
}
