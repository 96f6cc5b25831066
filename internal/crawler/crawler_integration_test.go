package crawler_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-listing-crawler/internal/article"
	"github.com/JakeFAU/news-listing-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/news-listing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/news-listing-crawler/internal/output"
	"github.com/JakeFAU/news-listing-crawler/internal/pagination"
)

const paginationHTML = `<ul class="pagination"><li class="active">1</li><li><a href="?paged=2">2</a></li>` +
	`<li><a href="?paged=3">3</a></li><li><a href="?paged=2">Next</a></li></ul>`

func listingPage(page int, withPagination bool) string {
	var b strings.Builder
	b.WriteString("<html><body><main>")
	for i := 1; i <= 2; i++ {
		fmt.Fprintf(&b, `<div class="post"><h2 class="entry-title"><a href="#">Habari %d.%d</a></h2>`, page, i)
		fmt.Fprintf(&b, `<div class="entry-content"><p>Na Mwandishi %d</p><p>NAIROBI, Kenya</p>`, i)
		fmt.Fprintf(&b, `<p>Kisa cha ukurasa %d.</p></div></div>`, page)
	}
	b.WriteString("</main>")
	if withPagination {
		b.WriteString(paginationHTML)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func expectedArticle(page, i int) string {
	return fmt.Sprintf("Habari %d.%d\nNa Mwandishi %d NAIROBI, Kenya\nKisa cha ukurasa %d.\n", page, i, i, page) +
		"\n----------\n"
}

type fixtureSite struct {
	mu   sync.Mutex
	hits map[string]int
}

func (s *fixtureSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	paged := r.URL.Query().Get("paged")
	s.mu.Lock()
	s.hits[paged]++
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	switch paged {
	case "":
		_, _ = w.Write([]byte(listingPage(1, true)))
	case "2":
		_, _ = w.Write([]byte(listingPage(2, true)))
	case "3":
		_, _ = w.Write([]byte(listingPage(3, true)))
	default:
		http.NotFound(w, r)
	}
}

func (s *fixtureSite) hitCount(paged string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[paged]
}

func TestCrawlThreePageSite(t *testing.T) {
	site := &fixtureSite{hits: map[string]int{}}
	srv := httptest.NewServer(site)
	defer srv.Close()

	f, path, err := output.Create(t.TempDir(), output.FileName("fixture", time.Now(), ""))
	require.NoError(t, err)
	writer := output.NewWriter(f)

	o := crawler.NewOrchestrator(
		crawler.Config{BaseURL: srv.URL + "/"},
		collyfetcher.New(collyfetcher.Config{UserAgent: "fixture-agent", Timeout: 5 * time.Second}),
		pagination.NewDetector("", pagination.PolicyFail),
		article.NewExtractor(article.DefaultSelectors()),
		writer,
		nil,
		nil,
		zap.NewNop(),
	)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, f.Close())

	assert.Equal(t, 3, summary.PageCount)
	assert.Equal(t, 2, summary.PagesFetched)
	assert.Equal(t, 4, summary.Articles)
	assert.Equal(t, 1, site.hitCount(""))
	assert.Equal(t, 1, site.hitCount("2"))
	assert.Equal(t, 0, site.hitCount("3"), "the final page index is never fetched")

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := expectedArticle(1, 1) + expectedArticle(1, 2) + expectedArticle(2, 1) + expectedArticle(2, 2)
	assert.Equal(t, want, string(data))
}

func TestCrawlOrderedOutputWithLastPage(t *testing.T) {
	site := &fixtureSite{hits: map[string]int{}}
	srv := httptest.NewServer(site)
	defer srv.Close()

	var buf strings.Builder
	writer := output.NewWriter(&buf, output.WithPageOrder(1))

	o := crawler.NewOrchestrator(
		crawler.Config{BaseURL: srv.URL + "/", IncludeLastPage: true},
		collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}),
		pagination.NewDetector("", pagination.PolicyFail),
		article.NewExtractor(article.DefaultSelectors()),
		writer,
		nil,
		nil,
		nil,
	)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	assert.Equal(t, 3, summary.PagesFetched)
	assert.Equal(t, 1, site.hitCount("3"))

	var want strings.Builder
	for page := 1; page <= 3; page++ {
		want.WriteString(expectedArticle(page, 1) + expectedArticle(page, 2))
	}
	assert.Equal(t, want.String(), buf.String())
}

func TestCrawlUnitFailureKeepsEarlierOutput(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("paged") != "" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(listingPage(1, true)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var buf strings.Builder
	writer := output.NewWriter(&buf)
	o := crawler.NewOrchestrator(
		crawler.Config{BaseURL: srv.URL + "/"},
		collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}),
		pagination.NewDetector("", pagination.PolicyFail),
		article.NewExtractor(article.DefaultSelectors()),
		writer,
		nil,
		nil,
		nil,
	)

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	require.NoError(t, writer.Close())
	assert.Equal(t, expectedArticle(1, 1)+expectedArticle(1, 2), buf.String())
}
