// Package article rebuilds plain-text articles from listing-page post blocks.
//
// Listing markup carries no semantic roles for the byline, dateline, or lead
// sentence, so the extractor works positionally over the paragraphs of each
// post's content root:
//
//	p[0]   byline, written as-is
//	p[1]   dateline ("NAIROBI, Kenya") joining the byline line, or the lead sentence
//	p[2]   lead sentence, or the continuation of the lead started at p[1]
//	p[3:]  body, each trimmed and joined with single spaces
//
// The spacing is asymmetric on purpose and must stay byte-exact.
package article

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// datelinePattern matches "UPPERCASE, one or two words". \w is widened to the
// Unicode letter and number classes and a single trailing newline is tolerated
// before the end anchor.
var datelinePattern = regexp.MustCompile(`^[A-Z]+, (?:[\p{L}\p{N}_]+ ?){1,2}\n?$`)

// Selectors locate the parts of a post block.
type Selectors struct {
	Post      string `mapstructure:"post"`
	Title     string `mapstructure:"title"`
	Content   string `mapstructure:"content"`
	Paragraph string `mapstructure:"paragraph"`
}

// DefaultSelectors returns the selectors for WordPress-style listing pages.
func DefaultSelectors() Selectors {
	return Selectors{
		Post:      ".post",
		Title:     "h2.entry-title",
		Content:   ".entry-content",
		Paragraph: "p",
	}
}

// Extractor implements crawler.Extractor.
type Extractor struct {
	sel Selectors
}

// NewExtractor creates an Extractor; blank selectors fall back to DefaultSelectors.
func NewExtractor(sel Selectors) *Extractor {
	def := DefaultSelectors()
	if strings.TrimSpace(sel.Post) == "" {
		sel.Post = def.Post
	}
	if strings.TrimSpace(sel.Title) == "" {
		sel.Title = def.Title
	}
	if strings.TrimSpace(sel.Content) == "" {
		sel.Content = def.Content
	}
	if strings.TrimSpace(sel.Paragraph) == "" {
		sel.Paragraph = def.Paragraph
	}
	return &Extractor{sel: sel}
}

// Extract returns one article per post block, in document order.
func (e *Extractor) Extract(doc *goquery.Document) []string {
	if doc == nil {
		return []string{}
	}
	posts := doc.Find(e.sel.Post)
	articles := make([]string, 0, posts.Length())
	posts.Each(func(_ int, post *goquery.Selection) {
		articles = append(articles, e.Article(post))
	})
	return articles
}

// Article renders a single post block.
func (e *Extractor) Article(post *goquery.Selection) string {
	var b strings.Builder
	if title := post.Find(e.sel.Title).First(); title.Length() > 0 {
		b.WriteString(title.Text())
		b.WriteByte('\n')
	}
	content := post.Find(e.sel.Content).First()
	if content.Length() == 0 {
		return b.String()
	}
	writeParagraphs(&b, content.Find(e.sel.Paragraph).Map(func(_ int, p *goquery.Selection) string {
		return p.Text()
	}))
	return b.String()
}

func writeParagraphs(b *strings.Builder, paragraphs []string) {
	hadDateline := false
	for i, text := range paragraphs {
		switch i {
		case 0:
			b.WriteString(text)
		case 1:
			hadDateline = IsDateline(text)
			if hadDateline {
				b.WriteByte(' ')
				b.WriteString(text)
				b.WriteByte('\n')
			} else {
				b.WriteByte('\n')
				b.WriteString(text)
			}
		case 2:
			if !hadDateline {
				b.WriteByte(' ')
			}
			b.WriteString(text)
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
			b.WriteString(strings.TrimSpace(text))
		}
	}
}

// IsDateline reports whether text looks like a "LOCATION, region" marker.
func IsDateline(text string) bool {
	return datelinePattern.MatchString(text)
}
