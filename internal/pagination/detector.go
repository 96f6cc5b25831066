// Package pagination reads the total page count from a listing's pagination control.
package pagination

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultSelector targets the second-to-last item of the pagination list; the
// last item is the "next" control rather than a page number.
const DefaultSelector = "ul.pagination > li:nth-last-child(2)"

// ErrInvalidPageCount is returned when the pagination item is not a non-negative integer.
var ErrInvalidPageCount = errors.New("invalid page count")

// ParsePolicy decides what happens when the pagination item does not parse.
type ParsePolicy string

// Supported parse policies.
const (
	PolicyFail ParsePolicy = "fail"
	PolicyZero ParsePolicy = "zero"
)

// ParsePolicyFromString maps a config value onto a ParsePolicy.
func ParsePolicyFromString(raw string) (ParsePolicy, error) {
	switch ParsePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyFail:
		return PolicyFail, nil
	case PolicyZero:
		return PolicyZero, nil
	default:
		return "", fmt.Errorf("unknown pagination parse policy %q", raw)
	}
}

// Detector implements crawler.PageCounter.
type Detector struct {
	selector string
	policy   ParsePolicy
}

// NewDetector creates a Detector. An empty selector falls back to DefaultSelector.
func NewDetector(selector string, policy ParsePolicy) *Detector {
	if strings.TrimSpace(selector) == "" {
		selector = DefaultSelector
	}
	if policy == "" {
		policy = PolicyFail
	}
	return &Detector{selector: selector, policy: policy}
}

// Count returns the number of listing pages, or 0 when the page has no
// pagination control.
func (d *Detector) Count(doc *goquery.Document) (int, error) {
	if doc == nil {
		return 0, nil
	}
	item := doc.Find(d.selector).First()
	if item.Length() == 0 {
		return 0, nil
	}
	text := strings.TrimSpace(item.Text())
	n, err := strconv.Atoi(text)
	if err == nil && n >= 0 {
		return n, nil
	}
	if d.policy == PolicyZero {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPageCount, text)
}
