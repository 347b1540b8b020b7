// Package classify decides whether a fetched listing page is usable before
// any extraction is attempted.
package classify

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

// Verdict is the classification of a fetched page.
type Verdict int

const (
	Ready Verdict = iota
	Blocked
	Empty
)

func (v Verdict) String() string {
	switch v {
	case Blocked:
		return "blocked"
	case Empty:
		return "empty"
	default:
		return "ready"
	}
}

// blockIndicators are lowercase substrings that mark challenge pages, access
// walls, and CAPTCHA interstitials.
var blockIndicators = []string{
	"verify you are a human",
	"verify you're a human",
	"additional verification required",
	"verification required",
	"access denied",
	"access to this page has been denied",
	"request blocked",
	"just a moment",
	"security check",
	"hcaptcha",
	"are you a robot",
	"please sign in to continue",
	"unusual traffic",
}

// emptyIndicators mark a genuine zero-result search.
var emptyIndicators = []string{
	"did not match any jobs",
	"no jobs found",
	"we couldn't find any jobs",
}

const noResultSelector = ".jobsearch-NoResult-messageContainer, [data-testid='no-results'], .no_results"

var blockedPathPattern = regexp.MustCompile(`(?i)/(captcha|challenge|blocked|errors?)(/|$)`)

// Classify inspects a fetched page and reports whether it is Blocked, Empty,
// or Ready for extraction. A Blocked verdict obliges the caller to retire the
// request's fetch session and propagate a retryable failure.
func Classify(page *types.Page, doc *goquery.Document) Verdict {
	if page != nil && page.FinalURL != nil && blockedPathPattern.MatchString(page.FinalURL.Path) {
		return Blocked
	}
	if doc == nil {
		return Blocked
	}

	title := strings.ToLower(doc.Find("title").Text())
	body := strings.ToLower(doc.Find("body").Text())
	for _, marker := range blockIndicators {
		if strings.Contains(title, marker) || strings.Contains(body, marker) {
			return Blocked
		}
	}

	if doc.Find(noResultSelector).Length() > 0 {
		return Empty
	}
	for _, marker := range emptyIndicators {
		if strings.Contains(body, marker) {
			return Empty
		}
	}
	return Ready
}
