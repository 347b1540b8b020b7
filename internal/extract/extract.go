// Package extract turns Ready-classified pages into records. Extraction is an
// ordered list of named strategies; the first one that finds any candidate
// wins, and the ledger arbitrates which candidates become records.
package extract

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ritikjain6521/indeed-scraper/internal/ledger"
	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

// Candidate is one result card or blob entry before dedup filtering.
type Candidate struct {
	Key         string
	Title       string
	Company     string
	Location    string
	Salary      string
	Link        string
	CompanyLink string
	Source      types.SourceKind
}

// Strategy extracts candidates from a parsed page.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document, page *types.Page) []Candidate
}

// Accepted pairs a deduplicated record with the company link discovered on
// its card, if any.
type Accepted struct {
	Record      types.Record
	CompanyLink string
}

// Result reports a page's extraction outcome.
type Result struct {
	Strategy string
	// Found counts candidates seen before dedup filtering.
	Found int
	// Accepted holds the records that passed the ledger.
	Accepted []Accepted
}

// Pipeline runs strategies in order against listing pages.
type Pipeline struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewPipeline builds the default markup-then-datablob pipeline.
func NewPipeline(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		strategies: []Strategy{markupStrategy{}, datablobStrategy{}},
		logger:     logger,
	}
}

// Run extracts the page's records, consulting the ledger per candidate so the
// global cap is honoured even when it is reached mid-page.
func (p *Pipeline) Run(doc *goquery.Document, page *types.Page, req types.PageRequest, led *ledger.Ledger) Result {
	for _, strategy := range p.strategies {
		candidates := strategy.Extract(doc, page)
		if len(candidates) == 0 {
			continue
		}
		p.logger.Debug("extraction strategy matched",
			"strategy", strategy.Name(), "candidates", len(candidates), "page", req.PageIndex)

		result := Result{Strategy: strategy.Name(), Found: len(candidates)}
		now := time.Now()
		for _, c := range candidates {
			if led.CapReached() {
				break
			}
			if !led.TryAccept(c.Key) {
				continue
			}
			result.Accepted = append(result.Accepted, Accepted{
				Record: types.Record{
					Key:         c.Key,
					Title:       c.Title,
					Company:     c.Company,
					Location:    c.Location,
					Salary:      c.Salary,
					Link:        c.Link,
					PageIndex:   req.PageIndex,
					ExtractedAt: now,
					Source:      c.Source,
				},
				CompanyLink: c.CompanyLink,
			})
		}
		return result
	}
	return Result{}
}

// UnknownField fills required record fields whose source element is missing.
const UnknownField = "Unknown"

// Listing-card selectors. Indeed has shipped several renderings of the search
// page; the alternatives are tried together.
const (
	cardSelector        = "div.job_seen_beacon, a.tapItem, td.resultContent"
	cardLinkSelector    = "h2.jobTitle a, a.jcs-JobTitle, a[data-jk]"
	titleSelector       = "h2.jobTitle span[title], h2.jobTitle span, h2.jobTitle"
	companySelector     = "[data-testid='company-name'], span.companyName"
	locationSelector    = "[data-testid='text-location'], div.companyLocation"
	salarySelector      = "[data-testid='attribute_snippet_testid'], div.salary-snippet, span.estimated-salary"
	companyLinkSelector = "[data-testid='company-name'] a, span.companyName a"
)

type markupStrategy struct{}

func (markupStrategy) Name() string { return "markup" }

func (markupStrategy) Extract(doc *goquery.Document, page *types.Page) []Candidate {
	if doc == nil {
		return nil
	}
	base := pageBase(page)

	// Card selectors overlap across renderings (a.tapItem can wrap
	// div.job_seen_beacon), so keys are deduplicated within the page.
	onPage := make(map[string]struct{})

	var out []Candidate
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		link := cardLink(card, base)
		if link == nil {
			// A card with no derivable link has no dedup identity.
			return
		}
		key := KeyFromLink(link)
		if _, dup := onPage[key]; dup {
			return
		}
		onPage[key] = struct{}{}

		c := Candidate{
			Key:      key,
			Title:    textOrDefault(card, titleSelector, UnknownField),
			Company:  textOrDefault(card, companySelector, UnknownField),
			Location: cleanText(card.Find(locationSelector).First().Text()),
			Salary:   cleanText(card.Find(salarySelector).First().Text()),
			Link:     link.String(),
			Source:   types.SourceMarkup,
		}
		if href, ok := card.Find(companyLinkSelector).First().Attr("href"); ok {
			if resolved := resolveLink(base, href); resolved != nil {
				c.CompanyLink = resolved.String()
			}
		}
		out = append(out, c)
	})
	return out
}

func cardLink(card *goquery.Selection, base *url.URL) *url.URL {
	href, ok := card.Find(cardLinkSelector).First().Attr("href")
	if !ok {
		// Some renderings make the card itself the anchor.
		href, ok = card.Attr("href")
	}
	if !ok || strings.TrimSpace(href) == "" {
		return nil
	}
	return resolveLink(base, href)
}

// KeyFromLink derives the dedup key for a detail link: the jk query parameter
// when embedded, otherwise the link itself.
func KeyFromLink(link *url.URL) string {
	if link == nil {
		return ""
	}
	if jk := link.Query().Get("jk"); jk != "" {
		return jk
	}
	return link.String()
}

func pageBase(page *types.Page) *url.URL {
	if page == nil {
		return nil
	}
	if page.FinalURL != nil {
		return page.FinalURL
	}
	return page.URL
}

func resolveLink(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" {
		return nil
	}
	if base == nil {
		u, err := url.Parse(href)
		if err != nil {
			return nil
		}
		return u
	}
	u, err := base.Parse(href)
	if err != nil {
		return nil
	}
	return u
}

func textOrDefault(sel *goquery.Selection, selector, fallback string) string {
	text := cleanText(sel.Find(selector).First().Text())
	if text == "" {
		return fallback
	}
	return text
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
