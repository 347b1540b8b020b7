package extract

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

const (
	companyNameSelector = "div[itemprop='name'], [data-testid='companyName'], h1"
	companyRowSelector  = "[data-testid='companyInfo-panel'] li, ul.cmp-InfoRows li, li[data-testid^='companyInfo']"
)

// CompanyDetails scans the label/value rows of a company profile page for the
// small fixed field set. Unrecognised labels are ignored; a page with no
// matching rows still yields a detail carrying the name and URL.
func CompanyDetails(doc *goquery.Document, page *types.Page) types.CompanyDetail {
	detail := types.CompanyDetail{
		ScrapedAt: time.Now(),
	}
	if page != nil {
		if base := pageBase(page); base != nil {
			detail.URL = base.String()
		}
	}
	if doc == nil {
		return detail
	}

	detail.Name = cleanText(doc.Find(companyNameSelector).First().Text())

	doc.Find(companyRowSelector).Each(func(_ int, row *goquery.Selection) {
		divs := row.Find("div")
		if divs.Length() < 2 {
			return
		}
		label := strings.ToLower(cleanText(divs.First().Text()))
		value := cleanText(divs.Eq(1).Text())
		if value == "" {
			return
		}
		switch {
		case strings.Contains(label, "website"):
			// Prefer the anchor target over the display text.
			if href, ok := row.Find("a[href]").First().Attr("href"); ok {
				detail.Website = strings.TrimSpace(href)
			} else {
				detail.Website = value
			}
		case strings.Contains(label, "industry"):
			detail.Industry = value
		case strings.Contains(label, "size") || strings.Contains(label, "employees"):
			detail.Size = value
		case strings.Contains(label, "headquarters"):
			detail.Headquarters = value
		case strings.Contains(label, "revenue"):
			detail.Revenue = value
		}
	})
	return detail
}
