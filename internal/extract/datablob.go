package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

// blobMarkers identify the embedded payloads carrying job card data. The
// first script containing a marker that parses into a usable results array
// wins.
var blobMarkers = []string{
	"window.mosaic.providerData[\"mosaic-provider-jobcards\"]",
	"mosaic-provider-jobcards",
	"window._initialData",
}

// resultPaths are the known locations of the results array; the schema varies
// by rendering path.
var resultPaths = []string{
	"metaData.mosaicProviderJobCardsModel.results",
	"jobList.results",
	"results",
}

type datablobStrategy struct{}

func (datablobStrategy) Name() string { return "datablob" }

func (datablobStrategy) Extract(doc *goquery.Document, page *types.Page) []Candidate {
	if doc == nil {
		return nil
	}
	base := pageBase(page)

	var out []Candidate
	doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		text := script.Text()
		for _, marker := range blobMarkers {
			idx := strings.Index(text, marker)
			if idx < 0 {
				continue
			}
			payload := balancedObject(text[idx+len(marker):])
			if payload == "" || !gjson.Valid(payload) {
				continue
			}
			out = blobCandidates(gjson.Parse(payload), base)
			if len(out) > 0 {
				return false
			}
		}
		return true
	})
	return out
}

func blobCandidates(blob gjson.Result, base *url.URL) []Candidate {
	var results gjson.Result
	for _, path := range resultPaths {
		if arr := blob.Get(path); arr.IsArray() && len(arr.Array()) > 0 {
			results = arr
			break
		}
	}
	if !results.Exists() {
		return nil
	}

	var out []Candidate
	for _, entry := range results.Array() {
		key := firstString(entry, "jobkey", "jk", "jobKey")
		link := firstString(entry, "link", "viewJobLink", "jobUrl")
		if key == "" && link == "" {
			continue
		}
		if link == "" {
			link = "/viewjob?jk=" + key
		}
		resolved := resolveLink(base, link)
		if resolved == nil {
			continue
		}
		if key == "" {
			key = KeyFromLink(resolved)
		}

		title := firstString(entry, "displayTitle", "title", "normTitle")
		if title == "" {
			title = UnknownField
		}
		company := firstString(entry, "company", "companyName", "truncatedCompany")
		if company == "" {
			company = UnknownField
		}

		c := Candidate{
			Key:      key,
			Title:    title,
			Company:  company,
			Location: firstString(entry, "formattedLocation", "jobLocationCity", "location"),
			Salary:   firstString(entry, "salarySnippet.text", "estimatedSalary.formattedRange", "salary"),
			Link:     resolved.String(),
			Source:   types.SourceDataBlob,
		}
		if overview := firstString(entry, "companyOverviewLink"); overview != "" {
			if u := resolveLink(base, overview); u != nil {
				c.CompanyLink = u.String()
			}
		}
		out = append(out, c)
	}
	return out
}

func firstString(entry gjson.Result, paths ...string) string {
	for _, path := range paths {
		if v := entry.Get(path); v.Exists() {
			if s := cleanText(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// balancedObject returns the first brace-balanced JSON object in s, skipping
// anything (an assignment operator, whitespace) before the opening brace.
// String literals and escapes are respected so braces inside values do not
// end the scan.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
