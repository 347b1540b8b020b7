package crawler

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mazen160/go-random"

	"github.com/ritikjain6521/indeed-scraper/internal/config"
	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

// singleQueryCeiling is the upstream limit on results reachable through one
// query's pagination. Caps above it are only reachable by fanning a remote
// search out across sub-regions.
const singleQueryCeiling = 1000

// fanOutCountry is the only country with an enumerated sub-region list.
const fanOutCountry = "us"

var usStates = []string{
	"Alabama", "Alaska", "Arizona", "Arkansas", "California", "Colorado",
	"Connecticut", "Delaware", "Florida", "Georgia", "Hawaii", "Idaho",
	"Illinois", "Indiana", "Iowa", "Kansas", "Kentucky", "Louisiana",
	"Maine", "Maryland", "Massachusetts", "Michigan", "Minnesota",
	"Mississippi", "Missouri", "Montana", "Nebraska", "Nevada",
	"New Hampshire", "New Jersey", "New Mexico", "New York",
	"North Carolina", "North Dakota", "Ohio", "Oklahoma", "Oregon",
	"Pennsylvania", "Rhode Island", "South Carolina", "South Dakota",
	"Tennessee", "Texas", "Utah", "Vermont", "Virginia", "Washington",
	"West Virginia", "Wisconsin", "Wyoming",
}

// BuildSeeds expands the configured queries and literal start URLs into the
// initial page-0 requests. An empty result means there is nothing to do; the
// caller reports that instead of starting workers.
func BuildSeeds(cfg config.Config) ([]types.PageRequest, error) {
	queries, err := cfg.AllQueries()
	if err != nil {
		return nil, err
	}

	seeds := make([]types.PageRequest, 0, len(queries)+len(cfg.StartURLs))
	for _, q := range queries {
		seed, err := seedForQuery(cfg.Search.Country, q.Term, q.Location)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, seed)

		if deepSearch(cfg, q) {
			for _, state := range usStates {
				regionSeed, err := seedForQuery(cfg.Search.Country, q.Term, state)
				if err != nil {
					return nil, err
				}
				seeds = append(seeds, regionSeed)
			}
		}
	}

	for _, raw := range cfg.StartURLs {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse start url %q: %w", raw, err)
		}
		if parsed.Scheme == "" {
			parsed.Scheme = "https"
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("start url %q missing host", raw)
		}
		seeds = append(seeds, types.PageRequest{
			URL:        parsed,
			Label:      types.LabelStart,
			PageIndex:  0,
			Session:    sessionKey("url"),
			Query:      types.Query{Term: parsed.Query().Get("q"), Location: parsed.Query().Get("l")},
			EnqueuedAt: time.Now(),
		})
	}
	return seeds, nil
}

// deepSearch reports whether a query must fan out across sub-regions: the
// country supports it, the hint is a remote-style search, and the cap cannot
// be satisfied by a single query.
func deepSearch(cfg config.Config, q config.QueryConfig) bool {
	return cfg.Search.Country == fanOutCountry &&
		remoteLocation(q.Location) &&
		cfg.Search.MaxRecords > singleQueryCeiling
}

func remoteLocation(hint string) bool {
	return strings.Contains(strings.ToLower(hint), "remote")
}

func seedForQuery(country, term, location string) (types.PageRequest, error) {
	u := searchURL(country, term, location)
	return types.PageRequest{
		URL:        u,
		Label:      types.LabelStart,
		PageIndex:  0,
		Session:    sessionKey(slug(term + "-" + location)),
		Query:      types.Query{Term: term, Location: location},
		EnqueuedAt: time.Now(),
	}, nil
}

func searchURL(country, term, location string) *url.URL {
	u := &url.URL{
		Scheme: "https",
		Host:   countryHost(country),
		Path:   "/jobs",
	}
	q := url.Values{}
	q.Set("q", term)
	if location != "" {
		q.Set("l", location)
	}
	u.RawQuery = q.Encode()
	return u
}

func countryHost(country string) string {
	if country == "us" || country == "" {
		return "www.indeed.com"
	}
	return country + ".indeed.com"
}

// sessionKey builds a fresh affinity key; the random suffix keeps re-crawls
// of the same query from landing on a previously retired identity.
func sessionKey(prefix string) string {
	suffix, err := random.String(8)
	if err != nil {
		suffix = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return prefix + "-" + suffix
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
