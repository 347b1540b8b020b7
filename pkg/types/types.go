package types

import (
	"net/http"
	"net/url"
	"time"
)

// Label identifies what kind of page a request targets.
type Label string

const (
	LabelStart  Label = "START"
	LabelList   Label = "LIST"
	LabelDetail Label = "DETAIL"
)

// Query is one logical search: a term plus a location hint.
type Query struct {
	Term     string `json:"term"`
	Location string `json:"location"`
}

// PageRequest models a unit of work submitted to the fetch layer. Requests are
// never mutated after creation; the paginator derives the next page as a fresh
// value carrying the previous counters forward.
type PageRequest struct {
	URL       *url.URL
	Label     Label
	PageIndex int
	// Session groups all pages of one query under one fetch identity so
	// pagination does not trip an authentication wall mid-query.
	Session string
	Query   Query

	EmptyStreak     int
	DuplicateStreak int

	EnqueuedAt time.Time
}

// SourceKind records which extraction strategy produced a record.
type SourceKind string

const (
	SourceMarkup   SourceKind = "markup"
	SourceDataBlob SourceKind = "datablob"
)

// Record is one extracted search result. Key is the dedup identity, derived
// from the jk parameter of the detail link (or the link itself).
type Record struct {
	Key         string     `json:"key"`
	Title       string     `json:"title"`
	Company     string     `json:"company"`
	Location    string     `json:"location"`
	Salary      string     `json:"salary,omitempty"`
	Link        string     `json:"link"`
	PageIndex   int        `json:"page_index"`
	ExtractedAt time.Time  `json:"extracted_at"`
	Source      SourceKind `json:"source"`
}

// CompanyDetail is the small labelled-field set scraped from a company profile page.
type CompanyDetail struct {
	URL          string    `json:"url"`
	Name         string    `json:"name"`
	Website      string    `json:"website,omitempty"`
	Industry     string    `json:"industry,omitempty"`
	Size         string    `json:"size,omitempty"`
	Headquarters string    `json:"headquarters,omitempty"`
	Revenue      string    `json:"revenue,omitempty"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// Page represents fetched content.
type Page struct {
	URL        *url.URL
	FinalURL   *url.URL
	Body       []byte
	StatusCode int
	Headers    http.Header
	FetchedAt  time.Time
	Latency    time.Duration
}
