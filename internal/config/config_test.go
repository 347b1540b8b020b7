package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromReaderMergesDefaults(t *testing.T) {
	yaml := `
queries:
  - term: "golang developer"
    location: "Remote"
search:
  max_records: 250
fetch:
  timeout: 45s
delay:
  min: 1s
  max: 3s
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Search.MaxRecords != 250 {
		t.Fatalf("max_records = %d, want 250", cfg.Search.MaxRecords)
	}
	// Untouched fields keep their defaults.
	if cfg.Search.Country != "us" {
		t.Fatalf("country = %q, want default us", cfg.Search.Country)
	}
	if cfg.Search.ResultsPerPage != 10 {
		t.Fatalf("results_per_page = %d, want default 10", cfg.Search.ResultsPerPage)
	}
	if cfg.Fetch.Timeout.Duration != 45*time.Second {
		t.Fatalf("timeout = %s, want 45s", cfg.Fetch.Timeout)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Fatalf("concurrency = %d, want default 8", cfg.Worker.Concurrency)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	yaml := `
queries:
  - term: "golang"
serach:
  max_records: 10
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("misspelled section must be rejected")
	}
}

func TestValidateRequiresWork(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("config without queries must fail validation")
	}
	if !strings.Contains(err.Error(), "nothing to do") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty term":           func(c *Config) { c.Queries = []QueryConfig{{Term: ""}} },
		"zero cap":             func(c *Config) { c.Search.MaxRecords = 0 },
		"details without max":  func(c *Config) { c.Search.Details.Enabled = true; c.Search.Details.Max = 0 },
		"inverted delay":       func(c *Config) { c.Delay.Min = DurationFrom(5 * time.Second); c.Delay.Max = DurationFrom(time.Second) },
		"unknown ledger store": func(c *Config) { c.Ledger.Store = "dynamo" },
		"redis without addr":   func(c *Config) { c.Ledger.Store = "redis"; c.Ledger.Redis.Addr = "" },
	}
	for name, mutate := range cases {
		cfg := Default()
		cfg.Queries = []QueryConfig{{Term: "golang"}}
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestNormaliseTrimsAndLowercases(t *testing.T) {
	yaml := `
queries:
  - term: "  golang developer  "
    location: " Remote "
start_urls:
  - "  "
  - "https://www.indeed.com/jobs?q=nurse"
search:
  country: " UK "
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Queries[0].Term != "golang developer" || cfg.Queries[0].Location != "Remote" {
		t.Fatalf("query not trimmed: %+v", cfg.Queries[0])
	}
	if cfg.Search.Country != "uk" {
		t.Fatalf("country = %q, want uk", cfg.Search.Country)
	}
	if len(cfg.StartURLs) != 1 {
		t.Fatalf("start urls = %v, want blank entries dropped", cfg.StartURLs)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "queries:\n  - term: golang\nworker:\n  concurrency: 2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.Concurrency != 2 {
		t.Fatalf("concurrency = %d, want 2", cfg.Worker.Concurrency)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	d := DurationFrom(90 * time.Second)
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var decoded Duration
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded.Duration != 90*time.Second {
		t.Fatalf("round trip = %s, want 90s", decoded)
	}
}
