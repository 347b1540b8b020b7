package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything required to initialise a scrape run.
type Config struct {
	Queries   []QueryConfig `yaml:"queries"`
	QueryFile string        `yaml:"query_file"`
	StartURLs []string      `yaml:"start_urls"`

	Search  SearchConfig  `yaml:"search"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Worker  WorkerConfig  `yaml:"worker"`
	Delay   DelayConfig   `yaml:"delay"`
	Robots  RobotsConfig  `yaml:"robots"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// QueryConfig declares one search term and its location hint.
type QueryConfig struct {
	Term     string `yaml:"term"`
	Location string `yaml:"location"`
}

// SearchConfig controls the listing endpoint and run-wide caps.
type SearchConfig struct {
	Country        string       `yaml:"country"`
	MaxRecords     int          `yaml:"max_records"`
	ResultsPerPage int          `yaml:"results_per_page"`
	CostPerRecord  float64      `yaml:"cost_per_record"`
	Details        DetailConfig `yaml:"details"`
}

// DetailConfig toggles the company-profile sub-crawl.
type DetailConfig struct {
	Enabled bool `yaml:"enabled"`
	Max     int  `yaml:"max"`
}

// FetchConfig controls the session-affine HTTP layer.
type FetchConfig struct {
	UserAgents       []string          `yaml:"user_agents"`
	Proxies          []string          `yaml:"proxies"`
	Headers          map[string]string `yaml:"headers"`
	Timeout          Duration          `yaml:"timeout"`
	MaxRetries       int               `yaml:"max_retries"`
	RetryBackoff     Duration          `yaml:"retry_backoff"`
	MaxBodyBytes     int64             `yaml:"max_body_bytes"`
	CloudflareBypass bool              `yaml:"cloudflare_bypass"`
}

// WorkerConfig controls concurrency and queue sizing.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	QueueSize   int `yaml:"queue_size"`
}

// DelayConfig bounds the randomized pre-request delay and per-host pacing.
type DelayConfig struct {
	Min Duration `yaml:"min"`
	Max Duration `yaml:"max"`

	RateLimitPerHost RateLimitConfig `yaml:"rate_limit_per_host"`
}

// RateLimitConfig applies a token bucket per host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// RobotsConfig configures optional robots.txt handling.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// LedgerConfig selects where the cross-run dedup key set lives.
type LedgerConfig struct {
	Store string            `yaml:"store"` // "redis", "file", or "" for in-memory only
	Reset bool              `yaml:"reset"`
	Redis RedisLedgerConfig `yaml:"redis"`
	File  string            `yaml:"file"`
}

// RedisLedgerConfig configures a Redis-backed ledger store.
type RedisLedgerConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// StorageConfig configures the output sinks.
type StorageConfig struct {
	DB        SQLConfig `yaml:"db"`
	OutputDir string    `yaml:"output_dir"`
}

// SQLConfig describes a relational database used as a record sink.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Search: SearchConfig{
			Country:        "us",
			MaxRecords:     50,
			ResultsPerPage: 10,
			CostPerRecord:  0.005,
			Details: DetailConfig{
				Enabled: false,
				Max:     50,
			},
		},
		Fetch: FetchConfig{
			Headers:          map[string]string{},
			Timeout:          DurationFrom(30 * time.Second),
			MaxRetries:       3,
			RetryBackoff:     DurationFrom(2 * time.Second),
			MaxBodyBytes:     6 * 1024 * 1024,
			CloudflareBypass: true,
		},
		Worker: WorkerConfig{
			Concurrency: 8,
			QueueSize:   1024,
		},
		Delay: DelayConfig{
			Min: DurationFrom(2 * time.Second),
			Max: DurationFrom(6 * time.Second),
		},
		Robots: RobotsConfig{
			Respect:   false,
			Overrides: []string{},
			UserAgent: "indeed-scraper/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Ledger: LedgerConfig{
			Redis: RedisLedgerConfig{
				Key: "indeed:ledger",
			},
			File: "ledger.json",
		},
		Storage: StorageConfig{
			DB:        SQLConfig{AutoMigrate: true},
			OutputDir: "output",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AllQueries merges inline queries with the optional bulk query file. File
// lines are "term|location"; blank lines and #-comments are skipped.
func (c Config) AllQueries() ([]QueryConfig, error) {
	queries := make([]QueryConfig, 0, len(c.Queries))
	queries = append(queries, c.Queries...)

	if c.QueryFile == "" {
		return queries, nil
	}
	fh, err := os.Open(c.QueryFile)
	if err != nil {
		return nil, fmt.Errorf("open query file: %w", err)
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		term, location, _ := strings.Cut(line, "|")
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		queries = append(queries, QueryConfig{
			Term:     term,
			Location: strings.TrimSpace(location),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read query file: %w", err)
	}
	return queries, nil
}

// Validate enforces required invariants for the run configuration.
func (c Config) Validate() error {
	if len(c.Queries) == 0 && c.QueryFile == "" && len(c.StartURLs) == 0 {
		return errors.New("no queries, query_file, or start_urls configured: nothing to do")
	}
	for i, q := range c.Queries {
		if q.Term == "" {
			return fmt.Errorf("query %d has empty term", i)
		}
	}
	if c.Search.Country == "" {
		return errors.New("search.country must be set")
	}
	if c.Search.MaxRecords <= 0 {
		return fmt.Errorf("search.max_records must be > 0 (got %d)", c.Search.MaxRecords)
	}
	if c.Search.ResultsPerPage <= 0 {
		return fmt.Errorf("search.results_per_page must be > 0 (got %d)", c.Search.ResultsPerPage)
	}
	if c.Search.Details.Enabled && c.Search.Details.Max <= 0 {
		return fmt.Errorf("search.details.max must be > 0 when details are enabled (got %d)", c.Search.Details.Max)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be > 0 (got %d)", c.Worker.QueueSize)
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0 (got %d)", c.Fetch.MaxRetries)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if c.Delay.Min.Duration < 0 || c.Delay.Max.Duration < c.Delay.Min.Duration {
		return fmt.Errorf("delay must satisfy 0 <= min <= max (got %s/%s)", c.Delay.Min, c.Delay.Max)
	}
	switch c.Ledger.Store {
	case "", "file", "redis":
	default:
		return fmt.Errorf("ledger.store must be redis, file, or empty (got %q)", c.Ledger.Store)
	}
	if c.Ledger.Store == "redis" && c.Ledger.Redis.Addr == "" {
		return errors.New("ledger.redis.addr must be set when ledger.store is redis")
	}
	if c.Ledger.Store == "file" && c.Ledger.File == "" {
		return errors.New("ledger.file must be set when ledger.store is file")
	}
	if c.Robots.Respect && strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set when robots.respect is true")
	}
	return nil
}

func (c *Config) normalise() {
	for i := range c.Queries {
		c.Queries[i].Term = strings.TrimSpace(c.Queries[i].Term)
		c.Queries[i].Location = strings.TrimSpace(c.Queries[i].Location)
	}
	cleaned := c.StartURLs[:0]
	for _, raw := range c.StartURLs {
		raw = strings.TrimSpace(raw)
		if raw != "" {
			cleaned = append(cleaned, raw)
		}
	}
	c.StartURLs = cleaned

	c.Search.Country = strings.ToLower(strings.TrimSpace(c.Search.Country))
	c.QueryFile = strings.TrimSpace(c.QueryFile)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.Storage.OutputDir = strings.TrimSpace(c.Storage.OutputDir)
	c.Ledger.Store = strings.ToLower(strings.TrimSpace(c.Ledger.Store))

	if len(c.Robots.Overrides) > 0 {
		unique := make(map[string]struct{}, len(c.Robots.Overrides))
		hosts := make([]string, 0, len(c.Robots.Overrides))
		for _, raw := range c.Robots.Overrides {
			host := strings.ToLower(strings.TrimSpace(raw))
			if host == "" {
				continue
			}
			if _, ok := unique[host]; ok {
				continue
			}
			unique[host] = struct{}{}
			hosts = append(hosts, host)
		}
		c.Robots.Overrides = hosts
	}
}

// Enabled reports whether per-host rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
