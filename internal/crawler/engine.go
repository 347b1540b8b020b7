package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ritikjain6521/indeed-scraper/internal/classify"
	"github.com/ritikjain6521/indeed-scraper/internal/config"
	"github.com/ritikjain6521/indeed-scraper/internal/extract"
	"github.com/ritikjain6521/indeed-scraper/internal/fetcher"
	"github.com/ritikjain6521/indeed-scraper/internal/ledger"
	robotsclient "github.com/ritikjain6521/indeed-scraper/internal/robots"
	"github.com/ritikjain6521/indeed-scraper/internal/storage"
	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

// Fetcher retrieves pages through session-affine identities.
type Fetcher interface {
	Fetch(ctx context.Context, req types.PageRequest) (*types.Page, error)
	Retire(key string)
}

// Summary reports the outcome of a completed run.
type Summary struct {
	Accepted       int            `json:"accepted"`
	DetailsScraped int            `json:"details_scraped"`
	LedgerSize     int            `json:"ledger_size"`
	Dropped        int            `json:"dropped"`
	Terminations   map[string]int `json:"terminations"`
	EstimatedCost  float64        `json:"estimated_cost"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	Elapsed        string         `json:"elapsed"`
}

// Engine orchestrates fetching, extraction, pagination, and persistence.
type Engine struct {
	cfg       config.Config
	fetcher   Fetcher
	led       *ledger.Ledger
	store     ledger.Store
	extractor *extract.Pipeline
	sink      storage.Sink
	robots    *robotsclient.Agent
	pacer     *Pacer

	logger *slog.Logger

	pool *WorkerPool
	wg   sync.WaitGroup

	mu             sync.Mutex
	terminations   map[string]int
	dropped        int
	detailsScraped int

	startedAt time.Time

	closers   []func() error
	closeOnce sync.Once
}

// NewEngine builds a scrape engine from configuration.
func NewEngine(cfg config.Config) (*Engine, error) {
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	pool, err := fetcher.NewPool(fetcher.FromConfig(cfg.Fetch), logger)
	if err != nil {
		return nil, fmt.Errorf("fetcher pool: %w", err)
	}

	sink, err := storage.NewPipeline(cfg.Storage)
	if err != nil {
		return nil, err
	}

	store, err := ledger.OpenStore(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("ledger store: %w", err)
	}

	detailCap := 0
	if cfg.Search.Details.Enabled {
		detailCap = cfg.Search.Details.Max
	}

	var robots *robotsclient.Agent
	if cfg.Robots.Respect {
		robots = robotsclient.NewAgent(cfg.Robots, &http.Client{Timeout: cfg.Fetch.Timeout.Duration})
	}

	e := &Engine{
		cfg:          cfg,
		fetcher:      pool,
		led:          ledger.New(cfg.Search.MaxRecords, detailCap),
		store:        store,
		extractor:    extract.NewPipeline(logger),
		sink:         sink,
		robots:       robots,
		pacer:        NewPacer(cfg.Delay),
		logger:       logger,
		terminations: make(map[string]int),
	}
	e.closers = append(e.closers, sink.Close)
	if store != nil {
		e.closers = append(e.closers, store.Close)
	}
	return e, nil
}

// Run executes the scrape until all queries terminate or the context is
// cancelled, then persists the ledger and the run summary.
func (e *Engine) Run(ctx context.Context) error {
	e.startedAt = time.Now()

	seeds, err := BuildSeeds(e.cfg)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return errors.New("no queries, query_file, or start_urls configured: nothing to do")
	}

	if err := e.loadLedger(ctx); err != nil {
		return err
	}

	pool, err := NewWorkerPool(ctx, e.cfg.Worker.Concurrency, e.cfg.Worker.QueueSize)
	if err != nil {
		return err
	}
	e.pool = pool
	defer pool.Close()

	e.logger.Info("run starting",
		"seeds", len(seeds),
		"max_records", e.cfg.Search.MaxRecords,
		"details", e.cfg.Search.Details.Enabled,
	)

	for _, req := range seeds {
		e.enqueue(ctx, req)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		e.logger.Warn("context cancelled, shutting down")
		<-done
		runErr = ctx.Err()
	case <-done:
	}

	if err := e.finalize(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Summary snapshots the run counters; call after Run returns.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	terminations := make(map[string]int, len(e.terminations))
	for k, v := range e.terminations {
		terminations[k] = v
	}
	accepted := e.led.Accepted()
	return Summary{
		Accepted:       accepted,
		DetailsScraped: e.detailsScraped,
		LedgerSize:     e.led.Size(),
		Dropped:        e.dropped,
		Terminations:   terminations,
		EstimatedCost:  float64(accepted) * e.cfg.Search.CostPerRecord,
		StartedAt:      e.startedAt,
		FinishedAt:     time.Now(),
		Elapsed:        time.Since(e.startedAt).Round(time.Millisecond).String(),
	}
}

// loadLedger seeds the in-memory ledger from the persistent store, or drops
// the persisted set when a reset was requested.
func (e *Engine) loadLedger(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	if e.cfg.Ledger.Reset {
		if err := e.store.Reset(ctx); err != nil {
			return fmt.Errorf("reset ledger store: %w", err)
		}
		e.logger.Info("ledger store reset")
		return nil
	}
	keys, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger store: %w", err)
	}
	e.led.Seed(keys)
	if len(keys) > 0 {
		e.logger.Info("ledger seeded", "keys", len(keys))
	}
	return nil
}

// finalize persists newly accepted keys and the run summary. Cancellation of
// the run context must not lose ledger entries, so persistence gets its own
// deadline.
func (e *Engine) finalize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if e.store != nil {
		if keys := e.led.NewKeys(); len(keys) > 0 {
			if err := e.store.Append(ctx, keys); err != nil {
				e.logger.Error("persist ledger failed", "error", err)
				firstErr = err
			}
		}
	}

	summary := e.Summary()
	if err := storage.WriteSummary(e.cfg.Storage.OutputDir, summary); err != nil {
		e.logger.Error("write summary failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	e.logger.Info("run complete",
		"accepted", summary.Accepted,
		"details_scraped", summary.DetailsScraped,
		"dropped", summary.Dropped,
		"terminations", summary.Terminations,
		"estimated_cost", summary.EstimatedCost,
		"elapsed", summary.Elapsed,
	)

	if err := e.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close releases resources owned by the engine.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		for _, closer := range e.closers {
			if cerr := closer(); cerr != nil {
				if err == nil {
					err = cerr
				} else {
					err = errors.Join(err, cerr)
				}
			}
		}
	})
	return err
}

func (e *Engine) enqueue(ctx context.Context, req types.PageRequest) {
	if req.URL == nil {
		return
	}
	req.EnqueuedAt = time.Now()
	e.wg.Add(1)
	run := func(workerCtx context.Context) {
		defer e.wg.Done()
		e.handleRequest(workerCtx, req)
	}
	switch err := e.pool.TrySubmit(run); {
	case err == nil:
	case errors.Is(err, ErrQueueFull):
		// All submissions come from inside handlers, so a full queue means
		// every worker is busy; running the overflow request on the
		// submitting goroutine keeps the pool from deadlocking on itself.
		run(ctx)
	default:
		e.wg.Done()
		if !errors.Is(err, context.Canceled) {
			e.logger.Error("enqueue failed", "url", req.URL.String(), "error", err)
		}
	}
}

func (e *Engine) handleRequest(ctx context.Context, req types.PageRequest) {
	if ctx.Err() != nil {
		return
	}

	if req.Label != types.LabelDetail && e.led.CapReached() {
		e.recordTermination(req, ReasonCapReached)
		return
	}

	if e.robots != nil && !e.robots.Allowed(ctx, req.URL) {
		e.logger.Debug("disallowed by robots", "url", req.URL.String())
		e.drop()
		return
	}

	if err := e.pacer.Wait(ctx, req.URL.Hostname()); err != nil {
		return
	}

	if req.Label == types.LabelDetail {
		e.handleDetail(ctx, req)
		return
	}
	e.handleListing(ctx, req)
}

// handleListing fetches one result page, extracts and persists its records,
// and decides whether the query paginates further. Blocked pages and pages
// that come back suspiciously empty retire the session identity before the
// retry, so the retry arrives with a fresh fingerprint.
func (e *Engine) handleListing(ctx context.Context, req types.PageRequest) {
	attempts := e.cfg.Fetch.MaxRetries + 1
	var result extract.Result

	for attempt := 0; ; attempt++ {
		page, err := e.fetcher.Fetch(ctx, req)
		if err != nil {
			if fetcher.Retryable(err) && attempt+1 < attempts {
				e.retireAndWait(ctx, req, attempt, "retryable fetch failure", err)
				continue
			}
			e.logger.Warn("fetch failed", "url", req.URL.String(), "page", req.PageIndex, "error", err)
			e.drop()
			return
		}

		doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
		if docErr != nil {
			doc = nil
		}

		switch classify.Classify(page, doc) {
		case classify.Blocked:
			if attempt+1 < attempts {
				e.retireAndWait(ctx, req, attempt, "page blocked", nil)
				continue
			}
			e.logger.Warn("giving up on blocked page", "url", req.URL.String(), "page", req.PageIndex)
			e.drop()
			return
		case classify.Empty:
			result = extract.Result{}
		default:
			result = e.extractor.Run(doc, page, req, e.led)
			// A Ready page past page 0 that yields nothing at all is more
			// likely a stealth block than a genuine hole in the results.
			if result.Found == 0 && req.PageIndex > 0 && attempt+1 < attempts {
				e.retireAndWait(ctx, req, attempt, "suspicious empty page", nil)
				continue
			}
		}
		break
	}

	if len(result.Accepted) > 0 {
		records := make([]types.Record, 0, len(result.Accepted))
		for _, acc := range result.Accepted {
			records = append(records, acc.Record)
		}
		if err := e.sink.AppendRecords(ctx, records); err != nil {
			e.logger.Error("persist records failed", "url", req.URL.String(), "error", err)
		}
		e.logger.Info("page scraped",
			"session", req.Session,
			"page", req.PageIndex,
			"strategy", result.Strategy,
			"found", result.Found,
			"accepted", len(records),
			"total", e.led.Accepted(),
		)

		if e.cfg.Search.Details.Enabled {
			for _, acc := range result.Accepted {
				e.maybeEnqueueDetail(ctx, req, acc)
			}
		}
	} else {
		e.logger.Debug("page yielded nothing new",
			"session", req.Session,
			"page", req.PageIndex,
			"found", result.Found,
		)
	}

	decision := NextPage(req, PageStats{Found: result.Found, Accepted: len(result.Accepted)}, e.led, e.cfg.Search.ResultsPerPage)
	if decision.Continue {
		e.enqueue(ctx, decision.Next)
		return
	}
	e.recordTermination(req, decision.Reason)
}

// maybeEnqueueDetail reserves a company profile URL and schedules its fetch.
// Cards without an explicit profile link fall back to the conventional
// /cmp/<slug> path, except when the company name itself is unknown.
func (e *Engine) maybeEnqueueDetail(ctx context.Context, req types.PageRequest, acc extract.Accepted) {
	link := acc.CompanyLink
	if link == "" {
		name := acc.Record.Company
		if name == "" || name == extract.UnknownField {
			return
		}
		link = (&url.URL{Scheme: "https", Host: req.URL.Host, Path: "/cmp/" + slug(name)}).String()
	}

	parsed, err := url.Parse(link)
	if err != nil {
		return
	}
	if parsed.Host == "" {
		parsed = req.URL.ResolveReference(parsed)
	}

	if !e.led.TryReserveDetail(parsed.String()) {
		return
	}
	e.enqueue(ctx, types.PageRequest{
		URL:     parsed,
		Label:   types.LabelDetail,
		Session: sessionKey("cmp"),
		Query:   req.Query,
	})
}

func (e *Engine) handleDetail(ctx context.Context, req types.PageRequest) {
	attempts := e.cfg.Fetch.MaxRetries + 1

	for attempt := 0; ; attempt++ {
		page, err := e.fetcher.Fetch(ctx, req)
		if err != nil {
			if fetcher.Retryable(err) && attempt+1 < attempts {
				e.retireAndWait(ctx, req, attempt, "retryable fetch failure", err)
				continue
			}
			e.logger.Warn("company fetch failed", "url", req.URL.String(), "error", err)
			e.drop()
			return
		}

		doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
		if docErr != nil {
			doc = nil
		}
		if classify.Classify(page, doc) == classify.Blocked {
			if attempt+1 < attempts {
				e.retireAndWait(ctx, req, attempt, "company page blocked", nil)
				continue
			}
			e.logger.Warn("giving up on blocked company page", "url", req.URL.String())
			e.drop()
			return
		}

		detail := extract.CompanyDetails(doc, page)
		if detail.Name == "" {
			e.logger.Debug("company page had no profile", "url", req.URL.String())
			e.drop()
			return
		}
		if err := e.sink.AppendCompanies(ctx, []types.CompanyDetail{detail}); err != nil {
			e.logger.Error("persist company failed", "url", req.URL.String(), "error", err)
			return
		}

		e.mu.Lock()
		e.detailsScraped++
		e.mu.Unlock()
		e.logger.Info("company scraped", "name", detail.Name, "url", req.URL.String())
		return
	}
}

// retireAndWait discards the request's session identity and backs off before
// the next attempt.
func (e *Engine) retireAndWait(ctx context.Context, req types.PageRequest, attempt int, reason string, err error) {
	e.fetcher.Retire(req.Session)
	e.logger.Debug("retiring session",
		"session", req.Session,
		"url", req.URL.String(),
		"attempt", attempt+1,
		"reason", reason,
		"error", err,
	)

	backoff := e.cfg.Fetch.RetryBackoff.Duration
	if backoff <= 0 {
		return
	}
	timer := time.NewTimer(backoff * time.Duration(attempt+1))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (e *Engine) recordTermination(req types.PageRequest, reason TerminalReason) {
	e.mu.Lock()
	e.terminations[string(reason)]++
	e.mu.Unlock()
	e.logger.Info("query finished",
		"session", req.Session,
		"term", req.Query.Term,
		"location", req.Query.Location,
		"pages", req.PageIndex+1,
		"reason", string(reason),
	)
}

func (e *Engine) drop() {
	e.mu.Lock()
	e.dropped++
	e.mu.Unlock()
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
