// Package fetcher is the HTTP collaborator: it owns sessions, proxy rotation,
// retries, and body decoding. Each session affinity key maps to one identity
// (cookie jar, proxy, user agent); retiring a key discards that identity so
// the next fetch for the key starts clean.
package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/andybalholm/brotli"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"

	"github.com/ritikjain6521/indeed-scraper/internal/config"
	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

// Decorator may adjust the outgoing request (extra headers, tracing).
type Decorator func(types.PageRequest, *resty.Request)

// Inspector may veto a response before it becomes a Page.
type Inspector func(types.PageRequest, *resty.Response) error

// Failure describes a fetch or classification error in terms the orchestrator
// can act on.
type Failure struct {
	Reason    string
	Retryable bool
	Err       error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return f.Reason
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether err is a retryable Failure.
func Retryable(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Retryable
}

// defaultUserAgents are rotated when no user agents are configured.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// Options controls session construction.
type Options struct {
	UserAgents       []string
	Proxies          []string
	Headers          map[string]string
	Timeout          time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	MaxBodyBytes     int64
	CloudflareBypass bool

	Decorator Decorator
	Inspector Inspector
}

// FromConfig maps the fetch configuration onto Options.
func FromConfig(cfg config.FetchConfig) Options {
	return Options{
		UserAgents:       cfg.UserAgents,
		Proxies:          cfg.Proxies,
		Headers:          cfg.Headers,
		Timeout:          cfg.Timeout.Duration,
		MaxRetries:       cfg.MaxRetries,
		RetryBackoff:     cfg.RetryBackoff.Duration,
		MaxBodyBytes:     cfg.MaxBodyBytes,
		CloudflareBypass: cfg.CloudflareBypass,
	}
}

// Pool maps session affinity keys to fetch identities.
type Pool struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	proxyIdx int
}

type session struct {
	client    *resty.Client
	proxy     string
	userAgent string
}

// NewPool creates a session pool.
func NewPool(opts Options, logger *slog.Logger) (*Pool, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 6 * 1024 * 1024
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = defaultUserAgents
	}
	for _, raw := range opts.Proxies {
		if _, err := url.Parse(raw); err != nil {
			return nil, fmt.Errorf("parse proxy url %q: %w", raw, err)
		}
	}
	return &Pool{
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*session),
	}, nil
}

// Fetch downloads the request's URL through the session bound to its affinity
// key, creating the session on first use.
func (p *Pool) Fetch(ctx context.Context, req types.PageRequest) (*types.Page, error) {
	if req.URL == nil {
		return nil, &Failure{Reason: "request URL is nil"}
	}
	sess := p.session(req.Session)

	r := sess.client.R().SetContext(ctx)
	r.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	r.SetHeader("Accept-Language", "en-US,en;q=0.8")
	r.SetHeader("Accept-Encoding", "gzip, deflate, br")
	for k, v := range p.opts.Headers {
		r.SetHeader(k, v)
	}
	if p.opts.Decorator != nil {
		p.opts.Decorator(req, r)
	}

	start := time.Now()
	resp, err := r.Get(req.URL.String())
	if err != nil {
		return nil, &Failure{Reason: "http fetch failed", Retryable: true, Err: err}
	}
	if p.opts.Inspector != nil {
		if err := p.opts.Inspector(req, resp); err != nil {
			return nil, &Failure{Reason: "response rejected", Retryable: true, Err: err}
		}
	}
	if resp.StatusCode() >= 400 {
		return nil, &Failure{
			Reason:    fmt.Sprintf("unexpected status %d", resp.StatusCode()),
			Retryable: resp.StatusCode() == 429 || resp.StatusCode() == 403 || resp.StatusCode() >= 500,
		}
	}

	body, err := p.decodeBody(resp)
	if err != nil {
		return nil, &Failure{Reason: "decode body", Retryable: true, Err: err}
	}

	finalURL := req.URL
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		finalURL = raw.Request.URL
	}

	return &types.Page{
		URL:        req.URL,
		FinalURL:   finalURL,
		Body:       body,
		StatusCode: resp.StatusCode(),
		Headers:    resp.Header().Clone(),
		FetchedAt:  time.Now(),
		Latency:    time.Since(start),
	}, nil
}

// Retire discards the identity bound to the affinity key. The next fetch for
// the key builds a fresh identity with the next proxy and a new cookie jar;
// the discarded one is never reused.
func (p *Pool) Retire(key string) {
	p.mu.Lock()
	sess, ok := p.sessions[key]
	delete(p.sessions, key)
	p.mu.Unlock()
	if ok {
		p.logger.Info("session retired", "session", key, "proxy", sess.proxy)
	}
}

func (p *Pool) session(key string) *session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sess, ok := p.sessions[key]; ok {
		return sess
	}
	sess := p.newSessionLocked()
	p.sessions[key] = sess
	return sess
}

func (p *Pool) newSessionLocked() *session {
	client := resty.New()
	client.SetTimeout(p.opts.Timeout)
	client.SetRetryCount(p.opts.MaxRetries)
	client.SetRetryWaitTime(p.opts.RetryBackoff)
	client.SetRetryMaxWaitTime(8 * p.opts.RetryBackoff)
	client.AddRetryCondition(func(resp *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return resp.StatusCode() == 429 || resp.StatusCode() >= 500
	})

	if jar, err := cookiejar.New(nil); err == nil {
		client.SetCookieJar(jar)
	}

	ua := p.pickUserAgent()
	client.SetHeader("User-Agent", ua)

	proxy := ""
	if len(p.opts.Proxies) > 0 {
		proxy = p.opts.Proxies[p.proxyIdx%len(p.opts.Proxies)]
		p.proxyIdx++
		client.SetProxy(proxy)
	}

	if p.opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	return &session{client: client, proxy: proxy, userAgent: ua}
}

func (p *Pool) pickUserAgent() string {
	idx, err := random.IntRange(0, len(p.opts.UserAgents))
	if err != nil {
		idx = 0
	}
	return p.opts.UserAgents[idx]
}

func (p *Pool) decodeBody(resp *resty.Response) ([]byte, error) {
	body := resp.Body()
	encoding := strings.ToLower(strings.TrimSpace(resp.Header().Get("Content-Encoding")))

	var reader io.Reader
	switch encoding {
	case "", "identity":
		if int64(len(body)) > p.opts.MaxBodyBytes {
			return nil, fmt.Errorf("response body exceeds limit of %d bytes", p.opts.MaxBodyBytes)
		}
		return body, nil
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(bytes.NewReader(body))
	case "deflate":
		fl := flate.NewReader(bytes.NewReader(body))
		defer fl.Close()
		reader = fl
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}

	limited := io.LimitReader(reader, p.opts.MaxBodyBytes+1)
	decoded, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(decoded)) > p.opts.MaxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", p.opts.MaxBodyBytes)
	}
	return decoded, nil
}
