package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ritikjain6521/indeed-scraper/internal/config"
)

func robotsConfig() config.RobotsConfig {
	return config.RobotsConfig{
		Respect:   true,
		UserAgent: "indeed-scraper/1.0",
		CacheTTL:  config.DurationFrom(time.Hour),
	}
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestAllowedFollowsDisallowRules(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer srv.Close()

	agent := NewAgent(robotsConfig(), srv.Client())
	ctx := context.Background()

	if !agent.Allowed(ctx, mustParse(t, srv.URL+"/jobs")) {
		t.Fatal("/jobs should be allowed")
	}
	if agent.Allowed(ctx, mustParse(t, srv.URL+"/private/page")) {
		t.Fatal("/private should be disallowed")
	}
	// Second lookup for the same host must come from the cache.
	if got := fetches.Load(); got != 1 {
		t.Fatalf("robots.txt fetched %d times, want 1", got)
	}
}

func TestAllowedFailsOpenOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	agent := NewAgent(robotsConfig(), srv.Client())
	if !agent.Allowed(context.Background(), mustParse(t, srv.URL+"/anything")) {
		t.Fatal("an unreachable robots.txt must not stop the run")
	}
}

func TestAllowedSkipsOverriddenHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}))
	defer srv.Close()

	target := mustParse(t, srv.URL+"/jobs")
	cfg := robotsConfig()
	cfg.Overrides = []string{target.Hostname()}

	agent := NewAgent(cfg, srv.Client())
	if !agent.Allowed(context.Background(), target) {
		t.Fatal("overridden host must bypass robots rules")
	}
}

func TestAllowedWhenRespectDisabled(t *testing.T) {
	cfg := robotsConfig()
	cfg.Respect = false
	agent := NewAgent(cfg, nil)
	if !agent.Allowed(context.Background(), mustParse(t, "https://www.indeed.com/jobs")) {
		t.Fatal("respect=false must allow everything without fetching")
	}
}
