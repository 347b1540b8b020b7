package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

func testPool(t *testing.T, opts Options) *Pool {
	t.Helper()
	pool, err := NewPool(opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return pool
}

func requestFor(t *testing.T, rawURL, session string) types.PageRequest {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return types.PageRequest{URL: u, Label: types.LabelList, Session: session}
}

func TestFetchSessionAffinityAndRetire(t *testing.T) {
	var sawCookie []bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := r.Cookie("session")
		sawCookie = append(sawCookie, err == nil)
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	pool := testPool(t, Options{Timeout: 5 * time.Second})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := pool.Fetch(ctx, requestFor(t, server.URL, "q-1")); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	pool.Retire("q-1")
	if _, err := pool.Fetch(ctx, requestFor(t, server.URL, "q-1")); err != nil {
		t.Fatalf("fetch after retire: %v", err)
	}

	want := []bool{false, true, false}
	for i, got := range sawCookie {
		if got != want[i] {
			t.Fatalf("request %d cookie presence = %v, want %v (identity must reset on retire)", i, got, want[i])
		}
	}
}

func TestFetchDecoratorAndInspector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Probe") != "1" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	inspected := false
	pool := testPool(t, Options{
		Timeout: 5 * time.Second,
		Decorator: func(_ types.PageRequest, r *resty.Request) {
			r.SetHeader("X-Probe", "1")
		},
		Inspector: func(_ types.PageRequest, resp *resty.Response) error {
			inspected = true
			if resp.StatusCode() != http.StatusOK {
				return errors.New("unexpected status")
			}
			return nil
		},
	})

	page, err := pool.Fetch(context.Background(), requestFor(t, server.URL, "q-2"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !inspected {
		t.Fatal("inspector was not invoked")
	}
	if string(page.Body) != "ok" {
		t.Fatalf("body = %q", page.Body)
	}
}

func TestFetchDecodesGzipBody(t *testing.T) {
	payload := "<html><body>compressed listing</body></html>"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(payload))
		_ = gz.Close()
	}))
	defer server.Close()

	pool := testPool(t, Options{Timeout: 5 * time.Second})
	page, err := pool.Fetch(context.Background(), requestFor(t, server.URL, "q-3"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(page.Body) != payload {
		t.Fatalf("decoded body = %q, want %q", page.Body, payload)
	}
}

func TestFetchStatusFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	pool := testPool(t, Options{Timeout: 5 * time.Second})
	_, err := pool.Fetch(context.Background(), requestFor(t, server.URL, "q-4"))
	if err == nil {
		t.Fatal("expected failure on 404")
	}
	if Retryable(err) {
		t.Fatal("404 should not be retryable")
	}
}
