package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func TestTryAcceptDeduplicates(t *testing.T) {
	l := New(10, 10)
	if !l.TryAccept("a") {
		t.Fatal("first accept of key should succeed")
	}
	if l.TryAccept("a") {
		t.Fatal("second accept of same key should fail")
	}
	if l.TryAccept("") {
		t.Fatal("empty key should never be accepted")
	}
	if got := l.Accepted(); got != 1 {
		t.Fatalf("expected 1 accepted, got %d", got)
	}
}

func TestTryAcceptRespectsSeededKeys(t *testing.T) {
	l := New(10, 10)
	l.Seed([]string{"x", "y", ""})
	if l.TryAccept("x") {
		t.Fatal("seeded key should be rejected")
	}
	if !l.TryAccept("z") {
		t.Fatal("fresh key should be accepted")
	}
	if keys := l.NewKeys(); len(keys) != 1 || keys[0] != "z" {
		t.Fatalf("expected NewKeys [z], got %v", keys)
	}
}

func TestTryAcceptNeverOvershootsCapUnderContention(t *testing.T) {
	const recordCap = 25
	const workers = 16
	const perWorker = 100

	l := New(recordCap, 10)
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if l.TryAccept(fmt.Sprintf("w%d-i%d", w, i)) {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	if accepted != recordCap {
		t.Fatalf("expected exactly %d acceptances, got %d", recordCap, accepted)
	}
	if got := l.Accepted(); got != recordCap {
		t.Fatalf("ledger counter reports %d, want %d", got, recordCap)
	}
}

func TestReplayWithCarriedSnapshotYieldsZero(t *testing.T) {
	keys := []string{"k1", "k2", "k3"}

	first := New(100, 10)
	for _, k := range keys {
		if !first.TryAccept(k) {
			t.Fatalf("first run should accept %s", k)
		}
	}

	second := New(100, 10)
	second.Seed(first.NewKeys())
	for _, k := range keys {
		if second.TryAccept(k) {
			t.Fatalf("second run should reject %s", k)
		}
	}
	if second.Accepted() != 0 {
		t.Fatalf("replay accepted %d records, want 0", second.Accepted())
	}
}

func TestTryReserveDetail(t *testing.T) {
	l := New(10, 2)
	if !l.TryReserveDetail("https://www.indeed.com/cmp/acme") {
		t.Fatal("first reservation should succeed")
	}
	if l.TryReserveDetail("https://www.indeed.com/cmp/acme") {
		t.Fatal("duplicate reservation should fail")
	}
	if !l.TryReserveDetail("https://www.indeed.com/cmp/globex") {
		t.Fatal("second distinct reservation should succeed")
	}
	if l.TryReserveDetail("https://www.indeed.com/cmp/initech") {
		t.Fatal("reservation beyond detail cap should fail")
	}
	if got := l.DetailCount(); got != 2 {
		t.Fatalf("expected 2 reservations, got %d", got)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "ledger.json"))

	keys, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load empty store: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected empty ledger, got %v", keys)
	}

	if err := store.Append(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, []string{"b", "c"}); err != nil {
		t.Fatalf("second append: %v", err)
	}

	keys, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 unique keys, got %v", keys)
	}

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	keys, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("load after reset: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected empty ledger after reset, got %v", keys)
	}
}
