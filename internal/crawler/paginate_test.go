package crawler

import (
	"net/url"
	"testing"
	"time"

	"github.com/ritikjain6521/indeed-scraper/internal/ledger"
	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

func listRequest(t *testing.T) types.PageRequest {
	t.Helper()
	u, err := url.Parse("https://www.indeed.com/jobs?q=golang&l=Remote")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return types.PageRequest{
		URL:        u,
		Label:      types.LabelStart,
		PageIndex:  0,
		Session:    "q-test",
		Query:      types.Query{Term: "golang", Location: "Remote"},
		EnqueuedAt: time.Now(),
	}
}

func TestAllEmptyPagesTerminateAfterThree(t *testing.T) {
	led := ledger.New(100, 10)
	req := listRequest(t)

	// Page 0 yields results, pagination continues.
	decision := NextPage(req, PageStats{Found: 10, Accepted: 10}, led, 10)
	if !decision.Continue {
		t.Fatalf("page 0 with results must continue, got %s", decision.Reason)
	}

	// Pages 1..3 are empty; the third consecutive empty page ends the query.
	req = decision.Next
	emptyPages := 0
	for {
		decision = NextPage(req, PageStats{}, led, 10)
		emptyPages++
		if !decision.Continue {
			break
		}
		req = decision.Next
	}
	if decision.Reason != ReasonEndOfResults {
		t.Fatalf("expected end_of_results, got %s", decision.Reason)
	}
	if emptyPages != 3 {
		t.Fatalf("expected termination after exactly 3 empty pages, got %d", emptyPages)
	}
}

func TestFullOverlapTerminatesAfterTen(t *testing.T) {
	led := ledger.New(1000, 10)
	req := listRequest(t)

	duplicatePages := 0
	for {
		decision := NextPage(req, PageStats{Found: 15, Accepted: 0}, led, 10)
		duplicatePages++
		if !decision.Continue {
			if decision.Reason != ReasonExhausted {
				t.Fatalf("expected exhausted_overlap, got %s", decision.Reason)
			}
			break
		}
		req = decision.Next
	}
	if duplicatePages != 10 {
		t.Fatalf("expected termination after exactly 10 duplicate pages, got %d", duplicatePages)
	}
}

func TestAcceptedPageResetsDuplicateStreak(t *testing.T) {
	led := ledger.New(1000, 10)
	req := listRequest(t)
	req.DuplicateStreak = 9

	decision := NextPage(req, PageStats{Found: 10, Accepted: 2}, led, 10)
	if !decision.Continue {
		t.Fatalf("page with new records must continue, got %s", decision.Reason)
	}
	if decision.Next.DuplicateStreak != 0 {
		t.Fatalf("duplicate streak should reset, got %d", decision.Next.DuplicateStreak)
	}
}

func TestCapReachedStopsPagination(t *testing.T) {
	led := ledger.New(1, 10)
	if !led.TryAccept("only") {
		t.Fatal("setup: accept failed")
	}

	decision := NextPage(listRequest(t), PageStats{Found: 10, Accepted: 1}, led, 10)
	if decision.Continue {
		t.Fatal("pagination must stop once the cap is satisfied")
	}
	if decision.Reason != ReasonCapReached {
		t.Fatalf("expected cap_reached, got %s", decision.Reason)
	}
}

func TestSpeculativeWindowAllowsEarlyEmptyPage0(t *testing.T) {
	led := ledger.New(100, 10)

	decision := NextPage(listRequest(t), PageStats{}, led, 10)
	if !decision.Continue {
		t.Fatalf("empty page 0 should still continue, got %s", decision.Reason)
	}
	if decision.Next.EmptyStreak != 0 {
		t.Fatalf("page 0 emptiness must not count, got streak %d", decision.Next.EmptyStreak)
	}
}

func TestStalledBeyondSpeculativeWindow(t *testing.T) {
	led := ledger.New(100, 10)
	req := listRequest(t)
	req.PageIndex = 5
	req.EmptyStreak = 1

	decision := NextPage(req, PageStats{}, led, 10)
	if decision.Continue {
		t.Fatal("empty page past the speculative window must stop")
	}
	if decision.Reason != ReasonStalled {
		t.Fatalf("expected stalled, got %s", decision.Reason)
	}
}

func TestPageCeiling(t *testing.T) {
	led := ledger.New(100000, 10)
	req := listRequest(t)
	req.PageIndex = 100

	decision := NextPage(req, PageStats{Found: 10, Accepted: 1}, led, 10)
	if decision.Continue {
		t.Fatal("pagination must stop at the hard page ceiling")
	}
	if decision.Reason != ReasonPageCeiling {
		t.Fatalf("expected page_ceiling, got %s", decision.Reason)
	}
}

func TestNextRequestDerivation(t *testing.T) {
	led := ledger.New(100, 10)
	req := listRequest(t)
	req.PageIndex = 2
	req.DuplicateStreak = 1

	decision := NextPage(req, PageStats{Found: 10, Accepted: 0}, led, 10)
	if !decision.Continue {
		t.Fatalf("expected continuation, got %s", decision.Reason)
	}
	next := decision.Next
	if next.PageIndex != 3 {
		t.Fatalf("next page index = %d, want 3", next.PageIndex)
	}
	if got := next.URL.Query().Get("start"); got != "30" {
		t.Fatalf("start offset = %q, want 30", got)
	}
	if next.URL.Query().Get("q") != "golang" {
		t.Fatal("base query parameters must be preserved")
	}
	if next.Session != req.Session {
		t.Fatal("session affinity key must carry forward")
	}
	if next.DuplicateStreak != 2 {
		t.Fatalf("duplicate streak = %d, want 2", next.DuplicateStreak)
	}
	if next.Label != types.LabelList {
		t.Fatalf("label = %s, want %s", next.Label, types.LabelList)
	}
	// The originating request is untouched.
	if req.URL.Query().Get("start") != "" {
		t.Fatal("original request URL must not be mutated")
	}
}
