package crawler

import (
	"strconv"
	"time"

	"github.com/ritikjain6521/indeed-scraper/internal/ledger"
	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

const (
	// maxEmptyPages ends a query after this many consecutive zero-card pages
	// past page 0: the result set is exhausted.
	maxEmptyPages = 3
	// maxDuplicatePages ends a query after this many consecutive pages whose
	// cards were all already known. Lenient, because batch runs with
	// overlapping queries legitimately produce long duplicate stretches.
	maxDuplicatePages = 10
	// speculativePages allows a few early pages to come back empty before the
	// emptiness rules get a say.
	speculativePages = 5
	// pageCeiling is the hard stop against runaway pagination.
	pageCeiling = 100
)

// TerminalReason names why a query's pagination ended. Terminations are
// successful outcomes, not errors.
type TerminalReason string

const (
	ReasonEndOfResults TerminalReason = "end_of_results"
	ReasonExhausted    TerminalReason = "exhausted_overlap"
	ReasonCapReached   TerminalReason = "cap_reached"
	ReasonStalled      TerminalReason = "stalled"
	ReasonPageCeiling  TerminalReason = "page_ceiling"
)

// PageStats summarises one processed page for the pagination decision.
type PageStats struct {
	// Found counts cards/entries seen before dedup filtering.
	Found int
	// Accepted counts records accepted after dedup.
	Accepted int
}

// Decision is the pagination outcome for one page.
type Decision struct {
	Continue bool
	Reason   TerminalReason
	Next     types.PageRequest
}

// NextPage applies the termination policy to a processed page and, when the
// query continues, derives the request for the following page. The request is
// treated as immutable; updated counters travel on the derived value.
func NextPage(req types.PageRequest, stats PageStats, led *ledger.Ledger, resultsPerPage int) Decision {
	duplicates := req.DuplicateStreak
	if stats.Found > 0 && stats.Accepted == 0 {
		duplicates++
	} else if stats.Accepted > 0 {
		duplicates = 0
	}

	empties := req.EmptyStreak
	if stats.Found == 0 && req.PageIndex > 0 {
		empties++
		if empties >= maxEmptyPages {
			return Decision{Reason: ReasonEndOfResults}
		}
	} else if stats.Found > 0 {
		empties = 0
	}

	if duplicates >= maxDuplicatePages {
		return Decision{Reason: ReasonExhausted}
	}

	if led.CapReached() {
		return Decision{Reason: ReasonCapReached}
	}
	if stats.Found == 0 && req.PageIndex >= speculativePages {
		return Decision{Reason: ReasonStalled}
	}
	if req.PageIndex >= pageCeiling {
		return Decision{Reason: ReasonPageCeiling}
	}

	nextURL := *req.URL
	q := nextURL.Query()
	q.Set("start", strconv.Itoa((req.PageIndex+1)*resultsPerPage))
	nextURL.RawQuery = q.Encode()

	return Decision{
		Continue: true,
		Next: types.PageRequest{
			URL:             &nextURL,
			Label:           types.LabelList,
			PageIndex:       req.PageIndex + 1,
			Session:         req.Session,
			Query:           req.Query,
			EmptyStreak:     empties,
			DuplicateStreak: duplicates,
			EnqueuedAt:      time.Now(),
		},
	}
}
