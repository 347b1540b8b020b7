// Package ledger owns the deduplication state shared by all concurrent
// request handlers: the record key set, the detail-page set, and the global
// acceptance counters. Callers only get atomic try-operations; the
// check/insert/increment sequence is never exposed piecewise.
package ledger

import (
	"sync"
)

// Ledger is the single owner of run-wide dedup state.
type Ledger struct {
	mu sync.Mutex

	seen    map[string]struct{}
	newKeys []string

	details map[string]struct{}

	accepted  int
	cap       int
	detailCnt int
	detailCap int
}

// New creates a ledger enforcing the given record and detail caps.
func New(recordCap, detailCap int) *Ledger {
	return &Ledger{
		seen:      make(map[string]struct{}),
		details:   make(map[string]struct{}),
		cap:       recordCap,
		detailCap: detailCap,
	}
}

// Seed loads previously-persisted keys. Seeded keys count as already seen but
// are not re-persisted as new.
func (l *Ledger) Seed(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if k == "" {
			continue
		}
		l.seen[k] = struct{}{}
	}
}

// TryAccept atomically checks the cap and the key set, and on success records
// the key and increments the accepted counter. It returns false for duplicate
// keys and once the cap is reached; two concurrent callers can never both
// accept the same key or overshoot the cap.
func (l *Ledger) TryAccept(key string) bool {
	if key == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.accepted >= l.cap {
		return false
	}
	if _, dup := l.seen[key]; dup {
		return false
	}
	l.seen[key] = struct{}{}
	l.newKeys = append(l.newKeys, key)
	l.accepted++
	return true
}

// TryReserveDetail atomically reserves one detail-page slot for the URL,
// failing on duplicates and once the detail cap is reached.
func (l *Ledger) TryReserveDetail(url string) bool {
	if url == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detailCnt >= l.detailCap {
		return false
	}
	if _, dup := l.details[url]; dup {
		return false
	}
	l.details[url] = struct{}{}
	l.detailCnt++
	return true
}

// CapReached reports whether the global record cap has been satisfied.
func (l *Ledger) CapReached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepted >= l.cap
}

// Accepted returns the number of records accepted so far.
func (l *Ledger) Accepted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepted
}

// DetailCount returns the number of detail slots reserved so far.
func (l *Ledger) DetailCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detailCnt
}

// NewKeys returns the keys accepted during this run, in acceptance order.
func (l *Ledger) NewKeys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.newKeys))
	copy(out, l.newKeys)
	return out
}

// Size returns the total number of known keys, seeded ones included.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
