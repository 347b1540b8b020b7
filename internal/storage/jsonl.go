package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

// JSONLWriter appends records and company profiles to JSON Lines files under
// a directory. Files are opened lazily so an all-duplicate run leaves no
// empty artifacts behind.
type JSONLWriter struct {
	dir string

	mu        sync.Mutex
	records   *os.File
	companies *os.File
}

// NewJSONLWriter returns a writer rooted at dir.
func NewJSONLWriter(dir string) *JSONLWriter {
	return &JSONLWriter{dir: dir}
}

// AppendRecords appends one JSON object per record to records.jsonl.
func (w *JSONLWriter) AppendRecords(ctx context.Context, records []types.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.records == nil {
		fh, err := w.open("records.jsonl")
		if err != nil {
			return err
		}
		w.records = fh
	}
	for _, rec := range records {
		if err := writeLine(w.records, rec); err != nil {
			return err
		}
	}
	return nil
}

// AppendCompanies appends one JSON object per profile to companies.jsonl.
func (w *JSONLWriter) AppendCompanies(ctx context.Context, companies []types.CompanyDetail) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.companies == nil {
		fh, err := w.open("companies.jsonl")
		if err != nil {
			return err
		}
		w.companies = fh
	}
	for _, c := range companies {
		if err := writeLine(w.companies, c); err != nil {
			return err
		}
	}
	return nil
}

// Close closes any open files.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for _, fh := range []*os.File{w.records, w.companies} {
		if fh == nil {
			continue
		}
		if err := fh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.records = nil
	w.companies = nil
	return firstErr
}

func (w *JSONLWriter) open(name string) (*os.File, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(w.dir, name)
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return fh, nil
}

func writeLine(fh *os.File, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := fh.Write(payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
