package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ritikjain6521/indeed-scraper/internal/config"
	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

// Sink persists scraped records and company profiles.
type Sink interface {
	AppendRecords(ctx context.Context, records []types.Record) error
	AppendCompanies(ctx context.Context, companies []types.CompanyDetail) error
	Close() error
}

// Pipeline fans writes out to every configured sink.
type Pipeline struct {
	sinks []Sink
}

// NewPipeline builds the sink fan-out from configuration. A run with no sinks
// at all is almost certainly a misconfiguration, so that is an error.
func NewPipeline(cfg config.StorageConfig) (*Pipeline, error) {
	var sinks []Sink
	if cfg.DB.Driver != "" && cfg.DB.DSN != "" {
		sqlSink, err := NewSQLWriter(cfg.DB)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sqlSink)
	}
	if cfg.OutputDir != "" {
		sinks = append(sinks, NewJSONLWriter(cfg.OutputDir))
	}
	if len(sinks) == 0 {
		return nil, errors.New("no storage sinks configured")
	}
	return &Pipeline{sinks: sinks}, nil
}

// AppendRecords writes the batch to every sink.
func (p *Pipeline) AppendRecords(ctx context.Context, records []types.Record) error {
	if p == nil || len(records) == 0 {
		return nil
	}
	for _, s := range p.sinks {
		if err := s.AppendRecords(ctx, records); err != nil {
			return fmt.Errorf("append records: %w", err)
		}
	}
	return nil
}

// AppendCompanies writes the batch to every sink.
func (p *Pipeline) AppendCompanies(ctx context.Context, companies []types.CompanyDetail) error {
	if p == nil || len(companies) == 0 {
		return nil
	}
	for _, s := range p.sinks {
		if err := s.AppendCompanies(ctx, companies); err != nil {
			return fmt.Errorf("append companies: %w", err)
		}
	}
	return nil
}

// Close closes every sink, returning the first failure.
func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}
	var firstErr error
	for _, s := range p.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WriteSummary persists the end-of-run summary next to the record files.
func WriteSummary(outputDir string, summary any) error {
	if outputDir == "" {
		return nil
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(outputDir, "summary.json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
