package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"github.com/ritikjain6521/indeed-scraper/internal/config"
	"github.com/ritikjain6521/indeed-scraper/pkg/types"
)

// SQLWriter persists records and company profiles into a SQL database.
type SQLWriter struct {
	db          *sql.DB
	autoMigrate bool
}

// NewSQLWriter initialises a SQLWriter from configuration.
func NewSQLWriter(cfg config.SQLConfig) (*SQLWriter, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	writer := &SQLWriter{
		db:          db,
		autoMigrate: cfg.AutoMigrate,
	}
	if cfg.AutoMigrate {
		if err := writer.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return writer, nil
}

// AppendRecords inserts scraped records, skipping keys already present. The
// ledger filters duplicates within and across runs, so a conflicting key here
// means an earlier run already stored the row.
func (s *SQLWriter) AppendRecords(ctx context.Context, records []types.Record) error {
	if s == nil || s.db == nil {
		return nil
	}
	insert := func(ctx context.Context) error {
		for _, rec := range records {
			if err := s.insertRecord(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	}
	if err := insert(ctx); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := insert(ctx); retryErr != nil {
				return fmt.Errorf("insert records: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("insert records: %w", err)
	}
	return nil
}

func (s *SQLWriter) insertRecord(ctx context.Context, rec types.Record) error {
	query := `
        INSERT INTO jobs (key, title, company, location, salary, link, page_index, source, extracted_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (key) DO NOTHING
    `
	_, err := s.db.ExecContext(ctx, query,
		rec.Key,
		rec.Title,
		rec.Company,
		rec.Location,
		rec.Salary,
		rec.Link,
		rec.PageIndex,
		string(rec.Source),
		rec.ExtractedAt,
	)
	return err
}

// AppendCompanies upserts company profiles keyed by profile URL.
func (s *SQLWriter) AppendCompanies(ctx context.Context, companies []types.CompanyDetail) error {
	if s == nil || s.db == nil {
		return nil
	}
	insert := func(ctx context.Context) error {
		for _, c := range companies {
			if err := s.upsertCompany(ctx, c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := insert(ctx); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := insert(ctx); retryErr != nil {
				return fmt.Errorf("insert companies: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("insert companies: %w", err)
	}
	return nil
}

func (s *SQLWriter) upsertCompany(ctx context.Context, c types.CompanyDetail) error {
	query := `
        INSERT INTO companies (url, name, website, industry, size, headquarters, revenue, scraped_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (url) DO UPDATE SET
            name = EXCLUDED.name,
            website = EXCLUDED.website,
            industry = EXCLUDED.industry,
            size = EXCLUDED.size,
            headquarters = EXCLUDED.headquarters,
            revenue = EXCLUDED.revenue,
            scraped_at = EXCLUDED.scraped_at
    `
	_, err := s.db.ExecContext(ctx, query,
		c.URL,
		c.Name,
		c.Website,
		c.Industry,
		c.Size,
		c.Headquarters,
		c.Revenue,
		c.ScrapedAt,
	)
	return err
}

// Close closes the underlying DB connection.
func (s *SQLWriter) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDSN := parsed.String()
	adminDB, err := sql.Open(cfg.Driver, adminDSN)
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func (s *SQLWriter) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
		    key TEXT PRIMARY KEY,
		    title TEXT,
		    company TEXT,
		    location TEXT,
		    salary TEXT,
		    link TEXT,
		    page_index INT,
		    source TEXT,
		    extracted_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_extracted_at ON jobs (extracted_at DESC)`,
		`CREATE TABLE IF NOT EXISTS companies (
		    url TEXT PRIMARY KEY,
		    name TEXT,
		    website TEXT,
		    industry TEXT,
		    size TEXT,
		    headquarters TEXT,
		    revenue TEXT,
		    scraped_at TIMESTAMPTZ
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
