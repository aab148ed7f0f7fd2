package writer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/fleetworks/invoicebot/internal/intake"
)

const (
	postgresEntriesTable     = "invoicebot_entries"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStrategy keeps entries in one table keyed on msg_key. It doubles
// as the stats source for the periodic digests.
type PostgresStrategy struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStrategy(dsn string) (*PostgresStrategy, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("entries dsn is required")
	}
	return &PostgresStrategy{dsn: dsn, openDB: sql.Open}, nil
}

func (s *PostgresStrategy) Name() string { return "postgres" }

func (s *PostgresStrategy) Write(ctx context.Context, e intake.Entry) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (msg_key, ts, asset, unit, linked_unit, location, repair, total, paid_by, comments, reporter, file_id, file_url)
		VALUES ($1, $2::timestamptz, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (msg_key)
		DO UPDATE SET
			ts = EXCLUDED.ts,
			asset = EXCLUDED.asset,
			unit = EXCLUDED.unit,
			linked_unit = EXCLUDED.linked_unit,
			location = EXCLUDED.location,
			repair = EXCLUDED.repair,
			total = EXCLUDED.total,
			paid_by = EXCLUDED.paid_by,
			comments = EXCLUDED.comments,
			reporter = EXCLUDED.reporter,
			file_id = EXCLUDED.file_id,
			file_url = EXCLUDED.file_url`,
		quoteIdentifier(postgresEntriesTable))
	_, err := s.db.ExecContext(ctx, query,
		e.MsgKey, e.Timestamp, e.AssetType, e.UnitNumber, e.LinkedUnit, e.Location,
		e.Repair, e.Total, e.PaidBy, e.Comments, e.Reporter, e.FileID, e.FileURL)
	return err
}

// Stats is the digest summary over the stored entries.
type Stats struct {
	WeekCount  int64
	WeekTotal  float64
	MonthCount int64
	MonthTotal float64
}

// Totals aggregates the trailing seven days and the calendar month to date.
func (s *PostgresStrategy) Totals(ctx context.Context) (Stats, error) {
	if err := s.ensureReady(); err != nil {
		return Stats{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE ts >= NOW() - INTERVAL '7 days'),
			COALESCE(SUM(total) FILTER (WHERE ts >= NOW() - INTERVAL '7 days'), 0),
			COUNT(*) FILTER (WHERE ts >= date_trunc('month', NOW())),
			COALESCE(SUM(total) FILTER (WHERE ts >= date_trunc('month', NOW())), 0)
		FROM %s`,
		quoteIdentifier(postgresEntriesTable))
	var stats Stats
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.WeekCount, &stats.WeekTotal, &stats.MonthCount, &stats.MonthTotal)
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (s *PostgresStrategy) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStrategy) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		statement := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				msg_key TEXT PRIMARY KEY,
				ts TIMESTAMPTZ NOT NULL,
				asset TEXT NOT NULL,
				unit TEXT NOT NULL,
				linked_unit TEXT NOT NULL DEFAULT '',
				location TEXT NOT NULL,
				repair TEXT NOT NULL,
				total DOUBLE PRECISION NOT NULL,
				paid_by TEXT NOT NULL,
				comments TEXT NOT NULL DEFAULT '',
				reporter TEXT NOT NULL DEFAULT '',
				file_id TEXT NOT NULL DEFAULT '',
				file_url TEXT NOT NULL DEFAULT ''
			)`, quoteIdentifier(postgresEntriesTable))
		if _, err := db.ExecContext(ctx, statement); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
