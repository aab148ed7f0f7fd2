package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/fleetworks/invoicebot/internal/intake"
)

const (
	postgresSessionTable     = "invoicebot_sessions"
	postgresDedupTable       = "invoicebot_dedup"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore keeps sessions and dedup records in two TTL-stamped tables.
// Expiry is lazy: expired rows read as absent and are reclaimed in place.
type PostgresStore struct {
	dsn    string
	opts   Options
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string, opts Options) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{
		dsn:    dsn,
		opts:   opts.withDefaults(),
		openDB: sql.Open,
	}, nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, chatID int64) (*intake.Draft, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT draft FROM %s WHERE chat_id = $1 AND expires_at > NOW()",
		postgresQuoteIdentifier(postgresSessionTable))
	var payload string
	err := s.db.QueryRowContext(ctx, query, chatID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var d intake.Draft
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) SetDraft(ctx context.Context, chatID int64, d *intake.Draft) error {
	if d == nil {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (chat_id, draft, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 second')
		ON CONFLICT (chat_id)
		DO UPDATE SET draft = EXCLUDED.draft, expires_at = EXCLUDED.expires_at`,
		postgresQuoteIdentifier(postgresSessionTable))
	_, err = s.db.ExecContext(ctx, query, chatID, string(payload), int64(s.opts.SessionTTL.Seconds()))
	return err
}

func (s *PostgresStore) DeleteDraft(ctx context.Context, chatID int64) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE chat_id = $1", postgresQuoteIdentifier(postgresSessionTable))
	_, err := s.db.ExecContext(ctx, query, chatID)
	return err
}

// Seen is a single statement so concurrent deliveries of the same key race
// on the database's conflict resolution, not on application state: exactly
// one caller gets rows-affected 1 (fresh claim or reclaim of an expired
// key) and every other caller gets 0.
func (s *PostgresStore) Seen(ctx context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	table := postgresQuoteIdentifier(postgresDedupTable)
	query := fmt.Sprintf(`
		INSERT INTO %s (dedup_key, expires_at)
		VALUES ($1, NOW() + $2 * INTERVAL '1 second')
		ON CONFLICT (dedup_key)
		DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE %s.expires_at <= NOW()`, table, table)
	res, err := s.db.ExecContext(ctx, query, key, int64(s.opts.DedupTTL.Seconds()))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 0, nil
}

func (s *PostgresStore) Committed(ctx context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT EXISTS (SELECT 1 FROM %s WHERE dedup_key = $1 AND expires_at > NOW())",
		postgresQuoteIdentifier(postgresDedupTable))
	var committed bool
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&committed); err != nil {
		return false, err
	}
	return committed, nil
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		statements := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					chat_id BIGINT PRIMARY KEY,
					draft TEXT NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL
				)`, postgresQuoteIdentifier(postgresSessionTable)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					dedup_key TEXT PRIMARY KEY,
					expires_at TIMESTAMPTZ NOT NULL
				)`, postgresQuoteIdentifier(postgresDedupTable)),
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
