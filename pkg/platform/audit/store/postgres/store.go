package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	audit "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/sentinel"
)

// Schema creates the audit_records table when it does not exist. The chain
// columns are owned by the external verification workflow.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id               BIGSERIAL PRIMARY KEY,
	event_type       TEXT        NOT NULL,
	user_id          TEXT        NOT NULL,
	action           TEXT        NOT NULL DEFAULT '',
	timestamp        TIMESTAMPTZ NOT NULL DEFAULT now(),
	transaction_hash TEXT UNIQUE,
	block_number     BIGINT,
	ipfs_hash        TEXT,
	verified         BOOLEAN,
	gas_used         BIGINT,
	metadata         TEXT        NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_audit_records_event_type ON audit_records (event_type);
CREATE INDEX IF NOT EXISTS idx_audit_records_user_id ON audit_records (user_id);
CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records (timestamp DESC, id DESC);
`

// Store is the Postgres-backed system of record.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle. A nil db yields an unavailable store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Name() string { return "database" }

func (s *Store) Available() bool { return s != nil && s.db != nil }

// EnsureSchema creates the table and indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if !s.Available() {
		return sentinel.ErrNotConfigured
	}
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if !s.Available() {
		return sentinel.ErrNotConfigured
	}
	return s.db.PingContext(ctx)
}

// Append inserts the record and returns the id and timestamp assigned by the
// database.
func (s *Store) Append(ctx context.Context, rec audit.Record) (int64, time.Time, error) {
	if !s.Available() {
		return 0, time.Time{}, sentinel.ErrNotConfigured
	}
	query := `
		INSERT INTO audit_records (event_type, user_id, action, ipfs_hash, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, timestamp
	`
	var (
		id int64
		ts time.Time
	)
	err := s.db.QueryRowContext(ctx, query,
		rec.EventType,
		rec.UserID,
		rec.Action,
		rec.ArchiveRef,
		rec.Metadata,
	).Scan(&id, &ts)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("insert audit record: %w", classify(err))
	}
	return id, ts.UTC(), nil
}

// Query lists records newest first. Filters are ANDed.
func (s *Store) Query(ctx context.Context, q audit.RecordQuery) ([]audit.Record, error) {
	if !s.Available() {
		return nil, sentinel.ErrNotConfigured
	}

	var (
		where []string
		args  []any
	)
	if q.EventType != "" {
		args = append(args, q.EventType)
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if q.UserID != "" {
		args = append(args, q.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`
		SELECT id, event_type, user_id, action, timestamp,
			   ipfs_hash, metadata, verified, transaction_hash, block_number, gas_used
		FROM audit_records`)
	if len(where) > 0 {
		b.WriteString("\n\t\tWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString("\n\t\tORDER BY timestamp DESC, id DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, "\n\t\tLIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", classify(err))
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	records := make([]audit.Record, 0)

	for rows.Next() {
		var (
			rec         audit.Record
			archiveRef  sql.NullString
			verified    sql.NullBool
			txHash      sql.NullString
			blockNumber sql.NullInt64
			gasUsed     sql.NullInt64
		)
		err := rows.Scan(
			&rec.ID,
			&rec.EventType,
			&rec.UserID,
			&rec.Action,
			&rec.Timestamp,
			&archiveRef,
			&rec.Metadata,
			&verified,
			&txHash,
			&blockNumber,
			&gasUsed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		if archiveRef.Valid {
			rec.ArchiveRef = &archiveRef.String
		}
		if verified.Valid {
			rec.Verified = &verified.Bool
		}
		if txHash.Valid {
			rec.ChainTxHash = &txHash.String
		}
		if blockNumber.Valid {
			rec.ChainBlockNumber = &blockNumber.Int64
		}
		if gasUsed.Valid {
			rec.GasUsed = &gasUsed.Int64
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

// classify tags connection-class Postgres failures as unavailable so the
// caller can tell an outage from a rejected statement.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return errors.Join(sentinel.ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(sentinel.ErrUnavailable, err)
	}
	return err
}
