// Package store manages the SQLite database holding local health records.
// Each entity (weight, diet, exercise, sleep, steps) gets its own table; all
// tables share one schema with the payload stored as JSON.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/pmahlen/vitalsync/internal/record"
)

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS records_%[1]s (
    local_id    INTEGER PRIMARY KEY AUTOINCREMENT,
    remote_id   INTEGER,
    owner_id    INTEGER NOT NULL,
    period_key  TEXT    NOT NULL DEFAULT '',
    payload     TEXT    NOT NULL,
    sync_status INTEGER NOT NULL DEFAULT 0,
    sync_error  TEXT    NOT NULL DEFAULT '',
    created_at  TEXT    NOT NULL DEFAULT '',
    updated_at  TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_remote ON records_%[1]s (remote_id) WHERE remote_id IS NOT NULL;
CREATE INDEX        IF NOT EXISTS idx_%[1]s_owner  ON records_%[1]s (owner_id);
CREATE INDEX        IF NOT EXISTS idx_%[1]s_status ON records_%[1]s (owner_id, sync_status);
CREATE INDEX        IF NOT EXISTS idx_%[1]s_period ON records_%[1]s (owner_id, period_key);
`

// DB is the shared SQLite handle. One DB backs every entity's [Store].
type DB struct {
	sql *sql.DB
}

// DefaultPath returns the default path for the local database:
// ~/.local/share/vitalsync/records.db
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "vitalsync", "records.db"), nil
}

// Open opens (or creates) the SQLite database at path and configures WAL mode
// for better concurrent read performance.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	return &DB{sql: db}, nil
}

// Close releases the underlying database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Store is the SQLite-backed record repository for one entity. The payload
// type is serialised as JSON; the period function, when non-nil, derives the
// uniqueness key enforced by [Store.Insert].
type Store[P any] struct {
	db     *sql.DB
	table  string
	period record.PeriodFunc[P]
}

// New creates a Store for the named entity on the shared DB, applying the
// entity's schema idempotently (CREATE IF NOT EXISTS). period may be nil for
// entities without a one-per-period rule.
func New[P any](db *DB, entity string, period record.PeriodFunc[P]) (*Store[P], error) {
	if _, err := db.sql.Exec(fmt.Sprintf(schemaTemplate, entity)); err != nil {
		return nil, fmt.Errorf("applying schema for %s: %w", entity, err)
	}
	return &Store[P]{db: db.sql, table: "records_" + entity, period: period}, nil
}

// periodOf returns the record's period key, or "" when the entity has no
// uniqueness rule.
func (s *Store[P]) periodOf(payload P) string {
	if s.period == nil {
		return ""
	}
	return s.period(payload)
}

// Insert adds a locally created record and assigns its LocalID. For entities
// with a period rule it first checks, synchronously and before any network
// activity, that no non-superseded record occupies the same (owner, period);
// if one does it returns [record.ErrDuplicatePeriod]. Records already marked
// for deletion do not block the insert.
func (s *Store[P]) Insert(ctx context.Context, rec *record.Record[P]) error {
	periodKey := s.periodOf(rec.Payload)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if periodKey != "" {
		if err := s.checkPeriodFree(ctx, tx, rec.OwnerID, periodKey, 0); err != nil {
			return err
		}
	}

	if err := s.insertTx(ctx, tx, rec, periodKey); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing insert: %w", err)
	}
	return nil
}

// InsertFromRemote adds a record pulled from the server without the period
// check. Pull matches records by remote ID, not period; any period collision
// this creates is resolved by the deduplication step that follows the pull.
func (s *Store[P]) InsertFromRemote(ctx context.Context, rec *record.Record[P]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertTx(ctx, tx, rec, s.periodOf(rec.Payload)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing insert: %w", err)
	}
	return nil
}

func (s *Store[P]) insertTx(ctx context.Context, tx *sql.Tx, rec *record.Record[P], periodKey string) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s
		    (remote_id, owner_id, period_key, payload, sync_status, sync_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	res, err := tx.ExecContext(ctx, q,
		nullableID(rec.RemoteID),
		rec.OwnerID,
		periodKey,
		string(payload),
		rec.Status,
		rec.SyncError,
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted id: %w", err)
	}
	rec.LocalID = id
	return nil
}

// Update persists the record's current payload, status, and remote identity.
// An edit that moves a live record onto a (owner, period) already occupied by
// a different live record is rejected with [record.ErrDuplicatePeriod] — the
// same synchronous check [Store.Insert] runs. Tombstones are exempt: a record
// marked for deletion no longer claims its period, so status-only updates to
// it cannot collide with whatever took the period over.
// Returns [record.ErrNotFound] if the LocalID no longer exists.
func (s *Store[P]) Update(ctx context.Context, rec *record.Record[P]) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	periodKey := s.periodOf(rec.Payload)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning update transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if periodKey != "" && rec.Status != record.StatusNeedsDelete {
		if err := s.checkPeriodFree(ctx, tx, rec.OwnerID, periodKey, rec.LocalID); err != nil {
			return err
		}
	}

	q := fmt.Sprintf(`
		UPDATE %s SET
		    remote_id   = ?,
		    period_key  = ?,
		    payload     = ?,
		    sync_status = ?,
		    sync_error  = ?,
		    updated_at  = ?
		WHERE local_id = ?`, s.table)

	res, err := tx.ExecContext(ctx, q,
		nullableID(rec.RemoteID),
		periodKey,
		string(payload),
		rec.Status,
		rec.SyncError,
		formatTime(rec.UpdatedAt),
		rec.LocalID,
	)
	if err != nil {
		return fmt.Errorf("updating record %d: %w", rec.LocalID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("record %d: %w", rec.LocalID, record.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing update: %w", err)
	}
	return nil
}

// checkPeriodFree reports [record.ErrDuplicatePeriod] when a live record
// other than excludeID already holds (ownerID, periodKey). Tombstones never
// count as occupants.
func (s *Store[P]) checkPeriodFree(ctx context.Context, tx *sql.Tx, ownerID int64, periodKey string, excludeID int64) error {
	q := fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE owner_id = ? AND period_key = ? AND sync_status != ? AND local_id != ?`,
		s.table)
	var n int
	if err := tx.QueryRowContext(ctx, q, ownerID, periodKey, record.StatusNeedsDelete, excludeID).Scan(&n); err != nil {
		return fmt.Errorf("checking period uniqueness: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("owner %d period %s: %w", ownerID, periodKey, record.ErrDuplicatePeriod)
	}
	return nil
}

// Delete removes the record from the local store.
func (s *Store[P]) Delete(ctx context.Context, rec *record.Record[P]) error {
	return s.DeleteByID(ctx, rec.LocalID)
}

// DeleteByID removes the record with the given local ID.
func (s *Store[P]) DeleteByID(ctx context.Context, localID int64) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE local_id = ?`, s.table)
	if _, err := s.db.ExecContext(ctx, q, localID); err != nil {
		return fmt.Errorf("deleting record %d: %w", localID, err)
	}
	return nil
}

const recordColumns = `local_id, remote_id, owner_id, payload, sync_status, sync_error, created_at, updated_at`

// GetByID returns the record with the given local ID, or (nil, nil) if no
// such record exists.
func (s *Store[P]) GetByID(ctx context.Context, localID int64) (*record.Record[P], error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE local_id = ?`, recordColumns, s.table)
	return scanRecord[P](s.db.QueryRowContext(ctx, q, localID))
}

// GetByRemoteID returns the record with the given remote ID, or (nil, nil)
// if no such record exists.
func (s *Store[P]) GetByRemoteID(ctx context.Context, remoteID int64) (*record.Record[P], error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE remote_id = ?`, recordColumns, s.table)
	return scanRecord[P](s.db.QueryRowContext(ctx, q, remoteID))
}

// ListByOwner returns all records belonging to the owner, oldest first.
func (s *Store[P]) ListByOwner(ctx context.Context, ownerID int64) ([]*record.Record[P], error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = ? ORDER BY local_id`, recordColumns, s.table)
	return s.list(ctx, q, ownerID)
}

// ListByStatus returns the owner's records currently in the given status.
func (s *Store[P]) ListByStatus(ctx context.Context, ownerID int64, status record.SyncStatus) ([]*record.Record[P], error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = ? AND sync_status = ? ORDER BY local_id`, recordColumns, s.table)
	return s.list(ctx, q, ownerID, status)
}

// ListByOwnerAndPeriod returns the owner's records for one period key.
func (s *Store[P]) ListByOwnerAndPeriod(ctx context.Context, ownerID int64, periodKey string) ([]*record.Record[P], error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = ? AND period_key = ? ORDER BY local_id`, recordColumns, s.table)
	return s.list(ctx, q, ownerID, periodKey)
}

func (s *Store[P]) list(ctx context.Context, query string, args ...any) ([]*record.Record[P], error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.table, err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*record.Record[P]
	for rows.Next() {
		rec, err := scanRecord[P](rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanRecord can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord[P any](sc scanner) (*record.Record[P], error) {
	var rec record.Record[P]
	var remoteID sql.NullInt64
	var payload string
	var createdAt, updatedAt string

	err := sc.Scan(
		&rec.LocalID,
		&remoteID,
		&rec.OwnerID,
		&payload,
		&rec.Status,
		&rec.SyncError,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning record row: %w", err)
	}

	if remoteID.Valid {
		rec.RemoteID = &remoteID.Int64
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, fmt.Errorf("decoding payload of record %d: %w", rec.LocalID, err)
	}
	rec.CreatedAt, _ = parseTime(createdAt)
	rec.UpdatedAt, _ = parseTime(updatedAt)

	return &rec, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
