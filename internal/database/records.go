package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/sha3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/fastcrawl/internal/model"
)

// FileName is the SQLite file created inside the database directory.
const FileName = "fastcrawl.db"

// ErrNotFound is returned by Open when the database must already exist.
var ErrNotFound = errors.New("database not found")

// RecordStore is the SQLite storage for records and runs.
type RecordStore struct {
	db     *sql.DB
	dbPath string
}

// Options configures RecordStore behavior.
type Options struct {
	// CreateIfNotExists creates the directory and the database file.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the store in dbDir.
func Open(dbDir string, opts Options) (*RecordStore, error) {
	dbPath := filepath.Join(dbDir, FileName)

	dsn := dbPath + "?mode=rwc"
	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
		dsn = dbPath + "?mode=rw"
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &RecordStore{db: db, dbPath: dbPath}
	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

// Path returns the database file path.
func (s *RecordStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

func (s *RecordStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		fingerprint TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		url TEXT NOT NULL,
		payload TEXT NOT NULL,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		times_seen INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_records_stage ON records(stage);
	CREATE INDEX IF NOT EXISTS idx_records_url ON records(url);
	CREATE INDEX IF NOT EXISTS idx_records_last_seen ON records(last_seen);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chain TEXT NOT NULL,
		stage TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		batches INTEGER NOT NULL,
		requests INTEGER NOT NULL,
		records INTEGER NOT NULL,
		fetch_failures INTEGER NOT NULL,
		extract_failures INTEGER NOT NULL,
		discovered INTEGER NOT NULL,
		handed_off INTEGER NOT NULL,
		stopped INTEGER NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_chain ON runs(chain);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// Fingerprint identifies a record by its stage and JSON payload.
func Fingerprint(stage string, payload []byte) string {
	h := sha3.New256()
	h.Write([]byte(stage))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// StoredRecord is a record as persisted.
type StoredRecord struct {
	Fingerprint string
	Stage       string
	URL         string
	// Payload is the record encoded as a JSON object.
	Payload   string
	FirstSeen time.Time
	LastSeen  time.Time
	TimesSeen int
}

// NewStoredRecord encodes r for storage.
func NewStoredRecord(r *model.Record) (*StoredRecord, error) {
	payload, err := r.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return &StoredRecord{
		Fingerprint: Fingerprint(r.Stage, payload),
		Stage:       r.Stage,
		URL:         r.URL,
		Payload:     string(payload),
	}, nil
}

// UpsertRecords inserts new records and refreshes the ones already stored,
// in one transaction. It returns how many records were new.
func (s *RecordStore) UpsertRecords(ctx context.Context, records []*StoredRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var before int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&before); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	query := `
	INSERT INTO records (fingerprint, stage, url, payload, first_seen, last_seen, times_seen)
	VALUES (?, ?, ?, ?, ?, ?, 1)
	ON CONFLICT(fingerprint) DO UPDATE SET
		url = excluded.url,
		last_seen = excluded.last_seen,
		times_seen = records.times_seen + 1
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Fingerprint, r.Stage, r.URL, r.Payload, now, now); err != nil {
			return 0, fmt.Errorf("failed to upsert record %s: %w", r.URL, err)
		}
	}

	var after int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&after); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit records: %w", err)
	}
	return after - before, nil
}

// GetRecord returns the record with fingerprint, or nil when it is unknown.
func (s *RecordStore) GetRecord(ctx context.Context, fingerprint string) (*StoredRecord, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT fingerprint, stage, url, payload, first_seen, last_seen, times_seen
	FROM records WHERE fingerprint = ?`, fingerprint)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return r, nil
}

// ListRecords returns the records of stage, most recently seen first.
// An empty stage lists every stage; a limit of zero lists everything.
func (s *RecordStore) ListRecords(ctx context.Context, stage string, limit int) ([]*StoredRecord, error) {
	query := `
	SELECT fingerprint, stage, url, payload, first_seen, last_seen, times_seen
	FROM records
	WHERE (? = '' OR stage = ?)
	ORDER BY last_seen DESC, fingerprint
	`
	args := []any{stage, stage}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*StoredRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRecords returns the number of stored records of stage, or of every
// stage when stage is empty.
func (s *RecordStore) CountRecords(ctx context.Context, stage string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE (? = '' OR stage = ?)", stage, stage).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// ListStages returns the stages that stored at least one record.
func (s *RecordStore) ListStages(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT stage FROM records ORDER BY stage")
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []string
	for rows.Next() {
		var stage string
		if err := rows.Scan(&stage); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

// StoredRun is a finished stage run as persisted.
type StoredRun struct {
	ID int64
	model.StageStats
}

// SaveRun stores the statistics of one stage run.
func (s *RecordStore) SaveRun(ctx context.Context, st model.StageStats) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
	INSERT INTO runs (chain, stage, started_at, finished_at, batches, requests, records,
		fetch_failures, extract_failures, discovered, handed_off, stopped, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.Chain, st.Stage,
		st.StartedAt.UTC().Format(time.RFC3339Nano),
		st.FinishedAt.UTC().Format(time.RFC3339Nano),
		st.Batches, st.Requests, st.Records,
		st.FetchFailures, st.ExtractFailures,
		st.Discovered, st.HandedOff,
		st.Stopped, st.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}
	return result.LastInsertId()
}

// ListRuns returns the runs of chain, newest first. An empty chain lists
// every run.
func (s *RecordStore) ListRuns(ctx context.Context, chain string, limit int) ([]StoredRun, error) {
	query := `
	SELECT id, chain, stage, started_at, finished_at, batches, requests, records,
		fetch_failures, extract_failures, discovered, handed_off, stopped, error
	FROM runs
	WHERE (? = '' OR chain = ?)
	ORDER BY id DESC
	`
	args := []any{chain, chain}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []StoredRun
	for rows.Next() {
		var (
			run               StoredRun
			started, finished string
			runErr            sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Chain, &run.Stage, &started, &finished,
			&run.Batches, &run.Requests, &run.Records,
			&run.FetchFailures, &run.ExtractFailures,
			&run.Discovered, &run.HandedOff, &run.Stopped, &runErr); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = parseTimestamp(started)
		run.FinishedAt = parseTimestamp(finished)
		run.Error = runErr.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*StoredRecord, error) {
	var (
		r                   StoredRecord
		firstSeen, lastSeen string
	)
	if err := row.Scan(&r.Fingerprint, &r.Stage, &r.URL, &r.Payload, &firstSeen, &lastSeen, &r.TimesSeen); err != nil {
		return nil, err
	}
	r.FirstSeen = parseTimestamp(firstSeen)
	r.LastSeen = parseTimestamp(lastSeen)
	return &r, nil
}

// timestampFormats contains the timestamp formats that SQLite may return.
var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp returns the zero time when s matches no known format.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
