// Package sqlite provides the SQLite implementation of store.Store.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lteinsight/emmkpi/pkg/model"
)

// SQLite schema version for migrations.
const schemaVersion = 1

// Config holds configuration for the SQLite store.
type Config struct {
	// Path to the SQLite database file.
	// If empty, defaults to <logfile>.kpi.db
	DBPath string

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// WAL enables WAL mode for better concurrency.
	WAL bool
}

// SQLiteStore is the SQLite implementation of store.Store.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config

	// Write transaction state
	mu    sync.Mutex
	tx    *sql.Tx
	stmts map[string]*sql.Stmt // Prepared statements within tx
}

// New creates a new SQLite store.
func New(cfg Config) (*SQLiteStore, error) {
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := cfg.DBPath
	params := "?_foreign_keys=on"
	if cfg.ReadOnly {
		params += "&mode=ro"
	}
	if cfg.WAL {
		params += "&_journal_mode=WAL"
	}
	dsn += params

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer keeps SQLite happy.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:    db,
		path:  cfg.DBPath,
		cfg:   cfg,
		stmts: make(map[string]*sql.Stmt),
	}

	if !cfg.ReadOnly {
		if err := s.initSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return s, nil
}

// NewFromLog creates a store with the standard naming convention.
func NewFromLog(logPath string, readOnly bool) (*SQLiteStore, error) {
	return New(Config{
		DBPath:   logPath + ".kpi.db",
		ReadOnly: readOnly,
		WAL:      !readOnly,
	})
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// DB returns the underlying database connection for direct queries.
// Use with caution - prefer the Store interface methods.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ────────────────────────────────────────────────────────────────────────────────
// Schema Initialization
// ────────────────────────────────────────────────────────────────────────────────

func (s *SQLiteStore) initSchema() error {
	schema := `
-- Meta table for run metadata
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

-- Analysis runs
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	log_path     TEXT NOT NULL,
	analyzed_ns  INTEGER NOT NULL,
	messages     INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	out_of_order INTEGER NOT NULL DEFAULT 0,
	failures     INTEGER NOT NULL DEFAULT 0,
	incomplete   INTEGER NOT NULL DEFAULT 0,
	duration_ns  INTEGER NOT NULL DEFAULT 0,
	complete     INTEGER NOT NULL DEFAULT 0
);

-- Message summaries (no raw bytes; evidence stays in the source log)
CREATE TABLE IF NOT EXISTS messages (
	run_id       TEXT NOT NULL,
	idx          INTEGER NOT NULL,
	timestamp_ns INTEGER NOT NULL,
	layer        TEXT NOT NULL,
	type_code    INTEGER,
	type_name    TEXT,
	direction    TEXT,
	cause_code   INTEGER,
	ies          TEXT,     -- JSON map of decoded IE display values
	PRIMARY KEY (run_id, idx),
	FOREIGN KEY (run_id) REFERENCES runs(id)
);

-- Classified failures
CREATE TABLE IF NOT EXISTS failures (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	instance_id  TEXT NOT NULL,
	procedure    TEXT NOT NULL,
	category     TEXT NOT NULL,
	kpi          TEXT NOT NULL,
	timestamp_ns INTEGER NOT NULL,
	start_ns     INTEGER NOT NULL,
	msg_index    INTEGER,
	message      TEXT,
	cause_code   INTEGER,
	cause_text   TEXT,
	detail       TEXT,
	FOREIGN KEY (run_id) REFERENCES runs(id)
);

-- Instances the stream ended on
CREATE TABLE IF NOT EXISTS incompletes (
	run_id      TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	procedure   TEXT NOT NULL,
	state       TEXT NOT NULL,
	start_ns    INTEGER NOT NULL,
	retries     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, instance_id),
	FOREIGN KEY (run_id) REFERENCES runs(id)
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_messages_type ON messages(type_code);

CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(run_id);
CREATE INDEX IF NOT EXISTS idx_failures_kpi ON failures(kpi);
CREATE INDEX IF NOT EXISTS idx_failures_procedure ON failures(procedure);
CREATE INDEX IF NOT EXISTS idx_failures_category ON failures(category);
CREATE INDEX IF NOT EXISTS idx_failures_timestamp ON failures(timestamp_ns);

CREATE INDEX IF NOT EXISTS idx_incompletes_run ON incompletes(run_id);
`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	_, err = s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		"schema_version", fmt.Sprintf("%d", schemaVersion))
	return err
}

// Reset clears all analysis rows and marks the stored run incomplete.
// Called before reanalyzing a changed log.
func (s *SQLiteStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return fmt.Errorf("batch in progress")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM failures`,
		`DELETE FROM incompletes`,
		`DELETE FROM messages`,
		`DELETE FROM runs`,
		`INSERT OR REPLACE INTO meta (key, value) VALUES ('complete', 'false')`,
	}
	for _, q := range stmts {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	return tx.Commit()
}

// ────────────────────────────────────────────────────────────────────────────────
// Metadata Operations
// ────────────────────────────────────────────────────────────────────────────────

// GetMeta retrieves the run metadata.
func (s *SQLiteStore) GetMeta() (*model.RunMeta, error) {
	meta := &model.RunMeta{}

	rows, err := s.db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case "schema_version":
			fmt.Sscanf(value, "%d", &meta.SchemaVersion)
		case "run_id":
			meta.RunID = value
		case "log_path":
			meta.LogPath = value
		case "log_size":
			fmt.Sscanf(value, "%d", &meta.LogSize)
		case "log_modified":
			t, _ := time.Parse(time.RFC3339Nano, value)
			meta.LogModified = t
		case "analyzed_at":
			t, _ := time.Parse(time.RFC3339Nano, value)
			meta.AnalyzedAt = t
		case "messages":
			fmt.Sscanf(value, "%d", &meta.Messages)
		case "skipped":
			fmt.Sscanf(value, "%d", &meta.Skipped)
		case "out_of_order":
			fmt.Sscanf(value, "%d", &meta.OutOfOrder)
		case "failures":
			fmt.Sscanf(value, "%d", &meta.Failures)
		case "incomplete":
			fmt.Sscanf(value, "%d", &meta.Incomplete)
		case "duration_ns":
			fmt.Sscanf(value, "%d", &meta.DurationNS)
		case "complete":
			meta.Complete = value == "true"
		}
	}

	return meta, rows.Err()
}

// SetMeta stores the run metadata.
func (s *SQLiteStore) SetMeta(meta *model.RunMeta) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	pairs := []struct{ k, v string }{
		{"schema_version", fmt.Sprintf("%d", meta.SchemaVersion)},
		{"run_id", meta.RunID},
		{"log_path", meta.LogPath},
		{"log_size", fmt.Sprintf("%d", meta.LogSize)},
		{"log_modified", meta.LogModified.Format(time.RFC3339Nano)},
		{"analyzed_at", meta.AnalyzedAt.Format(time.RFC3339Nano)},
		{"messages", fmt.Sprintf("%d", meta.Messages)},
		{"skipped", fmt.Sprintf("%d", meta.Skipped)},
		{"out_of_order", fmt.Sprintf("%d", meta.OutOfOrder)},
		{"failures", fmt.Sprintf("%d", meta.Failures)},
		{"incomplete", fmt.Sprintf("%d", meta.Incomplete)},
		{"duration_ns", fmt.Sprintf("%d", meta.DurationNS)},
		{"complete", fmt.Sprintf("%t", meta.Complete)},
	}

	for _, p := range pairs {
		if _, err := stmt.Exec(p.k, p.v); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ────────────────────────────────────────────────────────────────────────────────
// Batch Write Operations
// ────────────────────────────────────────────────────────────────────────────────

// BeginBatch starts a batch write transaction.
func (s *SQLiteStore) BeginBatch() error {
	s.mu.Lock()
	if s.tx != nil {
		s.mu.Unlock()
		return fmt.Errorf("batch already in progress")
	}

	tx, err := s.db.Begin()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.tx = tx
	s.stmts = make(map[string]*sql.Stmt)
	s.mu.Unlock()
	return nil
}

// CommitBatch commits the current batch.
func (s *SQLiteStore) CommitBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = nil

	err := s.tx.Commit()
	s.tx = nil
	return err
}

// RollbackBatch rolls back the current batch.
func (s *SQLiteStore) RollbackBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}

	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = nil

	err := s.tx.Rollback()
	s.tx = nil
	return err
}

func (s *SQLiteStore) getStmt(name, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmts[name]; ok {
		return stmt, nil
	}

	stmt, err := s.tx.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmts[name] = stmt
	return stmt, nil
}

// InsertRun creates the run row with its totals still zero.
func (s *SQLiteStore) InsertRun(r *model.RunMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	const query = `INSERT INTO runs (id, log_path, analyzed_ns) VALUES (?, ?, ?)`

	stmt, err := s.getStmt("insert_run", query)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(r.RunID, r.LogPath, r.AnalyzedAt.UnixNano())
	return err
}

// UpdateRun writes the run's final totals.
func (s *SQLiteStore) UpdateRun(r *model.RunMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	const query = `UPDATE runs SET
		messages = ?, skipped = ?, out_of_order = ?,
		failures = ?, incomplete = ?, duration_ns = ?, complete = ?
		WHERE id = ?`

	stmt, err := s.getStmt("update_run", query)
	if err != nil {
		return err
	}

	complete := 0
	if r.Complete {
		complete = 1
	}
	_, err = stmt.Exec(
		r.Messages, r.Skipped, r.OutOfOrder,
		r.Failures, r.Incomplete, r.DurationNS, complete,
		r.RunID,
	)
	return err
}

// InsertMessage inserts a single message summary.
func (s *SQLiteStore) InsertMessage(m *model.MessageSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	var iesJSON []byte
	if len(m.IEs) > 0 {
		iesJSON, _ = json.Marshal(m.IEs)
	}

	const query = `INSERT INTO messages (
		run_id, idx, timestamp_ns, layer, type_code, type_name,
		direction, cause_code, ies
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := s.getStmt("insert_message", query)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(
		m.RunID, m.Index, m.TimestampNS, m.Layer, m.TypeCode, m.TypeName,
		m.Direction, m.CauseCode, string(iesJSON),
	)
	return err
}

// InsertMessages inserts multiple message summaries.
func (s *SQLiteStore) InsertMessages(msgs []*model.MessageSummary) error {
	for _, m := range msgs {
		if err := s.InsertMessage(m); err != nil {
			return err
		}
	}
	return nil
}

// InsertFailure inserts a classified failure.
func (s *SQLiteStore) InsertFailure(f *model.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	const query = `INSERT INTO failures (
		id, run_id, instance_id, procedure, category, kpi,
		timestamp_ns, start_ns, msg_index, message,
		cause_code, cause_text, detail
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := s.getStmt("insert_failure", query)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(
		f.ID, f.RunID, f.InstanceID, f.Procedure, f.Category, f.KPI,
		f.TimestampNS, f.StartNS, f.MsgIndex, f.Message,
		f.CauseCode, f.CauseText, f.Detail,
	)
	return err
}

// InsertFailures inserts multiple classified failures.
func (s *SQLiteStore) InsertFailures(failures []*model.FailureRecord) error {
	for _, f := range failures {
		if err := s.InsertFailure(f); err != nil {
			return err
		}
	}
	return nil
}

// InsertIncomplete inserts an unfinished instance.
func (s *SQLiteStore) InsertIncomplete(i *model.IncompleteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	const query = `INSERT INTO incompletes (
		run_id, instance_id, procedure, state, start_ns, retries
	) VALUES (?, ?, ?, ?, ?, ?)`

	stmt, err := s.getStmt("insert_incomplete", query)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(i.RunID, i.InstanceID, i.Procedure, i.State, i.StartNS, i.Retries)
	return err
}

// InsertIncompletes inserts multiple unfinished instances.
func (s *SQLiteStore) InsertIncompletes(incs []*model.IncompleteRecord) error {
	for _, i := range incs {
		if err := s.InsertIncomplete(i); err != nil {
			return err
		}
	}
	return nil
}
