// Package query provides unified query interfaces for reporting and export.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lteinsight/emmkpi/pkg/model"
	"github.com/lteinsight/emmkpi/pkg/store/sqlite"
)

// SQLiteEngine implements Engine using SQLite storage.
type SQLiteEngine struct {
	store   *sqlite.SQLiteStore
	logPath string
}

// NewSQLiteEngine creates a new SQLite-backed query engine.
func NewSQLiteEngine(store *sqlite.SQLiteStore, logPath string) *SQLiteEngine {
	return &SQLiteEngine{
		store:   store,
		logPath: logPath,
	}
}

// NewFromLog opens an existing analysis database for a log file.
func NewFromLog(logPath string) (*SQLiteEngine, error) {
	store, err := sqlite.NewFromLog(logPath, true) // read-only
	if err != nil {
		return nil, fmt.Errorf("open analysis db: %w", err)
	}
	return NewSQLiteEngine(store, logPath), nil
}

// Close closes the underlying store.
func (e *SQLiteEngine) Close() error {
	return e.store.Close()
}

// GetFailure retrieves a single failure by ID.
func (e *SQLiteEngine) GetFailure(ctx context.Context, id string) (*model.FailureRecord, error) {
	row := e.store.DB().QueryRowContext(ctx, `
		SELECT id, run_id, instance_id, procedure, category, kpi,
		       timestamp_ns, start_ns, msg_index, message,
		       cause_code, cause_text, detail
		FROM failures WHERE id = ?`, id)

	return scanFailure(row)
}

// GetFailures retrieves failures with optional filtering.
func (e *SQLiteEngine) GetFailures(ctx context.Context, filter FailureFilter) ([]*model.FailureRecord, error) {
	query := `SELECT id, run_id, instance_id, procedure, category, kpi,
	                 timestamp_ns, start_ns, msg_index, message,
	                 cause_code, cause_text, detail
	          FROM failures WHERE 1=1`

	args := []interface{}{}

	if filter.Procedure != "" {
		query += " AND procedure = ?"
		args = append(args, filter.Procedure)
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.KPI != "" {
		query += " AND kpi = ?"
		args = append(args, filter.KPI)
	}
	if filter.CauseCode > 0 {
		query += " AND cause_code = ?"
		args = append(args, filter.CauseCode)
	}
	if filter.SearchText != "" {
		query += " AND detail LIKE ?"
		args = append(args, "%"+filter.SearchText+"%")
	}
	if !filter.StartTime.IsZero() {
		query += " AND timestamp_ns >= ?"
		args = append(args, filter.StartTime.UnixNano())
	}
	if !filter.EndTime.IsZero() {
		query += " AND timestamp_ns <= ?"
		args = append(args, filter.EndTime.UnixNano())
	}

	// Sorting
	sortCol := "timestamp_ns"
	if filter.SortBy != "" {
		switch filter.SortBy {
		case "procedure":
			sortCol = "procedure"
		case "kpi":
			sortCol = "kpi"
		case "msg_index":
			sortCol = "msg_index"
		}
	}
	sortOrder := "ASC"
	if filter.SortOrder == "desc" {
		sortOrder = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, instance_id %s", sortCol, sortOrder, sortOrder)

	// Pagination
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var failures []*model.FailureRecord
	for rows.Next() {
		f, err := scanFailureRow(rows)
		if err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// GetFailureCount returns total failure count.
func (e *SQLiteEngine) GetFailureCount(ctx context.Context) (int, error) {
	var count int
	err := e.store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM failures").Scan(&count)
	return count, err
}

// GetKPITotals returns per-counter failure totals.
func (e *SQLiteEngine) GetKPITotals(ctx context.Context) ([]*model.KPITotal, error) {
	rows, err := e.store.DB().QueryContext(ctx, `
		SELECT kpi, procedure, category, COUNT(*) as cnt
		FROM failures
		GROUP BY kpi
		ORDER BY cnt DESC, kpi ASC`)
	if err != nil {
		return nil, fmt.Errorf("query kpi totals: %w", err)
	}
	defer rows.Close()

	var totals []*model.KPITotal
	for rows.Next() {
		var t model.KPITotal
		if err := rows.Scan(&t.KPI, &t.Procedure, &t.Category, &t.Count); err != nil {
			return nil, err
		}
		totals = append(totals, &t)
	}
	return totals, rows.Err()
}

// GetIncompletes returns the instances still open when the stream ended.
func (e *SQLiteEngine) GetIncompletes(ctx context.Context) ([]*model.IncompleteRecord, error) {
	rows, err := e.store.DB().QueryContext(ctx, `
		SELECT run_id, instance_id, procedure, state, start_ns, retries
		FROM incompletes
		ORDER BY start_ns ASC, instance_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query incompletes: %w", err)
	}
	defer rows.Close()

	var incs []*model.IncompleteRecord
	for rows.Next() {
		i := &model.IncompleteRecord{}
		if err := rows.Scan(&i.RunID, &i.InstanceID, &i.Procedure, &i.State, &i.StartNS, &i.Retries); err != nil {
			return nil, err
		}
		incs = append(incs, i)
	}
	return incs, rows.Err()
}

// GetMessage retrieves a single message by stream index.
func (e *SQLiteEngine) GetMessage(ctx context.Context, index int) (*model.MessageSummary, error) {
	row := e.store.DB().QueryRowContext(ctx, `
		SELECT run_id, idx, timestamp_ns, layer, type_code, type_name,
		       direction, cause_code, ies
		FROM messages WHERE idx = ?`, index)

	return scanMessage(row)
}

// GetMessages retrieves messages with optional filtering.
func (e *SQLiteEngine) GetMessages(ctx context.Context, filter MessageFilter) ([]*model.MessageSummary, error) {
	query := `SELECT run_id, idx, timestamp_ns, layer, type_code, type_name,
	                 direction, cause_code, ies
	          FROM messages WHERE 1=1`

	args := []interface{}{}

	if filter.Layer != "" {
		query += " AND layer = ?"
		args = append(args, filter.Layer)
	}
	if filter.TypeCode > 0 {
		query += " AND type_code = ?"
		args = append(args, filter.TypeCode)
	}
	if filter.Direction != "" {
		query += " AND direction = ?"
		args = append(args, filter.Direction)
	}
	if !filter.StartTime.IsZero() {
		query += " AND timestamp_ns >= ?"
		args = append(args, filter.StartTime.UnixNano())
	}
	if !filter.EndTime.IsZero() {
		query += " AND timestamp_ns <= ?"
		args = append(args, filter.EndTime.UnixNano())
	}

	// Sorting
	sortCol := "idx"
	if filter.SortBy != "" {
		switch filter.SortBy {
		case "timestamp":
			sortCol = "timestamp_ns"
		case "type":
			sortCol = "type_code"
		}
	}
	sortOrder := "ASC"
	if filter.SortOrder == "desc" {
		sortOrder = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortCol, sortOrder)

	// Pagination
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.MessageSummary
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessageWindow returns messages with indexes in [center-radius, center+radius].
// Used to show the exchange surrounding a failure's deciding message.
func (e *SQLiteEngine) GetMessageWindow(ctx context.Context, center, radius int) ([]*model.MessageSummary, error) {
	rows, err := e.store.DB().QueryContext(ctx, `
		SELECT run_id, idx, timestamp_ns, layer, type_code, type_name,
		       direction, cause_code, ies
		FROM messages
		WHERE idx >= ? AND idx <= ?
		ORDER BY idx ASC`,
		center-radius, center+radius)
	if err != nil {
		return nil, fmt.Errorf("query message window: %w", err)
	}
	defer rows.Close()

	var msgs []*model.MessageSummary
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessageCount returns total message count.
func (e *SQLiteEngine) GetMessageCount(ctx context.Context) (int, error) {
	var count int
	err := e.store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count)
	return count, err
}

// GetOverview returns high-level summary.
func (e *SQLiteEngine) GetOverview(ctx context.Context) (*Overview, error) {
	overview := &Overview{
		LogPath:     e.logPath,
		ByProcedure: make(map[string]int),
		ByCategory:  make(map[string]int),
	}

	// Get meta
	meta, err := e.store.GetMeta()
	if err == nil {
		overview.LogSize = meta.LogSize
		overview.RunID = meta.RunID
		overview.AnalyzedAt = meta.AnalyzedAt
		overview.TotalMessages = meta.Messages
		overview.Skipped = meta.Skipped
		overview.OutOfOrder = meta.OutOfOrder
		overview.Incomplete = meta.Incomplete
	}

	// Get time range from messages
	row := e.store.DB().QueryRowContext(ctx, `
		SELECT MIN(timestamp_ns), MAX(timestamp_ns) FROM messages`)
	var minNS, maxNS sql.NullInt64
	row.Scan(&minNS, &maxNS)
	if minNS.Valid && maxNS.Valid {
		overview.StartTime = time.Unix(0, minNS.Int64).UTC()
		overview.EndTime = time.Unix(0, maxNS.Int64).UTC()
		overview.Duration = overview.EndTime.Sub(overview.StartTime)
	}

	// Failure counts
	overview.TotalFailures, _ = e.GetFailureCount(ctx)

	rows, err := e.store.DB().QueryContext(ctx, `
		SELECT procedure, COUNT(*) FROM failures GROUP BY procedure`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var proc string
		var count int
		if err := rows.Scan(&proc, &count); err != nil {
			rows.Close()
			return nil, err
		}
		overview.ByProcedure[proc] = count
	}
	rows.Close()

	rows, err = e.store.DB().QueryContext(ctx, `
		SELECT category, COUNT(*) FROM failures GROUP BY category`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var cat string
		var count int
		if err := rows.Scan(&cat, &count); err != nil {
			rows.Close()
			return nil, err
		}
		overview.ByCategory[cat] = count
	}
	rows.Close()

	// Top counters
	overview.TopKPIs, _ = e.GetKPITotals(ctx)
	if len(overview.TopKPIs) > 10 {
		overview.TopKPIs = overview.TopKPIs[:10]
	}

	return overview, nil
}

// GetRunMeta returns run metadata.
func (e *SQLiteEngine) GetRunMeta(ctx context.Context) (*model.RunMeta, error) {
	return e.store.GetMeta()
}

// IsAnalyzed returns whether the log has a complete analysis.
func (e *SQLiteEngine) IsAnalyzed(ctx context.Context) bool {
	meta, err := e.store.GetMeta()
	return err == nil && meta.Complete
}

// GetLogPath returns the log file path.
func (e *SQLiteEngine) GetLogPath(ctx context.Context) string {
	return e.logPath
}

// ────────────────────────────────────────────────────────────────────────────────
// Scanner helpers
// ────────────────────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFailure(row rowScanner) (*model.FailureRecord, error) {
	f := &model.FailureRecord{}
	var msgIndex, causeCode sql.NullInt64
	var message, causeText, detail sql.NullString

	err := row.Scan(
		&f.ID, &f.RunID, &f.InstanceID, &f.Procedure, &f.Category, &f.KPI,
		&f.TimestampNS, &f.StartNS, &msgIndex, &message,
		&causeCode, &causeText, &detail,
	)
	if err != nil {
		return nil, err
	}

	f.MsgIndex = int(msgIndex.Int64)
	f.Message = message.String
	f.CauseCode = int(causeCode.Int64)
	f.CauseText = causeText.String
	f.Detail = detail.String

	return f, nil
}

func scanFailureRow(rows *sql.Rows) (*model.FailureRecord, error) {
	return scanFailure(rows)
}

func scanMessage(row rowScanner) (*model.MessageSummary, error) {
	m := &model.MessageSummary{}
	var typeCode, causeCode sql.NullInt64
	var typeName, direction, ies sql.NullString

	err := row.Scan(
		&m.RunID, &m.Index, &m.TimestampNS, &m.Layer, &typeCode, &typeName,
		&direction, &causeCode, &ies,
	)
	if err != nil {
		return nil, err
	}

	m.TypeCode = int(typeCode.Int64)
	m.TypeName = typeName.String
	m.Direction = direction.String
	m.CauseCode = int(causeCode.Int64)

	if ies.Valid && ies.String != "" {
		json.Unmarshal([]byte(ies.String), &m.IEs)
	}

	return m, nil
}

func scanMessageRow(rows *sql.Rows) (*model.MessageSummary, error) {
	return scanMessage(rows)
}
