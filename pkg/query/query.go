// Package query provides unified query interfaces for reporting and export.
// All data access should go through this package instead of directly accessing store.
package query

import (
	"context"
	"time"

	"github.com/lteinsight/emmkpi/pkg/model"
)

// Engine provides the main query interface.
type Engine interface {
	// Failure queries
	GetFailure(ctx context.Context, id string) (*model.FailureRecord, error)
	GetFailures(ctx context.Context, filter FailureFilter) ([]*model.FailureRecord, error)
	GetFailureCount(ctx context.Context) (int, error)
	GetKPITotals(ctx context.Context) ([]*model.KPITotal, error)

	// Incomplete instance queries
	GetIncompletes(ctx context.Context) ([]*model.IncompleteRecord, error)

	// Message queries
	GetMessage(ctx context.Context, index int) (*model.MessageSummary, error)
	GetMessages(ctx context.Context, filter MessageFilter) ([]*model.MessageSummary, error)
	GetMessageWindow(ctx context.Context, center, radius int) ([]*model.MessageSummary, error)
	GetMessageCount(ctx context.Context) (int, error)

	// Summary
	GetOverview(ctx context.Context) (*Overview, error)

	// Meta
	GetRunMeta(ctx context.Context) (*model.RunMeta, error)
	IsAnalyzed(ctx context.Context) bool
	GetLogPath(ctx context.Context) string
}

// FailureFilter defines filters for failure queries.
type FailureFilter struct {
	// Offset for pagination
	Offset int
	// Limit for pagination (0 means no limit)
	Limit int

	// Classification filters
	Procedure string
	Category  string
	KPI       string

	// Cause filter (0 means no filter; causes are 1..111)
	CauseCode int

	// Text search in detail
	SearchText string

	// Time range
	StartTime time.Time
	EndTime   time.Time

	// Sorting
	SortBy    string // "timestamp", "procedure", "kpi", "msg_index"
	SortOrder string // "asc", "desc"
}

// MessageFilter defines filters for message queries.
type MessageFilter struct {
	Offset int
	Limit  int

	// Layer filter ("nas-emm", "rrc")
	Layer string

	// Message type filter (0 means no filter; NAS codes are 65..255)
	TypeCode int

	// Direction filter ("uplink", "downlink")
	Direction string

	// Time range
	StartTime time.Time
	EndTime   time.Time

	// Sorting
	SortBy    string // "index", "timestamp", "type"
	SortOrder string // "asc", "desc"
}

// Overview provides high-level summary information.
type Overview struct {
	// File info
	LogPath    string
	LogSize    int64
	RunID      string
	AnalyzedAt time.Time

	// Stream info
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	TotalMessages int
	Skipped       int
	OutOfOrder    int

	// Failure summary
	TotalFailures int
	ByProcedure   map[string]int
	ByCategory    map[string]int
	TopKPIs       []*model.KPITotal

	// Instances still open at end of stream
	Incomplete int
}
