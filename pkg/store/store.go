// Package store defines the storage interface for analysis results and its
// SQLite implementation.
package store

import (
	"github.com/lteinsight/emmkpi/pkg/model"
)

// SchemaVersion is incremented when schema changes require re-analysis.
const SchemaVersion = 1

// Store is the write side of the KPI result database.
type Store interface {
	// Lifecycle
	Close() error

	// Metadata
	GetMeta() (*model.RunMeta, error)
	SetMeta(meta *model.RunMeta) error

	// Write operations (used by the ingest pipeline)
	Writer
}

// Writer defines the write-side operations for the ingest pipeline.
// Inserts are only valid inside a batch.
type Writer interface {
	// BeginBatch starts a batch write transaction.
	BeginBatch() error

	// CommitBatch commits the current batch.
	CommitBatch() error

	// RollbackBatch rolls back the current batch.
	RollbackBatch() error

	// InsertRun creates the run row; totals are filled by UpdateRun.
	InsertRun(r *model.RunMeta) error

	// UpdateRun writes the run's final totals.
	UpdateRun(r *model.RunMeta) error

	// InsertMessage inserts a message summary.
	InsertMessage(m *model.MessageSummary) error

	// InsertMessages inserts multiple message summaries.
	InsertMessages(msgs []*model.MessageSummary) error

	// InsertFailure inserts a classified failure.
	InsertFailure(f *model.FailureRecord) error

	// InsertFailures inserts multiple classified failures.
	InsertFailures(failures []*model.FailureRecord) error

	// InsertIncomplete inserts an unfinished instance.
	InsertIncomplete(i *model.IncompleteRecord) error

	// InsertIncompletes inserts multiple unfinished instances.
	InsertIncompletes(incs []*model.IncompleteRecord) error
}
