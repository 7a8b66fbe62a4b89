// Package model defines the storage-side records of an analysis run.
// These are flat, storage-friendly projections (int64 nanosecond
// timestamps, no raw bytes); evidence stays in the source log, referenced
// by message index.
package model

import (
	"sort"
	"time"
)

// RunMeta describes one analysis run over a decoded log. It doubles as
// the staleness check for cached results: a run is reusable only when
// the log path, size and schema version still match.
type RunMeta struct {
	SchemaVersion int    `json:"schema_version"`
	RunID         string `json:"run_id"`

	LogPath     string    `json:"log_path"`
	LogSize     int64     `json:"log_size"`
	LogModified time.Time `json:"log_modified"`
	AnalyzedAt  time.Time `json:"analyzed_at"`

	Messages   int   `json:"messages"`
	Skipped    int   `json:"skipped"`
	OutOfOrder int   `json:"out_of_order"`
	Failures   int   `json:"failures"`
	Incomplete int   `json:"incomplete"`
	DurationNS int64 `json:"duration_ns"`
	Complete   bool  `json:"complete"`
}

// MessageSummary is the storage form of one replayed signaling message.
// The IE map keeps only decoded display values; raw PDUs are not stored.
type MessageSummary struct {
	RunID       string            `json:"run_id"`
	Index       int               `json:"index"`
	TimestampNS int64             `json:"timestamp_ns"`
	Layer       string            `json:"layer"`
	TypeCode    int               `json:"type_code,omitempty"`
	TypeName    string            `json:"type_name,omitempty"`
	Direction   string            `json:"direction,omitempty"`
	CauseCode   int               `json:"cause_code,omitempty"`
	IEs         map[string]string `json:"ies,omitempty"`
}

// Timestamp returns the message timestamp as time.Time.
func (m *MessageSummary) Timestamp() time.Time {
	return time.Unix(0, m.TimestampNS)
}

// FailureRecord is the storage form of one classified failure event.
// MsgIndex points back at the triggering message in the source log.
type FailureRecord struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	InstanceID  string `json:"instance_id"`
	Procedure   string `json:"procedure"`
	Category    string `json:"category"`
	KPI         string `json:"kpi"`
	TimestampNS int64  `json:"timestamp_ns"`
	StartNS     int64  `json:"start_ns"`
	MsgIndex    int    `json:"msg_index,omitempty"`
	Message     string `json:"message,omitempty"`
	CauseCode   int    `json:"cause_code,omitempty"`
	CauseText   string `json:"cause_text,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Timestamp returns the abort time.
func (f *FailureRecord) Timestamp() time.Time {
	return time.Unix(0, f.TimestampNS)
}

// Start returns the instance start time.
func (f *FailureRecord) Start() time.Time {
	return time.Unix(0, f.StartNS)
}

// IncompleteRecord is an instance the stream ended on before it reached
// a terminal state.
type IncompleteRecord struct {
	RunID      string `json:"run_id"`
	InstanceID string `json:"instance_id"`
	Procedure  string `json:"procedure"`
	State      string `json:"state"`
	StartNS    int64  `json:"start_ns"`
	Retries    int    `json:"retries,omitempty"`
}

// Start returns the instance start time.
func (i *IncompleteRecord) Start() time.Time {
	return time.Unix(0, i.StartNS)
}

// KPITotal is one row of the failure counter rollup.
type KPITotal struct {
	KPI       string `json:"kpi"`
	Procedure string `json:"procedure"`
	Category  string `json:"category"`
	Count     int    `json:"count"`
}

// SortFailuresByTime orders failures by abort time, instance ID as the
// tie break, so reports render deterministically.
func SortFailuresByTime(failures []*FailureRecord) {
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].TimestampNS != failures[j].TimestampNS {
			return failures[i].TimestampNS < failures[j].TimestampNS
		}
		return failures[i].InstanceID < failures[j].InstanceID
	})
}
