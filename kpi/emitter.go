// Package kpi carries classified failure events from the diagnosis
// engine to their destinations: JSONL streams, the analysis store, or
// several at once.
package kpi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/lteinsight/emmkpi/diag"
	"github.com/lteinsight/emmkpi/pkg/model"
	"github.com/lteinsight/emmkpi/pkg/store"
)

// Emitter extends diag.Emitter with a Close that flushes buffered output.
type Emitter interface {
	diag.Emitter
	Close() error
}

// Record converts a classified failure event into its storage form.
func Record(runID string, ev *diag.FailureEvent) *model.FailureRecord {
	r := &model.FailureRecord{
		ID:          ev.ID,
		RunID:       runID,
		InstanceID:  ev.InstanceID,
		Procedure:   string(ev.Procedure),
		Category:    string(ev.Category),
		KPI:         ev.KPI(),
		TimestampNS: ev.Timestamp.UnixNano(),
		StartNS:     ev.Start.UnixNano(),
		MsgIndex:    ev.MsgIndex,
		Detail:      ev.Detail,
	}
	if ev.Message != 0 {
		r.Message = ev.Message.String()
	}
	if ev.Cause != 0 {
		r.CauseCode = int(ev.Cause)
		r.CauseText = ev.Cause.String()
	}
	return r
}

// ────────────────────────────────────────────────────────────────────────────────
// WriterEmitter
// ────────────────────────────────────────────────────────────────────────────────

// jsonEvent is the JSONL envelope: the event fields plus the computed
// KPI identifier.
type jsonEvent struct {
	*diag.FailureEvent
	KPI string `json:"kpi"`
}

// WriterEmitter writes one JSON line per failure event.
type WriterEmitter struct {
	mu sync.Mutex
	w  *bufio.Writer
	c  io.Closer // set when the emitter owns the underlying file
}

// NewWriterEmitter wraps an io.Writer. The caller keeps ownership of
// the writer; Close only flushes.
func NewWriterEmitter(w io.Writer) *WriterEmitter {
	return &WriterEmitter{w: bufio.NewWriter(w)}
}

// NewFileEmitter creates the named file and writes events to it. Close
// flushes and closes the file.
func NewFileEmitter(path string) (*WriterEmitter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	e := NewWriterEmitter(f)
	e.c = f
	return e, nil
}

// Emit writes the event as one JSON line.
func (e *WriterEmitter) Emit(ev *diag.FailureEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	line, err := json.Marshal(jsonEvent{ev, ev.KPI()})
	if err != nil {
		return err
	}
	if _, err := e.w.Write(line); err != nil {
		return err
	}
	return e.w.WriteByte('\n')
}

// Close flushes buffered lines and closes the file when owned.
func (e *WriterEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.w.Flush()
	if e.c != nil {
		if cerr := e.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ────────────────────────────────────────────────────────────────────────────────
// StoreEmitter
// ────────────────────────────────────────────────────────────────────────────────

// StoreEmitter converts failure events to storage records. Records are
// buffered in memory; failure volume is small next to message volume.
// Callers that manage their own store batches call Flush inside a
// batch, everyone else gets a single batch on Close.
type StoreEmitter struct {
	mu    sync.Mutex
	store store.Store
	runID string
	buf   []*model.FailureRecord
}

// NewStoreEmitter creates an emitter writing to the given store under
// the given run ID.
func NewStoreEmitter(s store.Store, runID string) *StoreEmitter {
	return &StoreEmitter{store: s, runID: runID}
}

// Emit buffers the converted record.
func (e *StoreEmitter) Emit(ev *diag.FailureEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf = append(e.buf, Record(e.runID, ev))
	return nil
}

// Buffered returns the number of records awaiting a flush.
func (e *StoreEmitter) Buffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}

// Flush writes the buffered records into the batch currently open on
// the store and clears the buffer.
func (e *StoreEmitter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.buf) == 0 {
		return nil
	}
	if err := e.store.InsertFailures(e.buf); err != nil {
		return err
	}
	e.buf = e.buf[:0]
	return nil
}

// Close writes any remaining records in a batch of its own. The store
// stays open; its lifetime belongs to the caller.
func (e *StoreEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.buf) == 0 {
		return nil
	}
	if err := e.store.BeginBatch(); err != nil {
		return err
	}
	if err := e.store.InsertFailures(e.buf); err != nil {
		e.store.RollbackBatch()
		return err
	}
	e.buf = e.buf[:0]
	return e.store.CommitBatch()
}

// ────────────────────────────────────────────────────────────────────────────────
// MultiEmitter
// ────────────────────────────────────────────────────────────────────────────────

// MultiEmitter fans each event out to several emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter combines emitters. A nil entry is skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit delivers the event to every emitter, stopping on the first error.
func (m *MultiEmitter) Emit(ev *diag.FailureEvent) error {
	for _, e := range m.emitters {
		if err := e.Emit(ev); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every emitter and returns the first error.
func (m *MultiEmitter) Close() error {
	var first error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
