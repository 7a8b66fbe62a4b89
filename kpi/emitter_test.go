package kpi

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lteinsight/emmkpi/diag"
	"github.com/lteinsight/emmkpi/nas"
	"github.com/lteinsight/emmkpi/pkg/model"
)

func sampleEvent() *diag.FailureEvent {
	ts := time.Date(2025, 3, 10, 9, 0, 25, 0, time.UTC)
	return &diag.FailureEvent{
		ID:         "auth-1",
		Procedure:  diag.ProcAuthentication,
		Category:   diag.CatSynch,
		Timestamp:  ts,
		Start:      ts.Add(-25 * time.Second),
		InstanceID: "auth-1",
		MsgIndex:   3,
		Message:    nas.MsgAuthFailure,
		Cause:      nas.CauseSynchFailure,
		Detail:     "Authentication Failure with EMM cause Synch failure",
	}
}

func TestRecordConversion(t *testing.T) {
	ev := sampleEvent()
	r := Record("run-42", ev)

	if r.ID != "auth-1" {
		t.Errorf("Expected ID auth-1, got %s", r.ID)
	}
	if r.RunID != "run-42" {
		t.Errorf("Expected run ID run-42, got %s", r.RunID)
	}
	if r.Procedure != "Authentication" {
		t.Errorf("Expected procedure Authentication, got %s", r.Procedure)
	}
	if r.KPI != "KPI.Retainability.AUTH_SYNCH_FAILURE" {
		t.Errorf("Expected synch KPI, got %s", r.KPI)
	}
	if r.TimestampNS != ev.Timestamp.UnixNano() {
		t.Errorf("Expected timestamp %d, got %d", ev.Timestamp.UnixNano(), r.TimestampNS)
	}
	if r.StartNS != ev.Start.UnixNano() {
		t.Errorf("Expected start %d, got %d", ev.Start.UnixNano(), r.StartNS)
	}
	if r.Message != "Authentication Failure" {
		t.Errorf("Expected message name, got %q", r.Message)
	}
	if r.CauseCode != 21 {
		t.Errorf("Expected cause code 21, got %d", r.CauseCode)
	}
	if r.CauseText != "Synch failure" {
		t.Errorf("Expected cause text, got %q", r.CauseText)
	}
}

func TestRecordWithoutCause(t *testing.T) {
	ev := sampleEvent()
	ev.Message = 0
	ev.Cause = 0

	r := Record("run-1", ev)
	if r.Message != "" {
		t.Errorf("Expected empty message, got %q", r.Message)
	}
	if r.CauseCode != 0 || r.CauseText != "" {
		t.Errorf("Expected no cause, got %d %q", r.CauseCode, r.CauseText)
	}
}

func TestWriterEmitterJSONL(t *testing.T) {
	var buf bytes.Buffer
	e := NewWriterEmitter(&buf)

	ev := sampleEvent()
	if err := e.Emit(ev); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	ev2 := sampleEvent()
	ev2.ID = "auth-2"
	ev2.InstanceID = "auth-2"
	ev2.Category = diag.CatMAC
	ev2.Cause = nas.CauseMACFailure
	if err := e.Emit(ev2); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}

	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("Line 1 is not valid JSON: %v", err)
	}
	if first["kpi"] != "KPI.Retainability.AUTH_SYNCH_FAILURE" {
		t.Errorf("Expected kpi field, got %v", first["kpi"])
	}
	if first["instance_id"] != "auth-1" {
		t.Errorf("Expected instance auth-1, got %v", first["instance_id"])
	}

	var second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("Line 2 is not valid JSON: %v", err)
	}
	if second["kpi"] != "KPI.Retainability.AUTH_MAC_FAILURE" {
		t.Errorf("Expected MAC kpi, got %v", second["kpi"])
	}
}

// fakeStore records writer calls for emitter tests.
type fakeStore struct {
	batches   int
	open      bool
	committed bool
	failures  []*model.FailureRecord
}

func (f *fakeStore) Close() error                                           { return nil }
func (f *fakeStore) GetMeta() (*model.RunMeta, error)                       { return &model.RunMeta{}, nil }
func (f *fakeStore) SetMeta(meta *model.RunMeta) error                      { return nil }
func (f *fakeStore) InsertRun(r *model.RunMeta) error                       { return nil }
func (f *fakeStore) UpdateRun(r *model.RunMeta) error                       { return nil }
func (f *fakeStore) InsertMessage(m *model.MessageSummary) error            { return nil }
func (f *fakeStore) InsertMessages(msgs []*model.MessageSummary) error      { return nil }
func (f *fakeStore) InsertIncomplete(i *model.IncompleteRecord) error       { return nil }
func (f *fakeStore) InsertIncompletes(incs []*model.IncompleteRecord) error { return nil }

func (f *fakeStore) BeginBatch() error {
	if f.open {
		return errors.New("batch already in progress")
	}
	f.open = true
	f.batches++
	return nil
}

func (f *fakeStore) CommitBatch() error {
	if !f.open {
		return errors.New("no batch in progress")
	}
	f.open = false
	f.committed = true
	return nil
}

func (f *fakeStore) RollbackBatch() error {
	f.open = false
	return nil
}

func (f *fakeStore) InsertFailure(r *model.FailureRecord) error {
	if !f.open {
		return errors.New("no batch in progress")
	}
	f.failures = append(f.failures, r)
	return nil
}

func (f *fakeStore) InsertFailures(rs []*model.FailureRecord) error {
	for _, r := range rs {
		if err := f.InsertFailure(r); err != nil {
			return err
		}
	}
	return nil
}

func TestStoreEmitterCloseWritesOneBatch(t *testing.T) {
	fs := &fakeStore{}
	e := NewStoreEmitter(fs, "run-7")

	ev := sampleEvent()
	if err := e.Emit(ev); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	ev2 := sampleEvent()
	ev2.InstanceID = "auth-2"
	if err := e.Emit(ev2); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	if e.Buffered() != 2 {
		t.Errorf("Expected 2 buffered records, got %d", e.Buffered())
	}
	if len(fs.failures) != 0 {
		t.Errorf("Expected no inserts before Close, got %d", len(fs.failures))
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if fs.batches != 1 {
		t.Errorf("Expected 1 batch, got %d", fs.batches)
	}
	if !fs.committed {
		t.Error("Expected batch to be committed")
	}
	if len(fs.failures) != 2 {
		t.Fatalf("Expected 2 inserted records, got %d", len(fs.failures))
	}
	if fs.failures[0].RunID != "run-7" {
		t.Errorf("Expected run-7, got %s", fs.failures[0].RunID)
	}

	// Nothing left to write
	if err := e.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	if fs.batches != 1 {
		t.Errorf("Expected no extra batch, got %d", fs.batches)
	}
}

func TestStoreEmitterFlushUsesOpenBatch(t *testing.T) {
	fs := &fakeStore{}
	e := NewStoreEmitter(fs, "run-8")

	if err := e.Emit(sampleEvent()); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	if err := fs.BeginBatch(); err != nil {
		t.Fatalf("BeginBatch failed: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := fs.CommitBatch(); err != nil {
		t.Fatalf("CommitBatch failed: %v", err)
	}

	if len(fs.failures) != 1 {
		t.Fatalf("Expected 1 inserted record, got %d", len(fs.failures))
	}
	if e.Buffered() != 0 {
		t.Errorf("Expected empty buffer after flush, got %d", e.Buffered())
	}
}

func TestMultiEmitterFanOut(t *testing.T) {
	var a, b bytes.Buffer
	m := NewMultiEmitter(NewWriterEmitter(&a), nil, NewWriterEmitter(&b))

	if err := m.Emit(sampleEvent()); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if a.Len() == 0 || b.Len() == 0 {
		t.Error("Expected both emitters to receive the event")
	}
	if a.String() != b.String() {
		t.Error("Expected identical output from both emitters")
	}
}
