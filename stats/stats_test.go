package stats

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/lteinsight/emmkpi/diag"
	"github.com/lteinsight/emmkpi/nas"
)

func emmMsg(idx int, typ nas.MsgType, dir nas.Direction, offset time.Duration) *nas.Message {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return &nas.Message{
		Index:     idx,
		Layer:     nas.LayerNASEMM,
		Type:      typ,
		Timestamp: base.Add(offset),
		Direction: dir,
	}
}

func rrcMsg(idx int, offset time.Duration) *nas.Message {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return &nas.Message{
		Index:     idx,
		Layer:     nas.LayerRRC,
		Timestamp: base.Add(offset),
	}
}

func TestProcedureCounts(t *testing.T) {
	m := NewManager()

	m.ProcessMessage(emmMsg(1, nas.MsgAttachRequest, nas.Uplink, 0))
	m.ProcessMessage(emmMsg(2, nas.MsgAuthRequest, nas.Downlink, time.Second))
	m.ProcessMessage(emmMsg(3, nas.MsgAuthResponse, nas.Uplink, 2*time.Second))
	m.ProcessMessage(emmMsg(4, nas.MsgAuthRequest, nas.Downlink, 3*time.Second))
	m.ProcessMessage(emmMsg(5, nas.MsgAttachComplete, nas.Uplink, 4*time.Second))
	m.ProcessMessage(rrcMsg(6, 5*time.Second))

	if m.TotalMessages() != 6 {
		t.Errorf("Expected 6 messages, got %d", m.TotalMessages())
	}

	procs := m.Procedures()
	if len(procs) != 2 {
		t.Fatalf("Expected 2 procedures, got %d", len(procs))
	}

	// Sorted by request volume, authentication first
	if procs[0].Procedure != diag.ProcAuthentication {
		t.Errorf("Expected Authentication first, got %s", procs[0].Procedure)
	}
	if procs[0].Requests != 2 || procs[0].Responses != 1 {
		t.Errorf("Expected 2 requests and 1 response, got %d and %d", procs[0].Requests, procs[0].Responses)
	}
	if procs[1].Procedure != diag.ProcAttach {
		t.Errorf("Expected Attach second, got %s", procs[1].Procedure)
	}
	if procs[1].Requests != 1 || procs[1].Responses != 1 {
		t.Errorf("Expected 1 request and 1 response, got %d and %d", procs[1].Requests, procs[1].Responses)
	}
}

func TestFailureCounts(t *testing.T) {
	m := NewManager()

	m.ProcessMessage(emmMsg(1, nas.MsgAuthRequest, nas.Downlink, 0))

	ev := &diag.FailureEvent{
		InstanceID: "auth-1",
		Procedure:  diag.ProcAuthentication,
		Category:   diag.CatTimeout,
	}
	if err := m.Emit(ev); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	if m.TotalFailures() != 1 {
		t.Errorf("Expected 1 failure, got %d", m.TotalFailures())
	}

	procs := m.Procedures()
	if len(procs) != 1 || procs[0].Failures != 1 {
		t.Errorf("Expected 1 authentication failure, got %+v", procs)
	}
}

func TestTypeCounts(t *testing.T) {
	m := NewManager()

	m.ProcessMessage(emmMsg(1, nas.MsgAuthRequest, nas.Downlink, 0))
	m.ProcessMessage(emmMsg(2, nas.MsgAuthRequest, nas.Downlink, time.Second))
	m.ProcessMessage(emmMsg(3, nas.MsgAttachRequest, nas.Uplink, 2*time.Second))

	types := m.Types()
	if len(types) != 2 {
		t.Fatalf("Expected 2 message types, got %d", len(types))
	}
	if types[0].Type != nas.MsgAuthRequest {
		t.Errorf("Expected Authentication Request first, got %s", types[0].Type.String())
	}
	if types[0].Downlink != 2 || types[0].Uplink != 0 {
		t.Errorf("Expected 2 downlink and 0 uplink, got %d and %d", types[0].Downlink, types[0].Uplink)
	}
	if types[1].Type != nas.MsgAttachRequest || types[1].Uplink != 1 {
		t.Errorf("Unexpected second type %+v", types[1])
	}
}

func TestPrintProcedures(t *testing.T) {
	m := NewManager()

	m.ProcessMessage(emmMsg(1, nas.MsgAuthRequest, nas.Downlink, 0))
	m.ProcessMessage(emmMsg(2, nas.MsgAuthRequest, nas.Downlink, time.Second))
	m.RecordFailure(&diag.FailureEvent{Procedure: diag.ProcAuthentication, Category: diag.CatTimeout})

	var buf bytes.Buffer
	m.PrintProcedures(&buf)

	out := buf.String()
	if !strings.Contains(out, "EMM Procedures") {
		t.Errorf("Expected header in output:\n%s", out)
	}
	if !strings.Contains(out, "Authentication") {
		t.Errorf("Expected procedure row in output:\n%s", out)
	}
	if !strings.Contains(out, "50.0") {
		t.Errorf("Expected 50.0 failure rate in output:\n%s", out)
	}
}

func TestPrintMessageTypes(t *testing.T) {
	m := NewManager()

	m.ProcessMessage(emmMsg(1, nas.MsgAuthRequest, nas.Downlink, 0))
	m.ProcessMessage(rrcMsg(2, time.Second))

	var buf bytes.Buffer
	m.PrintMessageTypes(&buf)

	out := buf.String()
	if !strings.Contains(out, "Authentication Request") {
		t.Errorf("Expected message type row in output:\n%s", out)
	}
	if !strings.Contains(out, "RRC Reestablishment") {
		t.Errorf("Expected RRC row in output:\n%s", out)
	}
}

func TestPrintIOStats(t *testing.T) {
	m := NewManager()
	m.SetBucketSize(time.Second)

	m.ProcessMessage(emmMsg(1, nas.MsgAuthRequest, nas.Downlink, 0))
	m.ProcessMessage(emmMsg(2, nas.MsgAuthResponse, nas.Uplink, 500*time.Millisecond))
	m.ProcessMessage(emmMsg(3, nas.MsgAuthRequest, nas.Downlink, 2*time.Second))

	var buf bytes.Buffer
	m.PrintIOStats(&buf)

	out := buf.String()
	if !strings.Contains(out, "0.0 - 1.0") {
		t.Errorf("Expected first interval in output:\n%s", out)
	}
	lines := strings.Split(out, "\n")
	var totalLine string
	for _, line := range lines {
		if strings.HasPrefix(line, "Total") {
			totalLine = line
		}
	}
	if !strings.Contains(totalLine, "3") {
		t.Errorf("Expected 3 total messages in output:\n%s", out)
	}
}
