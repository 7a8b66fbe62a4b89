package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/lteinsight/emmkpi/pkg/model"
	"github.com/lteinsight/emmkpi/pkg/query"
)

type fakeEngine struct {
	overview    *query.Overview
	totals      []*model.KPITotal
	failures    []*model.FailureRecord
	incompletes []*model.IncompleteRecord
}

func (f *fakeEngine) GetFailure(ctx context.Context, id string) (*model.FailureRecord, error) {
	return nil, nil
}

func (f *fakeEngine) GetFailures(ctx context.Context, filter query.FailureFilter) ([]*model.FailureRecord, error) {
	return f.failures, nil
}

func (f *fakeEngine) GetFailureCount(ctx context.Context) (int, error) { return len(f.failures), nil }

func (f *fakeEngine) GetKPITotals(ctx context.Context) ([]*model.KPITotal, error) {
	return f.totals, nil
}

func (f *fakeEngine) GetIncompletes(ctx context.Context) ([]*model.IncompleteRecord, error) {
	return f.incompletes, nil
}

func (f *fakeEngine) GetMessage(ctx context.Context, index int) (*model.MessageSummary, error) {
	return nil, nil
}

func (f *fakeEngine) GetMessages(ctx context.Context, filter query.MessageFilter) ([]*model.MessageSummary, error) {
	return nil, nil
}

func (f *fakeEngine) GetMessageWindow(ctx context.Context, center, radius int) ([]*model.MessageSummary, error) {
	return nil, nil
}

func (f *fakeEngine) GetMessageCount(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeEngine) GetOverview(ctx context.Context) (*query.Overview, error) {
	return f.overview, nil
}

func (f *fakeEngine) GetRunMeta(ctx context.Context) (*model.RunMeta, error) {
	return nil, nil
}

func (f *fakeEngine) IsAnalyzed(ctx context.Context) bool   { return true }
func (f *fakeEngine) GetLogPath(ctx context.Context) string { return f.overview.LogPath }

func sampleEngine() *fakeEngine {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return &fakeEngine{
		overview: &query.Overview{
			LogPath:       "/captures/ue.jsonl",
			LogSize:       2048,
			RunID:         "run-1",
			AnalyzedAt:    time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC),
			StartTime:     start,
			EndTime:       start.Add(25 * time.Second),
			Duration:      25 * time.Second,
			TotalMessages: 6,
			Skipped:       1,
			TotalFailures: 2,
			ByProcedure:   map[string]int{"Authentication": 2},
			ByCategory:    map[string]int{"TIMEOUT": 1, "SYNCH": 1},
			Incomplete:    1,
		},
		totals: []*model.KPITotal{
			{KPI: "KPI.Retainability.AUTH_SYNCH_FAILURE", Procedure: "Authentication", Category: "SYNCH", Count: 1},
			{KPI: "KPI.Retainability.AUTH_TIMEOUT_FAILURE", Procedure: "Authentication", Category: "TIMEOUT", Count: 1},
		},
		failures: []*model.FailureRecord{
			{
				ID:          "auth-1",
				InstanceID:  "auth-1",
				Procedure:   "Authentication",
				Category:    "SYNCH",
				KPI:         "KPI.Retainability.AUTH_SYNCH_FAILURE",
				TimestampNS: start.Add(10 * time.Second).UnixNano(),
				MsgIndex:    3,
				CauseCode:   21,
				CauseText:   "Synch failure",
				Detail:      "authentication failure with synch cause",
			},
			{
				ID:          "auth-2",
				InstanceID:  "auth-2",
				Procedure:   "Authentication",
				Category:    "TIMEOUT",
				KPI:         "KPI.Retainability.AUTH_TIMEOUT_FAILURE",
				TimestampNS: start.Add(25 * time.Second).UnixNano(),
				MsgIndex:    6,
				CauseCode:   7,
			},
		},
		incompletes: []*model.IncompleteRecord{
			{InstanceID: "attach-1", Procedure: "Attach", State: "initiated", StartNS: start.UnixNano()},
		},
	}
}

func TestGenerate(t *testing.T) {
	data, err := Generate(context.Background(), sampleEngine())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if data.LogPath != "/captures/ue.jsonl" {
		t.Errorf("Unexpected log path %q", data.LogPath)
	}
	if len(data.KPITotals) != 2 {
		t.Errorf("Expected 2 KPI totals, got %d", len(data.KPITotals))
	}
	if len(data.Failures) != 2 {
		t.Fatalf("Expected 2 failures, got %d", len(data.Failures))
	}
	if data.Failures[0].Time != "09:00:10.000" {
		t.Errorf("Unexpected failure time %q", data.Failures[0].Time)
	}
	if data.Failures[0].Cause != "Synch failure" {
		t.Errorf("Unexpected cause %q", data.Failures[0].Cause)
	}
	// Cause code without display text falls back to the number.
	if data.Failures[1].Cause != "cause 7" {
		t.Errorf("Unexpected cause %q", data.Failures[1].Cause)
	}
	if len(data.Incompletes) != 1 || data.Incompletes[0].Instance != "attach-1" {
		t.Errorf("Unexpected incompletes %+v", data.Incompletes)
	}
}

func TestWriteMarkdown(t *testing.T) {
	data, err := Generate(context.Background(), sampleEngine())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, data); err != nil {
		t.Fatalf("WriteMarkdown failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"# EMM Analysis Report",
		"## Overview",
		"| Failures | 2 |",
		"## KPI Counters",
		"`KPI.Retainability.AUTH_SYNCH_FAILURE`",
		"## Failures by Procedure",
		"| Authentication | 2 |",
		"## Failure Timeline",
		"`auth-1`",
		"## Unfinished Procedures",
		"`attach-1`",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestWriteMarkdownEmpty(t *testing.T) {
	eng := &fakeEngine{
		overview: &query.Overview{
			LogPath: "/captures/empty.jsonl",
			RunID:   "run-2",
		},
	}

	data, err := Generate(context.Background(), eng)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, data); err != nil {
		t.Fatalf("WriteMarkdown failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "No failures detected.") {
		t.Errorf("Expected empty timeline note in output:\n%s", out)
	}
	if strings.Contains(out, "## Unfinished Procedures") {
		t.Errorf("Expected no unfinished section in output:\n%s", out)
	}
}

func TestWriteJSON(t *testing.T) {
	data, err := Generate(context.Background(), sampleEngine())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteJSON(&buf, data); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if _, ok := decoded["Overview"]; !ok {
		t.Error("Expected Overview in JSON output")
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{3 * 1024 * 1024, "3.0 MiB"},
	}
	for _, tc := range cases {
		if got := FormatBytes(tc.n); got != tc.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}
