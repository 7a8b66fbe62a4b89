package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"
)

// mdWriter tracks the first write error so each section can print
// without per-line checks.
type mdWriter struct {
	w   io.Writer
	err error
}

func (m *mdWriter) printf(format string, args ...any) {
	if m.err != nil {
		return
	}
	_, m.err = fmt.Fprintf(m.w, format, args...)
}

// WriteMarkdown renders the report as Markdown.
func WriteMarkdown(w io.Writer, data *Data) error {
	m := &mdWriter{w: w}

	m.printf("# EMM Analysis Report\n\n")
	m.printf("Generated: %s\n\n", data.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))

	writeOverview(m, data)
	writeKPITotals(m, data)
	writeBreakdown(m, "Failures by Procedure", data.Overview.ByProcedure)
	writeBreakdown(m, "Failures by Category", data.Overview.ByCategory)
	writeFailures(m, data)
	writeIncompletes(m, data)

	return m.err
}

func writeOverview(m *mdWriter, data *Data) {
	o := data.Overview

	m.printf("## Overview\n\n")
	m.printf("| | |\n")
	m.printf("|---|---|\n")
	m.printf("| Log | `%s` |\n", data.LogPath)
	if data.LogSize > 0 {
		m.printf("| Size | %s |\n", FormatBytes(data.LogSize))
	}
	m.printf("| Run | `%s` |\n", o.RunID)
	m.printf("| Analyzed | %s |\n", o.AnalyzedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	if !o.StartTime.IsZero() {
		m.printf("| Log span | %s to %s (%s) |\n",
			o.StartTime.Format("15:04:05.000"),
			o.EndTime.Format("15:04:05.000"),
			o.Duration.Round(time.Millisecond))
	}
	m.printf("| Messages | %d analyzed, %d skipped, %d out of order |\n",
		o.TotalMessages, o.Skipped, o.OutOfOrder)
	m.printf("| Failures | %d |\n", o.TotalFailures)
	m.printf("| Unfinished | %d |\n", o.Incomplete)
	m.printf("\n")
}

func writeKPITotals(m *mdWriter, data *Data) {
	m.printf("## KPI Counters\n\n")
	if len(data.KPITotals) == 0 {
		m.printf("No failures counted.\n\n")
		return
	}

	m.printf("| KPI | Procedure | Category | Count |\n")
	m.printf("|---|---|---|---:|\n")
	for _, k := range data.KPITotals {
		m.printf("| `%s` | %s | %s | %d |\n", k.KPI, k.Procedure, k.Category, k.Count)
	}
	m.printf("\n")
}

func writeBreakdown(m *mdWriter, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	m.printf("## %s\n\n", title)
	m.printf("| Name | Count |\n")
	m.printf("|---|---:|\n")
	for _, name := range names {
		m.printf("| %s | %d |\n", name, counts[name])
	}
	m.printf("\n")
}

func writeFailures(m *mdWriter, data *Data) {
	m.printf("## Failure Timeline\n\n")
	if len(data.Failures) == 0 {
		m.printf("No failures detected.\n\n")
		return
	}

	m.printf("| Time | Instance | Procedure | Category | Cause | Msg | Detail |\n")
	m.printf("|---|---|---|---|---|---:|---|\n")
	for _, f := range data.Failures {
		m.printf("| %s | `%s` | %s | %s | %s | %d | %s |\n",
			f.Time, f.Instance, f.Procedure, f.Category, f.Cause, f.MsgIndex, f.Detail)
	}
	m.printf("\n")
}

func writeIncompletes(m *mdWriter, data *Data) {
	if len(data.Incompletes) == 0 {
		return
	}

	m.printf("## Unfinished Procedures\n\n")
	m.printf("The log ended before these instances reached a terminal state.\n\n")
	m.printf("| Instance | Procedure | State | Started | Retries |\n")
	m.printf("|---|---|---|---|---:|\n")
	for _, inc := range data.Incompletes {
		m.printf("| `%s` | %s | %s | %s | %d |\n",
			inc.Instance, inc.Procedure, inc.State, inc.Start, inc.Retries)
	}
	m.printf("\n")
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, data *Data) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
