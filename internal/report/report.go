// Package report provides report generation for signaling log analysis.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/lteinsight/emmkpi/pkg/model"
	"github.com/lteinsight/emmkpi/pkg/query"
)

// Data holds all data for report generation.
type Data struct {
	// Meta
	GeneratedAt time.Time
	LogPath     string
	LogSize     int64

	// Overview
	Overview *query.Overview

	// Full KPI rollup
	KPITotals []*model.KPITotal

	// Failures in abort order
	Failures []*FailureSummary

	// Instances the log ended on
	Incompletes []*IncompleteSummary
}

// FailureSummary is a simplified failure for display.
type FailureSummary struct {
	Time      string
	Instance  string
	Procedure string
	Category  string
	KPI       string
	MsgIndex  int
	Cause     string
	Detail    string
}

// IncompleteSummary is a simplified unfinished instance for display.
type IncompleteSummary struct {
	Instance  string
	Procedure string
	State     string
	Start     string
	Retries   int
}

// Generate creates a report from the query engine.
func Generate(ctx context.Context, engine query.Engine) (*Data, error) {
	report := &Data{
		GeneratedAt: time.Now(),
	}

	// Get overview
	overview, err := engine.GetOverview(ctx)
	if err != nil {
		return nil, fmt.Errorf("get overview: %w", err)
	}
	report.Overview = overview
	report.LogPath = overview.LogPath
	report.LogSize = overview.LogSize

	// Get the full KPI rollup
	report.KPITotals, err = engine.GetKPITotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("get kpi totals: %w", err)
	}

	// Get failures in abort order
	failures, err := engine.GetFailures(ctx, query.FailureFilter{
		SortBy:    "timestamp",
		SortOrder: "asc",
	})
	if err != nil {
		return nil, fmt.Errorf("get failures: %w", err)
	}
	for _, f := range failures {
		cause := f.CauseText
		if cause == "" && f.CauseCode != 0 {
			cause = fmt.Sprintf("cause %d", f.CauseCode)
		}
		report.Failures = append(report.Failures, &FailureSummary{
			Time:      f.Timestamp().UTC().Format("15:04:05.000"),
			Instance:  f.InstanceID,
			Procedure: f.Procedure,
			Category:  f.Category,
			KPI:       f.KPI,
			MsgIndex:  f.MsgIndex,
			Cause:     cause,
			Detail:    f.Detail,
		})
	}

	// Get unfinished instances
	incompletes, err := engine.GetIncompletes(ctx)
	if err != nil {
		return nil, fmt.Errorf("get incompletes: %w", err)
	}
	for _, inc := range incompletes {
		report.Incompletes = append(report.Incompletes, &IncompleteSummary{
			Instance:  inc.InstanceID,
			Procedure: inc.Procedure,
			State:     inc.State,
			Start:     inc.Start().UTC().Format("15:04:05.000"),
			Retries:   inc.Retries,
		})
	}

	return report, nil
}

// FormatBytes renders a byte count in human-readable form.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
