// Package stats provides signaling traffic statistics for analyzed logs
package stats

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/lteinsight/emmkpi/diag"
	"github.com/lteinsight/emmkpi/nas"
)

// Manager collects and reports signaling statistics
type Manager struct {
	procedures map[diag.Procedure]*ProcedureStat
	types      map[nas.MsgType]*TypeStat
	ioBuckets  []*IOBucket
	bucketSize time.Duration
	startTime  time.Time

	totalMessages int
	totalFailures int
	rrcMessages   int
}

// ProcedureStat represents signaling counts for one EMM procedure
type ProcedureStat struct {
	Procedure diag.Procedure
	Requests  int
	Responses int
	Failures  int
}

// TypeStat represents counts for a single EMM message type
type TypeStat struct {
	Type     nas.MsgType
	Uplink   int
	Downlink int
}

// IOBucket represents message counts for a time interval
type IOBucket struct {
	Timestamp time.Time
	Messages  int
}

// initiators maps initiating message types to their procedure.
var initiators = map[nas.MsgType]diag.Procedure{
	nas.MsgIdentityRequest:     diag.ProcIdentification,
	nas.MsgAuthRequest:         diag.ProcAuthentication,
	nas.MsgSecurityModeCommand: diag.ProcSecurityMode,
	nas.MsgGUTIReallocCommand:  diag.ProcGUTIRealloc,
	nas.MsgAttachRequest:       diag.ProcAttach,
	nas.MsgDetachRequest:       diag.ProcDetach,
	nas.MsgTAURequest:          diag.ProcTAU,
}

// responders maps answering message types back to their procedure.
var responders = map[nas.MsgType]diag.Procedure{
	nas.MsgIdentityResponse:     diag.ProcIdentification,
	nas.MsgAuthResponse:         diag.ProcAuthentication,
	nas.MsgSecurityModeComplete: diag.ProcSecurityMode,
	nas.MsgGUTIReallocComplete:  diag.ProcGUTIRealloc,
	nas.MsgAttachComplete:       diag.ProcAttach,
	nas.MsgDetachAccept:         diag.ProcDetach,
	nas.MsgTAUComplete:          diag.ProcTAU,
}

// NewManager creates a new statistics manager
func NewManager() *Manager {
	return &Manager{
		procedures: make(map[diag.Procedure]*ProcedureStat),
		types:      make(map[nas.MsgType]*TypeStat),
		ioBuckets:  make([]*IOBucket, 0),
		bucketSize: time.Second,
	}
}

// SetBucketSize sets the I/O stats time interval
func (m *Manager) SetBucketSize(d time.Duration) {
	m.bucketSize = d
}

// ProcessMessage updates statistics with a new message
func (m *Manager) ProcessMessage(msg *nas.Message) {
	if m.startTime.IsZero() {
		m.startTime = msg.Timestamp
	}

	m.totalMessages++
	m.updateIOBuckets(msg)

	if msg.Layer == nas.LayerRRC {
		m.rrcMessages++
		return
	}
	if msg.Layer != nas.LayerNASEMM {
		return
	}

	m.updateTypes(msg)

	if proc, ok := initiators[msg.Type]; ok {
		m.procedure(proc).Requests++
	}
	if proc, ok := responders[msg.Type]; ok {
		m.procedure(proc).Responses++
	}
}

// RecordFailure updates statistics with a classified failure
func (m *Manager) RecordFailure(ev *diag.FailureEvent) {
	m.totalFailures++
	m.procedure(ev.Procedure).Failures++
}

// Emit implements the failure emitter contract so the manager can sit
// on the analysis fan-out.
func (m *Manager) Emit(ev *diag.FailureEvent) error {
	m.RecordFailure(ev)
	return nil
}

// Close implements the emitter contract; nothing to flush.
func (m *Manager) Close() error { return nil }

func (m *Manager) procedure(p diag.Procedure) *ProcedureStat {
	st, ok := m.procedures[p]
	if !ok {
		st = &ProcedureStat{Procedure: p}
		m.procedures[p] = st
	}
	return st
}

func (m *Manager) updateTypes(msg *nas.Message) {
	st, ok := m.types[msg.Type]
	if !ok {
		st = &TypeStat{Type: msg.Type}
		m.types[msg.Type] = st
	}
	if msg.Direction == nas.Uplink {
		st.Uplink++
	} else {
		st.Downlink++
	}
}

func (m *Manager) updateIOBuckets(msg *nas.Message) {
	if m.bucketSize <= 0 {
		return
	}

	// Calculate bucket index
	elapsed := msg.Timestamp.Sub(m.startTime)
	if elapsed < 0 {
		return
	}
	bucketIdx := int(elapsed / m.bucketSize)

	// Extend buckets slice if needed
	for len(m.ioBuckets) <= bucketIdx {
		t := m.startTime.Add(time.Duration(len(m.ioBuckets)) * m.bucketSize)
		m.ioBuckets = append(m.ioBuckets, &IOBucket{Timestamp: t})
	}

	m.ioBuckets[bucketIdx].Messages++
}

// TotalMessages returns the number of observed messages.
func (m *Manager) TotalMessages() int { return m.totalMessages }

// TotalFailures returns the number of recorded failures.
func (m *Manager) TotalFailures() int { return m.totalFailures }

// Procedures returns per-procedure statistics sorted by request volume.
func (m *Manager) Procedures() []*ProcedureStat {
	var procs []*ProcedureStat
	for _, st := range m.procedures {
		procs = append(procs, st)
	}
	sort.Slice(procs, func(i, j int) bool {
		if procs[i].Requests != procs[j].Requests {
			return procs[i].Requests > procs[j].Requests
		}
		return procs[i].Procedure < procs[j].Procedure
	})
	return procs
}

// Types returns per-type statistics sorted by volume.
func (m *Manager) Types() []*TypeStat {
	var types []*TypeStat
	for _, st := range m.types {
		types = append(types, st)
	}
	sort.Slice(types, func(i, j int) bool {
		totalI := types[i].Uplink + types[i].Downlink
		totalJ := types[j].Uplink + types[j].Downlink
		if totalI != totalJ {
			return totalI > totalJ
		}
		return types[i].Type < types[j].Type
	})
	return types
}

// PrintProcedures writes procedure statistics to the writer
func (m *Manager) PrintProcedures(w io.Writer) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "EMM Procedures")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-22s %10s %10s %10s %10s\n", "Procedure", "Requests", "Responses", "Failures", "Fail %")

	for _, st := range m.Procedures() {
		rate := "-"
		if st.Requests > 0 {
			rate = fmt.Sprintf("%.1f", float64(st.Failures)/float64(st.Requests)*100)
		}
		fmt.Fprintf(w, "%-22s %10d %10d %10d %10s\n",
			string(st.Procedure),
			st.Requests,
			st.Responses,
			st.Failures,
			rate,
		)
	}
	fmt.Fprintf(w, "================================================================================\n")
}

// PrintMessageTypes writes message type statistics to the writer
func (m *Manager) PrintMessageTypes(w io.Writer) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "EMM Message Types")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-6s %-36s %8s %10s %8s\n", "Code", "Message", "Uplink", "Downlink", "Total")

	for _, st := range m.Types() {
		fmt.Fprintf(w, "0x%-4x %-36s %8d %10d %8d\n",
			int(st.Type),
			truncate(st.Type.String(), 36),
			st.Uplink,
			st.Downlink,
			st.Uplink+st.Downlink,
		)
	}
	if m.rrcMessages > 0 {
		fmt.Fprintf(w, "%-6s %-36s %8s %10s %8d\n", "-", "RRC Reestablishment", "-", "-", m.rrcMessages)
	}
	fmt.Fprintf(w, "================================================================================\n")
}

// PrintIOStats writes message rate statistics to the writer
func (m *Manager) PrintIOStats(w io.Writer) {
	interval := m.bucketSize.Seconds()
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "IO Statistics (interval: %.1fs)\n", interval)
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-20s %12s %12s\n", "Interval", "Messages", "Messages/s")

	for i, bucket := range m.ioBuckets {
		start := float64(i) * interval
		end := start + interval
		rate := float64(bucket.Messages) / interval

		fmt.Fprintf(w, "%-20s %12d %12.1f\n",
			fmt.Sprintf("%.1f - %.1f", start, end),
			bucket.Messages,
			rate,
		)
	}

	// Print totals
	fmt.Fprintln(w, strings.Repeat("-", 80))
	duration := time.Duration(len(m.ioBuckets)) * m.bucketSize
	avgRate := 0.0
	if duration > 0 {
		avgRate = float64(m.totalMessages) / duration.Seconds()
	}

	fmt.Fprintf(w, "%-20s %12d %12.1f\n",
		"Total",
		m.totalMessages,
		avgRate,
	)
	fmt.Fprintln(w, "================================================================================")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
