// Package diag implements the EMM procedure failure diagnosis engine:
// seven procedure state machines observing a shared decoded message
// stream and classifying abnormal terminations into a closed failure
// taxonomy for KPI reporting.
package diag

import (
	"fmt"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

// Procedure identifies an EMM procedure kind.
type Procedure string

const (
	ProcIdentification Procedure = "Identification"
	ProcAuthentication Procedure = "Authentication"
	ProcSecurityMode   Procedure = "SecurityModeControl"
	ProcGUTIRealloc    Procedure = "GUTIReallocation"
	ProcAttach         Procedure = "Attach"
	ProcDetach         Procedure = "Detach"
	ProcTAU            Procedure = "TAU"

	// ProcServiceRequest is not tracked by an analyzer of its own but
	// participates in collision priority decisions.
	ProcServiceRequest Procedure = "ServiceRequest"
)

// Procedures lists the analyzer-backed procedure kinds in registration order.
var Procedures = []Procedure{
	ProcIdentification,
	ProcAuthentication,
	ProcSecurityMode,
	ProcGUTIRealloc,
	ProcAttach,
	ProcDetach,
	ProcTAU,
}

var kpiAbbrev = map[Procedure]string{
	ProcIdentification: "IDENTIFY",
	ProcAuthentication: "AUTH",
	ProcSecurityMode:   "SECURITY",
	ProcGUTIRealloc:    "GUTI",
	ProcAttach:         "ATTACH",
	ProcDetach:         "DETACH",
	ProcTAU:            "TAU",
}

// KPIAbbrev returns the procedure's short name used in KPI identifiers.
func (p Procedure) KPIAbbrev() string {
	if a, ok := kpiAbbrev[p]; ok {
		return a
	}
	return string(p)
}

// Category is a failure classification from the closed taxonomy.
type Category string

const (
	CatCollision           Category = "COLLISION"
	CatConcurrent          Category = "CONCURRENT"
	CatDetach              Category = "DETACH"
	CatEMM                 Category = "EMM"
	CatHandover            Category = "HANDOVER"
	CatMAC                 Category = "MAC"
	CatNonEPS              Category = "NON_EPS"
	CatProtocolError       Category = "PROTOCOL_ERROR"
	CatSynch               Category = "SYNCH"
	CatTransmissionTAU     Category = "TRANSMISSION_TAU"
	CatTransmissionService Category = "TRANSMISSION_SERVICE"
	CatTimeout             Category = "TIMEOUT"
	CatUnavailable         Category = "UNAVAILABLE"
)

// Categories lists the full closed taxonomy.
var Categories = []Category{
	CatCollision, CatConcurrent, CatDetach, CatEMM, CatHandover,
	CatMAC, CatNonEPS, CatProtocolError, CatSynch,
	CatTransmissionTAU, CatTransmissionService, CatTimeout, CatUnavailable,
}

// State is the lifecycle state of a procedure instance.
type State int

const (
	StateIdle             State = iota // no instance
	StateInitiated                     // request observed, awaiting response
	StateAwaitingResponse              // intermediate accept observed, awaiting completion
	StateCompleted                     // terminal, success
	StateAborted                       // terminal, failure classified
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitiated:
		return "Initiated"
	case StateAwaitingResponse:
		return "AwaitingResponse"
	case StateCompleted:
		return "Completed"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Evidence describes why an analyzer aborted an instance: the matched
// rule categories plus the triggering message content. Candidates holds
// every rule the message satisfied; the classifier picks the winner.
type Evidence struct {
	Candidates []Category
	Message    nas.MsgType // triggering message type, 0 when none applies
	Cause      nas.Cause   // carried EMM cause, 0 when none
	Detail     string
}

// FailureEvent is the immutable output record for one aborted instance.
type FailureEvent struct {
	ID         string      `json:"id"`
	Procedure  Procedure   `json:"procedure"`
	Category   Category    `json:"category"`
	Timestamp  time.Time   `json:"timestamp"`
	Start      time.Time   `json:"start"`
	InstanceID string      `json:"instance_id"`
	MsgIndex   int         `json:"msg_index"`
	Message    nas.MsgType `json:"message,omitempty"`
	Cause      nas.Cause   `json:"cause,omitempty"`
	Detail     string      `json:"detail,omitempty"`
}

// KPI returns the retainability KPI identifier for this event.
func (e *FailureEvent) KPI() string {
	return fmt.Sprintf("KPI.Retainability.%s_%s_FAILURE", e.Procedure.KPIAbbrev(), e.Category)
}

// String returns a one-line rendering for warnings and reports.
func (e *FailureEvent) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", e.Timestamp.Format(time.RFC3339), e.Procedure, e.Category, e.Detail)
}

// Incomplete reports a procedure instance still open when the stream
// ended. It is a truncation indicator, never a synthesized failure.
type Incomplete struct {
	Procedure  Procedure `json:"procedure"`
	InstanceID string    `json:"instance_id"`
	State      State     `json:"state"`
	Start      time.Time `json:"start"`
	Retries    int       `json:"retries"`
}

// Emitter receives classified failure events at the analysis boundary.
// Implementations live in the kpi package; the engine only depends on
// this interface.
type Emitter interface {
	Emit(*FailureEvent) error
}

// KPINames returns every KPI identifier the engine can emit, in a stable
// order (procedure registration order, then taxonomy order).
func KPINames() []string {
	var names []string
	for _, p := range Procedures {
		for _, c := range Categories {
			if SupportsCategory(p, c) {
				names = append(names, fmt.Sprintf("KPI.Retainability.%s_%s_FAILURE", p.KPIAbbrev(), c))
			}
		}
	}
	return names
}
