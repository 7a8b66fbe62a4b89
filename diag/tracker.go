package diag

import (
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

// procTracker follows the start time of every unfinished procedure in
// the shared stream so a handover interruption can be attributed to the
// most recently started one. Start times update on every trigger
// request (retransmissions included) and clear on terminal messages.
//
// Attribution reads the snapshot taken when the current message was
// observed, not the live table, so analyzers reacting to the same
// message cannot steal the latest slot from each other.
type procTracker struct {
	starts map[Procedure]time.Time
	latest map[Procedure]time.Time
}

func newProcTracker() *procTracker {
	return &procTracker{
		starts: make(map[Procedure]time.Time),
		latest: make(map[Procedure]time.Time),
	}
}

// Observe applies the message's start/end bookkeeping and refreshes the
// latest-procedure snapshot. Called once per message before fan-out.
func (t *procTracker) Observe(msg *nas.Message) {
	if msg.Layer == nas.LayerNASEMM {
		switch msg.Type {
		case nas.MsgAttachRequest:
			t.starts[ProcAttach] = msg.Timestamp
		case nas.MsgAttachComplete, nas.MsgAttachReject:
			delete(t.starts, ProcAttach)
		case nas.MsgDetachRequest:
			t.starts[ProcDetach] = msg.Timestamp
		case nas.MsgDetachAccept:
			delete(t.starts, ProcDetach)
		case nas.MsgTAURequest:
			t.starts[ProcTAU] = msg.Timestamp
		case nas.MsgTAUComplete, nas.MsgTAUReject:
			delete(t.starts, ProcTAU)
		case nas.MsgGUTIReallocCommand:
			t.starts[ProcGUTIRealloc] = msg.Timestamp
		case nas.MsgGUTIReallocComplete:
			delete(t.starts, ProcGUTIRealloc)
		case nas.MsgAuthRequest:
			t.starts[ProcAuthentication] = msg.Timestamp
		case nas.MsgAuthResponse, nas.MsgAuthReject, nas.MsgAuthFailure:
			delete(t.starts, ProcAuthentication)
		case nas.MsgIdentityRequest:
			t.starts[ProcIdentification] = msg.Timestamp
		case nas.MsgIdentityResponse:
			delete(t.starts, ProcIdentification)
		case nas.MsgSecurityModeCommand:
			t.starts[ProcSecurityMode] = msg.Timestamp
		case nas.MsgSecurityModeComplete, nas.MsgSecurityModeReject:
			delete(t.starts, ProcSecurityMode)
		}
	}
	t.snapshot()
}

// snapshot records which procedures are tied for the latest start.
func (t *procTracker) snapshot() {
	var max time.Time
	for _, ts := range t.starts {
		if ts.After(max) {
			max = ts
		}
	}
	clear(t.latest)
	for p, ts := range t.starts {
		if !ts.IsZero() && ts.Equal(max) {
			t.latest[p] = ts
		}
	}
}

// WasLatest reports whether the kind held the latest pending start when
// the current message was observed, and returns that start time.
func (t *procTracker) WasLatest(p Procedure) (time.Time, bool) {
	ts, ok := t.latest[p]
	return ts, ok
}

// Set records a procedure start outside stream bookkeeping (an analyzer
// re-opening an instance after an abort on the same message).
func (t *procTracker) Set(p Procedure, at time.Time) {
	t.starts[p] = at
}

// Clear removes a procedure's pending start after its analyzer
// finalized the instance.
func (t *procTracker) Clear(p Procedure) {
	delete(t.starts, p)
}
