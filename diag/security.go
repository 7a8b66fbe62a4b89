package diag

import (
	"fmt"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

// securityModeAnalyzer tracks the security mode control procedure
// (Security Mode Command / Complete, T3460). Registration traffic
// initiated by the device while the command is unanswered collides with
// it; a switch-off detach does not, since the device is going away
// regardless of the security exchange.
type securityModeAnalyzer struct {
	baseAnalyzer

	pendingService bool
	pendingTAU     bool
}

func newSecurityModeAnalyzer(cfg *Config, res *Resolver, tracker *procTracker) ProcedureAnalyzer {
	return &securityModeAnalyzer{baseAnalyzer: newBase(ProcSecurityMode, cfg, res, tracker)}
}

func (a *securityModeAnalyzer) resetLocal() {
	a.pendingService = false
	a.pendingTAU = false
}

func (a *securityModeAnalyzer) Observe(msg *nas.Message) ([]*FailureEvent, error) {
	if msg.Layer == nas.LayerRRC {
		evs, err := a.observeHandover(msg)
		if err == nil && len(evs) > 0 {
			a.resetLocal()
		}
		return evs, err
	}
	if msg.Layer != nas.LayerNASEMM {
		return nil, nil
	}
	ts := msg.Timestamp
	if msg.Direction == nas.Downlink {
		switch msg.Type {
		case nas.MsgSecurityModeCommand:
			return a.securityModeCommand(msg, ts)
		case nas.MsgGUTIReallocCommand:
			// the network switched to reassigning the GUTI with the
			// security exchange still open
			return a.collide(msg, ts, ProcGUTIRealloc)
		case nas.MsgTAUReject:
			a.pendingTAU = false
		case nas.MsgServiceReject, nas.MsgServiceAccept:
			a.pendingService = false
		}
		return nil, nil
	}
	switch msg.Type {
	case nas.MsgAttachRequest:
		return a.collide(msg, ts, ProcAttach)
	case nas.MsgDetachRequest:
		if !msg.SwitchOff() {
			return a.collide(msg, ts, ProcDetach)
		}
	case nas.MsgTAURequest:
		evs, err := a.collide(msg, ts, ProcTAU)
		if err != nil {
			return nil, err
		}
		if !a.pending() {
			a.pendingTAU = true
		}
		return evs, nil
	case nas.MsgTAUComplete:
		a.pendingTAU = false
	case nas.MsgSecurityModeComplete:
		if a.pending() {
			a.complete()
			a.resetLocal()
		}
	case nas.MsgSecurityModeReject:
		// device refused the proposed security context; the exchange
		// is over either way
		if a.pending() {
			a.complete()
			a.resetLocal()
		}
	case nas.MsgServiceRequest:
		evs, err := a.collide(msg, ts, ProcServiceRequest)
		if err != nil {
			return nil, err
		}
		if !a.pending() {
			a.pendingService = true
		}
		return evs, nil
	}
	return nil, nil
}

// securityModeCommand handles a downlink Security Mode Command with the
// usual repeat attribution: lower-layer loss when a service request or
// TAU is in flight, timeout counting otherwise.
func (a *securityModeAnalyzer) securityModeCommand(msg *nas.Message, ts time.Time) ([]*FailureEvent, error) {
	var out []*FailureEvent
	if a.pending() {
		switch {
		case a.pendingService:
			if a.within(ts) {
				ev := Evidence{
					Candidates: []Category{CatTransmissionService},
					Message:    msg.Type,
					Detail:     "security mode command repeated while a service request is unanswered",
				}
				if a.inst.timer.Peek(ts) {
					ev.Candidates = append(ev.Candidates, CatTimeout)
				}
				e, err := a.abort(msg, ev)
				if err != nil {
					return nil, err
				}
				a.resetLocal()
				out = append(out, e)
			}
		case a.pendingTAU:
			if a.within(ts) {
				ev := Evidence{
					Candidates: []Category{CatTransmissionTAU},
					Message:    msg.Type,
					Detail:     "security mode command repeated while a tracking area update is unanswered",
				}
				if a.inst.timer.Peek(ts) {
					ev.Candidates = append(ev.Candidates, CatTimeout)
				}
				e, err := a.abort(msg, ev)
				if err != nil {
					return nil, err
				}
				a.resetLocal()
				out = append(out, e)
			}
		default:
			if a.countRetransmit(ts) {
				e, err := a.abort(msg, a.timeoutEvidence(msg))
				if err != nil {
					return nil, err
				}
				a.resetLocal()
				out = append(out, e)
			}
		}
	}
	if a.pending() {
		a.inst.timer.Arm(ts)
	} else {
		a.begin(ts, "")
	}
	return out, nil
}

// collide aborts the pending instance when a trigger of the given kind
// outranks security mode control and lands inside the retransmit window.
func (a *securityModeAnalyzer) collide(msg *nas.Message, ts time.Time, incoming Procedure) ([]*FailureEvent, error) {
	if !a.pending() || !a.within(ts) {
		return nil, nil
	}
	if a.res.Evaluate(ProcSecurityMode, incoming, false) != VerdictCollision {
		return nil, nil
	}
	ev := Evidence{
		Candidates: []Category{CatCollision},
		Message:    msg.Type,
		Detail:     fmt.Sprintf("%s while a security mode command is unanswered", msg.Type),
	}
	e, err := a.abort(msg, ev)
	if err != nil {
		return nil, err
	}
	a.resetLocal()
	return []*FailureEvent{e}, nil
}
