package diag

import (
	"fmt"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

// authenticationAnalyzer tracks the EPS authentication procedure
// (Authentication Request / Response, T3460). An Authentication Failure
// from the device carries the reason for the mismatch; request repeats
// are attributed to lower-layer loss when a service request or TAU is
// in flight, otherwise they count toward the timeout threshold.
type authenticationAnalyzer struct {
	baseAnalyzer

	pendingService bool
	pendingTAU     bool
}

func newAuthenticationAnalyzer(cfg *Config, res *Resolver, tracker *procTracker) ProcedureAnalyzer {
	return &authenticationAnalyzer{baseAnalyzer: newBase(ProcAuthentication, cfg, res, tracker)}
}

func (a *authenticationAnalyzer) resetLocal() {
	a.pendingService = false
	a.pendingTAU = false
}

func (a *authenticationAnalyzer) Observe(msg *nas.Message) ([]*FailureEvent, error) {
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
		case nas.MsgAuthRequest:
			return a.authRequest(msg, ts)
		case nas.MsgAuthReject:
			return a.authReject(msg)
		case nas.MsgTAUReject:
			a.pendingTAU = false
		case nas.MsgServiceReject, nas.MsgServiceAccept:
			a.pendingService = false
		}
		return nil, nil
	}
	switch msg.Type {
	case nas.MsgAuthResponse:
		if a.pending() {
			a.complete()
			a.resetLocal()
		}
	case nas.MsgAuthFailure:
		return a.authFailure(msg)
	case nas.MsgTAURequest:
		if !a.pending() {
			a.pendingTAU = true
		}
	case nas.MsgTAUComplete:
		a.pendingTAU = false
	case nas.MsgServiceRequest:
		if !a.pending() {
			a.pendingService = true
		}
	}
	return nil, nil
}

// authRequest handles a downlink Authentication Request, counting
// repeats toward timeout unless a service request or TAU in flight
// explains the repetition. Always leaves an instance open.
func (a *authenticationAnalyzer) authRequest(msg *nas.Message, ts time.Time) ([]*FailureEvent, error) {
	var out []*FailureEvent
	if a.pending() {
		switch {
		case a.pendingService:
			if a.within(ts) {
				ev := Evidence{
					Candidates: []Category{CatTransmissionService},
					Message:    msg.Type,
					Detail:     "authentication request repeated while a service request is unanswered",
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
					Detail:     "authentication request repeated while a tracking area update is unanswered",
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

// authReject finalizes the instance on a network reject. A carried EMM
// cause classifies the failure; a bare reject ends the procedure
// without a verdict.
func (a *authenticationAnalyzer) authReject(msg *nas.Message) ([]*FailureEvent, error) {
	if !a.pending() {
		return nil, nil
	}
	if cause, ok := msg.EMMCause(); ok && cause.Known() {
		ev := Evidence{
			Candidates: []Category{CatEMM},
			Message:    msg.Type,
			Cause:      cause,
			Detail:     fmt.Sprintf("authentication rejected by the network: %s", cause),
		}
		e, err := a.abort(msg, ev)
		if err != nil {
			return nil, err
		}
		a.resetLocal()
		return []*FailureEvent{e}, nil
	}
	a.complete()
	a.resetLocal()
	return nil, nil
}

// authFailure maps the device's failure cause onto the taxonomy: MAC
// mismatch, synch failure and non-EPS rejection have categories of
// their own, any other recognized cause is a generic EMM failure. An
// unrecognized cause ends the instance without a verdict.
func (a *authenticationAnalyzer) authFailure(msg *nas.Message) ([]*FailureEvent, error) {
	if !a.pending() {
		return nil, nil
	}
	cause, ok := msg.EMMCause()
	if !ok || !cause.Known() {
		a.complete()
		a.resetLocal()
		return nil, nil
	}
	cand := CatEMM
	switch cause {
	case nas.CauseMACFailure:
		cand = CatMAC
	case nas.CauseSynchFailure:
		cand = CatSynch
	case nas.CauseNonEPSAuthUnacceptable:
		cand = CatNonEPS
	}
	ev := Evidence{
		Candidates: []Category{cand},
		Message:    msg.Type,
		Cause:      cause,
		Detail:     fmt.Sprintf("authentication failure reported by the device: %s", cause),
	}
	e, err := a.abort(msg, ev)
	if err != nil {
		return nil, err
	}
	a.resetLocal()
	return []*FailureEvent{e}, nil
}
