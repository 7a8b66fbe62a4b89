package diag

import (
	"fmt"
	"strings"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

// tauCmpIEs are the information elements compared between tracking area
// update requests. The attach type is not among them since a TAU request
// does not carry one.
var tauCmpIEs = []string{
	nas.IEESMContainer,
	nas.IETypeOfID,
	nas.IEUEUsageSetting,
	nas.IEMobileIdentity,
	nas.IENetworkCap,
	nas.IEDRXParameter,
}

// tauAnalyzer tracks the tracking area update procedure through both
// halves of its exchange: TAU Request answered by TAU Accept, then TAU
// Complete confirming the accept. Its failure rules mirror attach, with
// a handover interruption rule on top.
type tauAnalyzer struct {
	baseAnalyzer
}

func newTAUAnalyzer(cfg *Config, res *Resolver, tracker *procTracker) ProcedureAnalyzer {
	return &tauAnalyzer{baseAnalyzer: newBase(ProcTAU, cfg, res, tracker)}
}

func (a *tauAnalyzer) Observe(msg *nas.Message) ([]*FailureEvent, error) {
	if msg.Layer == nas.LayerRRC {
		return a.observeHandover(msg)
	}
	if msg.Layer != nas.LayerNASEMM {
		return nil, nil
	}
	ts := msg.Timestamp
	if msg.Direction == nas.Downlink {
		switch msg.Type {
		case nas.MsgTAUAccept:
			return a.tauAccept(msg, ts)
		case nas.MsgTAUReject:
			return a.tauReject(msg)
		case nas.MsgDetachRequest:
			return a.networkDetach(msg)
		}
		return nil, nil
	}
	switch msg.Type {
	case nas.MsgTAURequest:
		return a.tauRequest(msg, ts)
	case nas.MsgTAUComplete:
		if a.pending() && a.inst.state == StateAwaitingResponse && a.within(ts) {
			a.complete()
		}
	case nas.MsgDetachRequest:
		return a.deviceDetach(msg)
	}
	return nil, nil
}

// tauRequest handles the initiating request in the same shape as attach:
// concurrency on a distinct overlap, timeout counting on identical
// repeats, exactly one open instance afterwards.
func (a *tauAnalyzer) tauRequest(msg *nas.Message, ts time.Time) ([]*FailureEvent, error) {
	var out []*FailureEvent
	fp := msg.Fingerprint(tauCmpIEs)
	if a.pending() && a.within(ts) {
		if a.res.Evaluate(ProcTAU, ProcTAU, fp != a.inst.fingerprint) == VerdictConcurrent {
			ev := Evidence{
				Candidates: []Category{CatConcurrent},
				Message:    msg.Type,
				Detail:     "second distinct tracking area update before the first finished",
			}
			if a.inst.state == StateInitiated && a.inst.timer.Peek(ts) {
				ev.Candidates = append(ev.Candidates, CatTimeout)
			}
			e, err := a.abort(msg, ev)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	}
	if a.pending() && a.inst.state == StateInitiated {
		if a.countRetransmit(ts) {
			e, err := a.abort(msg, a.timeoutEvidence(msg))
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		} else {
			a.inst.fingerprint = fp
		}
	}
	if !a.pending() {
		a.begin(ts, fp)
	}
	return out, nil
}

// tauAccept advances the instance into the accept phase, restarting
// expiration accounting for the confirmation half.
func (a *tauAnalyzer) tauAccept(msg *nas.Message, ts time.Time) ([]*FailureEvent, error) {
	if !a.pending() {
		return nil, nil
	}
	if a.inst.state == StateAwaitingResponse {
		if a.countRetransmit(ts) {
			e, err := a.abort(msg, a.timeoutEvidence(msg))
			if err != nil {
				return nil, err
			}
			return []*FailureEvent{e}, nil
		}
		a.inst.fingerprint = msg.Fingerprint(tauCmpIEs)
		return nil, nil
	}
	a.inst.state = StateAwaitingResponse
	a.inst.timer.Observe()
	a.inst.timer.Arm(ts)
	a.inst.fingerprint = msg.Fingerprint(tauCmpIEs)
	return nil, nil
}

// tauReject classifies a downlink reject the way attach does: protocol
// defects, congestion with a real T3346 backoff, or a plain EMM
// rejection.
func (a *tauAnalyzer) tauReject(msg *nas.Message) ([]*FailureEvent, error) {
	if !a.pending() {
		return nil, nil
	}
	cause, ok := msg.EMMCause()
	if !ok || !cause.Known() {
		a.complete()
		return nil, nil
	}
	var cand Category
	detail := fmt.Sprintf("tracking area update rejected: %s", cause)
	switch {
	case cause.ProtocolError():
		cand = CatProtocolError
	case cause == nas.CauseCongestion:
		if !msg.HasBackoffTimer() {
			a.complete()
			return nil, nil
		}
		cand = CatEMM
		detail = fmt.Sprintf("tracking area update rejected: %s with T3346 backoff", cause)
	default:
		cand = CatEMM
	}
	ev := Evidence{
		Candidates: []Category{cand},
		Message:    msg.Type,
		Cause:      cause,
		Detail:     detail,
	}
	e, err := a.abort(msg, ev)
	if err != nil {
		return nil, err
	}
	return []*FailureEvent{e}, nil
}

// networkDetach applies the same re-attach rule as attach to a TAU that
// has not been accepted yet.
func (a *tauAnalyzer) networkDetach(msg *nas.Message) ([]*FailureEvent, error) {
	if !a.pending() || a.inst.state != StateInitiated {
		return nil, nil
	}
	dt := strings.ToLower(msg.DetachType())
	cause, hasCause := msg.EMMCause()
	required := strings.Contains(dt, "re-attach required")
	notRequired := strings.Contains(dt, "re-attach not required")
	imsiUnknown := hasCause && cause == nas.CauseIMSIUnknownInHSS
	if !required && !(notRequired && !imsiUnknown) {
		return nil, nil
	}
	ev := Evidence{
		Candidates: []Category{CatDetach},
		Message:    msg.Type,
		Cause:      cause,
		Detail:     fmt.Sprintf("network detach during tracking area update (%s)", strings.TrimSpace(dt)),
	}
	e, err := a.abort(msg, ev)
	if err != nil {
		return nil, err
	}
	return []*FailureEvent{e}, nil
}

// deviceDetach ends the TAU only on a switch-off detach: the device is
// powering down, so the update can never finish.
func (a *tauAnalyzer) deviceDetach(msg *nas.Message) ([]*FailureEvent, error) {
	if !a.pending() || a.inst.state != StateInitiated || !msg.SwitchOff() {
		return nil, nil
	}
	ev := Evidence{
		Candidates: []Category{CatDetach},
		Message:    msg.Type,
		Detail:     "switch-off detach during tracking area update",
	}
	e, err := a.abort(msg, ev)
	if err != nil {
		return nil, err
	}
	return []*FailureEvent{e}, nil
}
