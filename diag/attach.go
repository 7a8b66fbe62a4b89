package diag

import (
	"fmt"
	"strings"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

// attachCmpIEs are the information elements compared between attach
// requests to tell a retransmission from a second, distinct attach.
var attachCmpIEs = []string{
	nas.IEAttachType,
	nas.IEESMContainer,
	nas.IETypeOfID,
	nas.IEUEUsageSetting,
	nas.IEMobileIdentity,
	nas.IENetworkCap,
	nas.IEDRXParameter,
}

// attachAnalyzer tracks the attach procedure through both halves of its
// exchange: Attach Request answered by Attach Accept, then Attach
// Complete confirming the accept. Rejects carry the failure cause; a
// detach in either direction ends the registration attempt.
type attachAnalyzer struct {
	baseAnalyzer
}

func newAttachAnalyzer(cfg *Config, res *Resolver, tracker *procTracker) ProcedureAnalyzer {
	return &attachAnalyzer{baseAnalyzer: newBase(ProcAttach, cfg, res, tracker)}
}

func (a *attachAnalyzer) Observe(msg *nas.Message) ([]*FailureEvent, error) {
	if msg.Layer != nas.LayerNASEMM {
		return nil, nil
	}
	ts := msg.Timestamp
	if msg.Direction == nas.Downlink {
		switch msg.Type {
		case nas.MsgAttachAccept:
			return a.attachAccept(msg, ts)
		case nas.MsgAttachReject:
			return a.attachReject(msg)
		case nas.MsgDetachRequest:
			return a.networkDetach(msg)
		}
		return nil, nil
	}
	switch msg.Type {
	case nas.MsgAttachRequest:
		return a.attachRequest(msg, ts)
	case nas.MsgAttachComplete:
		if a.pending() && a.inst.state == StateAwaitingResponse && a.within(ts) {
			a.complete()
		}
	case nas.MsgDetachRequest:
		return a.deviceDetach(msg, ts)
	}
	return nil, nil
}

// attachRequest handles the initiating request: a distinct overlapping
// request means two registrations raced, an identical repeat counts
// toward timeout, and either way exactly one attach instance is open
// afterwards, armed on this request.
func (a *attachAnalyzer) attachRequest(msg *nas.Message, ts time.Time) ([]*FailureEvent, error) {
	var out []*FailureEvent
	fp := msg.Fingerprint(attachCmpIEs)
	if a.pending() && a.within(ts) {
		if a.res.Evaluate(ProcAttach, ProcAttach, fp != a.inst.fingerprint) == VerdictConcurrent {
			ev := Evidence{
				Candidates: []Category{CatConcurrent},
				Message:    msg.Type,
				Detail:     "second distinct attach request before the first finished",
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

// attachAccept advances the instance into the accept phase. Expiration
// accounting starts over there: accept repeats now measure the device
// failing to confirm, not the network failing to answer.
func (a *attachAnalyzer) attachAccept(msg *nas.Message, ts time.Time) ([]*FailureEvent, error) {
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
		a.inst.fingerprint = msg.Fingerprint(attachCmpIEs)
		return nil, nil
	}
	a.inst.state = StateAwaitingResponse
	a.inst.timer.Observe()
	a.inst.timer.Arm(ts)
	a.inst.fingerprint = msg.Fingerprint(attachCmpIEs)
	return nil, nil
}

// attachReject classifies a downlink reject by its EMM cause. Protocol
// defect causes get their own category; congestion counts only when the
// network actually imposed a T3346 backoff; other recognized causes are
// plain EMM rejections. An unrecognized cause ends the instance without
// a verdict.
func (a *attachAnalyzer) attachReject(msg *nas.Message) ([]*FailureEvent, error) {
	if !a.pending() {
		return nil, nil
	}
	cause, ok := msg.EMMCause()
	if !ok || !cause.Known() {
		a.complete()
		return nil, nil
	}
	var cand Category
	detail := fmt.Sprintf("attach rejected: %s", cause)
	switch {
	case cause.ProtocolError():
		cand = CatProtocolError
	case cause == nas.CauseCongestion:
		if !msg.HasBackoffTimer() {
			a.complete()
			return nil, nil
		}
		cand = CatEMM
		detail = fmt.Sprintf("attach rejected: %s with T3346 backoff", cause)
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

// networkDetach ends a not-yet-accepted attach when the network detaches
// the device mid-procedure. A detach ordering re-attach always aborts;
// one without re-attach aborts unless the cause says the IMSI is unknown
// in the HSS, where the rejection is the whole story.
func (a *attachAnalyzer) networkDetach(msg *nas.Message) ([]*FailureEvent, error) {
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
		Detail:     fmt.Sprintf("network detach during attach (%s)", strings.TrimSpace(dt)),
	}
	e, err := a.abort(msg, ev)
	if err != nil {
		return nil, err
	}
	return []*FailureEvent{e}, nil
}

// deviceDetach ends the attach when the device walks away from the
// registration before either half finished.
func (a *attachAnalyzer) deviceDetach(msg *nas.Message, ts time.Time) ([]*FailureEvent, error) {
	if !a.pending() || !a.within(ts) {
		return nil, nil
	}
	ev := Evidence{
		Candidates: []Category{CatDetach},
		Message:    msg.Type,
		Detail:     "device-initiated detach during attach",
	}
	e, err := a.abort(msg, ev)
	if err != nil {
		return nil, err
	}
	return []*FailureEvent{e}, nil
}
