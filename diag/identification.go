package diag

import (
	"fmt"
	"strings"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

// identAttachCmpIEs are the information elements compared between
// back-to-back attach requests overlapping an identification exchange.
// Two requests agreeing on all of them are one retransmitted procedure.
var identAttachCmpIEs = []string{
	nas.IEProtocolDisc,
	nas.IESecurityHeader,
	nas.IEMsgType,
	nas.IEAttachType,
	nas.IEKeySetID,
	nas.IETypeOfID,
	nas.IEESMContainer,
}

// identificationAnalyzer tracks the network-initiated identification
// procedure (Identity Request / Identity Response, T3470). Besides its
// own instance it follows surrounding attach, service request and
// tracking area update activity to tell lower-layer loss apart from
// plain timeouts, and to catch registration traffic colliding with an
// unanswered identity request.
type identificationAnalyzer struct {
	baseAnalyzer

	pendingAttach  bool
	pendingService bool
	pendingTAU     bool
	prevAttachFP   string
}

func newIdentificationAnalyzer(cfg *Config, res *Resolver, tracker *procTracker) ProcedureAnalyzer {
	return &identificationAnalyzer{baseAnalyzer: newBase(ProcIdentification, cfg, res, tracker)}
}

func (a *identificationAnalyzer) resetLocal() {
	a.pendingAttach = false
	a.pendingService = false
	a.pendingTAU = false
	a.prevAttachFP = ""
}

func (a *identificationAnalyzer) Observe(msg *nas.Message) ([]*FailureEvent, error) {
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
		case nas.MsgIdentityRequest:
			return a.identityRequest(msg, ts)
		case nas.MsgAttachReject:
			a.pendingAttach = false
			a.prevAttachFP = ""
		case nas.MsgTAUReject:
			a.pendingTAU = false
		case nas.MsgServiceReject, nas.MsgServiceAccept:
			a.pendingService = false
		}
		return nil, nil
	}
	switch msg.Type {
	case nas.MsgAttachRequest:
		return a.attachRequest(msg, ts)
	case nas.MsgAttachComplete:
		a.pendingAttach = false
		a.prevAttachFP = ""
	case nas.MsgDetachRequest:
		return a.detachRequest(msg, ts)
	case nas.MsgTAURequest:
		if !a.pending() {
			a.pendingTAU = true
		}
	case nas.MsgTAUComplete:
		a.pendingTAU = false
	case nas.MsgIdentityResponse:
		return a.identityResponse(msg)
	case nas.MsgServiceRequest:
		if !a.pending() {
			a.pendingService = true
		}
	}
	return nil, nil
}

// identityRequest handles a downlink Identity Request. A repeat while a
// service request or TAU is outstanding points at lower-layer loss of
// the response; otherwise repeats count toward the timeout threshold.
// The request always leaves an instance open, re-armed on its own
// timestamp.
func (a *identificationAnalyzer) identityRequest(msg *nas.Message, ts time.Time) ([]*FailureEvent, error) {
	var out []*FailureEvent
	if a.pending() {
		switch {
		case a.pendingService:
			if a.within(ts) {
				ev := Evidence{
					Candidates: []Category{CatTransmissionService},
					Message:    msg.Type,
					Detail:     "identity request repeated while a service request is unanswered",
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
					Detail:     "identity request repeated while a tracking area update is unanswered",
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

// attachRequest handles an uplink Attach Request observed while an
// identity request may be outstanding. The first overlapping attach is
// a collision; a second, materially different attach during the same
// overlap means two registration attempts ran concurrently.
func (a *identificationAnalyzer) attachRequest(msg *nas.Message, ts time.Time) ([]*FailureEvent, error) {
	var out []*FailureEvent
	if a.pending() {
		if !a.pendingAttach {
			if a.within(ts) && a.res.Evaluate(ProcIdentification, ProcAttach, false) == VerdictCollision {
				ev := Evidence{
					Candidates: []Category{CatCollision},
					Message:    msg.Type,
					Detail:     "attach request while an identity request is unanswered",
				}
				e, err := a.abort(msg, ev)
				if err != nil {
					return nil, err
				}
				a.resetLocal()
				out = append(out, e)
			}
		} else if a.within(ts) {
			fp := msg.Fingerprint(identAttachCmpIEs)
			if a.res.Evaluate(ProcAttach, ProcAttach, fp != a.prevAttachFP) == VerdictConcurrent {
				ev := Evidence{
					Candidates: []Category{CatConcurrent},
					Message:    msg.Type,
					Detail:     "distinct attach request overlapping identification",
				}
				e, err := a.abort(msg, ev)
				if err != nil {
					return nil, err
				}
				a.resetLocal()
				out = append(out, e)
			}
		}
	}
	a.prevAttachFP = msg.Fingerprint(identAttachCmpIEs)
	a.pendingAttach = true
	return out, nil
}

// detachRequest handles an uplink Detach Request. Only a switch-off
// detach aborts a pending identification; a normal detach keeps the
// exchange alive.
func (a *identificationAnalyzer) detachRequest(msg *nas.Message, ts time.Time) ([]*FailureEvent, error) {
	if !a.pending() || !a.within(ts) || !msg.SwitchOff() {
		return nil, nil
	}
	if a.res.Evaluate(ProcIdentification, ProcDetach, false) != VerdictCollision {
		return nil, nil
	}
	ev := Evidence{
		Candidates: []Category{CatCollision},
		Message:    msg.Type,
		Detail:     "switch-off detach request while an identity request is unanswered",
	}
	e, err := a.abort(msg, ev)
	if err != nil {
		return nil, err
	}
	a.resetLocal()
	return []*FailureEvent{e}, nil
}

// identityResponse closes the instance. A response carrying no usable
// identity encoding is a failure of the procedure itself.
func (a *identificationAnalyzer) identityResponse(msg *nas.Message) ([]*FailureEvent, error) {
	if !a.pending() {
		return nil, nil
	}
	if id := msg.MobileIdentity(); id != "" && !usableIdentity(id) {
		ev := Evidence{
			Candidates: []Category{CatUnavailable},
			Message:    msg.Type,
			Detail:     fmt.Sprintf("requested identity unavailable: %s", strings.TrimSpace(id)),
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

// usableIdentity reports whether the identity type display value names a
// real identity (IMSI, IMEISV or a TMSI variant).
func usableIdentity(showname string) bool {
	if strings.Contains(strings.ToLower(showname), "no identity") {
		return false
	}
	return strings.Contains(showname, "IMSI") ||
		strings.Contains(showname, "IMEISV") ||
		strings.Contains(showname, "TMSI/P-TMSI/M-TMSI")
}
