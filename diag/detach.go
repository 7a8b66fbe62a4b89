package diag

import (
	"fmt"
	"strings"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

// detachAnalyzer tracks the detach procedure in both directions
// (Detach Request / Detach Accept, T3421). It remembers what the pending
// detach request said, since whether later registration traffic collides
// with it depends on the detach type and cause it carried.
type detachAnalyzer struct {
	baseAnalyzer

	lastType  string
	lastCause nas.Cause
	hasCause  bool
}

func newDetachAnalyzer(cfg *Config, res *Resolver, tracker *procTracker) ProcedureAnalyzer {
	return &detachAnalyzer{baseAnalyzer: newBase(ProcDetach, cfg, res, tracker)}
}

func (a *detachAnalyzer) resetLocal() {
	a.lastType = ""
	a.lastCause = 0
	a.hasCause = false
}

func (a *detachAnalyzer) Observe(msg *nas.Message) ([]*FailureEvent, error) {
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
		case nas.MsgDetachRequest:
			return a.detachRequest(msg, ts, true)
		case nas.MsgDetachAccept:
			if a.pending() {
				a.complete()
				a.resetLocal()
			}
		}
		return nil, nil
	}
	switch msg.Type {
	case nas.MsgDetachRequest:
		return a.detachRequest(msg, ts, false)
	case nas.MsgDetachAccept:
		if a.pending() {
			a.complete()
			a.resetLocal()
		}
	case nas.MsgAttachRequest:
		return a.collideAttach(msg)
	case nas.MsgTAURequest:
		return a.collideTAU(msg)
	}
	return nil, nil
}

// detachRequest handles a detach request from either side. A network
// detach carrying an EMM cause is itself the failure; otherwise repeats
// count toward timeout. Exactly one detach instance is open afterwards,
// remembering this request's type and cause.
func (a *detachAnalyzer) detachRequest(msg *nas.Message, ts time.Time, network bool) ([]*FailureEvent, error) {
	var out []*FailureEvent
	cause, hasCause := msg.EMMCause()
	if network && hasCause && cause.Known() {
		if !a.pending() {
			a.begin(ts, "")
		}
		ev := Evidence{
			Candidates: []Category{CatEMM},
			Message:    msg.Type,
			Cause:      cause,
			Detail:     fmt.Sprintf("network detach carried an error cause: %s", cause),
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
	} else if a.pending() {
		if a.countRetransmit(ts) {
			e, err := a.abort(msg, a.timeoutEvidence(msg))
			if err != nil {
				return nil, err
			}
			a.resetLocal()
			out = append(out, e)
		}
	}
	if !a.pending() {
		a.begin(ts, "")
	}
	a.lastType = strings.ToLower(msg.DetachType())
	a.lastCause = cause
	a.hasCause = hasCause
	return out, nil
}

// collideAttach aborts the pending detach when the device starts a fresh
// attach that contradicts it. A detach the network tied to an unknown
// IMSI expects exactly that re-registration, so it does not collide.
func (a *detachAnalyzer) collideAttach(msg *nas.Message) ([]*FailureEvent, error) {
	if !a.pending() {
		return nil, nil
	}
	imsiUnknown := a.hasCause && a.lastCause == nas.CauseIMSIUnknownInHSS
	hit := (strings.Contains(a.lastType, "re-attach not required") && !imsiUnknown) ||
		(strings.Contains(a.lastType, "imsi detach") && !imsiUnknown) ||
		strings.Contains(a.lastType, "re-attach required")
	if !hit {
		return nil, nil
	}
	if a.res.Evaluate(ProcDetach, ProcAttach, false) != VerdictCollision {
		return nil, nil
	}
	ev := Evidence{
		Candidates: []Category{CatCollision},
		Message:    msg.Type,
		Detail:     fmt.Sprintf("attach request while a detach is unanswered (%s)", a.lastType),
	}
	e, err := a.abort(msg, ev)
	if err != nil {
		return nil, err
	}
	a.resetLocal()
	return []*FailureEvent{e}, nil
}

// collideTAU aborts the pending detach when the device tries a tracking
// area update the detach makes pointless: after an IMSI-unknown detach
// or an IMSI detach there is no registration left to update.
func (a *detachAnalyzer) collideTAU(msg *nas.Message) ([]*FailureEvent, error) {
	if !a.pending() {
		return nil, nil
	}
	imsiUnknown := a.hasCause && a.lastCause == nas.CauseIMSIUnknownInHSS
	hit := (strings.Contains(a.lastType, "re-attach not required") && imsiUnknown) ||
		strings.Contains(a.lastType, "imsi detach")
	if !hit {
		return nil, nil
	}
	if a.res.Evaluate(ProcDetach, ProcTAU, false) != VerdictCollision {
		return nil, nil
	}
	ev := Evidence{
		Candidates: []Category{CatCollision},
		Message:    msg.Type,
		Detail:     fmt.Sprintf("tracking area update while a detach is unanswered (%s)", a.lastType),
	}
	e, err := a.abort(msg, ev)
	if err != nil {
		return nil, err
	}
	a.resetLocal()
	return []*FailureEvent{e}, nil
}
