package diag

import (
	"fmt"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

// gutiAnalyzer tracks the GUTI reallocation procedure (GUTI Reallocation
// Command / Complete). Command repeats count against T3450 rather than
// the shared retransmit window; any device-initiated EMM traffic while
// the command is unanswered collides with it.
type gutiAnalyzer struct {
	baseAnalyzer
}

func newGUTIAnalyzer(cfg *Config, res *Resolver, tracker *procTracker) ProcedureAnalyzer {
	return &gutiAnalyzer{baseAnalyzer: newBase(ProcGUTIRealloc, cfg, res, tracker)}
}

func (a *gutiAnalyzer) Observe(msg *nas.Message) ([]*FailureEvent, error) {
	if msg.Layer == nas.LayerRRC {
		return a.observeHandover(msg)
	}
	if msg.Layer != nas.LayerNASEMM {
		return nil, nil
	}
	ts := msg.Timestamp
	if msg.Direction == nas.Downlink {
		if msg.Type == nas.MsgGUTIReallocCommand {
			return a.reallocCommand(msg, ts)
		}
		return nil, nil
	}
	switch msg.Type {
	case nas.MsgAttachRequest:
		return a.collide(msg, ts, ProcAttach)
	case nas.MsgDetachRequest:
		return a.collide(msg, ts, ProcDetach)
	case nas.MsgTAURequest:
		return a.collide(msg, ts, ProcTAU)
	case nas.MsgServiceRequest:
		return a.collide(msg, ts, ProcServiceRequest)
	case nas.MsgGUTIReallocComplete:
		if a.pending() {
			a.complete()
		}
	}
	return nil, nil
}

// reallocCommand counts command repeats toward timeout and always
// leaves an instance open, re-armed on the repeat's own timestamp.
func (a *gutiAnalyzer) reallocCommand(msg *nas.Message, ts time.Time) ([]*FailureEvent, error) {
	var out []*FailureEvent
	if a.pending() && a.countRetransmit(ts) {
		e, err := a.abort(msg, a.timeoutEvidence(msg))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if !a.pending() {
		a.begin(ts, "")
	}
	return out, nil
}

// collide aborts the pending instance when device-initiated traffic of
// the given kind lands inside the retransmit window.
func (a *gutiAnalyzer) collide(msg *nas.Message, ts time.Time, incoming Procedure) ([]*FailureEvent, error) {
	if !a.pending() || !a.within(ts) {
		return nil, nil
	}
	if a.res.Evaluate(ProcGUTIRealloc, incoming, false) != VerdictCollision {
		return nil, nil
	}
	ev := Evidence{
		Candidates: []Category{CatCollision},
		Message:    msg.Type,
		Detail:     fmt.Sprintf("%s while a GUTI reallocation command is unanswered", msg.Type),
	}
	e, err := a.abort(msg, ev)
	if err != nil {
		return nil, err
	}
	return []*FailureEvent{e}, nil
}
