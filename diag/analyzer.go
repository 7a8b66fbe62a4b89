package diag

import (
	"fmt"
	"strings"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

// ProcedureAnalyzer is one of the seven procedure state machines. Every
// analyzer sees every message and decides relevance itself; a returned
// error is a classification anomaly and stops the run.
type ProcedureAnalyzer interface {
	Kind() Procedure
	Observe(msg *nas.Message) ([]*FailureEvent, error)
	Flush(end time.Time) []*Incomplete
}

// instance is the live state of one tracked procedure run. At most one
// exists per analyzer at a time.
type instance struct {
	id          string
	state       State
	start       time.Time
	fingerprint string
	timer       TimerRecord
}

// baseAnalyzer carries the state and helpers shared by all seven
// analyzers: the single live instance, deterministic instance naming,
// retransmission counting and the handover interruption rule.
type baseAnalyzer struct {
	kind    Procedure
	cfg     *Config
	res     *Resolver
	tracker *procTracker

	inst *instance
	seq  int
}

func newBase(kind Procedure, cfg *Config, res *Resolver, tracker *procTracker) baseAnalyzer {
	return baseAnalyzer{kind: kind, cfg: cfg, res: res, tracker: tracker}
}

// Kind returns the procedure this analyzer tracks.
func (b *baseAnalyzer) Kind() Procedure { return b.kind }

func (b *baseAnalyzer) pending() bool { return b.inst != nil }

// begin opens a new instance triggered at the given time.
func (b *baseAnalyzer) begin(at time.Time, fingerprint string) {
	b.seq++
	inst := &instance{
		id:          fmt.Sprintf("%s-%d", strings.ToLower(b.kind.KPIAbbrev()), b.seq),
		state:       StateInitiated,
		start:       at,
		fingerprint: fingerprint,
		timer:       b.cfg.newTimer(b.kind),
	}
	inst.timer.Arm(at)
	b.inst = inst
	b.tracker.Set(b.kind, at)
}

// complete finalizes the instance without a failure.
func (b *baseAnalyzer) complete() {
	if b.inst != nil {
		b.inst.state = StateCompleted
		b.inst = nil
	}
	b.tracker.Clear(b.kind)
}

// abort classifies the evidence, finalizes the instance and returns the
// failure event. Classification errors propagate unchanged.
func (b *baseAnalyzer) abort(trigger *nas.Message, ev Evidence) (*FailureEvent, error) {
	sortCandidates(ev.Candidates)
	cat, err := Classify(b.kind, ev)
	if err != nil {
		return nil, err
	}
	e := &FailureEvent{
		ID:         b.inst.id,
		Procedure:  b.kind,
		Category:   cat,
		Timestamp:  trigger.Timestamp,
		Start:      b.inst.start,
		InstanceID: b.inst.id,
		MsgIndex:   trigger.Index,
		Message:    ev.Message,
		Cause:      ev.Cause,
		Detail:     ev.Detail,
	}
	b.inst.state = StateAborted
	b.inst = nil
	b.tracker.Clear(b.kind)
	return e, nil
}

// within reports whether the timestamp falls inside the shared
// retransmit window measured from the last armed transmission.
func (b *baseAnalyzer) within(at time.Time) bool {
	return b.withinOf(at, b.cfg.RetransmitWindow())
}

func (b *baseAnalyzer) withinOf(at time.Time, window time.Duration) bool {
	if b.inst == nil || b.inst.timer.LastArmed.IsZero() {
		return false
	}
	gap := at.Sub(b.inst.timer.LastArmed)
	return gap >= 0 && gap <= window
}

// countRetransmit registers a repeat of the initiating message and
// reports whether the timeout threshold is reached. Re-arms on the
// repeat's own timestamp.
func (b *baseAnalyzer) countRetransmit(at time.Time) bool {
	reached := b.inst.timer.Expire(at)
	b.inst.timer.Arm(at)
	return reached
}

// timeoutEvidence builds the TIMEOUT evidence for an exhausted instance.
func (b *baseAnalyzer) timeoutEvidence(msg *nas.Message) Evidence {
	return Evidence{
		Candidates: []Category{CatTimeout},
		Message:    msg.Type,
		Detail: fmt.Sprintf("%d consecutive expirations of %s with no response",
			b.inst.timer.Expirations, b.kind),
	}
}

// observeHandover applies the shared RRC interruption rule: a connection
// reestablishment caused by handover failure aborts the instance when
// this procedure holds the latest pending start and the failure falls
// within the handover window.
func (b *baseAnalyzer) observeHandover(msg *nas.Message) ([]*FailureEvent, error) {
	if b.inst == nil {
		return nil, nil
	}
	if !strings.Contains(msg.ReestablishmentCause(), "handoverFailure") {
		return nil, nil
	}
	start, ok := b.tracker.WasLatest(b.kind)
	if !ok {
		return nil, nil
	}
	gap := msg.Timestamp.Sub(start)
	if gap < 0 || gap > b.cfg.HandoverWindow() {
		return nil, nil
	}
	ev := Evidence{
		Candidates: []Category{CatHandover},
		Detail:     "RRC connection reestablishment after handover failure",
	}
	e, err := b.abort(msg, ev)
	if err != nil {
		return nil, err
	}
	return []*FailureEvent{e}, nil
}

// Flush reports the still-open instance at end of stream, if any.
func (b *baseAnalyzer) Flush(end time.Time) []*Incomplete {
	if b.inst == nil {
		return nil
	}
	inc := &Incomplete{
		Procedure:  b.kind,
		InstanceID: b.inst.id,
		State:      b.inst.state,
		Start:      b.inst.start,
		Retries:    b.inst.timer.Expirations,
	}
	return []*Incomplete{inc}
}
