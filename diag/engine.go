package diag

import (
	"fmt"
	"time"

	"github.com/lteinsight/emmkpi/nas"
)

// analyzerRegistry maps each procedure kind to its analyzer constructor.
// Registration order comes from Procedures; the table itself never
// changes at runtime.
var analyzerRegistry = map[Procedure]func(*Config, *Resolver, *procTracker) ProcedureAnalyzer{
	ProcIdentification: newIdentificationAnalyzer,
	ProcAuthentication: newAuthenticationAnalyzer,
	ProcSecurityMode:   newSecurityModeAnalyzer,
	ProcGUTIRealloc:    newGUTIAnalyzer,
	ProcAttach:         newAttachAnalyzer,
	ProcDetach:         newDetachAnalyzer,
	ProcTAU:            newTAUAnalyzer,
}

// Engine drives the seven procedure analyzers over one decoded message
// stream in lock step: each message is handed to every enabled analyzer
// in registration order before the next is read. Classified failures go
// to the emitter exactly once. The engine is single-stream state; it is
// not safe for concurrent use.
type Engine struct {
	cfg       *Config
	emitter   Emitter
	tracker   *procTracker
	analyzers []ProcedureAnalyzer

	messages    int
	skipped     int
	outOfOrder  int
	failures    int
	lastTS      time.Time
	emitted     map[string]bool
	byCategory  map[Category]int
	byProcedure map[Procedure]int
	byKPI       map[string]int
	warnings    []string
}

// Summary is the end-of-run accounting: stream totals, failure counts
// broken down three ways, and any instances left open by truncation.
type Summary struct {
	Messages    int               `json:"messages"`
	Skipped     int               `json:"skipped"`
	OutOfOrder  int               `json:"out_of_order"`
	Failures    int               `json:"failures"`
	ByCategory  map[Category]int  `json:"by_category,omitempty"`
	ByProcedure map[Procedure]int `json:"by_procedure,omitempty"`
	ByKPI       map[string]int    `json:"by_kpi,omitempty"`
	Incomplete  []*Incomplete     `json:"incomplete,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// NewEngine builds an engine from the configuration. A nil config
// selects the defaults; a nil emitter drops events after counting them.
func NewEngine(cfg *Config, emitter Emitter) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	res := NewResolver(cfg.Priorities)
	tracker := newProcTracker()
	var analyzers []ProcedureAnalyzer
	for _, p := range Procedures {
		if !cfg.Enabled(p) {
			continue
		}
		analyzers = append(analyzers, analyzerRegistry[p](cfg, res, tracker))
	}
	return &Engine{
		cfg:         cfg,
		emitter:     emitter,
		tracker:     tracker,
		analyzers:   analyzers,
		emitted:     make(map[string]bool),
		byCategory:  make(map[Category]int),
		byProcedure: make(map[Procedure]int),
		byKPI:       make(map[string]int),
	}
}

// Feed runs one message through every enabled analyzer and returns the
// failures it produced, already emitted. A message older than its
// predecessor is counted, noted and dropped rather than fed to the state
// machines. Errors are classification or emission faults and leave the
// run unusable.
func (e *Engine) Feed(msg *nas.Message) ([]*FailureEvent, error) {
	if msg == nil {
		return nil, nil
	}
	if !e.lastTS.IsZero() && msg.Timestamp.Before(e.lastTS) {
		e.outOfOrder++
		e.warnf("message %d: timestamp %s precedes the stream position %s, dropped",
			msg.Index, msg.Timestamp.Format(time.RFC3339Nano), e.lastTS.Format(time.RFC3339Nano))
		return nil, nil
	}
	e.lastTS = msg.Timestamp
	switch msg.Layer {
	case nas.LayerNASEMM:
		if !msg.Type.Known() {
			e.skipped++
			return nil, nil
		}
	case nas.LayerRRC:
	default:
		e.skipped++
		return nil, nil
	}
	e.messages++
	e.tracker.Observe(msg)

	var out []*FailureEvent
	for _, a := range e.analyzers {
		events, err := a.Observe(msg)
		if err != nil {
			return out, fmt.Errorf("%s analyzer: %w", a.Kind(), err)
		}
		for _, ev := range events {
			if err := e.record(ev); err != nil {
				return out, err
			}
			out = append(out, ev)
		}
	}
	return out, nil
}

// record books one failure event and hands it to the emitter. A second
// event for the same instance is a state machine fault.
func (e *Engine) record(ev *FailureEvent) error {
	if e.emitted[ev.InstanceID] {
		return fmt.Errorf("instance %s produced a second failure event", ev.InstanceID)
	}
	e.emitted[ev.InstanceID] = true
	e.failures++
	e.byCategory[ev.Category]++
	e.byProcedure[ev.Procedure]++
	e.byKPI[ev.KPI()]++
	if e.emitter == nil {
		return nil
	}
	if err := e.emitter.Emit(ev); err != nil {
		return fmt.Errorf("emit %s: %w", ev.InstanceID, err)
	}
	return nil
}

// Finish flushes the analyzers and returns the run summary. Instances
// still open at end of stream are reported as incomplete, never
// synthesized into failures.
func (e *Engine) Finish() *Summary {
	s := &Summary{
		Messages:   e.messages,
		Skipped:    e.skipped,
		OutOfOrder: e.outOfOrder,
		Failures:   e.failures,
		Warnings:   e.warnings,
	}
	if len(e.byCategory) > 0 {
		s.ByCategory = e.byCategory
	}
	if len(e.byProcedure) > 0 {
		s.ByProcedure = e.byProcedure
	}
	if len(e.byKPI) > 0 {
		s.ByKPI = e.byKPI
	}
	for _, a := range e.analyzers {
		s.Incomplete = append(s.Incomplete, a.Flush(e.lastTS)...)
	}
	return s
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() *Config {
	return e.cfg
}

func (e *Engine) warnf(format string, args ...any) {
	e.warnings = append(e.warnings, fmt.Sprintf(format, args...))
}
