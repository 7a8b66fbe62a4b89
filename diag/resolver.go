package diag

// Verdict is the resolver's decision for a trigger arriving while
// another procedure instance is active.
type Verdict int

const (
	VerdictNone       Verdict = iota // no conflict, active instance unaffected
	VerdictCollision                 // different kind, equal or higher priority
	VerdictConcurrent                // same kind, distinct new request
)

// String returns a human-readable verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictNone:
		return "None"
	case VerdictCollision:
		return "Collision"
	case VerdictConcurrent:
		return "Concurrent"
	default:
		return "Unknown"
	}
}

// Resolver decides collision and concurrency outcomes from a static
// procedure priority table. The table is fixed at construction and never
// mutated during a run.
type Resolver struct {
	priorities map[Procedure]int
}

// NewResolver builds a resolver from the given priority table. A nil
// table selects the defaults.
func NewResolver(priorities map[Procedure]int) *Resolver {
	if priorities == nil {
		priorities = DefaultPriorities()
	}
	table := make(map[Procedure]int, len(priorities))
	for k, v := range priorities {
		table[k] = v
	}
	return &Resolver{priorities: table}
}

// DefaultPriorities returns the default procedure priority table.
// Registration procedures outrank the sub-procedures they embed; a GUTI
// reallocation outranks security mode control.
func DefaultPriorities() map[Procedure]int {
	return map[Procedure]int{
		ProcAttach:         70,
		ProcTAU:            65,
		ProcDetach:         60,
		ProcServiceRequest: 50,
		ProcGUTIRealloc:    40,
		ProcAuthentication: 35,
		ProcSecurityMode:   30,
		ProcIdentification: 20,
	}
}

// Priority returns the configured priority of a procedure kind.
func (r *Resolver) Priority(p Procedure) int {
	return r.priorities[p]
}

// Evaluate decides the outcome of an incoming trigger while an instance
// of kind active is pending. A same-kind trigger is Concurrent only when
// the new request is distinct from the pending one; an identical repeat
// is a retransmission, not a conflict. A different-kind trigger is a
// Collision when its priority is equal or higher.
func (r *Resolver) Evaluate(active, incoming Procedure, sameKindDistinct bool) Verdict {
	if active == incoming {
		if sameKindDistinct {
			return VerdictConcurrent
		}
		return VerdictNone
	}
	if r.priorities[incoming] >= r.priorities[active] {
		return VerdictCollision
	}
	return VerdictNone
}
