package diag

import "testing"

func TestResolverDefaults(t *testing.T) {
	r := NewResolver(nil)

	// Registration procedures outrank the sub-procedures they embed.
	cases := []struct {
		active, incoming Procedure
		distinct         bool
		want             Verdict
	}{
		{ProcIdentification, ProcAttach, false, VerdictCollision},
		{ProcIdentification, ProcDetach, false, VerdictCollision},
		{ProcSecurityMode, ProcServiceRequest, false, VerdictCollision},
		{ProcSecurityMode, ProcGUTIRealloc, false, VerdictCollision},
		{ProcGUTIRealloc, ProcTAU, false, VerdictCollision},
		{ProcDetach, ProcAttach, false, VerdictCollision},
		{ProcDetach, ProcTAU, false, VerdictCollision},

		// Lower-priority triggers do not disturb the active instance.
		{ProcAttach, ProcIdentification, false, VerdictNone},
		{ProcTAU, ProcSecurityMode, false, VerdictNone},
		{ProcGUTIRealloc, ProcSecurityMode, false, VerdictNone},

		// Same kind: only a distinct request is a conflict.
		{ProcAttach, ProcAttach, true, VerdictConcurrent},
		{ProcAttach, ProcAttach, false, VerdictNone},
		{ProcTAU, ProcTAU, true, VerdictConcurrent},
	}
	for _, tc := range cases {
		got := r.Evaluate(tc.active, tc.incoming, tc.distinct)
		if got != tc.want {
			t.Errorf("Evaluate(%s, %s, %v): expected %s, got %s",
				tc.active, tc.incoming, tc.distinct, tc.want, got)
		}
	}
}

func TestResolverEqualPriorityCollides(t *testing.T) {
	r := NewResolver(map[Procedure]int{
		ProcAttach: 50,
		ProcDetach: 50,
	})
	if got := r.Evaluate(ProcDetach, ProcAttach, false); got != VerdictCollision {
		t.Errorf("Expected equal priority to collide, got %s", got)
	}
}

func TestResolverCustomPriorities(t *testing.T) {
	custom := map[Procedure]int{
		ProcIdentification: 90,
		ProcAttach:         10,
	}
	r := NewResolver(custom)
	if got := r.Evaluate(ProcIdentification, ProcAttach, false); got != VerdictNone {
		t.Errorf("Expected demoted attach not to collide, got %s", got)
	}
	if r.Priority(ProcIdentification) != 90 {
		t.Errorf("Expected priority 90, got %d", r.Priority(ProcIdentification))
	}

	// The resolver copies the table; caller mutation must not leak in.
	custom[ProcAttach] = 100
	if got := r.Evaluate(ProcIdentification, ProcAttach, false); got != VerdictNone {
		t.Errorf("Expected the resolver to keep its own table, got %s", got)
	}
}

func TestDefaultPriorityConstraints(t *testing.T) {
	p := DefaultPriorities()

	// The collision rules only work if registration traffic outranks
	// the procedures it interrupts.
	if p[ProcAttach] < p[ProcDetach] || p[ProcTAU] < p[ProcDetach] {
		t.Error("Expected attach and TAU to rank at least as high as detach")
	}
	if p[ProcGUTIRealloc] <= p[ProcSecurityMode] {
		t.Error("Expected GUTI reallocation to outrank security mode control")
	}
	if p[ProcIdentification] >= p[ProcServiceRequest] {
		t.Error("Expected identification to rank below a service request")
	}
}
