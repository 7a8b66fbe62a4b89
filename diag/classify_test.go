package diag

import (
	"errors"
	"strings"
	"testing"
)

func TestClassifySingleCandidate(t *testing.T) {
	cat, err := Classify(ProcAuthentication, Evidence{Candidates: []Category{CatMAC}})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cat != CatMAC {
		t.Errorf("Expected MAC, got %s", cat)
	}
}

func TestClassifyRejectsOutsideSubset(t *testing.T) {
	// Attach never emits HANDOVER.
	_, err := Classify(ProcAttach, Evidence{Candidates: []Category{CatHandover}})
	if !errors.Is(err, ErrUnsupportedCategory) {
		t.Errorf("Expected ErrUnsupportedCategory, got %v", err)
	}

	// One bad candidate poisons the whole evidence.
	_, err = Classify(ProcAttach, Evidence{Candidates: []Category{CatTimeout, CatMAC}})
	if !errors.Is(err, ErrUnsupportedCategory) {
		t.Errorf("Expected ErrUnsupportedCategory, got %v", err)
	}
}

func TestClassifyRejectsEmptyEvidence(t *testing.T) {
	_, err := Classify(ProcDetach, Evidence{})
	if !errors.Is(err, ErrNoEvidence) {
		t.Errorf("Expected ErrNoEvidence, got %v", err)
	}
}

func TestClassifyPrecedence(t *testing.T) {
	cases := []struct {
		proc       Procedure
		candidates []Category
		want       Category
	}{
		{ProcTAU, []Category{CatTimeout, CatEMM}, CatEMM},
		{ProcTAU, []Category{CatEMM, CatTimeout}, CatEMM},
		{ProcTAU, []Category{CatEMM, CatDetach}, CatDetach},
		{ProcTAU, []Category{CatConcurrent, CatTimeout}, CatConcurrent},
		{ProcTAU, []Category{CatHandover, CatTimeout}, CatHandover},
		{ProcIdentification, []Category{CatTransmissionService, CatTimeout}, CatTransmissionService},
		{ProcIdentification, []Category{CatHandover, CatCollision}, CatCollision},
		{ProcDetach, []Category{CatTimeout, CatCollision, CatEMM}, CatEMM},
	}
	for _, tc := range cases {
		got, err := Classify(tc.proc, Evidence{Candidates: tc.candidates})
		if err != nil {
			t.Fatalf("Classify(%s, %v): unexpected error %v", tc.proc, tc.candidates, err)
		}
		if got != tc.want {
			t.Errorf("Classify(%s, %v): expected %s, got %s", tc.proc, tc.candidates, tc.want, got)
		}
	}
}

func TestClassifyTieBreakIsOrderIndependent(t *testing.T) {
	// COLLISION and CONCURRENT share a precedence rank; the winner must
	// not depend on candidate order.
	first, err := Classify(ProcIdentification, Evidence{Candidates: []Category{CatCollision, CatConcurrent}})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	second, err := Classify(ProcIdentification, Evidence{Candidates: []Category{CatConcurrent, CatCollision}})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if first != second {
		t.Errorf("Expected a stable winner, got %s then %s", first, second)
	}
	if first != CatCollision {
		t.Errorf("Expected COLLISION to win the name tie-break, got %s", first)
	}
}

func TestSupportedCategories(t *testing.T) {
	got := SupportedCategories(ProcGUTIRealloc)
	want := []Category{CatCollision, CatHandover, CatTimeout}
	if len(got) != len(want) {
		t.Fatalf("Expected %d categories, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at position %d, got %s", want[i], i, got[i])
		}
	}

	if SupportsCategory(ProcAttach, CatCollision) {
		t.Error("Expected Attach not to support COLLISION")
	}
	if !SupportsCategory(ProcAttach, CatConcurrent) {
		t.Error("Expected Attach to support CONCURRENT")
	}
}

func TestKPINames(t *testing.T) {
	names := KPINames()
	// Seven subsets of the sizes fixed by the taxonomy table.
	if len(names) != 7+8+5+3+5+4+6 {
		t.Errorf("Expected 38 KPI names, got %d", len(names))
	}
	seen := make(map[string]bool)
	for _, n := range names {
		if !strings.HasPrefix(n, "KPI.Retainability.") {
			t.Errorf("Expected retainability prefix, got %s", n)
		}
		if seen[n] {
			t.Errorf("Duplicate KPI name %s", n)
		}
		seen[n] = true
	}
	if !seen["KPI.Retainability.AUTH_MAC_FAILURE"] {
		t.Error("Expected KPI.Retainability.AUTH_MAC_FAILURE to be listed")
	}
	if seen["KPI.Retainability.ATTACH_HANDOVER_FAILURE"] {
		t.Error("Expected no handover KPI for attach")
	}
}
