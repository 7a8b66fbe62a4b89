package diag

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnsupportedCategory marks evidence naming a category outside the
// analyzer's declared subset. This is a logic or configuration error and
// is surfaced to the caller rather than swallowed.
var ErrUnsupportedCategory = errors.New("category not supported by analyzer")

// ErrNoEvidence marks an abort attempt with no matched rule category.
var ErrNoEvidence = errors.New("no candidate category in evidence")

// categorySubsets fixes the closed per-analyzer category sets.
var categorySubsets = map[Procedure]map[Category]bool{
	ProcIdentification: {
		CatCollision: true, CatConcurrent: true, CatHandover: true,
		CatTimeout: true, CatTransmissionService: true, CatTransmissionTAU: true,
		CatUnavailable: true,
	},
	ProcAuthentication: {
		CatEMM: true, CatHandover: true, CatMAC: true, CatNonEPS: true,
		CatSynch: true, CatTimeout: true, CatTransmissionService: true,
		CatTransmissionTAU: true,
	},
	ProcSecurityMode: {
		CatCollision: true, CatHandover: true, CatTimeout: true,
		CatTransmissionService: true, CatTransmissionTAU: true,
	},
	ProcGUTIRealloc: {
		CatCollision: true, CatHandover: true, CatTimeout: true,
	},
	ProcAttach: {
		CatConcurrent: true, CatDetach: true, CatEMM: true,
		CatProtocolError: true, CatTimeout: true,
	},
	ProcDetach: {
		CatCollision: true, CatEMM: true, CatHandover: true, CatTimeout: true,
	},
	ProcTAU: {
		CatConcurrent: true, CatDetach: true, CatEMM: true, CatHandover: true,
		CatProtocolError: true, CatTimeout: true,
	},
}

// SupportsCategory reports whether the analyzer for the given procedure
// may emit the given category.
func SupportsCategory(p Procedure, c Category) bool {
	return categorySubsets[p][c]
}

// SupportedCategories returns the analyzer's category subset in taxonomy order.
func SupportedCategories(p Procedure) []Category {
	var out []Category
	for _, c := range Categories {
		if categorySubsets[p][c] {
			out = append(out, c)
		}
	}
	return out
}

// precedence ranks categories for tie-breaking when one message matches
// several rules: an explicit detach beats cause-bearing rejects, which
// beat structural overlap, which beats handover interruption, which
// beats lower-layer transmission attribution; timeout is last since it
// only fires after exhausting retries. UNAVAILABLE ranks with the
// cause-bearing tier because it also comes from explicit message content.
var precedence = map[Category]int{
	CatDetach:              6,
	CatEMM:                 5,
	CatProtocolError:       5,
	CatMAC:                 5,
	CatSynch:               5,
	CatNonEPS:              5,
	CatUnavailable:         5,
	CatCollision:           4,
	CatConcurrent:          4,
	CatHandover:            3,
	CatTransmissionTAU:     2,
	CatTransmissionService: 2,
	CatTimeout:             1,
}

// Classify picks the failure category for the given evidence, applying
// the analyzer's closed subset and the tie-break precedence. Evidence
// carrying any category outside the subset is rejected.
func Classify(p Procedure, ev Evidence) (Category, error) {
	if len(ev.Candidates) == 0 {
		return "", fmt.Errorf("classify %s: %w", p, ErrNoEvidence)
	}
	subset, ok := categorySubsets[p]
	if !ok {
		return "", fmt.Errorf("classify %s: unknown procedure", p)
	}
	for _, c := range ev.Candidates {
		if !subset[c] {
			return "", fmt.Errorf("classify %s: %q: %w", p, c, ErrUnsupportedCategory)
		}
	}
	winner := ev.Candidates[0]
	for _, c := range ev.Candidates[1:] {
		if less(winner, c) {
			winner = c
		}
	}
	return winner, nil
}

// less orders categories by precedence; equal ranks fall back to the
// category name so the result never depends on candidate order.
func less(a, b Category) bool {
	if precedence[a] != precedence[b] {
		return precedence[a] < precedence[b]
	}
	return a > b
}

// sortCandidates normalizes candidate order for stable evidence details.
func sortCandidates(cands []Category) {
	sort.Slice(cands, func(i, j int) bool { return less(cands[j], cands[i]) })
}
