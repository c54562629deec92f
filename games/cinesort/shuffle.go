package cinesort

import (
	"math/rand/v2"
)

// Shuffle returns a uniformly random permutation of canonical, leaving the
// input untouched. A nil rng uses the process-wide source. The identity
// permutation is a legal result.
func Shuffle(rng *rand.Rand, canonical []Scene) []Scene {
	out := cloneScenes(canonical)
	if out == nil {
		return []Scene{}
	}

	intN := rand.IntN
	if rng != nil {
		intN = rng.IntN
	}

	// Fisher-Yates
	for i := len(out) - 1; i > 0; i-- {
		j := intN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// IsCorrectOrder reports whether candidate matches canonical id for id.
// There is no partial credit.
func IsCorrectOrder(candidate, canonical []string) bool {
	if len(candidate) != len(canonical) {
		return false
	}
	for i := range candidate {
		if candidate[i] != canonical[i] {
			return false
		}
	}
	return true
}

// SceneIDs returns the ids of scenes, in order.
func SceneIDs(scenes []Scene) []string {
	ids := make([]string, len(scenes))
	for i, s := range scenes {
		ids[i] = s.ID
	}
	return ids
}

// isPermutation reports whether order holds exactly the ids of want.
func isPermutation(order, want []string) bool {
	if len(order) != len(want) {
		return false
	}
	counts := make(map[string]int, len(want))
	for _, id := range want {
		counts[id]++
	}
	for _, id := range order {
		if counts[id] == 0 {
			return false
		}
		counts[id]--
	}
	return true
}
