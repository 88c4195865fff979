package conc

import "math/rand"

// DefaultShuffleSeed is the fixed seed used when a result set is not
// configured with an explicit one. Reseeding from a constant on every
// shuffle makes the "randomized" ordering a pure function of the view size:
// re-rendering page 2 of a shuffled result list shows the same rows as the
// first render without persisting the permutation anywhere.
const DefaultShuffleSeed int64 = 1971

// Permutation returns the deterministic pseudo-random permutation of
// [0, n) for the given seed. The same (n, seed) pair always yields the
// identical permutation, independent of call history or wall-clock time.
// The output is reproducible by contract, not random; it must never be
// used for anything security-sensitive.
func Permutation(n int, seed int64) []ConcIndex {
	rng := rand.New(rand.NewSource(seed))
	out := make([]ConcIndex, n)
	for i, p := range rng.Perm(n) {
		out[i] = ConcIndex(p)
	}
	return out
}
