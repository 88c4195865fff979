package conc

import (
	"fmt"
	"sort"

	apperrors "github.com/corpustools/concord/pkg/errors"
)

// SortKind selects the attribute a sort orders by.
type SortKind int

const (
	// SortByOffset orders by the absolute primary-corpus offset.
	SortByOffset SortKind = iota
	// SortByCollFreq orders by one tracked collocate's per-hit count.
	SortByCollFreq
)

// SortKey describes a full sort specification. Collocate is the registry
// index of the tracked collocate and is only consulted for SortByCollFreq.
type SortKey struct {
	Kind      SortKind
	Collocate int
}

// View is a permutation over PositionStore rows: order[i] gives the absolute
// row displayed at logical rank i. A freshly built view is the identity
// permutation (creation order); sort, shuffle, and filter replace it.
type View struct {
	order []ConcIndex
}

func identityView(n int) *View {
	order := make([]ConcIndex, n)
	for i := range order {
		order[i] = ConcIndex(i)
	}
	return &View{order: order}
}

// Len returns the number of logical ranks in the view. After a filter this
// may be smaller than the store it addresses.
func (v *View) Len() int { return len(v.order) }

// At maps a logical rank to the absolute store row it displays.
func (v *View) At(rank ConcIndex) (ConcIndex, error) {
	if rank < 0 || int(rank) >= len(v.order) {
		return NoIndex, fmt.Errorf("%w: logical rank %d, view size %d", apperrors.ErrOutOfRange, rank, len(v.order))
	}
	return v.order[rank], nil
}

// Sort rebuilds the permutation so that store rows are ordered by key,
// ties broken by creation order. The (key, creation index) pair is a strict
// total order, so the result is independent of the permutation the sort
// started from and re-sorting sorted data is a no-op.
func (v *View) Sort(store *PositionStore, key SortKey, ascending bool) error {
	order := make([]ConcIndex, len(v.order))
	copy(order, v.order)
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		ka, kb := sortValue(store.hits[a], key), sortValue(store.hits[b], key)
		if ka != kb {
			if ascending {
				return ka < kb
			}
			return ka > kb
		}
		// Creation-order tie-break keeps the sort stable regardless of the
		// permutation it started from.
		return a < b
	})
	v.order = order
	return nil
}

// Shuffle replaces the permutation with the deterministic pseudo-random
// ordering for the view's current size and the given seed. The shuffle is
// applied over the surviving rows in creation order, so the result depends
// only on (size, seed), never on the ordering the view held before: equal-
// size views always shuffle identically and shuffling twice changes
// nothing.
func (v *View) Shuffle(seed int64) {
	base := make([]ConcIndex, len(v.order))
	copy(base, v.order)
	sortIndices(base)
	perm := Permutation(len(base), seed)
	shuffled := make([]ConcIndex, len(base))
	for i, p := range perm {
		shuffled[i] = base[p]
	}
	v.order = shuffled
}

// Filter reduces the view to the rows satisfying pred, renumbering logical
// ranks from zero while keeping the current ordering. The underlying store
// is untouched; dropped rows merely become unaddressable through this view.
func (v *View) Filter(store *PositionStore, pred func(Hit) bool) {
	kept := make([]ConcIndex, 0, len(v.order))
	for _, abs := range v.order {
		if pred(store.hits[abs]) {
			kept = append(kept, abs)
		}
	}
	v.order = kept
}

// valid reports whether every entry addresses an existing store row and no
// row appears twice.
func (v *View) valid(store *PositionStore) bool {
	if len(v.order) > store.Size() {
		return false
	}
	seen := make(map[ConcIndex]struct{}, len(v.order))
	for _, abs := range v.order {
		if abs < 0 || int(abs) >= store.Size() {
			return false
		}
		if _, dup := seen[abs]; dup {
			return false
		}
		seen[abs] = struct{}{}
	}
	return true
}

func sortIndices(s []ConcIndex) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}

func sortValue(h Hit, key SortKey) int64 {
	switch key.Kind {
	case SortByCollFreq:
		if key.Collocate < 0 || key.Collocate >= len(h.CollFreqs) {
			return 0
		}
		return int64(h.CollFreqs[key.Collocate])
	default:
		return h.Offset
	}
}
