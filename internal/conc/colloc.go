package conc

import (
	"fmt"

	apperrors "github.com/corpustools/concord/pkg/errors"
)

// StaleReason records why a derived structure needs a rebuild.
type StaleReason string

const (
	StaleNone      StaleReason = ""
	StaleNewData   StaleReason = "new data"
	StaleRowsGone  StaleReason = "rows removed"
	StaleAlignment StaleReason = "alignment switch"
)

// CollocTracker holds per-collocate frequency counters derived from a
// PositionStore. Counts are only meaningful for one coordinate space; any
// change to the store's coordinates or rows invalidates the tracker, and
// direct reads while stale fail with the stale-state error. Rebuilds are
// triggered lazily by the owning ResultSet on the first read after an
// invalidation, so views never inspected for collocates pay nothing.
type CollocTracker struct {
	ids    []string
	byID   map[string]int
	counts []int64
	stale  StaleReason
}

// NewCollocTracker creates a tracker for the given collocate identities.
// It starts stale; a rebuild against a store is required before reads.
func NewCollocTracker(ids []string) *CollocTracker {
	byID := make(map[string]int, len(ids))
	for i, id := range ids {
		byID[id] = i
	}
	return &CollocTracker{
		ids:    ids,
		byID:   byID,
		counts: make([]int64, len(ids)),
		stale:  StaleNewData,
	}
}

// Tracked returns the number of distinct collocates tracked.
func (t *CollocTracker) Tracked() int { return len(t.ids) }

// Fresh reports whether counts reflect the current store coordinates.
func (t *CollocTracker) Fresh() bool { return t.stale == StaleNone }

// Invalidate marks the counters stale for the given reason.
func (t *CollocTracker) Invalidate(reason StaleReason) {
	t.stale = reason
}

// CountFor returns the total count for a collocate identity. Untracked
// identities count zero. Reading a stale tracker fails; rebuild first.
func (t *CollocTracker) CountFor(id string) (int64, error) {
	if t.stale != StaleNone {
		return 0, fmt.Errorf("%w: collocate counts (%s)", apperrors.ErrStaleState, t.stale)
	}
	i, ok := t.byID[id]
	if !ok {
		return 0, nil
	}
	return t.counts[i], nil
}

// Rebuild recomputes every counter from the store's current rows. Cost is
// linear in store size times tracked collocates.
func (t *CollocTracker) Rebuild(store *PositionStore) {
	for i := range t.counts {
		t.counts[i] = 0
	}
	for _, h := range store.hits {
		for i, c := range h.CollFreqs {
			if i >= len(t.counts) {
				break
			}
			t.counts[i] += int64(c)
		}
	}
	t.stale = StaleNone
}
