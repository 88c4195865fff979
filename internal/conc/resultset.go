package conc

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/corpustools/concord/pkg/errors"
)

// State is the lifecycle phase of a result set.
type State int

const (
	// StateEmpty means no query has populated the set yet.
	StateEmpty State = iota
	// StatePopulated means the set holds hits and serves reads.
	StatePopulated
	// StateDiscarded is terminal; every operation fails afterwards.
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePopulated:
		return "populated"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Line is one row of the consumer read contract: a hit together with its
// logical rank and the absolute store row it lives at.
type Line struct {
	Rank int       `json:"rank"`
	Ref  ConcIndex `json:"ref"`
	Hit  Hit       `json:"hit"`
}

// ResultSet owns one query's position store and the structures derived from
// it. All operations are serialised behind a mutex scoped to the set; there
// is no internal concurrency and no blocking I/O apart from the alignment
// map lookup. A set is exclusively owned by one session.
type ResultSet struct {
	mu sync.Mutex

	state       State
	store       *PositionStore
	view        *View
	colloc      *CollocTracker
	shuffleSeed int64

	viewStale StaleReason
	needsSync bool
}

// NewResultSet creates an empty result set. A seed of zero selects
// DefaultShuffleSeed.
func NewResultSet(shuffleSeed int64) *ResultSet {
	if shuffleSeed == 0 {
		shuffleSeed = DefaultShuffleSeed
	}
	return &ResultSet{
		state:       StateEmpty,
		shuffleSeed: shuffleSeed,
	}
}

// Populate fills the set with one query's hits in canonical (query) order
// and initialises the view as the identity permutation. Calling it on a
// populated set replaces everything wholesale, as a fresh query does.
func (rs *ResultSet) Populate(corpus string, hits []Hit, collocates []string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.state == StateDiscarded {
		return fmt.Errorf("%w: populate", apperrors.ErrDiscarded)
	}
	rs.store = NewPositionStore(corpus, hits)
	rs.view = identityView(len(hits))
	rs.colloc = NewCollocTracker(collocates)
	rs.viewStale = StaleNone
	rs.needsSync = false
	rs.state = StatePopulated
	return nil
}

// State returns the current lifecycle phase.
func (rs *ResultSet) State() State {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.state
}

// Size returns the number of hits in the store (not the view).
func (rs *ResultSet) Size() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.store == nil {
		return 0
	}
	return rs.store.Size()
}

// ViewLen returns the number of logical ranks currently addressable, which
// is smaller than Size after a filter.
func (rs *ResultSet) ViewLen() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.view == nil {
		return 0
	}
	return rs.view.Len()
}

// Corpus returns the corpus ID the primary offsets currently refer to.
func (rs *ResultSet) Corpus() string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.store == nil {
		return ""
	}
	return rs.store.Corpus()
}

// Lines is the only read path consumers outside the engine may depend on:
// it resolves the logical rank range [start, end) through the current view
// and returns the corresponding hits. It fails with the out-of-range error
// for a malformed range and with the stale-state error when a mutation left
// the view requiring Sync.
func (rs *ResultSet) Lines(start, end int) ([]Line, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.readable(); err != nil {
		return nil, err
	}
	if start < 0 || end < start || end > rs.view.Len() {
		return nil, fmt.Errorf("%w: lines [%d, %d), view size %d",
			apperrors.ErrOutOfRange, start, end, rs.view.Len())
	}
	lines := make([]Line, 0, end-start)
	for rank := start; rank < end; rank++ {
		abs := rs.view.order[rank]
		lines = append(lines, Line{Rank: rank, Ref: abs, Hit: rs.store.hits[abs]})
	}
	return lines, nil
}

// Sort reorders the view by key, ties broken by creation order.
func (rs *ResultSet) Sort(key SortKey, ascending bool) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.readable(); err != nil {
		return err
	}
	return rs.view.Sort(rs.store, key, ascending)
}

// Shuffle applies the deterministic pseudo-random permutation for the
// view's current size. Repeated shuffles of equal-size views yield the
// identical ordering.
func (rs *ResultSet) Shuffle() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.readable(); err != nil {
		return err
	}
	rs.view.Shuffle(rs.shuffleSeed)
	return nil
}

// Filter reduces the view to hits satisfying pred without touching the
// store. Combine with RemoveRows to drop rows destructively.
func (rs *ResultSet) Filter(pred func(Hit) bool) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.readable(); err != nil {
		return err
	}
	rs.view.Filter(rs.store, pred)
	return nil
}

// RemoveRows drops the given absolute rows from the store. Old absolute
// indices are invalid afterwards, so the view and collocate counters are
// marked stale; every read fails until Sync runs.
func (rs *ResultSet) RemoveRows(rows []ConcIndex) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.readable(); err != nil {
		return err
	}
	if err := rs.store.RemoveRows(rows); err != nil {
		return err
	}
	rs.viewStale = StaleRowsGone
	rs.colloc.Invalidate(StaleRowsGone)
	return nil
}

// SwitchAligned remaps every hit's primary offset into the target corpus's
// coordinate space via the supplied alignment map. The permutation itself
// stays valid (row identity is unchanged) but collocate counters are
// coordinate-dependent and become stale, and the set is flagged for Sync so
// consumers caching offset-derived data revalidate.
func (rs *ResultSet) SwitchAligned(ctx context.Context, target string, am AlignmentMap) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.readable(); err != nil {
		return err
	}
	if err := rs.store.switchAligned(ctx, target, am); err != nil {
		return err
	}
	rs.colloc.Invalidate(StaleAlignment)
	rs.needsSync = true
	return nil
}

// CollocCount returns the total frequency of one tracked collocate,
// rebuilding the counters first if a mutation invalidated them. The rebuild
// is paid on this first read, not eagerly on every mutation.
func (rs *ResultSet) CollocCount(id string) (int64, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.readable(); err != nil {
		return 0, err
	}
	if !rs.colloc.Fresh() {
		rs.colloc.Rebuild(rs.store)
	}
	return rs.colloc.CountFor(id)
}

// CollocIndex returns the registry index of a tracked collocate identity.
func (rs *ResultSet) CollocIndex(id string) (int, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.colloc == nil {
		return int(NoIndex), false
	}
	i, ok := rs.colloc.byID[id]
	return i, ok
}

// Sample reduces the view to a deterministic pseudo-random selection of n
// rows, kept in creation order. Like Shuffle, the selection is a pure
// function of (view size, seed), so repeating the operation on an equal
// view selects the same rows. A sample at least as large as the view is a
// no-op.
func (rs *ResultSet) Sample(n int) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.readable(); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%w: sample size %d", apperrors.ErrOutOfRange, n)
	}
	if n >= rs.view.Len() {
		return nil
	}
	base := make([]ConcIndex, len(rs.view.order))
	copy(base, rs.view.order)
	sortIndices(base)
	keep := make(map[ConcIndex]struct{}, n)
	for _, p := range Permutation(len(base), rs.shuffleSeed)[:n] {
		keep[base[p]] = struct{}{}
	}
	kept := make([]ConcIndex, 0, n)
	for _, abs := range base {
		if _, ok := keep[abs]; ok {
			kept = append(kept, abs)
		}
	}
	rs.view.order = kept
	return nil
}

// Sync is the idempotent repair step: it validates that the view still
// forms a permutation into the store and rebuilds it as the identity
// permutation when it does not. Any custom ordering is lost then and must
// be reapplied by the caller. Calling Sync redundantly is safe.
func (rs *ResultSet) Sync() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.state == StateDiscarded {
		return fmt.Errorf("%w: sync", apperrors.ErrDiscarded)
	}
	if rs.state == StateEmpty {
		return nil
	}
	if rs.viewStale != StaleNone || !rs.view.valid(rs.store) {
		rs.view = identityView(rs.store.Size())
		rs.viewStale = StaleNone
	}
	rs.needsSync = false
	return nil
}

// Discard releases the set. The transition is terminal.
func (rs *ResultSet) Discard() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.state = StateDiscarded
	rs.store = nil
	rs.view = nil
	rs.colloc = nil
}

// NeedsSync reports whether a mutating operation flagged the set for
// revalidation.
func (rs *ResultSet) NeedsSync() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.needsSync || rs.viewStale != StaleNone
}

// readable gates every operation that touches the (store, view) pair.
// Callers must hold rs.mu.
func (rs *ResultSet) readable() error {
	switch rs.state {
	case StateDiscarded:
		return fmt.Errorf("%w: result set", apperrors.ErrDiscarded)
	case StateEmpty:
		return fmt.Errorf("%w: result set not populated", apperrors.ErrEmptyResultSet)
	}
	if rs.viewStale != StaleNone {
		return fmt.Errorf("%w: view (%s); call Sync first", apperrors.ErrStaleState, rs.viewStale)
	}
	return nil
}

// Snapshot materialises the current view: the hits in logical order, with
// filtered-out rows dropped, together with the corpus ID and tracked
// collocates. Rebuilding a set from a snapshot makes the materialised
// order the new canonical order, which is how cached operation-chain
// prefixes replay correctly.
func (rs *ResultSet) Snapshot() (corpus string, hits []Hit, collocates []string, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.readable(); err != nil {
		return "", nil, nil, err
	}
	hits = make([]Hit, 0, rs.view.Len())
	for _, abs := range rs.view.order {
		hits = append(hits, rs.store.hits[abs])
	}
	return rs.store.corpus, hits, rs.colloc.ids, nil
}
