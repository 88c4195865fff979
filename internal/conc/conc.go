// Package conc implements the in-memory concordance positional index: the
// canonical store of matched corpus positions produced by a query, a mutable
// view permutation over it, collocate frequency counters, and deterministic
// reordering operations. Everything a consumer reads goes through a
// ResultSet, which keeps the store and its derived structures consistent.
package conc

import (
	"fmt"

	apperrors "github.com/corpustools/concord/pkg/errors"
)

// ConcIndex addresses either a logical rank in the current view or an
// absolute row in the position store. The two index spaces are distinct;
// every function states which one it accepts.
type ConcIndex int32

// NoIndex is the reserved sentinel for "no match" / "not found".
const NoIndex ConcIndex = -1

// Hit is one matched corpus position.
type Hit struct {
	// Offset is the absolute position in the primary corpus.
	Offset int64 `json:"offset"`
	// CollFreqs holds one count per tracked collocate, indexed by the
	// collocate's position in the tracker's registry. Nil when the query
	// produced no collocate seed data.
	CollFreqs []int32 `json:"coll_freqs,omitempty"`
	// Aligned maps corpus IDs to this hit's offset in that corpus.
	Aligned map[string]int64 `json:"aligned,omitempty"`
}

// PositionStore owns the canonical, creation-ordered sequence of hits for
// one query. It is filled exactly once; afterwards the only structural
// mutations are whole-sequence replacement (alignment switch) and row
// removal. Absolute ConcIndex values address rows here.
type PositionStore struct {
	corpus string
	hits   []Hit
}

// NewPositionStore creates a store over the given hits in query order.
// The slice is owned by the store afterwards.
func NewPositionStore(corpus string, hits []Hit) *PositionStore {
	return &PositionStore{corpus: corpus, hits: hits}
}

// Corpus returns the ID of the corpus the primary offsets refer to.
func (s *PositionStore) Corpus() string { return s.corpus }

// Size returns the number of hits.
func (s *PositionStore) Size() int { return len(s.hits) }

// At returns the hit at the given absolute index.
func (s *PositionStore) At(abs ConcIndex) (Hit, error) {
	if abs < 0 || int(abs) >= len(s.hits) {
		return Hit{}, fmt.Errorf("%w: absolute index %d, size %d", apperrors.ErrOutOfRange, abs, len(s.hits))
	}
	return s.hits[abs], nil
}

// RemoveRows drops the given absolute rows and compacts the remainder,
// preserving relative order. Old absolute indices are invalid afterwards;
// the owning ResultSet must re-sync its view before any further read.
// The store is left unchanged when any index is invalid.
func (s *PositionStore) RemoveRows(rows []ConcIndex) error {
	if len(s.hits) == 0 {
		return fmt.Errorf("%w: remove rows", apperrors.ErrEmptyResultSet)
	}
	drop := make(map[ConcIndex]struct{}, len(rows))
	for _, r := range rows {
		if r < 0 || int(r) >= len(s.hits) {
			return fmt.Errorf("%w: absolute index %d, size %d", apperrors.ErrOutOfRange, r, len(s.hits))
		}
		drop[r] = struct{}{}
	}
	if len(drop) == 0 {
		return nil
	}
	kept := s.hits[:0]
	for i := range s.hits {
		if _, ok := drop[ConcIndex(i)]; ok {
			continue
		}
		kept = append(kept, s.hits[i])
	}
	// Release the tail so removed hits do not linger.
	for i := len(kept); i < len(s.hits); i++ {
		s.hits[i] = Hit{}
	}
	s.hits = kept
	return nil
}

// replaceOffsets commits a prepared remap of every primary offset into the
// coordinate space of target, recording the previous offsets under the old
// corpus ID. Callers must pass exactly Size() offsets.
func (s *PositionStore) replaceOffsets(target string, offsets []int64) {
	prev := s.corpus
	for i := range s.hits {
		if s.hits[i].Aligned == nil {
			s.hits[i].Aligned = make(map[string]int64, 1)
		}
		s.hits[i].Aligned[prev] = s.hits[i].Offset
		s.hits[i].Offset = offsets[i]
		delete(s.hits[i].Aligned, target)
	}
	s.corpus = target
}

// offsets returns the primary offsets in creation order.
func (s *PositionStore) offsets() []int64 {
	out := make([]int64, len(s.hits))
	for i := range s.hits {
		out[i] = s.hits[i].Offset
	}
	return out
}
