package conc

import (
	"context"
	"fmt"

	apperrors "github.com/corpustools/concord/pkg/errors"
)

// AlignmentMap supplies corpus-to-corpus offset mappings. It is an external
// collaborator (an alignment service or a precomputed table); the engine
// only consumes it during an alignment switch.
type AlignmentMap interface {
	// MapOffsets translates offsets from the source corpus coordinate space
	// into the target's. It returns exactly one mapped offset per input and
	// fails with the not-aligned error when no mapping exists for target.
	MapOffsets(ctx context.Context, source, target string, offsets []int64) ([]int64, error)
}

// switchAligned remaps every primary offset into target's coordinate space.
// The remap is all-or-nothing: the store is untouched unless every offset
// translated successfully.
func (s *PositionStore) switchAligned(ctx context.Context, target string, am AlignmentMap) error {
	if len(s.hits) == 0 {
		return fmt.Errorf("%w: alignment switch", apperrors.ErrEmptyResultSet)
	}
	if am == nil {
		return fmt.Errorf("%w: no alignment map for %q", apperrors.ErrNotAligned, target)
	}
	if target == s.corpus {
		return nil
	}
	mapped, err := am.MapOffsets(ctx, s.corpus, target, s.offsets())
	if err != nil {
		return fmt.Errorf("mapping offsets %s -> %s: %w", s.corpus, target, err)
	}
	if len(mapped) != len(s.hits) {
		return fmt.Errorf("%w: alignment map returned %d offsets for %d hits",
			apperrors.ErrNotAligned, len(mapped), len(s.hits))
	}
	s.replaceOffsets(target, mapped)
	return nil
}
