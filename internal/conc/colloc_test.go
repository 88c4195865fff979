package conc

import (
	"errors"
	"testing"

	apperrors "github.com/corpustools/concord/pkg/errors"
)

func TestCollocTrackerStaleUntilRebuilt(t *testing.T) {
	tr := NewCollocTracker([]string{"very", "quite"})
	if tr.Fresh() {
		t.Fatal("new tracker must start stale")
	}
	if _, err := tr.CountFor("very"); !errors.Is(err, apperrors.ErrStaleState) {
		t.Fatalf("read before rebuild: got %v, want stale state", err)
	}

	store := NewPositionStore("syn2020", []Hit{
		{Offset: 1, CollFreqs: []int32{1, 4}},
		{Offset: 2, CollFreqs: []int32{2, 0}},
	})
	tr.Rebuild(store)
	if !tr.Fresh() {
		t.Fatal("tracker stale after rebuild")
	}
	if n, err := tr.CountFor("quite"); err != nil || n != 4 {
		t.Fatalf("count(quite) = %d, %v; want 4", n, err)
	}

	tr.Invalidate(StaleAlignment)
	if _, err := tr.CountFor("very"); !errors.Is(err, apperrors.ErrStaleState) {
		t.Fatalf("read after invalidation: got %v, want stale state", err)
	}
	tr.Rebuild(store)
	if n, err := tr.CountFor("very"); err != nil || n != 3 {
		t.Fatalf("count(very) after rebuild = %d, %v; want 3", n, err)
	}
}

func TestCollocTrackerIgnoresOverlongVectors(t *testing.T) {
	tr := NewCollocTracker([]string{"only"})
	store := NewPositionStore("syn2020", []Hit{
		{Offset: 1, CollFreqs: []int32{2, 99, 5}},
	})
	tr.Rebuild(store)
	if n, _ := tr.CountFor("only"); n != 2 {
		t.Fatalf("count = %d, want 2 (extra vector entries ignored)", n)
	}
}
