package session

import (
	"errors"
	"testing"
	"time"

	"github.com/corpustools/concord/internal/conc"
	apperrors "github.com/corpustools/concord/pkg/errors"
)

func testHits(offsets ...int64) []conc.Hit {
	hits := make([]conc.Hit, len(offsets))
	for i, off := range offsets {
		hits[i] = conc.Hit{Offset: off}
	}
	return hits
}

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry(time.Minute, 0)
	id, rs, err := r.Create("susanne", testHits(10, 42, 7), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rs.Size() != 3 {
		t.Fatalf("size = %d, want 3", rs.Size())
	}

	got, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != rs {
		t.Error("Get returned a different result set")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestGetUnknownID(t *testing.T) {
	r := NewRegistry(time.Minute, 0)
	if _, err := r.Get("nope"); !errors.Is(err, apperrors.ErrConcNotFound) {
		t.Fatalf("unknown id: got %v, want ErrConcNotFound", err)
	}
}

func TestDiscardIsTerminal(t *testing.T) {
	r := NewRegistry(time.Minute, 0)
	id, rs, err := r.Create("susanne", testHits(1, 2), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.Discard(id); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := r.Get(id); !errors.Is(err, apperrors.ErrConcNotFound) {
		t.Errorf("Get after discard: got %v, want ErrConcNotFound", err)
	}
	if err := r.Discard(id); !errors.Is(err, apperrors.ErrConcNotFound) {
		t.Errorf("second Discard: got %v, want ErrConcNotFound", err)
	}
	// Handles held before the discard fail too.
	if _, err := rs.Lines(0, 1); !errors.Is(err, apperrors.ErrDiscarded) {
		t.Errorf("Lines on discarded set: got %v, want ErrDiscarded", err)
	}
	if err := rs.Populate("susanne", testHits(3), nil); !errors.Is(err, apperrors.ErrDiscarded) {
		t.Errorf("Populate on discarded set: got %v, want ErrDiscarded", err)
	}
}

func TestEvictIdle(t *testing.T) {
	r := NewRegistry(10*time.Millisecond, 0)
	id, rs, err := r.Create("susanne", testHits(1, 2, 3), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	time.Sleep(25 * time.Millisecond)
	if n := r.evictIdle(); n != 1 {
		t.Fatalf("evictIdle = %d, want 1", n)
	}
	if _, err := r.Get(id); !errors.Is(err, apperrors.ErrConcNotFound) {
		t.Errorf("Get after eviction: got %v", err)
	}
	if rs.State() != conc.StateDiscarded {
		t.Errorf("evicted set state = %v, want discarded", rs.State())
	}
}

func TestGetRefreshesIdleTimer(t *testing.T) {
	r := NewRegistry(40*time.Millisecond, 0)
	id, _, err := r.Create("susanne", testHits(1), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 3; i++ {
		time.Sleep(25 * time.Millisecond)
		if _, err := r.Get(id); err != nil {
			t.Fatalf("Get during refresh loop: %v", err)
		}
		if n := r.evictIdle(); n != 0 {
			t.Fatalf("active set evicted on iteration %d", i)
		}
	}
}

func TestUniqueIDs(t *testing.T) {
	r := NewRegistry(time.Minute, 0)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, _, err := r.Create("susanne", testHits(1), nil)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
