package calc

import (
	"context"
	"errors"
	"testing"

	"github.com/corpustools/concord/internal/conc"
	apperrors "github.com/corpustools/concord/pkg/errors"
)

func int64p(v int64) *int64 { return &v }

func TestOpKeys(t *testing.T) {
	cases := []struct {
		name string
		op   Op
		want string
	}{
		{"query", Op{Kind: OpQuery, Query: `[word="time"]`}, `q:[word="time"]`},
		{"shuffle", Op{Kind: OpShuffle}, "f"},
		{"sample", Op{Kind: OpSample, SampleSize: 250}, "r:250"},
		{"switch", Op{Kind: OpSwitch, Target: "intercorp_cs"}, "x-intercorp_cs"},
		{"sort", Op{Kind: OpSort, Sort: &SortSpec{By: "offset", Ascending: true}}, "s:offset::true"},
		{"filter", Op{Kind: OpFilter, Filter: &FilterSpec{MinOffset: int64p(10), Collocate: "the", MinCount: 2}}, "n:min=10;coll=the>=2;"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.op.Key(); got != c.want {
				t.Errorf("Key() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestContainsShuffleSeq(t *testing.T) {
	q := Op{Kind: OpQuery, Query: "x"}
	sh := Op{Kind: OpShuffle}
	srt := Op{Kind: OpSort, Sort: &SortSpec{By: "offset"}}

	if ContainsShuffleSeq([]Op{q, sh, srt, sh}) {
		t.Error("separated shuffles should not count as a sequence")
	}
	if !ContainsShuffleSeq([]Op{q, sh, sh}) {
		t.Error("adjacent shuffles not detected")
	}
	if ContainsShuffleSeq([]Op{q, srt}) {
		t.Error("chain without shuffles flagged")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(nil); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("empty chain: got %v", err)
	}
	if err := Validate([]Op{{Kind: OpShuffle}}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("chain not starting with query: got %v", err)
	}
	if err := Validate([]Op{{Kind: OpQuery, Query: "x"}, {Kind: OpQuery, Query: "y"}}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("second query op accepted: got %v", err)
	}
	if err := Validate([]Op{{Kind: OpQuery, Query: "x"}, {Kind: OpSwitch}}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("switch without target accepted: got %v", err)
	}
	ok := []Op{
		{Kind: OpQuery, Query: "x"},
		{Kind: OpShuffle},
		{Kind: OpSample, SampleSize: 100},
	}
	if err := Validate(ok); err != nil {
		t.Errorf("valid chain rejected: %v", err)
	}
}

func newTestSet(t *testing.T) *conc.ResultSet {
	t.Helper()
	rs := conc.NewResultSet(0)
	hits := []conc.Hit{
		{Offset: 10, CollFreqs: []int32{0}},
		{Offset: 42, CollFreqs: []int32{5}},
		{Offset: 7, CollFreqs: []int32{2}},
		{Offset: 99, CollFreqs: []int32{1}},
	}
	if err := rs.Populate("susanne", hits, []string{"the"}); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	return rs
}

func TestApplyOpSort(t *testing.T) {
	rs := newTestSet(t)
	op := Op{Kind: OpSort, Sort: &SortSpec{By: "offset", Ascending: true}}
	if err := ApplyOp(context.Background(), rs, op, nil); err != nil {
		t.Fatalf("ApplyOp: %v", err)
	}
	lines, err := rs.Lines(0, rs.ViewLen())
	if err != nil {
		t.Fatalf("Lines: %v", err)
	}
	want := []int64{7, 10, 42, 99}
	for i, ln := range lines {
		if ln.Hit.Offset != want[i] {
			t.Errorf("line %d offset = %d, want %d", i, ln.Hit.Offset, want[i])
		}
	}
}

func TestApplyOpSortUntrackedCollocate(t *testing.T) {
	rs := newTestSet(t)
	op := Op{Kind: OpSort, Sort: &SortSpec{By: "collfreq", Collocate: "nosuch"}}
	if err := ApplyOp(context.Background(), rs, op, nil); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("sort by untracked collocate: got %v", err)
	}
}

func TestApplyOpFilter(t *testing.T) {
	rs := newTestSet(t)
	op := Op{Kind: OpFilter, Filter: &FilterSpec{Collocate: "the", MinCount: 2}}
	if err := ApplyOp(context.Background(), rs, op, nil); err != nil {
		t.Fatalf("ApplyOp: %v", err)
	}
	if rs.ViewLen() != 2 {
		t.Fatalf("view len after filter = %d, want 2", rs.ViewLen())
	}
	// The canonical store keeps every hit; only the view narrows.
	if rs.Size() != 4 {
		t.Fatalf("store size after filter = %d, want 4", rs.Size())
	}
}

func TestApplyOpFilterOffsetRange(t *testing.T) {
	rs := newTestSet(t)
	op := Op{Kind: OpFilter, Filter: &FilterSpec{MinOffset: int64p(10), MaxOffset: int64p(50)}}
	if err := ApplyOp(context.Background(), rs, op, nil); err != nil {
		t.Fatalf("ApplyOp: %v", err)
	}
	lines, err := rs.Lines(0, rs.ViewLen())
	if err != nil {
		t.Fatalf("Lines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("filtered lines = %d, want 2", len(lines))
	}
	for _, ln := range lines {
		if ln.Hit.Offset < 10 || ln.Hit.Offset > 50 {
			t.Errorf("offset %d outside [10, 50]", ln.Hit.Offset)
		}
	}
}

func TestApplyOpSwitchWithoutAlignment(t *testing.T) {
	rs := newTestSet(t)
	op := Op{Kind: OpSwitch, Target: "intercorp_cs"}
	if err := ApplyOp(context.Background(), rs, op, nil); !errors.Is(err, apperrors.ErrNotAligned) {
		t.Fatalf("switch without alignment map: got %v", err)
	}
}

func TestApplyOpSampleLeavesSynced(t *testing.T) {
	rs := newTestSet(t)
	op := Op{Kind: OpSample, SampleSize: 2}
	if err := ApplyOp(context.Background(), rs, op, nil); err != nil {
		t.Fatalf("ApplyOp: %v", err)
	}
	if rs.ViewLen() != 2 {
		t.Fatalf("view len after sample = %d, want 2", rs.ViewLen())
	}
	if rs.NeedsSync() {
		t.Error("result set left unsynced after ApplyOp")
	}
}
