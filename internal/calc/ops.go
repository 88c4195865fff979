// Package calc runs concordance calculations: it evaluates a query through
// the external search provider, applies the persistent operation chain to
// the resulting hits, and stores a snapshot of every chain prefix in the
// concordance cache so later requests extending the chain can skip work
// already done.
package calc

import (
	"context"
	"fmt"
	"strings"

	"github.com/corpustools/concord/internal/conc"
	apperrors "github.com/corpustools/concord/pkg/errors"
)

// OpKind identifies one operation in a persistent chain. The first op of
// every chain is the query itself; the rest reorder, reduce, or re-map the
// result set it produced.
type OpKind string

const (
	OpQuery   OpKind = "query"
	OpSort    OpKind = "sort"
	OpShuffle OpKind = "shuffle"
	OpFilter  OpKind = "filter"
	OpSample  OpKind = "sample"
	OpSwitch  OpKind = "switch"
)

// SortSpec selects the sort attribute for an OpSort.
type SortSpec struct {
	By        string `json:"by"` // "offset" or "collfreq"
	Collocate string `json:"collocate,omitempty"`
	Ascending bool   `json:"ascending"`
}

// FilterSpec is the predicate encoding for an OpFilter. Offset bounds are
// inclusive; a collocate condition keeps hits whose per-hit count for that
// collocate reaches MinCount.
type FilterSpec struct {
	MinOffset *int64 `json:"min_offset,omitempty"`
	MaxOffset *int64 `json:"max_offset,omitempty"`
	Collocate string `json:"collocate,omitempty"`
	MinCount  int32  `json:"min_count,omitempty"`
}

// Op is one element of a persistent operation chain.
type Op struct {
	Kind       OpKind      `json:"kind"`
	Query      string      `json:"query,omitempty"`
	Sort       *SortSpec   `json:"sort,omitempty"`
	Filter     *FilterSpec `json:"filter,omitempty"`
	SampleSize int         `json:"sample_size,omitempty"`
	Target     string      `json:"target,omitempty"`
}

// Key returns the canonical encoding of the op used in cache keys. Two ops
// with the same Key are interchangeable for caching purposes.
func (o Op) Key() string {
	switch o.Kind {
	case OpQuery:
		return "q:" + o.Query
	case OpSort:
		if o.Sort == nil {
			return "s:"
		}
		return fmt.Sprintf("s:%s:%s:%v", o.Sort.By, o.Sort.Collocate, o.Sort.Ascending)
	case OpShuffle:
		return "f"
	case OpFilter:
		if o.Filter == nil {
			return "n:"
		}
		var b strings.Builder
		b.WriteString("n:")
		if o.Filter.MinOffset != nil {
			fmt.Fprintf(&b, "min=%d;", *o.Filter.MinOffset)
		}
		if o.Filter.MaxOffset != nil {
			fmt.Fprintf(&b, "max=%d;", *o.Filter.MaxOffset)
		}
		if o.Filter.Collocate != "" {
			fmt.Fprintf(&b, "coll=%s>=%d;", o.Filter.Collocate, o.Filter.MinCount)
		}
		return b.String()
	case OpSample:
		return fmt.Sprintf("r:%d", o.SampleSize)
	case OpSwitch:
		return "x-" + o.Target
	default:
		return string(o.Kind)
	}
}

// Keys encodes a whole chain.
func Keys(ops []Op) []string {
	out := make([]string, len(ops))
	for i, o := range ops {
		out[i] = o.Key()
	}
	return out
}

// ContainsShuffleSeq reports whether the chain holds two adjacent shuffle
// operations. Replaying a cached prefix past such a pair is unreliable (the
// original system observed order differences there), so cache lookups fall
// back to the bare query prefix.
func ContainsShuffleSeq(ops []Op) bool {
	prevShuffle := false
	for _, o := range ops {
		if o.Kind == OpShuffle {
			if prevShuffle {
				return true
			}
			prevShuffle = true
		} else {
			prevShuffle = false
		}
	}
	return false
}

// Validate rejects chains the worker cannot execute.
func Validate(ops []Op) error {
	if len(ops) == 0 {
		return fmt.Errorf("%w: empty operation chain", apperrors.ErrInvalidInput)
	}
	if ops[0].Kind != OpQuery || ops[0].Query == "" {
		return fmt.Errorf("%w: chain must start with a query operation", apperrors.ErrInvalidInput)
	}
	for i, o := range ops[1:] {
		switch o.Kind {
		case OpQuery:
			return fmt.Errorf("%w: query op at position %d", apperrors.ErrInvalidInput, i+1)
		case OpSort, OpShuffle, OpFilter, OpSample, OpSwitch:
		default:
			return fmt.Errorf("%w: unknown op kind %q", apperrors.ErrInvalidInput, o.Kind)
		}
		if o.Kind == OpSwitch && o.Target == "" {
			return fmt.Errorf("%w: switch op without target corpus", apperrors.ErrInvalidInput)
		}
		if o.Kind == OpSample && o.SampleSize <= 0 {
			return fmt.Errorf("%w: sample op without positive size", apperrors.ErrInvalidInput)
		}
	}
	return nil
}

// ApplyOp executes one non-query operation on a populated result set and
// leaves the set synchronised.
func ApplyOp(ctx context.Context, rs *conc.ResultSet, op Op, am conc.AlignmentMap) error {
	switch op.Kind {
	case OpSort:
		if op.Sort == nil {
			return fmt.Errorf("%w: sort op without spec", apperrors.ErrInvalidInput)
		}
		key := conc.SortKey{Kind: conc.SortByOffset}
		if op.Sort.By == "collfreq" {
			idx, ok := rs.CollocIndex(op.Sort.Collocate)
			if !ok {
				return fmt.Errorf("%w: untracked collocate %q", apperrors.ErrInvalidInput, op.Sort.Collocate)
			}
			key = conc.SortKey{Kind: conc.SortByCollFreq, Collocate: idx}
		}
		if err := rs.Sort(key, op.Sort.Ascending); err != nil {
			return err
		}
	case OpShuffle:
		if err := rs.Shuffle(); err != nil {
			return err
		}
	case OpFilter:
		if op.Filter == nil {
			return fmt.Errorf("%w: filter op without spec", apperrors.ErrInvalidInput)
		}
		if err := rs.Filter(filterPred(rs, *op.Filter)); err != nil {
			return err
		}
	case OpSample:
		if err := rs.Sample(op.SampleSize); err != nil {
			return err
		}
	case OpSwitch:
		if err := rs.SwitchAligned(ctx, op.Target, am); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: cannot apply op kind %q", apperrors.ErrInvalidInput, op.Kind)
	}
	return rs.Sync()
}

func filterPred(rs *conc.ResultSet, spec FilterSpec) func(conc.Hit) bool {
	collIdx := -1
	if spec.Collocate != "" {
		if i, ok := rs.CollocIndex(spec.Collocate); ok {
			collIdx = i
		}
	}
	return func(h conc.Hit) bool {
		if spec.MinOffset != nil && h.Offset < *spec.MinOffset {
			return false
		}
		if spec.MaxOffset != nil && h.Offset > *spec.MaxOffset {
			return false
		}
		if spec.Collocate != "" {
			if collIdx < 0 || collIdx >= len(h.CollFreqs) {
				return false
			}
			if h.CollFreqs[collIdx] < spec.MinCount {
				return false
			}
		}
		return true
	}
}
