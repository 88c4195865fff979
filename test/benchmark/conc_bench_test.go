package benchmark

import (
	"fmt"
	"testing"

	"github.com/corpustools/concord/internal/conc"
)

func buildResultSet(b *testing.B, n int) *conc.ResultSet {
	b.Helper()
	hits := make([]conc.Hit, n)
	for i := range hits {
		// Spread offsets so sorting actually moves rows around.
		hits[i] = conc.Hit{
			Offset:    int64((i * 7919) % (n * 3)),
			CollFreqs: []int32{int32(i % 11)},
		}
	}
	rs := conc.NewResultSet(0)
	if err := rs.Populate("bench", hits, []string{"the"}); err != nil {
		b.Fatalf("Populate: %v", err)
	}
	return rs
}

// BenchmarkSort measures re-sorting a shuffled view by offset.
func BenchmarkSort(b *testing.B) {
	sizes := []int{1000, 10000, 100000}
	for _, n := range sizes {
		b.Run(fmt.Sprintf("hits_%d", n), func(b *testing.B) {
			rs := buildResultSet(b, n)
			key := conc.SortKey{Kind: conc.SortByOffset}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := rs.Shuffle(); err != nil {
					b.Fatalf("Shuffle: %v", err)
				}
				if err := rs.Sort(key, true); err != nil {
					b.Fatalf("Sort: %v", err)
				}
			}
		})
	}
}

// BenchmarkShuffle measures the deterministic permutation applied to a view.
func BenchmarkShuffle(b *testing.B) {
	sizes := []int{1000, 10000, 100000}
	for _, n := range sizes {
		b.Run(fmt.Sprintf("hits_%d", n), func(b *testing.B) {
			rs := buildResultSet(b, n)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := rs.Shuffle(); err != nil {
					b.Fatalf("Shuffle: %v", err)
				}
			}
		})
	}
}

// BenchmarkPermutation measures raw permutation generation.
func BenchmarkPermutation(b *testing.B) {
	sizes := []int{1000, 100000}
	for _, n := range sizes {
		b.Run(fmt.Sprintf("n_%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = conc.Permutation(n, conc.DefaultShuffleSeed)
			}
		})
	}
}

// BenchmarkLines measures paging through a large view.
func BenchmarkLines(b *testing.B) {
	rs := buildResultSet(b, 100000)
	const page = 40
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := (i * page) % (100000 - page)
		if _, err := rs.Lines(start, start+page); err != nil {
			b.Fatalf("Lines: %v", err)
		}
	}
}

// BenchmarkFilter measures predicate filtering plus the following sync.
func BenchmarkFilter(b *testing.B) {
	sizes := []int{10000, 100000}
	for _, n := range sizes {
		b.Run(fmt.Sprintf("hits_%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				rs := buildResultSet(b, n)
				b.StartTimer()
				if err := rs.Filter(func(h conc.Hit) bool { return h.Offset%2 == 0 }); err != nil {
					b.Fatalf("Filter: %v", err)
				}
				if err := rs.Sync(); err != nil {
					b.Fatalf("Sync: %v", err)
				}
			}
		})
	}
}
