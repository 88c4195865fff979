package stats

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corpustools/concord/pkg/kafka"
)

// AggregatedStats is the point-in-time summary served by the stats API.
type AggregatedStats struct {
	TotalOps        int64         `json:"total_ops"`
	TotalCalcs      int64         `json:"total_calcs"`
	FailedCalcs     int64         `json:"failed_calcs"`
	CacheHits       int64         `json:"cache_hits"`
	CacheMisses     int64         `json:"cache_misses"`
	EmptyResults    int64         `json:"empty_results"`
	AvgLatencyMs    float64       `json:"avg_latency_ms"`
	P50LatencyMs    int64         `json:"p50_latency_ms"`
	P95LatencyMs    int64         `json:"p95_latency_ms"`
	P99LatencyMs    int64         `json:"p99_latency_ms"`
	OpsByKind       []KindCount   `json:"ops_by_kind"`
	TopCorpora      []CorpusCount `json:"top_corpora"`
	OpsPerMinute    float64       `json:"ops_per_minute"`
	AvgConcSize     float64       `json:"avg_conc_size"`
	LargestConcSize int           `json:"largest_conc_size"`
}

type KindCount struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}

type CorpusCount struct {
	Corpus string `json:"corpus"`
	Count  int64  `json:"count"`
}

// Aggregator consumes operation events from Kafka and keeps running
// aggregates in memory.
type Aggregator struct {
	mu           sync.RWMutex
	totalOps     atomic.Int64
	totalCalcs   atomic.Int64
	failedCalcs  atomic.Int64
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	emptyResults atomic.Int64
	latencies    []int64
	kindCounts   map[EventType]int64
	corpusCounts map[string]int64
	sizeSum      int64
	sizeCount    int64
	largestSize  int
	startTime    time.Time

	consumer *kafka.Consumer
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator fed by the given consumer.
func NewAggregator(consumer *kafka.Consumer) *Aggregator {
	return &Aggregator{
		latencies:    make([]int64, 0, 10000),
		kindCounts:   make(map[EventType]int64),
		corpusCounts: make(map[string]int64),
		startTime:    time.Now(),
		consumer:     consumer,
		logger:       slog.Default().With("component", "stats-aggregator"),
	}
}

// Start begins consuming events. It blocks until ctx is cancelled.
func (a *Aggregator) Start(ctx context.Context) error {
	a.logger.Info("stats aggregator starting")
	return a.consumer.Start(ctx)
}

// HandleEvent returns the Kafka handler that feeds the aggregator.
// Undecodable events are logged and skipped, never retried.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[OpEvent](value)
		if err == nil && ev.Type != EventCalcDone && ev.Type != "" {
			agg.recordOpEvent(ev)
			return nil
		}
		calcEv, calcErr := kafka.DecodeJSON[CalcEvent](value)
		if calcErr != nil || calcEv.Type != EventCalcDone {
			agg.logger.Error("failed to decode stats event", "error", err)
			return nil
		}
		agg.recordCalcEvent(calcEv)
		return nil
	}
}

func (a *Aggregator) recordOpEvent(ev OpEvent) {
	a.totalOps.Add(1)
	if ev.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	if ev.ConcSize == 0 {
		a.emptyResults.Add(1)
	}

	a.mu.Lock()
	a.latencies = append(a.latencies, ev.LatencyMs)
	a.kindCounts[ev.Type]++
	a.corpusCounts[ev.Corpus]++
	a.sizeSum += int64(ev.ConcSize)
	a.sizeCount++
	if ev.ConcSize > a.largestSize {
		a.largestSize = ev.ConcSize
	}
	a.mu.Unlock()
}

func (a *Aggregator) recordCalcEvent(ev CalcEvent) {
	a.totalCalcs.Add(1)
	if ev.Failed {
		a.failedCalcs.Add(1)
	}
}

// Stats returns a snapshot of the current aggregates.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalOps:        a.totalOps.Load(),
		TotalCalcs:      a.totalCalcs.Load(),
		FailedCalcs:     a.failedCalcs.Load(),
		CacheHits:       a.cacheHits.Load(),
		CacheMisses:     a.cacheMisses.Load(),
		EmptyResults:    a.emptyResults.Load(),
		LargestConcSize: a.largestSize,
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if a.sizeCount > 0 {
		stats.AvgConcSize = float64(a.sizeSum) / float64(a.sizeCount)
	}
	stats.OpsByKind = kindCounts(a.kindCounts)
	stats.TopCorpora = topCorpora(a.corpusCounts, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.OpsPerMinute = float64(stats.TotalOps) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func kindCounts(counts map[EventType]int64) []KindCount {
	result := make([]KindCount, 0, len(counts))
	for kind, count := range counts {
		result = append(result, KindCount{Kind: string(kind), Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Kind < result[j].Kind
	})
	return result
}

func topCorpora(counts map[string]int64, n int) []CorpusCount {
	result := make([]CorpusCount, 0, len(counts))
	for corpus, count := range counts {
		result = append(result, CorpusCount{Corpus: corpus, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Count > result[j].Count
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
