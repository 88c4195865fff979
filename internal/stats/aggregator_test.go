package stats

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func feed(t *testing.T, agg *Aggregator, ev any) {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}
	if err := HandleEvent(agg)(context.Background(), nil, data); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
}

func TestAggregatorOpEvents(t *testing.T) {
	agg := NewAggregator(nil)

	feed(t, agg, OpEvent{Type: EventQuery, Corpus: "susanne", ConcSize: 120, LatencyMs: 10, CacheHit: false})
	feed(t, agg, OpEvent{Type: EventQuery, Corpus: "susanne", ConcSize: 0, LatencyMs: 2, CacheHit: true})
	feed(t, agg, OpEvent{Type: EventShuffle, Corpus: "intercorp_en", ConcSize: 500, LatencyMs: 30})

	got := agg.Stats()
	if got.TotalOps != 3 {
		t.Errorf("TotalOps = %d, want 3", got.TotalOps)
	}
	if got.CacheHits != 1 || got.CacheMisses != 2 {
		t.Errorf("cache hits/misses = %d/%d, want 1/2", got.CacheHits, got.CacheMisses)
	}
	if got.EmptyResults != 1 {
		t.Errorf("EmptyResults = %d, want 1", got.EmptyResults)
	}
	if got.LargestConcSize != 500 {
		t.Errorf("LargestConcSize = %d, want 500", got.LargestConcSize)
	}
	if len(got.TopCorpora) != 2 || got.TopCorpora[0].Corpus != "susanne" {
		t.Errorf("TopCorpora = %+v", got.TopCorpora)
	}
	if len(got.OpsByKind) == 0 || got.OpsByKind[0].Kind != string(EventQuery) {
		t.Errorf("OpsByKind = %+v", got.OpsByKind)
	}
}

func TestAggregatorCalcEvents(t *testing.T) {
	agg := NewAggregator(nil)

	feed(t, agg, CalcEvent{Type: EventCalcDone, TaskID: "t1", Corpus: "susanne", ConcSize: 100})
	feed(t, agg, CalcEvent{Type: EventCalcDone, TaskID: "t2", Corpus: "susanne", Failed: true})

	got := agg.Stats()
	if got.TotalCalcs != 2 {
		t.Errorf("TotalCalcs = %d, want 2", got.TotalCalcs)
	}
	if got.FailedCalcs != 1 {
		t.Errorf("FailedCalcs = %d, want 1", got.FailedCalcs)
	}
	if got.TotalOps != 0 {
		t.Errorf("calc events counted as ops: TotalOps = %d", got.TotalOps)
	}
}

func TestAggregatorSkipsGarbage(t *testing.T) {
	agg := NewAggregator(nil)
	if err := HandleEvent(agg)(context.Background(), nil, []byte("{not json")); err != nil {
		t.Fatalf("garbage event should be skipped, got %v", err)
	}
	if got := agg.Stats(); got.TotalOps != 0 || got.TotalCalcs != 0 {
		t.Errorf("garbage event was recorded: %+v", got)
	}
}

func TestAggregatorLatencyPercentiles(t *testing.T) {
	agg := NewAggregator(nil)
	for i := 1; i <= 100; i++ {
		feed(t, agg, OpEvent{Type: EventSort, Corpus: "susanne", ConcSize: 10, LatencyMs: int64(i)})
	}
	got := agg.Stats()
	if got.P50LatencyMs < 45 || got.P50LatencyMs > 55 {
		t.Errorf("P50 = %d, want around 50", got.P50LatencyMs)
	}
	if got.P99LatencyMs < 95 {
		t.Errorf("P99 = %d, want >= 95", got.P99LatencyMs)
	}
	if got.AvgLatencyMs < 50 || got.AvgLatencyMs > 51 {
		t.Errorf("Avg = %f, want 50.5", got.AvgLatencyMs)
	}
}

func TestCollectorBuffersUntilBatchSize(t *testing.T) {
	c := NewCollector(nil, 100, time.Hour)
	for i := 0; i < 10; i++ {
		c.TrackOp(OpEvent{Type: EventQuery, Corpus: "susanne"})
	}
	if got := c.BufferLen(); got != 10 {
		t.Errorf("BufferLen = %d, want 10", got)
	}
}
