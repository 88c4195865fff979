// Package stats collects concordance operation events, aggregates them
// from a Kafka topic, and serves usage statistics. Events are published
// fire-and-forget so a slow stats pipeline never delays query handling.
package stats

import "time"

type EventType string

const (
	EventQuery     EventType = "query"
	EventSort      EventType = "sort"
	EventShuffle   EventType = "shuffle"
	EventFilter    EventType = "filter"
	EventSample    EventType = "sample"
	EventSwitch    EventType = "switch"
	EventCalcDone  EventType = "calc_done"
	EventCacheHit  EventType = "cache_hit"
	EventCacheMiss EventType = "cache_miss"
)

// OpEvent describes a single user-facing concordance operation.
type OpEvent struct {
	Type      EventType `json:"type"`
	Corpus    string    `json:"corpus"`
	OpKey     string    `json:"op_key"`
	ConcSize  int       `json:"conc_size"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// CalcEvent describes a finished background calculation task.
type CalcEvent struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	Corpus    string    `json:"corpus"`
	ChainLen  int       `json:"chain_len"`
	ConcSize  int       `json:"conc_size"`
	FullSize  int       `json:"full_size"`
	LatencyMs int64     `json:"latency_ms"`
	Failed    bool      `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}
