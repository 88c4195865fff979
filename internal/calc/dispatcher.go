package calc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corpustools/concord/internal/conccache"
	"github.com/corpustools/concord/pkg/config"
	"github.com/corpustools/concord/pkg/kafka"
)

// Publisher is the producing side of the calc task queue.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Dispatcher is the API-side entry point for concordance calculations. It
// serves finished chains straight from the cache, hands fresh work to the
// worker pool over Kafka, and falls back to an inline calculation when the
// queue is unavailable.
type Dispatcher struct {
	cache     *conccache.Cache
	publisher Publisher
	inline    *Worker
	cfg       config.ConcConfig
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. publisher may be nil; every task then
// runs inline.
func NewDispatcher(cache *conccache.Cache, publisher Publisher, inline *Worker, cfg config.ConcConfig) *Dispatcher {
	return &Dispatcher{
		cache:     cache,
		publisher: publisher,
		inline:    inline,
		cfg:       cfg,
		logger:    slog.Default().With("component", "calc-dispatcher"),
	}
}

// Submit ensures the full op chain of the task is calculated and cached,
// waiting for a worker when necessary, and returns the final snapshot.
// The returned bool reports whether the chain was already fully cached.
func (d *Dispatcher) Submit(ctx context.Context, task Task) (*conccache.Snapshot, bool, error) {
	if err := Validate(task.Ops); err != nil {
		return nil, false, err
	}
	keys := Keys(task.Ops)

	if st, ok := d.cache.GetStatus(ctx, task.Corpus, task.SubcHash, keys); ok && st.Finished && st.Error == "" {
		if snap, ok := d.cache.GetSnapshot(ctx, task.Corpus, task.SubcHash, keys); ok {
			return snap, true, nil
		}
		// Status without data: treat as a fresh calculation.
		_ = d.cache.DelEntry(ctx, task.Corpus, task.SubcHash, keys)
	}

	if err := d.dispatch(ctx, task, keys); err != nil {
		return nil, false, err
	}
	if err := d.cache.WaitForConc(ctx, task.Corpus, task.SubcHash, keys, -1, d.cfg.TaskTimeLimit); err != nil {
		return nil, false, err
	}
	snap, ok := d.cache.GetSnapshot(ctx, task.Corpus, task.SubcHash, keys)
	if !ok {
		return nil, false, fmt.Errorf("calculation finished but snapshot missing for task %s", task.TaskID)
	}
	return snap, false, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, task Task, keys []string) error {
	// A running record means another request already dispatched this chain;
	// the caller only needs to wait.
	if st, ok := d.cache.GetStatus(ctx, task.Corpus, task.SubcHash, keys); ok && !st.Finished && st.Error == "" {
		return nil
	}
	st := conccache.NewCalcStatus(task.TaskID)
	if err := d.cache.SaveStatus(ctx, task.Corpus, task.SubcHash, keys, st); err != nil {
		return err
	}

	if d.publisher != nil {
		err := d.publisher.Publish(ctx, kafka.Event{Key: task.Corpus, Value: task})
		if err == nil {
			return nil
		}
		d.logger.Warn("calc queue unavailable, running task inline", "task_id", task.TaskID, "error", err)
	}
	if d.inline == nil {
		return fmt.Errorf("no calc queue and no inline worker for task %s", task.TaskID)
	}
	start := time.Now()
	if err := d.inline.Run(ctx, task); err != nil {
		return err
	}
	d.logger.Debug("inline calculation done", "task_id", task.TaskID, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}
