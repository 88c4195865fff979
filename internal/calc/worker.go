package calc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corpustools/concord/internal/conc"
	"github.com/corpustools/concord/internal/conccache"
	"github.com/corpustools/concord/pkg/config"
	"github.com/corpustools/concord/pkg/kafka"
	"github.com/corpustools/concord/pkg/metrics"
	"github.com/corpustools/concord/pkg/tracing"
)

// Task is one concordance calculation request, published to the calc topic
// by the API service and consumed by a worker.
type Task struct {
	TaskID     string `json:"task_id"`
	Corpus     string `json:"corpus"`
	SubcHash   string `json:"subchash,omitempty"`
	Ops        []Op   `json:"ops"`
	SampleSize int    `json:"sample_size,omitempty"`
}

// Provider is the external search component: it evaluates a query against a
// corpus and returns matched positions in canonical order, plus the
// collocate identities it tracked while matching. The matching algorithm
// itself is outside this engine.
type Provider interface {
	Evaluate(ctx context.Context, corpus, subchash, query string) (hits []conc.Hit, collocates []string, err error)
}

// Worker executes calc tasks: query evaluation, op-chain replay, and
// snapshot/status bookkeeping in the concordance cache.
type Worker struct {
	cache    *conccache.Cache
	provider Provider
	align    conc.AlignmentMap
	cfg      config.ConcConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewWorker creates a Worker. align may be nil when no alignment service is
// configured; switch ops then fail as not aligned.
func NewWorker(cache *conccache.Cache, provider Provider, align conc.AlignmentMap, cfg config.ConcConfig) *Worker {
	return &Worker{
		cache:    cache,
		provider: provider,
		align:    align,
		cfg:      cfg,
		logger:   slog.Default().With("component", "calc-worker"),
	}
}

// SetMetrics enables Prometheus instrumentation of task outcomes.
func (w *Worker) SetMetrics(m *metrics.Metrics) {
	w.metrics = m
}

// Handler adapts the worker to the Kafka consumer callback.
func (w *Worker) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		task, err := kafka.DecodeJSON[Task](value)
		if err != nil {
			w.logger.Error("undecodable calc task", "key", string(key), "error", err)
			return nil // poison message, do not retry
		}
		return w.Run(ctx, task)
	}
}

// Run performs the whole calculation for a task. It reuses the longest
// cached op-chain prefix, evaluates the query only when no prefix is
// available, then applies and caches the remaining ops one by one. A
// failure marks the status of the failed op and every later prefix so
// waiting readers stop polling.
func (w *Worker) Run(ctx context.Context, task Task) error {
	start := time.Now()
	err := w.run(ctx, task, start)
	if w.metrics != nil {
		status := "completed"
		if err != nil {
			status = "failed"
		}
		w.metrics.CalcTasksTotal.WithLabelValues(status).Inc()
		w.metrics.CalcDuration.Observe(time.Since(start).Seconds())
	}
	return err
}

func (w *Worker) run(ctx context.Context, task Task, start time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "calc.run", task.TaskID)
	span.SetAttr("corpus", task.Corpus)
	span.SetAttr("ops", len(task.Ops))
	defer func() {
		span.End()
		span.Log()
	}()

	if err := Validate(task.Ops); err != nil {
		return err
	}
	keys := Keys(task.Ops)

	calcFrom, rs := w.findCachedBase(ctx, task, keys)
	span.SetAttr("reused_prefix", calcFrom)
	if rs == nil {
		var err error
		rs, err = w.evaluate(ctx, task, keys)
		if err != nil {
			w.markStatusErr(ctx, task, keys, 0, err)
			return err
		}
		calcFrom = 1
	}

	for i := calcFrom; i < len(task.Ops); i++ {
		opCtx, opSpan := tracing.StartChildSpan(ctx, "calc.op."+string(task.Ops[i].Kind))
		err := ApplyOp(opCtx, rs, task.Ops[i], w.align)
		if err == nil {
			err = w.saveStep(opCtx, task, keys[:i+1], rs)
		}
		opSpan.End()
		if err != nil {
			w.markStatusErr(ctx, task, keys, i, err)
			return fmt.Errorf("applying op %d (%s): %w", i, task.Ops[i].Kind, err)
		}
	}

	w.logger.Info("calculation finished",
		"task_id", task.TaskID,
		"corpus", task.Corpus,
		"ops", len(task.Ops),
		"size", rs.Size(),
		"reused_prefix", calcFrom,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// findCachedBase looks for the most complete cached chain prefix and
// rebuilds a result set from it. Chains containing a shuffle-shuffle
// subsequence only ever reuse the bare query prefix.
func (w *Worker) findCachedBase(ctx context.Context, task Task, keys []string) (int, *conc.ResultSet) {
	srchFrom := len(keys)
	if ContainsShuffleSeq(task.Ops) {
		srchFrom = 1
	}
	for i := srchFrom; i >= 1; i-- {
		st, ok := w.cache.GetStatus(ctx, task.Corpus, task.SubcHash, keys[:i])
		if !ok || !st.Finished || st.Error != "" {
			continue
		}
		snap, ok := w.cache.GetSnapshot(ctx, task.Corpus, task.SubcHash, keys[:i])
		if !ok {
			// Status/snapshot mismatch: drop the record and keep looking.
			_ = w.cache.DelEntry(ctx, task.Corpus, task.SubcHash, keys[:i])
			continue
		}
		rs := conc.NewResultSet(w.cfg.ShuffleSeed)
		if err := rs.Populate(snap.Corpus, snap.Hits, snap.Collocates); err != nil {
			continue
		}
		// Prefix snapshots store hits in their post-op canonical order, so
		// identity view over them replays the chain correctly from here.
		return i, rs
	}
	return 0, nil
}

// evaluate runs the query op through the provider and caches the result as
// the first chain prefix.
func (w *Worker) evaluate(ctx context.Context, task Task, keys []string) (*conc.ResultSet, error) {
	evalCtx, evalSpan := tracing.StartChildSpan(ctx, "calc.evaluate")
	hits, collocates, err := w.provider.Evaluate(evalCtx, task.Corpus, task.SubcHash, task.Ops[0].Query)
	evalSpan.End()
	if err != nil {
		return nil, fmt.Errorf("evaluating query: %w", err)
	}
	fullSize := len(hits)
	if w.cfg.MaxResultSize > 0 && len(hits) > w.cfg.MaxResultSize {
		hits = hits[:w.cfg.MaxResultSize]
	}
	rs := conc.NewResultSet(w.cfg.ShuffleSeed)
	if err := rs.Populate(task.Corpus, hits, collocates); err != nil {
		return nil, err
	}
	st := conccache.NewCalcStatus(task.TaskID)
	st.ConcSize = len(hits)
	st.FullSize = fullSize
	if fullSize > 0 {
		st.RelConcSize = float64(len(hits)) / float64(fullSize)
	}
	st.Finished = true
	st.Touch()
	if err := w.cache.SaveStatus(ctx, task.Corpus, task.SubcHash, keys[:1], st); err != nil {
		return nil, err
	}
	snap := &conccache.Snapshot{Corpus: task.Corpus, Hits: hits, Collocates: collocates, Created: time.Now().Unix()}
	if err := w.cache.SaveSnapshot(ctx, task.Corpus, task.SubcHash, keys[:1], snap); err != nil {
		return nil, err
	}
	return rs, nil
}

// saveStep persists the snapshot and finished status for one applied op.
func (w *Worker) saveStep(ctx context.Context, task Task, prefix []string, rs *conc.ResultSet) error {
	corpus, hits, collocates, err := rs.Snapshot()
	if err != nil {
		return err
	}
	snap := &conccache.Snapshot{Corpus: corpus, Hits: hits, Collocates: collocates, Created: time.Now().Unix()}
	if err := w.cache.SaveSnapshot(ctx, task.Corpus, task.SubcHash, prefix, snap); err != nil {
		return err
	}
	st := conccache.NewCalcStatus(task.TaskID)
	st.ConcSize = len(hits)
	st.FullSize = len(hits)
	st.RelConcSize = 1
	st.Finished = true
	st.Touch()
	return w.cache.SaveStatus(ctx, task.Corpus, task.SubcHash, prefix, st)
}

// markStatusErr records a failure on the failed op's prefix and every later
// one, mirroring how readers poll per-prefix statuses.
func (w *Worker) markStatusErr(ctx context.Context, task Task, keys []string, fromIdx int, cause error) {
	for i := fromIdx; i < len(keys); i++ {
		st, ok := w.cache.GetStatus(ctx, task.Corpus, task.SubcHash, keys[:i+1])
		if !ok {
			st = conccache.NewCalcStatus(task.TaskID)
		}
		st.Finished = true
		st.Error = cause.Error()
		st.Touch()
		if err := w.cache.SaveStatus(ctx, task.Corpus, task.SubcHash, keys[:i+1], st); err != nil {
			w.logger.Error("failed to mark status error", "task_id", task.TaskID, "error", err)
		}
	}
	w.logger.Error("calculation failed", "task_id", task.TaskID, "corpus", task.Corpus, "error", cause)
}
