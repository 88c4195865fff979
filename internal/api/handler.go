// Package api exposes the concordancer over HTTP. Query submission goes
// through the calc dispatcher (cache first, Kafka worker on miss); the
// resulting hits are registered as an in-memory session that the per-conc
// operation endpoints mutate.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/corpustools/concord/internal/archive"
	"github.com/corpustools/concord/internal/calc"
	"github.com/corpustools/concord/internal/conc"
	"github.com/corpustools/concord/internal/conccache"
	"github.com/corpustools/concord/internal/session"
	"github.com/corpustools/concord/internal/stats"
	"github.com/corpustools/concord/pkg/config"
	apperrors "github.com/corpustools/concord/pkg/errors"
	"github.com/corpustools/concord/pkg/logger"
	"github.com/corpustools/concord/pkg/metrics"
	"github.com/corpustools/concord/pkg/middleware"
)

type Handler struct {
	registry   *session.Registry
	dispatcher *calc.Dispatcher
	cache      *conccache.Cache
	align      conc.AlignmentMap
	archive    *archive.Store
	collector  *stats.Collector
	metrics    *metrics.Metrics
	cfg        config.ConcConfig
	logger     *slog.Logger
}

// New creates the API handler. archive, collector, and metrics may be nil;
// the corresponding side channels are then skipped.
func New(
	registry *session.Registry,
	dispatcher *calc.Dispatcher,
	cache *conccache.Cache,
	align conc.AlignmentMap,
	arch *archive.Store,
	collector *stats.Collector,
	m *metrics.Metrics,
	cfg config.ConcConfig,
) *Handler {
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		cache:      cache,
		align:      align,
		archive:    arch,
		collector:  collector,
		metrics:    m,
		cfg:        cfg,
		logger:     slog.Default().With("component", "api-handler"),
	}
}

// Register wires all routes into mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/query", h.Query)
	mux.HandleFunc("GET /api/v1/conc/{id}/lines", h.Lines)
	mux.HandleFunc("POST /api/v1/conc/{id}/sort", h.Sort)
	mux.HandleFunc("POST /api/v1/conc/{id}/shuffle", h.Shuffle)
	mux.HandleFunc("POST /api/v1/conc/{id}/filter", h.Filter)
	mux.HandleFunc("POST /api/v1/conc/{id}/sample", h.Sample)
	mux.HandleFunc("POST /api/v1/conc/{id}/switch", h.Switch)
	mux.HandleFunc("POST /api/v1/conc/{id}/remove-rows", h.RemoveRows)
	mux.HandleFunc("POST /api/v1/conc/{id}/sync", h.Sync)
	mux.HandleFunc("GET /api/v1/conc/{id}/colloc", h.Colloc)
	mux.HandleFunc("GET /api/v1/conc/{id}", h.Info)
	mux.HandleFunc("DELETE /api/v1/conc/{id}", h.Discard)
	mux.HandleFunc("GET /api/v1/archive", h.ArchiveList)
	mux.HandleFunc("GET /api/v1/archive/{id}", h.ArchiveGet)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

type queryRequest struct {
	Corpus   string    `json:"corpus"`
	SubcHash string    `json:"subchash,omitempty"`
	Query    string    `json:"query"`
	Ops      []calc.Op `json:"ops,omitempty"`
}

type queryResponse struct {
	ConcID string `json:"conc_id"`
	Corpus string `json:"corpus"`
	Size   int    `json:"size"`
	Cached bool   `json:"cached"`
}

// Query submits an operation chain for calculation and registers the result
// as a live session.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Corpus == "" {
		h.writeError(w, http.StatusBadRequest, "corpus is required")
		return
	}

	ops := req.Ops
	if len(ops) == 0 {
		ops = []calc.Op{{Kind: calc.OpQuery, Query: req.Query}}
	}
	if err := calc.Validate(ops); err != nil {
		h.writeAppError(w, err)
		return
	}

	task := calc.Task{
		TaskID:   middleware.GetRequestID(ctx),
		Corpus:   req.Corpus,
		SubcHash: req.SubcHash,
		Ops:      ops,
	}
	snap, cached, err := h.dispatcher.Submit(ctx, task)
	if err != nil {
		log.Error("query submission failed", "corpus", req.Corpus, "error", err)
		h.writeAppError(w, err)
		return
	}

	id, rs, err := h.registry.Create(snap.Corpus, snap.Hits, snap.Collocates)
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	if h.archive != nil {
		if _, err := h.archive.Save(ctx, archive.Record{
			Corpus:   req.Corpus,
			SubcHash: req.SubcHash,
			OpKeys:   calc.Keys(ops),
			Query:    ops[0].Query,
		}); err != nil {
			log.Warn("query archiving failed", "error", err)
		}
	}

	latencyMs := time.Since(start).Milliseconds()
	log.Info("query completed",
		"corpus", req.Corpus,
		"conc_id", id,
		"size", rs.Size(),
		"cached", cached,
		"latency_ms", latencyMs,
	)
	if h.metrics != nil {
		h.metrics.ConcOpsTotal.WithLabelValues(string(calc.OpQuery), "ok").Inc()
		h.metrics.ConcOpLatency.WithLabelValues(string(calc.OpQuery)).Observe(time.Since(start).Seconds())
		h.metrics.ConcResultSize.Observe(float64(rs.Size()))
		h.metrics.LiveResultSets.Set(float64(h.registry.Len()))
	}
	if h.collector != nil {
		evType := stats.EventCacheMiss
		if cached {
			evType = stats.EventCacheHit
		}
		h.collector.TrackOp(stats.OpEvent{
			Type:      evType,
			Corpus:    req.Corpus,
			OpKey:     calc.Op{Kind: calc.OpQuery, Query: ops[0].Query}.Key(),
			ConcSize:  rs.Size(),
			LatencyMs: latencyMs,
			CacheHit:  cached,
			RequestID: middleware.GetRequestID(ctx),
		})
	}

	h.writeJSON(w, http.StatusOK, queryResponse{
		ConcID: id,
		Corpus: rs.Corpus(),
		Size:   rs.Size(),
		Cached: cached,
	})
}

// ArchiveList lists recently used archived queries.
func (h *Handler) ArchiveList(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		h.writeError(w, http.StatusServiceUnavailable, "query archive is disabled")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	recs, err := h.archive.Recent(r.Context(), r.URL.Query().Get("corpus"), limit)
	if err != nil {
		h.logger.Error("archive listing failed", "error", err)
		h.writeAppError(w, err)
		return
	}
	if recs == nil {
		recs = []archive.Record{}
	}
	h.writeJSON(w, http.StatusOK, recs)
}

// ArchiveGet returns one archived query by id.
func (h *Handler) ArchiveGet(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		h.writeError(w, http.StatusServiceUnavailable, "query archive is disabled")
		return
	}
	rec, err := h.archive.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// CacheStats reports concordance cache hit statistics.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate drops all cached concordances for a corpus. Used after a
// corpus data update makes cached hit positions wrong.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	corpus := r.URL.Query().Get("corpus")
	if corpus == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'corpus' is required")
		return
	}
	n, err := h.cache.InvalidateCorpus(r.Context(), corpus)
	if err != nil {
		h.logger.Error("cache invalidation failed", "corpus", corpus, "error", err)
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "entries": n})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.writeError(w, status, "internal error")
		return
	}
	h.writeError(w, status, err.Error())
}
