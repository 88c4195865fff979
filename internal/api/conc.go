package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/corpustools/concord/internal/calc"
	"github.com/corpustools/concord/internal/conc"
	"github.com/corpustools/concord/internal/stats"
	"github.com/corpustools/concord/pkg/logger"
	"github.com/corpustools/concord/pkg/middleware"
)

type infoResponse struct {
	ConcID    string `json:"conc_id"`
	Corpus    string `json:"corpus"`
	State     string `json:"state"`
	Size      int    `json:"size"`
	ViewLen   int    `json:"view_len"`
	NeedsSync bool   `json:"needs_sync"`
}

// Info reports the state of one live session.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rs, err := h.registry.Get(id)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, infoResponse{
		ConcID:    id,
		Corpus:    rs.Corpus(),
		State:     rs.State().String(),
		Size:      rs.Size(),
		ViewLen:   rs.ViewLen(),
		NeedsSync: rs.NeedsSync(),
	})
}

// Lines returns one page of concordance lines in the current view order.
func (h *Handler) Lines(w http.ResponseWriter, r *http.Request) {
	rs, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	start := 0
	if s := r.URL.Query().Get("start"); s != "" {
		if start, err = strconv.Atoi(s); err != nil || start < 0 {
			h.writeError(w, http.StatusBadRequest, "start must be a non-negative integer")
			return
		}
	}
	end := start + h.cfg.DefaultPageLen
	if s := r.URL.Query().Get("end"); s != "" {
		if end, err = strconv.Atoi(s); err != nil {
			h.writeError(w, http.StatusBadRequest, "end must be an integer")
			return
		}
	}
	if end > rs.ViewLen() {
		end = rs.ViewLen()
	}
	if start > end {
		start = end
	}

	lines, err := rs.Lines(start, end)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	if lines == nil {
		lines = []conc.Line{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"lines": lines,
		"start": start,
		"end":   end,
		"total": rs.ViewLen(),
	})
}

// Sort reorders the view by the requested attribute.
func (h *Handler) Sort(w http.ResponseWriter, r *http.Request) {
	var spec calc.SortSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.applyOp(w, r, calc.Op{Kind: calc.OpSort, Sort: &spec})
}

// Shuffle applies the deterministic pseudo-random reordering.
func (h *Handler) Shuffle(w http.ResponseWriter, r *http.Request) {
	h.applyOp(w, r, calc.Op{Kind: calc.OpShuffle})
}

// Filter narrows the view to hits matching the predicate.
func (h *Handler) Filter(w http.ResponseWriter, r *http.Request) {
	var spec calc.FilterSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.applyOp(w, r, calc.Op{Kind: calc.OpFilter, Filter: &spec})
}

// Sample reduces the view to a deterministic random subset.
func (h *Handler) Sample(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Size int `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.applyOp(w, r, calc.Op{Kind: calc.OpSample, SampleSize: req.Size})
}

// Switch re-maps every hit into an aligned corpus.
func (h *Handler) Switch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Target == "" {
		h.writeError(w, http.StatusBadRequest, "target corpus is required")
		return
	}
	h.applyOp(w, r, calc.Op{Kind: calc.OpSwitch, Target: req.Target})
}

// RemoveRows deletes hits from the canonical store. The view is left stale
// on purpose; the client must call sync before reading lines again.
func (h *Handler) RemoveRows(w http.ResponseWriter, r *http.Request) {
	rs, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	var req struct {
		Rows []conc.ConcIndex `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := rs.RemoveRows(req.Rows); err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"size":       rs.Size(),
		"needs_sync": true,
	})
}

// Sync repairs derived state after destructive operations.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	rs, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	if err := rs.Sync(); err != nil {
		h.writeAppError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.SyncRepairsTotal.Inc()
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"size":     rs.Size(),
		"view_len": rs.ViewLen(),
	})
}

// Colloc returns the total occurrence count of one tracked collocate.
func (h *Handler) Colloc(w http.ResponseWriter, r *http.Request) {
	rs, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	collID := r.URL.Query().Get("id")
	if collID == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'id' is required")
		return
	}
	count, err := rs.CollocCount(collID)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	_, tracked := rs.CollocIndex(collID)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"collocate": collID,
		"count":     count,
		"tracked":   tracked,
	})
}

// Discard releases a session. The id is never valid again.
func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Discard(id); err != nil {
		h.writeAppError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.LiveResultSets.Set(float64(h.registry.Len()))
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

// applyOp runs one mutating operation on a live session and records the
// outcome in metrics and the stats stream.
func (h *Handler) applyOp(w http.ResponseWriter, r *http.Request, op calc.Op) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	rs, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	err = calc.ApplyOp(ctx, rs, op, h.align)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if h.metrics != nil {
		h.metrics.ConcOpsTotal.WithLabelValues(string(op.Kind), outcome).Inc()
		h.metrics.ConcOpLatency.WithLabelValues(string(op.Kind)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Warn("operation failed", "kind", op.Kind, "error", err)
		h.writeAppError(w, err)
		return
	}

	if h.collector != nil {
		h.collector.TrackOp(stats.OpEvent{
			Type:      stats.EventType(op.Kind),
			Corpus:    rs.Corpus(),
			OpKey:     op.Key(),
			ConcSize:  rs.Size(),
			LatencyMs: time.Since(start).Milliseconds(),
			RequestID: middleware.GetRequestID(ctx),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"size":     rs.Size(),
		"view_len": rs.ViewLen(),
		"corpus":   rs.Corpus(),
	})
}
