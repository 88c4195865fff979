// Package session owns the live result sets of a running service. Each
// result set belongs to exactly one concordance ID; the registry hands out
// the owning handle, evicts sets idle past their TTL, and makes Discard a
// terminal operation. Serialisation of reads and writes on one set is the
// set's own mutex; the registry never reaches inside.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/corpustools/concord/internal/conc"
	apperrors "github.com/corpustools/concord/pkg/errors"
)

type entry struct {
	rs         *conc.ResultSet
	created    time.Time
	lastAccess time.Time
}

// Registry maps concordance IDs to live result sets.
type Registry struct {
	mu          sync.RWMutex
	sets        map[string]*entry
	ttl         time.Duration
	shuffleSeed int64
	logger      *slog.Logger
}

// NewRegistry creates a Registry evicting sets idle longer than ttl.
func NewRegistry(ttl time.Duration, shuffleSeed int64) *Registry {
	return &Registry{
		sets:        make(map[string]*entry),
		ttl:         ttl,
		shuffleSeed: shuffleSeed,
		logger:      slog.Default().With("component", "session-registry"),
	}
}

// Create populates a fresh result set and registers it under a new ID.
func (r *Registry) Create(corpus string, hits []conc.Hit, collocates []string) (string, *conc.ResultSet, error) {
	rs := conc.NewResultSet(r.shuffleSeed)
	if err := rs.Populate(corpus, hits, collocates); err != nil {
		return "", nil, err
	}
	id := newID()
	now := time.Now()
	r.mu.Lock()
	r.sets[id] = &entry{rs: rs, created: now, lastAccess: now}
	r.mu.Unlock()
	r.logger.Debug("result set registered", "conc_id", id, "corpus", corpus, "size", rs.Size())
	return id, rs, nil
}

// Get returns the result set for an ID, refreshing its idle timer.
func (r *Registry) Get(id string) (*conc.ResultSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrConcNotFound, id)
	}
	e.lastAccess = time.Now()
	return e.rs, nil
}

// Discard releases a result set. The underlying set transitions to its
// terminal state, so handles still held by callers fail from now on.
func (r *Registry) Discard(id string) error {
	r.mu.Lock()
	e, ok := r.sets[id]
	if ok {
		delete(r.sets, id)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrConcNotFound, id)
	}
	e.rs.Discard()
	r.logger.Debug("result set discarded", "conc_id", id)
	return nil
}

// Len returns the number of live result sets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sets)
}

// StartJanitor launches the background eviction loop and returns when ctx
// is cancelled.
func (r *Registry) StartJanitor(ctx context.Context) {
	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.evictIdle(); n > 0 {
				r.logger.Info("evicted idle result sets", "count", n)
			}
		}
	}
}

func (r *Registry) evictIdle() int {
	cutoff := time.Now().Add(-r.ttl)
	var victims []*entry
	r.mu.Lock()
	for id, e := range r.sets {
		if e.lastAccess.Before(cutoff) {
			victims = append(victims, e)
			delete(r.sets, id)
		}
	}
	r.mu.Unlock()
	for _, e := range victims {
		e.rs.Discard()
	}
	return len(victims)
}

func newID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
