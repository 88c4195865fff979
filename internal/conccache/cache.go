// Package conccache stores computed concordance snapshots and their
// calculation statuses in Redis. A snapshot is keyed by the corpus, the
// subcorpus hash, and the prefix of the operation chain that produced it,
// so partially applied chains can be reused when a later request extends
// them. Statuses let readers poll a calculation running in a worker.
package conccache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/corpustools/concord/internal/conc"
	"github.com/corpustools/concord/pkg/config"
	apperrors "github.com/corpustools/concord/pkg/errors"
	pkgredis "github.com/corpustools/concord/pkg/redis"
)

const (
	snapshotPrefix = "conc:"
	statusPrefix   = "concstatus:"
)

// Snapshot is one cached concordance: the hits in canonical order plus the
// metadata needed to rebuild a ResultSet from them.
type Snapshot struct {
	Corpus     string     `json:"corpus"`
	Hits       []conc.Hit `json:"hits"`
	Collocates []string   `json:"collocates,omitempty"`
	Created    int64      `json:"created"`
}

// Cache is the Redis-backed concordance cache.
type Cache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache over an established Redis client.
func New(client *pkgredis.Client, cfg config.RedisConfig) *Cache {
	return &Cache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "conc-cache"),
	}
}

// GetSnapshot returns the cached snapshot for the given op-chain prefix.
func (c *Cache) GetSnapshot(ctx context.Context, corpus, subchash string, ops []string) (*Snapshot, bool) {
	key := c.key(snapshotPrefix, corpus, subchash, ops)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("snapshot get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		c.logger.Error("snapshot unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &snap, true
}

// SaveSnapshot stores a snapshot under the op-chain prefix. Workers call it
// with partial data while a calculation runs and once more with the final
// hit sequence.
func (c *Cache) SaveSnapshot(ctx context.Context, corpus, subchash string, ops []string, snap *Snapshot) error {
	key := c.key(snapshotPrefix, corpus, subchash, ops)
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		return fmt.Errorf("storing snapshot %s: %w", key, err)
	}
	return nil
}

// GetStatus returns the calculation status record, or ok=false when none
// exists for the prefix.
func (c *Cache) GetStatus(ctx context.Context, corpus, subchash string, ops []string) (*CalcStatus, bool) {
	key := c.key(statusPrefix, corpus, subchash, ops)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("status get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var st CalcStatus
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		c.logger.Error("status unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &st, true
}

// SaveStatus stores the status record for the prefix.
func (c *Cache) SaveStatus(ctx context.Context, corpus, subchash string, ops []string, st *CalcStatus) error {
	key := c.key(statusPrefix, corpus, subchash, ops)
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		return fmt.Errorf("storing status %s: %w", key, err)
	}
	return nil
}

// DelEntry removes both the snapshot and the status for the prefix, e.g.
// after a failed or outdated calculation.
func (c *Cache) DelEntry(ctx context.Context, corpus, subchash string, ops []string) error {
	return c.client.Del(ctx,
		c.key(snapshotPrefix, corpus, subchash, ops),
		c.key(statusPrefix, corpus, subchash, ops),
	)
}

// InvalidateCorpus removes every cached entry for a corpus, returning the
// number of keys dropped.
func (c *Cache) InvalidateCorpus(ctx context.Context, corpus string) (int64, error) {
	var total int64
	for _, prefix := range []string{snapshotPrefix, statusPrefix} {
		n, err := c.client.FlushByPattern(ctx, prefix+normalize(corpus)+":*")
		total += n
		if err != nil {
			return total, fmt.Errorf("invalidating %s entries: %w", corpus, err)
		}
	}
	return total, nil
}

// WaitForConc polls the status record until at least minsize lines are
// available (minsize == -1 waits for the whole concordance). The sleep
// escalates between polls; the overall limit is short when partial results
// are acceptable and longer for a full concordance, matching how long an
// interactive caller is willing to block.
func (c *Cache) WaitForConc(ctx context.Context, corpus, subchash string, ops []string, minsize int, taskLimit time.Duration) error {
	timeLimit := 5 * time.Second
	if minsize < 0 {
		timeLimit = 30 * time.Second
	}
	deadline := time.Now().Add(timeLimit)
	step := 1
	for {
		st, ok := c.GetStatus(ctx, corpus, subchash, ops)
		if !ok {
			return fmt.Errorf("%w: missing calculation status", apperrors.ErrCalcFailed)
		}
		if err := st.TestError(taskLimit); err != nil {
			_ = c.DelEntry(ctx, corpus, subchash, ops)
			return err
		}
		if st.HasSomeResult(minsize) || st.Finished {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: waited %v for %d lines", apperrors.ErrCalcTimeout, timeLimit, minsize)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(step) * 100 * time.Millisecond):
		}
		step++
	}
}

// GetOrCompute deduplicates concurrent fills of the same snapshot key.
func (c *Cache) GetOrCompute(ctx context.Context, corpus, subchash string, ops []string,
	computeFn func() (*Snapshot, error)) (*Snapshot, bool, error) {
	if snap, ok := c.GetSnapshot(ctx, corpus, subchash, ops); ok {
		return snap, true, nil
	}
	key := c.key(snapshotPrefix, corpus, subchash, ops)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if snap, ok := c.GetSnapshot(ctx, corpus, subchash, ops); ok {
			return snap, nil
		}
		snap, err := computeFn()
		if err != nil {
			return nil, err
		}
		if err := c.SaveSnapshot(ctx, corpus, subchash, ops, snap); err != nil {
			c.logger.Error("snapshot save failed", "key", key, "error", err)
		}
		return snap, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Snapshot), false, nil
}

// Stats returns snapshot cache hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) key(prefix, corpus, subchash string, ops []string) string {
	raw := fmt.Sprintf("%s|%s|%s", normalize(corpus), subchash, strings.Join(ops, ";"))
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%x", prefix, normalize(corpus), hash[:16])
}

func normalize(corpus string) string {
	return strings.ToLower(strings.TrimSpace(corpus))
}
