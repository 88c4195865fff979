// Package integration contains tests that verify the interaction between
// multiple concordancer components. These tests use httptest servers with
// real handler wiring but skip when external backends (PostgreSQL, Redis)
// are unavailable.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/corpustools/concord/internal/api"
	"github.com/corpustools/concord/internal/archive"
	"github.com/corpustools/concord/internal/calc"
	"github.com/corpustools/concord/internal/conc"
	"github.com/corpustools/concord/internal/conccache"
	"github.com/corpustools/concord/internal/session"
	"github.com/corpustools/concord/pkg/config"
	"github.com/corpustools/concord/pkg/postgres"
	pkgredis "github.com/corpustools/concord/pkg/redis"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// skipIfNoRedis skips the test when Redis is unavailable.
func skipIfNoRedis(t *testing.T) *pkgredis.Client {
	t.Helper()
	client, err := pkgredis.NewClient(testRedisConfig())
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "concord_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "concord"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}
}

func testRedisConfig() config.RedisConfig {
	return config.RedisConfig{
		Addr:     envOrDefault("TEST_REDIS_ADDR", "localhost:6379"),
		DB:       envOrDefaultInt("TEST_REDIS_DB", 15),
		PoolSize: 5,
		CacheTTL: time.Minute,
	}
}

func testConcConfig() config.ConcConfig {
	return config.ConcConfig{
		MaxResultSize:  100000,
		DefaultPageLen: 40,
		SessionTTL:     time.Minute,
		TaskTimeLimit:  30 * time.Second,
	}
}

// staticProvider serves a fixed hit list for every query.
type staticProvider struct {
	hits       []conc.Hit
	collocates []string
}

func (p staticProvider) Evaluate(ctx context.Context, corpus, subchash, query string) ([]conc.Hit, []string, error) {
	out := make([]conc.Hit, len(p.hits))
	copy(out, p.hits)
	return out, p.collocates, nil
}

func makeHits(n int) []conc.Hit {
	hits := make([]conc.Hit, n)
	for i := range hits {
		hits[i] = conc.Hit{Offset: int64(i * 10), CollFreqs: []int32{int32(i % 3)}}
	}
	return hits
}

// ---------------------------------------------------------------------------
// Query archive (PostgreSQL)
// ---------------------------------------------------------------------------

func TestArchiveSaveAndGet(t *testing.T) {
	db := skipIfNoPostgres(t)
	store := archive.NewStore(db)
	ctx := context.Background()

	rec := archive.Record{
		Corpus: "susanne",
		OpKeys: []string{`q:[word="time"]`, "f"},
		Query:  `[word="time"]`,
	}
	id, err := store.Save(ctx, rec)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	t.Cleanup(func() { _ = store.Delete(context.Background(), id) })

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Corpus != "susanne" || got.Query != `[word="time"]` {
		t.Errorf("archived record = %+v", got)
	}
	if len(got.OpKeys) != 2 {
		t.Errorf("op keys = %v", got.OpKeys)
	}
}

func TestArchiveSaveIsIdempotent(t *testing.T) {
	db := skipIfNoPostgres(t)
	store := archive.NewStore(db)
	ctx := context.Background()

	rec := archive.Record{
		Corpus: "susanne",
		OpKeys: []string{fmt.Sprintf("q:idempotency-%d", time.Now().UnixNano())},
		Query:  "idempotency probe",
	}
	id1, err := store.Save(ctx, rec)
	if err != nil {
		t.Fatalf("first Save: %v", err)
	}
	t.Cleanup(func() { _ = store.Delete(context.Background(), id1) })

	id2, err := store.Save(ctx, rec)
	if err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if id1 != id2 {
		t.Errorf("same chain saved twice: ids %s and %s", id1, id2)
	}

	got, err := store.Get(ctx, id1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UseCount < 2 {
		t.Errorf("use count = %d, want >= 2", got.UseCount)
	}
}

// ---------------------------------------------------------------------------
// Concordance cache (Redis)
// ---------------------------------------------------------------------------

func TestConcCacheRoundTrip(t *testing.T) {
	client := skipIfNoRedis(t)
	cache := conccache.New(client, testRedisConfig())
	ctx := context.Background()

	corpus := fmt.Sprintf("it-corpus-%d", time.Now().UnixNano())
	ops := []string{`q:[word="x"]`}
	snap := &conccache.Snapshot{
		Corpus:  corpus,
		Hits:    makeHits(5),
		Created: time.Now().Unix(),
	}
	if err := cache.SaveSnapshot(ctx, corpus, "", ops, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	t.Cleanup(func() { _, _ = cache.InvalidateCorpus(context.Background(), corpus) })

	got, ok := cache.GetSnapshot(ctx, corpus, "", ops)
	if !ok {
		t.Fatal("snapshot not found after save")
	}
	if len(got.Hits) != 5 || got.Hits[2].Offset != 20 {
		t.Errorf("snapshot hits = %+v", got.Hits)
	}

	if _, ok := cache.GetSnapshot(ctx, corpus, "other", ops); ok {
		t.Error("different subcorpus hash hit the same entry")
	}
}

func TestWaitForConcTimesOutOnStalledStatus(t *testing.T) {
	client := skipIfNoRedis(t)
	cache := conccache.New(client, testRedisConfig())
	ctx := context.Background()

	corpus := fmt.Sprintf("it-stall-%d", time.Now().UnixNano())
	ops := []string{`q:[word="x"]`}
	st := conccache.NewCalcStatus("stalled")
	st.LastUpd = time.Now().Add(-time.Hour).Unix()
	if err := cache.SaveStatus(ctx, corpus, "", ops, st); err != nil {
		t.Fatalf("SaveStatus: %v", err)
	}
	t.Cleanup(func() { _, _ = cache.InvalidateCorpus(context.Background(), corpus) })

	if err := cache.WaitForConc(ctx, corpus, "", ops, 0, time.Second); err == nil {
		t.Fatal("stalled calculation did not surface an error")
	}
}

// ---------------------------------------------------------------------------
// Full query flow (API + inline worker + cache)
// ---------------------------------------------------------------------------

func TestQueryFlowWithInlineWorker(t *testing.T) {
	client := skipIfNoRedis(t)
	cache := conccache.New(client, testRedisConfig())
	cfg := testConcConfig()

	provider := staticProvider{hits: makeHits(50), collocates: []string{"the"}}
	worker := calc.NewWorker(cache, provider, nil, cfg)
	dispatcher := calc.NewDispatcher(cache, nil, worker, cfg)
	registry := session.NewRegistry(time.Minute, 0)

	h := api.New(registry, dispatcher, cache, nil, nil, nil, nil, cfg)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	corpus := fmt.Sprintf("it-flow-%d", time.Now().UnixNano())
	t.Cleanup(func() { _, _ = cache.InvalidateCorpus(context.Background(), corpus) })

	submit := func() (concID string, cached bool) {
		body, _ := json.Marshal(map[string]any{
			"corpus": corpus,
			"query":  `[word="time"]`,
		})
		resp, err := http.Post(srv.URL+"/api/v1/query", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST query: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("query status = %d", resp.StatusCode)
		}
		var out struct {
			ConcID string `json:"conc_id"`
			Size   int    `json:"size"`
			Cached bool   `json:"cached"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decoding query response: %v", err)
		}
		if out.Size != 50 {
			t.Fatalf("size = %d, want 50", out.Size)
		}
		return out.ConcID, out.Cached
	}

	id1, cached1 := submit()
	if cached1 {
		t.Error("first submission reported a cache hit")
	}
	_, cached2 := submit()
	if !cached2 {
		t.Error("second submission missed the cache")
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/conc/%s/lines?start=0&end=10", srv.URL, id1))
	if err != nil {
		t.Fatalf("GET lines: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lines status = %d", resp.StatusCode)
	}
	var lines struct {
		Lines []conc.Line `json:"lines"`
		Total int         `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lines); err != nil {
		t.Fatalf("decoding lines: %v", err)
	}
	if len(lines.Lines) != 10 || lines.Total != 50 {
		t.Fatalf("lines = %d total = %d, want 10/50", len(lines.Lines), lines.Total)
	}
	if lines.Lines[3].Hit.Offset != 30 {
		t.Errorf("line 3 offset = %d, want 30", lines.Lines[3].Hit.Offset)
	}
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
