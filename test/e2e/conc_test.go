// Package e2e contains end-to-end tests that exercise a running concserver
// instance over HTTP. They require the full stack (server, Redis, and
// optionally PostgreSQL and Kafka) to be up, and skip when the service is
// unreachable.
//
// Point the tests at a deployment with:
//
//	E2E_CONC_URL=http://localhost:8080 go test -v ./test/e2e/...
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

func concURL() string {
	if v := os.Getenv("E2E_CONC_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func e2eCorpus() string {
	if v := os.Getenv("E2E_CORPUS"); v != "" {
		return v
	}
	return "susanne"
}

// skipIfDown skips the test when the service does not answer its liveness
// probe.
func skipIfDown(t *testing.T) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(concURL() + "/health/live")
	if err != nil {
		t.Skipf("skipping e2e test: service unreachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Skipf("skipping e2e test: liveness returned %d", resp.StatusCode)
	}
}

func postJSON(t *testing.T, path string, payload, out any) int {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	resp, err := http.Post(concURL()+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(concURL() + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func submitQuery(t *testing.T, query string) string {
	t.Helper()
	var out struct {
		ConcID string `json:"conc_id"`
		Size   int    `json:"size"`
	}
	status := postJSON(t, "/api/v1/query", map[string]any{
		"corpus": e2eCorpus(),
		"query":  query,
	}, &out)
	if status != http.StatusOK {
		t.Fatalf("query status = %d", status)
	}
	if out.ConcID == "" {
		t.Fatal("empty conc_id in query response")
	}
	return out.ConcID
}

func TestServiceReadiness(t *testing.T) {
	skipIfDown(t)

	var out struct {
		Status     string `json:"status"`
		Components map[string]struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"components"`
	}
	status := getJSON(t, "/health/ready", &out)
	if status != http.StatusOK {
		t.Fatalf("readiness status = %d", status)
	}
	for name, comp := range out.Components {
		if comp.Status != "up" {
			t.Errorf("component %q is %s: %s", name, comp.Status, comp.Message)
		}
	}
}

func TestQueryAndPageLines(t *testing.T) {
	skipIfDown(t)

	id := submitQuery(t, `[word="the"]`)

	var page struct {
		Lines []map[string]any `json:"lines"`
		Total int              `json:"total"`
	}
	status := getJSON(t, fmt.Sprintf("/api/v1/conc/%s/lines?start=0&end=20", id), &page)
	if status != http.StatusOK {
		t.Fatalf("lines status = %d", status)
	}
	if page.Total == 0 {
		t.Skip("corpus has no hits for the probe query")
	}
	if len(page.Lines) == 0 {
		t.Fatal("non-empty result returned no lines")
	}
	for i, ln := range page.Lines {
		if int(ln["rank"].(float64)) != i {
			t.Errorf("line %d has rank %v", i, ln["rank"])
		}
	}
}

func TestShuffleIsDeterministic(t *testing.T) {
	skipIfDown(t)

	order := func() []float64 {
		id := submitQuery(t, `[word="the"]`)
		if status := postJSON(t, fmt.Sprintf("/api/v1/conc/%s/shuffle", id), map[string]any{}, nil); status != http.StatusOK {
			t.Fatalf("shuffle status = %d", status)
		}
		var page struct {
			Lines []map[string]any `json:"lines"`
			Total int              `json:"total"`
		}
		if status := getJSON(t, fmt.Sprintf("/api/v1/conc/%s/lines?start=0&end=20", id), &page); status != http.StatusOK {
			t.Fatalf("lines status = %d", status)
		}
		if page.Total == 0 {
			t.Skip("corpus has no hits for the probe query")
		}
		refs := make([]float64, len(page.Lines))
		for i, ln := range page.Lines {
			refs[i] = ln["ref"].(float64)
		}
		return refs
	}

	first := order()
	second := order()
	if len(first) != len(second) {
		t.Fatalf("page lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("shuffled order differs at rank %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	skipIfDown(t)

	// Generate at least one operation so the snapshot is non-trivial.
	submitQuery(t, `[word="the"]`)

	var out map[string]any
	status := getJSON(t, "/api/v1/stats", &out)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d", status)
	}
	if _, ok := out["total_ops"]; !ok {
		t.Errorf("stats payload missing total_ops: %v", out)
	}
}

func TestCacheStatsEndpoint(t *testing.T) {
	skipIfDown(t)

	submitQuery(t, `[word="the"]`)
	submitQuery(t, `[word="the"]`)

	var out struct {
		Hits    int64  `json:"hits"`
		Misses  int64  `json:"misses"`
		HitRate string `json:"hit_rate"`
	}
	status := getJSON(t, "/api/v1/cache/stats", &out)
	if status != http.StatusOK {
		t.Fatalf("cache stats status = %d", status)
	}
	if out.Hits == 0 {
		t.Error("repeated identical query produced no cache hit")
	}
}
