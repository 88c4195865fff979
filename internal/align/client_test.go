package align

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/corpustools/concord/pkg/config"
	apperrors "github.com/corpustools/concord/pkg/errors"
	"github.com/corpustools/concord/pkg/resilience"
)

func testConfig(url string) config.AlignConfig {
	return config.AlignConfig{
		BaseURL:          url,
		RequestTimeout:   2 * time.Second,
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	}
}

func TestMapOffsets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/map" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req mapRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Source != "intercorp_en" || req.Target != "intercorp_cs" {
			t.Errorf("unexpected pair %s -> %s", req.Source, req.Target)
		}
		out := mapResponse{Offsets: make([]int64, len(req.Offsets))}
		for i, off := range req.Offsets {
			out.Offsets[i] = off + 1000
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	mapped, err := c.MapOffsets(context.Background(), "intercorp_en", "intercorp_cs", []int64{10, 42, 7})
	if err != nil {
		t.Fatalf("MapOffsets: %v", err)
	}
	want := []int64{1010, 1042, 1007}
	for i, off := range mapped {
		if off != want[i] {
			t.Errorf("offset %d = %d, want %d", i, off, want[i])
		}
	}
}

func TestMapOffsetsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.MapOffsets(context.Background(), "intercorp_en", "nosuch", []int64{1})
	if !errors.Is(err, apperrors.ErrNotAligned) {
		t.Fatalf("expected ErrNotAligned, got %v", err)
	}
}

func TestMapOffsetsLengthMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(mapResponse{Offsets: []int64{1}})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.MapOffsets(context.Background(), "a", "b", []int64{1, 2, 3})
	if !errors.Is(err, apperrors.ErrNotAligned) {
		t.Fatalf("expected ErrNotAligned, got %v", err)
	}
}

func TestMapOffsetsCircuitOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	for i := 0; i < 3; i++ {
		if _, err := c.MapOffsets(context.Background(), "a", "b", []int64{1}); err == nil {
			t.Fatal("expected error from failing service")
		}
	}
	_, err := c.MapOffsets(context.Background(), "a", "b", []int64{1})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after repeated failures, got %v", err)
	}
}
