package llm

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbedNormalizes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			return
		}
		if req.Model != "nomic-embed-text" || req.Prompt != "some text" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{3, 4}})
	}))
	defer srv.Close()

	e := NewEmbedder(NewClient(ClientConfig{BaseURL: srv.URL}), "nomic-embed-text", nil)
	v, err := e.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 2 || math.Abs(v[0]-0.6) > 1e-12 || math.Abs(v[1]-0.8) > 1e-12 {
		t.Fatalf("embedding = %v", v)
	}

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm < 0.999 || norm > 1.001 {
		t.Fatalf("norm = %f", norm)
	}
}

func TestEmbedEmptyVector(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{}})
	}))
	defer srv.Close()

	e := NewEmbedder(NewClient(ClientConfig{BaseURL: srv.URL}), "m", nil)
	if _, err := e.Embed(context.Background(), "text"); err == nil {
		t.Fatal("no error for empty embedding")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	if _, err := Normalize([]float64{0, 0, 0}); err == nil {
		t.Fatal("no error for zero vector")
	}

	v, err := Normalize([]float64{2, 0})
	if err != nil {
		t.Fatal(err)
	}
	if v[0] != 1 || v[1] != 0 {
		t.Fatalf("normalized = %v", v)
	}
}
