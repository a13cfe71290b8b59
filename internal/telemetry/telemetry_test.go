package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTracker struct {
	embeds   []EmbeddingEvent
	searches []SearchEvent
}

func (r *recordingTracker) EmbeddingGenerated(e EmbeddingEvent) { r.embeds = append(r.embeds, e) }
func (r *recordingTracker) SearchPerformed(e SearchEvent)       { r.searches = append(r.searches, e) }

func TestMulti(t *testing.T) {
	a, b := &recordingTracker{}, &recordingTracker{}
	m := Multi{a, Nop{}, b}
	m.EmbeddingGenerated(EmbeddingEvent{Model: "m"})
	m.SearchPerformed(SearchEvent{Kind: SearchText})
	assert.Len(t, a.embeds, 1)
	assert.Len(t, b.embeds, 1)
	assert.Len(t, a.searches, 1)
	assert.Len(t, b.searches, 1)
}

func TestMetrics(t *testing.T) {
	t.Run("ShouldCountEmbeddingsAndSearches", func(t *testing.T) {
		m := NewMetrics()
		m.EmbeddingGenerated(EmbeddingEvent{Model: "hash-v1/384", Dimension: 384, TextLength: 40})
		m.EmbeddingGenerated(EmbeddingEvent{Model: "hash-v1/384", Dimension: 384, TextLength: 12})
		m.SearchPerformed(SearchEvent{Kind: SearchText, Results: 3, TopScore: 0.9})
		m.SearchPerformed(SearchEvent{Kind: SearchSimilar, Results: 0})

		assert.Equal(t, 2.0, testutil.ToFloat64(m.embeddings.WithLabelValues("hash-v1/384")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues(SearchText)))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues(SearchSimilar)))
	})

	t.Run("ShouldServeExpositionFormat", func(t *testing.T) {
		m := NewMetrics()
		m.ObserveRequest(http.MethodGet, "/properties/:id", http.StatusOK, 5*time.Millisecond)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `sakenny_http_requests_total{method="GET",route="/properties/:id",status="200"} 1`)
		assert.Contains(t, body, "go_goroutines")
	})
}

type fakeMLflow struct {
	mu          sync.Mutex
	calls       []string
	experiments map[string]string
	batches     []map[string]any
}

func newFakeMLflow() *fakeMLflow {
	return &fakeMLflow{experiments: map[string]string{}}
}

func (f *fakeMLflow) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/api/2.0/mlflow")
	f.calls = append(f.calls, r.Method+" "+path)
	w.Header().Set("Content-Type", "application/json")

	var body map[string]any
	if r.Body != nil && r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch path {
	case "/experiments/get-by-name":
		id, ok := f.experiments[r.URL.Query().Get("experiment_name")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"not found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"experiment": map[string]any{"experiment_id": id}})
	case "/experiments/create":
		id := "exp-" + body["name"].(string)
		f.experiments[body["name"].(string)] = id
		_ = json.NewEncoder(w).Encode(map[string]any{"experiment_id": id})
	case "/runs/create":
		_ = json.NewEncoder(w).Encode(map[string]any{"run": map[string]any{"info": map[string]any{"run_id": "run-1"}}})
	case "/runs/log-batch":
		f.batches = append(f.batches, body)
		_, _ = w.Write([]byte(`{}`))
	case "/runs/update":
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error_code":"ENDPOINT_NOT_FOUND","message":"unknown"}`))
	}
}

func (f *fakeMLflow) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func TestMLflowTracker(t *testing.T) {
	t.Run("ShouldLogOneRunPerEvent", func(t *testing.T) {
		fake := newFakeMLflow()
		srv := httptest.NewServer(fake)
		defer srv.Close()

		tr := NewMLflowTracker(srv.URL+"/", time.Second)
		tr.EmbeddingGenerated(EmbeddingEvent{Model: "hash-v1/384", Dimension: 384, TextLength: 42})
		tr.EmbeddingGenerated(EmbeddingEvent{Model: "hash-v1/384", Dimension: 384, TextLength: 7})
		tr.SearchPerformed(SearchEvent{Kind: SearchText, Query: "studio in Maadi", K: 5, Results: 2, TopScore: 0.81})
		tr.Close()

		assert.Equal(t, 2, fake.count("GET /experiments/get-by-name"))
		assert.Equal(t, 2, fake.count("POST /experiments/create"))
		assert.Equal(t, 3, fake.count("POST /runs/create"))
		assert.Equal(t, 3, fake.count("POST /runs/log-batch"))
		assert.Equal(t, 3, fake.count("POST /runs/update"))
		assert.Contains(t, fake.experiments, EmbeddingExperiment)
		assert.Contains(t, fake.experiments, SearchExperiment)

		require.Len(t, fake.batches, 3)
		params := fake.batches[2]["params"].([]any)
		assert.Contains(t, params, map[string]any{"key": "query", "value": "studio in Maadi"})
	})

	t.Run("ShouldSwallowServerFailures", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error_code":"INTERNAL_ERROR","message":"boom"}`))
		}))
		defer srv.Close()

		tr := NewMLflowTracker(srv.URL, time.Second)
		assert.NotPanics(t, func() {
			tr.SearchPerformed(SearchEvent{Kind: SearchSimilar})
			tr.Close()
			tr.SearchPerformed(SearchEvent{Kind: SearchSimilar})
			tr.Close()
		})
	})

	t.Run("ShouldSwallowUnreachableServer", func(t *testing.T) {
		tr := NewMLflowTracker("http://127.0.0.1:1", 200*time.Millisecond)
		tr.EmbeddingGenerated(EmbeddingEvent{Model: "m"})
		assert.NotPanics(t, tr.Close)
	})
}
