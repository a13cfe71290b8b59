package telemetry

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// MLflow experiments receiving pipeline runs.
const (
	EmbeddingExperiment = "sakenny-embeddings"
	SearchExperiment    = "sakenny-search"
)

const mlflowQueueSize = 256

type mlflowParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type mlflowMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type mlflowRun struct {
	experiment string
	name       string
	params     []mlflowParam
	metrics    []mlflowMetric
	at         time.Time
}

type mlflowError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// MLflowTracker logs one MLflow run per event through the tracking server's
// REST API. Events are queued and sent by a single background worker; a full
// queue drops events and every failure is logged and swallowed.
type MLflowTracker struct {
	client *resty.Client
	queue  chan mlflowRun
	wg     sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool

	mu          sync.Mutex
	experiments map[string]string
}

// NewMLflowTracker starts a tracker sending runs to trackingURI.
func NewMLflowTracker(trackingURI string, timeout time.Duration) *MLflowTracker {
	client := resty.New().
		SetBaseURL(strings.TrimRight(trackingURI, "/")+"/api/2.0/mlflow").
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	t := &MLflowTracker{
		client:      client,
		queue:       make(chan mlflowRun, mlflowQueueSize),
		experiments: make(map[string]string),
	}
	t.wg.Add(1)
	go t.loop()
	return t
}

// Close stops accepting events and waits for queued runs to be sent.
func (t *MLflowTracker) Close() {
	t.closeMu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.closeMu.Unlock()
	t.wg.Wait()
}

func (t *MLflowTracker) EmbeddingGenerated(e EmbeddingEvent) {
	now := time.Now()
	t.enqueue(mlflowRun{
		experiment: EmbeddingExperiment,
		name:       "embed",
		params: []mlflowParam{
			{Key: "model_name", Value: e.Model},
			{Key: "embedding_dimension", Value: strconv.Itoa(e.Dimension)},
		},
		metrics: []mlflowMetric{
			metric("text_length", float64(e.TextLength), now),
			metric("duration_ms", float64(e.Duration.Milliseconds()), now),
		},
		at: now,
	})
}

func (t *MLflowTracker) SearchPerformed(e SearchEvent) {
	now := time.Now()
	t.enqueue(mlflowRun{
		experiment: SearchExperiment,
		name:       "search-" + e.Kind,
		params: []mlflowParam{
			{Key: "search_type", Value: e.Kind},
			{Key: "query", Value: truncate(e.Query, 500)},
			{Key: "k", Value: strconv.Itoa(e.K)},
		},
		metrics: []mlflowMetric{
			metric("num_results", float64(e.Results), now),
			metric("top_similarity", e.TopScore, now),
			metric("duration_ms", float64(e.Duration.Milliseconds()), now),
		},
		at: now,
	})
}

func (t *MLflowTracker) enqueue(r mlflowRun) {
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- r:
	default:
		slog.Warn("mlflow queue full, run dropped", "experiment", r.experiment)
	}
}

func (t *MLflowTracker) loop() {
	defer t.wg.Done()
	for r := range t.queue {
		if err := t.logRun(r); err != nil {
			slog.Warn("mlflow tracking failed", "experiment", r.experiment, "error", err)
		}
	}
}

func (t *MLflowTracker) logRun(r mlflowRun) error {
	expID, err := t.experimentID(r.experiment)
	if err != nil {
		return err
	}

	var created struct {
		Run struct {
			Info struct {
				RunID string `json:"run_id"`
			} `json:"info"`
		} `json:"run"`
	}
	if err := t.post("/runs/create", map[string]any{
		"experiment_id": expID,
		"run_name":      r.name,
		"start_time":    r.at.UnixMilli(),
	}, &created); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	runID := created.Run.Info.RunID

	if err := t.post("/runs/log-batch", map[string]any{
		"run_id":  runID,
		"params":  r.params,
		"metrics": r.metrics,
	}, nil); err != nil {
		return fmt.Errorf("log batch: %w", err)
	}

	if err := t.post("/runs/update", map[string]any{
		"run_id":   runID,
		"status":   "FINISHED",
		"end_time": time.Now().UnixMilli(),
	}, nil); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// experimentID resolves an experiment by name, creating it on first use.
func (t *MLflowTracker) experimentID(name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.experiments[name]; ok {
		return id, nil
	}

	var found struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	var apiErr mlflowError
	resp, err := t.client.R().
		SetQueryParam("experiment_name", name).
		SetResult(&found).
		SetError(&apiErr).
		Get("/experiments/get-by-name")
	if err != nil {
		return "", fmt.Errorf("get experiment %s: %w", name, err)
	}

	id := found.Experiment.ExperimentID
	switch {
	case resp.IsSuccess() && id != "":
	case resp.StatusCode() == http.StatusNotFound || apiErr.ErrorCode == "RESOURCE_DOES_NOT_EXIST":
		var created struct {
			ExperimentID string `json:"experiment_id"`
		}
		if err := t.post("/experiments/create", map[string]any{"name": name}, &created); err != nil {
			return "", fmt.Errorf("create experiment %s: %w", name, err)
		}
		id = created.ExperimentID
		slog.Info("mlflow experiment created", "experiment", name, "experiment_id", id)
	default:
		return "", fmt.Errorf("get experiment %s: status %d: %s", name, resp.StatusCode(), apiErr.Message)
	}

	t.experiments[name] = id
	return id, nil
}

func (t *MLflowTracker) post(path string, body, result any) error {
	var apiErr mlflowError
	req := t.client.R().SetBody(body).SetError(&apiErr)
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Post(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("status %d: %s %s", resp.StatusCode(), apiErr.ErrorCode, apiErr.Message)
	}
	return nil
}

func metric(key string, value float64, at time.Time) mlflowMetric {
	return mlflowMetric{Key: key, Value: value, Timestamp: at.UnixMilli()}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
