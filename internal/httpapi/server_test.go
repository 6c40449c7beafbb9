package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mymq/internal/broker"
	"mymq/internal/consumer"
	"mymq/internal/idempotency"
	"mymq/internal/message"
	"mymq/internal/metrics"
	"mymq/internal/producer"
	"mymq/internal/queue"
	"mymq/internal/replication"
	"mymq/internal/wal"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zerolog.Nop()
	engine := metrics.NewEngine(100, logger)
	idem := idempotency.NewStore(false)

	w, err := wal.New(filepath.Join(t.TempDir(), "wal.log"), logger)
	if err != nil {
		t.Fatalf("wal.New: %v", err)
	}
	repl := replication.New(nil, 0, 0, logger)
	mainQueue := queue.New(100)
	dlq := queue.NewDLQ(100, engine)

	b := broker.New(idem, w, repl, mainQueue, dlq, engine, 1, logger)
	prod := producer.New(b, engine, 16, logger)
	pool := consumer.New(b, idem, engine, func(message.Message) error { return nil }, 1, 1, 1000, logger)
	pool.Start()
	t.Cleanup(pool.Stop)

	return New("", b, prod, pool, engine, idem, nil, nil, nil, 60000, logger)
}

func TestServer_HealthzReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServer_MymqSendPublishesAndIsReflectedInMetrics(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/metrics/mymq/send?n=3", nil)
	rec := httptest.NewRecorder()

	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if sent, ok := body["sent"].(float64); !ok || sent != 3 {
		t.Fatalf("sent = %v, want 3", body["sent"])
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.engine.Snapshot().SuccessCount == 3 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected 3 successes eventually, got %+v", s.engine.Snapshot())
}

func TestServer_ReplicateIngressAcceptsValidMessage(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(message.Message{ID: "1", Payload: "x", Timestamp: time.Now().UnixMilli()})
	req := httptest.NewRequest(http.MethodPost, "/_replicate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestServer_ResetClearsCounters(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/metrics/mymq/send?n=1", nil)
	s.mux.ServeHTTP(httptest.NewRecorder(), req)

	resetReq := httptest.NewRequest(http.MethodPost, "/metrics/reset", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, resetReq)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if s.engine.Snapshot().TotalMessages != 0 {
		t.Fatalf("expected counters cleared after reset, got %+v", s.engine.Snapshot())
	}
}
