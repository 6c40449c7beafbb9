// Package httpapi is MyMQ's thin HTTP surface: it drives load and exposes
// metrics for the dashboard. It is an external collaborator
// by design — route wiring only, no business logic lives here.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"mymq/internal/broker"
	"mymq/internal/consumer"
	"mymq/internal/idempotency"
	"mymq/internal/kafkacompare"
	"mymq/internal/message"
	"mymq/internal/metrics"
	"mymq/internal/producer"
	"mymq/internal/sysinfo"
)

// Server wires the dashboard-facing routes to MyMQ's components.
type Server struct {
	logger zerolog.Logger
	addr   string
	mux    *http.ServeMux
	http   *http.Server

	broker      *broker.Broker
	producer    *producer.Producer
	pool        *consumer.Pool
	engine      *metrics.Engine
	idempotency *idempotency.Store
	kafka       *kafkacompare.Client
	prom        *metrics.PromExporter
	sysinfo     *sysinfo.Sampler

	defaultWindowMs int64
}

// New builds the Server. Nothing is started until Start is called.
func New(
	addr string,
	b *broker.Broker,
	p *producer.Producer,
	pool *consumer.Pool,
	engine *metrics.Engine,
	idem *idempotency.Store,
	kafka *kafkacompare.Client,
	prom *metrics.PromExporter,
	sampler *sysinfo.Sampler,
	defaultWindowMs int64,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		logger:          logger.With().Str("component", "httpapi").Logger(),
		addr:            addr,
		mux:             http.NewServeMux(),
		broker:          b,
		producer:        p,
		pool:            pool,
		engine:          engine,
		idempotency:     idem,
		kafka:           kafka,
		prom:            prom,
		sysinfo:         sampler,
		defaultWindowMs: defaultWindowMs,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/metrics", s.handleMetrics)
	s.mux.HandleFunc("/metrics/window", s.handleMetricsWindow)
	s.mux.HandleFunc("/metrics/mymq/send", s.handleMymqSend)
	s.mux.HandleFunc("/metrics/kafka/send", s.handleKafkaSend)
	s.mux.HandleFunc("/metrics/reset", s.handleReset)
	s.mux.HandleFunc("/_replicate", s.handleReplicate)
	if s.prom != nil {
		s.mux.Handle("/metrics/prom", s.prom.Handler())
	}
}

// Start begins serving HTTP in the background and blocks until ctx is
// cancelled, then shuts down gracefully with a bounded timeout.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("http server starting")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("http server shutdown error")
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mymq":             s.engine.Snapshot(),
		"kafka":            s.kafka.Snapshot(),
		"systemCPUPercent": s.sysinfo.CPUPercent(),
	})
}

func (s *Server) handleMetricsWindow(w http.ResponseWriter, r *http.Request) {
	windowMs := s.defaultWindowMs
	if v := r.URL.Query().Get("windowMs"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			windowMs = parsed
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mymq":  s.engine.WindowSnapshot(windowMs),
		"kafka": s.kafka.WindowSnapshot(windowMs),
	})
}

func (s *Server) handleMymqSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := queryInt(r, "n", 1)
	key := r.URL.Query().Get("key")
	keyBuckets := queryInt(r, "keyBuckets", 16)

	sent := 0
	for i := 0; i < n; i++ {
		if _, err := s.producer.Publish(r.Context(), key, samplePayload(i), key == "", keyBuckets); err == nil {
			sent++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sent":    sent,
		"target":  "mymq",
		"metrics": s.engine.Snapshot(),
	})
}

func (s *Server) handleKafkaSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := queryInt(r, "n", 1)
	sent := s.kafka.Send(r.Context(), n)

	writeJSON(w, http.StatusOK, map[string]any{
		"sent":    sent,
		"target":  "kafka",
		"metrics": s.kafka.Snapshot(),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scope := r.URL.Query().Get("scope")
	switch scope {
	case "latency":
		s.engine.ResetLatencyWindow()
	default:
		s.engine.ResetAll()
		s.idempotency.Clear()
		s.pool.ResetDedupeWindow()
		s.pool.ResetKeys()
		s.producer.ResetSequences()
	}
	writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "status": "reset"})
}

// handleReplicate is peer-to-peer ingress only; it must never trigger
// outbound replication itself, preventing a fan-out loop.
func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	var msg message.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		http.Error(w, "invalid message json", http.StatusBadRequest)
		return
	}

	outcome := s.broker.EnqueueFromPeer(msg)
	if !outcome.Accepted {
		http.Error(w, string(outcome.Reason), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func samplePayload(i int) string {
	return "payload-" + strconv.Itoa(i)
}
