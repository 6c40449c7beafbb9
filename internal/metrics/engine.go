// Package metrics implements MyMQ's counters, latency ring, and windowed
// deque, and the nearest-rank percentile estimator used to compare MyMQ
// against the external Kafka arm.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot is the DTO returned by Engine.Snapshot and Engine.WindowSnapshot.
type Snapshot struct {
	TotalMessages      uint64  `json:"totalMessages"`
	SuccessCount       uint64  `json:"successCount"`
	FailCount          uint64  `json:"failCount"`
	AvgLatencyMs       float64 `json:"avgLatencyMs"`
	P95LatencyMs       float64 `json:"p95LatencyMs"`
	P99LatencyMs       float64 `json:"p99LatencyMs"`
	DuplicateCount     uint64  `json:"duplicateCount"`
	OrderViolationCount uint64 `json:"orderViolationCount"`
	UncommittedCount   int64   `json:"uncommittedCount"`
	DlqCount           uint64  `json:"dlqCount"`
	RecoveryTimeMs     uint64  `json:"recoveryTimeMs"`
	RecoveredMessages  uint64  `json:"recoveredMessages"`
}

type sample struct {
	eventTs time.Time
	latency uint64
}

// Engine is MyMQ's thread-safe metrics collector. Counters are lock-free
// atomics; the cumulative ring writes behind an atomic monotonically
// increasing index so writers never block each other; the windowed deque is
// guarded by a single mutex.
type Engine struct {
	logger zerolog.Logger

	total          uint64
	success        uint64
	fail           uint64
	duplicate      uint64
	orderViolation uint64
	uncommitted    int64
	dlq            uint64
	recoveryTimeMs uint64
	recoveredMsgs  uint64

	totalLatencyMicros uint64 // accumulated microseconds, for avg without float races
	samples            uint64

	ringCap uint64
	ring    []uint64 // latency millis, fixed capacity
	ringIdx uint64   // monotonically increasing write cursor

	windowMu sync.Mutex
	window   []sample
}

// NewEngine builds an Engine with the given cumulative ring capacity
// (LAT_BUF_SIZE, default 10000).
func NewEngine(ringCap int, logger zerolog.Logger) *Engine {
	if ringCap <= 0 {
		ringCap = 10000
	}
	return &Engine{
		logger:  logger.With().Str("component", "metrics").Logger(),
		ringCap: uint64(ringCap),
		ring:    make([]uint64, ringCap),
		window:  make([]sample, 0, 1024),
	}
}

// RecordSuccess accounts a successfully processed message with the given
// end-to-end latency in milliseconds.
func (e *Engine) RecordSuccess(latencyMs uint64) {
	atomic.AddUint64(&e.total, 1)
	atomic.AddUint64(&e.success, 1)
	atomic.AddUint64(&e.totalLatencyMicros, latencyMs*1000)
	atomic.AddUint64(&e.samples, 1)

	idx := atomic.AddUint64(&e.ringIdx, 1) - 1
	e.ring[idx%e.ringCap] = latencyMs

	now := time.Now()
	e.windowMu.Lock()
	e.window = append(e.window, sample{eventTs: now, latency: latencyMs})
	e.windowMu.Unlock()
}

// RecordFailure accounts a message that could not be processed or admitted.
func (e *Engine) RecordFailure() {
	atomic.AddUint64(&e.total, 1)
	atomic.AddUint64(&e.fail, 1)
}

// RecordDuplicate accounts an admission-time or post-admission duplicate.
func (e *Engine) RecordDuplicate() {
	atomic.AddUint64(&e.duplicate, 1)
}

// RecordOrderViolation accounts an out-of-order observation for a key.
func (e *Engine) RecordOrderViolation() {
	atomic.AddUint64(&e.orderViolation, 1)
}

// RecordDlq accounts a message routed to the dead-letter queue.
func (e *Engine) RecordDlq() {
	atomic.AddUint64(&e.dlq, 1)
}

// IncUncommitted marks one more admitted-but-not-yet-released message.
func (e *Engine) IncUncommitted() {
	atomic.AddInt64(&e.uncommitted, 1)
}

// DecUncommitted releases one admitted message. A result below zero
// indicates an upstream balance bug; this is logged as a
// warning, never a panic.
func (e *Engine) DecUncommitted() {
	v := atomic.AddInt64(&e.uncommitted, -1)
	if v < 0 {
		e.logger.Warn().Int64("uncommitted", v).Msg("uncommitted counter went negative")
	}
}

// RecordRecoveryTime records how long WAL-based recovery took, in
// milliseconds. Recovery replay itself is outside this package's scope
// this method only accounts the duration a caller measured.
func (e *Engine) RecordRecoveryTime(ms uint64) {
	atomic.StoreUint64(&e.recoveryTimeMs, ms)
}

// RecordRecoveryMessage accounts one message re-injected during recovery.
func (e *Engine) RecordRecoveryMessage() {
	atomic.AddUint64(&e.recoveredMsgs, 1)
}

// Snapshot returns a fully populated cumulative DTO computed over the ring.
func (e *Engine) Snapshot() Snapshot {
	n := atomic.LoadUint64(&e.ringIdx)
	if n > e.ringCap {
		n = e.ringCap
	}
	values := make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		values[i] = e.ring[i]
	}
	p95, p99 := percentiles(values)

	samples := atomic.LoadUint64(&e.samples)
	var avg float64
	if samples > 0 {
		avg = float64(atomic.LoadUint64(&e.totalLatencyMicros)) / float64(samples) / 1000.0
	}

	return Snapshot{
		TotalMessages:       atomic.LoadUint64(&e.total),
		SuccessCount:        atomic.LoadUint64(&e.success),
		FailCount:           atomic.LoadUint64(&e.fail),
		AvgLatencyMs:        avg,
		P95LatencyMs:        p95,
		P99LatencyMs:        p99,
		DuplicateCount:      atomic.LoadUint64(&e.duplicate),
		OrderViolationCount: atomic.LoadUint64(&e.orderViolation),
		UncommittedCount:    atomic.LoadInt64(&e.uncommitted),
		DlqCount:            atomic.LoadUint64(&e.dlq),
		RecoveryTimeMs:      atomic.LoadUint64(&e.recoveryTimeMs),
		RecoveredMessages:   atomic.LoadUint64(&e.recoveredMsgs),
	}
}

// WindowSnapshot computes a DTO from samples observed within the last
// windowMs milliseconds, pruning older entries as a side effect. Counters
// other than the latency fields are reported cumulatively, matching the
// rest of the pack's "windowed view over live counters" convention.
func (e *Engine) WindowSnapshot(windowMs int64) Snapshot {
	if windowMs < 1 {
		windowMs = 1
	}
	cutoff := time.Now().Add(-time.Duration(windowMs) * time.Millisecond)

	e.windowMu.Lock()
	keep := e.window[:0:0]
	for _, s := range e.window {
		if !s.eventTs.Before(cutoff) {
			keep = append(keep, s)
		}
	}
	e.window = keep
	values := make([]uint64, len(keep))
	var sum float64
	for i, s := range keep {
		values[i] = s.latency
		sum += float64(s.latency)
	}
	e.windowMu.Unlock()

	p95, p99 := percentiles(values)
	var avg float64
	if len(values) > 0 {
		avg = sum / float64(len(values))
	}

	snap := e.Snapshot()
	snap.AvgLatencyMs = avg
	snap.P95LatencyMs = p95
	snap.P99LatencyMs = p99
	return snap
}

// percentiles implements the nearest-rank estimator:
// sort ascending, take index max(0, floor(n*q)-1) for q in {0.95, 0.99}.
func percentiles(values []uint64) (p95, p99 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}
	sorted := make([]uint64, n)
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return float64(sorted[rankIndex(n, 0.95)]), float64(sorted[rankIndex(n, 0.99)])
}

func rankIndex(n int, q float64) int {
	idx := int(math.Floor(float64(n)*q)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// ResetAll zeros every counter, the ring, and the windowed deque. Callers
// own clearing the idempotency store and dedupe window / per-key maps
// that live in other components.
func (e *Engine) ResetAll() {
	atomic.StoreUint64(&e.total, 0)
	atomic.StoreUint64(&e.success, 0)
	atomic.StoreUint64(&e.fail, 0)
	atomic.StoreUint64(&e.duplicate, 0)
	atomic.StoreUint64(&e.orderViolation, 0)
	atomic.StoreInt64(&e.uncommitted, 0)
	atomic.StoreUint64(&e.dlq, 0)
	atomic.StoreUint64(&e.recoveryTimeMs, 0)
	atomic.StoreUint64(&e.recoveredMsgs, 0)
	e.ResetLatencyWindow()
}

// ResetLatencyWindow clears the latency ring, window, and average only.
func (e *Engine) ResetLatencyWindow() {
	atomic.StoreUint64(&e.totalLatencyMicros, 0)
	atomic.StoreUint64(&e.samples, 0)
	atomic.StoreUint64(&e.ringIdx, 0)
	for i := range e.ring {
		e.ring[i] = 0
	}
	e.windowMu.Lock()
	e.window = e.window[:0]
	e.windowMu.Unlock()
}
