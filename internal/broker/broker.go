// Package broker orchestrates admission, durability, replication, quorum,
// and queueing for MyMQ.
package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mymq/internal/idempotency"
	"mymq/internal/message"
	"mymq/internal/metrics"
	"mymq/internal/queue"
	"mymq/internal/replication"
	"mymq/internal/wal"
)

// Reason tags why a publish was rejected.
type Reason string

const (
	ReasonDuplicate Reason = "duplicate"
	ReasonQuorum    Reason = "quorum"
	ReasonFull      Reason = "full"
	ReasonError     Reason = "error"
)

// Outcome is the tagged result of an admission attempt, replacing
// exception-based control flow.
type Outcome struct {
	Accepted bool
	Reason   Reason
}

func accepted() Outcome         { return Outcome{Accepted: true} }
func rejected(r Reason) Outcome { return Outcome{Accepted: false, Reason: r} }

// Broker holds references to its collaborators only; nothing points back
// at the Broker.
type Broker struct {
	logger zerolog.Logger

	idempotency *idempotency.Store
	wal         *wal.WAL
	replication *replication.Client
	mainQueue   *queue.Queue
	dlq         *queue.DLQ
	metrics     *metrics.Engine

	quorum int
}

// New wires the broker's collaborators. quorum is clamped to
// [1, 1+peerCount] on every admission.
func New(
	idem *idempotency.Store,
	w *wal.WAL,
	repl *replication.Client,
	mainQueue *queue.Queue,
	dlq *queue.DLQ,
	engine *metrics.Engine,
	quorum int,
	logger zerolog.Logger,
) *Broker {
	return &Broker{
		logger:      logger.With().Str("component", "broker").Logger(),
		idempotency: idem,
		wal:         w,
		replication: repl,
		mainQueue:   mainQueue,
		dlq:         dlq,
		metrics:     engine,
		quorum:      quorum,
	}
}

// Enqueue runs the producer-side admission state machine:
// admit -> WAL -> replicate -> quorum -> offer. The caller (producer) is
// responsible for IncUncommitted on acceptance; Enqueue never double-counts.
func (b *Broker) Enqueue(ctx context.Context, msg message.Message) Outcome {
	if b.idempotency.AlreadyProcessed(msg.ID) {
		b.metrics.RecordDuplicate()
		return rejected(ReasonDuplicate)
	}

	b.wal.Append(msg)

	acks := b.replication.Replicate(ctx, msg)
	needed := clamp(b.quorum, 1, 1+b.replication.PeerCount())
	if acks < needed {
		b.dlq.Add(msg)
		return rejected(ReasonQuorum)
	}

	if !b.mainQueue.Offer(msg) {
		b.dlq.Add(msg)
		return rejected(ReasonFull)
	}
	return accepted()
}

// EnqueueFromPeer is the replica-ingress path: WAL then
// offer, skipping replication and quorum. On success it increments
// uncommitted itself, since peer-ingested work has no producer to do so.
func (b *Broker) EnqueueFromPeer(msg message.Message) Outcome {
	if b.idempotency.AlreadyProcessed(msg.ID) {
		b.metrics.RecordDuplicate()
		return rejected(ReasonDuplicate)
	}

	b.wal.Append(msg)

	if !b.mainQueue.Offer(msg) {
		b.dlq.Add(msg)
		return rejected(ReasonFull)
	}
	b.metrics.IncUncommitted()
	return accepted()
}

// Poll delegates to the main queue.
func (b *Broker) Poll(timeout time.Duration) (message.Message, bool) {
	return b.mainQueue.Poll(timeout)
}

// ResetAll clears the idempotency store. It does not drain the main queue
// or the DLQ. Counters, ring, and window live in the metrics Engine and are
// reset separately through Engine.ResetAll.
func (b *Broker) ResetAll() {
	b.idempotency.Clear()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
