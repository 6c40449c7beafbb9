// Package producer assigns message identity and forwards publishes to the
// broker.
package producer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog"

	"mymq/internal/broker"
	"mymq/internal/message"
	"mymq/internal/metrics"
)

// ErrEmptyPayload is returned when Publish is called with an empty payload.
var ErrEmptyPayload = errors.New("producer: empty payload")

const defaultKey = "key-default"

// Producer assigns IDs, per-key sequence numbers, and timestamps, then
// forwards to the Broker.
type Producer struct {
	logger     zerolog.Logger
	broker     *broker.Broker
	engine     *metrics.Engine
	keyBuckets int

	seqMu sync.Mutex
	seqs  map[string]uint64
}

// New builds a Producer. keyBuckets controls the default hashed-key
// sharding used when the caller asks for a bucketed key rather than a
// literal one ("key-" + hash(payload) mod 16).
func New(b *broker.Broker, engine *metrics.Engine, keyBuckets int, logger zerolog.Logger) *Producer {
	if keyBuckets <= 0 {
		keyBuckets = 16
	}
	return &Producer{
		logger:     logger.With().Str("component", "producer").Logger(),
		broker:     b,
		engine:     engine,
		keyBuckets: keyBuckets,
		seqs:       make(map[string]uint64),
	}
}

// Publish admits a new message. An empty key defaults to "key-default"
// unless useHashedKey is true, in which case it defaults to
// "key-" + (hash(payload) mod keyBuckets). keyBuckets <= 0
// falls back to the Producer's configured default bucket count.
func (p *Producer) Publish(ctx context.Context, key, payload string, useHashedKey bool, keyBuckets int) (broker.Outcome, error) {
	if payload == "" {
		return broker.Outcome{}, ErrEmptyPayload
	}
	if keyBuckets <= 0 {
		keyBuckets = p.keyBuckets
	}

	if key == "" {
		if useHashedKey {
			key = p.hashedKey(payload, keyBuckets)
		} else {
			key = defaultKey
		}
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		p.logger.Error().Err(err).Msg("uuid generation failed")
		p.engine.RecordFailure()
		return broker.Outcome{}, fmt.Errorf("generate message id: %w", err)
	}

	msg := message.Message{
		ID:        id,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		Key:       key,
		Sequence:  p.nextSeqForKey(key),
	}

	outcome := p.broker.Enqueue(ctx, msg)
	if outcome.Accepted {
		p.engine.IncUncommitted()
	}
	return outcome, nil
}

// nextSeqForKey returns a strictly increasing per-key sequence, never
// shrunk during a run.
func (p *Producer) nextSeqForKey(key string) uint64 {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()

	p.seqs[key]++
	return p.seqs[key]
}

func (p *Producer) hashedKey(payload string, keyBuckets int) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(payload))
	bucket := int(h.Sum32()) % keyBuckets
	if bucket < 0 {
		bucket += keyBuckets
	}
	return fmt.Sprintf("key-%d", bucket)
}

// ResetSequences clears the per-key sequence map, part of scope=all reset.
func (p *Producer) ResetSequences() {
	p.seqMu.Lock()
	p.seqs = make(map[string]uint64)
	p.seqMu.Unlock()
}
