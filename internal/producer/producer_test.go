package producer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"mymq/internal/broker"
	"mymq/internal/idempotency"
	"mymq/internal/metrics"
	"mymq/internal/queue"
	"mymq/internal/replication"
	"mymq/internal/wal"
)

func newTestProducer(t *testing.T) (*Producer, *broker.Broker, *metrics.Engine) {
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
	p := New(b, engine, 16, logger)
	return p, b, engine
}

func TestProducer_PublishRejectsEmptyPayload(t *testing.T) {
	p, _, _ := newTestProducer(t)

	_, err := p.Publish(context.Background(), "", "", false, 16)
	if err != ErrEmptyPayload {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestProducer_PublishDefaultsKeyWhenUnhashed(t *testing.T) {
	p, b, _ := newTestProducer(t)

	_, err := p.Publish(context.Background(), "", "hello", false, 16)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg, ok := b.Poll(0)
	if !ok {
		t.Fatal("expected a message on the queue")
	}
	if msg.Key != defaultKey {
		t.Fatalf("key = %q, want %q", msg.Key, defaultKey)
	}
}

func TestProducer_PublishHashesKeyWhenRequested(t *testing.T) {
	p, b, _ := newTestProducer(t)

	_, err := p.Publish(context.Background(), "", "hello", true, 16)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg, ok := b.Poll(0)
	if !ok {
		t.Fatal("expected a message on the queue")
	}
	if msg.Key == "" || msg.Key == defaultKey {
		t.Fatalf("expected a hashed key, got %q", msg.Key)
	}
}

func TestProducer_SequenceIncreasesPerKey(t *testing.T) {
	p, b, _ := newTestProducer(t)
	ctx := context.Background()

	p.Publish(ctx, "k1", "a", false, 16)
	p.Publish(ctx, "k1", "b", false, 16)
	p.Publish(ctx, "k2", "c", false, 16)

	first, _ := b.Poll(0)
	second, _ := b.Poll(0)
	third, _ := b.Poll(0)

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Fatalf("expected sequences 1, 2 for k1, got %d, %d", first.Sequence, second.Sequence)
	}
	if third.Sequence != 1 {
		t.Fatalf("expected sequence 1 for a fresh key k2, got %d", third.Sequence)
	}
}

func TestProducer_ResetSequencesRestartsCounting(t *testing.T) {
	p, b, _ := newTestProducer(t)
	ctx := context.Background()

	p.Publish(ctx, "k1", "a", false, 16)
	p.ResetSequences()
	p.Publish(ctx, "k1", "b", false, 16)

	b.Poll(0)
	second, _ := b.Poll(0)
	if second.Sequence != 1 {
		t.Fatalf("expected sequence to restart at 1 after ResetSequences, got %d", second.Sequence)
	}
}
