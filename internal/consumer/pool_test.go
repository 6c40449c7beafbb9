package consumer

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mymq/internal/broker"
	"mymq/internal/idempotency"
	"mymq/internal/message"
	"mymq/internal/metrics"
	"mymq/internal/queue"
	"mymq/internal/replication"
	"mymq/internal/wal"
)

func newTestBroker(t *testing.T) (*broker.Broker, *idempotency.Store, *metrics.Engine) {
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
	return b, idem, engine
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPool_ProcessesAcceptedMessageSuccessfully(t *testing.T) {
	b, idem, engine := newTestBroker(t)
	var processed int32

	pool := New(b, idem, engine, func(message.Message) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, 2, 1, 1000, zerolog.Nop())
	pool.Start()
	defer pool.Stop()

	if b.Enqueue(context.Background(), message.Message{ID: "1", Payload: "x", Timestamp: time.Now().UnixMilli()}).Accepted {
		engine.IncUncommitted() // the producer's share of the uncommitted balance
	}

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&processed) == 1 })
	waitFor(t, time.Second, func() bool { return engine.Snapshot().SuccessCount == 1 })
	waitFor(t, time.Second, func() bool { return engine.Snapshot().UncommittedCount == 0 })
}

func TestPool_RecordsFailureWhenProcessErrors(t *testing.T) {
	b, idem, engine := newTestBroker(t)

	pool := New(b, idem, engine, func(message.Message) error {
		return errors.New("boom")
	}, 1, 1, 1000, zerolog.Nop())
	pool.Start()
	defer pool.Stop()

	if b.Enqueue(context.Background(), message.Message{ID: "1", Payload: "x", Timestamp: time.Now().UnixMilli()}).Accepted {
		engine.IncUncommitted() // the producer's share of the uncommitted balance
	}

	waitFor(t, time.Second, func() bool { return engine.Snapshot().FailCount == 1 })
	waitFor(t, time.Second, func() bool { return engine.Snapshot().UncommittedCount == 0 })
}

func TestPool_SafeProcessRecoversPanic(t *testing.T) {
	b, idem, engine := newTestBroker(t)

	pool := New(b, idem, engine, func(message.Message) error {
		panic("unexpected")
	}, 1, 1, 1000, zerolog.Nop())
	pool.Start()
	defer pool.Stop()

	b.Enqueue(context.Background(), message.Message{ID: "1", Payload: "x", Timestamp: time.Now().UnixMilli()})

	waitFor(t, time.Second, func() bool { return engine.Snapshot().FailCount == 1 })
}

func TestPool_DetectsOrderViolation(t *testing.T) {
	b, idem, engine := newTestBroker(t)

	pool := New(b, idem, engine, func(message.Message) error { return nil }, 1, 1, 1000, zerolog.Nop())
	pool.Start()
	defer pool.Stop()

	now := time.Now().UnixMilli()
	ctx := context.Background()
	b.Enqueue(ctx, message.Message{ID: "1", Payload: "x", Timestamp: now, Key: "k", Sequence: 2})
	waitFor(t, time.Second, func() bool { return engine.Snapshot().SuccessCount == 1 })

	b.Enqueue(ctx, message.Message{ID: "2", Payload: "y", Timestamp: now, Key: "k", Sequence: 1})
	waitFor(t, time.Second, func() bool { return engine.Snapshot().OrderViolationCount == 1 })
}

func TestPool_DedupeWindowSuppressesRepeatID(t *testing.T) {
	b, idem, engine := newTestBroker(t)

	pool := New(b, idem, engine, func(message.Message) error { return nil }, 1, 1, 1000, zerolog.Nop())

	if pool.isDuplicate("x") {
		t.Fatal("first sight should not be a duplicate")
	}
	if !pool.isDuplicate("x") {
		t.Fatal("second sight should be a duplicate")
	}
}

func TestPool_DedupeWindowEvictsOldestBeyondCapacity(t *testing.T) {
	b, idem, engine := newTestBroker(t)
	pool := New(b, idem, engine, func(message.Message) error { return nil }, 1, 1, 2, zerolog.Nop())

	pool.isDuplicate("a")
	pool.isDuplicate("b")
	pool.isDuplicate("c") // evicts "a"

	if pool.isDuplicate("a") {
		t.Fatal("a should have been evicted and treated as fresh")
	}
}

func TestPool_StopJoinsWorkersWithinBound(t *testing.T) {
	b, idem, engine := newTestBroker(t)
	pool := New(b, idem, engine, func(message.Message) error { return nil }, 3, 1, 1000, zerolog.Nop())
	pool.Start()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("Stop did not return within its bounded timeout")
	}
}
