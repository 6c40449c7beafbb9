// Package consumer runs MyMQ's worker pool: poll, post-admission dedupe,
// per-key order check, process, and balanced uncommitted accounting
// for MyMQ.
package consumer

import (
	"container/list"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mymq/internal/broker"
	"mymq/internal/idempotency"
	"mymq/internal/message"
	"mymq/internal/metrics"
)

// ProcessFunc is the user extension point for message processing.
// Returning an error counts as a processing failure.
type ProcessFunc func(message.Message) error

// Pool runs N worker goroutines competitively polling a shared broker.
// Workers never share a poll cursor; they race for the same queue.
type Pool struct {
	logger zerolog.Logger

	broker      *broker.Broker
	idempotency *idempotency.Store
	engine      *metrics.Engine
	process     ProcessFunc

	numWorkers     int
	pollTimeout    time.Duration
	parkInterval   time.Duration
	dedupeCapacity int

	dedupeMu   sync.Mutex
	dedupeSet  map[string]*list.Element
	dedupeList *list.List

	orderMu      sync.Mutex
	lastSeqByKey map[string]uint64

	wg   sync.WaitGroup
	stop chan struct{}
}

// New builds a Pool. pollTimeout is the worker's fixed 50ms poll window;
// parkInterval is the pause between empty polls (>= 1ms).
func New(
	b *broker.Broker,
	idem *idempotency.Store,
	engine *metrics.Engine,
	process ProcessFunc,
	numWorkers int,
	parkIntervalMs int,
	dedupeCapacity int,
	logger zerolog.Logger,
) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if parkIntervalMs < 1 {
		parkIntervalMs = 1
	}
	if dedupeCapacity <= 0 {
		dedupeCapacity = 100000
	}

	return &Pool{
		logger:         logger.With().Str("component", "consumer").Logger(),
		broker:         b,
		idempotency:    idem,
		engine:         engine,
		process:        process,
		numWorkers:     numWorkers,
		pollTimeout:    50 * time.Millisecond,
		parkInterval:   time.Duration(parkIntervalMs) * time.Millisecond,
		dedupeCapacity: dedupeCapacity,
		dedupeSet:      make(map[string]*list.Element),
		dedupeList:     list.New(),
		lastSeqByKey:   make(map[string]uint64),
		stop:           make(chan struct{}),
	}
}

// Start launches the worker loops.
func (p *Pool) Start() {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
}

// Stop sets the running flag false and joins workers with a bounded
// timeout ("join with a bounded timeout (<= 5s); then
// drop outstanding work").
func (p *Pool) Stop() {
	close(p.stop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.logger.Warn().Msg("consumer pool shutdown timed out, dropping outstanding work")
	}
}

func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()
	log := p.logger.With().Int("worker", id).Logger()

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		msg, ok := p.broker.Poll(p.pollTimeout)
		if !ok {
			select {
			case <-time.After(p.parkInterval):
			case <-p.stop:
				return
			}
			continue
		}

		p.handle(msg, log)
	}
}

// handle runs the full per-message pipeline for a single polled message. A
// finally-equivalent defer guarantees DecUncommitted runs exactly once.
func (p *Pool) handle(msg message.Message, log zerolog.Logger) {
	now := time.Now().UnixMilli()
	latency := now - msg.Timestamp
	if latency < 0 {
		latency = 0
	}

	// DecUncommitted runs exactly once per polled message, regardless of
	// which branch below returns.
	defer p.engine.DecUncommitted()

	if p.isDuplicate(msg.ID) {
		p.engine.RecordDuplicate()
		return
	}

	if msg.HasKey() {
		p.checkOrder(msg.Key, msg.Sequence)
	}

	if err := p.safeProcess(msg); err != nil {
		log.Warn().Str("id", msg.ID).Err(err).Msg("message processing failed")
		p.engine.RecordFailure()
		return
	}

	p.engine.RecordSuccess(uint64(latency))
	p.idempotency.RemoveProcessed(msg.ID)
}

// safeProcess recovers a panicking ProcessFunc so an unexpected throwable
// in the worker loop never costs the worker itself ("loss
// of a worker is worse than a single bad message").
func (p *Pool) safeProcess(msg message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	if p.process == nil {
		return nil
	}
	return p.process(msg)
}

type panicError struct{ v any }

func (e panicError) Error() string { return "processing panic recovered" }

// isDuplicate implements the bounded FIFO+set dedupe window of capacity
// dedupeCapacity (DEDUPE_WINDOW_SIZE, default 100000). Evicts the oldest
// inserted ID once the set exceeds capacity.
func (p *Pool) isDuplicate(id string) bool {
	p.dedupeMu.Lock()
	defer p.dedupeMu.Unlock()

	if _, ok := p.dedupeSet[id]; ok {
		return true
	}

	elem := p.dedupeList.PushBack(id)
	p.dedupeSet[id] = elem

	if p.dedupeList.Len() > p.dedupeCapacity {
		oldest := p.dedupeList.Front()
		if oldest != nil {
			p.dedupeList.Remove(oldest)
			delete(p.dedupeSet, oldest.Value.(string))
		}
	}
	return false
}

// checkOrder flags an out-of-order delivery: if sequence <= previous max
// for the key, record an order violation; always advance the map to
// max(prev, sequence).
func (p *Pool) checkOrder(key string, seq uint64) {
	p.orderMu.Lock()
	defer p.orderMu.Unlock()

	prev, seen := p.lastSeqByKey[key]
	if seen && seq <= prev {
		p.engine.RecordOrderViolation()
	}
	if seq > prev {
		p.lastSeqByKey[key] = seq
	}
}

// ResetKeys clears the per-key last-seen map, part of scope=all reset.
func (p *Pool) ResetKeys() {
	p.orderMu.Lock()
	p.lastSeqByKey = make(map[string]uint64)
	p.orderMu.Unlock()
}

// ResetDedupeWindow clears the post-admission dedupe window, part of
// scope=all reset.
func (p *Pool) ResetDedupeWindow() {
	p.dedupeMu.Lock()
	p.dedupeSet = make(map[string]*list.Element)
	p.dedupeList = list.New()
	p.dedupeMu.Unlock()
}

