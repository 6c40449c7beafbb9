package queue

import (
	"mymq/internal/message"
	"mymq/internal/metrics"
)

// DLQ is the overflow sink for rejected or undeliverable messages. It has
// the same shape as the main Queue, plus one accounting rule: a full DLQ
// is a failure, not a DLQ event, so that the DLQ counter never exceeds
// its capacity.
type DLQ struct {
	q      *Queue
	engine *metrics.Engine
}

// NewDLQ creates a DLQ with the given capacity.
func NewDLQ(capacity int, engine *metrics.Engine) *DLQ {
	return &DLQ{q: New(capacity), engine: engine}
}

// Add routes msg to the DLQ. If the DLQ itself is full, the message is
// dropped and counted as a processing failure instead of a DLQ event.
func (d *DLQ) Add(msg message.Message) {
	if d.q.Offer(msg) {
		d.engine.RecordDlq()
		return
	}
	d.engine.RecordFailure()
}

// Len and Cap delegate to the underlying queue, for operators who want to
// inspect the dead-letter sink's current occupancy.
func (d *DLQ) Len() int { return d.q.Len() }
func (d *DLQ) Cap() int { return d.q.Cap() }
