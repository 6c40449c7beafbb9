// Package message defines the wire record exchanged between producers,
// the broker, and consumers.
package message

// Message is an immutable record admitted by the broker.
//
// Key and Sequence are optional: a message published without a key has no
// per-key ordering guarantee and is never checked for order violations.
type Message struct {
	ID        string `json:"id"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
	Key       string `json:"key,omitempty"`
	Sequence  uint64 `json:"sequence,omitempty"`
}

// HasKey reports whether the message participates in per-key ordering.
func (m Message) HasKey() bool {
	return m.Key != ""
}
