// Package replication fans a message out to peer MyMQ nodes and counts
// acknowledgements toward a quorum.
package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"mymq/internal/message"
)

// Client issues one unary HTTP POST per peer per admitted message. Success
// is any 2xx response. Failures are logged at warning and never retried
// synchronously; the caller's acks simply don't increment.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
	peers      []string
	limiters   map[string]*rate.Limiter
}

// New builds a Client for the given peer URLs. timeout bounds every
// individual peer request (kept <= 1s to keep admission
// latency predictable); ratePerSec bounds how fast a single peer can be
// hammered, so a flapping/slow peer cannot make fan-out unbounded.
func New(peers []string, timeout time.Duration, ratePerSec int, logger zerolog.Logger) *Client {
	if timeout <= 0 || timeout > time.Second {
		timeout = 800 * time.Millisecond
	}
	if ratePerSec <= 0 {
		ratePerSec = 500
	}

	limiters := make(map[string]*rate.Limiter, len(peers))
	for _, p := range peers {
		limiters[p] = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "replication").Logger(),
		peers:      peers,
		limiters:   limiters,
	}
}

// PeerCount returns the number of configured peers.
func (c *Client) PeerCount() int {
	return len(c.peers)
}

// Replicate fans msg out to every peer and returns the total ack count,
// starting at 1 for self. It neither reorders
// nor batches: exactly one fan-out per call. Per-peer failures (including a
// rate-limited peer skipping its turn) are logged, never retried here.
func (c *Client) Replicate(ctx context.Context, msg message.Message) int {
	acks := 1
	if len(c.peers) == 0 {
		return acks
	}

	body, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Msg("marshal message for replication failed")
		return acks
	}

	type result struct{ ok bool }
	results := make(chan result, len(c.peers))

	for _, peer := range c.peers {
		peer := peer
		go func() {
			results <- result{ok: c.replicateOne(ctx, peer, body)}
		}()
	}

	for i := 0; i < len(c.peers); i++ {
		if (<-results).ok {
			acks++
		}
	}
	return acks
}

func (c *Client) replicateOne(ctx context.Context, peer string, body []byte) bool {
	if lim, ok := c.limiters[peer]; ok && !lim.Allow() {
		c.logger.Warn().Str("peer", peer).Msg("replication rate limit exceeded, skipping this round")
		return false
	}

	url := fmt.Sprintf("%s/_replicate", peer)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Warn().Str("peer", peer).Err(err).Msg("build replication request failed")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Str("peer", peer).Err(err).Msg("replication request failed")
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		c.logger.Warn().Str("peer", peer).Int("status", resp.StatusCode).Msg("replication peer returned non-2xx")
	}
	return ok
}
