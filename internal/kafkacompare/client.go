// Package kafkacompare is the external log-broker arm of the A/B
// comparison. It is explicitly out of scope beyond its
// contract: publish N messages, report the same metrics DTO shape MyMQ
// reports, so the dashboard can put both side by side.
package kafkacompare

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"mymq/internal/metrics"
)

// Client wraps a minimal franz-go producer+consumer pair against a single
// topic, reusing MyMQ's own metrics.Engine to compute the same percentile
// and counter shape for comparison.
type Client struct {
	logger zerolog.Logger
	topic  string
	engine *metrics.Engine

	producer *kgo.Client
	consumer *kgo.Client
}

// New connects a producer and a consumer client to brokers. A nil Client
// with no error is returned when brokers is empty: Kafka comparison is
// optional, and the dashboard must still render a zero-valued arm.
func New(brokers []string, topic string, ringCap int, logger zerolog.Logger) (*Client, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	log := logger.With().Str("component", "kafkacompare").Logger()

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer client: %w", err)
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup("mymq-compare"),
	)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("kafka consumer client: %w", err)
	}

	c := &Client{
		logger:   log,
		topic:    topic,
		engine:   metrics.NewEngine(ringCap, log),
		producer: producer,
		consumer: consumer,
	}
	go c.consumeLoop()
	return c, nil
}

// Send publishes n messages carrying their own send timestamp, so the
// consume loop can compute end-to-end latency symmetrically with MyMQ.
func (c *Client) Send(ctx context.Context, n int) int {
	if c == nil {
		return 0
	}
	sent := 0
	for i := 0; i < n; i++ {
		payload := fmt.Sprintf("%d", time.Now().UnixMilli())
		record := &kgo.Record{Topic: c.topic, Value: []byte(payload)}
		c.producer.Produce(ctx, record, func(_ *kgo.Record, err error) {
			if err != nil {
				c.engine.RecordFailure()
				c.logger.Warn().Err(err).Msg("kafka produce failed")
			}
		})
		sent++
	}
	return sent
}

func (c *Client) consumeLoop() {
	ctx := context.Background()
	for {
		fetches := c.consumer.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}
		fetches.EachError(func(_ string, _ int32, err error) {
			c.logger.Warn().Err(err).Msg("kafka fetch error")
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			sentMs, err := parseMillis(rec.Value)
			if err != nil {
				c.engine.RecordFailure()
				return
			}
			latency := time.Now().UnixMilli() - sentMs
			if latency < 0 {
				latency = 0
			}
			c.engine.RecordSuccess(uint64(latency))
		})
	}
}

func parseMillis(b []byte) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(string(b), "%d", &v)
	return v, err
}

// Snapshot returns the cumulative metrics DTO for the Kafka arm. A nil
// Client (Kafka comparison disabled) returns a zero-valued snapshot.
func (c *Client) Snapshot() metrics.Snapshot {
	if c == nil {
		return metrics.Snapshot{}
	}
	return c.engine.Snapshot()
}

// WindowSnapshot mirrors Snapshot over a trailing window.
func (c *Client) WindowSnapshot(windowMs int64) metrics.Snapshot {
	if c == nil {
		return metrics.Snapshot{}
	}
	return c.engine.WindowSnapshot(windowMs)
}

// Close releases both underlying franz-go clients.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.producer.Close()
	c.consumer.Close()
}
