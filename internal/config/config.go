// Package config loads MyMQ's runtime configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all runtime configuration for a MyMQ node.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// custom-mq.*
	QueueSize      int    `env:"MYMQ_QUEUE_SIZE" envDefault:"10000"`
	DLQSize        int    `env:"MYMQ_DLQ_SIZE" envDefault:"1000"`
	PollIntervalMs int    `env:"MYMQ_POLL_INTERVAL_MS" envDefault:"100"`
	WALPath        string `env:"MYMQ_WAL_PATH" envDefault:"./mymq-wal.log"`
	NumConsumers   int    `env:"MYMQ_NUM_CONSUMERS" envDefault:"1"`

	// cluster.*
	NodeID string `env:"MYMQ_NODE_ID" envDefault:""`
	Peers  string `env:"MYMQ_PEERS" envDefault:""`
	Quorum int    `env:"MYMQ_QUORUM" envDefault:"1"`

	// idempotency mode
	IdempotencyPermanent bool `env:"MYMQ_IDEMPOTENCY_PERMANENT" envDefault:"false"`

	// dedupe / latency window sizing
	DedupeWindowSize int `env:"MYMQ_DEDUPE_WINDOW_SIZE" envDefault:"100000"`
	LatencyBufSize   int `env:"MYMQ_LATENCY_BUF_SIZE" envDefault:"10000"`
	WindowMs         int `env:"MYMQ_WINDOW_MS" envDefault:"60000"`

	// replication transport
	ReplicationTimeoutMs  int `env:"MYMQ_REPLICATION_TIMEOUT_MS" envDefault:"800"`
	ReplicationRatePerSec int `env:"MYMQ_REPLICATION_RATE_PER_SEC" envDefault:"500"`

	// HTTP surface
	HTTPAddr string `env:"MYMQ_HTTP_ADDR" envDefault:":8090"`

	// external log-broker comparison (out of scope collaborator)
	KafkaBrokers string `env:"MYMQ_KAFKA_BROKERS" envDefault:""`
	KafkaTopic   string `env:"MYMQ_KAFKA_TOPIC" envDefault:"mymq-compare"`

	// logging
	LogLevel  string `env:"MYMQ_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"MYMQ_LOG_FORMAT" envDefault:"json"`
}

// PeerList splits the comma-separated Peers field into trimmed URLs.
func (c Config) PeerList() []string {
	if c.Peers == "" {
		return nil
	}
	out := make([]string, 0, 4)
	for _, p := range strings.Split(c.Peers, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate clamps values the rest of the broker relies on being sane,
// mirroring the coercion rules used throughout MyMQ's HTTP layer.
func (c *Config) Validate() error {
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
	if c.DLQSize <= 0 {
		c.DLQSize = 1000
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = 100
	}
	if c.NumConsumers <= 0 {
		c.NumConsumers = 1
	}
	if c.Quorum <= 0 {
		c.Quorum = 1
	}
	if c.DedupeWindowSize <= 0 {
		c.DedupeWindowSize = 100000
	}
	if c.LatencyBufSize <= 0 {
		c.LatencyBufSize = 10000
	}
	if c.WindowMs <= 0 {
		c.WindowMs = 60000
	}
	if c.ReplicationTimeoutMs <= 0 || c.ReplicationTimeoutMs > 1000 {
		c.ReplicationTimeoutMs = 800
	}
	if c.ReplicationRatePerSec <= 0 {
		c.ReplicationRatePerSec = 500
	}
	if c.WALPath == "" {
		c.WALPath = "./mymq-wal.log"
	}
	if c.NodeID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "mymq-node"
		}
		c.NodeID = host
	}
	return nil
}

// Load reads configuration from an optional .env file and the environment.
// A missing .env file is not an error: production deployments rely on real
// environment variables, the file is a local-development convenience only.
func Load(logger *zerolog.Logger) (Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
