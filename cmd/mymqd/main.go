// Command mymqd bootstraps a MyMQ broker node: load config, build the
// logger, wire every component, replay the WAL, serve HTTP, and shut down
// gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"mymq/internal/broker"
	"mymq/internal/config"
	"mymq/internal/consumer"
	"mymq/internal/httpapi"
	"mymq/internal/idempotency"
	"mymq/internal/kafkacompare"
	"mymq/internal/logging"
	"mymq/internal/message"
	"mymq/internal/metrics"
	"mymq/internal/producer"
	"mymq/internal/queue"
	"mymq/internal/replication"
	"mymq/internal/sysinfo"
	"mymq/internal/wal"
)

func main() {
	bootstrapLogger := logging.New("info", "console")

	cfg, err := config.Load(&bootstrapLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("node", cfg.NodeID).Logger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("mymqd exited with error")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	engine := metrics.NewEngine(cfg.LatencyBufSize, logger)
	promExporter := metrics.NewPromExporter(engine, "mymq")
	idemStore := idempotency.NewStore(cfg.IdempotencyPermanent)

	walWriter, err := wal.New(cfg.WALPath, logger)
	if err != nil {
		return fmt.Errorf("init wal: %w", err)
	}

	replClient := replication.New(
		cfg.PeerList(),
		time.Duration(cfg.ReplicationTimeoutMs)*time.Millisecond,
		cfg.ReplicationRatePerSec,
		logger,
	)

	mainQueue := queue.New(cfg.QueueSize)
	dlq := queue.NewDLQ(cfg.DLQSize, engine)

	b := broker.New(idemStore, walWriter, replClient, mainQueue, dlq, engine, cfg.Quorum, logger)

	recoveryStart := time.Now()
	recovered, err := walWriter.Replay(func(msg message.Message) error {
		outcome := b.EnqueueFromPeer(msg)
		if outcome.Accepted {
			engine.RecordRecoveryMessage()
		}
		return nil
	})
	engine.RecordRecoveryTime(uint64(time.Since(recoveryStart).Milliseconds()))
	if err != nil {
		logger.Warn().Err(err).Msg("wal replay incomplete")
	}
	if recovered > 0 {
		logger.Info().Int("recovered", recovered).Msg("replayed messages from wal")
	}

	prod := producer.New(b, engine, 16, logger)

	pool := consumer.New(b, idemStore, engine, defaultProcess, cfg.NumConsumers, cfg.PollIntervalMs, cfg.DedupeWindowSize, logger)
	pool.Start()
	defer pool.Stop()

	var kafkaClient *kafkacompare.Client
	if cfg.KafkaBrokers != "" {
		brokers := splitCSV(cfg.KafkaBrokers)
		kafkaClient, err = kafkacompare.New(brokers, cfg.KafkaTopic, cfg.LatencyBufSize, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("kafka comparison client disabled")
		}
	}
	defer kafkaClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sampler := sysinfo.NewSampler(15*time.Second, logger)
	sampler.Start(ctx)

	server := httpapi.New(
		cfg.HTTPAddr, b, prod, pool, engine, idemStore, kafkaClient, promExporter, sampler,
		int64(cfg.WindowMs), logger,
	)

	return server.Start(ctx)
}

// defaultProcess is MyMQ's built-in no-op processing step: every admitted
// message is considered successfully handled. Real deployments supply
// their own ProcessFunc; this keeps the reference binary self-contained.
func defaultProcess(message.Message) error {
	return nil
}

func splitCSV(s string) []string {
	out := make([]string, 0, 4)
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
