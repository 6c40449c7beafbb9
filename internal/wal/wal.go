// Package wal implements MyMQ's append-only write-ahead log: one JSON
// object per line, create-or-append semantics, appends serialized by an
// internal lock.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"mymq/internal/message"
)

// WAL appends messages to a single file as newline-terminated JSON.
type WAL struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
}

// New creates parent directories for path (if any) and returns a WAL
// writer. I/O errors here are returned: a broker that cannot even create
// its log directory at startup should fail loudly, unlike a single failed
// append later.
func New(path string, logger zerolog.Logger) (*WAL, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create wal directory: %w", err)
		}
	}
	return &WAL{
		path:   path,
		logger: logger.With().Str("component", "wal").Logger(),
	}, nil
}

// Append serializes msg to a single JSON line and appends it to the log
// file. I/O errors are logged but never propagated: the live admission path
// continues to rely on replication and the queue.
func (w *WAL) Append(msg message.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("wal open failed")
		return
	}
	defer f.Close()

	line, err := json.Marshal(msg)
	if err != nil {
		w.logger.Error().Err(err).Msg("wal marshal failed")
		return
	}
	line = append(line, '\n')

	if _, err := f.Write(line); err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("wal write failed")
	}
}

// ReplayFunc is invoked once per line-iterated WAL record during recovery.
type ReplayFunc func(message.Message) error

// Replay line-iterates the log file, re-injecting each record via fn (the
// broker wires this to EnqueueFromPeer). A missing file is treated as an
// empty log, not an error: a node's first run has nothing to recover.
func (w *WAL) Replay(fn ReplayFunc) (int, error) {
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open wal for replay: %w", err)
	}
	defer f.Close()

	count := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg message.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			w.logger.Warn().Err(err).Msg("skipping corrupt wal line")
			continue
		}
		if err := fn(msg); err != nil {
			return count, fmt.Errorf("replay record %d: %w", count, err)
		}
		count++
	}
	if err := sc.Err(); err != nil {
		return count, fmt.Errorf("scan wal: %w", err)
	}
	return count, nil
}
