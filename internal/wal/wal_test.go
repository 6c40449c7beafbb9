package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"mymq/internal/message"
)

func TestWAL_AppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "wal.log")

	w, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	msgs := []message.Message{
		{ID: "1", Payload: "a", Timestamp: 100},
		{ID: "2", Payload: "b", Timestamp: 200, Key: "k", Sequence: 1},
	}
	for _, m := range msgs {
		w.Append(m)
	}

	var replayed []message.Message
	count, err := w.Replay(func(m message.Message) error {
		replayed = append(replayed, m)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != len(msgs) {
		t.Fatalf("count = %d, want %d", count, len(msgs))
	}
	if len(replayed) != len(msgs) || replayed[0].ID != "1" || replayed[1].ID != "2" {
		t.Fatalf("unexpected replay order: %+v", replayed)
	}
}

func TestWAL_ReplayMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	w, err := New(filepath.Join(dir, "absent.log"), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	count, err := w.Replay(func(message.Message) error { return nil })
	if err != nil {
		t.Fatalf("Replay on missing file should not error, got %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
}

func TestWAL_ReplaySkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Append(message.Message{ID: "ok", Payload: "a"})

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	if _, err := f.WriteString("not json\n"); err != nil {
		t.Fatalf("write corrupt line: %v", err)
	}
	f.Close()

	var replayed []message.Message
	count, err := w.Replay(func(m message.Message) error {
		replayed = append(replayed, m)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 1 || len(replayed) != 1 || replayed[0].ID != "ok" {
		t.Fatalf("expected the corrupt line to be skipped, got count=%d replayed=%+v", count, replayed)
	}
}
