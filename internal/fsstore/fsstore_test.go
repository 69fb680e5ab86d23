package fsstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type record struct {
	Kind string `json:"kind"`
	N    int    `json:"n"`
}

func TestJSONLAppendAndTail(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "dead_letters.jsonl")
	w, err := NewJSONLWriter(path, JSONLOptions{Lock: true})
	if err != nil {
		t.Fatalf("NewJSONLWriter() error = %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		if err := w.Append(context.Background(), record{Kind: "reply", N: i}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := ReadJSONLTail[record](path, 2)
	if err != nil {
		t.Fatalf("ReadJSONLTail() error = %v", err)
	}
	if len(got) != 2 || got[0].N != 3 || got[1].N != 4 {
		t.Fatalf("tail mismatch: %+v", got)
	}
	all, err := ReadJSONLTail[record](path, 0)
	if err != nil || len(all) != 5 {
		t.Fatalf("full read mismatch: %v %+v", err, all)
	}
	if _, err := os.Stat(LockPathFor(path)); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
}

func TestJSONLConcurrentAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "x.jsonl")
	w, err := NewJSONLWriter(path, JSONLOptions{})
	if err != nil {
		t.Fatalf("NewJSONLWriter() error = %v", err)
	}
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = w.Append(context.Background(), record{Kind: "k", N: i})
		}(i)
	}
	wg.Wait()
	got, err := ReadJSONLTail[record](path, 0)
	if err != nil {
		t.Fatalf("ReadJSONLTail() error = %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("record count mismatch: got %d want 20", len(got))
	}
}

func TestJSONLRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "dl.jsonl")
	w, err := NewJSONLWriter(path, JSONLOptions{RotateMaxBytes: 40})
	if err != nil {
		t.Fatalf("NewJSONLWriter() error = %v", err)
	}
	defer w.Close()
	w.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	for i := 0; i < 3; i++ {
		if err := w.Append(context.Background(), record{Kind: "group_notification", N: i}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	rotated := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "dl.jsonl.20260102T030405Z") {
			rotated++
		}
	}
	if rotated != 2 {
		t.Fatalf("rotated file count mismatch: got %d want 2 (%v)", rotated, entries)
	}
	got, err := ReadJSONLTail[record](path, 0)
	if err != nil || len(got) != 1 || got[0].N != 2 {
		t.Fatalf("current file mismatch: %v %+v", err, got)
	}
}

func TestReadJSONLTailMissingAndCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	got, err := ReadJSONLTail[record](filepath.Join(dir, "none.jsonl"), 10)
	if err != nil || got != nil {
		t.Fatalf("missing file mismatch: %v %+v", err, got)
	}
	bad := filepath.Join(dir, "bad.jsonl")
	if err := os.WriteFile(bad, []byte("{\"kind\":\"a\"}\nnot json\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := ReadJSONLTail[record](bad, 0); !errors.Is(err, ErrDecodeFailed) {
		t.Fatalf("corrupt read error mismatch: %v", err)
	}
}

func TestWithLockHonoursContext(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "locks", "dl.lck")
	called := false
	if err := WithLock(context.Background(), lockPath, func() error {
		called = true

		// The same lock is held; a second taker must give up when its context ends.
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
		defer cancel()
		err := WithLock(ctx, lockPath, func() error { return nil })
		if !errors.Is(err, ErrLockTimeout) {
			t.Errorf("nested WithLock() error = %v, want ErrLockTimeout", err)
		}
		return nil
	}); err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}
	if !called {
		t.Fatalf("WithLock() did not run critical section")
	}
}
