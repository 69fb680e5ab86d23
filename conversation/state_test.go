package conversation

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestDefaultState(t *testing.T) {
	t.Parallel()

	s := DefaultState()
	if s.Intent() != IntentUnknown || s.Stage() != StageInitial || s.Awaiting() != "" || len(s.Flags()) != 0 {
		t.Fatalf("default state mismatch: %#v", s)
	}
	if _, ok := s[KeyAwaiting]; !ok {
		t.Fatalf("awaiting key should be present with nil value")
	}
}

func TestMergeIsShallow(t *testing.T) {
	t.Parallel()

	existing := State{"intent": "a", "stage": "b", "flags": []any{"x"}}
	merged := existing.Merge(map[string]any{"stage": "c"})
	want := State{"intent": "a", "stage": "c", "flags": []any{"x"}}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("merge mismatch: got %#v want %#v", merged, want)
	}
	if existing["stage"] != "b" {
		t.Fatalf("Merge() mutated receiver: %#v", existing)
	}

	replaced := merged.Merge(map[string]any{"flags": []any{"vip"}, "table": "window"})
	if got := replaced.Flags(); !reflect.DeepEqual(got, []string{"vip"}) {
		t.Fatalf("flags should be replaced, got %v", got)
	}
	if replaced["table"] != "window" {
		t.Fatalf("unknown keys should be merged: %#v", replaced)
	}
}

func TestSplitSummary(t *testing.T) {
	t.Parallel()

	rest, summary := SplitSummary(map[string]any{"stage": "confirming", "summary": " booking requested "})
	if summary != "booking requested" {
		t.Fatalf("summary mismatch: got %q", summary)
	}
	if _, ok := rest["summary"]; ok || rest["stage"] != "confirming" {
		t.Fatalf("rest mismatch: %#v", rest)
	}

	rest, summary = SplitSummary(map[string]any{"summary": ""})
	if summary != "" || len(rest) != 0 {
		t.Fatalf("empty summary mismatch: %q %#v", summary, rest)
	}
	if rest, summary = SplitSummary(nil); rest != nil || summary != "" {
		t.Fatalf("nil update mismatch")
	}
}

func TestGuardFilter(t *testing.T) {
	t.Parallel()

	g := DefaultGuard()
	current := State{KeyStage: StageConfirming}

	update, err := g.Filter(current, map[string]any{"stage": StageCompleted, "intent": "order"})
	if err != nil || update["stage"] != StageCompleted {
		t.Fatalf("allowed transition rejected: %v %#v", err, update)
	}

	update, err = g.Filter(current, map[string]any{"stage": StageInitial, "intent": "order"})
	if err == nil {
		t.Fatalf("Filter() expected rejection for confirming -> initial")
	}
	if _, ok := update["stage"]; ok || update["intent"] != "order" {
		t.Fatalf("filtered update mismatch: %#v", update)
	}

	if _, err := g.Filter(current, map[string]any{"stage": "bogus"}); err == nil {
		t.Fatalf("Filter() expected rejection for unknown stage")
	}

	var nilGuard *Guard
	if update, err := nilGuard.Filter(current, map[string]any{"stage": "bogus"}); err != nil || update["stage"] != "bogus" {
		t.Fatalf("nil guard should allow everything")
	}
}

func TestLockerSerializesPerKey(t *testing.T) {
	t.Parallel()

	l := NewLocker()
	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "client:1")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("max concurrent holders mismatch: got %d want 1", maxActive)
	}
	if l.size() != 0 {
		t.Fatalf("lock entries leaked: %d", l.size())
	}
}

func TestLockerHonorsContext(t *testing.T) {
	t.Parallel()

	l := NewLocker()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); err == nil {
		t.Fatalf("Lock() expected context error while held")
	}
	unlock()
	unlock()
	if l.size() != 0 {
		t.Fatalf("lock entries leaked: %d", l.size())
	}
	other, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	other()
}
