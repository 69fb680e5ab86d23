package delivery

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/quailyquaily/deskmate/db/models"
	"github.com/quailyquaily/deskmate/internal/bus"
	"github.com/quailyquaily/deskmate/internal/fsstore"
	"github.com/quailyquaily/deskmate/internal/metrics"
	"github.com/quailyquaily/deskmate/internal/retryutil"
)

type businesses map[uint]models.Business

func (b businesses) Business(ctx context.Context, id uint) (models.Business, bool, error) {
	v, ok := b[id]
	return v, ok, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

type memSink struct {
	mu      sync.Mutex
	entries []DeadLetter
}

func (s *memSink) Append(ctx context.Context, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, v.(DeadLetter))
	return nil
}

func telegramMsg() bus.OutboundMessage {
	return bus.OutboundMessage{Platform: bus.PlatformTelegram, RecipientID: "42", Content: "hi"}
}

func TestDeliverRetriesWithKindBackoff(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind Kind
		want time.Duration
	}{
		{KindReply, 10 * time.Second},
		{KindClientNotification, 10 * time.Second},
		{KindGroupNotification, 15 * time.Second},
	}
	for _, tc := range cases {
		var calls atomic.Int32
		sleeps := &sleepRecorder{}
		q, err := NewQueue(Options{
			Sender: SenderFunc(func(ctx context.Context, b models.Business, msg bus.OutboundMessage) error {
				if calls.Add(1) < 3 {
					return errors.New("503")
				}
				return nil
			}),
			Businesses: businesses{1: {ID: 1}},
			Sleep:      sleeps.Sleep,
		})
		if err != nil {
			t.Fatalf("NewQueue() error = %v", err)
		}
		delivered := false
		err = q.Deliver(context.Background(), Job{Kind: tc.kind, BusinessID: 1, Message: telegramMsg(), OnDelivered: func(context.Context) { delivered = true }})
		if err != nil {
			t.Fatalf("%s: Deliver() error = %v", tc.kind, err)
		}
		if calls.Load() != 3 || !delivered {
			t.Fatalf("%s: calls=%d delivered=%v", tc.kind, calls.Load(), delivered)
		}
		if len(sleeps.delays) != 2 || sleeps.delays[0] != tc.want || sleeps.delays[1] != tc.want {
			t.Fatalf("%s: backoff mismatch: %v", tc.kind, sleeps.delays)
		}
	}
}

func TestDeliverDeadLettersAfterThreeAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	sink := &memSink{}
	m := metrics.New()
	q, err := NewQueue(Options{
		Sender: SenderFunc(func(ctx context.Context, b models.Business, msg bus.OutboundMessage) error {
			calls.Add(1)
			return errors.New("timeout")
		}),
		Businesses:  businesses{1: {ID: 1}},
		DeadLetters: sink,
		Metrics:     m,
		Sleep:       (&sleepRecorder{}).Sleep,
		Now:         func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	delivered := false
	err = q.Deliver(context.Background(), Job{ID: "job-1", Kind: KindGroupNotification, BusinessID: 1, Message: telegramMsg(), OnDelivered: func(context.Context) { delivered = true }})
	var exhausted *retryutil.ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
		t.Fatalf("Deliver() error mismatch: %v", err)
	}
	if calls.Load() != 3 || delivered {
		t.Fatalf("calls=%d delivered=%v", calls.Load(), delivered)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("dead letters mismatch: %+v", sink.entries)
	}
	dl := sink.entries[0]
	if dl.ID != "job-1" || dl.Kind != "group_notification" || dl.Attempts != 3 || dl.Recipient != "42" || dl.Error == "" {
		t.Fatalf("dead letter mismatch: %+v", dl)
	}
	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("group_notification", "failed")); got != 1 {
		t.Fatalf("failed deliveries metric mismatch: %v", got)
	}
}

func TestDeliverPermanentErrorsSkipRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	sink := &memSink{}
	q, err := NewQueue(Options{
		Sender: Router{
			bus.PlatformTelegram: SenderFunc(func(ctx context.Context, b models.Business, msg bus.OutboundMessage) error {
				calls.Add(1)
				return retryutil.Permanent(errors.New("bot token missing"))
			}),
		},
		Businesses:  businesses{1: {ID: 1}},
		DeadLetters: sink,
		Sleep:       (&sleepRecorder{}).Sleep,
	})
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	if err := q.Deliver(context.Background(), Job{Kind: KindReply, BusinessID: 1, Message: telegramMsg()}); err == nil {
		t.Fatalf("Deliver() expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent error retried: calls=%d", calls.Load())
	}

	wa := bus.OutboundMessage{Platform: bus.PlatformWhatsApp, RecipientID: "+1555", Content: "x"}
	if err := q.Deliver(context.Background(), Job{Kind: KindReply, BusinessID: 1, Message: wa}); !retryutil.IsPermanent(err) {
		t.Fatalf("unrouted platform should fail permanently: %v", err)
	}
	if err := q.Deliver(context.Background(), Job{Kind: KindReply, BusinessID: 9, Message: telegramMsg()}); err == nil {
		t.Fatalf("missing business should fail")
	}
	if len(sink.entries) != 3 {
		t.Fatalf("dead letter count mismatch: got %d want 3", len(sink.entries))
	}
}

func TestQueueWorkersDeliverEnqueuedJobs(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var sent []string
	done := make(chan struct{}, 4)
	q, err := NewQueue(Options{
		Sender: SenderFunc(func(ctx context.Context, b models.Business, msg bus.OutboundMessage) error {
			mu.Lock()
			sent = append(sent, msg.Content)
			mu.Unlock()
			return nil
		}),
		Businesses: businesses{1: {ID: 1}},
		Workers:    2,
	})
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	if _, err := q.Enqueue(context.Background(), Job{BusinessID: 1, Message: telegramMsg()}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Enqueue() before Start error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	wait := q.Start(ctx)
	for _, text := range []string{"a", "b", "c", "d"} {
		msg := telegramMsg()
		msg.Content = text
		id, err := q.Enqueue(context.Background(), Job{BusinessID: 1, Message: msg, OnDelivered: func(context.Context) { done <- struct{}{} }})
		if err != nil || id == "" {
			t.Fatalf("Enqueue() = %q, %v", id, err)
		}
	}
	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for deliveries")
		}
	}
	cancel()
	wait()
	if len(sent) != 4 {
		t.Fatalf("sent mismatch: %v", sent)
	}

	if _, err := q.Enqueue(context.Background(), Job{BusinessID: 1, Message: bus.OutboundMessage{Platform: bus.PlatformTelegram}}); err == nil {
		t.Fatalf("Enqueue() should validate the message")
	}
}

func TestFileDeadLetterLog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dead_letters.jsonl")
	w, err := fsstore.NewJSONLWriter(path, fsstore.JSONLOptions{Lock: true})
	if err != nil {
		t.Fatalf("NewJSONLWriter() error = %v", err)
	}
	defer w.Close()
	q, err := NewQueue(Options{
		Sender: SenderFunc(func(ctx context.Context, b models.Business, msg bus.OutboundMessage) error {
			return errors.New("boom")
		}),
		Businesses:  businesses{1: {ID: 1}},
		DeadLetters: w,
		Attempts:    2,
		Sleep:       (&sleepRecorder{}).Sleep,
	})
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	_ = q.Deliver(context.Background(), Job{ID: "x", Kind: KindReply, BusinessID: 1, Message: telegramMsg()})

	got, err := fsstore.ReadJSONLTail[DeadLetter](path, 10)
	if err != nil {
		t.Fatalf("ReadJSONLTail() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "x" || got[0].Attempts != 2 || got[0].Platform != "telegram" {
		t.Fatalf("dead letter file mismatch: %+v", got)
	}
}
