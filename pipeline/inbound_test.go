package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quailyquaily/deskmate/db/models"
	"github.com/quailyquaily/deskmate/delivery"
	"github.com/quailyquaily/deskmate/internal/bus"
)

type fakeProcessor struct {
	mu    sync.Mutex
	calls int
	errs  []error
	reply *bus.OutboundMessage
}

func (p *fakeProcessor) ProcessInbound(ctx context.Context, msg bus.InboundMessage, business models.Business) (*bus.OutboundMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return p.reply, nil
}

type fakeBusinesses map[uint]models.Business

func (f fakeBusinesses) Business(ctx context.Context, id uint) (models.Business, bool, error) {
	b, ok := f[id]
	return b, ok, nil
}

type fakeReplies struct {
	mu   sync.Mutex
	jobs []delivery.Job
}

func (r *fakeReplies) Enqueue(ctx context.Context, job delivery.Job) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return "job", nil
}

type memDeadLetters struct {
	mu      sync.Mutex
	entries []any
}

func (d *memDeadLetters) Append(ctx context.Context, v any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, v)
	return nil
}

func textNormalizer(raw []byte) (*bus.InboundMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if string(raw) == "garbage" {
		return nil, errors.New("bad payload")
	}
	return &bus.InboundMessage{Platform: bus.PlatformTelegram, SenderID: "7", MessageID: "1", Content: string(raw)}, nil
}

func newTestInbound(t *testing.T, proc *fakeProcessor, replies *fakeReplies, dl *memDeadLetters, sleeps *[]time.Duration) *InboundQueue {
	t.Helper()
	q, err := NewInboundQueue(InboundOptions{
		Processor: proc,
		Businesses: fakeBusinesses{
			1: {ID: 1, Slug: "open", IsActive: true},
			2: {ID: 2, Slug: "closed", IsActive: false},
		},
		Normalizers: map[bus.Platform]Normalizer{bus.PlatformTelegram: NormalizerFunc(textNormalizer)},
		Replies:     replies,
		DeadLetters: dl,
		Sleep: func(ctx context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
		Now: func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("NewInboundQueue() error = %v", err)
	}
	return q
}

func TestInboundHandleQueuesReply(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{reply: &bus.OutboundMessage{Platform: bus.PlatformTelegram, RecipientID: "7", Content: "hi"}}
	replies := &fakeReplies{}
	var sleeps []time.Duration
	q := newTestInbound(t, proc, replies, &memDeadLetters{}, &sleeps)

	if err := q.Handle(context.Background(), InboundJob{ID: "a", BusinessID: 1, Platform: bus.PlatformTelegram, Payload: []byte("hello")}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(replies.jobs) != 1 {
		t.Fatalf("reply jobs = %d, want 1", len(replies.jobs))
	}
	job := replies.jobs[0]
	if job.Kind != delivery.KindReply || job.BusinessID != 1 || job.Message.Content != "hi" {
		t.Fatalf("unexpected reply job: %+v", job)
	}
}

func TestInboundHandleSkipsInactiveBusinessAndBadPayloads(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{reply: &bus.OutboundMessage{Content: "hi"}}
	replies := &fakeReplies{}
	var sleeps []time.Duration
	q := newTestInbound(t, proc, replies, &memDeadLetters{}, &sleeps)
	ctx := context.Background()

	jobs := []InboundJob{
		{BusinessID: 2, Platform: bus.PlatformTelegram, Payload: []byte("hello")},
		{BusinessID: 9, Platform: bus.PlatformTelegram, Payload: []byte("hello")},
		{BusinessID: 1, Platform: bus.PlatformTelegram, Payload: []byte("garbage")},
		{BusinessID: 1, Platform: bus.PlatformTelegram, Payload: nil},
	}
	for _, job := range jobs {
		if err := q.Handle(ctx, job); err != nil {
			t.Fatalf("Handle(%+v) error = %v", job, err)
		}
	}
	if proc.calls != 0 {
		t.Fatalf("processor calls = %d, want 0", proc.calls)
	}
	if len(replies.jobs) != 0 {
		t.Fatalf("reply jobs = %d, want 0", len(replies.jobs))
	}
}

func TestInboundHandleRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()
	boom := errors.New("db down")
	proc := &fakeProcessor{errs: []error{boom, boom, boom}}
	replies := &fakeReplies{}
	dl := &memDeadLetters{}
	var sleeps []time.Duration
	q := newTestInbound(t, proc, replies, dl, &sleeps)

	err := q.Handle(context.Background(), InboundJob{ID: "x", BusinessID: 1, Platform: bus.PlatformTelegram, Payload: []byte("hello")})
	if !errors.Is(err, boom) {
		t.Fatalf("Handle() error = %v, want %v", err, boom)
	}
	if proc.calls != DefaultInboundAttempts {
		t.Fatalf("processor calls = %d, want %d", proc.calls, DefaultInboundAttempts)
	}
	if len(sleeps) != DefaultInboundAttempts-1 {
		t.Fatalf("sleeps = %v", sleeps)
	}
	for _, d := range sleeps {
		if d != DefaultInboundBackoff {
			t.Fatalf("backoff = %v, want %v", d, DefaultInboundBackoff)
		}
	}
	if len(dl.entries) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dl.entries))
	}
	entry, ok := dl.entries[0].(delivery.DeadLetter)
	if !ok || entry.Kind != "inbound" || entry.ID != "x" || entry.Attempts != DefaultInboundAttempts {
		t.Fatalf("unexpected dead letter: %#v", dl.entries[0])
	}
}

func TestInboundHandleRecoversOnRetry(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{
		errs:  []error{errors.New("transient")},
		reply: &bus.OutboundMessage{Platform: bus.PlatformTelegram, RecipientID: "7", Content: "ok"},
	}
	replies := &fakeReplies{}
	var sleeps []time.Duration
	q := newTestInbound(t, proc, replies, &memDeadLetters{}, &sleeps)

	if err := q.Handle(context.Background(), InboundJob{BusinessID: 1, Platform: bus.PlatformTelegram, Payload: []byte("hello")}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if proc.calls != 2 || len(replies.jobs) != 1 {
		t.Fatalf("calls = %d replies = %d", proc.calls, len(replies.jobs))
	}
}

func TestInboundEnqueueRequiresStart(t *testing.T) {
	t.Parallel()
	var sleeps []time.Duration
	q := newTestInbound(t, &fakeProcessor{}, &fakeReplies{}, &memDeadLetters{}, &sleeps)
	if _, err := q.Enqueue(context.Background(), InboundJob{BusinessID: 1, Platform: bus.PlatformTelegram}); !errors.Is(err, ErrInboundNotStarted) {
		t.Fatalf("Enqueue() error = %v, want %v", err, ErrInboundNotStarted)
	}

	ctx, cancel := context.WithCancel(context.Background())
	wait := q.Start(ctx)
	id, err := q.Enqueue(ctx, InboundJob{BusinessID: 2, Platform: bus.PlatformTelegram, Payload: []byte("x")})
	if err != nil || id == "" {
		t.Fatalf("Enqueue() = %q, %v", id, err)
	}
	cancel()
	wait()
}
