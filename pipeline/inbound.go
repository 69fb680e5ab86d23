package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quailyquaily/deskmate/db/models"
	"github.com/quailyquaily/deskmate/delivery"
	"github.com/quailyquaily/deskmate/internal/bus"
	"github.com/quailyquaily/deskmate/internal/channelruntime/worker"
	"github.com/quailyquaily/deskmate/internal/metrics"
	"github.com/quailyquaily/deskmate/internal/retryutil"
)

const (
	DefaultInboundAttempts = 3
	DefaultInboundBackoff  = 5 * time.Second
	defaultInboundWorkers  = 4
	defaultInboundQueue    = 256
)

var ErrInboundNotStarted = errors.New("inbound queue not started")

// InboundJob is one authenticated webhook body waiting to be processed.
type InboundJob struct {
	ID         string
	BusinessID uint
	Platform   bus.Platform
	Payload    []byte
	ReceivedAt time.Time
}

type Processor interface {
	ProcessInbound(ctx context.Context, msg bus.InboundMessage, business models.Business) (*bus.OutboundMessage, error)
}

type Normalizer interface {
	Normalize(raw []byte) (*bus.InboundMessage, error)
}

type NormalizerFunc func(raw []byte) (*bus.InboundMessage, error)

func (f NormalizerFunc) Normalize(raw []byte) (*bus.InboundMessage, error) { return f(raw) }

type BusinessLookup interface {
	Business(ctx context.Context, id uint) (models.Business, bool, error)
}

type ReplyQueue interface {
	Enqueue(ctx context.Context, job delivery.Job) (string, error)
}

type InboundOptions struct {
	Processor   Processor
	Businesses  BusinessLookup
	Normalizers map[bus.Platform]Normalizer
	Replies     ReplyQueue
	DeadLetters delivery.DeadLetterSink
	Logger      *slog.Logger
	Metrics     *metrics.Metrics

	Workers   int
	QueueSize int
	Attempts  int
	Backoff   time.Duration
	Sleep     func(ctx context.Context, d time.Duration) error
	Now       func() time.Time
}

type InboundQueue struct {
	processor   Processor
	businesses  BusinessLookup
	normalizers map[bus.Platform]Normalizer
	replies     ReplyQueue
	deadLetters delivery.DeadLetterSink
	logger      *slog.Logger
	metrics     *metrics.Metrics

	workers  int
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	nowFn    func() time.Time

	jobs chan InboundJob

	mu         sync.Mutex
	workersCtx context.Context
}

func NewInboundQueue(opts InboundOptions) (*InboundQueue, error) {
	if opts.Processor == nil {
		return nil, fmt.Errorf("inbound processor is required")
	}
	if opts.Businesses == nil {
		return nil, fmt.Errorf("business lookup is required")
	}
	if opts.Replies == nil {
		return nil, fmt.Errorf("reply queue is required")
	}
	q := &InboundQueue{
		processor:   opts.Processor,
		businesses:  opts.Businesses,
		normalizers: opts.Normalizers,
		replies:     opts.Replies,
		deadLetters: opts.DeadLetters,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		workers:     opts.Workers,
		attempts:    opts.Attempts,
		backoff:     opts.Backoff,
		sleep:       opts.Sleep,
		nowFn:       opts.Now,
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.workers <= 0 {
		q.workers = defaultInboundWorkers
	}
	if q.attempts <= 0 {
		q.attempts = DefaultInboundAttempts
	}
	if q.backoff <= 0 {
		q.backoff = DefaultInboundBackoff
	}
	if q.nowFn == nil {
		q.nowFn = time.Now
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultInboundQueue
	}
	q.jobs = make(chan InboundJob, size)
	return q, nil
}

func (q *InboundQueue) Start(ctx context.Context) (wait func()) {
	q.mu.Lock()
	q.workersCtx = ctx
	q.mu.Unlock()
	return worker.Start(worker.StartOptions[InboundJob]{
		Ctx:     ctx,
		Workers: q.workers,
		Jobs:    q.jobs,
		Handle: func(ctx context.Context, job InboundJob) {
			_ = q.Handle(ctx, job)
		},
	})
}

func (q *InboundQueue) Enqueue(ctx context.Context, job InboundJob) (string, error) {
	q.mu.Lock()
	workersCtx := q.workersCtx
	q.mu.Unlock()
	if workersCtx == nil {
		return "", ErrInboundNotStarted
	}
	if !job.Platform.Valid() {
		return "", fmt.Errorf("platform is invalid")
	}
	if strings.TrimSpace(job.ID) == "" {
		if id, err := uuid.NewV7(); err == nil {
			job.ID = id.String()
		} else {
			job.ID = uuid.NewString()
		}
	}
	if job.ReceivedAt.IsZero() {
		job.ReceivedAt = q.nowFn().UTC()
	}
	if err := worker.Enqueue(ctx, workersCtx, q.jobs, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Handle processes one job with retries. Unknown or inactive businesses and
// payloads that normalize to nothing are dropped without error.
func (q *InboundQueue) Handle(ctx context.Context, job InboundJob) error {
	platform := string(job.Platform)
	logger := q.logger.With("job_id", job.ID, "business_id", job.BusinessID, "platform", platform)

	business, ok, err := q.businesses.Business(ctx, job.BusinessID)
	if err != nil {
		logger.Error("inbound_business_lookup_failed", "error", err.Error())
		q.metrics.ObserveInbound(platform, "failed")
		q.recordDeadLetter(ctx, job, 0, err)
		return err
	}
	if !ok || !business.IsActive {
		logger.Warn("inbound_business_unavailable", "found", ok)
		q.metrics.ObserveInbound(platform, "skipped")
		return nil
	}

	normalizer := q.normalizers[job.Platform]
	if normalizer == nil {
		err := fmt.Errorf("no normalizer for platform %q", platform)
		logger.Error("inbound_unroutable", "error", err.Error())
		q.metrics.ObserveInbound(platform, "failed")
		return err
	}
	msg, err := normalizer.Normalize(job.Payload)
	if err != nil {
		logger.Warn("inbound_payload_invalid", "error", err.Error())
		q.metrics.ObserveInbound(platform, "invalid")
		return nil
	}
	if msg == nil {
		logger.Debug("inbound_payload_ignored")
		q.metrics.ObserveInbound(platform, "ignored")
		return nil
	}

	var out *bus.OutboundMessage
	attempts, err := retryutil.Do(ctx, logger, "inbound", retryutil.Policy{
		Attempts: q.attempts,
		Backoff:  q.backoff,
		Sleep:    q.sleep,
	}, func(ctx context.Context, attempt int) error {
		reply, err := q.processor.ProcessInbound(ctx, *msg, business)
		if err != nil {
			return err
		}
		out = reply
		return nil
	})
	if err != nil {
		logger.Error("inbound_failed_permanently", "attempts", attempts, "error", err.Error())
		q.metrics.ObserveInbound(platform, "failed")
		q.recordDeadLetter(ctx, job, attempts, err)
		return err
	}
	q.metrics.ObserveInbound(platform, "processed")
	if out == nil {
		return nil
	}

	if _, err := q.replies.Enqueue(ctx, delivery.Job{
		Kind:       delivery.KindReply,
		BusinessID: business.ID,
		Message:    *out,
	}); err != nil {
		logger.Error("reply_enqueue_failed", "error", err.Error())
		return err
	}
	return nil
}

func (q *InboundQueue) recordDeadLetter(ctx context.Context, job InboundJob, attempts int, cause error) {
	if q.deadLetters == nil {
		return
	}
	entry := delivery.DeadLetter{
		ID:         job.ID,
		Kind:       "inbound",
		BusinessID: job.BusinessID,
		Platform:   string(job.Platform),
		Attempts:   attempts,
		Error:      cause.Error(),
		At:         q.nowFn().UTC(),
	}
	if err := q.deadLetters.Append(context.WithoutCancel(ctx), entry); err != nil {
		q.logger.Warn("dead_letter_write_failed", "job_id", job.ID, "error", err.Error())
	}
}
