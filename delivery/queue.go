// Package delivery sends outbound messages with bounded, fixed-backoff
// retries. Delivery is at-least-once.
package delivery

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
	"github.com/quailyquaily/deskmate/internal/bus"
	"github.com/quailyquaily/deskmate/internal/channelruntime/worker"
	"github.com/quailyquaily/deskmate/internal/metrics"
	"github.com/quailyquaily/deskmate/internal/retryutil"
)

type Kind string

const (
	KindReply              Kind = "reply"
	KindGroupNotification  Kind = "group_notification"
	KindClientNotification Kind = "client_notification"
)

const (
	DefaultAttempts      = 3
	DefaultSendBackoff   = 10 * time.Second
	DefaultNotifyBackoff = 15 * time.Second
	defaultWorkers       = 4
	defaultQueueSize     = 256
)

var ErrNotStarted = errors.New("delivery queue not started")

type Sender interface {
	Send(ctx context.Context, business models.Business, msg bus.OutboundMessage) error
}

type SenderFunc func(ctx context.Context, business models.Business, msg bus.OutboundMessage) error

func (f SenderFunc) Send(ctx context.Context, business models.Business, msg bus.OutboundMessage) error {
	return f(ctx, business, msg)
}

type BusinessLookup interface {
	Business(ctx context.Context, id uint) (models.Business, bool, error)
}

// DeadLetterSink records deliveries that ran out of attempts.
type DeadLetterSink interface {
	Append(ctx context.Context, v any) error
}

type Job struct {
	ID         string
	Kind       Kind
	BusinessID uint
	Message    bus.OutboundMessage
	// OnDelivered runs once after a successful send.
	OnDelivered func(ctx context.Context)
}

type DeadLetter struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	BusinessID uint      `json:"business_id"`
	Platform   string    `json:"platform"`
	Recipient  string    `json:"recipient"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error"`
	At         time.Time `json:"at"`
}

type Options struct {
	Sender      Sender
	Businesses  BusinessLookup
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	DeadLetters DeadLetterSink

	Workers       int
	QueueSize     int
	Attempts      int
	SendBackoff   time.Duration
	NotifyBackoff time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

type Queue struct {
	sender      Sender
	businesses  BusinessLookup
	logger      *slog.Logger
	metrics     *metrics.Metrics
	deadLetters DeadLetterSink

	workers       int
	attempts      int
	sendBackoff   time.Duration
	notifyBackoff time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	nowFn         func() time.Time

	jobs chan Job

	mu         sync.Mutex
	workersCtx context.Context
}

func NewQueue(opts Options) (*Queue, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("delivery sender is required")
	}
	if opts.Businesses == nil {
		return nil, fmt.Errorf("business lookup is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		sender:        opts.Sender,
		businesses:    opts.Businesses,
		logger:        logger,
		metrics:       opts.Metrics,
		deadLetters:   opts.DeadLetters,
		workers:       opts.Workers,
		attempts:      opts.Attempts,
		sendBackoff:   opts.SendBackoff,
		notifyBackoff: opts.NotifyBackoff,
		sleep:         opts.Sleep,
		nowFn:         opts.Now,
	}
	if q.workers <= 0 {
		q.workers = defaultWorkers
	}
	if q.attempts <= 0 {
		q.attempts = DefaultAttempts
	}
	if q.sendBackoff <= 0 {
		q.sendBackoff = DefaultSendBackoff
	}
	if q.notifyBackoff <= 0 {
		q.notifyBackoff = DefaultNotifyBackoff
	}
	if q.nowFn == nil {
		q.nowFn = time.Now
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	q.jobs = make(chan Job, size)
	return q, nil
}

// Start launches the workers. The returned wait blocks until they stop,
// which happens when ctx is done.
func (q *Queue) Start(ctx context.Context) (wait func()) {
	q.mu.Lock()
	q.workersCtx = ctx
	q.mu.Unlock()
	return worker.Start(worker.StartOptions[Job]{
		Ctx:     ctx,
		Workers: q.workers,
		Jobs:    q.jobs,
		Handle: func(ctx context.Context, job Job) {
			_ = q.Deliver(ctx, job)
		},
	})
}

// Enqueue hands job to the workers. It blocks while the buffer is full.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	q.mu.Lock()
	workersCtx := q.workersCtx
	q.mu.Unlock()
	if workersCtx == nil {
		return "", ErrNotStarted
	}
	if err := job.Message.Validate(); err != nil {
		return "", err
	}
	if job.Kind == "" {
		job.Kind = KindReply
	}
	if strings.TrimSpace(job.ID) == "" {
		job.ID = newJobID()
	}
	if err := worker.Enqueue(ctx, workersCtx, q.jobs, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (q *Queue) Backoff(kind Kind) time.Duration {
	if kind == KindGroupNotification {
		return q.notifyBackoff
	}
	return q.sendBackoff
}

// Deliver runs one job to completion in the caller's goroutine.
func (q *Queue) Deliver(ctx context.Context, job Job) error {
	if job.ID == "" {
		job.ID = newJobID()
	}
	logger := q.logger.With(
		"job_id", job.ID,
		"kind", string(job.Kind),
		"business_id", job.BusinessID,
		"platform", string(job.Message.Platform),
	)

	business, ok, err := q.businesses.Business(ctx, job.BusinessID)
	if err == nil && !ok {
		err = retryutil.Permanent(fmt.Errorf("business %d not found", job.BusinessID))
	}
	attempts := 0
	if err == nil {
		attempts, err = retryutil.Do(ctx, logger, "delivery", retryutil.Policy{
			Attempts: q.attempts,
			Backoff:  q.Backoff(job.Kind),
			Sleep:    q.sleep,
		}, func(ctx context.Context, attempt int) error {
			return q.sender.Send(ctx, business, job.Message)
		})
	}
	if err != nil {
		q.metrics.ObserveDelivery(string(job.Kind), "failed", attempts)
		logger.Error("delivery_failed_permanently", "attempts", attempts, "error", err.Error())
		q.recordDeadLetter(ctx, job, attempts, err)
		return err
	}

	q.metrics.ObserveDelivery(string(job.Kind), "sent", attempts)
	logger.Debug("delivery_sent", "attempts", attempts)
	if job.OnDelivered != nil {
		job.OnDelivered(ctx)
	}
	return nil
}

func (q *Queue) recordDeadLetter(ctx context.Context, job Job, attempts int, cause error) {
	if q.deadLetters == nil {
		return
	}
	entry := DeadLetter{
		ID:         job.ID,
		Kind:       string(job.Kind),
		BusinessID: job.BusinessID,
		Platform:   string(job.Message.Platform),
		Recipient:  job.Message.RecipientID,
		Attempts:   attempts,
		Error:      cause.Error(),
		At:         q.nowFn().UTC(),
	}
	// The job context may already be cancelled during shutdown.
	if err := q.deadLetters.Append(context.WithoutCancel(ctx), entry); err != nil {
		q.logger.Warn("dead_letter_write_failed", "job_id", job.ID, "error", err.Error())
	}
}

func newJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
