// Package completion calls the chat model for one pipeline run and absorbs
// backend failures into a fixed apology.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/deskmate/db/models"
	"github.com/quailyquaily/deskmate/internal/metrics"
	"github.com/quailyquaily/deskmate/llm"
)

const (
	DefaultTimeout      = 60 * time.Second
	DefaultProbeTimeout = 10 * time.Second

	// ApologyStatus is returned when the backend answered with a non-2xx status.
	ApologyStatus = "Sorry, there was a problem processing your request. Please try again later."
	// ApologyError is returned on transport errors and timeouts.
	ApologyError = "Sorry, we are experiencing technical difficulties. Please try again later."

	probeContent   = "Hello"
	probeMaxTokens = 10
)

type Options struct {
	Client       llm.Client
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

type Backend struct {
	client       llm.Client
	logger       *slog.Logger
	metrics      *metrics.Metrics
	timeout      time.Duration
	probeTimeout time.Duration
	nowFn        func() time.Time
}

// Result is always safe to parse. Failed marks an apology that replaced
// the model output.
type Result struct {
	RawText          string
	PromptTokens     int
	CompletionTokens int
	Model            string
	Failed           bool
	Duration         time.Duration
}

func New(opts Options) (*Backend, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	probe := opts.ProbeTimeout
	if probe <= 0 {
		probe = DefaultProbeTimeout
	}
	return &Backend{
		client:       opts.Client,
		logger:       logger,
		metrics:      opts.Metrics,
		timeout:      timeout,
		probeTimeout: probe,
		nowFn:        time.Now,
	}, nil
}

// Complete sends system followed by history. It never returns an error:
// backend failures come back as an apology with Failed set.
func (b *Backend) Complete(ctx context.Context, history []llm.Message, cfg models.GptConfiguration, system []llm.Message) Result {
	msgs := make([]llm.Message, 0, len(system)+len(history))
	msgs = append(msgs, system...)
	msgs = append(msgs, history...)

	req := llm.Request{
		Model:       strings.TrimSpace(cfg.Model),
		Messages:    msgs,
		MaxTokens:   cfg.MaxTokens,
		Temperature: llm.Float(cfg.Temperature),
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := b.nowFn()
	res, err := b.client.Chat(callCtx, req)
	elapsed := b.nowFn().Sub(start)
	if err != nil {
		if llm.IsStatusError(err) {
			b.metrics.ObserveCompletion("status_error", elapsed)
			b.logger.Error("completion_status_error", "model", req.Model, "error", err.Error())
			return Result{RawText: ApologyStatus, Model: req.Model, Failed: true, Duration: elapsed}
		}
		b.metrics.ObserveCompletion("error", elapsed)
		b.logger.Error("completion_failed", "model", req.Model, "error", err.Error())
		return Result{RawText: ApologyError, Model: req.Model, Failed: true, Duration: elapsed}
	}

	model := strings.TrimSpace(res.Model)
	if model == "" {
		model = req.Model
	}
	b.metrics.ObserveCompletion("ok", elapsed)
	b.logger.Debug("completion_ok",
		"model", model,
		"messages", len(msgs),
		"prompt_tokens", res.Usage.InputTokens,
		"completion_tokens", res.Usage.OutputTokens,
		"duration", elapsed.String(),
	)
	return Result{
		RawText:          res.Text,
		PromptTokens:     res.Usage.InputTokens,
		CompletionTokens: res.Usage.OutputTokens,
		Model:            model,
		Duration:         elapsed,
	}
}

// TestConnection sends a tiny prompt with the configuration's model.
func (b *Backend) TestConnection(ctx context.Context, cfg models.GptConfiguration) bool {
	probeCtx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	_, err := b.client.Chat(probeCtx, llm.Request{
		Model:     strings.TrimSpace(cfg.Model),
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: probeContent}},
		MaxTokens: probeMaxTokens,
	})
	if err != nil {
		b.logger.Warn("completion_probe_failed", "model", cfg.Model, "error", err.Error())
		return false
	}
	return true
}
