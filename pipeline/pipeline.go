// Package pipeline turns one normalized inbound message into at most one
// reply, recording the conversation and any actions along the way.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/deskmate/actions"
	"github.com/quailyquaily/deskmate/completion"
	"github.com/quailyquaily/deskmate/conversation"
	"github.com/quailyquaily/deskmate/db/models"
	"github.com/quailyquaily/deskmate/internal/bus"
	"github.com/quailyquaily/deskmate/internal/metrics"
	"github.com/quailyquaily/deskmate/llm"
	"github.com/quailyquaily/deskmate/prompt"
	"github.com/quailyquaily/deskmate/reply"
	"github.com/quailyquaily/deskmate/store"
)

const (
	DefaultHistoryLimit = 5
	// FallbackReply answers businesses that have no active configuration.
	FallbackReply = "Thank you for your message. Our team will contact you shortly."

	saveAttempts = 3
)

type Store interface {
	ResolveClient(ctx context.Context, identity store.ClientIdentity) (models.Client, error)
	UpdateClient(ctx context.Context, client *models.Client) error
	ResolveConversation(ctx context.Context, businessID, clientID uint, initialState map[string]any) (models.Conversation, error)
	Conversation(ctx context.Context, id uint) (models.Conversation, error)
	SaveConversation(ctx context.Context, conv *models.Conversation) error
	AppendMessage(ctx context.Context, msg *models.Message) error
	InboundMessage(ctx context.Context, conversationID uint, externalID string) (models.Message, bool, error)
	CompleteInbound(ctx context.Context, messageID uint, reply *models.Message, at time.Time) error
	RecentMessages(ctx context.Context, conversationID uint, limit int) ([]models.Message, error)
	RecentActions(ctx context.Context, conversationID uint, limit int) ([]models.ClientAction, error)
	ActiveConfiguration(ctx context.Context, businessID uint) (models.GptConfiguration, bool, error)
}

type Completer interface {
	Complete(ctx context.Context, history []llm.Message, cfg models.GptConfiguration, system []llm.Message) completion.Result
}

type ActionHandler interface {
	Handle(ctx context.Context, a actions.ParsedAction, conv models.Conversation, client models.Client) (models.ClientAction, error)
}

type Options struct {
	Store     Store
	Completer Completer
	Actions   ActionHandler
	Locker    *conversation.Locker
	// Guard drops illegal stage transitions when set.
	Guard        *conversation.Guard
	HistoryLimit int
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

type Pipeline struct {
	store        Store
	completer    Completer
	actions      ActionHandler
	locker       *conversation.Locker
	guard        *conversation.Guard
	historyLimit int
	logger       *slog.Logger
	metrics      *metrics.Metrics
	nowFn        func() time.Time
}

func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline store is required")
	}
	if opts.Completer == nil {
		return nil, fmt.Errorf("completion backend is required")
	}
	if opts.Actions == nil {
		return nil, fmt.Errorf("action handler is required")
	}
	p := &Pipeline{
		store:        opts.Store,
		completer:    opts.Completer,
		actions:      opts.Actions,
		locker:       opts.Locker,
		guard:        opts.Guard,
		historyLimit: opts.HistoryLimit,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		nowFn:        opts.Now,
	}
	if p.locker == nil {
		p.locker = conversation.NewLocker()
	}
	if p.historyLimit <= 0 {
		p.historyLimit = DefaultHistoryLimit
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.nowFn == nil {
		p.nowFn = time.Now
	}
	return p, nil
}

func (p *Pipeline) now() time.Time {
	return p.nowFn().UTC()
}

// ProcessInbound runs one message through the bot. A nil reply with a nil
// error means there is nothing to send (duplicate message, empty answer).
// Errors are only returned for failures before the message is recorded, or
// storage failures afterwards; the caller may retry them.
func (p *Pipeline) ProcessInbound(ctx context.Context, msg bus.InboundMessage, business models.Business) (*bus.OutboundMessage, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inbound message: %w", err)
	}
	if business.ID == 0 {
		return nil, fmt.Errorf("business id is required")
	}
	key, err := bus.BuildClientKey(business.ID, msg.Platform, msg.SenderID)
	if err != nil {
		return nil, err
	}
	unlock, err := p.locker.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	logger := p.logger.With("business_id", business.ID, "platform", string(msg.Platform), "client_key", key)

	client, err := p.store.ResolveClient(ctx, identityFor(business.ID, msg, p.now()))
	if err != nil {
		return nil, err
	}
	conv, err := p.store.ResolveConversation(ctx, business.ID, client.ID, conversation.DefaultState())
	if err != nil {
		return nil, err
	}
	logger = logger.With("conversation_id", conv.ID)

	userMsg, seen, err := p.store.InboundMessage(ctx, conv.ID, msg.MessageID)
	if err != nil {
		return nil, err
	}
	if seen && userMsg.ProcessedAt != nil {
		logger.Info("inbound_duplicate_skipped", "message_id", msg.MessageID)
		return nil, nil
	}
	if !seen {
		userMsg = models.Message{
			ConversationID: conv.ID,
			Role:           llm.RoleUser,
			Content:        msg.Content,
			ExternalID:     msg.MessageID,
			CreatedAt:      p.now(),
		}
		if err := p.store.AppendMessage(ctx, &userMsg); err != nil {
			return nil, err
		}
	} else {
		logger.Info("inbound_resume_unanswered", "message_id", msg.MessageID)
	}

	cfg, ok, err := p.store.ActiveConfiguration(ctx, business.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Warn("no_active_configuration")
		if err := p.store.CompleteInbound(ctx, userMsg.ID, nil, p.now()); err != nil {
			return nil, err
		}
		return p.outbound(msg, client, FallbackReply), nil
	}

	recent, err := p.store.RecentActions(ctx, conv.ID, prompt.RecentActionLimit)
	if err != nil {
		return nil, err
	}
	state := currentState(conv)
	system := prompt.Build(prompt.Input{
		Business:      business,
		Config:        cfg,
		State:         state,
		Client:        &client,
		Context:       conv.Context,
		RecentActions: recent,
		Summary:       conv.Summary,
	})
	history, err := p.history(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	result := p.completer.Complete(ctx, history, cfg, system)
	parsed := reply.Parse(result.RawText)
	for _, d := range parsed.Dropped {
		logger.Warn("reply_tag_dropped", "kind", d.Kind, "name", d.Name, "error", d.Error)
	}
	p.metrics.ObserveParseDrops(len(parsed.Dropped))
	if parsed.ExtraStates > 0 {
		logger.Warn("reply_extra_state_ignored", "count", parsed.ExtraStates)
	}

	for _, a := range parsed.Actions {
		created, err := p.actions.Handle(ctx, a, conv, client)
		if err != nil {
			if errors.Is(err, actions.ErrValidation) {
				logger.Warn("action_validation_failed", "type", string(a.Type), "raw_type", a.RawType, "error", err.Error())
			} else {
				logger.Error("action_create_failed", "type", string(a.Type), "error", err.Error())
			}
			continue
		}
		logger.Debug("action_dispatched", "action_id", created.ID, "priority", created.Priority)
	}

	if err := p.saveConversation(ctx, conv, parsed.State, logger); err != nil {
		return nil, err
	}
	client.LastContactAt = p.now()
	if err := p.store.UpdateClient(ctx, &client); err != nil {
		return nil, err
	}

	// The user message only counts as handled once the reply is stored with it.
	display := parsed.CleanText
	var assistant *models.Message
	if display != "" {
		assistant = &models.Message{
			ConversationID: conv.ID,
			Role:           llm.RoleAssistant,
			Content:        display,
			CreatedAt:      p.now(),
		}
	} else {
		logger.Warn("reply_empty_after_parse", "failed", result.Failed)
	}
	if err := p.store.CompleteInbound(ctx, userMsg.ID, assistant, p.now()); err != nil {
		return nil, err
	}

	if display == "" {
		return nil, nil
	}
	return p.outbound(msg, client, display), nil
}

// saveConversation merges the state update and stamps last_message_at. A
// version conflict reloads the conversation and applies the update again.
func (p *Pipeline) saveConversation(ctx context.Context, conv models.Conversation, update map[string]any, logger *slog.Logger) error {
	rest, summary := conversation.SplitSummary(update)
	for attempt := 1; ; attempt++ {
		state := currentState(conv)
		if len(rest) > 0 {
			filtered, err := p.guard.Filter(state, rest)
			if err != nil {
				logger.Warn("state_transition_rejected", "error", err.Error())
			}
			state = state.Merge(filtered)
		}
		conv.State = map[string]any(state)
		if summary != "" {
			conv.Summary = summary
		}
		conv.LastMessageAt = p.now()

		err := p.store.SaveConversation(ctx, &conv)
		if err == nil || !errors.Is(err, store.ErrConflict) || attempt >= saveAttempts {
			return err
		}
		logger.Warn("conversation_save_conflict", "attempt", attempt)
		fresh, err := p.store.Conversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		conv = fresh
	}
}

func (p *Pipeline) history(ctx context.Context, conversationID uint) ([]llm.Message, error) {
	msgs, err := p.store.RecentMessages(ctx, conversationID, p.historyLimit)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

func (p *Pipeline) outbound(msg bus.InboundMessage, client models.Client, content string) *bus.OutboundMessage {
	return &bus.OutboundMessage{
		Platform:    msg.Platform,
		RecipientID: bus.RecipientID(msg.Platform, client.Phone, client.TelegramID, msg.Metadata),
		Content:     content,
		ReplyToID:   msg.MessageID,
	}
}

func currentState(conv models.Conversation) conversation.State {
	if len(conv.State) == 0 {
		return conversation.DefaultState()
	}
	return conversation.State(conv.State).Clone()
}

func identityFor(businessID uint, msg bus.InboundMessage, at time.Time) store.ClientIdentity {
	id := store.ClientIdentity{
		BusinessID: businessID,
		Platform:   string(msg.Platform),
		ExternalID: strings.TrimSpace(msg.SenderID),
		Name:       strings.TrimSpace(msg.SenderName),
		At:         at,
	}
	switch msg.Platform {
	case bus.PlatformWhatsApp:
		id.Phone = id.ExternalID
	case bus.PlatformTelegram:
		id.TelegramID = id.ExternalID
	}
	return id
}
