// Package notify turns action signals into outbound messages: staff group
// notifications on creation and client updates on terminal statuses.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/quailyquaily/deskmate/actions"
	"github.com/quailyquaily/deskmate/db/models"
	"github.com/quailyquaily/deskmate/delivery"
	"github.com/quailyquaily/deskmate/internal/bus"
	"golang.org/x/sync/errgroup"
)

const fanOutLimit = 4

type Store interface {
	Action(ctx context.Context, id uint) (models.ClientAction, error)
	Client(ctx context.Context, id uint) (models.Client, error)
	ManagerPreferences(ctx context.Context, businessID uint) ([]models.ManagerPreference, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job delivery.Job) (string, error)
}

type Options struct {
	Store  Store
	Queue  Enqueuer
	Logger *slog.Logger
}

type Notifier struct {
	store  Store
	queue  Enqueuer
	logger *slog.Logger
}

func New(opts Options) (*Notifier, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("notify store is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("delivery queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{store: opts.Store, queue: opts.Queue, logger: logger}, nil
}

// OnActionSignal implements actions.Listener. Failures are logged; the
// action itself is already stored.
func (n *Notifier) OnActionSignal(ctx context.Context, sig actions.Signal) {
	switch {
	case sig.Created():
		if _, err := n.NotifyManagers(ctx, sig.ActionID); err != nil {
			n.logger.Warn("manager_notify_failed", "action_id", sig.ActionID, "error", err.Error())
		}
	case sig.NewStatus.Terminal():
		if err := n.NotifyClient(ctx, sig.ActionID, sig.NewStatus); err != nil {
			n.logger.Warn("client_notify_failed", "action_id", sig.ActionID, "status", string(sig.NewStatus), "error", err.Error())
		}
	}
}

// Matches reports whether a preference subscribes to actionType. An empty
// list subscribes to everything.
func Matches(pref models.ManagerPreference, actionType string) bool {
	if len(pref.ActionTypes) == 0 {
		return true
	}
	return slices.ContainsFunc(pref.ActionTypes, func(t string) bool {
		return strings.EqualFold(strings.TrimSpace(t), actionType)
	})
}

// NotifyManagers queues one group notification per subscribed group and
// returns how many were queued.
func (n *Notifier) NotifyManagers(ctx context.Context, actionID uint) (int, error) {
	action, err := n.store.Action(ctx, actionID)
	if err != nil {
		return 0, err
	}
	prefs, err := n.store.ManagerPreferences(ctx, action.BusinessID)
	if err != nil {
		return 0, err
	}

	text := ManagerMessage(action)
	var targets []bus.OutboundMessage
	for _, pref := range prefs {
		if !Matches(pref, action.Type) {
			continue
		}
		for _, group := range pref.WhatsAppGroups {
			if group = strings.TrimSpace(group); group != "" {
				targets = append(targets, bus.OutboundMessage{Platform: bus.PlatformWhatsApp, RecipientID: group, Content: text})
			}
		}
		for _, group := range pref.TelegramGroups {
			if group = strings.TrimSpace(group); group != "" {
				targets = append(targets, bus.OutboundMessage{Platform: bus.PlatformTelegram, RecipientID: group, Content: text})
			}
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for _, msg := range targets {
		g.Go(func() error {
			_, err := n.queue.Enqueue(gctx, delivery.Job{
				Kind:       delivery.KindGroupNotification,
				BusinessID: action.BusinessID,
				Message:    msg,
			})
			if err != nil {
				return fmt.Errorf("queue %s group %s: %w", msg.Platform, msg.RecipientID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	n.logger.Info("manager_notifications_queued", "action_id", action.ID, "count", len(targets))
	return len(targets), nil
}

// NotifyClient queues the status message for the action's client. Once it is
// delivered the message is also recorded in the conversation.
func (n *Notifier) NotifyClient(ctx context.Context, actionID uint, status actions.Status) error {
	if !status.Terminal() {
		return nil
	}
	action, err := n.store.Action(ctx, actionID)
	if err != nil {
		return err
	}
	client, err := n.store.Client(ctx, action.ClientID)
	if err != nil {
		return err
	}
	platform, err := bus.ParsePlatform(client.Platform)
	if err != nil {
		return err
	}
	recipient := strings.TrimSpace(client.TelegramID)
	if platform == bus.PlatformWhatsApp {
		recipient = strings.TrimSpace(client.Phone)
	}
	if recipient == "" {
		n.logger.Warn("client_notify_no_recipient", "action_id", action.ID, "platform", string(platform))
		return nil
	}

	text := ClientMessage(action, status)
	conversationID := action.ConversationID
	_, err = n.queue.Enqueue(ctx, delivery.Job{
		Kind:       delivery.KindClientNotification,
		BusinessID: action.BusinessID,
		Message:    bus.OutboundMessage{Platform: platform, RecipientID: recipient, Content: text},
		OnDelivered: func(ctx context.Context) {
			if conversationID == 0 {
				return
			}
			msg := models.Message{ConversationID: conversationID, Role: "assistant", Content: text}
			if err := n.store.AppendMessage(ctx, &msg); err != nil {
				n.logger.Warn("client_notify_record_failed", "action_id", actionID, "error", err.Error())
			}
		},
	})
	return err
}
