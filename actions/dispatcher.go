package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/quailyquaily/deskmate/db/models"
	"github.com/quailyquaily/deskmate/internal/metrics"
	"gorm.io/datatypes"
)

var ErrInvalidTransition = errors.New("status transition not allowed")

type Store interface {
	CreateAction(ctx context.Context, action *models.ClientAction) error
	Action(ctx context.Context, id uint) (models.ClientAction, error)
	UpdateAction(ctx context.Context, action *models.ClientAction) error
}

// Signal is emitted when an action is created (OldStatus empty) or when its
// status changes.
type Signal struct {
	ActionID   uint
	BusinessID uint
	Type       Type
	OldStatus  Status
	NewStatus  Status
}

func (s Signal) Created() bool {
	return s.OldStatus == ""
}

type Listener interface {
	OnActionSignal(ctx context.Context, sig Signal)
}

type ListenerFunc func(ctx context.Context, sig Signal)

func (f ListenerFunc) OnActionSignal(ctx context.Context, sig Signal) { f(ctx, sig) }

type DispatcherOptions struct {
	Store     Store
	Listener  Listener
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
	Reference func() string
}

type Dispatcher struct {
	store     Store
	listener  Listener
	logger    *slog.Logger
	metrics   *metrics.Metrics
	nowFn     func() time.Time
	reference func() string
	handlers  map[Type]Handler
}

func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("action store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	reference := opts.Reference
	if reference == nil {
		reference = shortuuid.New
	}
	d := &Dispatcher{
		store:     opts.Store,
		listener:  opts.Listener,
		logger:    logger,
		metrics:   opts.Metrics,
		nowFn:     nowFn,
		reference: reference,
	}
	inquiry := inquiryHandler{}
	d.handlers = map[Type]Handler{
		TypeReservation: reservationHandler{now: nowFn},
		TypeOrder:       orderHandler{},
		TypeInquiry:     inquiry,
		TypeComplaint:   inquiry,
		TypeCallback:    inquiry,
		TypeOther:       inquiry,
	}
	return d, nil
}

func (d *Dispatcher) handler(t Type) Handler {
	if h, ok := d.handlers[t]; ok {
		return h
	}
	return d.handlers[TypeOther]
}

// Validate runs the per-type checks without persisting anything.
func (d *Dispatcher) Validate(a ParsedAction) error {
	return d.handler(a.Type).Validate(a)
}

// Handle validates a parsed action and stores it as a pending task. A
// validation failure returns an error wrapping ErrValidation and stores nothing.
func (d *Dispatcher) Handle(ctx context.Context, a ParsedAction, conv models.Conversation, client models.Client) (models.ClientAction, error) {
	h := d.handler(a.Type)
	if err := h.Validate(a); err != nil {
		d.metrics.ObserveActionRejected(string(a.Type))
		return models.ClientAction{}, err
	}

	name := strings.TrimSpace(a.ClientName)
	if name == "" {
		name = client.Name
	}
	phone := strings.TrimSpace(a.ClientPhone)
	if phone == "" {
		phone = client.Phone
	}
	priority := h.Priority(a)
	action := models.ClientAction{
		Reference:      strings.ToUpper(d.reference()),
		BusinessID:     conv.BusinessID,
		ClientID:       client.ID,
		ConversationID: conv.ID,
		Type:           string(a.Type),
		Details:        datatypes.JSONMap(a.Details),
		ClientName:     name,
		ClientPhone:    phone,
		Status:         string(StatusPending),
		Priority:       string(priority),
		CreatedAt:      d.nowFn().UTC(),
	}
	if err := d.store.CreateAction(ctx, &action); err != nil {
		return models.ClientAction{}, fmt.Errorf("create action: %w", err)
	}
	d.metrics.ObserveActionCreated(action.Type, action.Priority)
	d.logger.Info("action_created",
		"action_id", action.ID,
		"reference", action.Reference,
		"type", action.Type,
		"priority", action.Priority,
		"business_id", action.BusinessID,
		"conversation_id", action.ConversationID,
	)
	d.emit(ctx, Signal{
		ActionID:   action.ID,
		BusinessID: action.BusinessID,
		Type:       a.Type,
		NewStatus:  StatusPending,
	})
	return action, nil
}

// UpdateStatus moves an action along its lifecycle and emits a status change.
func (d *Dispatcher) UpdateStatus(ctx context.Context, actionID uint, to Status, notes string) (models.ClientAction, error) {
	action, err := d.store.Action(ctx, actionID)
	if err != nil {
		return models.ClientAction{}, err
	}
	from := Status(action.Status)
	if !CanTransition(from, to) {
		return models.ClientAction{}, fmt.Errorf("action %d: %s -> %s: %w", actionID, from, to, ErrInvalidTransition)
	}
	action.Status = string(to)
	if notes = strings.TrimSpace(notes); notes != "" {
		action.Notes = notes
	}
	if to == StatusCompleted {
		now := d.nowFn().UTC()
		action.ProcessedAt = &now
	}
	if err := d.store.UpdateAction(ctx, &action); err != nil {
		return models.ClientAction{}, fmt.Errorf("update action: %w", err)
	}
	d.logger.Info("action_status_changed", "action_id", action.ID, "from", string(from), "to", string(to))
	d.emit(ctx, Signal{
		ActionID:   action.ID,
		BusinessID: action.BusinessID,
		Type:       ParseType(action.Type),
		OldStatus:  from,
		NewStatus:  to,
	})
	return action, nil
}

func (d *Dispatcher) emit(ctx context.Context, sig Signal) {
	if d.listener == nil {
		return
	}
	d.listener.OnActionSignal(ctx, sig)
}
