package store

import (
	"context"
	"errors"
	"time"

	"github.com/quailyquaily/deskmate/db/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conversation was saved by someone else
	// since it was loaded.
	ErrConflict = errors.New("conversation version conflict")
)

// ClientIdentity is the natural key of a client within a business.
type ClientIdentity struct {
	BusinessID uint
	Platform   string
	ExternalID string
	Phone      string
	TelegramID string
	Name       string
	At         time.Time
}

type Store interface {
	ListBusinesses(ctx context.Context) ([]models.Business, error)
	Business(ctx context.Context, id uint) (models.Business, bool, error)
	BusinessBySlug(ctx context.Context, slug string) (models.Business, bool, error)
	SaveBusiness(ctx context.Context, business *models.Business) error

	ResolveClient(ctx context.Context, identity ClientIdentity) (models.Client, error)
	Client(ctx context.Context, id uint) (models.Client, error)
	UpdateClient(ctx context.Context, client *models.Client) error

	ResolveConversation(ctx context.Context, businessID, clientID uint, initialState map[string]any) (models.Conversation, error)
	Conversation(ctx context.Context, id uint) (models.Conversation, error)
	SaveConversation(ctx context.Context, conv *models.Conversation) error

	AppendMessage(ctx context.Context, msg *models.Message) error
	// InboundMessage returns the first user message recorded with externalID.
	InboundMessage(ctx context.Context, conversationID uint, externalID string) (models.Message, bool, error)
	// CompleteInbound stores the reply, if any, and stamps processed_at on the
	// user message in one transaction.
	CompleteInbound(ctx context.Context, messageID uint, reply *models.Message, at time.Time) error
	RecentMessages(ctx context.Context, conversationID uint, limit int) ([]models.Message, error)

	CreateAction(ctx context.Context, action *models.ClientAction) error
	Action(ctx context.Context, id uint) (models.ClientAction, error)
	UpdateAction(ctx context.Context, action *models.ClientAction) error
	RecentActions(ctx context.Context, conversationID uint, limit int) ([]models.ClientAction, error)

	ActiveConfiguration(ctx context.Context, businessID uint) (models.GptConfiguration, bool, error)
	Configuration(ctx context.Context, id uint) (models.GptConfiguration, error)
	ListConfigurations(ctx context.Context, businessID uint) ([]models.GptConfiguration, error)
	CreateConfiguration(ctx context.Context, cfg *models.GptConfiguration) error
	ActivateConfiguration(ctx context.Context, businessID, configID uint) error

	ManagerPreferences(ctx context.Context, businessID uint) ([]models.ManagerPreference, error)
	SaveManagerPreference(ctx context.Context, pref *models.ManagerPreference) error
}
