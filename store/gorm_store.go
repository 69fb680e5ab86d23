package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/quailyquaily/deskmate/db/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMaxTokens = 500
)

type GormStore struct {
	db    *gorm.DB
	nowFn func() time.Time
}

func NewGormStore(gdb *gorm.DB) (*GormStore, error) {
	if gdb == nil {
		return nil, fmt.Errorf("nil gorm db")
	}
	return &GormStore{db: gdb, nowFn: time.Now}, nil
}

func (s *GormStore) now() time.Time {
	return s.nowFn().UTC()
}

func (s *GormStore) ListBusinesses(ctx context.Context) ([]models.Business, error) {
	var out []models.Business
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) Business(ctx context.Context, id uint) (models.Business, bool, error) {
	var b models.Business
	err := s.db.WithContext(ctx).First(&b, id).Error
	return b, found(err), ignoreNotFound(err)
}

func (s *GormStore) BusinessBySlug(ctx context.Context, slug string) (models.Business, bool, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return models.Business{}, false, nil
	}
	var b models.Business
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&b).Error
	return b, found(err), ignoreNotFound(err)
}

func (s *GormStore) SaveBusiness(ctx context.Context, b *models.Business) error {
	if b == nil {
		return fmt.Errorf("nil business")
	}
	b.Slug = strings.TrimSpace(b.Slug)
	if b.Slug == "" {
		return fmt.Errorf("business slug is required")
	}
	if b.ID == 0 {
		var existing models.Business
		err := s.db.WithContext(ctx).Where("slug = ?", b.Slug).First(&existing).Error
		if err == nil {
			b.ID = existing.ID
			b.CreatedAt = existing.CreatedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	return s.db.WithContext(ctx).Save(b).Error
}

// ResolveClient returns the client for the identity, creating it on first
// contact. Concurrent first contacts resolve to the same row. The display
// name is only filled in when the stored one is empty.
func (s *GormStore) ResolveClient(ctx context.Context, id ClientIdentity) (models.Client, error) {
	id.Platform = strings.TrimSpace(id.Platform)
	id.ExternalID = strings.TrimSpace(id.ExternalID)
	if id.BusinessID == 0 || id.Platform == "" || id.ExternalID == "" {
		return models.Client{}, fmt.Errorf("client identity is incomplete")
	}
	at := id.At.UTC()
	if id.At.IsZero() {
		at = s.now()
	}

	var out models.Client
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh := models.Client{
			BusinessID:     id.BusinessID,
			Platform:       id.Platform,
			ExternalID:     id.ExternalID,
			Phone:          strings.TrimSpace(id.Phone),
			TelegramID:     strings.TrimSpace(id.TelegramID),
			Name:           strings.TrimSpace(id.Name),
			Metadata:       datatypes.JSONMap{},
			FirstContactAt: at,
			LastContactAt:  at,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
			return err
		}
		if err := tx.Where("business_id = ? AND platform = ? AND external_id = ?", id.BusinessID, id.Platform, id.ExternalID).
			First(&out).Error; err != nil {
			return err
		}
		updates := map[string]any{"last_contact_at": at}
		if out.Name == "" && strings.TrimSpace(id.Name) != "" {
			updates["name"] = strings.TrimSpace(id.Name)
		}
		if out.Phone == "" && strings.TrimSpace(id.Phone) != "" {
			updates["phone"] = strings.TrimSpace(id.Phone)
		}
		if out.TelegramID == "" && strings.TrimSpace(id.TelegramID) != "" {
			updates["telegram_id"] = strings.TrimSpace(id.TelegramID)
		}
		if err := tx.Model(&models.Client{}).Where("id = ?", out.ID).Updates(updates).Error; err != nil {
			return err
		}
		out.LastContactAt = at
		if v, ok := updates["name"].(string); ok {
			out.Name = v
		}
		if v, ok := updates["phone"].(string); ok {
			out.Phone = v
		}
		if v, ok := updates["telegram_id"].(string); ok {
			out.TelegramID = v
		}
		return nil
	})
	if err != nil {
		return models.Client{}, fmt.Errorf("resolve client: %w", err)
	}
	return out, nil
}

func (s *GormStore) Client(ctx context.Context, id uint) (models.Client, error) {
	var c models.Client
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return models.Client{}, wrapNotFound("client", id, err)
	}
	return c, nil
}

func (s *GormStore) UpdateClient(ctx context.Context, c *models.Client) error {
	if c == nil || c.ID == 0 {
		return fmt.Errorf("client id is required")
	}
	return s.db.WithContext(ctx).Save(c).Error
}

// ResolveConversation returns the client's active conversation, opening a new
// one with initialState when there is none.
func (s *GormStore) ResolveConversation(ctx context.Context, businessID, clientID uint, initialState map[string]any) (models.Conversation, error) {
	if clientID == 0 {
		return models.Conversation{}, fmt.Errorf("client id is required")
	}
	var out models.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("client_id = ? AND status = ?", clientID, "active").First(&out).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		state := datatypes.JSONMap{}
		maps.Copy(state, initialState)
		fresh := models.Conversation{
			BusinessID:    businessID,
			ClientID:      clientID,
			Status:        "active",
			State:         state,
			Context:       datatypes.JSONMap{},
			Version:       1,
			LastMessageAt: s.now(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
			return err
		}
		return tx.Where("client_id = ? AND status = ?", clientID, "active").First(&out).Error
	})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("resolve conversation: %w", err)
	}
	return out, nil
}

func (s *GormStore) Conversation(ctx context.Context, id uint) (models.Conversation, error) {
	var c models.Conversation
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return models.Conversation{}, wrapNotFound("conversation", id, err)
	}
	return c, nil
}

// SaveConversation writes state, summary, context, status and last message
// time. It fails with ErrConflict when the stored version moved on since conv
// was loaded; on success conv.Version is advanced.
func (s *GormStore) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == 0 {
		return fmt.Errorf("conversation id is required")
	}
	state := conv.State
	if state == nil {
		state = datatypes.JSONMap{}
	}
	convCtx := conv.Context
	if convCtx == nil {
		convCtx = datatypes.JSONMap{}
	}
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND version = ?", conv.ID, conv.Version).
		Updates(map[string]any{
			"status":          conv.Status,
			"state":           state,
			"summary":         conv.Summary,
			"context":         convCtx,
			"last_message_at": conv.LastMessageAt,
			"version":         conv.Version + 1,
			"updated_at":      s.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("conversation %d at version %d: %w", conv.ID, conv.Version, ErrConflict)
	}
	conv.Version++
	return nil
}

func (s *GormStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ConversationID == 0 {
		return fmt.Errorf("message conversation id is required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *GormStore) InboundMessage(ctx context.Context, conversationID uint, externalID string) (models.Message, bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return models.Message{}, false, nil
	}
	var msg models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND external_id = ? AND role = ?", conversationID, externalID, "user").
		Order("id ASC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, err
	}
	return msg, true, nil
}

func (s *GormStore) CompleteInbound(ctx context.Context, messageID uint, reply *models.Message, at time.Time) error {
	if messageID == 0 {
		return fmt.Errorf("message id is required")
	}
	if at.IsZero() {
		at = s.now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if reply != nil {
			if reply.CreatedAt.IsZero() {
				reply.CreatedAt = at
			}
			if err := tx.Create(reply).Error; err != nil {
				return err
			}
		}
		res := tx.Model(&models.Message{}).Where("id = ?", messageID).Update("processed_at", at)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("message %d: %w", messageID, ErrNotFound)
		}
		return nil
	})
}

// RecentMessages returns the newest limit messages in insertion order.
func (s *GormStore) RecentMessages(ctx context.Context, conversationID uint, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []models.Message
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *GormStore) CreateAction(ctx context.Context, a *models.ClientAction) error {
	if a == nil {
		return fmt.Errorf("nil action")
	}
	if a.Details == nil {
		a.Details = datatypes.JSONMap{}
	}
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *GormStore) Action(ctx context.Context, id uint) (models.ClientAction, error) {
	var a models.ClientAction
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return models.ClientAction{}, wrapNotFound("action", id, err)
	}
	return a, nil
}

func (s *GormStore) UpdateAction(ctx context.Context, a *models.ClientAction) error {
	if a == nil || a.ID == 0 {
		return fmt.Errorf("action id is required")
	}
	return s.db.WithContext(ctx).Save(a).Error
}

func (s *GormStore) RecentActions(ctx context.Context, conversationID uint, limit int) ([]models.ClientAction, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []models.ClientAction
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ActiveConfiguration(ctx context.Context, businessID uint) (models.GptConfiguration, bool, error) {
	var cfg models.GptConfiguration
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND is_active = ?", businessID, true).
		Order("updated_at DESC").
		First(&cfg).Error
	return cfg, found(err), ignoreNotFound(err)
}

func (s *GormStore) Configuration(ctx context.Context, id uint) (models.GptConfiguration, error) {
	var cfg models.GptConfiguration
	if err := s.db.WithContext(ctx).First(&cfg, id).Error; err != nil {
		return models.GptConfiguration{}, wrapNotFound("configuration", id, err)
	}
	return cfg, nil
}

func (s *GormStore) ListConfigurations(ctx context.Context, businessID uint) ([]models.GptConfiguration, error) {
	var out []models.GptConfiguration
	if err := s.db.WithContext(ctx).Where("business_id = ?", businessID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConfiguration stores a new, inactive configuration. Use
// ActivateConfiguration to make it the business's active one.
func (s *GormStore) CreateConfiguration(ctx context.Context, cfg *models.GptConfiguration) error {
	if cfg == nil {
		return fmt.Errorf("nil configuration")
	}
	if cfg.BusinessID == 0 {
		return fmt.Errorf("configuration business id is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("configuration model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.AvailableActions == nil {
		cfg.AvailableActions = datatypes.JSONSlice[string]{}
	}
	cfg.IsActive = false
	return s.db.WithContext(ctx).Create(cfg).Error
}

// ActivateConfiguration leaves exactly one active configuration per business.
func (s *GormStore) ActivateConfiguration(ctx context.Context, businessID, configID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cfg models.GptConfiguration
		if err := tx.Where("id = ? AND business_id = ?", configID, businessID).First(&cfg).Error; err != nil {
			return wrapNotFound("configuration", configID, err)
		}
		if err := tx.Model(&models.GptConfiguration{}).
			Where("business_id = ? AND id <> ?", businessID, configID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&cfg).Update("is_active", true).Error
	})
}

func (s *GormStore) ManagerPreferences(ctx context.Context, businessID uint) ([]models.ManagerPreference, error) {
	var out []models.ManagerPreference
	if err := s.db.WithContext(ctx).Where("business_id = ?", businessID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) SaveManagerPreference(ctx context.Context, pref *models.ManagerPreference) error {
	if pref == nil || pref.BusinessID == 0 {
		return fmt.Errorf("manager preference business id is required")
	}
	if pref.WhatsAppGroups == nil {
		pref.WhatsAppGroups = datatypes.JSONSlice[string]{}
	}
	if pref.TelegramGroups == nil {
		pref.TelegramGroups = datatypes.JSONSlice[string]{}
	}
	if pref.ActionTypes == nil {
		pref.ActionTypes = datatypes.JSONSlice[string]{}
	}
	return s.db.WithContext(ctx).Save(pref).Error
}

func found(err error) bool {
	return err == nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}

func wrapNotFound(kind string, id uint, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return err
}
