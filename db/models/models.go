package models

import (
	"time"

	"gorm.io/datatypes"
)

type Business struct {
	ID                    uint   `gorm:"primaryKey"`
	Name                  string `gorm:"not null"`
	Slug                  string `gorm:"size:120;not null;uniqueIndex"`
	WhatsAppPhoneID       string `gorm:"column:whatsapp_phone_id;size:64;index"`
	WhatsAppAccessToken   string `gorm:"column:whatsapp_access_token"`
	TelegramBotToken      string
	TelegramWebhookSecret string
	IsActive              bool `gorm:"not null"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Client struct {
	ID             uint   `gorm:"primaryKey"`
	BusinessID     uint   `gorm:"not null;uniqueIndex:idx_clients_identity"`
	Platform       string `gorm:"size:16;not null;uniqueIndex:idx_clients_identity"`
	ExternalID     string `gorm:"size:64;not null;uniqueIndex:idx_clients_identity"`
	Phone          string `gorm:"size:32"`
	TelegramID     string `gorm:"size:32"`
	Name           string
	Metadata       datatypes.JSONMap
	FirstContactAt time.Time
	LastContactAt  time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Conversation struct {
	ID            uint   `gorm:"primaryKey"`
	BusinessID    uint   `gorm:"not null;index"`
	ClientID      uint   `gorm:"not null;index;uniqueIndex:idx_conversations_one_active,where:status = 'active'"`
	Status        string `gorm:"size:16;not null;index"`
	State         datatypes.JSONMap
	Summary       string `gorm:"type:text"`
	Context       datatypes.JSONMap
	Version       int64 `gorm:"not null"`
	LastMessageAt time.Time `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Message struct {
	ID             uint   `gorm:"primaryKey"`
	ConversationID uint   `gorm:"not null;index"`
	Role           string `gorm:"size:16;not null"`
	Content        string `gorm:"type:text"`
	ExternalID     string `gorm:"size:128;index"`
	ProcessedAt    *time.Time
	CreatedAt      time.Time
}

type ClientAction struct {
	ID             uint   `gorm:"primaryKey"`
	Reference      string `gorm:"size:32;uniqueIndex"`
	BusinessID     uint   `gorm:"not null;index"`
	ClientID       uint   `gorm:"not null;index"`
	ConversationID uint   `gorm:"not null;index"`
	Type           string `gorm:"size:32;not null"`
	Details        datatypes.JSONMap
	ClientName     string
	ClientPhone    string `gorm:"size:32"`
	Status         string `gorm:"size:16;not null;index"`
	Priority       string `gorm:"size:16;not null"`
	AssignedUserID *uint
	ProcessedAt    *time.Time
	Notes          string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type GptConfiguration struct {
	ID               uint   `gorm:"primaryKey"`
	BusinessID       uint   `gorm:"not null;index"`
	Name             string `gorm:"not null"`
	Model            string `gorm:"size:64;not null"`
	MaxTokens        int
	Temperature      float64
	SystemPrompt     string `gorm:"type:text"`
	AvailableActions datatypes.JSONSlice[string]
	IsActive         bool `gorm:"not null;index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type ManagerPreference struct {
	ID             uint   `gorm:"primaryKey"`
	BusinessID     uint   `gorm:"not null;index"`
	Name           string `gorm:"not null"`
	WhatsAppGroups datatypes.JSONSlice[string] `gorm:"column:whatsapp_groups"`
	TelegramGroups datatypes.JSONSlice[string]
	ActionTypes    datatypes.JSONSlice[string]
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
