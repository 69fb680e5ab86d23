package bus

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
)

func ParsePlatform(raw string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("platform is invalid: %q", raw)
	}
	return p, nil
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformWhatsApp, PlatformTelegram:
		return true
	default:
		return false
	}
}

const (
	MetaChatID        = "chat_id"
	MetaChatType      = "chat_type"
	MetaUsername      = "username"
	MetaPhoneNumberID = "phone_number_id"
)

// InboundMessage is a channel payload reduced to what the pipeline needs.
type InboundMessage struct {
	Platform   Platform
	SenderID   string
	Content    string
	MessageID  string
	SenderName string
	SentAt     time.Time
	Metadata   map[string]any
}

func (m InboundMessage) Validate() error {
	if !m.Platform.Valid() {
		return fmt.Errorf("platform is invalid")
	}
	if err := validateRequiredCanonicalString("sender_id", m.SenderID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("content is required")
	}
	if m.MessageID != "" {
		if err := validateOptionalCanonicalString("message_id", m.MessageID); err != nil {
			return err
		}
	}
	return nil
}

// ChatID returns the chat id carried in metadata, if any.
func (m InboundMessage) ChatID() string {
	return MetadataString(m.Metadata, MetaChatID)
}

type OutboundMessage struct {
	Platform    Platform `json:"platform"`
	RecipientID string   `json:"recipient_id"`
	Content     string   `json:"content"`
	ReplyToID   string   `json:"reply_to_id,omitempty"`
}

func (m OutboundMessage) Validate() error {
	if !m.Platform.Valid() {
		return fmt.Errorf("platform is invalid")
	}
	if err := validateRequiredCanonicalString("recipient_id", m.RecipientID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("content is required")
	}
	return nil
}

// RecipientID picks the address a reply goes to. Telegram prefers the chat id
// recorded in metadata so group chats are answered in the group.
func RecipientID(platform Platform, phone, telegramID string, metadata map[string]any) string {
	switch platform {
	case PlatformWhatsApp:
		return strings.TrimSpace(phone)
	case PlatformTelegram:
		if chatID := MetadataString(metadata, MetaChatID); chatID != "" {
			return chatID
		}
		return strings.TrimSpace(telegramID)
	default:
		return ""
	}
}

func MetadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	switch v := metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func validateRequiredCanonicalString(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	return validateOptionalCanonicalString(field, value)
}

func validateOptionalCanonicalString(field, value string) error {
	if strings.TrimSpace(value) != value {
		return fmt.Errorf("%s must not have leading or trailing spaces", field)
	}
	return nil
}
