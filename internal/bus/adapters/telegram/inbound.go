package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	busruntime "github.com/quailyquaily/deskmate/internal/bus"
)

type Update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *Message `json:"message,omitempty"`
	EditedMessage *Message `json:"edited_message,omitempty"`
}

type Message struct {
	MessageID int64    `json:"message_id"`
	Date      int64    `json:"date,omitempty"`
	Chat      *Chat    `json:"chat,omitempty"`
	From      *User    `json:"from,omitempty"`
	Entities  []Entity `json:"entities,omitempty"`
	Text      string   `json:"text,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"` // private|group|supergroup|channel
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	User   *User  `json:"user,omitempty"`
}

type NormalizerOptions struct {
	// BotUsername restricts group mentions to this bot. Empty accepts any mention.
	BotUsername string
}

type Normalizer struct {
	botUsername string
}

func NewNormalizer(opts NormalizerOptions) *Normalizer {
	return &Normalizer{botUsername: strings.TrimPrefix(strings.TrimSpace(opts.BotUsername), "@")}
}

// Normalize decodes a webhook update. It returns (nil, nil) for updates the
// bot should not answer.
func (n *Normalizer) Normalize(raw []byte) (*busruntime.InboundMessage, error) {
	var upd Update
	if err := json.Unmarshal(raw, &upd); err != nil {
		return nil, fmt.Errorf("telegram update decode: %w", err)
	}
	return n.NormalizeUpdate(upd), nil
}

func (n *Normalizer) NormalizeUpdate(upd Update) *busruntime.InboundMessage {
	msg := upd.Message
	if msg == nil {
		msg = upd.EditedMessage
	}
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	chatType := strings.TrimSpace(msg.Chat.Type)
	if chatType != "private" && !n.addressed(msg) {
		return nil
	}

	sentAt := time.Time{}
	if msg.Date > 0 {
		sentAt = time.Unix(msg.Date, 0).UTC()
	}
	metadata := map[string]any{
		busruntime.MetaChatID:   strconv.FormatInt(msg.Chat.ID, 10),
		busruntime.MetaChatType: chatType,
	}
	if username := strings.TrimSpace(msg.From.Username); username != "" {
		metadata[busruntime.MetaUsername] = username
	}
	return &busruntime.InboundMessage{
		Platform:   busruntime.PlatformTelegram,
		SenderID:   strconv.FormatInt(msg.From.ID, 10),
		Content:    text,
		MessageID:  MessageKey(msg.Chat.ID, msg.MessageID),
		SenderName: DisplayName(msg.From),
		SentAt:     sentAt,
		Metadata:   metadata,
	}
}

func (n *Normalizer) addressed(msg *Message) bool {
	for _, e := range msg.Entities {
		switch e.Type {
		case "bot_command":
			return true
		case "mention":
			if n.botUsername == "" {
				return true
			}
			mention := entityText(msg.Text, e)
			if strings.EqualFold(strings.TrimPrefix(mention, "@"), n.botUsername) {
				return true
			}
		case "text_mention":
			if e.User != nil && e.User.IsBot {
				return true
			}
		}
	}
	return false
}

// entityText slices by UTF-16 offsets, which is how Telegram counts.
func entityText(text string, e Entity) string {
	units := utf16Units(text)
	if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
		return ""
	}
	return decodeUTF16(units[e.Offset : e.Offset+e.Length])
}

// DisplayName joins first and last name. Username is not a display name here.
func DisplayName(u *User) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}
