package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	busruntime "github.com/quailyquaily/deskmate/internal/bus"
)

type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// Normalize decodes a Cloud API webhook. Status callbacks and non-text
// messages yield (nil, nil).
func Normalize(raw []byte) (*busruntime.InboundMessage, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("whatsapp payload decode: %w", err)
	}
	return NormalizePayload(payload), nil
}

func NormalizePayload(payload WebhookPayload) *busruntime.InboundMessage {
	if len(payload.Entry) == 0 || len(payload.Entry[0].Changes) == 0 {
		return nil
	}
	value := payload.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return nil
	}
	msg := value.Messages[0]
	if msg.Type != "text" || msg.Text == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text.Body)
	from := strings.TrimSpace(msg.From)
	if text == "" || from == "" {
		return nil
	}
	name := ""
	if len(value.Contacts) > 0 {
		name = strings.TrimSpace(value.Contacts[0].Profile.Name)
	}
	var sentAt time.Time
	if ts, err := strconv.ParseInt(strings.TrimSpace(msg.Timestamp), 10, 64); err == nil && ts > 0 {
		sentAt = time.Unix(ts, 0).UTC()
	}
	metadata := map[string]any{}
	if id := strings.TrimSpace(value.Metadata.PhoneNumberID); id != "" {
		metadata[busruntime.MetaPhoneNumberID] = id
	}
	return &busruntime.InboundMessage{
		Platform:   busruntime.PlatformWhatsApp,
		SenderID:   from,
		Content:    text,
		MessageID:  strings.TrimSpace(msg.ID),
		SenderName: name,
		SentAt:     sentAt,
		Metadata:   metadata,
	}
}
