package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quailyquaily/deskmate/db/models"
	busruntime "github.com/quailyquaily/deskmate/internal/bus"
	"github.com/quailyquaily/deskmate/internal/retryutil"
)

const DefaultBaseURL = "https://api.telegram.org"

type SenderOptions struct {
	BaseURL string
	HTTP    *http.Client
}

type Sender struct {
	baseURL string
	http    *http.Client
}

func NewSender(opts SenderOptions) *Sender {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Sender{baseURL: baseURL, http: httpClient}
}

type sendMessageRequest struct {
	ChatID           any    `json:"chat_id"`
	Text             string `json:"text"`
	ParseMode        string `json:"parse_mode,omitempty"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

type setWebhookRequest struct {
	URL            string   `json:"url"`
	SecretToken    string   `json:"secret_token,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

type okResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

type RequestError struct {
	StatusCode  int
	ErrorCode   int
	Description string
	Body        string
}

func (e *RequestError) Error() string {
	if e == nil {
		return "telegram request failed"
	}
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		desc = strings.TrimSpace(e.Body)
	}
	if desc == "" {
		return fmt.Sprintf("telegram http %d", e.StatusCode)
	}
	return fmt.Sprintf("telegram http %d: %s", e.StatusCode, desc)
}

func (s *Sender) Send(ctx context.Context, business models.Business, msg busruntime.OutboundMessage) error {
	if s == nil {
		return fmt.Errorf("telegram sender is not initialized")
	}
	if msg.Platform != busruntime.PlatformTelegram {
		return retryutil.Permanent(fmt.Errorf("platform must be telegram"))
	}
	if err := msg.Validate(); err != nil {
		return retryutil.Permanent(err)
	}
	token := strings.TrimSpace(business.TelegramBotToken)
	if token == "" {
		return retryutil.Permanent(fmt.Errorf("business %d has no telegram bot token", business.ID))
	}
	body := sendMessageRequest{
		ChatID:    chatIDValue(msg.RecipientID),
		Text:      EscapeHTML(msg.Content),
		ParseMode: "HTML",
	}
	if replyTo, ok := ReplyMessageID(msg.ReplyToID); ok {
		body.ReplyToMessageID = replyTo
	}
	return s.call(ctx, token, "sendMessage", body)
}

// SetWebhook registers the webhook URL and secret for a business bot.
func (s *Sender) SetWebhook(ctx context.Context, business models.Business, url string) error {
	token := strings.TrimSpace(business.TelegramBotToken)
	if token == "" {
		return fmt.Errorf("business %d has no telegram bot token", business.ID)
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return fmt.Errorf("webhook url is required")
	}
	return s.call(ctx, token, "setWebhook", setWebhookRequest{
		URL:            url,
		SecretToken:    strings.TrimSpace(business.TelegramWebhookSecret),
		AllowedUpdates: []string{"message", "edited_message"},
	})
}

func (s *Sender) call(ctx context.Context, token, method string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return retryutil.Permanent(err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", s.baseURL, token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	var out okResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.OK {
		return &RequestError{
			StatusCode:  resp.StatusCode,
			ErrorCode:   out.ErrorCode,
			Description: out.Description,
			Body:        strings.TrimSpace(string(raw)),
		}
	}
	return nil
}

func chatIDValue(recipient string) any {
	recipient = strings.TrimSpace(recipient)
	if id, err := strconv.ParseInt(recipient, 10, 64); err == nil {
		return id
	}
	return recipient
}
