package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quailyquaily/deskmate/db/models"
	busruntime "github.com/quailyquaily/deskmate/internal/bus"
	"github.com/quailyquaily/deskmate/internal/retryutil"
)

const (
	DefaultAPIURL     = "https://graph.facebook.com"
	DefaultAPIVersion = "v18.0"
)

type SenderOptions struct {
	APIURL     string
	APIVersion string
	HTTP       *http.Client
}

type Sender struct {
	apiURL     string
	apiVersion string
	http       *http.Client
}

func NewSender(opts SenderOptions) *Sender {
	apiURL := strings.TrimRight(strings.TrimSpace(opts.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	version := strings.Trim(strings.TrimSpace(opts.APIVersion), "/")
	if version == "" {
		version = DefaultAPIVersion
	}
	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Sender{apiURL: apiURL, apiVersion: version, http: httpClient}
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type messageContext struct {
	MessageID string `json:"message_id"`
}

type sendRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Text             textBody        `json:"text"`
	Context          *messageContext `json:"context,omitempty"`
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func (s *Sender) Send(ctx context.Context, business models.Business, msg busruntime.OutboundMessage) error {
	if s == nil {
		return fmt.Errorf("whatsapp sender is not initialized")
	}
	if msg.Platform != busruntime.PlatformWhatsApp {
		return retryutil.Permanent(fmt.Errorf("platform must be whatsapp"))
	}
	if err := msg.Validate(); err != nil {
		return retryutil.Permanent(err)
	}
	phoneID := strings.TrimSpace(business.WhatsAppPhoneID)
	token := strings.TrimSpace(business.WhatsAppAccessToken)
	if phoneID == "" || token == "" {
		return retryutil.Permanent(fmt.Errorf("business %d has no whatsapp credentials", business.ID))
	}

	body := sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.RecipientID,
		Type:             "text",
		Text:             textBody{PreviewURL: false, Body: msg.Content},
	}
	if replyTo := strings.TrimSpace(msg.ReplyToID); replyTo != "" {
		body.Context = &messageContext{MessageID: replyTo}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return retryutil.Permanent(err)
	}
	url := fmt.Sprintf("%s/%s/%s/messages", s.apiURL, s.apiVersion, phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var out errorResponse
		if json.Unmarshal(raw, &out) == nil && out.Error != nil && out.Error.Message != "" {
			return fmt.Errorf("whatsapp http %d: %s", resp.StatusCode, out.Error.Message)
		}
		return fmt.Errorf("whatsapp http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
