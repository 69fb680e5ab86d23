package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quailyquaily/deskmate/db/models"
	busruntime "github.com/quailyquaily/deskmate/internal/bus"
	"github.com/quailyquaily/deskmate/internal/retryutil"
)

func TestNormalizePrivateMessage(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"update_id":1,"message":{"message_id":77,"date":1760000000,"chat":{"id":12345,"type":"private"},"from":{"id":12345,"username":"johnny","first_name":"John","last_name":"Doe"},"text":"  hello there "}}`)
	msg, err := NewNormalizer(NormalizerOptions{}).Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if msg == nil {
		t.Fatalf("Normalize() returned nil for private text message")
	}
	if msg.Platform != busruntime.PlatformTelegram {
		t.Fatalf("platform mismatch: got %q", msg.Platform)
	}
	if msg.SenderID != "12345" || msg.MessageID != "12345:77" {
		t.Fatalf("ids mismatch: sender=%q message=%q", msg.SenderID, msg.MessageID)
	}
	if msg.Content != "hello there" {
		t.Fatalf("content mismatch: got %q", msg.Content)
	}
	if msg.SenderName != "John Doe" {
		t.Fatalf("sender name mismatch: got %q", msg.SenderName)
	}
	if msg.ChatID() != "12345" {
		t.Fatalf("chat_id mismatch: got %q", msg.ChatID())
	}
	if msg.Metadata[busruntime.MetaUsername] != "johnny" {
		t.Fatalf("username mismatch: got %v", msg.Metadata[busruntime.MetaUsername])
	}
}

func TestNormalizeSkipsIrrelevantUpdates(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(NormalizerOptions{BotUsername: "deskbot"})
	cases := map[string]string{
		"no_message":       `{"update_id":2}`,
		"no_text":          `{"update_id":3,"message":{"message_id":1,"chat":{"id":1,"type":"private"},"from":{"id":1}}}`,
		"group_no_mention": `{"update_id":4,"message":{"message_id":1,"chat":{"id":-100,"type":"group"},"from":{"id":1},"text":"hi all"}}`,
		"group_other_bot":  `{"update_id":5,"message":{"message_id":1,"chat":{"id":-100,"type":"group"},"from":{"id":1},"text":"@otherbot hi","entities":[{"type":"mention","offset":0,"length":9}]}}`,
	}
	for name, raw := range cases {
		msg, err := n.Normalize([]byte(raw))
		if err != nil {
			t.Fatalf("%s: Normalize() error = %v", name, err)
		}
		if msg != nil {
			t.Fatalf("%s: Normalize() expected nil, got %+v", name, msg)
		}
	}
}

func TestNormalizeGroupMentionAndCommand(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(NormalizerOptions{BotUsername: "@DeskBot"})
	mention := `{"update_id":6,"message":{"message_id":9,"chat":{"id":-100,"type":"supergroup"},"from":{"id":5,"first_name":"Ann"},"text":"@deskbot table for two","entities":[{"type":"mention","offset":0,"length":8}]}}`
	msg, err := n.Normalize([]byte(mention))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if msg == nil || msg.ChatID() != "-100" || msg.SenderID != "5" {
		t.Fatalf("mention message mismatch: %+v", msg)
	}

	command := `{"update_id":7,"edited_message":{"message_id":10,"chat":{"id":-100,"type":"group"},"from":{"id":5},"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}`
	msg, err = n.Normalize([]byte(command))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if msg == nil || msg.Content != "/start" {
		t.Fatalf("command message mismatch: %+v", msg)
	}
}

func TestNormalizeRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	if _, err := NewNormalizer(NormalizerOptions{}).Normalize([]byte("{")); err == nil {
		t.Fatalf("Normalize() expected decode error")
	}
}

func TestSenderSend(t *testing.T) {
	t.Parallel()

	var gotPath string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	sender := NewSender(SenderOptions{BaseURL: srv.URL, HTTP: srv.Client()})
	err := sender.Send(context.Background(), models.Business{ID: 1, TelegramBotToken: "TOKEN"}, busruntime.OutboundMessage{
		Platform:    busruntime.PlatformTelegram,
		RecipientID: "12345",
		Content:     "hello",
		ReplyToID:   "12345:77",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotPath != "/botTOKEN/sendMessage" {
		t.Fatalf("path mismatch: got %q", gotPath)
	}
	if got["chat_id"] != float64(12345) || got["text"] != "hello" || got["parse_mode"] != "HTML" || got["reply_to_message_id"] != float64(77) {
		t.Fatalf("payload mismatch: %#v", got)
	}
}

func TestSenderSendFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "BAD") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":false,"description":"nope"}`))
	}))
	defer srv.Close()

	sender := NewSender(SenderOptions{BaseURL: srv.URL, HTTP: srv.Client()})
	msg := busruntime.OutboundMessage{Platform: busruntime.PlatformTelegram, RecipientID: "1", Content: "x"}

	err := sender.Send(context.Background(), models.Business{TelegramBotToken: "BAD"}, msg)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("Send() error mismatch: %v", err)
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("error text mismatch: %v", err)
	}

	if err := sender.Send(context.Background(), models.Business{TelegramBotToken: "OK"}, msg); err == nil {
		t.Fatalf("Send() expected error for ok=false")
	}

	err = sender.Send(context.Background(), models.Business{}, msg)
	if !retryutil.IsPermanent(err) {
		t.Fatalf("missing token should be permanent: %v", err)
	}
}

func TestEscapeHTML(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"plain":             "plain",
		"Fish & Chips <3":   "Fish &amp; Chips &lt;3",
		"a > b":             "a &gt; b",
		"<b>not markup</b>": "&lt;b&gt;not markup&lt;/b&gt;",
		"Привет & 你好":       "Привет &amp; 你好",
	}
	for in, want := range cases {
		if got := EscapeHTML(in); got != want {
			t.Fatalf("EscapeHTML(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeScopesMessageIDToChat(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(NormalizerOptions{BotUsername: "deskbot"})
	private, err := n.Normalize([]byte(`{"update_id":10,"message":{"message_id":57,"chat":{"id":12345,"type":"private"},"from":{"id":12345},"text":"hi"}}`))
	if err != nil || private == nil {
		t.Fatalf("Normalize(private) = %v, %v", private, err)
	}
	group, err := n.Normalize([]byte(`{"update_id":11,"message":{"message_id":57,"chat":{"id":-100777,"type":"group"},"from":{"id":12345},"text":"/menu","entities":[{"type":"bot_command","offset":0,"length":5}]}}`))
	if err != nil || group == nil {
		t.Fatalf("Normalize(group) = %v, %v", group, err)
	}
	if private.SenderID != group.SenderID {
		t.Fatalf("sender mismatch: %q vs %q", private.SenderID, group.SenderID)
	}
	if private.MessageID == group.MessageID {
		t.Fatalf("message ids collide across chats: %q", private.MessageID)
	}
	if group.MessageID != "-100777:57" {
		t.Fatalf("group message id = %q", group.MessageID)
	}
}

func TestReplyMessageID(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"12345:77":   77,
		"-100777:57": 57,
		"77":         77,
	}
	for in, want := range cases {
		got, ok := ReplyMessageID(in)
		if !ok || got != want {
			t.Fatalf("ReplyMessageID(%q) = %d, %v; want %d", in, got, ok, want)
		}
	}
	for _, in := range []string{"", "abc", "12:0", "12:"} {
		if _, ok := ReplyMessageID(in); ok {
			t.Fatalf("ReplyMessageID(%q) should fail", in)
		}
	}
}
