package bus

import "testing"

func TestInboundMessageValidate(t *testing.T) {
	t.Parallel()

	ok := InboundMessage{Platform: PlatformTelegram, SenderID: "42", Content: "hi", MessageID: "7"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cases := map[string]InboundMessage{
		"platform":   {Platform: "sms", SenderID: "42", Content: "hi"},
		"sender":     {Platform: PlatformTelegram, Content: "hi"},
		"content":    {Platform: PlatformTelegram, SenderID: "42", Content: "   "},
		"padded_id":  {Platform: PlatformTelegram, SenderID: " 42", Content: "hi"},
		"message_id": {Platform: PlatformTelegram, SenderID: "42", Content: "hi", MessageID: "7 "},
	}
	for name, msg := range cases {
		if err := msg.Validate(); err == nil {
			t.Fatalf("%s: Validate() expected error", name)
		}
	}
}

func TestRecipientID(t *testing.T) {
	t.Parallel()

	if got := RecipientID(PlatformWhatsApp, "15551234", "", nil); got != "15551234" {
		t.Fatalf("whatsapp recipient mismatch: got %q", got)
	}
	if got := RecipientID(PlatformTelegram, "", "99", map[string]any{MetaChatID: "-100200"}); got != "-100200" {
		t.Fatalf("telegram chat recipient mismatch: got %q", got)
	}
	if got := RecipientID(PlatformTelegram, "", "99", map[string]any{MetaChatID: float64(-100200)}); got != "-100200" {
		t.Fatalf("telegram numeric chat recipient mismatch: got %q", got)
	}
	if got := RecipientID(PlatformTelegram, "", "99", nil); got != "99" {
		t.Fatalf("telegram fallback recipient mismatch: got %q", got)
	}
}

func TestBuildClientKey(t *testing.T) {
	t.Parallel()

	key, err := BuildClientKey(3, PlatformTelegram, "12345")
	if err != nil {
		t.Fatalf("BuildClientKey() error = %v", err)
	}
	if key != "b3:tg:12345" {
		t.Fatalf("key mismatch: got %q want %q", key, "b3:tg:12345")
	}
	if _, err := BuildClientKey(3, PlatformWhatsApp, "a b"); err == nil {
		t.Fatalf("BuildClientKey() expected error for spaced id")
	}
	if _, err := BuildClientKey(0, PlatformWhatsApp, "1"); err == nil {
		t.Fatalf("BuildClientKey() expected error for zero business")
	}
}
