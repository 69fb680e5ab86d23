package uniai

import (
	"testing"

	"github.com/quailyquaily/deskmate/llm"
)

func TestBuildChatOptions(t *testing.T) {
	t.Parallel()

	req := llm.Request{
		Model:       "gpt-4o-mini",
		Messages:    []llm.Message{{Role: llm.RoleSystem, Content: "be brief"}, {Role: llm.RoleUser, Content: "hello"}},
		MaxTokens:   100,
		Temperature: llm.Float(0.2),
	}
	// messages, provider, model, temperature, max tokens
	if got := len(buildChatOptions(req, "openai")); got != 5 {
		t.Fatalf("option count mismatch: got %d want 5", got)
	}
	// messages only
	if got := len(buildChatOptions(llm.Request{}, "")); got != 1 {
		t.Fatalf("option count mismatch: got %d want 1", got)
	}
}

func TestNormalizeOpenAIBase(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                            "",
		"https://api.openai.com":      "https://api.openai.com/v1",
		"https://api.openai.com/":     "https://api.openai.com/v1",
		"https://proxy.local/v1":      "https://proxy.local/v1",
		"https://proxy.local/v1/chat": "https://proxy.local/v1/chat",
	}
	for in, want := range cases {
		if got := normalizeOpenAIBase(in); got != want {
			t.Fatalf("normalizeOpenAIBase(%q) = %q want %q", in, got, want)
		}
	}
}
