package llm

import (
	"fmt"
	"testing"
)

func TestStatusError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("chat: %w", &StatusError{Provider: "openai", StatusCode: 429, Message: "rate limited"})
	if !IsStatusError(err) {
		t.Fatalf("IsStatusError() mismatch for %v", err)
	}
	if got := err.Error(); got != "chat: openai http 429: rate limited" {
		t.Fatalf("error text mismatch: got %q", got)
	}
	if got := (&StatusError{Provider: "openai", StatusCode: 500}).Error(); got != "openai http 500" {
		t.Fatalf("error text mismatch: got %q", got)
	}
	if IsStatusError(fmt.Errorf("dial tcp: timeout")) {
		t.Fatalf("IsStatusError() should be false for network errors")
	}
}
