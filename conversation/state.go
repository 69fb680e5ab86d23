package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	StatusActive = "active"
	StatusClosed = "closed"
)

const (
	KeyIntent   = "intent"
	KeyStage    = "stage"
	KeyAwaiting = "awaiting"
	KeyFlags    = "flags"
	KeySummary  = "summary"
)

const (
	StageInitial       = "initial"
	StageGatheringInfo = "gathering_info"
	StageConfirming    = "confirming"
	StageCompleted     = "completed"
	StageTransferred   = "transferred"
)

const (
	IntentGreeting    = "greeting"
	IntentMenu        = "menu"
	IntentReservation = "reservation"
	IntentOrder       = "order"
	IntentInquiry     = "inquiry"
	IntentComplaint   = "complaint"
	IntentCallback    = "callback"
	IntentOther       = "other"
	IntentUnknown     = "unknown"
)

var (
	Stages  = []string{StageInitial, StageGatheringInfo, StageConfirming, StageCompleted, StageTransferred}
	Intents = []string{IntentGreeting, IntentMenu, IntentReservation, IntentOrder, IntentInquiry, IntentComplaint, IntentCallback, IntentOther, IntentUnknown}
	// AwaitingHints are suggestions for the model; awaiting stays free-form.
	AwaitingHints = []string{"name", "phone", "date", "time", "party_size", "confirmation", "menu_choice", "address", "details"}
)

// State is an open attribute bag. Only intent, stage, awaiting and flags
// have meaning to the bot; other keys are carried along untouched.
type State map[string]any

func DefaultState() State {
	return State{
		KeyIntent:   IntentUnknown,
		KeyStage:    StageInitial,
		KeyAwaiting: nil,
		KeyFlags:    []any{},
	}
}

func (s State) Intent() string {
	if v := s.str(KeyIntent); v != "" {
		return v
	}
	return IntentUnknown
}

func (s State) Stage() string {
	if v := s.str(KeyStage); v != "" {
		return v
	}
	return StageInitial
}

func (s State) Awaiting() string {
	return s.str(KeyAwaiting)
}

func (s State) Flags() []string {
	switch v := s[KeyFlags].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			if str := strings.TrimSpace(fmt.Sprint(item)); str != "" {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func (s State) str(key string) string {
	switch v := s[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	case json.Number:
		return v.String()
	case float64, int, int64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// Merge returns a copy of s with every key of update overwriting the
// existing one. Nested values are replaced, never merged.
func (s State) Merge(update map[string]any) State {
	out := make(State, len(s)+len(update))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

func (s State) Clone() State {
	return s.Merge(nil)
}

// SplitSummary removes the summary key from a state update. The returned
// summary is non-empty only when the update carried a usable string.
func SplitSummary(update map[string]any) (map[string]any, string) {
	if update == nil {
		return nil, ""
	}
	rest := make(map[string]any, len(update))
	summary := ""
	for k, v := range update {
		if k == KeySummary {
			if str, ok := v.(string); ok {
				summary = strings.TrimSpace(str)
			}
			continue
		}
		rest[k] = v
	}
	return rest, summary
}

func IsKnownStage(stage string) bool {
	return contains(Stages, stage)
}

func IsKnownIntent(intent string) bool {
	return contains(Intents, intent)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
