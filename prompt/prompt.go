// Package prompt assembles the layered system messages sent ahead of the
// conversation history.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/quailyquaily/deskmate/actions"
	"github.com/quailyquaily/deskmate/conversation"
	"github.com/quailyquaily/deskmate/db/models"
	"github.com/quailyquaily/deskmate/llm"
)

const RecentActionLimit = 3

type Input struct {
	Business models.Business
	Config   models.GptConfiguration
	State    conversation.State
	// Client is optional.
	Client  *models.Client
	Context map[string]any
	// RecentActions are newest first; only the first RecentActionLimit are used.
	RecentActions []models.ClientAction
	Summary       string
}

// Build returns the system messages in a fixed order: base prompt, state,
// context, summary (only when set), state update instructions.
func Build(in Input) []llm.Message {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: BasePrompt(in.Business, in.Config)},
		{Role: llm.RoleSystem, Content: StateBlock(in.State)},
		{Role: llm.RoleSystem, Content: ContextBlock(in.Client, in.Context, in.RecentActions)},
	}
	if summary := strings.TrimSpace(in.Summary); summary != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: "CONVERSATION SUMMARY:\n" + summary})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: stateUpdateInstructions})
	return msgs
}

func BasePrompt(business models.Business, cfg models.GptConfiguration) string {
	base := strings.TrimSpace(cfg.SystemPrompt)
	if base == "" {
		base = DefaultSystemPrompt(business.Name)
	}
	return base + "\n\n" + ActionInstructions(cfg.AvailableActions)
}

func DefaultSystemPrompt(businessName string) string {
	name := strings.TrimSpace(businessName)
	if name == "" {
		name = "this business"
	}
	return fmt.Sprintf(`You are the AI assistant for %s. Your job is to help customers professionally with questions,
table reservations, orders and complaints.

Always be polite, helpful and professional. If you do not know something, say so honestly
and offer to connect the customer with a human representative.

When a customer wants to perform an action (book a table or place an order), collect all the required
information before submitting it.

Reply in the language the customer writes in.`, name)
}

// ActionInstructions describes the tag format and the enabled action types.
// An empty list enables every type.
func ActionInstructions(enabled []string) string {
	var b strings.Builder
	b.WriteString("When the customer requests an action, add it to your reply in this format:\n")
	b.WriteString("[ACTION:action_type]{\"key\": \"value\"}[/ACTION]\n\n")
	b.WriteString("Available actions:\n")
	for _, entry := range actions.Catalog(enabled) {
		fmt.Fprintf(&b, "- %s: %s Include: %s\n", entry.Type, entry.Description, entry.Fields)
	}
	b.WriteString("\nReservation example:\n")
	b.WriteString("[ACTION:reservation]{\"date\": \"2024-01-15\", \"time\": \"19:00\", \"party_size\": 4, \"name\": \"John\", \"phone\": \"+15551234567\"}[/ACTION]\n")
	b.WriteString("\nAlways put the action tag in the same message as your natural reply to the customer.")

	b.WriteString("\n\n⚠️ IMPORTANT ABOUT CONFIRMATIONS:\n")
	b.WriteString("Do NOT confirm reservations or orders yourself! When you create an action:\n")
	b.WriteString("- Tell the customer their REQUEST HAS BEEN SUBMITTED and passed to a manager for confirmation\n")
	b.WriteString("- Tell them a manager will get back to them to confirm\n")
	b.WriteString("- Do NOT say 'booked', 'confirmed' or 'done'. Only say 'request received' or 'request submitted'\n")
	b.WriteString("\nExample of a correct reply:\n")
	b.WriteString("\"Great! Your request for a table for 4 on January 15 at 19:00 has been submitted. ")
	b.WriteString("A manager will check availability and contact you to confirm.\"\n")
	return b.String()
}

func StateBlock(state conversation.State) string {
	lines := []string{
		"CONVERSATION STATE:",
		"intent=" + state.Intent(),
		"stage=" + state.Stage(),
	}
	if awaiting := state.Awaiting(); awaiting != "" {
		lines = append(lines, "awaiting="+awaiting)
	}
	if flags := state.Flags(); len(flags) > 0 {
		lines = append(lines, "flags="+strings.Join(flags, ","))
	}
	return strings.Join(lines, "\n")
}

func ContextBlock(client *models.Client, convContext map[string]any, recent []models.ClientAction) string {
	lines := []string{"CONTEXT:"}
	if client != nil {
		lines = append(lines, "Name: "+orDefault(client.Name, "unknown"))
		lines = append(lines, "Phone: "+orDefault(client.Phone, "unknown"))
		if !client.FirstContactAt.IsZero() {
			lines = append(lines, "Client since: "+client.FirstContactAt.Format("02.01.2006"))
		}
	}

	keys := make([]string, 0, len(convContext))
	for k := range convContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, contextLabel(k)+": "+contextValue(convContext[k]))
	}

	if len(recent) > RecentActionLimit {
		recent = recent[:RecentActionLimit]
	}
	if len(recent) > 0 {
		lines = append(lines, "", "Recent actions:")
		for _, a := range recent {
			lines = append(lines, fmt.Sprintf("- %s (%s): %s", a.Type, a.Status, compactJSON(a.Details)))
		}
	}
	return strings.Join(lines, "\n")
}

const stateUpdateInstructions = `IMPORTANT: At the end of EVERY reply add a state update in this format:
[STATE]{"intent":"current_intent","stage":"current_stage","awaiting":"what_we_wait_for","summary":"short_conversation_summary"}[/STATE]

Allowed values:
- intent: greeting, menu, reservation, order, inquiry, complaint, callback, other
- stage: initial, gathering_info, confirming, completed, transferred
- awaiting: null, name, phone, date, time, party_size, confirmation, menu_choice, address, details
- summary: a short description of what happened in the conversation (1-2 sentences)

Example:
[STATE]{"intent":"reservation","stage":"gathering_info","awaiting":"date","summary":"Customer wants to book a table, asking for the date"}[/STATE]`

func contextLabel(key string) string {
	label := strings.ReplaceAll(key, "_", " ")
	r, size := utf8.DecodeRuneInString(label)
	if r == utf8.RuneError {
		return label
	}
	return string(unicode.ToUpper(r)) + label[size:]
}

func contextValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any, map[string]any, []string:
		return compactJSON(x)
	default:
		return fmt.Sprint(x)
	}
}

func compactJSON(v any) string {
	if v == nil {
		return "null"
	}
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "{}"
	}
	return strings.TrimSpace(b.String())
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
