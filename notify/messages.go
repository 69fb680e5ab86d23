package notify

import (
	"strings"

	"github.com/quailyquaily/deskmate/actions"
	"github.com/quailyquaily/deskmate/db/models"
)

// ManagerMessage renders the staff group notification for a new action.
func ManagerMessage(a models.ClientAction) string {
	t := actions.ParseType(a.Type)
	details := map[string]any(a.Details)

	var b strings.Builder
	b.WriteString(t.Emoji() + " New " + t.Label() + "\n\n")
	b.WriteString("Client: " + a.ClientName)
	if phone := strings.TrimSpace(a.ClientPhone); phone != "" {
		b.WriteString(" (" + phone + ")")
	}
	b.WriteString("\n")

	switch t {
	case actions.TypeReservation:
		if actions.DetailPresent(details, "date") {
			b.WriteString("Date: " + actions.DetailString(details, "date"))
			if actions.DetailPresent(details, "time") {
				b.WriteString(" at " + actions.DetailString(details, "time"))
			}
			b.WriteString("\n")
		}
		if actions.DetailPresent(details, "party_size") {
			b.WriteString("Party size: " + actions.DetailString(details, "party_size") + "\n")
		}
		if actions.DetailPresent(details, "special_requests") {
			b.WriteString("Special requests: " + actions.DetailString(details, "special_requests") + "\n")
		}
	case actions.TypeOrder:
		if names := itemNames(details["items"]); len(names) > 0 {
			b.WriteString("Items: " + strings.Join(names, ", ") + "\n")
		}
	default:
		if actions.DetailPresent(details, "details") {
			b.WriteString("Details: " + actions.DetailString(details, "details") + "\n")
		}
	}

	if actions.Priority(a.Priority) == actions.PriorityHigh {
		b.WriteString("\n⚠️ HIGH PRIORITY")
	}
	return b.String()
}

// itemNames accepts items as objects with a name field or as plain strings.
func itemNames(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case map[string]any:
			if name := actions.DetailString(v, "name"); name != "" {
				out = append(out, name)
			}
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// ClientMessage renders the message sent to the client when an action
// reaches a terminal status. Non-terminal statuses render empty.
func ClientMessage(a models.ClientAction, status actions.Status) string {
	t := actions.ParseType(a.Type)
	notes := strings.TrimSpace(a.Notes)
	switch status {
	case actions.StatusCompleted:
		msg := completedMessage(t, a.Details)
		if notes != "" {
			msg += "\n\n" + notes
		}
		return msg
	case actions.StatusFailed:
		var msg string
		switch t {
		case actions.TypeReservation:
			msg = "Unfortunately, we cannot confirm your reservation."
		case actions.TypeOrder:
			msg = "Unfortunately, we cannot fulfil your order."
		default:
			msg = "Unfortunately, we cannot complete your request."
		}
		if notes != "" {
			msg += "\n\nReason: " + notes
		}
		return msg + "\n\nPlease contact us for details."
	case actions.StatusCancelled:
		var msg string
		switch t {
		case actions.TypeReservation:
			msg = "Your reservation has been cancelled."
		case actions.TypeOrder:
			msg = "Your order has been cancelled."
		default:
			msg = "Your request has been cancelled."
		}
		if notes != "" {
			msg += "\n\nNote: " + notes
		}
		return msg
	default:
		return ""
	}
}

func completedMessage(t actions.Type, details map[string]any) string {
	switch t {
	case actions.TypeReservation:
		var b strings.Builder
		b.WriteString("Your reservation is confirmed!")
		if actions.DetailPresent(details, "date") {
			b.WriteString("\n📅 Date: " + actions.DetailString(details, "date"))
		}
		if actions.DetailPresent(details, "time") {
			b.WriteString("\n🕐 Time: " + actions.DetailString(details, "time"))
		}
		if actions.DetailPresent(details, "party_size") {
			b.WriteString("\n👥 Party size: " + actions.DetailString(details, "party_size"))
		}
		b.WriteString("\n\nWe look forward to seeing you!")
		return b.String()
	case actions.TypeOrder:
		return "Your order is confirmed!"
	case actions.TypeCallback:
		return "We will contact you shortly."
	case actions.TypeInquiry:
		return "Your request has been processed."
	case actions.TypeComplaint:
		return "Your complaint has been reviewed. Thank you for your feedback."
	default:
		return "Your request has been completed."
	}
}
