package actions

import (
	"strings"
)

type Type string

const (
	TypeReservation Type = "reservation"
	TypeOrder       Type = "order"
	TypeInquiry     Type = "inquiry"
	TypeComplaint   Type = "complaint"
	TypeCallback    Type = "callback"
	TypeOther       Type = "other"
)

var AllTypes = []Type{TypeReservation, TypeOrder, TypeInquiry, TypeComplaint, TypeCallback, TypeOther}

// ParseType maps a tag name onto the closed set. Unknown names become other.
func ParseType(raw string) Type {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllTypes {
		if t == known {
			return t
		}
	}
	return TypeOther
}

func (t Type) Label() string {
	switch t {
	case TypeReservation:
		return "Reservation"
	case TypeOrder:
		return "Order"
	case TypeInquiry:
		return "Inquiry"
	case TypeComplaint:
		return "Complaint"
	case TypeCallback:
		return "Callback Request"
	default:
		return "Other"
	}
}

func (t Type) Emoji() string {
	switch t {
	case TypeReservation:
		return "📅"
	case TypeOrder:
		return "🛒"
	case TypeInquiry:
		return "❓"
	case TypeComplaint:
		return "⚠️"
	case TypeCallback:
		return "📞"
	default:
		return "🔔"
	}
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return s, true
	default:
		return "", false
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition enforces pending -> processing -> terminal. Pending may jump
// straight to a terminal status; terminal statuses are final.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to.Terminal()
	case StatusProcessing:
		return to.Terminal()
	default:
		return false
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func parsePriority(raw string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return p, true
	default:
		return "", false
	}
}

// ParsedAction is one action tag lifted out of a completion.
type ParsedAction struct {
	Type        Type
	RawType     string
	Details     map[string]any
	ClientName  string
	ClientPhone string
}

func NewParsedAction(rawType string, details map[string]any) ParsedAction {
	if details == nil {
		details = map[string]any{}
	}
	return ParsedAction{
		Type:        ParseType(rawType),
		RawType:     rawType,
		Details:     details,
		ClientName:  firstString(details, "client_name", "name"),
		ClientPhone: firstString(details, "client_phone", "phone"),
	}
}

type CatalogEntry struct {
	Type        Type
	Description string
	Fields      string
}

var catalog = map[Type]CatalogEntry{
	TypeReservation: {TypeReservation, "For table bookings.", "date, time, party_size, name, phone, special_requests (optional)"},
	TypeOrder:       {TypeOrder, "For orders.", "items (array), name, phone, delivery_address (if applicable)"},
	TypeInquiry:     {TypeInquiry, "For questions that need a follow-up answer.", "topic, details"},
	TypeComplaint:   {TypeComplaint, "For complaints.", "issue, details, urgency (low/medium/high)"},
	TypeCallback:    {TypeCallback, "When the client asks to be called back.", "name, phone, preferred_time (optional), reason"},
	TypeOther:       {TypeOther, "For any other request.", "type, details"},
}

// Catalog lists the entries for the given type names in order. Empty input
// means every type. Unknown names are skipped.
func Catalog(enabled []string) []CatalogEntry {
	if len(enabled) == 0 {
		out := make([]CatalogEntry, 0, len(AllTypes))
		for _, t := range AllTypes {
			out = append(out, catalog[t])
		}
		return out
	}
	out := make([]CatalogEntry, 0, len(enabled))
	seen := map[Type]bool{}
	for _, raw := range enabled {
		entry, ok := catalog[Type(strings.ToLower(strings.TrimSpace(raw)))]
		if !ok || seen[entry.Type] {
			continue
		}
		seen[entry.Type] = true
		out = append(out, entry)
	}
	return out
}
