package actions

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrValidation = errors.New("action validation failed")

type ValidationError struct {
	Type   Type
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", e.Type, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Handler validates one action type and decides its priority.
type Handler interface {
	Validate(a ParsedAction) error
	Priority(a ParsedAction) Priority
}

type reservationHandler struct {
	now func() time.Time
}

func (h reservationHandler) Validate(a ParsedAction) error {
	if !present(a.Details, "date") {
		return &ValidationError{Type: a.Type, Field: "date", Reason: "is required"}
	}
	if !present(a.Details, "time") {
		return &ValidationError{Type: a.Type, Field: "time", Reason: "is required"}
	}
	if _, ok := parseDate(stringValue(a.Details["date"]), h.now()); !ok {
		return &ValidationError{Type: a.Type, Field: "date", Reason: "is not a valid date"}
	}
	if raw, ok := a.Details["party_size"]; ok && raw != nil {
		n, ok := numberValue(raw)
		if !ok {
			return &ValidationError{Type: a.Type, Field: "party_size", Reason: "must be numeric"}
		}
		if n < 1 {
			return &ValidationError{Type: a.Type, Field: "party_size", Reason: "must be at least 1"}
		}
	}
	return nil
}

func (h reservationHandler) Priority(a ParsedAction) Priority {
	now := h.now()
	if date, ok := parseDate(stringValue(a.Details["date"]), now); ok {
		tomorrow := startOfDay(now).AddDate(0, 0, 1)
		if !startOfDay(date).After(tomorrow) {
			return PriorityHigh
		}
	}
	if n, ok := numberValue(a.Details["party_size"]); ok && n >= 8 {
		return PriorityHigh
	}
	return PriorityNormal
}

type orderHandler struct{}

func (orderHandler) Validate(a ParsedAction) error {
	if raw, ok := a.Details["items"]; ok && raw != nil {
		if _, isList := raw.([]any); !isList {
			return &ValidationError{Type: a.Type, Field: "items", Reason: "must be an array"}
		}
	}
	if !present(a.Details, "items") && !present(a.Details, "description") {
		return &ValidationError{Type: a.Type, Reason: "items or description is required"}
	}
	return nil
}

func (orderHandler) Priority(a ParsedAction) Priority {
	if truthy(a.Details, "urgent") || truthy(a.Details, "express") {
		return PriorityHigh
	}
	if items, ok := a.Details["items"].([]any); ok && len(items) >= 5 {
		return PriorityHigh
	}
	return PriorityNormal
}

// inquiryHandler serves inquiry, complaint, callback and other.
type inquiryHandler struct{}

func (inquiryHandler) Validate(a ParsedAction) error {
	for _, key := range []string{"topic", "details", "issue"} {
		if present(a.Details, key) {
			return nil
		}
	}
	return &ValidationError{Type: a.Type, Reason: "one of topic, details or issue is required"}
}

func (inquiryHandler) Priority(a ParsedAction) Priority {
	switch a.Type {
	case TypeComplaint:
		if strings.EqualFold(stringValue(a.Details["urgency"]), "high") {
			return PriorityHigh
		}
		return PriorityNormal
	case TypeCallback:
		if present(a.Details, "preferred_time") {
			return PriorityHigh
		}
	}
	if p, ok := parsePriority(stringValue(a.Details["priority"])); ok {
		return p
	}
	return PriorityNormal
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02.01.2006",
	"2.1.2006",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Monday, January 2, 2006",
}

func parseDate(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	switch strings.ToLower(raw) {
	case "today":
		return startOfDay(now), true
	case "tomorrow":
		return startOfDay(now).AddDate(0, 0, 1), true
	}
	loc := now.Location()
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
