// Package reply extracts action and state tags from a model completion.
//
// Two non-nesting tag formats are recognized:
//
//	[ACTION:<type>]{json}[/ACTION]
//	[STATE]{json}[/STATE]
//
// Tag names are case-sensitive and bodies may span lines.
package reply

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/quailyquaily/deskmate/actions"
)

var (
	actionTagRE = regexp.MustCompile(`(?s)\[ACTION:(\w+)\](.*?)\[/ACTION\]`)
	stateTagRE  = regexp.MustCompile(`(?s)\[STATE\](.*?)\[/STATE\]`)
	spaceRE     = regexp.MustCompile(`\s+`)
)

const (
	TagAction = "action"
	TagState  = "state"
)

// DroppedTag is a tag whose body was not a JSON object. Its text is still
// removed from the clean text.
type DroppedTag struct {
	Kind  string
	Name  string
	Body  string
	Error string
}

type Parsed struct {
	Actions []actions.ParsedAction
	// State is nil when no usable state tag was found.
	State     map[string]any
	CleanText string
	Dropped   []DroppedTag
	// ExtraStates counts well-formed state tags after the first one.
	ExtraStates int
}

// Parse never fails. Bad tags are reported in Dropped.
func Parse(raw string) Parsed {
	out := Parsed{Actions: []actions.ParsedAction{}}

	for _, m := range actionTagRE.FindAllStringSubmatch(raw, -1) {
		name, body := m[1], m[2]
		details, err := decodeObject(body)
		if err != nil {
			out.Dropped = append(out.Dropped, DroppedTag{Kind: TagAction, Name: name, Body: body, Error: err.Error()})
			continue
		}
		out.Actions = append(out.Actions, actions.NewParsedAction(name, details))
	}

	for _, m := range stateTagRE.FindAllStringSubmatch(raw, -1) {
		body := m[1]
		state, err := decodeObject(body)
		if err != nil {
			out.Dropped = append(out.Dropped, DroppedTag{Kind: TagState, Body: body, Error: err.Error()})
			continue
		}
		if out.State != nil {
			out.ExtraStates++
			continue
		}
		out.State = state
	}

	clean := actionTagRE.ReplaceAllString(raw, "")
	clean = stateTagRE.ReplaceAllString(clean, "")
	out.CleanText = CollapseSpace(clean)
	return out
}

// CollapseSpace trims s and folds every whitespace run into one space.
func CollapseSpace(s string) string {
	return strings.TrimSpace(spaceRE.ReplaceAllString(s, " "))
}

type notObjectError struct{}

func (notObjectError) Error() string { return "tag body is not a json object" }

func decodeObject(body string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, notObjectError{}
	}
	return obj, nil
}
