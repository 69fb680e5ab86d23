package telegram

import "strings"

var htmlEscapes = map[byte]string{
	'&': "&amp;",
	'<': "&lt;",
	'>': "&gt;",
}

// EscapeHTML makes plain text safe for parse_mode=HTML. Telegram rejects the
// whole message on an unbalanced tag, and model output is not trusted markup.
func EscapeHTML(text string) string {
	if !strings.ContainsAny(text, "&<>") {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + 8)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc, ok := htmlEscapes[ch]; ok {
			b.WriteString(esc)
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}
