package telegram

import (
	"strconv"
	"strings"
)

// MessageKey scopes a message id to its chat. Telegram numbers messages per
// chat, so a bare message_id is not unique for a sender.
func MessageKey(chatID, messageID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(messageID, 10)
}

// ReplyMessageID extracts the chat-local message id from a MessageKey. A bare
// numeric id is accepted as is.
func ReplyMessageID(key string) (int64, bool) {
	key = strings.TrimSpace(key)
	if i := strings.LastIndexByte(key, ':'); i >= 0 {
		key = key[i+1:]
	}
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
