package turns

import (
	"fmt"
	"strings"
)

// Metadata is the structured key-value block prepended to a turn's
// text stream, per §6's fixed field ordering.
type Metadata struct {
	ChatID          int64
	ThreadID        int64
	MessageID       int64
	UserID          int64
	Username        string
	Name            string
	ReplyToUserID   int64
	ReplyToUsername string
	ReplyToName     string
	ReplyToMessageID int64
}

// metaFields lists the keys in the fixed order the spec requires: the
// reliable identifier (chat/thread/message/user id) always precedes
// its ambiguous display-name counterpart.
var metaFields = []struct {
	key    string
	maxLen int
	get    func(Metadata) (string, bool)
}{
	{"chat_id", 120, func(m Metadata) (string, bool) { return fmt.Sprintf("%d", m.ChatID), true }},
	{"thread_id", 120, func(m Metadata) (string, bool) {
		if m.ThreadID == 0 {
			return "", false
		}
		return fmt.Sprintf("%d", m.ThreadID), true
	}},
	{"message_id", 120, func(m Metadata) (string, bool) { return fmt.Sprintf("%d", m.MessageID), true }},
	{"user_id", 120, func(m Metadata) (string, bool) { return fmt.Sprintf("%d", m.UserID), true }},
	{"username", 100, func(m Metadata) (string, bool) {
		if m.Username == "" {
			return "", false
		}
		return m.Username, true
	}},
	{"name", 100, func(m Metadata) (string, bool) {
		if m.Name == "" {
			return "", false
		}
		return m.Name, true
	}},
	{"reply_to_user_id", 120, func(m Metadata) (string, bool) {
		if m.ReplyToUserID == 0 {
			return "", false
		}
		return fmt.Sprintf("%d", m.ReplyToUserID), true
	}},
	{"reply_to_username", 100, func(m Metadata) (string, bool) {
		if m.ReplyToUsername == "" {
			return "", false
		}
		return m.ReplyToUsername, true
	}},
	{"reply_to_name", 100, func(m Metadata) (string, bool) {
		if m.ReplyToName == "" {
			return "", false
		}
		return m.ReplyToName, true
	}},
	{"reply_to_message_id", 120, func(m Metadata) (string, bool) {
		if m.ReplyToMessageID == 0 {
			return "", false
		}
		return fmt.Sprintf("%d", m.ReplyToMessageID), true
	}},
}

// FormatMetadata renders m as the fixed-order "[meta] key=\"v\" ..."
// block, truncating values to their field's max length and escaping
// embedded quotes, then prepends it to text.
func FormatMetadata(m Metadata, text string) string {
	var b strings.Builder
	b.WriteString("[meta]")
	for _, f := range metaFields {
		value, present := f.get(m)
		if !present {
			continue
		}
		value = truncate(value, f.maxLen)
		value = strings.ReplaceAll(value, `"`, `\"`)
		b.WriteString(" ")
		b.WriteString(f.key)
		b.WriteString(`="`)
		b.WriteString(value)
		b.WriteString(`"`)
	}
	b.WriteString(" ")
	b.WriteString(text)
	return b.String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
