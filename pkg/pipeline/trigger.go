package pipeline

import (
	"strings"

	"github.com/gryagbot/gryag/pkg/telegram"
)

// TriggerReason names which of the four step-3 conditions addressed the
// bot, for logging; the pipeline only cares about the boolean outcome.
type TriggerReason string

const (
	TriggerNone        TriggerReason = ""
	TriggerReplyToBot  TriggerReason = "reply_to_bot"
	TriggerMention     TriggerReason = "mention"
	TriggerKeyword     TriggerReason = "keyword"
	TriggerPrivateChat TriggerReason = "private_chat"
)

// detectTrigger implements spec.md §4.9 step 3: a message is addressed
// iff it replies to the bot's own message, a mention entity targets the
// bot, a configured keyword matches, or the chat is private. isPrivateChat
// is supplied by the caller, which derives it from msg.ChatType.
func detectTrigger(msg telegram.Message, botUserID int64, botUsername string, keywords []string, isPrivateChat bool) TriggerReason {
	if isPrivateChat {
		return TriggerPrivateChat
	}
	if msg.ReplyTo != nil && msg.ReplyTo.From.ID == botUserID && botUserID != 0 {
		return TriggerReplyToBot
	}
	for _, e := range msg.Entities {
		if !mentionsBot(e, msg.Text, botUserID, botUsername) {
			continue
		}
		return TriggerMention
	}
	if matchesKeyword(msg.Text, keywords) {
		return TriggerKeyword
	}
	return TriggerNone
}

func mentionsBot(e telegram.Entity, text string, botUserID int64, botUsername string) bool {
	switch e.Kind {
	case telegram.EntityTextMention:
		return e.UserID == botUserID && botUserID != 0
	case telegram.EntityMention:
		if botUsername == "" {
			return false
		}
		span := sliceUTF16Safe(text, e.Offset, e.Length)
		return strings.EqualFold(strings.TrimPrefix(span, "@"), botUsername)
	default:
		return false
	}
}

// sliceUTF16Safe extracts the entity span by rune index, tolerant of
// offsets past the end of text rather than panicking; Telegram reports
// entity offsets in UTF-16 code units, which for the common case of
// ASCII usernames coincides with a rune-index slice.
func sliceUTF16Safe(text string, offset, length int) string {
	runes := []rune(text)
	if offset < 0 || offset >= len(runes) {
		return ""
	}
	end := offset + length
	if end > len(runes) {
		end = len(runes)
	}
	return string(runes[offset:end])
}

func matchesKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
