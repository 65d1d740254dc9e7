package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// mentionPattern protects @username spans from being re-interpreted as
// markdown emphasis by the bold/italic passes below (spec.md §4.9 step
// 12): a run of underscores inside "@some_user_name" must not be read
// as italic markers.
var mentionPattern = regexp.MustCompile(`@[A-Za-z0-9_]{5,32}`)

var (
	boldPattern    = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)
	italicPattern  = regexp.MustCompile(`\*(.+?)\*|_(.+?)_`)
	spoilerPattern = regexp.MustCompile(`\|\|(.+?)\|\|`)
	htmlEscaper    = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// placeholderOpen/Close bracket a shielded mention's index with Private
// Use Area code points (/): characters no user text or model
// output is expected to contain, and that the markdown/HTML passes below
// never touch, so a mention survives both transforms untouched.
const (
	placeholderOpen  = ""
	placeholderClose = ""
)

var placeholderMatch = regexp.MustCompile(placeholderOpen + `(\d+)` + placeholderClose)

// FormatReply applies the markdown-to-platform formatting step: bold/
// italic/spoiler markdown is translated to Telegram's HTML parse-mode
// tags, with @mentions shielded from being read as emphasis markers and
// the surrounding text escaped for HTML.
func FormatReply(text string) string {
	var placeholders []string
	shielded := mentionPattern.ReplaceAllStringFunc(text, func(m string) string {
		idx := len(placeholders)
		placeholders = append(placeholders, m)
		return placeholderOpen + strconv.Itoa(idx) + placeholderClose
	})

	escaped := htmlEscaper.Replace(shielded)

	bolded := boldPattern.ReplaceAllStringFunc(escaped, func(m string) string {
		return "<b>" + stripOuter(m, 2) + "</b>"
	})
	italicised := italicPattern.ReplaceAllStringFunc(bolded, func(m string) string {
		return "<i>" + stripOuter(m, 1) + "</i>"
	})
	spoilered := spoilerPattern.ReplaceAllStringFunc(italicised, func(m string) string {
		return "<tg-spoiler>" + stripOuter(m, 2) + "</tg-spoiler>"
	})

	return restoreMentions(spoilered, placeholders)
}

// stripOuter removes n characters from both ends of a matched delimiter
// run (e.g. "**text**" -> "text" for n=2).
func stripOuter(s string, n int) string {
	runes := []rune(s)
	if len(runes) < 2*n {
		return s
	}
	return string(runes[n : len(runes)-n])
}

func restoreMentions(s string, placeholders []string) string {
	return placeholderMatch.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholderMatch.FindStringSubmatch(m)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx < 0 || idx >= len(placeholders) {
			return m
		}
		return placeholders[idx]
	})
}

// localizedErrorReply renders the user-visible notice for a failed
// pipeline step, matching aierrors.UserMessages' register. A caller
// passing a kind-specific message takes precedence; an empty message
// falls back to a generic apology so a reply is always produced.
func localizedErrorReply(message string) string {
	if message == "" {
		return "Щось пішло не так, спробуй ще раз."
	}
	return message
}

func truncateExcerpt(text string, maxChars int) string {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + "…"
}

// replyExcerpt renders the inline "[↩︎ name: excerpt]" snippet spliced
// into the reply-context enrichment step (spec.md §4.9 step 7).
func replyExcerpt(name, text string, maxChars int) string {
	return fmt.Sprintf("[↩︎ %s: %s]", name, truncateExcerpt(text, maxChars))
}
