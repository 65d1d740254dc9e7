package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatReplyAppliesMarkdownTags(t *testing.T) {
	out := FormatReply("this is **bold** and _italic_ and ||hidden||")
	require.Equal(t, "this is <b>bold</b> and <i>italic</i> and <tg-spoiler>hidden</tg-spoiler>", out)
}

func TestFormatReplyEscapesHTMLMetacharacters(t *testing.T) {
	out := FormatReply("a < b && b > c")
	require.Equal(t, "a &lt; b &amp;&amp; b &gt; c", out)
}

func TestFormatReplyProtectsMentionUnderscoresFromItalics(t *testing.T) {
	out := FormatReply("ask @some_user_name about it")
	require.Equal(t, "ask @some_user_name about it", out)
}

func TestFormatReplyProtectsMentionAlongsideRealEmphasis(t *testing.T) {
	out := FormatReply("@some_user_name said *hello*")
	require.Equal(t, "@some_user_name said <i>hello</i>", out)
}

func TestFormatReplyDoesNotTreatPlainDigitsAsPlaceholders(t *testing.T) {
	out := FormatReply("I have 5 dogs and @short_id said *hi*")
	require.Equal(t, "I have 5 dogs and @short_id said <i>hi</i>", out)
}

func TestTruncateExcerptAddsEllipsisOnlyWhenTruncated(t *testing.T) {
	require.Equal(t, "hello", truncateExcerpt("hello", 10))
	require.Equal(t, "hel…", truncateExcerpt("hello", 3))
	require.Equal(t, "hello", truncateExcerpt("hello", 0))
}

func TestReplyExcerptFormatsInlineSnippet(t *testing.T) {
	out := replyExcerpt("alice", "a fairly long message body", 10)
	require.Equal(t, "[↩︎ alice: a fairly l…]", out)
}

func TestLocalizedErrorReplyFallsBackToGenericApology(t *testing.T) {
	require.Equal(t, "Щось пішло не так, спробуй ще раз.", localizedErrorReply(""))
	require.Equal(t, "custom", localizedErrorReply("custom"))
}
