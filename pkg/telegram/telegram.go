// Package telegram defines the inbound/outbound contract between the
// core pipeline and a chat-platform transport (spec.md §6.1). It is
// contract-only: no concrete Bot API client is implemented here, per
// the package's explicit out-of-scope boundary — the shapes below are
// what any transport adapter must produce and consume. Structurally
// these mirror the teacher's own remote-event structs (plain fields,
// a pointer for the optional one-deep reply, a Kind-tagged union for
// media) generalized away from Matrix/bridgev2 onto a chat-platform
// update.
package telegram

// EntityKind is the type of one typed span inside a message's text.
type EntityKind string

const (
	EntityMention     EntityKind = "mention"      // "@username"
	EntityTextMention  EntityKind = "text_mention" // mention by user id, no @username
	EntityCode        EntityKind = "code"
	EntityPre         EntityKind = "pre"
	EntityURL         EntityKind = "url"
)

// Entity is one typed span within a message's text, offsets in UTF-16
// code units as the wire format specifies.
type Entity struct {
	Kind   EntityKind
	Offset int
	Length int
	UserID int64  // set for text_mention
	URL    string // set for url-kind entities with a distinct display text
}

// MediaKind distinguishes the media reference kinds a message may carry.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaSticker   MediaKind = "sticker"
	MediaVoice     MediaKind = "voice"
	MediaAudio     MediaKind = "audio"
	MediaVideo     MediaKind = "video"
	MediaVideoNote MediaKind = "video_note"
	MediaAnimation MediaKind = "animation"
	MediaDocument  MediaKind = "document"
)

// Media is one typed media reference attached to a message.
type Media struct {
	Kind     MediaKind
	FileID   string // transport-specific file reference
	MIME     string // set for MediaDocument
	FileName string
}

// User is the sender of a message.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	IsBot     bool
}

// ChatType distinguishes a private one-on-one chat from a group context,
// the signal the trigger check's "(d) private chat" condition reads
// (spec.md §4.9 step 3).
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// Message is a structured chat update, recursive one level deep via
// ReplyTo (spec.md §6.1: "reply_to_message? (same shape, recursive
// one-deep)").
type Message struct {
	ChatID    int64
	ChatType  ChatType
	ThreadID  int64 // 0 if the chat has no topic/thread
	MessageID int64
	From      User
	Text      string
	Caption   string
	ReplyTo   *Message
	Entities  []Entity
	Media     []Media
	IsService bool // service update (join/leave/pin/etc), never a chat turn
}

// Reply is one outbound reply action: formatted text plus any media to
// attach, submitted to the transport's send action (spec.md §4.9 step 13).
type Reply struct {
	ChatID      int64
	ThreadID    int64
	Text        string // already through the markdown-to-platform formatting step
	Media       []Media
	ReplyToID   int64 // 0 if not replying to a specific message
}

// Sender is the narrow outbound capability the pipeline needs from a
// transport. A concrete adapter (not implemented here) satisfies this
// by calling the actual Bot API send methods.
type Sender interface {
	Send(reply Reply) error
}
