package pipeline

import (
	"github.com/gryagbot/gryag/pkg/llm"
	"github.com/gryagbot/gryag/pkg/telegram"
	"github.com/gryagbot/gryag/pkg/turns"
)

// mediaKindFromTelegram maps the platform's media taxonomy onto the
// turn log's narrower kind set (image | audio | video | document).
// Stickers and animations are stored as images: they are visually
// inline media with no audio track, the same shape the model consumes.
func mediaKindFromTelegram(k telegram.MediaKind) string {
	switch k {
	case telegram.MediaPhoto, telegram.MediaSticker, telegram.MediaAnimation:
		return "image"
	case telegram.MediaVoice, telegram.MediaAudio:
		return "audio"
	case telegram.MediaVideo, telegram.MediaVideoNote:
		return "video"
	default:
		return "document"
	}
}

func turnsMediaFromTelegram(media []telegram.Media) []turns.MediaPart {
	if len(media) == 0 {
		return nil
	}
	out := make([]turns.MediaPart, 0, len(media))
	for _, m := range media {
		out = append(out, turns.MediaPart{
			Kind: mediaKindFromTelegram(m.Kind),
			MIME: m.MIME,
			Ref:  m.FileID,
		})
	}
	return out
}

// turnFromMessage builds the raw turn row for an inbound message, step 2
// of the pipeline (persisted before trigger detection so a later failure
// never loses the user's message).
func turnFromMessage(msg telegram.Message, threadID int64) turns.Turn {
	var replyToID *int64
	if msg.ReplyTo != nil {
		id := msg.ReplyTo.MessageID
		replyToID = &id
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	return turns.Turn{
		ChatID:    msg.ChatID,
		ThreadID:  threadID,
		UserID:    msg.From.ID,
		Role:      turns.RoleUser,
		Text:      text,
		Media:     turnsMediaFromTelegram(msg.Media),
		ReplyToID: replyToID,
		MessageID: msg.MessageID,
	}
}

// llmMediaKind maps a persisted turn's media kind string back onto the
// LLM wire taxonomy. Unrecognised kinds degrade to MediaDocument rather
// than being dropped, so a schema drift never silently loses an attachment.
func llmMediaKind(kind string) llm.MediaKind {
	switch kind {
	case "image":
		return llm.MediaImage
	case "audio":
		return llm.MediaAudio
	case "video":
		return llm.MediaVideo
	case "file_uri":
		return llm.MediaFileURI
	default:
		return llm.MediaDocument
	}
}

func llmRoleFromTurn(r turns.Role) llm.Role {
	switch r {
	case turns.RoleModel:
		return llm.RoleModel
	case turns.RoleSystem:
		return llm.RoleSystem
	case turns.RoleTool:
		return llm.RoleTool
	default:
		return llm.RoleUser
	}
}

// conversationTurnsFromTurns converts the assembled turn log into the
// shape llm.Client.Generate submits to the backend. Historical is set on
// every part here: the current message's own turn is appended separately
// by the caller with Historical left false, so media-limit enforcement
// (§4.4's historical cap of 5 vs the current message's own cap) can tell
// them apart.
func conversationTurnsFromTurns(rows []turns.Turn) []llm.ConversationTurn {
	out := make([]llm.ConversationTurn, 0, len(rows))
	for _, t := range rows {
		var parts []llm.Part
		if t.Text != "" {
			parts = append(parts, llm.Part{Text: t.Text, Historical: true})
		}
		for _, m := range t.Media {
			parts = append(parts, llm.Part{
				Media:      llmMediaKind(m.Kind),
				MIME:       m.MIME,
				Ref:        m.Ref,
				Historical: true,
			})
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, llm.ConversationTurn{Role: llmRoleFromTurn(t.Role), Parts: parts})
	}
	return out
}
