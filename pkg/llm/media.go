package llm

import "fmt"

// MediaLimits are the spec's default media caps (§4.8): a total count
// across current+historical, a tighter cap on historical/context media
// specifically, and a videos-only cap.
type MediaLimits struct {
	MaxTotal      int // default 28
	MaxHistorical int // default 5
	MaxVideos     int // default 1
}

// DefaultMediaLimits returns the spec's defaults.
func DefaultMediaLimits() MediaLimits {
	return MediaLimits{MaxTotal: 28, MaxHistorical: 5, MaxVideos: 1}
}

// FilteredMedia is the outcome of ShapeMedia: the turns with unsupported
// or over-limit media parts replaced by placeholders, plus a log of what
// was filtered (for the one INFO log line per §8 scenario 7).
type FilteredMedia struct {
	Turns    []ConversationTurn
	Filtered []string // e.g. "audio/ogg" for each placeholder substitution
}

// ShapeMedia filters conversation turns by capability flags, then
// enforces the total/historical/video count ceilings, replacing
// dropped parts with text placeholders. priorVideoDescriptions maps a
// video's Ref (or FileURI) to a previously-recorded bot description of
// that video's content, used to enrich the placeholder for an
// over-limit historical video (spec.md §8 scenario 4).
func ShapeMedia(turnsIn []ConversationTurn, caps Capabilities, limits MediaLimits, priorVideoDescriptions map[string]string) FilteredMedia {
	var filteredLog []string

	byCapability := make([]ConversationTurn, len(turnsIn))
	for i, t := range turnsIn {
		parts := make([]Part, 0, len(t.Parts))
		for _, p := range t.Parts {
			if p.Media == "" {
				parts = append(parts, p)
				continue
			}
			if !capabilitySupports(caps, p.Media) {
				filteredLog = append(filteredLog, p.MIME)
				parts = append(parts, placeholderPart(p))
				continue
			}
			parts = append(parts, p)
		}
		byCapability[i] = ConversationTurn{Role: t.Role, Parts: parts}
	}

	out := enforceMediaLimits(byCapability, limits, priorVideoDescriptions)
	return FilteredMedia{Turns: out, Filtered: filteredLog}
}

func capabilitySupports(caps Capabilities, kind MediaKind) bool {
	switch kind {
	case MediaAudio:
		return caps.SupportsAudio
	case MediaVideo:
		return caps.SupportsInlineVideo
	default:
		return true
	}
}

func placeholderPart(p Part) Part {
	return Part{Text: fmt.Sprintf("[media: %s]", p.MIME)}
}

// enforceMediaLimits drops oldest-first over the total/historical/video
// ceilings, substituting the historical-video placeholder's text with a
// prior description when one is on record.
func enforceMediaLimits(turnsIn []ConversationTurn, limits MediaLimits, priorVideoDescriptions map[string]string) []ConversationTurn {
	type loc struct {
		turnIdx, partIdx int
		historical       bool
		kind             MediaKind
	}
	var mediaLocs []loc
	for ti, t := range turnsIn {
		for pi, p := range t.Parts {
			if p.Media != "" {
				mediaLocs = append(mediaLocs, loc{ti, pi, p.Historical, p.Media})
			}
		}
	}
	// Count newest-first so the ceilings keep the most recent media.
	for i, j := 0, len(mediaLocs)-1; i < j; i, j = i+1, j-1 {
		mediaLocs[i], mediaLocs[j] = mediaLocs[j], mediaLocs[i]
	}

	drop := make(map[[2]int]bool)

	videoCount := 0
	for _, l := range mediaLocs {
		if l.kind == MediaVideo {
			videoCount++
			if videoCount > limits.MaxVideos {
				drop[[2]int{l.turnIdx, l.partIdx}] = true
			}
		}
	}

	historicalCount := 0
	for _, l := range mediaLocs {
		if drop[[2]int{l.turnIdx, l.partIdx}] {
			continue
		}
		if l.historical {
			historicalCount++
			if historicalCount > limits.MaxHistorical {
				drop[[2]int{l.turnIdx, l.partIdx}] = true
			}
		}
	}

	total := 0
	for _, l := range mediaLocs {
		if drop[[2]int{l.turnIdx, l.partIdx}] {
			continue
		}
		total++
		if total > limits.MaxTotal {
			drop[[2]int{l.turnIdx, l.partIdx}] = true
		}
	}

	out := make([]ConversationTurn, len(turnsIn))
	for ti, t := range turnsIn {
		parts := make([]Part, len(t.Parts))
		for pi, p := range t.Parts {
			if drop[[2]int{ti, pi}] {
				parts[pi] = droppedPlaceholder(p, priorVideoDescriptions)
				continue
			}
			parts[pi] = p
		}
		out[ti] = ConversationTurn{Role: t.Role, Parts: parts}
	}
	return out
}

// droppedPlaceholder replaces an over-limit media part. For a video
// with a known prior description, it uses the spec's exact wording so
// the substituted text still carries the video's content forward.
func droppedPlaceholder(p Part, priorVideoDescriptions map[string]string) Part {
	if p.Media == MediaVideo {
		key := p.Ref
		if key == "" {
			key = p.FileURI
		}
		if desc, ok := priorVideoDescriptions[key]; ok && desc != "" {
			return Part{Text: fmt.Sprintf("[Previously about video]: %s", desc)}
		}
	}
	return placeholderPart(p)
}
