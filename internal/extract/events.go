package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Event is one narrative beat tying characters together in a chapter. These
// become nodes in the downstream graph.
type Event struct {
	Chapter      int      `json:"chapter"`
	Sentence     string   `json:"sentence"`
	Participants []string `json:"participants"`
	Dialogue     bool     `json:"dialogue"`
}

const maxSentenceLen = 400

var sentenceEnd = regexp.MustCompile(`[.!?]["']?\s+`)

// ExtractEvents walks a chapter sentence by sentence and records an event
// whenever two or more known characters appear together, or a character
// speaks (quoted dialogue). Sentences longer than maxSentenceLen are
// truncated in the event record, never in the source text.
func ExtractEvents(ch Chapter, characters []Character) []Event {
	if len(characters) == 0 {
		return nil
	}
	names := make([]string, len(characters))
	for i, c := range characters {
		names[i] = c.Name
	}

	var events []Event
	for _, sentence := range splitSentences(ch.Text) {
		participants := mentionedNames(sentence, names)
		dialogue := strings.ContainsAny(sentence, `"“”`)
		if len(participants) >= 2 || (dialogue && len(participants) >= 1) {
			events = append(events, Event{
				Chapter:      ch.Index,
				Sentence:     clip(sentence, maxSentenceLen),
				Participants: participants,
				Dialogue:     dialogue,
			})
		}
	}
	return events
}

func splitSentences(text string) []string {
	parts := sentenceEnd.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\n", " "))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mentionedNames(sentence string, names []string) []string {
	var found []string
	for _, name := range names {
		if strings.Contains(sentence, name) {
			found = append(found, name)
		}
	}
	return found
}

// clip truncates s to at most max bytes without splitting a rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
