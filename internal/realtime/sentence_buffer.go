package realtime

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

// SentenceBuffer accumulates streamed text and releases it one complete
// sentence at a time. A sentence is complete once its terminator is followed
// by whitespace.
type SentenceBuffer struct {
	buffer strings.Builder
	log    *slog.Logger
}

func NewSentenceBuffer(log *slog.Logger) *SentenceBuffer {
	if log == nil {
		log = slog.Default()
	}
	return &SentenceBuffer{log: log}
}

func (sb *SentenceBuffer) Add(delta string) []string {
	sb.buffer.WriteString(delta)
	text := sb.buffer.String()

	sentences, hasIncomplete := sb.segment(text)
	if len(sentences) == 0 {
		return nil
	}

	complete := sentences
	var rest string
	if hasIncomplete {
		complete = sentences[:len(sentences)-1]
		rest = sentences[len(sentences)-1]
		if endsWithSpace(text) {
			rest += " "
		}
	}
	if len(complete) == 0 {
		return nil
	}

	sb.buffer.Reset()
	sb.buffer.WriteString(rest)
	return complete
}

// Flush returns whatever text remains and empties the buffer.
func (sb *SentenceBuffer) Flush() string {
	text := strings.TrimSpace(sb.buffer.String())
	sb.buffer.Reset()
	return text
}

func (sb *SentenceBuffer) Pending() string {
	return sb.buffer.String()
}

func (sb *SentenceBuffer) segment(text string) ([]string, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, true
	}
	doc, err := prose.NewDocument(text,
		prose.WithTokenization(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		sb.log.Warn("sentence segmentation failed", "error", err)
		return nil, true
	}

	sentences := doc.Sentences()
	if len(sentences) == 0 {
		return nil, true
	}

	result := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if t := strings.TrimSpace(s.Text); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return nil, true
	}

	last := result[len(result)-1]
	hasIncomplete := !endsWithTerminator(last) || !endsWithSpace(text)
	return result, hasIncomplete
}

func endsWithTerminator(s string) bool {
	s = strings.TrimRight(s, " \t\n\r\"')”’")
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return last == '.' || last == '!' || last == '?'
}

func endsWithSpace(s string) bool {
	if s == "" {
		return false
	}
	return unicode.IsSpace(rune(s[len(s)-1]))
}
