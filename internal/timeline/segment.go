package timeline

import "strings"

// SegmentKind distinguishes prose lines from fenced code.
type SegmentKind int

const (
	SegmentProse SegmentKind = iota
	SegmentCode
)

// Segment is one span of agent output. Prose segments hold a single line in
// Content; code segments hold the block body and its Language.
type Segment struct {
	Kind     SegmentKind
	Language string
	Content  string
}

const (
	fence           = "```"
	defaultLanguage = "text"
)

type scanState int

const (
	inProse scanState = iota
	inCode
)

// SegmentOutput splits text into prose lines and fenced code blocks.
// An unterminated fence turns the rest of the input into code.
func SegmentOutput(text string) []Segment {
	lines := splitLines(text)

	var (
		segments []Segment
		state    = inProse
		language string
		body     []string
	)

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch state {
		case inProse:
			if strings.HasPrefix(trimmed, fence) {
				state = inCode
				language = fenceLanguage(trimmed)
				body = body[:0]
				continue
			}
			segments = append(segments, Segment{Kind: SegmentProse, Content: line})

		case inCode:
			if trimmed == fence {
				segments = append(segments, codeSegment(language, body))
				state = inProse
				continue
			}
			body = append(body, line)
		}
	}

	// end of input inside a fence keeps the body
	if state == inCode {
		segments = append(segments, codeSegment(language, body))
	}

	return segments
}

// splitLines treats a newline as a line terminator: "" has no lines, "\n"
// is one empty line and a final line needs no newline. The same text with
// or without its trailing newline gives the same lines, so a live buffer
// segments the same before and after a line is finished.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func codeSegment(language string, body []string) Segment {
	return Segment{
		Kind:     SegmentCode,
		Language: language,
		Content:  strings.Join(body, "\n"),
	}
}

// fenceLanguage returns the tag after an opening fence, or the default.
func fenceLanguage(line string) string {
	fields := strings.Fields(strings.TrimLeft(line, "`"))
	if len(fields) == 0 {
		return defaultLanguage
	}
	return fields[0]
}
