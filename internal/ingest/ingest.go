// Package ingest implements the Ingestor (spec.md §4.E): a pure function
// that parses the append-only log.md back into a typed message stream with
// offsets. Grounded verbatim on
// original_source/src/gcc/ingestor.py's GCCIngestor.parse_log; Go's regexp
// has no lookahead, so the Python's re.split(r'\n(?=## \[...\])') is
// reimplemented via FindAllStringIndex over the header pattern plus manual
// slicing, which produces the identical section boundaries.
package ingest

import (
	"os"
	"regexp"
	"strings"

	"silexa/gcc/internal/message"
)

var headerPattern = regexp.MustCompile(`(?m)^## \[(\d{2}:\d{2})\]\s+(AI|Human|HUMAN)`)

// ParseLog splits path's content into header-delimited sections, skips the
// first startOffset sections, and emits Human or AI messages carrying the
// header timestamp and body. It never invents tool calls; tool outputs
// ingested from disk surface as AI text, since their live tool-call
// identity is lost once written (spec.md §4.E).
func ParseLog(path string, startOffset int) ([]message.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ParseContent(string(data), startOffset), nil
}

// ParseContent is the pure, filesystem-free core of ParseLog, kept separate
// so tests can exercise the splitting/offset logic directly.
func ParseContent(content string, startOffset int) []message.Message {
	sections := splitSections(content)
	if len(sections) > 0 && !headerPattern.MatchString(sections[0]) {
		sections = sections[1:]
	}
	if startOffset >= len(sections) {
		return nil
	}
	sections = sections[startOffset:]

	var out []message.Message
	for _, section := range sections {
		trimmed := strings.TrimSpace(section)
		if trimmed == "" {
			continue
		}
		loc := headerPattern.FindStringSubmatchIndex(trimmed)
		if loc == nil {
			continue
		}
		ts := trimmed[loc[2]:loc[3]]
		role := trimmed[loc[4]:loc[5]]

		body := strings.TrimSpace(headerPattern.ReplaceAllString(trimmed, ""))
		text := "[" + ts + "] " + body

		if role == "AI" {
			out = append(out, message.NewAI(text))
		} else {
			out = append(out, message.NewHuman(text))
		}
	}
	return out
}

// splitSections reproduces the Python original's
// re.split(r'\n(?=## \[\d{2}:\d{2}\])', content): split content at every
// newline immediately preceding a header, without consuming the header
// itself.
func splitSections(content string) []string {
	locs := headerPattern.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return []string{content}
	}

	var sections []string
	start := 0
	for i, loc := range locs {
		headerStart := loc[0]
		if i == 0 {
			if headerStart > 0 {
				sections = append(sections, content[start:headerStart])
			}
			start = headerStart
			continue
		}
		sections = append(sections, content[start:headerStart])
		start = headerStart
	}
	sections = append(sections, content[start:])
	return sections
}

// GetNewEntries returns only the entries not yet processed, delegating to
// ParseLog with start_offset=processedCount (spec.md §4.E).
func GetNewEntries(path string, processedCount int) ([]message.Message, error) {
	return ParseLog(path, processedCount)
}

// SectionCount returns the number of header-delimited sections currently on
// disk, used by the orchestrator to detect "new content since last sync"
// without re-parsing bodies (spec.md §4.E "New-section detection uses
// section count").
func SectionCount(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for _, s := range splitSections(string(data)) {
		if headerPattern.MatchString(s) {
			count++
		}
	}
	return count, nil
}
